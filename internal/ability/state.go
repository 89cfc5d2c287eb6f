package ability

import (
	"slices"

	"github.com/abhisek/adaptiq/internal/irt"
)

// Phase tells whether the estimate still comes from the fixed-step rule.
type Phase string

const (
	// PhaseFallback is used until the response pattern contains both a
	// positive and a non-perfect score; the likelihood has no finite
	// maximum before that.
	PhaseFallback Phase = "fallback"

	// PhaseEstimating means theta is the MLE or EAP estimate.
	PhaseEstimating Phase = "estimating"
)

// Observation is one scored response as seen by the estimator.
type Observation struct {
	ItemID string     `json:"item_id"`
	Params irt.Params `json:"params"`
	Score  float64    `json:"score"`
}

// State is an immutable snapshot of the ability estimate for one attempt.
// Values are produced by Estimator and never modified in place.
type State struct {
	Theta        float64       `json:"theta"`
	SE           float64       `json:"se"`
	Count        int           `json:"count"`
	Phase        Phase         `json:"phase"`
	Administered []string      `json:"administered"`
	Observations []Observation `json:"observations"`
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	s.Administered = slices.Clone(s.Administered)
	s.Observations = slices.Clone(s.Observations)
	return s
}

// HasAdministered reports whether the item was already used.
func (s State) HasAdministered(itemID string) bool {
	return slices.Contains(s.Administered, itemID)
}

// ConfidenceInterval returns theta ± z·SE.
func (s State) ConfidenceInterval(z float64) (lower, upper float64) {
	return s.Theta - z*s.SE, s.Theta + z*s.SE
}

// Params returns the parameters of all observed items in order.
func (s State) Params() []irt.Params {
	out := make([]irt.Params, len(s.Observations))
	for i, o := range s.Observations {
		out[i] = o.Params
	}
	return out
}

// mixed reports whether the pattern has a finite likelihood maximum.
func mixed(obs []Observation) bool {
	var hasPositive, hasNegative bool
	for _, o := range obs {
		if o.Score > 0 {
			hasPositive = true
		}
		if o.Score < 1 {
			hasNegative = true
		}
	}
	return hasPositive && hasNegative
}
