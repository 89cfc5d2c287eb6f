// Package ability maintains the running ability estimate of a test-taker.
//
// Estimates are immutable State values. Update returns a new State and never
// touches its input, so callers can keep older snapshots around safely.
package ability

import (
	"errors"
	"fmt"
	"math"

	"github.com/abhisek/adaptiq/internal/irt"
)

// MinSE is the smallest standard error ever reported.
const MinSE = 1e-6

var (
	// ErrInvalidScore indicates a score outside [0, 1].
	ErrInvalidScore = errors.New("score must be in [0, 1]")

	// ErrDuplicateItem indicates an item that was already administered.
	ErrDuplicateItem = errors.New("item already administered")
)

// Method selects the estimation procedure used once the pattern is mixed.
type Method string

const (
	MethodMLE Method = "mle"
	MethodEAP Method = "eap"
)

// Config holds estimator settings.
type Config struct {
	Method Method

	// InitialTheta is the prior ability (population mean).
	InitialTheta float64

	// InitialSE is the prior uncertainty. The reported SE never exceeds it.
	InitialSE float64

	// FallbackStep is the fixed theta adjustment applied while the
	// response pattern is all-correct or all-incorrect.
	FallbackStep float64

	ThetaMin float64
	ThetaMax float64

	// MaxIterations caps Newton-Raphson iterations. Non-convergence falls
	// back to the fixed-step rule.
	MaxIterations int

	// Tolerance is the convergence threshold on |Δθ|.
	Tolerance float64

	// MaxStep damps a single Newton step.
	MaxStep float64

	// QuadraturePoints is the EAP grid size.
	QuadraturePoints int
}

// DefaultConfig returns the estimator defaults.
func DefaultConfig() Config {
	return Config{
		Method:           MethodMLE,
		InitialTheta:     0,
		InitialSE:        1.0,
		FallbackStep:     0.5,
		ThetaMin:         -4,
		ThetaMax:         4,
		MaxIterations:    50,
		Tolerance:        1e-6,
		MaxStep:          1.0,
		QuadraturePoints: 61,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.Method != MethodMLE && c.Method != MethodEAP:
		return fmt.Errorf("unknown estimation method %q", c.Method)
	case c.InitialSE <= 0:
		return fmt.Errorf("initial SE must be > 0, got %v", c.InitialSE)
	case c.FallbackStep <= 0:
		return fmt.Errorf("fallback step must be > 0, got %v", c.FallbackStep)
	case c.ThetaMin >= c.ThetaMax:
		return fmt.Errorf("theta range [%v, %v] is empty", c.ThetaMin, c.ThetaMax)
	case c.InitialTheta < c.ThetaMin || c.InitialTheta > c.ThetaMax:
		return fmt.Errorf("initial theta %v outside [%v, %v]", c.InitialTheta, c.ThetaMin, c.ThetaMax)
	case c.MaxIterations < 1:
		return fmt.Errorf("max iterations must be >= 1, got %d", c.MaxIterations)
	case c.Tolerance <= 0 || c.MaxStep <= 0:
		return fmt.Errorf("tolerance and max step must be > 0")
	case c.Method == MethodEAP && c.QuadraturePoints < 3:
		return fmt.Errorf("EAP needs at least 3 quadrature points, got %d", c.QuadraturePoints)
	}
	return nil
}

// Estimator applies IRT updates to ability states.
type Estimator struct {
	cfg Config
}

// NewEstimator creates an estimator. The config must be valid.
func NewEstimator(cfg Config) Estimator {
	return Estimator{cfg: cfg}
}

// Config returns the estimator configuration.
func (e Estimator) Config() Config {
	return e.cfg
}

// Initialize returns the prior state.
func (e Estimator) Initialize() State {
	return State{
		Theta: e.cfg.InitialTheta,
		SE:    e.cfg.InitialSE,
		Phase: PhaseFallback,
	}
}

// Update returns the state after observing score on the item.
// The input state is never modified; on error it is returned unchanged.
func (e Estimator) Update(s State, itemID string, p irt.Params, score float64) (State, error) {
	if err := p.Validate(); err != nil {
		return s, fmt.Errorf("item %s: %w", itemID, err)
	}
	if math.IsNaN(score) || score < 0 || score > 1 {
		return s, fmt.Errorf("item %s: %w (got %v)", itemID, ErrInvalidScore, score)
	}
	if s.HasAdministered(itemID) {
		return s, fmt.Errorf("item %s: %w", itemID, ErrDuplicateItem)
	}

	next := s.Clone()
	next.Administered = append(next.Administered, itemID)
	next.Observations = append(next.Observations, Observation{ItemID: itemID, Params: p, Score: score})
	next.Count++

	if !mixed(next.Observations) {
		next.Phase = PhaseFallback
		next.Theta = e.fixedStep(next.Observations, s.Theta)
		next.SE = e.standardError(next.Theta, next.Observations)
		return next, nil
	}

	next.Phase = PhaseEstimating
	switch e.cfg.Method {
	case MethodEAP:
		next.Theta, next.SE = e.eap(next.Observations)
	default:
		theta, ok := e.mle(next.Observations, s.Theta)
		if !ok {
			theta = e.fixedStep(next.Observations, s.Theta)
		}
		next.Theta = theta
		next.SE = e.standardError(theta, next.Observations)
	}
	return next, nil
}

// fixedStep moves theta by FallbackStep in the direction the observations
// pull at the current estimate.
func (e Estimator) fixedStep(obs []Observation, theta float64) float64 {
	var slope float64
	for _, o := range obs {
		d1, _ := irt.Derivatives(theta, o.Params, o.Score)
		slope += d1
	}
	switch {
	case slope > 0:
		theta += e.cfg.FallbackStep
	case slope < 0:
		theta -= e.cfg.FallbackStep
	}
	return e.clampTheta(theta)
}

// mle maximizes the likelihood with Fisher scoring. It reports false when
// the iteration cap is hit or the result is not finite.
func (e Estimator) mle(obs []Observation, start float64) (float64, bool) {
	theta := e.clampTheta(start)
	for range e.cfg.MaxIterations {
		var d1, d2 float64
		for _, o := range obs {
			g, h := irt.Derivatives(theta, o.Params, o.Score)
			d1 += g
			d2 += h
		}
		if d2 >= 0 || math.IsNaN(d1) || math.IsNaN(d2) {
			return 0, false
		}

		step := -d1 / d2
		step = math.Max(-e.cfg.MaxStep, math.Min(e.cfg.MaxStep, step))

		// Maximum lies beyond the reporting range.
		if (theta >= e.cfg.ThetaMax && step > 0) || (theta <= e.cfg.ThetaMin && step < 0) {
			return theta, true
		}

		theta = e.clampTheta(theta + step)
		if math.IsNaN(theta) || math.IsInf(theta, 0) {
			return 0, false
		}
		if math.Abs(step) < e.cfg.Tolerance {
			return theta, true
		}
	}
	return 0, false
}

// eap returns the posterior mean and standard deviation over a fixed grid
// with a normal prior.
func (e Estimator) eap(obs []Observation) (theta, se float64) {
	n := e.cfg.QuadraturePoints
	width := (e.cfg.ThetaMax - e.cfg.ThetaMin) / float64(n-1)

	nodes := make([]float64, n)
	logW := make([]float64, n)
	maxLog := math.Inf(-1)
	for k := range n {
		x := e.cfg.ThetaMin + float64(k)*width
		z := (x - e.cfg.InitialTheta) / e.cfg.InitialSE
		lw := -0.5 * z * z
		for _, o := range obs {
			lw += irt.LogLikelihood(x, o.Params, o.Score)
		}
		nodes[k] = x
		logW[k] = lw
		maxLog = math.Max(maxLog, lw)
	}

	var sum, mean float64
	weights := make([]float64, n)
	for k := range n {
		weights[k] = math.Exp(logW[k] - maxLog)
		sum += weights[k]
		mean += weights[k] * nodes[k]
	}
	mean /= sum

	var variance float64
	for k := range n {
		d := nodes[k] - mean
		variance += weights[k] * d * d
	}
	variance /= sum

	return mean, math.Max(math.Sqrt(variance), MinSE)
}

// standardError combines the prior precision with the test information at theta.
func (e Estimator) standardError(theta float64, obs []Observation) float64 {
	params := make([]irt.Params, len(obs))
	for i, o := range obs {
		params[i] = o.Params
	}
	info := 1/(e.cfg.InitialSE*e.cfg.InitialSE) + irt.TotalInformation(theta, params)
	se := 1 / math.Sqrt(info)
	if math.IsNaN(se) {
		return e.cfg.InitialSE
	}
	return math.Max(se, MinSE)
}

func (e Estimator) clampTheta(theta float64) float64 {
	return math.Max(e.cfg.ThetaMin, math.Min(e.cfg.ThetaMax, theta))
}
