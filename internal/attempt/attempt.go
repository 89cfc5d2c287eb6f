// Package attempt holds the records shared by the engine, the scorer and
// the store: attempt status and the immutable response log.
package attempt

import (
	"time"

	"github.com/abhisek/adaptiq/internal/irt"
)

// Status is the lifecycle state of an attempt.
type Status string

const (
	StatusCreated    Status = "created"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
)

// Terminal reports whether the attempt can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Open reports whether the attempt blocks a new one for the same taker and tool.
func (s Status) Open() bool {
	return s == StatusCreated || s == StatusInProgress
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusInProgress, StatusCompleted, StatusAbandoned:
		return true
	}
	return false
}

// Response records one administered item. Params are frozen at
// administration time.
type Response struct {
	Sequence     int           `json:"sequence"`
	ItemID       string        `json:"item_id"`
	Category     string        `json:"category"`
	Params       irt.Params    `json:"params"`
	Answer       []string      `json:"answer"`
	Score        float64       `json:"score"`
	Correct      bool          `json:"correct"`
	ResponseTime time.Duration `json:"response_time"`
	ThetaAfter   float64       `json:"theta_after"`
	SEAfter      float64       `json:"se_after"`
	AnsweredAt   time.Time     `json:"answered_at"`

	// HintsUsed is reported by the client. BasePoints is Score times
	// MaxBasePoints, before hint penalties and bonuses.
	HintsUsed     int     `json:"hints_used"`
	BasePoints    float64 `json:"base_points"`
	MaxBasePoints float64 `json:"max_base_points"`
}

// Categories counts responses per category.
func Categories(responses []Response) map[string]int {
	out := make(map[string]int)
	for _, r := range responses {
		out[r.Category]++
	}
	return out
}
