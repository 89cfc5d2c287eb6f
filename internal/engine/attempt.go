package engine

import (
	"context"
	"slices"
	"time"

	"github.com/abhisek/adaptiq/internal/ability"
	"github.com/abhisek/adaptiq/internal/attempt"
	"github.com/abhisek/adaptiq/internal/itembank"
	"github.com/abhisek/adaptiq/internal/scoring"
	"github.com/abhisek/adaptiq/internal/stopping"
)

// Attempt is one test-taker's run through an assessment tool.
type Attempt struct {
	ID         string               `json:"id"`
	TakerID    string               `json:"taker_id"`
	ToolID     string               `json:"tool_id"`
	Filter     itembank.Filter      `json:"filter"`
	Status     attempt.Status       `json:"status"`
	Flagged    bool                 `json:"flagged"`
	FlagReason string               `json:"flag_reason,omitempty"`
	State      ability.State        `json:"state"`
	Responses  []attempt.Response   `json:"responses"`
	StopReason stopping.Reason      `json:"stop_reason,omitempty"`
	Report     *scoring.ScoreReport `json:"report,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// Clone returns a deep copy.
func (a Attempt) Clone() Attempt {
	a.State = a.State.Clone()
	a.Responses = slices.Clone(a.Responses)
	a.Filter.Categories = slices.Clone(a.Filter.Categories)
	if a.Report != nil {
		r := cloneReport(*a.Report)
		a.Report = &r
	}
	return a
}

func cloneReport(r scoring.ScoreReport) scoring.ScoreReport {
	r.Categories = slices.Clone(r.Categories)
	r.Trajectory = slices.Clone(r.Trajectory)
	return r
}

// ItemSource returns eligible items for an attempt.
type ItemSource interface {
	FetchEligibleItems(ctx context.Context, filter itembank.Filter, excluded []string) ([]itembank.Item, error)
}

// StateStore persists attempts. SaveAttemptState must store the state and
// the response atomically.
type StateStore interface {
	LoadAttemptState(ctx context.Context, attemptID string) (*Attempt, error)
	SaveAttemptState(ctx context.Context, attemptID string, state ability.State, resp attempt.Response) error
	CompleteAttempt(ctx context.Context, attemptID string, reason stopping.Reason, report scoring.ScoreReport) error
	AbandonAttempt(ctx context.Context, attemptID string) error
	FlagAttempt(ctx context.Context, attemptID, reason string) error
}

// Quarantine excludes an item from selection for every attempt.
type Quarantine interface {
	QuarantineItem(ctx context.Context, itemID, reason string) error
}
