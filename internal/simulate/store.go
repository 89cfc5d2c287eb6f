package simulate

import (
	"context"

	"github.com/abhisek/adaptiq/internal/ability"
	"github.com/abhisek/adaptiq/internal/attempt"
	"github.com/abhisek/adaptiq/internal/engine"
	"github.com/abhisek/adaptiq/internal/scoring"
	"github.com/abhisek/adaptiq/internal/stopping"
)

// scratchStore accepts every write and keeps nothing. Simulated attempts
// live and die inside one engine and are never resumed.
type scratchStore struct{}

var _ engine.StateStore = scratchStore{}

func (scratchStore) LoadAttemptState(context.Context, string) (*engine.Attempt, error) {
	return nil, engine.ErrAttemptNotFound
}

func (scratchStore) SaveAttemptState(context.Context, string, ability.State, attempt.Response) error {
	return nil
}

func (scratchStore) CompleteAttempt(context.Context, string, stopping.Reason, scoring.ScoreReport) error {
	return nil
}

func (scratchStore) AbandonAttempt(context.Context, string) error { return nil }

func (scratchStore) FlagAttempt(context.Context, string, string) error { return nil }
