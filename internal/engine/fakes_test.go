package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/abhisek/adaptiq/internal/ability"
	"github.com/abhisek/adaptiq/internal/attempt"
	"github.com/abhisek/adaptiq/internal/irt"
	"github.com/abhisek/adaptiq/internal/itembank"
	"github.com/abhisek/adaptiq/internal/scoring"
	"github.com/abhisek/adaptiq/internal/stopping"
)

// memStore is an in-memory StateStore.
type memStore struct {
	mu          sync.Mutex
	attempts    map[string]*Attempt
	saveErr     error
	saves       int
	completions int
	flags       []string
}

func newMemStore(ids ...string) *memStore {
	s := &memStore{attempts: make(map[string]*Attempt)}
	for _, id := range ids {
		s.attempts[id] = &Attempt{ID: id, ToolID: "tool", Status: attempt.StatusCreated}
	}
	return s
}

func (s *memStore) LoadAttemptState(_ context.Context, id string) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	out := a.Clone()
	return &out, nil
}

func (s *memStore) SaveAttemptState(_ context.Context, id string, state ability.State, resp attempt.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	a, ok := s.attempts[id]
	if !ok {
		return ErrAttemptNotFound
	}
	s.saves++
	a.State = state.Clone()
	a.Responses = append(a.Responses, resp)
	a.Status = attempt.StatusInProgress
	return nil
}

func (s *memStore) CompleteAttempt(_ context.Context, id string, reason stopping.Reason, report scoring.ScoreReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.attempts[id]
	s.completions++
	a.Status = attempt.StatusCompleted
	a.StopReason = reason
	a.Report = &report
	return nil
}

func (s *memStore) AbandonAttempt(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[id].Status = attempt.StatusAbandoned
	return nil
}

func (s *memStore) FlagAttempt(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[id].Flagged = true
	s.flags = append(s.flags, reason)
	return nil
}

type memQuarantine struct {
	mu    sync.Mutex
	items map[string]string
	bank  *itembank.MemoryBank
}

func (q *memQuarantine) QuarantineItem(_ context.Context, itemID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items == nil {
		q.items = make(map[string]string)
	}
	q.items[itemID] = reason
	if q.bank != nil {
		q.bank.Remove(itemID)
	}
	return nil
}

// blockingSource parks FetchEligibleItems until release is closed.
type blockingSource struct {
	inner   ItemSource
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSource) FetchEligibleItems(ctx context.Context, f itembank.Filter, excluded []string) ([]itembank.Item, error) {
	close(b.entered)
	<-b.release
	return b.inner.FetchEligibleItems(ctx, f, excluded)
}

// graded returns a single-choice item whose key is "a".
func graded(id string, b float64) itembank.Item {
	return itembank.Item{
		ID:       id,
		ToolID:   "tool",
		Category: "general",
		Type:     itembank.SingleChoice,
		Params:   irt.Params{A: 1, B: b},
		Options:  []itembank.Option{{ID: "a"}, {ID: "b"}},
		Key:      []string{"a"},
	}
}

func answer(correct bool) []string {
	if correct {
		return []string{"a"}
	}
	return []string{"b"}
}

func difficultyPool(bs ...float64) []itembank.Item {
	items := make([]itembank.Item, len(bs))
	for i, b := range bs {
		items[i] = graded(fmt.Sprintf("item-%d", i+1), b)
	}
	return items
}
