// Package engine runs a single adaptive attempt.
//
// An Engine owns the only mutable state of an attempt. It issues one item at
// a time, scores the answer, updates the ability estimate, persists the
// result and consults the stopping rule. Storage and item lookups happen
// outside the engine lock; a busy flag keeps a second request from
// interleaving with one that is waiting on I/O.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/abhisek/adaptiq/internal/ability"
	"github.com/abhisek/adaptiq/internal/attempt"
	"github.com/abhisek/adaptiq/internal/irt"
	"github.com/abhisek/adaptiq/internal/itembank"
	"github.com/abhisek/adaptiq/internal/scoring"
	"github.com/abhisek/adaptiq/internal/selector"
	"github.com/abhisek/adaptiq/internal/stopping"
)

// Engine drives one attempt. Safe for concurrent use; concurrent requests
// for the same attempt are rejected with ErrConcurrentRequest.
type Engine struct {
	cfg        Config
	est        ability.Estimator
	items      ItemSource
	store      StateStore
	quarantine Quarantine
	logger     *slog.Logger
	now        func() time.Time

	mu          sync.Mutex
	att         Attempt
	pending     *itembank.Item
	issuedAt    time.Time
	busy        bool
	quarantined map[string]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithQuarantine sets where malformed items are reported.
func WithQuarantine(q Quarantine) Option {
	return func(e *Engine) { e.quarantine = q }
}

// WithClock overrides time.Now, used for response times.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine for an attempt that was already created in the
// store. A zero ability state is replaced with the prior.
func New(cfg Config, att Attempt, items ItemSource, store StateStore, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if att.ID == "" {
		return nil, errors.New("attempt id is required")
	}
	if items == nil || store == nil {
		return nil, errors.New("item source and state store are required")
	}

	e := &Engine{
		cfg:         cfg,
		est:         ability.NewEstimator(cfg.Ability),
		items:       items,
		store:       store,
		logger:      slog.Default(),
		now:         time.Now,
		att:         att.Clone(),
		quarantined: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("attempt", att.ID)

	if e.att.Status == "" {
		e.att.Status = attempt.StatusCreated
	}
	if !e.att.Status.Valid() {
		return nil, fmt.Errorf("%w: attempt %s has unknown status %q", ErrDataIntegrity, att.ID, att.Status)
	}
	if e.att.State.Count == 0 && e.att.State.SE == 0 {
		e.att.State = e.est.Initialize()
	}
	if e.att.State.Count != len(e.att.Responses) {
		return nil, fmt.Errorf("%w: attempt %s has %d responses but state count %d",
			ErrDataIntegrity, att.ID, len(e.att.Responses), e.att.State.Count)
	}
	return e, nil
}

// Resume rebuilds an engine from the stored attempt. A pending item is never
// persisted, so a resumed attempt asks for the next item again.
func Resume(ctx context.Context, attemptID string, cfg Config, items ItemSource, store StateStore, opts ...Option) (*Engine, error) {
	att, err := store.LoadAttemptState(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("load attempt %s: %w", attemptID, err)
	}
	if att == nil {
		return nil, fmt.Errorf("load attempt %s: %w", attemptID, ErrAttemptNotFound)
	}
	return New(cfg, *att, items, store, opts...)
}

// ID returns the attempt id.
func (e *Engine) ID() string { return e.att.ID }

// NextItem selects and issues the next item. Exactly one item can be
// pending at a time.
func (e *Engine) NextItem(ctx context.Context) (itembank.Item, error) {
	e.mu.Lock()
	if err := e.checkActive(); err != nil {
		e.mu.Unlock()
		return itembank.Item{}, err
	}
	if e.busy || e.pending != nil {
		e.mu.Unlock()
		return itembank.Item{}, ErrConcurrentRequest
	}
	if e.att.StopReason.Stopped() {
		reason := e.att.StopReason
		e.mu.Unlock()
		return itembank.Item{}, stoppedError(reason)
	}
	if reason := stopping.Decide(e.att.State, e.cfg.Stopping, false); reason.Stopped() {
		e.att.StopReason = reason
		e.mu.Unlock()
		return itembank.Item{}, stoppedError(reason)
	}

	e.busy = true
	state := e.att.State.Clone()
	filter := e.att.Filter
	excluded := slices.Clone(state.Administered)
	for id := range e.quarantined {
		excluded = append(excluded, id)
	}
	given := selector.Given(attempt.Categories(e.att.Responses))
	e.mu.Unlock()

	pool, err := e.items.FetchEligibleItems(ctx, filter, excluded)
	if err != nil {
		e.release()
		return itembank.Item{}, fmt.Errorf("fetch eligible items: %w", err)
	}

	valid := make([]itembank.Item, 0, len(pool))
	var rejected []string
	for _, it := range pool {
		if err := it.Params.Validate(); err != nil {
			e.reportIntegrity(ctx, it.ID, err)
			rejected = append(rejected, it.ID)
			continue
		}
		valid = append(valid, it)
	}
	var next *itembank.Item
	if selector.Remaining(state, given, valid, e.cfg.Constraints) > 0 {
		next = selector.SelectNext(state, given, valid, e.cfg.Constraints)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.busy = false

	// An exhaustion caused by malformed items is not a real stop: the
	// attempt stays open so it can continue once the bank is repaired.
	if next == nil && len(rejected) > 0 {
		return itembank.Item{}, fmt.Errorf("%w: no usable item left after rejecting %v", ErrDataIntegrity, rejected)
	}
	if next == nil {
		reason := stopping.Decide(state, e.cfg.Stopping, true)
		e.att.StopReason = reason
		e.logger.Info("item pool exhausted", "items", state.Count)
		return itembank.Item{}, stoppedError(reason)
	}

	e.pending = next
	e.issuedAt = e.now()
	if e.att.Status == attempt.StatusCreated {
		e.att.Status = attempt.StatusInProgress
	}
	e.logger.Debug("item issued", "item", next.ID, "theta", state.Theta, "information", irt.Information(state.Theta, next.Params))
	return *next, nil
}

// SubmitOption sets optional details of a response.
type SubmitOption func(*attempt.Response)

// WithHints records how many hints the taker used on the item.
func WithHints(n int) SubmitOption {
	return func(r *attempt.Response) { r.HintsUsed = n }
}

// SubmitResponse scores the answer to the pending item, updates the ability
// estimate and persists both atomically. If persisting fails the engine is
// left unchanged and the item stays pending.
func (e *Engine) SubmitResponse(ctx context.Context, itemID string, answer []string, opts ...SubmitOption) (ability.State, error) {
	var extra attempt.Response
	for _, opt := range opts {
		opt(&extra)
	}
	if extra.HintsUsed < 0 {
		return ability.State{}, fmt.Errorf("%w: negative hint count %d", itembank.ErrInvalidAnswer, extra.HintsUsed)
	}

	e.mu.Lock()
	if err := e.checkActive(); err != nil {
		e.mu.Unlock()
		return ability.State{}, err
	}
	if e.busy {
		e.mu.Unlock()
		return ability.State{}, ErrConcurrentRequest
	}
	if e.pending == nil || e.pending.ID != itemID {
		e.mu.Unlock()
		return ability.State{}, fmt.Errorf("%w: %q", ErrInvalidItem, itemID)
	}
	e.busy = true
	item := *e.pending
	state := e.att.State.Clone()
	seq := len(e.att.Responses) + 1
	issuedAt := e.issuedAt
	e.mu.Unlock()

	score, err := item.Score(answer)
	if errors.Is(err, itembank.ErrInvalidAnswer) {
		e.release()
		return ability.State{}, err
	}
	if err != nil {
		return ability.State{}, e.rejectItem(ctx, item.ID, err)
	}

	next, err := e.est.Update(state, item.ID, item.Params, score)
	if err != nil {
		return ability.State{}, e.rejectItem(ctx, item.ID, err)
	}

	now := e.now()
	maxPoints := item.MaxPoints()
	resp := attempt.Response{
		Sequence:      seq,
		ItemID:        item.ID,
		Category:      item.Category,
		Params:        item.Params,
		Answer:        slices.Clone(answer),
		Score:         score,
		Correct:       score == 1,
		ResponseTime:  now.Sub(issuedAt),
		ThetaAfter:    next.Theta,
		SEAfter:       next.SE,
		AnsweredAt:    now,
		HintsUsed:     extra.HintsUsed,
		BasePoints:    score * maxPoints,
		MaxBasePoints: maxPoints,
	}
	if err := e.store.SaveAttemptState(ctx, e.att.ID, next, resp); err != nil {
		e.release()
		return ability.State{}, fmt.Errorf("save attempt state: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.att.State = next
	e.att.Responses = append(e.att.Responses, resp)
	e.att.Status = attempt.StatusInProgress
	e.att.UpdatedAt = now
	e.pending = nil
	e.busy = false

	if reason := stopping.Decide(next, e.cfg.Stopping, false); reason.Stopped() {
		e.att.StopReason = reason
		e.logger.Info("stopping rule fired", "reason", reason, "theta", next.Theta, "se", next.SE, "items", next.Count)
	}
	e.logger.Debug("response recorded", "item", item.ID, "score", score, "theta", next.Theta, "se", next.SE)
	return next.Clone(), nil
}

// State returns a copy of the current ability estimate.
func (e *Engine) State() ability.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.att.State.Clone()
}

// StopReason returns the reason the attempt stopped, if it has.
func (e *Engine) StopReason() stopping.Reason {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.att.StopReason
}

// Status returns the lifecycle state.
func (e *Engine) Status() attempt.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.att.Status
}

// Attempt returns a copy of the attempt record.
func (e *Engine) Attempt() Attempt {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.att.Clone()
}

// Pending returns the issued item awaiting a response.
func (e *Engine) Pending() (itembank.Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return itembank.Item{}, false
	}
	return *e.pending, true
}

// Finalize completes the attempt and returns its report. Later calls return
// the same report without recomputing it.
func (e *Engine) Finalize(ctx context.Context) (scoring.ScoreReport, error) {
	e.mu.Lock()
	switch {
	case e.att.Status == attempt.StatusAbandoned:
		e.mu.Unlock()
		return scoring.ScoreReport{}, ErrAbandoned
	case e.att.Status == attempt.StatusCompleted && e.att.Report != nil:
		r := cloneReport(*e.att.Report)
		e.mu.Unlock()
		return r, nil
	case e.busy:
		e.mu.Unlock()
		return scoring.ScoreReport{}, ErrConcurrentRequest
	}

	reason := e.att.StopReason
	if !reason.Stopped() {
		reason = stopping.Decide(e.att.State, e.cfg.Stopping, false)
	}
	if !reason.Stopped() {
		e.mu.Unlock()
		return scoring.ScoreReport{}, ErrNotStopped
	}
	if len(e.att.Responses) == 0 {
		e.mu.Unlock()
		return scoring.ScoreReport{}, ErrNoResponses
	}
	report := scoring.Compute(e.att.ID, e.att.State, e.att.Responses, reason)
	e.busy = true
	e.mu.Unlock()

	if err := e.store.CompleteAttempt(ctx, e.att.ID, reason, report); err != nil {
		e.release()
		return scoring.ScoreReport{}, fmt.Errorf("complete attempt: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.att.Status = attempt.StatusCompleted
	e.att.StopReason = reason
	e.att.Report = &report
	e.att.UpdatedAt = e.now()
	e.pending = nil
	e.busy = false
	e.logger.Info("attempt completed", "reason", reason, "theta", report.Theta, "se", report.SE, "items", report.TotalItems)
	return cloneReport(report), nil
}

// Abandon cancels the attempt without scoring it. Abandoning twice is a no-op.
func (e *Engine) Abandon(ctx context.Context) error {
	e.mu.Lock()
	switch {
	case e.att.Status == attempt.StatusCompleted:
		e.mu.Unlock()
		return ErrAlreadyCompleted
	case e.att.Status == attempt.StatusAbandoned:
		e.mu.Unlock()
		return nil
	case e.busy:
		e.mu.Unlock()
		return ErrConcurrentRequest
	}
	e.busy = true
	e.mu.Unlock()

	if err := e.store.AbandonAttempt(ctx, e.att.ID); err != nil {
		e.release()
		return fmt.Errorf("abandon attempt: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.att.Status = attempt.StatusAbandoned
	e.att.UpdatedAt = e.now()
	e.pending = nil
	e.busy = false
	e.logger.Info("attempt abandoned", "items", e.att.State.Count)
	return nil
}

// checkActive must be called with mu held.
func (e *Engine) checkActive() error {
	switch e.att.Status {
	case attempt.StatusCompleted:
		return ErrAlreadyCompleted
	case attempt.StatusAbandoned:
		return ErrAbandoned
	}
	return nil
}

func (e *Engine) release() {
	e.mu.Lock()
	e.busy = false
	e.mu.Unlock()
}

// rejectItem handles an issued item whose data turned out to be unusable:
// the item is quarantined, the attempt flagged and nothing is recorded.
func (e *Engine) rejectItem(ctx context.Context, itemID string, cause error) error {
	e.reportIntegrity(ctx, itemID, cause)

	e.mu.Lock()
	e.pending = nil
	e.busy = false
	e.mu.Unlock()
	return fmt.Errorf("%w: item %s: %w", ErrDataIntegrity, itemID, cause)
}

// reportIntegrity quarantines the item and flags the attempt. Failures are
// logged only; the caller already has an error to surface.
func (e *Engine) reportIntegrity(ctx context.Context, itemID string, cause error) {
	reason := fmt.Sprintf("item %s: %v", itemID, cause)
	e.logger.Warn("malformed item", "item", itemID, "error", cause)

	if e.quarantine != nil {
		if err := e.quarantine.QuarantineItem(ctx, itemID, cause.Error()); err != nil {
			e.logger.Error("quarantine item failed", "item", itemID, "error", err)
		}
	}
	if err := e.store.FlagAttempt(ctx, e.att.ID, reason); err != nil {
		e.logger.Error("flag attempt failed", "error", err)
	}

	e.mu.Lock()
	e.quarantined[itemID] = true
	e.att.Flagged = true
	e.att.FlagReason = reason
	e.mu.Unlock()
}

func stoppedError(reason stopping.Reason) error {
	if reason == stopping.PoolExhausted {
		return &StoppedError{Reason: reason, Err: ErrPoolExhausted}
	}
	return &StoppedError{Reason: reason}
}
