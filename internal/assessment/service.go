// Package assessment hosts adaptive attempts for many takers. It keeps one
// live engine per open attempt and rebuilds engines from the store on demand.
package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/abhisek/adaptiq/internal/ability"
	"github.com/abhisek/adaptiq/internal/coach"
	"github.com/abhisek/adaptiq/internal/engine"
	"github.com/abhisek/adaptiq/internal/itembank"
	"github.com/abhisek/adaptiq/internal/scoring"
)

const tracerName = "github.com/abhisek/adaptiq/internal/assessment"

// ErrInvalidRequest reports missing taker or tool ids.
var ErrInvalidRequest = errors.New("taker id and tool id are required")

// Store persists attempts.
type Store interface {
	engine.StateStore
	CreateAttempt(ctx context.Context, takerID string, filter itembank.Filter) (*engine.Attempt, error)
}

// Result is the outcome of a finalized attempt.
type Result struct {
	Report scoring.ScoreReport `json:"report"`
	Plan   *coach.Plan         `json:"plan,omitempty"`
}

// Service runs attempts. Safe for concurrent use.
type Service struct {
	cfg        engine.Config
	items      engine.ItemSource
	store      Store
	quarantine engine.Quarantine
	coach      *coach.Coach
	logger     *slog.Logger
	tracer     trace.Tracer

	mu     sync.Mutex
	live   map[string]*engine.Engine
	loads  singleflight.Group
	engOpt []engine.Option
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithQuarantine sets where engines report malformed items.
func WithQuarantine(q engine.Quarantine) Option {
	return func(s *Service) { s.quarantine = q }
}

// WithCoach attaches study plans to finalized attempts.
func WithCoach(c *coach.Coach) Option {
	return func(s *Service) { s.coach = c }
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(tracerName) }
}

// WithEngineOptions passes extra options to every engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(s *Service) { s.engOpt = append(s.engOpt, opts...) }
}

// NewService creates a Service.
func NewService(cfg engine.Config, items engine.ItemSource, store Store, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	s := &Service{
		cfg:    cfg,
		items:  items,
		store:  store,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		live:   make(map[string]*engine.Engine),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start creates an attempt for the taker on filter.ToolID. A taker can have
// only one open attempt per tool.
func (s *Service) Start(ctx context.Context, takerID string, filter itembank.Filter) (att engine.Attempt, err error) {
	ctx, span := s.tracer.Start(ctx, "assessment.Start", trace.WithAttributes(
		attribute.String("taker.id", takerID),
		attribute.String("tool.id", filter.ToolID),
	))
	defer func() { endSpan(span, err) }()

	if takerID == "" || filter.ToolID == "" {
		return engine.Attempt{}, ErrInvalidRequest
	}

	created, err := s.store.CreateAttempt(ctx, takerID, filter)
	if err != nil {
		return engine.Attempt{}, err
	}
	span.SetAttributes(attribute.String("attempt.id", created.ID))

	eng, err := engine.New(s.cfg, *created, s.items, s.store, s.engineOptions()...)
	if err != nil {
		return engine.Attempt{}, err
	}
	s.mu.Lock()
	s.live[created.ID] = eng
	s.mu.Unlock()

	s.logger.Info("attempt started", "attempt", created.ID, "taker", takerID, "tool", filter.ToolID)
	return eng.Attempt(), nil
}

// Attempt returns a snapshot of the attempt.
func (s *Service) Attempt(ctx context.Context, attemptID string) (att engine.Attempt, err error) {
	ctx, span := s.start(ctx, "assessment.Attempt", attemptID)
	defer func() { endSpan(span, err) }()

	eng, err := s.engine(ctx, attemptID)
	if err != nil {
		return engine.Attempt{}, err
	}
	return eng.Attempt(), nil
}

// Next issues the next item of the attempt. When the attempt has stopped
// the error is a *engine.StoppedError carrying the reason.
func (s *Service) Next(ctx context.Context, attemptID string) (item itembank.Item, err error) {
	ctx, span := s.start(ctx, "assessment.Next", attemptID)
	defer func() { endSpan(span, err) }()

	eng, err := s.engine(ctx, attemptID)
	if err != nil {
		return itembank.Item{}, err
	}
	item, err = eng.NextItem(ctx)
	if err != nil {
		return itembank.Item{}, err
	}
	span.SetAttributes(attribute.String("item.id", item.ID))
	return item, nil
}

// Pending returns the item awaiting an answer, if any.
func (s *Service) Pending(ctx context.Context, attemptID string) (itembank.Item, bool, error) {
	eng, err := s.engine(ctx, attemptID)
	if err != nil {
		return itembank.Item{}, false, err
	}
	item, ok := eng.Pending()
	return item, ok, nil
}

// Submit records the answer to the pending item and returns the updated
// ability estimate.
func (s *Service) Submit(ctx context.Context, attemptID, itemID string, answer []string, opts ...engine.SubmitOption) (state ability.State, err error) {
	ctx, span := s.start(ctx, "assessment.Submit", attemptID)
	span.SetAttributes(attribute.String("item.id", itemID))
	defer func() { endSpan(span, err) }()

	eng, err := s.engine(ctx, attemptID)
	if err != nil {
		return ability.State{}, err
	}
	state, err = eng.SubmitResponse(ctx, itemID, answer, opts...)
	if err != nil {
		return ability.State{}, err
	}
	span.SetAttributes(
		attribute.Float64("theta", state.Theta),
		attribute.Float64("se", state.SE),
		attribute.Int("items", state.Count),
	)
	if reason := eng.StopReason(); reason.Stopped() {
		span.SetAttributes(attribute.String("stop.reason", string(reason)))
	}
	return state, nil
}

// Finalize completes a stopped attempt and returns its report. The study
// plan is best effort and never fails finalization.
func (s *Service) Finalize(ctx context.Context, attemptID string) (res Result, err error) {
	ctx, span := s.start(ctx, "assessment.Finalize", attemptID)
	defer func() { endSpan(span, err) }()

	eng, err := s.engine(ctx, attemptID)
	if err != nil {
		return Result{}, err
	}
	report, err := eng.Finalize(ctx)
	if err != nil {
		return Result{}, err
	}
	span.SetAttributes(
		attribute.String("stop.reason", string(report.StopReason)),
		attribute.Float64("theta", report.Theta),
	)
	s.evict(attemptID)

	res = Result{Report: report}
	if s.coach != nil {
		plan := s.coach.Plan(ctx, eng.Attempt().ToolID, report)
		res.Plan = &plan
	}
	return res, nil
}

// Abandon ends the attempt without scoring it.
func (s *Service) Abandon(ctx context.Context, attemptID string) (err error) {
	ctx, span := s.start(ctx, "assessment.Abandon", attemptID)
	defer func() { endSpan(span, err) }()

	eng, err := s.engine(ctx, attemptID)
	if err != nil {
		return err
	}
	if err := eng.Abandon(ctx); err != nil {
		return err
	}
	s.evict(attemptID)
	return nil
}

// Live reports the number of engines held in memory.
func (s *Service) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// engine returns the live engine of an attempt, resuming it from the store
// when needed. Concurrent resumes of one attempt share a single engine so
// the engine's request serialization holds across callers.
func (s *Service) engine(ctx context.Context, attemptID string) (*engine.Engine, error) {
	if attemptID == "" {
		return nil, engine.ErrAttemptNotFound
	}
	s.mu.Lock()
	eng, ok := s.live[attemptID]
	s.mu.Unlock()
	if ok {
		return eng, nil
	}

	v, err, _ := s.loads.Do(attemptID, func() (any, error) {
		s.mu.Lock()
		if eng, ok := s.live[attemptID]; ok {
			s.mu.Unlock()
			return eng, nil
		}
		s.mu.Unlock()

		eng, err := engine.Resume(ctx, attemptID, s.cfg, s.items, s.store, s.engineOptions()...)
		if err != nil {
			return nil, err
		}
		// Terminal attempts are served once and not kept around.
		if !eng.Status().Terminal() {
			s.mu.Lock()
			s.live[attemptID] = eng
			s.mu.Unlock()
			s.logger.Debug("attempt resumed", "attempt", attemptID, "items", eng.State().Count)
		}
		return eng, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*engine.Engine), nil
}

func (s *Service) evict(attemptID string) {
	s.mu.Lock()
	delete(s.live, attemptID)
	s.mu.Unlock()
}

func (s *Service) engineOptions() []engine.Option {
	opts := []engine.Option{engine.WithLogger(s.logger)}
	if s.quarantine != nil {
		opts = append(opts, engine.WithQuarantine(s.quarantine))
	}
	return append(opts, s.engOpt...)
}

func (s *Service) start(ctx context.Context, name, attemptID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("attempt.id", attemptID)))
}

// endSpan records the outcome. A stop is expected control flow and is
// recorded as an attribute rather than an error.
func endSpan(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		return
	}
	if reason, ok := engine.StopReason(err); ok {
		span.SetAttributes(attribute.String("stop.reason", string(reason)))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
