package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/abhisek/adaptiq/internal/store"
)

// RecordingProvider records every request as an llm_request event.
type RecordingProvider struct {
	inner    Provider
	provider string
	events   store.EventRepo
	logger   *slog.Logger
}

// WithRecording wraps a Provider so each call is appended to events.
// provider names the backend ("anthropic", "openai", ...).
func WithRecording(p Provider, provider string, events store.EventRepo, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordingProvider{inner: p, provider: provider, events: events, logger: logger}
}

func (r *RecordingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := r.inner.Generate(ctx, req)

	data := store.LLMRequestEventData{
		Provider:  r.provider,
		Model:     r.inner.ModelID(),
		Purpose:   PurposeFrom(ctx),
		LatencyMs: time.Since(start).Milliseconds(),
		Success:   err == nil,
	}
	if resp != nil {
		data.InputTokens = resp.Usage.InputTokens
		data.OutputTokens = resp.Usage.OutputTokens
		if resp.Model != "" {
			data.Model = resp.Model
		}
	}
	if err != nil {
		data.ErrorMessage = err.Error()
	}

	r.logger.Debug("llm request",
		"provider", data.Provider, "model", data.Model, "purpose", data.Purpose,
		"latency_ms", data.LatencyMs, "input_tokens", data.InputTokens,
		"output_tokens", data.OutputTokens, "ok", data.Success)

	// Recording failures never fail the request.
	if r.events != nil {
		if logErr := r.events.AppendLLMRequest(context.WithoutCancel(ctx), data); logErr != nil {
			r.logger.Warn("failed to record LLM request event", "err", logErr)
		}
	}
	return resp, err
}

func (r *RecordingProvider) ModelID() string {
	return r.inner.ModelID()
}
