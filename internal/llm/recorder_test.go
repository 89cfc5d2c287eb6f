package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/abhisek/adaptiq/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEvents struct {
	mu     sync.Mutex
	events []store.LLMRequestEventData
	err    error
}

func (f *fakeEvents) AppendLLMRequest(_ context.Context, data store.LLMRequestEventData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, data)
	return f.err
}

func (f *fakeEvents) LLMUsage(context.Context) ([]store.LLMUsage, error) {
	return nil, nil
}

func TestRecording_AppendsEvent(t *testing.T) {
	events := &fakeEvents{}
	mock := NewMockProvider(MockResponse{
		Content: json.RawMessage(`{}`),
		Usage:   Usage{InputTokens: 12, OutputTokens: 34},
	})
	p := WithRecording(mock, ProviderMock, events, discardLogger())

	ctx := WithPurpose(context.Background(), "coach")
	if _, err := p.Generate(ctx, Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(events.events) != 1 {
		t.Fatalf("events = %d, want 1", len(events.events))
	}
	got := events.events[0]
	if got.Provider != ProviderMock || got.Model != "mock" || got.Purpose != "coach" {
		t.Errorf("event identity = %+v", got)
	}
	if !got.Success || got.InputTokens != 12 || got.OutputTokens != 34 {
		t.Errorf("event usage = %+v", got)
	}
}

func TestRecording_FailureIsRecordedAndReturned(t *testing.T) {
	events := &fakeEvents{err: errors.New("disk full")}
	down := &ErrProviderUnavailable{Err: errors.New("503")}
	p := WithRecording(NewMockProvider(MockResponse{Err: down}), ProviderMock, events, discardLogger())

	_, err := p.Generate(context.Background(), Request{})
	if !errors.Is(err, down) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if len(events.events) != 1 {
		t.Fatalf("events = %d, want 1", len(events.events))
	}
	if events.events[0].Success || events.events[0].ErrorMessage == "" {
		t.Errorf("failure not recorded: %+v", events.events[0])
	}
}

func TestRecording_NilRepo(t *testing.T) {
	p := WithRecording(NewMockProvider(MockResponse{Content: json.RawMessage(`1`)}), ProviderMock, nil, nil)
	if _, err := p.Generate(context.Background(), Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(context.Background(), DefaultConfig(), nil, nil)
	if err != nil || p != nil {
		t.Fatalf("disabled config = (%v, %v), want (nil, nil)", p, err)
	}

	cfg := DefaultConfig()
	cfg.Provider = ProviderMock
	p, err = NewProvider(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != "mock" {
		t.Errorf("model = %q", p.ModelID())
	}

	cfg.Provider = ProviderOpenAI
	if _, err := NewProvider(context.Background(), cfg, nil, nil); err == nil {
		t.Error("expected missing key error")
	}

	cfg.OpenAI.APIKey = "sk-test"
	p, err = NewProvider(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(*RetryProvider); !ok {
		t.Errorf("provider chain = %T, want *RetryProvider", p)
	}
}
