package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"testing"
	"time"

	"github.com/abhisek/adaptiq/internal/attempt"
	"github.com/abhisek/adaptiq/internal/irt"
	"github.com/abhisek/adaptiq/internal/itembank"
	"github.com/abhisek/adaptiq/internal/stopping"
)

func testConfig(minItems, maxItems int, seTarget float64) Config {
	cfg := DefaultConfig()
	cfg.Stopping = stopping.Config{MinItems: minItems, MaxItems: maxItems, SETarget: seTarget}
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, src ItemSource, opts ...Option) (*Engine, *memStore) {
	t.Helper()
	store := newMemStore("att-1")
	e, err := New(cfg, Attempt{ID: "att-1", ToolID: "tool", Filter: itembank.Filter{ToolID: "tool"}}, src, store, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, store
}

// run answers items until the engine stops and returns the administered items.
func run(t *testing.T, e *Engine, correct func(itembank.Item) bool) ([]itembank.Item, stopping.Reason) {
	t.Helper()
	var given []itembank.Item
	for range 1000 {
		it, err := e.NextItem(context.Background())
		if err != nil {
			reason, ok := StopReason(err)
			if !ok {
				t.Fatalf("NextItem: %v", err)
			}
			return given, reason
		}
		given = append(given, it)
		if _, err := e.SubmitResponse(context.Background(), it.ID, answer(correct(it))); err != nil {
			t.Fatalf("SubmitResponse(%s): %v", it.ID, err)
		}
	}
	t.Fatal("engine never stopped")
	return nil, ""
}

func TestEngine_EndToEndFiveItems(t *testing.T) {
	bank := itembank.NewMemoryBank(difficultyPool(-2, -1, 0, 1, 2)...)
	e, store := newTestEngine(t, testConfig(3, 5, 0.3), bank)

	given, reason := run(t, e, func(it itembank.Item) bool { return it.Params.B <= 0 })

	if len(given) > 5 {
		t.Fatalf("administered %d items, want <= 5", len(given))
	}
	seen := map[string]bool{}
	for _, it := range given {
		if seen[it.ID] {
			t.Fatalf("item %s administered twice", it.ID)
		}
		seen[it.ID] = true
	}
	if reason != stopping.MaxItems {
		t.Errorf("stop reason = %q, want max_items", reason)
	}
	if theta := e.State().Theta; theta < -0.5 || theta > 1.5 {
		t.Errorf("final theta = %v, want within [-0.5, 1.5]", theta)
	}
	if given[0].ID != "item-3" {
		t.Errorf("first item = %s, want the b=0 item", given[0].ID)
	}

	// Persisted snapshot tracks the in-memory one.
	stored := store.attempts["att-1"]
	if stored.State.Count != len(stored.Responses) || stored.State.Count != len(given) {
		t.Errorf("stored count %d, responses %d, given %d", stored.State.Count, len(stored.Responses), len(given))
	}
}

func TestEngine_ConcurrentNextItem(t *testing.T) {
	bank := itembank.NewMemoryBank(difficultyPool(-1, 0, 1)...)
	e, _ := newTestEngine(t, testConfig(1, 3, 0.3), bank)

	if _, err := e.NextItem(t.Context()); err != nil {
		t.Fatalf("first NextItem: %v", err)
	}
	_, err := e.NextItem(t.Context())
	if !errors.Is(err, ErrConcurrentRequest) {
		t.Fatalf("second NextItem err = %v, want ErrConcurrentRequest", err)
	}
	if !IsProtocolMisuse(err) {
		t.Error("ErrConcurrentRequest should be protocol misuse")
	}
}

func TestEngine_ConcurrentNextItemInFlight(t *testing.T) {
	src := &blockingSource{
		inner:   itembank.NewMemoryBank(difficultyPool(-1, 0, 1)...),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	e, _ := newTestEngine(t, testConfig(1, 3, 0.3), src)

	done := make(chan error, 1)
	go func() {
		_, err := e.NextItem(context.Background())
		done <- err
	}()
	<-src.entered

	if _, err := e.NextItem(t.Context()); !errors.Is(err, ErrConcurrentRequest) {
		t.Errorf("NextItem while fetching = %v, want ErrConcurrentRequest", err)
	}
	if err := e.Abandon(t.Context()); !errors.Is(err, ErrConcurrentRequest) {
		t.Errorf("Abandon while fetching = %v, want ErrConcurrentRequest", err)
	}
	_ = e.State() // reads stay available

	close(src.release)
	if err := <-done; err != nil {
		t.Fatalf("blocked NextItem: %v", err)
	}
}

func TestEngine_PoolExhaustion(t *testing.T) {
	bank := itembank.NewMemoryBank(difficultyPool(-0.5, 0.5)...)
	e, _ := newTestEngine(t, testConfig(5, 10, 0.3), bank)

	for i := range 2 {
		it, err := e.NextItem(t.Context())
		if err != nil {
			t.Fatalf("NextItem %d: %v", i, err)
		}
		if _, err := e.SubmitResponse(t.Context(), it.ID, answer(i == 0)); err != nil {
			t.Fatalf("SubmitResponse %d: %v", i, err)
		}
	}

	_, err := e.NextItem(t.Context())
	reason, ok := StopReason(err)
	if !ok || reason != stopping.PoolExhausted {
		t.Fatalf("NextItem err = %v, want pool_exhausted stop", err)
	}
	if !errors.Is(err, ErrPoolExhausted) || !errors.Is(err, ErrStopped) {
		t.Errorf("err %v should match ErrPoolExhausted and ErrStopped", err)
	}
	if e.StopReason() != stopping.PoolExhausted {
		t.Errorf("StopReason() = %q", e.StopReason())
	}

	report, err := e.Finalize(t.Context())
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if report.StopReason != stopping.PoolExhausted || report.TotalItems != 2 {
		t.Errorf("report reason %q items %d", report.StopReason, report.TotalItems)
	}
}

func TestEngine_MaxItemsBeatsPrecision(t *testing.T) {
	bank := itembank.NewMemoryBank(difficultyPool(-1, 0, 1)...)
	// After one response both the ceiling and the (loose) precision target hold.
	e, _ := newTestEngine(t, testConfig(1, 1, 5.0), bank)

	it, err := e.NextItem(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.SubmitResponse(t.Context(), it.ID, answer(true)); err != nil {
		t.Fatal(err)
	}
	if got := e.StopReason(); got != stopping.MaxItems {
		t.Fatalf("StopReason() = %q, want max_items", got)
	}
	_, err = e.NextItem(t.Context())
	if reason, _ := StopReason(err); reason != stopping.MaxItems {
		t.Errorf("NextItem after ceiling = %v", err)
	}
	if errors.Is(err, ErrPoolExhausted) {
		t.Error("ceiling stop must not report pool exhaustion")
	}
}

func TestEngine_PrecisionStop(t *testing.T) {
	var pool []itembank.Item
	for i := range 60 {
		it := graded(fmt.Sprintf("q%02d", i), float64(i%12)/4-1.5)
		it.Params.A = 2.5
		pool = append(pool, it)
	}
	e, _ := newTestEngine(t, testConfig(5, 50, 0.3), itembank.NewMemoryBank(pool...))
	given, reason := run(t, e, func(it itembank.Item) bool { return it.Params.B <= 0.2 })

	if reason != stopping.PrecisionReached {
		t.Fatalf("reason = %q after %d items, want precision_reached", reason, len(given))
	}
	if s := e.State(); s.SE >= 0.3 || s.Count < 5 {
		t.Errorf("stopped with SE %v after %d items", s.SE, s.Count)
	}
}

func TestEngine_InvalidItem(t *testing.T) {
	bank := itembank.NewMemoryBank(difficultyPool(-1, 0, 1)...)
	e, _ := newTestEngine(t, testConfig(1, 3, 0.3), bank)

	if _, err := e.SubmitResponse(t.Context(), "item-1", answer(true)); !errors.Is(err, ErrInvalidItem) {
		t.Errorf("submit before issue = %v, want ErrInvalidItem", err)
	}

	it, err := e.NextItem(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	other := "item-1"
	if it.ID == other {
		other = "item-3"
	}
	if _, err := e.SubmitResponse(t.Context(), other, answer(true)); !errors.Is(err, ErrInvalidItem) {
		t.Errorf("out-of-order submit = %v, want ErrInvalidItem", err)
	}
	if _, err := e.SubmitResponse(t.Context(), it.ID, answer(true)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := e.SubmitResponse(t.Context(), it.ID, answer(true)); !errors.Is(err, ErrInvalidItem) {
		t.Errorf("replayed submit = %v, want ErrInvalidItem", err)
	}
	if e.State().Count != 1 {
		t.Errorf("Count = %d, want 1", e.State().Count)
	}
}

func TestEngine_InvalidAnswerKeepsItemPending(t *testing.T) {
	bank := itembank.NewMemoryBank(difficultyPool(0)...)
	e, _ := newTestEngine(t, testConfig(1, 1, 0.3), bank)

	it, err := e.NextItem(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.SubmitResponse(t.Context(), it.ID, []string{"zz"})
	if !errors.Is(err, itembank.ErrInvalidAnswer) || !IsProtocolMisuse(err) {
		t.Fatalf("err = %v, want invalid answer", err)
	}
	if _, ok := e.Pending(); !ok {
		t.Fatal("item should stay pending")
	}
	if _, err := e.SubmitResponse(t.Context(), it.ID, answer(false)); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
}

func TestEngine_FinalizeIdempotent(t *testing.T) {
	bank := itembank.NewMemoryBank(difficultyPool(-2, -1, 0, 1, 2)...)
	e, store := newTestEngine(t, testConfig(3, 4, 0.3), bank)

	if _, err := e.Finalize(t.Context()); !errors.Is(err, ErrNotStopped) {
		t.Fatalf("Finalize before stop = %v, want ErrNotStopped", err)
	}
	run(t, e, func(it itembank.Item) bool { return it.Params.B < 0.5 })

	first, err := e.Finalize(t.Context())
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	second, err := e.Finalize(t.Context())
	if err != nil {
		t.Fatalf("second Finalize: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Finalize not idempotent:\n%+v\n%+v", first, second)
	}
	if store.completions != 1 {
		t.Errorf("CompleteAttempt called %d times, want 1", store.completions)
	}
	if e.Status() != attempt.StatusCompleted {
		t.Errorf("Status = %s", e.Status())
	}

	// Mutating a returned report must not leak into the stored one.
	first.Categories[0].Correct = 99
	third, _ := e.Finalize(t.Context())
	if !reflect.DeepEqual(second, third) {
		t.Error("returned report aliases engine state")
	}

	if _, err := e.NextItem(t.Context()); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("NextItem after completion = %v", err)
	}
	if _, err := e.SubmitResponse(t.Context(), "item-1", answer(true)); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("SubmitResponse after completion = %v", err)
	}
	if err := e.Abandon(t.Context()); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("Abandon after completion = %v", err)
	}
}

func TestEngine_Abandon(t *testing.T) {
	bank := itembank.NewMemoryBank(difficultyPool(-1, 0, 1)...)
	e, store := newTestEngine(t, testConfig(1, 3, 0.3), bank)

	if _, err := e.NextItem(t.Context()); err != nil {
		t.Fatal(err)
	}
	if err := e.Abandon(t.Context()); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if err := e.Abandon(t.Context()); err != nil {
		t.Errorf("second Abandon: %v", err)
	}
	if store.attempts["att-1"].Status != attempt.StatusAbandoned {
		t.Error("store not updated")
	}
	if _, err := e.NextItem(t.Context()); !errors.Is(err, ErrAbandoned) {
		t.Errorf("NextItem after abandon = %v", err)
	}
	if _, err := e.Finalize(t.Context()); !errors.Is(err, ErrAbandoned) {
		t.Errorf("Finalize after abandon = %v", err)
	}
	if store.completions != 0 {
		t.Error("abandoned attempt was scored")
	}
}

func TestEngine_SaveFailureLeavesStateUnchanged(t *testing.T) {
	bank := itembank.NewMemoryBank(difficultyPool(-1, 0, 1)...)
	e, store := newTestEngine(t, testConfig(1, 3, 0.3), bank)

	it, err := e.NextItem(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	before := e.State()
	store.saveErr = errors.New("disk full")

	if _, err := e.SubmitResponse(t.Context(), it.ID, answer(true)); err == nil {
		t.Fatal("expected save error")
	}
	if !reflect.DeepEqual(before, e.State()) {
		t.Error("state changed after failed save")
	}
	if p, ok := e.Pending(); !ok || p.ID != it.ID {
		t.Error("item should remain pending after failed save")
	}

	store.saveErr = nil
	s, err := e.SubmitResponse(t.Context(), it.ID, answer(true))
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if s.Count != 1 || len(e.Attempt().Responses) != 1 {
		t.Errorf("count %d, responses %d", s.Count, len(e.Attempt().Responses))
	}
}

func TestEngine_MalformedPoolItemIsQuarantined(t *testing.T) {
	broken := graded("item-0", 0)
	broken.Params.A = 0
	bank := itembank.NewMemoryBank(append(difficultyPool(1), broken)...)
	q := &memQuarantine{bank: bank}
	e, store := newTestEngine(t, testConfig(1, 2, 0.3), bank, WithQuarantine(q))

	it, err := e.NextItem(t.Context())
	if err != nil {
		t.Fatalf("NextItem: %v", err)
	}
	if it.ID != "item-1" {
		t.Errorf("issued %s, want the valid item", it.ID)
	}
	if _, ok := q.items["item-0"]; !ok {
		t.Error("malformed item not quarantined")
	}
	if !e.Attempt().Flagged || !store.attempts["att-1"].Flagged {
		t.Error("attempt not flagged")
	}
}

func TestEngine_MalformedPendingItemIsDataIntegrity(t *testing.T) {
	broken := graded("item-1", 0)
	broken.Type = "essay"
	bank := itembank.NewMemoryBank(broken, graded("item-2", 1.5))
	q := &memQuarantine{bank: bank}
	e, store := newTestEngine(t, testConfig(1, 3, 0.3), bank, WithQuarantine(q))

	it, err := e.NextItem(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if it.ID != "item-1" {
		t.Fatalf("issued %s", it.ID)
	}
	_, err = e.SubmitResponse(t.Context(), it.ID, answer(true))
	if !errors.Is(err, ErrDataIntegrity) || !IsDataIntegrity(err) {
		t.Fatalf("err = %v, want data integrity", err)
	}
	if e.State().Count != 0 || store.saves != 0 {
		t.Error("malformed response was recorded")
	}
	if _, ok := e.Pending(); ok {
		t.Error("pending item not cleared")
	}

	next, err := e.NextItem(t.Context())
	if err != nil {
		t.Fatalf("NextItem after integrity error: %v", err)
	}
	if next.ID != "item-2" {
		t.Errorf("issued %s, want item-2", next.ID)
	}
}

func TestEngine_AllPoolItemsMalformed(t *testing.T) {
	zero := graded("item-1", 0)
	zero.Params.A = 0
	negative := graded("item-2", 1)
	negative.Params.A = -1
	bank := itembank.NewMemoryBank(zero, negative)
	q := &memQuarantine{bank: bank}
	e, store := newTestEngine(t, testConfig(3, 10, 0.3), bank, WithQuarantine(q))

	_, err := e.NextItem(t.Context())
	if !IsDataIntegrity(err) {
		t.Fatalf("NextItem err = %v, want data integrity", err)
	}
	if _, stopped := StopReason(err); stopped {
		t.Errorf("err %v reported as a stop", err)
	}
	if r := e.StopReason(); r.Stopped() {
		t.Errorf("stop reason set to %s", r)
	}
	if len(q.items) != 2 || !store.attempts["att-1"].Flagged {
		t.Errorf("quarantined %v, flagged %v", q.items, store.attempts["att-1"].Flagged)
	}

	// With the broken items gone the pool is genuinely empty, but there is
	// still nothing to score.
	_, err = e.NextItem(t.Context())
	if reason, ok := StopReason(err); !ok || reason != stopping.PoolExhausted {
		t.Fatalf("second NextItem err = %v, want pool exhausted", err)
	}
	if _, err := e.Finalize(t.Context()); !errors.Is(err, ErrNoResponses) || !IsProtocolMisuse(err) {
		t.Fatalf("Finalize err = %v, want ErrNoResponses", err)
	}
	if store.completions != 0 || e.Status() == attempt.StatusCompleted {
		t.Error("attempt completed without responses")
	}
	if err := e.Abandon(t.Context()); err != nil {
		t.Errorf("Abandon: %v", err)
	}
}

func TestEngine_Resume(t *testing.T) {
	bank := itembank.NewMemoryBank(difficultyPool(-2, -1, 0, 1, 2)...)
	cfg := testConfig(3, 5, 0.3)
	e, store := newTestEngine(t, cfg, bank)

	for i := range 2 {
		it, err := e.NextItem(t.Context())
		if err != nil {
			t.Fatal(err)
		}
		if _, err := e.SubmitResponse(t.Context(), it.ID, answer(i == 0)); err != nil {
			t.Fatal(err)
		}
	}
	// An issued but unanswered item is lost on resume.
	if _, err := e.NextItem(t.Context()); err != nil {
		t.Fatal(err)
	}

	resumed, err := Resume(t.Context(), "att-1", cfg, bank, store)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !reflect.DeepEqual(resumed.State(), e.State()) {
		t.Errorf("resumed state %+v, want %+v", resumed.State(), e.State())
	}
	if resumed.Status() != attempt.StatusInProgress {
		t.Errorf("resumed status %s", resumed.Status())
	}
	it, err := resumed.NextItem(t.Context())
	if err != nil {
		t.Fatalf("NextItem after resume: %v", err)
	}
	if resumed.State().HasAdministered(it.ID) {
		t.Errorf("resumed engine repeated %s", it.ID)
	}

	if _, err := Resume(t.Context(), "missing", cfg, bank, store); !errors.Is(err, ErrAttemptNotFound) {
		t.Errorf("Resume(missing) = %v", err)
	}
}

func TestEngine_ResponseTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	bank := itembank.NewMemoryBank(difficultyPool(0)...)
	e, _ := newTestEngine(t, testConfig(1, 1, 0.3), bank, WithClock(clock))

	it, err := e.NextItem(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(42 * time.Second)
	if _, err := e.SubmitResponse(t.Context(), it.ID, answer(true)); err != nil {
		t.Fatal(err)
	}
	if rt := e.Attempt().Responses[0].ResponseTime; rt != 42*time.Second {
		t.Errorf("ResponseTime = %v, want 42s", rt)
	}
}

func TestEngine_NeverRepeatsItems(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for trial := range 30 {
		size := 1 + rng.IntN(25)
		var pool []itembank.Item
		for i := range size {
			it := graded(fmt.Sprintf("q%03d", i), rng.NormFloat64())
			it.Params = irt.Params{A: 0.5 + rng.Float64()*2, B: it.Params.B, C: rng.Float64() * 0.25}
			pool = append(pool, it)
		}
		maxItems := 1 + rng.IntN(30)
		cfg := testConfig(rng.IntN(maxItems+1), maxItems, 0.1+rng.Float64()*0.5)
		e, _ := newTestEngine(t, cfg, itembank.NewMemoryBank(pool...))

		given, _ := run(t, e, func(itembank.Item) bool { return rng.Float64() < 0.5 })
		seen := map[string]bool{}
		for _, it := range given {
			if seen[it.ID] {
				t.Fatalf("trial %d: item %s repeated", trial, it.ID)
			}
			seen[it.ID] = true
		}
		if len(given) > maxItems || len(given) > size {
			t.Fatalf("trial %d: %d items for max %d / pool %d", trial, len(given), maxItems, size)
		}
	}
}

func TestNew_Validates(t *testing.T) {
	store := newMemStore("a")
	bank := itembank.NewMemoryBank()

	bad := DefaultConfig()
	bad.Stopping.MaxItems = 0
	if _, err := New(bad, Attempt{ID: "a"}, bank, store); err == nil {
		t.Error("expected config error")
	}
	if _, err := New(DefaultConfig(), Attempt{}, bank, store); err == nil {
		t.Error("expected missing id error")
	}
	inconsistent := Attempt{ID: "a", Responses: []attempt.Response{{ItemID: "x"}}}
	if _, err := New(DefaultConfig(), inconsistent, bank, store); !errors.Is(err, ErrDataIntegrity) {
		t.Errorf("count mismatch err = %v", err)
	}
}

func TestEngine_RecordsHintsAndPoints(t *testing.T) {
	item := graded("item-1", 0)
	item.Options = []itembank.Option{{ID: "a", Points: 20}, {ID: "b"}}
	bank := itembank.NewMemoryBank(item, graded("item-2", 1))
	e, store := newTestEngine(t, testConfig(1, 2, 0.01), bank)

	it, err := e.NextItem(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.SubmitResponse(t.Context(), it.ID, answer(true), WithHints(-1)); !errors.Is(err, itembank.ErrInvalidAnswer) {
		t.Fatalf("negative hints err = %v, want ErrInvalidAnswer", err)
	}
	if _, ok := e.Pending(); !ok {
		t.Fatal("rejected submission cleared the pending item")
	}
	if _, err := e.SubmitResponse(t.Context(), it.ID, answer(true), WithHints(2)); err != nil {
		t.Fatalf("SubmitResponse: %v", err)
	}

	resp := store.attempts["att-1"].Responses[0]
	if resp.HintsUsed != 2 || resp.BasePoints != 20 || resp.MaxBasePoints != 20 {
		t.Errorf("response hints %d points %v/%v, want 2 and 20/20", resp.HintsUsed, resp.BasePoints, resp.MaxBasePoints)
	}

	it, err = e.NextItem(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.SubmitResponse(t.Context(), it.ID, answer(false)); err != nil {
		t.Fatal(err)
	}
	report, err := e.Finalize(t.Context())
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if report.HintsUsed != 2 || report.MaxPoints == 0 {
		t.Errorf("report hints %d max points %v", report.HintsUsed, report.MaxPoints)
	}
}
