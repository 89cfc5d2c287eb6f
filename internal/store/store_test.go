package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/adaptiq/internal/ability"
	"github.com/abhisek/adaptiq/internal/attempt"
	"github.com/abhisek/adaptiq/internal/engine"
	"github.com/abhisek/adaptiq/internal/irt"
	"github.com/abhisek/adaptiq/internal/itembank"
	"github.com/abhisek/adaptiq/internal/scoring"
	"github.com/abhisek/adaptiq/internal/stopping"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testItem(id, category string, b float64) itembank.Item {
	return itembank.Item{
		ID:       id,
		ToolID:   "ai-awareness",
		Category: category,
		Type:     itembank.SingleChoice,
		Prompt:   "Question " + id,
		Params:   irt.Params{A: 1.2, B: b, C: 0.2},
		Options:  []itembank.Option{{ID: "a", Text: "yes"}, {ID: "b", Text: "no"}},
		Key:      []string{"a"},
	}
}

func seedItems(t *testing.T, s *Store) []itembank.Item {
	t.Helper()
	items := []itembank.Item{
		testItem("q1", "basics", -1),
		testItem("q2", "basics", 0),
		testItem("q3", "ethics", 0.5),
		testItem("q4", "ethics", 1),
		testItem("q5", "usage", 1.5),
	}
	n, err := s.Items().UpsertItems(context.Background(), items)
	require.NoError(t, err)
	require.Equal(t, len(items), n)
	return items
}

func TestOpenClose(t *testing.T) {
	s := openTestStore(t)
	if s.Driver() == nil {
		t.Fatal("expected non-nil driver")
	}
}

func TestPragmasApplied(t *testing.T) {
	s := openTestStore(t)
	db := s.DB()

	tests := []struct {
		pragma string
		want   string
	}{
		// WAL mode falls back to "memory" for in-memory databases,
		// so we skip journal_mode here.
		{"foreign_keys", "1"},
		{"synchronous", "1"}, // NORMAL = 1
	}

	for _, tt := range tests {
		var got string
		err := db.QueryRow("PRAGMA " + tt.pragma).Scan(&got)
		if err != nil {
			t.Errorf("PRAGMA %s: %v", tt.pragma, err)
			continue
		}
		if got != tt.want {
			t.Errorf("PRAGMA %s = %q, want %q", tt.pragma, got, tt.want)
		}
	}
}

func TestAutoMigrationCreatesTables(t *testing.T) {
	s := openTestStore(t)
	db := s.DB()

	for _, table := range Tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table.Name,
		).Scan(&name)
		if err != nil {
			t.Fatalf("query sqlite_master for %s: %v", table.Name, err)
		}
	}
}

func TestWithForeignKeys(t *testing.T) {
	assert.Equal(t, "a.db?_pragma=foreign_keys(1)", withForeignKeys("a.db"))
	assert.Equal(t, "file:x?mode=memory&_pragma=foreign_keys(1)", withForeignKeys("file:x?mode=memory"))
	assert.Equal(t, "a.db?_pragma=foreign_keys(0)", withForeignKeys("a.db?_pragma=foreign_keys(0)"))
}

func TestSequenceCounter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	var sc sequenceCounter

	var seqs []int64
	for i := 0; i < 5; i++ {
		err := s.withTx(ctx, func(tx dialect.Tx) error {
			seq, err := sc.Next(ctx, tx)
			seqs = append(seqs, seq)
			return err
		})
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
	}

	// Should be monotonically increasing starting from 1.
	for i, seq := range seqs {
		expected := int64(i + 1)
		if seq != expected {
			t.Errorf("seq[%d] = %d, want %d", i, seq, expected)
		}
	}
}

func TestSequenceCounterRollsBackWithTx(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	var sc sequenceCounter

	boom := errors.New("boom")
	err := s.withTx(ctx, func(tx dialect.Tx) error {
		if _, err := sc.Next(ctx, tx); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var seq int64
	require.NoError(t, s.withTx(ctx, func(tx dialect.Tx) error {
		var err error
		seq, err = sc.Next(ctx, tx)
		return err
	}))
	assert.Equal(t, int64(1), seq)
}

func TestAppendLLMRequest(t *testing.T) {
	s := openTestStore(t)
	repo := s.EventRepo()
	ctx := context.Background()

	require.NoError(t, repo.AppendLLMRequest(ctx, LLMRequestEventData{
		Provider: "anthropic", Model: "m", Purpose: "coach",
		InputTokens: 100, OutputTokens: 40, LatencyMs: 900, Success: true,
	}))
	require.NoError(t, repo.AppendLLMRequest(ctx, LLMRequestEventData{
		Provider: "anthropic", Model: "m", Purpose: "coach",
		InputTokens: 80, LatencyMs: 30, ErrorMessage: "rate limited",
	}))
	require.NoError(t, repo.AppendLLMRequest(ctx, LLMRequestEventData{
		Provider: "gemini", Model: "g", Purpose: "coach",
		InputTokens: 5, OutputTokens: 5, Success: true,
	}))

	usage, err := repo.LLMUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []LLMUsage{
		{Provider: "anthropic", Model: "m", Requests: 2, Failures: 1, InputTokens: 180, OutputTokens: 40},
		{Provider: "gemini", Model: "g", Requests: 1, InputTokens: 5, OutputTokens: 5},
	}, usage)
}

func TestUpsertAndLoadItems(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	items := seedItems(t, s)

	got, err := s.Items().LoadItems(ctx, "ai-awareness")
	require.NoError(t, err)
	require.Len(t, got, len(items))
	assert.Equal(t, items[0], got[0])
	assert.Equal(t, "q5", got[4].ID)

	// Re-importing replaces calibration in place.
	changed := items[1]
	changed.Params.B = 0.75
	_, err = s.Items().UpsertItems(ctx, []itembank.Item{changed})
	require.NoError(t, err)

	got, err = s.Items().LoadItems(ctx, "ai-awareness")
	require.NoError(t, err)
	require.Len(t, got, len(items))
	assert.Equal(t, 0.75, got[1].Params.B)

	none, err := s.Items().LoadItems(ctx, "other-tool")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpsertRejectsMalformedItems(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bad := testItem("q1", "basics", 0)
	bad.Key = []string{"z"}
	_, err := s.Items().UpsertItems(ctx, []itembank.Item{testItem("q0", "basics", 0), bad})
	require.ErrorIs(t, err, itembank.ErrMalformedItem)

	// Nothing from the batch is written.
	got, err := s.Items().LoadItems(ctx, "ai-awareness")
	require.NoError(t, err)
	assert.Empty(t, got)

	flat := testItem("q2", "basics", 0)
	flat.Params.A = 0
	_, err = s.Items().UpsertItems(ctx, []itembank.Item{flat})
	require.ErrorIs(t, err, irt.ErrInvalidParams)
}

func TestFetchEligibleItems(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedItems(t, s)

	shared := testItem("q6", "usage", 0)
	shared.Audience = "engineers"
	_, err := s.Items().UpsertItems(ctx, []itembank.Item{shared})
	require.NoError(t, err)

	tests := []struct {
		name     string
		filter   itembank.Filter
		excluded []string
		want     []string
	}{
		{"all", itembank.Filter{ToolID: "ai-awareness"}, nil, []string{"q1", "q2", "q3", "q4", "q5", "q6"}},
		{"excluded", itembank.Filter{ToolID: "ai-awareness"}, []string{"q2", "q5"}, []string{"q1", "q3", "q4", "q6"}},
		{"categories", itembank.Filter{ToolID: "ai-awareness", Categories: []string{"ethics"}}, nil, []string{"q3", "q4"}},
		{"audience", itembank.Filter{ToolID: "ai-awareness", Audience: "managers"}, nil, []string{"q1", "q2", "q3", "q4", "q5"}},
		{"other tool", itembank.Filter{ToolID: "nope"}, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Items().FetchEligibleItems(ctx, tt.filter, tt.excluded)
			require.NoError(t, err)
			var ids []string
			for _, it := range got {
				ids = append(ids, it.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestQuarantineExcludesUntilReimport(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	items := seedItems(t, s)

	require.NoError(t, s.Items().QuarantineItem(ctx, "q3", "bad params"))
	require.NoError(t, s.Items().QuarantineItem(ctx, "q3", "bad params again"))

	got, err := s.Items().FetchEligibleItems(ctx, itembank.Filter{ToolID: "ai-awareness"}, nil)
	require.NoError(t, err)
	for _, it := range got {
		assert.NotEqual(t, "q3", it.ID)
	}

	q, err := s.Items().ListQuarantined(ctx)
	require.NoError(t, err)
	require.Len(t, q, 1)
	assert.Equal(t, "bad params again", q[0].Reason)

	_, err = s.Items().UpsertItems(ctx, []itembank.Item{items[2]})
	require.NoError(t, err)
	q, err = s.Items().ListQuarantined(ctx)
	require.NoError(t, err)
	assert.Empty(t, q)
}

func TestListTools(t *testing.T) {
	s := openTestStore(t)
	seedItems(t, s)

	tools, err := s.Items().ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, ToolSummary{ToolID: "ai-awareness", Items: 5, Categories: []string{"basics", "ethics", "usage"}}, tools[0])
}

func TestCreateAttemptOnePerTakerAndTool(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	repo := s.Attempts()

	att, err := repo.CreateAttempt(ctx, "taker-1", itembank.Filter{ToolID: "ai-awareness"})
	require.NoError(t, err)
	assert.Equal(t, attempt.StatusCreated, att.Status)
	assert.NotEmpty(t, att.ID)

	_, err = repo.CreateAttempt(ctx, "taker-1", itembank.Filter{ToolID: "ai-awareness"})
	require.ErrorIs(t, err, engine.ErrAttemptOpen)

	// Other tools and takers are unaffected.
	_, err = repo.CreateAttempt(ctx, "taker-1", itembank.Filter{ToolID: "other"})
	require.NoError(t, err)
	_, err = repo.CreateAttempt(ctx, "taker-2", itembank.Filter{ToolID: "ai-awareness"})
	require.NoError(t, err)

	open, err := repo.FindOpen(ctx, "taker-1", "ai-awareness")
	require.NoError(t, err)
	assert.Equal(t, att.ID, open.ID)

	// Once abandoned a new attempt may start.
	require.NoError(t, repo.AbandonAttempt(ctx, att.ID))
	_, err = repo.CreateAttempt(ctx, "taker-1", itembank.Filter{ToolID: "ai-awareness"})
	require.NoError(t, err)
}

func TestLoadAttemptStateNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Attempts().LoadAttemptState(context.Background(), "missing")
	require.ErrorIs(t, err, engine.ErrAttemptNotFound)
}

func savedResponse(t *testing.T, est ability.Estimator, state ability.State, seq int, it itembank.Item, correct bool) (ability.State, attempt.Response) {
	t.Helper()
	score := 0.0
	answer := []string{"b"}
	if correct {
		score, answer = 1, []string{"a"}
	}
	next, err := est.Update(state, it.ID, it.Params, score)
	require.NoError(t, err)
	return next, attempt.Response{
		Sequence:     seq,
		ItemID:       it.ID,
		Category:     it.Category,
		Params:       it.Params,
		Answer:       answer,
		Score:        score,
		Correct:      correct,
		ResponseTime: 1500 * time.Millisecond,
		ThetaAfter:   next.Theta,
		SEAfter:      next.SE,
		AnsweredAt:   time.Date(2026, 3, 1, 10, 0, seq, 0, time.UTC),

		HintsUsed:     seq % 2,
		BasePoints:    score * 10,
		MaxBasePoints: 10,
	}
}

func TestSaveAndLoadAttemptState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	items := seedItems(t, s)
	repo := s.Attempts()

	att, err := repo.CreateAttempt(ctx, "taker-1", itembank.Filter{ToolID: "ai-awareness"})
	require.NoError(t, err)

	est := ability.NewEstimator(ability.DefaultConfig())
	state := est.Initialize()
	var want []attempt.Response
	for i, correct := range []bool{true, false, true} {
		var resp attempt.Response
		state, resp = savedResponse(t, est, state, i+1, items[i+1], correct)
		require.NoError(t, repo.SaveAttemptState(ctx, att.ID, state, resp))
		want = append(want, resp)
	}

	got, err := repo.LoadAttemptState(ctx, att.ID)
	require.NoError(t, err)
	assert.Equal(t, attempt.StatusInProgress, got.Status)
	assert.Equal(t, state, got.State)
	require.Len(t, got.Responses, 3)
	for i := range want {
		assert.Equal(t, want[i].ItemID, got.Responses[i].ItemID)
		assert.Equal(t, want[i].Answer, got.Responses[i].Answer)
		assert.Equal(t, want[i].Params, got.Responses[i].Params)
		assert.Equal(t, want[i].ResponseTime, got.Responses[i].ResponseTime)
		assert.True(t, want[i].AnsweredAt.Equal(got.Responses[i].AnsweredAt))
		assert.Equal(t, want[i].HintsUsed, got.Responses[i].HintsUsed)
		assert.Equal(t, want[i].BasePoints, got.Responses[i].BasePoints)
		assert.Equal(t, want[i].MaxBasePoints, got.Responses[i].MaxBasePoints)
	}

	counts, err := s.Items().ExposureCounts(ctx, "ai-awareness")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"q2": 1, "q3": 1, "q4": 1}, counts)
}

func TestSaveAttemptStateRejectsOutOfSequence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	items := seedItems(t, s)
	repo := s.Attempts()

	att, err := repo.CreateAttempt(ctx, "taker-1", itembank.Filter{ToolID: "ai-awareness"})
	require.NoError(t, err)

	est := ability.NewEstimator(ability.DefaultConfig())
	state, resp := savedResponse(t, est, est.Initialize(), 2, items[0], true)
	err = repo.SaveAttemptState(ctx, att.ID, state, resp)
	require.ErrorIs(t, err, engine.ErrDataIntegrity)

	got, err := repo.LoadAttemptState(ctx, att.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Responses)
	assert.Equal(t, attempt.StatusCreated, got.Status)

	// The same item twice violates the unique index and rolls back.
	state, resp = savedResponse(t, est, est.Initialize(), 1, items[0], true)
	require.NoError(t, repo.SaveAttemptState(ctx, att.ID, state, resp))
	state.Count = 2
	resp.Sequence = 2
	require.Error(t, repo.SaveAttemptState(ctx, att.ID, state, resp))

	got, err = repo.LoadAttemptState(ctx, att.ID)
	require.NoError(t, err)
	assert.Len(t, got.Responses, 1)
	assert.Equal(t, 1, got.State.Count)
}

func TestCompleteAttempt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	items := seedItems(t, s)
	repo := s.Attempts()

	att, err := repo.CreateAttempt(ctx, "taker-1", itembank.Filter{ToolID: "ai-awareness"})
	require.NoError(t, err)
	est := ability.NewEstimator(ability.DefaultConfig())
	state, resp := savedResponse(t, est, est.Initialize(), 1, items[0], true)
	require.NoError(t, repo.SaveAttemptState(ctx, att.ID, state, resp))

	report := scoring.Compute(att.ID, state, []attempt.Response{resp}, stopping.MaxItems)
	require.NoError(t, repo.CompleteAttempt(ctx, att.ID, stopping.MaxItems, report))

	got, err := repo.LoadAttemptState(ctx, att.ID)
	require.NoError(t, err)
	assert.Equal(t, attempt.StatusCompleted, got.Status)
	assert.Equal(t, stopping.MaxItems, got.StopReason)
	require.NotNil(t, got.Report)
	assert.Equal(t, report, *got.Report)

	state2, resp2 := savedResponse(t, est, state, 2, items[1], true)
	require.ErrorIs(t, repo.SaveAttemptState(ctx, att.ID, state2, resp2), engine.ErrAlreadyCompleted)
	require.ErrorIs(t, repo.AbandonAttempt(ctx, att.ID), engine.ErrAlreadyCompleted)

	require.NoError(t, repo.FlagAttempt(ctx, att.ID, "item q9: malformed"))
	after, err := repo.LoadAttemptState(ctx, att.ID)
	require.NoError(t, err)
	assert.False(t, after.Flagged, "completed attempt must not be flagged")
	assert.Empty(t, after.FlagReason)
	assert.Equal(t, got.UpdatedAt, after.UpdatedAt)
}

func TestAbandonAndFlagAttempt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	repo := s.Attempts()

	att, err := repo.CreateAttempt(ctx, "taker-1", itembank.Filter{ToolID: "ai-awareness"})
	require.NoError(t, err)

	require.NoError(t, repo.FlagAttempt(ctx, att.ID, "item q9: malformed"))
	require.NoError(t, repo.FlagAttempt(ctx, att.ID, "second"))
	require.NoError(t, repo.AbandonAttempt(ctx, att.ID))
	require.NoError(t, repo.AbandonAttempt(ctx, att.ID))

	got, err := repo.LoadAttemptState(ctx, att.ID)
	require.NoError(t, err)
	assert.Equal(t, attempt.StatusAbandoned, got.Status)
	assert.True(t, got.Flagged)
	assert.Equal(t, "item q9: malformed", got.FlagReason)

	require.ErrorIs(t, repo.AbandonAttempt(ctx, "missing"), engine.ErrAttemptNotFound)
}

func TestListAttempts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	items := seedItems(t, s)
	repo := s.Attempts()

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	first, err := repo.CreateAttempt(ctx, "taker-1", itembank.Filter{ToolID: "ai-awareness"})
	require.NoError(t, err)
	second, err := repo.CreateAttempt(ctx, "taker-2", itembank.Filter{ToolID: "ai-awareness"})
	require.NoError(t, err)

	est := ability.NewEstimator(ability.DefaultConfig())
	state, resp := savedResponse(t, est, est.Initialize(), 1, items[0], true)
	require.NoError(t, repo.SaveAttemptState(ctx, first.ID, state, resp))

	all, err := repo.ListAttempts(ctx, ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Nil(t, all[0].Theta)
	assert.Equal(t, first.ID, all[1].ID)
	require.NotNil(t, all[1].Theta)
	assert.Equal(t, state.Theta, *all[1].Theta)
	assert.Equal(t, 1, all[1].ItemCount)

	mine, err := repo.ListAttempts(ctx, ListOpts{TakerID: "taker-2"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, second.ID, mine[0].ID)

	page, err := repo.ListAttempts(ctx, ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, first.ID, page[0].ID)

	inProgress, err := repo.ListAttempts(ctx, ListOpts{Status: attempt.StatusInProgress})
	require.NoError(t, err)
	require.Len(t, inProgress, 1)
	assert.Equal(t, first.ID, inProgress[0].ID)
}

func TestEngineRunsOnStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedItems(t, s)

	cfg := engine.DefaultConfig()
	cfg.Stopping = stopping.Config{MinItems: 3, MaxItems: 4, SETarget: 0.01}

	att, err := s.Attempts().CreateAttempt(ctx, "taker-1", itembank.Filter{ToolID: "ai-awareness"})
	require.NoError(t, err)
	eng, err := engine.New(cfg, *att, s.Items(), s.Attempts(), engine.WithQuarantine(s.Items()))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		it, err := eng.NextItem(ctx)
		require.NoError(t, err)
		_, err = eng.SubmitResponse(ctx, it.ID, []string{"a"})
		require.NoError(t, err)
	}

	// A fresh engine over the same store picks up where the first left off.
	resumed, err := engine.Resume(ctx, att.ID, cfg, s.Items(), s.Attempts())
	require.NoError(t, err)
	assert.Equal(t, eng.State(), resumed.State())

	for {
		it, err := resumed.NextItem(ctx)
		if errors.Is(err, engine.ErrStopped) {
			break
		}
		require.NoError(t, err)
		_, err = resumed.SubmitResponse(ctx, it.ID, []string{"b"})
		require.NoError(t, err)
	}

	report, err := resumed.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.TotalItems)
	assert.Equal(t, 2, report.TotalCorrect)
	assert.Equal(t, stopping.MaxItems, report.StopReason)

	stored, err := s.Attempts().LoadAttemptState(ctx, att.ID)
	require.NoError(t, err)
	assert.Equal(t, attempt.StatusCompleted, stored.Status)
	require.NotNil(t, stored.Report)
	assert.Equal(t, report.Theta, stored.Report.Theta)
}
