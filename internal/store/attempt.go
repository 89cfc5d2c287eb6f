package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/abhisek/adaptiq/internal/ability"
	"github.com/abhisek/adaptiq/internal/attempt"
	"github.com/abhisek/adaptiq/internal/engine"
	"github.com/abhisek/adaptiq/internal/itembank"
	"github.com/abhisek/adaptiq/internal/scoring"
	"github.com/abhisek/adaptiq/internal/stopping"
)

var attemptColumns = []string{
	"id", "taker_id", "tool_id", "filter", "status", "flagged", "flag_reason",
	"stop_reason", "item_count", "report", "created_at", "updated_at",
}

var responseColumns = []string{
	"sequence", "item_id", "category", "discrimination", "difficulty", "guessing",
	"answer", "score", "correct", "response_time_ms", "theta_after", "se_after", "answered_at",
	"hints_used", "base_points", "max_base_points",
}

// openStatuses are the statuses that block a second attempt.
var openStatuses = []any{string(attempt.StatusCreated), string(attempt.StatusInProgress)}

// AttemptRepo persists attempts, their response logs and ability snapshots.
// It implements engine.StateStore.
type AttemptRepo struct {
	s *Store
}

var _ engine.StateStore = (*AttemptRepo)(nil)

// CreateAttempt opens a new attempt. A taker may hold at most one open
// attempt per tool; a second one fails with engine.ErrAttemptOpen.
func (r *AttemptRepo) CreateAttempt(ctx context.Context, takerID string, filter itembank.Filter) (*engine.Attempt, error) {
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", err)
	}

	now := r.s.timestamp()
	att := &engine.Attempt{
		ID:        uuid.NewString(),
		TakerID:   takerID,
		ToolID:    filter.ToolID,
		Filter:    filter,
		Status:    attempt.StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = r.s.withTx(ctx, func(tx dialect.Tx) error {
		open, err := r.openAttemptID(ctx, tx, takerID, filter.ToolID)
		if err != nil {
			return err
		}
		if open != "" {
			return fmt.Errorf("%w: %s", engine.ErrAttemptOpen, open)
		}

		ins := r.s.builder().Insert(tableAttempts).
			Columns("id", "taker_id", "tool_id", "filter", "status", "created_at", "updated_at").
			Values(att.ID, takerID, filter.ToolID, string(filterJSON), string(att.Status), now, now)
		if _, err := exec(ctx, tx, ins); err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return att, nil
}

// FindOpen returns the open attempt of a taker for a tool, or
// engine.ErrAttemptNotFound.
func (r *AttemptRepo) FindOpen(ctx context.Context, takerID, toolID string) (*engine.Attempt, error) {
	id, err := r.openAttemptID(ctx, r.s.drv, takerID, toolID)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("%w: no open attempt for %s on %s", engine.ErrAttemptNotFound, takerID, toolID)
	}
	return r.LoadAttemptState(ctx, id)
}

func (r *AttemptRepo) openAttemptID(ctx context.Context, q dialect.ExecQuerier, takerID, toolID string) (string, error) {
	b := r.s.builder()
	sel := b.Select("id").
		From(b.Table(tableAttempts)).
		Where(entsql.And(
			entsql.EQ("taker_id", takerID),
			entsql.EQ("tool_id", toolID),
			entsql.In("status", openStatuses...),
		)).
		OrderBy(entsql.Desc("created_at")).
		Limit(1)

	var id string
	err := query(ctx, q, sel, func(rows *entsql.Rows) error {
		return rows.Scan(&id)
	})
	if err != nil {
		return "", fmt.Errorf("query open attempt: %w", err)
	}
	return id, nil
}

// LoadAttemptState reads an attempt with its snapshot and full response log.
func (r *AttemptRepo) LoadAttemptState(ctx context.Context, attemptID string) (*engine.Attempt, error) {
	var att *engine.Attempt
	err := r.s.withTx(ctx, func(tx dialect.Tx) error {
		var err error
		att, err = r.loadAttempt(ctx, tx, attemptID)
		if err != nil {
			return err
		}

		state, err := r.s.loadSnapshot(ctx, tx, attemptID)
		switch {
		case errors.Is(err, errNoSnapshot):
			if att.State.Count > 0 {
				return fmt.Errorf("%w: attempt %s has %d responses but no snapshot",
					engine.ErrDataIntegrity, attemptID, att.State.Count)
			}
		case err != nil:
			return err
		default:
			att.State = state
		}

		att.Responses, err = r.responses(ctx, tx, attemptID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return att, nil
}

// loadAttempt reads the attempt row. State.Count carries item_count until
// the snapshot replaces it.
func (r *AttemptRepo) loadAttempt(ctx context.Context, q dialect.ExecQuerier, attemptID string) (*engine.Attempt, error) {
	b := r.s.builder()
	sel := b.Select(attemptColumns...).
		From(b.Table(tableAttempts)).
		Where(entsql.EQ("id", attemptID))

	var att *engine.Attempt
	err := query(ctx, q, sel, func(rows *entsql.Rows) error {
		var (
			a                  engine.Attempt
			filter             []byte
			report             sql.NullString
			status, stopReason string
		)
		err := rows.Scan(&a.ID, &a.TakerID, &a.ToolID, &filter, &status, &a.Flagged, &a.FlagReason,
			&stopReason, &a.State.Count, &report, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("scan attempt: %w", err)
		}
		a.Status = attempt.Status(status)
		a.StopReason = stopping.Reason(stopReason)
		if err := json.Unmarshal(filter, &a.Filter); err != nil {
			return fmt.Errorf("unmarshal filter: %w", err)
		}
		if report.Valid {
			var rep scoring.ScoreReport
			if err := json.Unmarshal([]byte(report.String), &rep); err != nil {
				return fmt.Errorf("unmarshal report: %w", err)
			}
			a.Report = &rep
		}
		att = &a
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query attempt: %w", err)
	}
	if att == nil {
		return nil, fmt.Errorf("%w: %s", engine.ErrAttemptNotFound, attemptID)
	}
	return att, nil
}

// Responses returns the response log of an attempt in administration order.
func (r *AttemptRepo) Responses(ctx context.Context, attemptID string) ([]attempt.Response, error) {
	return r.responses(ctx, r.s.drv, attemptID)
}

func (r *AttemptRepo) responses(ctx context.Context, q dialect.ExecQuerier, attemptID string) ([]attempt.Response, error) {
	b := r.s.builder()
	sel := b.Select(responseColumns...).
		From(b.Table(tableResponses)).
		Where(entsql.EQ("attempt_id", attemptID)).
		OrderBy(entsql.Asc("sequence"))

	out := []attempt.Response{}
	err := query(ctx, q, sel, func(rows *entsql.Rows) error {
		var (
			resp   attempt.Response
			answer []byte
			rtMs   int64
		)
		err := rows.Scan(&resp.Sequence, &resp.ItemID, &resp.Category,
			&resp.Params.A, &resp.Params.B, &resp.Params.C,
			&answer, &resp.Score, &resp.Correct, &rtMs,
			&resp.ThetaAfter, &resp.SEAfter, &resp.AnsweredAt,
			&resp.HintsUsed, &resp.BasePoints, &resp.MaxBasePoints)
		if err != nil {
			return fmt.Errorf("scan response: %w", err)
		}
		if err := json.Unmarshal(answer, &resp.Answer); err != nil {
			return fmt.Errorf("unmarshal answer: %w", err)
		}
		resp.ResponseTime = time.Duration(rtMs) * time.Millisecond
		out = append(out, resp)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}
	return out, nil
}

// SaveAttemptState appends the response and overwrites the snapshot in one
// transaction. The response must be the next in sequence and the state must
// account for it, otherwise nothing is written.
func (r *AttemptRepo) SaveAttemptState(ctx context.Context, attemptID string, state ability.State, resp attempt.Response) error {
	answer, err := json.Marshal(resp.Answer)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}

	return r.s.withTx(ctx, func(tx dialect.Tx) error {
		att, err := r.loadAttempt(ctx, tx, attemptID)
		if err != nil {
			return err
		}
		if err := writable(att); err != nil {
			return err
		}
		if resp.Sequence != att.State.Count+1 || state.Count != resp.Sequence {
			return fmt.Errorf("%w: attempt %s has %d responses, got sequence %d with state count %d",
				engine.ErrDataIntegrity, attemptID, att.State.Count, resp.Sequence, state.Count)
		}

		ins := r.s.builder().Insert(tableResponses).
			Columns(append([]string{"attempt_id"}, responseColumns...)...).
			Values(attemptID, resp.Sequence, resp.ItemID, resp.Category,
				resp.Params.A, resp.Params.B, resp.Params.C,
				string(answer), resp.Score, resp.Correct, resp.ResponseTime.Milliseconds(),
				resp.ThetaAfter, resp.SEAfter, resp.AnsweredAt.UTC(),
				resp.HintsUsed, resp.BasePoints, resp.MaxBasePoints)
		if _, err := exec(ctx, tx, ins); err != nil {
			return fmt.Errorf("insert response: %w", err)
		}

		if err := r.s.saveSnapshot(ctx, tx, attemptID, state); err != nil {
			return err
		}

		upd := r.s.builder().Update(tableAttempts).
			Set("status", string(attempt.StatusInProgress)).
			Set("item_count", resp.Sequence).
			Set("updated_at", r.s.timestamp()).
			Where(entsql.EQ("id", attemptID))
		if _, err := exec(ctx, tx, upd); err != nil {
			return fmt.Errorf("update attempt: %w", err)
		}
		return nil
	})
}

// CompleteAttempt stores the final report and closes the attempt.
func (r *AttemptRepo) CompleteAttempt(ctx context.Context, attemptID string, reason stopping.Reason, report scoring.ScoreReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	return r.s.withTx(ctx, func(tx dialect.Tx) error {
		att, err := r.loadAttempt(ctx, tx, attemptID)
		if err != nil {
			return err
		}
		if err := writable(att); err != nil {
			return err
		}

		now := r.s.timestamp()
		upd := r.s.builder().Update(tableAttempts).
			Set("status", string(attempt.StatusCompleted)).
			Set("stop_reason", string(reason)).
			Set("report", string(data)).
			Set("completed_at", now).
			Set("updated_at", now).
			Where(entsql.EQ("id", attemptID))
		if _, err := exec(ctx, tx, upd); err != nil {
			return fmt.Errorf("complete attempt: %w", err)
		}
		return nil
	})
}

// AbandonAttempt closes an open attempt without a report. Abandoning an
// abandoned attempt is a no-op.
func (r *AttemptRepo) AbandonAttempt(ctx context.Context, attemptID string) error {
	return r.s.withTx(ctx, func(tx dialect.Tx) error {
		att, err := r.loadAttempt(ctx, tx, attemptID)
		if err != nil {
			return err
		}
		if att.Status == attempt.StatusAbandoned {
			return nil
		}
		if err := writable(att); err != nil {
			return err
		}

		upd := r.s.builder().Update(tableAttempts).
			Set("status", string(attempt.StatusAbandoned)).
			Set("updated_at", r.s.timestamp()).
			Where(entsql.EQ("id", attemptID))
		if _, err := exec(ctx, tx, upd); err != nil {
			return fmt.Errorf("abandon attempt: %w", err)
		}
		return nil
	})
}

// FlagAttempt marks an open attempt for review. The first reason is kept
// and closed attempts are left untouched.
func (r *AttemptRepo) FlagAttempt(ctx context.Context, attemptID, reason string) error {
	upd := r.s.builder().Update(tableAttempts).
		Set("flagged", true).
		Set("flag_reason", reason).
		Set("updated_at", r.s.timestamp()).
		Where(entsql.And(
			entsql.EQ("id", attemptID),
			entsql.EQ("flagged", false),
			entsql.In("status", openStatuses...),
		))
	if _, err := exec(ctx, r.s.drv, upd); err != nil {
		return fmt.Errorf("flag attempt: %w", err)
	}
	return nil
}

// ListAttempts returns attempt summaries, newest first.
func (r *AttemptRepo) ListAttempts(ctx context.Context, opts ListOpts) ([]AttemptSummary, error) {
	b := r.s.builder()
	a := b.Table(tableAttempts).As("a")
	snap := b.Table(tableSnapshots).As("s")

	var preds []*entsql.Predicate
	if opts.TakerID != "" {
		preds = append(preds, entsql.EQ(a.C("taker_id"), opts.TakerID))
	}
	if opts.ToolID != "" {
		preds = append(preds, entsql.EQ(a.C("tool_id"), opts.ToolID))
	}
	if opts.Status != "" {
		preds = append(preds, entsql.EQ(a.C("status"), string(opts.Status)))
	}

	sel := b.Select(
		a.C("id"), a.C("taker_id"), a.C("tool_id"), a.C("status"), a.C("flagged"),
		a.C("stop_reason"), a.C("item_count"), snap.C("theta"), snap.C("se"),
		a.C("created_at"), a.C("completed_at"),
	).
		From(a).
		LeftJoin(snap).On(a.C("id"), snap.C("attempt_id")).
		OrderBy(entsql.Desc(a.C("created_at")), entsql.Asc(a.C("id")))
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	if opts.Limit > 0 {
		sel.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		sel.Offset(opts.Offset)
	}

	var out []AttemptSummary
	err := query(ctx, r.s.drv, sel, func(rows *entsql.Rows) error {
		var (
			sum                AttemptSummary
			status, stopReason string
			theta, se          sql.NullFloat64
			completed          sql.NullTime
		)
		err := rows.Scan(&sum.ID, &sum.TakerID, &sum.ToolID, &status, &sum.Flagged,
			&stopReason, &sum.ItemCount, &theta, &se, &sum.CreatedAt, &completed)
		if err != nil {
			return err
		}
		sum.Status = attempt.Status(status)
		sum.StopReason = stopping.Reason(stopReason)
		if theta.Valid {
			sum.Theta = &theta.Float64
		}
		if se.Valid {
			sum.SE = &se.Float64
		}
		if completed.Valid {
			sum.CompletedAt = &completed.Time
		}
		out = append(out, sum)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	return out, nil
}

// writable rejects writes to a closed attempt.
func writable(att *engine.Attempt) error {
	switch att.Status {
	case attempt.StatusCompleted:
		return fmt.Errorf("%w: %s", engine.ErrAlreadyCompleted, att.ID)
	case attempt.StatusAbandoned:
		return fmt.Errorf("%w: %s", engine.ErrAbandoned, att.ID)
	}
	return nil
}
