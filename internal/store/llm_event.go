package store

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

// eventRepo implements EventRepo on the SQL builder and the global sequence
// counter.
type eventRepo struct {
	s   *Store
	seq *sequenceCounter
}

func (r *eventRepo) AppendLLMRequest(ctx context.Context, data LLMRequestEventData) error {
	return r.s.withTx(ctx, func(tx dialect.Tx) error {
		seqNum, err := r.seq.Next(ctx, tx)
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}

		ins := r.s.builder().Insert(tableLLMRequests).
			Columns("sequence", "timestamp", "provider", "model", "purpose",
				"input_tokens", "output_tokens", "latency_ms", "success", "error_message").
			Values(seqNum, r.s.timestamp(), data.Provider, data.Model, data.Purpose,
				data.InputTokens, data.OutputTokens, data.LatencyMs, data.Success, data.ErrorMessage)
		if _, err := exec(ctx, tx, ins); err != nil {
			return fmt.Errorf("save LLM request event: %w", err)
		}
		return nil
	})
}

func (r *eventRepo) LLMUsage(ctx context.Context) ([]LLMUsage, error) {
	b := r.s.builder()
	sel := b.Select("provider", "model").
		AppendSelectExpr(
			entsql.Expr("COUNT(*)"),
			entsql.Expr("SUM(CASE WHEN success THEN 0 ELSE 1 END)"),
			entsql.Expr("SUM(input_tokens)"),
			entsql.Expr("SUM(output_tokens)"),
		).
		From(b.Table(tableLLMRequests)).
		GroupBy("provider", "model").
		OrderBy(entsql.Asc("provider"), entsql.Asc("model"))

	var out []LLMUsage
	err := query(ctx, r.s.drv, sel, func(rows *entsql.Rows) error {
		var u LLMUsage
		if err := rows.Scan(&u.Provider, &u.Model, &u.Requests, &u.Failures, &u.InputTokens, &u.OutputTokens); err != nil {
			return err
		}
		out = append(out, u)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query LLM usage: %w", err)
	}
	return out, nil
}
