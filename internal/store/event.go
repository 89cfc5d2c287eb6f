package store

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

// sequenceCounter hands out the global monotonic sequence shared by every
// event table, so events of different types can be ordered against each
// other. Each call runs inside the caller's transaction; the single-row
// update is atomic at the database level.
type sequenceCounter struct{}

// Next returns the next sequence number and increments the counter.
func (sequenceCounter) Next(ctx context.Context, tx dialect.ExecQuerier) (int64, error) {
	b := entsql.Dialect(dialect.SQLite)

	// Seed the row on first use.
	seed := b.Insert(tableSequence).
		Columns("id", "next_val").
		Values(1, 1).
		OnConflict(entsql.ConflictColumns("id"), entsql.DoNothing())
	if _, err := exec(ctx, tx, seed); err != nil {
		return 0, fmt.Errorf("seed sequence: %w", err)
	}

	var seq int64
	sel := b.Select("next_val").From(b.Table(tableSequence)).Where(entsql.EQ("id", 1))
	err := query(ctx, tx, sel, func(rows *entsql.Rows) error {
		return rows.Scan(&seq)
	})
	if err != nil {
		return 0, fmt.Errorf("read sequence: %w", err)
	}

	bump := b.Update(tableSequence).Add("next_val", 1).Where(entsql.EQ("id", 1))
	if _, err := exec(ctx, tx, bump); err != nil {
		return 0, fmt.Errorf("advance sequence: %w", err)
	}
	return seq, nil
}
