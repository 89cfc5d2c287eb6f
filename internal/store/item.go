package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/adaptiq/internal/itembank"
)

// itemColumns is the read order used by scanItem.
var itemColumns = []string{
	"id", "tool_id", "category", "audience", "type", "prompt",
	"discrimination", "difficulty", "guessing", "options", "answer_key",
}

// ItemRepo stores the item bank and the quarantine list.
type ItemRepo struct {
	s *Store
}

// UpsertItems validates and writes items, replacing existing rows with the
// same id. Re-importing an item lifts its quarantine.
func (r *ItemRepo) UpsertItems(ctx context.Context, items []itembank.Item) (int, error) {
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return 0, err
		}
	}
	if len(items) == 0 {
		return 0, nil
	}

	now := r.s.timestamp()
	ids := make([]any, 0, len(items))
	err := r.s.withTx(ctx, func(tx dialect.Tx) error {
		for _, it := range items {
			options, err := json.Marshal(it.Options)
			if err != nil {
				return fmt.Errorf("marshal options of %s: %w", it.ID, err)
			}
			key, err := json.Marshal(it.Key)
			if err != nil {
				return fmt.Errorf("marshal key of %s: %w", it.ID, err)
			}

			ins := r.s.builder().Insert(tableItems).
				Columns(append(slices.Clone(itemColumns), "created_at", "updated_at")...).
				Values(it.ID, it.ToolID, it.Category, it.Audience, string(it.Type), it.Prompt,
					it.Params.A, it.Params.B, it.Params.C, string(options), string(key), now, now).
				OnConflict(
					entsql.ConflictColumns("id"),
					entsql.ResolveWith(func(u *entsql.UpdateSet) {
						for _, c := range itemColumns[1:] {
							u.SetExcluded(c)
						}
						u.SetExcluded("updated_at")
					}),
				)
			if _, err := exec(ctx, tx, ins); err != nil {
				return fmt.Errorf("upsert item %s: %w", it.ID, err)
			}
			ids = append(ids, it.ID)
		}

		del := r.s.builder().Delete(tableQuarantine).Where(entsql.In("item_id", ids...))
		if _, err := exec(ctx, tx, del); err != nil {
			return fmt.Errorf("lift quarantine: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// LoadItems returns every non-quarantined item of a tool, ordered by id.
// Exposures are left at zero. It implements itembank.Loader.
func (r *ItemRepo) LoadItems(ctx context.Context, toolID string) ([]itembank.Item, error) {
	return r.selectItems(ctx, itembank.Filter{ToolID: toolID}, nil)
}

// FetchEligibleItems implements itembank.Source directly on the database,
// with live exposure counts.
func (r *ItemRepo) FetchEligibleItems(ctx context.Context, filter itembank.Filter, excluded []string) ([]itembank.Item, error) {
	items, err := r.selectItems(ctx, filter, excluded)
	if err != nil {
		return nil, err
	}
	counts, err := r.ExposureCounts(ctx, filter.ToolID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Exposures = counts[items[i].ID]
	}
	return items, nil
}

func (r *ItemRepo) selectItems(ctx context.Context, filter itembank.Filter, excluded []string) ([]itembank.Item, error) {
	b := r.s.builder()
	quarantined := b.Select("item_id").From(b.Table(tableQuarantine))

	preds := []*entsql.Predicate{entsql.NotIn("id", quarantined)}
	if filter.ToolID != "" {
		preds = append(preds, entsql.EQ("tool_id", filter.ToolID))
	}
	if len(excluded) > 0 {
		preds = append(preds, entsql.NotIn("id", anys(excluded)...))
	}
	if len(filter.Categories) > 0 {
		preds = append(preds, entsql.In("category", anys(filter.Categories)...))
	}

	sel := b.Select(itemColumns...).
		From(b.Table(tableItems)).
		Where(entsql.And(preds...)).
		OrderBy(entsql.Asc("id"))

	var items []itembank.Item
	err := query(ctx, r.s.drv, sel, func(rows *entsql.Rows) error {
		it, err := scanItem(rows)
		if err != nil {
			return err
		}
		// Audience matching treats empty audiences as shared.
		if filter.Matches(it) {
			items = append(items, it)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	return items, nil
}

func scanItem(rows *entsql.Rows) (itembank.Item, error) {
	var (
		it           itembank.Item
		typ          string
		options, key []byte
	)
	err := rows.Scan(&it.ID, &it.ToolID, &it.Category, &it.Audience, &typ, &it.Prompt,
		&it.Params.A, &it.Params.B, &it.Params.C, &options, &key)
	if err != nil {
		return itembank.Item{}, fmt.Errorf("scan item: %w", err)
	}
	it.Type = itembank.ItemType(typ)
	if err := json.Unmarshal(options, &it.Options); err != nil {
		return itembank.Item{}, fmt.Errorf("unmarshal options of %s: %w", it.ID, err)
	}
	if err := json.Unmarshal(key, &it.Key); err != nil {
		return itembank.Item{}, fmt.Errorf("unmarshal key of %s: %w", it.ID, err)
	}
	return it, nil
}

// ExposureCounts returns how many responses each item of the tool has
// received across all attempts. It implements itembank.ExposureCounter.
func (r *ItemRepo) ExposureCounts(ctx context.Context, toolID string) (map[string]int, error) {
	b := r.s.builder()
	sel := b.Select("item_id", entsql.Count("*")).
		From(b.Table(tableResponses)).
		GroupBy("item_id")
	if toolID != "" {
		sel.Where(entsql.In("item_id",
			b.Select("id").From(b.Table(tableItems)).Where(entsql.EQ("tool_id", toolID)),
		))
	}

	counts := make(map[string]int)
	err := query(ctx, r.s.drv, sel, func(rows *entsql.Rows) error {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return err
		}
		counts[id] = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query exposure counts: %w", err)
	}
	return counts, nil
}

// QuarantineItem excludes an item from selection until it is re-imported.
func (r *ItemRepo) QuarantineItem(ctx context.Context, itemID, reason string) error {
	ins := r.s.builder().Insert(tableQuarantine).
		Columns("item_id", "reason", "created_at").
		Values(itemID, reason, r.s.timestamp()).
		OnConflict(
			entsql.ConflictColumns("item_id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("reason")
			}),
		)
	if _, err := exec(ctx, r.s.drv, ins); err != nil {
		return fmt.Errorf("quarantine item %s: %w", itemID, err)
	}
	return nil
}

// ListQuarantined returns all quarantined items, oldest first.
func (r *ItemRepo) ListQuarantined(ctx context.Context) ([]QuarantinedItem, error) {
	b := r.s.builder()
	sel := b.Select("item_id", "reason", "created_at").
		From(b.Table(tableQuarantine)).
		OrderBy(entsql.Asc("created_at"), entsql.Asc("item_id"))

	var out []QuarantinedItem
	err := query(ctx, r.s.drv, sel, func(rows *entsql.Rows) error {
		var q QuarantinedItem
		if err := rows.Scan(&q.ItemID, &q.Reason, &q.CreatedAt); err != nil {
			return err
		}
		out = append(out, q)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query quarantine: %w", err)
	}
	return out, nil
}

// ListTools summarizes the tools in the bank, ordered by tool id.
func (r *ItemRepo) ListTools(ctx context.Context) ([]ToolSummary, error) {
	b := r.s.builder()
	sel := b.Select("tool_id", "category", entsql.Count("*")).
		From(b.Table(tableItems)).
		GroupBy("tool_id", "category").
		OrderBy(entsql.Asc("tool_id"), entsql.Asc("category"))

	var out []ToolSummary
	err := query(ctx, r.s.drv, sel, func(rows *entsql.Rows) error {
		var (
			tool, category string
			n              int
		)
		if err := rows.Scan(&tool, &category, &n); err != nil {
			return err
		}
		if len(out) == 0 || out[len(out)-1].ToolID != tool {
			out = append(out, ToolSummary{ToolID: tool})
		}
		last := &out[len(out)-1]
		last.Items += n
		last.Categories = append(last.Categories, category)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query tools: %w", err)
	}
	return out, nil
}

func anys(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
