package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/adaptiq/internal/ability"
)

// errNoSnapshot is returned by loadSnapshot when an attempt has no
// responses yet.
var errNoSnapshot = errors.New("no snapshot")

// snapshotVersion tags the JSON layout of stored ability states.
const snapshotVersion = 1

// snapshotData is the stored form of an ability state.
type snapshotData struct {
	Version int           `json:"version"`
	State   ability.State `json:"state"`
}

// saveSnapshot overwrites the attempt's snapshot with state.
func (s *Store) saveSnapshot(ctx context.Context, tx dialect.ExecQuerier, attemptID string, state ability.State) error {
	data, err := json.Marshal(snapshotData{Version: snapshotVersion, State: state})
	if err != nil {
		return fmt.Errorf("marshal snapshot data: %w", err)
	}

	ins := s.builder().Insert(tableSnapshots).
		Columns("attempt_id", "theta", "se", "item_count", "phase", "state", "updated_at").
		Values(attemptID, state.Theta, state.SE, state.Count, string(state.Phase), string(data), s.timestamp()).
		OnConflict(
			entsql.ConflictColumns("attempt_id"),
			entsql.ResolveWithNewValues(),
		)
	if _, err := exec(ctx, tx, ins); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// loadSnapshot returns the stored ability state of an attempt, or
// errNoSnapshot.
func (s *Store) loadSnapshot(ctx context.Context, q dialect.ExecQuerier, attemptID string) (ability.State, error) {
	b := s.builder()
	sel := b.Select("state").
		From(b.Table(tableSnapshots)).
		Where(entsql.EQ("attempt_id", attemptID))

	var raw []byte
	found := false
	err := query(ctx, q, sel, func(rows *entsql.Rows) error {
		found = true
		return rows.Scan(&raw)
	})
	if err != nil {
		return ability.State{}, fmt.Errorf("query snapshot: %w", err)
	}
	if !found {
		return ability.State{}, errNoSnapshot
	}

	var data snapshotData
	if err := json.Unmarshal(raw, &data); err != nil {
		return ability.State{}, fmt.Errorf("unmarshal snapshot data: %w", err)
	}
	if data.Version != snapshotVersion {
		return ability.State{}, fmt.Errorf("unsupported snapshot version %d", data.Version)
	}
	return data.State, nil
}
