package assessment

import (
	"context"

	"github.com/abhisek/adaptiq/internal/engine"
	"github.com/abhisek/adaptiq/internal/itembank"
)

// CacheQuarantine quarantines items in the store and drops cached item
// sets so the item stops being served from the cache.
type CacheQuarantine struct {
	Quarantine engine.Quarantine
	Cache      *itembank.Cache
}

// QuarantineItem implements engine.Quarantine.
func (q *CacheQuarantine) QuarantineItem(ctx context.Context, itemID, reason string) error {
	if err := q.Quarantine.QuarantineItem(ctx, itemID, reason); err != nil {
		return err
	}
	if q.Cache == nil {
		return nil
	}
	// The item's tool is not known here.
	return q.Cache.InvalidateAll(ctx)
}
