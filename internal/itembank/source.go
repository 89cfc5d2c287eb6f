package itembank

import (
	"context"
	"slices"
	"sync"
)

// Source returns the items eligible for an attempt.
type Source interface {
	FetchEligibleItems(ctx context.Context, filter Filter, excluded []string) ([]Item, error)
}

// MemoryBank is a fixed in-memory pool. Safe for concurrent use.
type MemoryBank struct {
	mu        sync.RWMutex
	items     []Item
	exposures map[string]int
}

// NewMemoryBank creates a bank holding copies of the given items.
func NewMemoryBank(items ...Item) *MemoryBank {
	return &MemoryBank{
		items:     slices.Clone(items),
		exposures: make(map[string]int),
	}
}

// FetchEligibleItems implements Source.
func (b *MemoryBank) FetchEligibleItems(_ context.Context, filter Filter, excluded []string) ([]Item, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := filter.Apply(b.items, excluded)
	for i := range out {
		out[i].Exposures += b.exposures[out[i].ID]
	}
	return out, nil
}

// LoadItems returns all items of a tool; it lets a MemoryBank back a Cache.
func (b *MemoryBank) LoadItems(ctx context.Context, toolID string) ([]Item, error) {
	return b.FetchEligibleItems(ctx, Filter{ToolID: toolID}, nil)
}

// Remove drops items from the bank.
func (b *MemoryBank) Remove(ids ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = slices.DeleteFunc(b.items, func(it Item) bool {
		return slices.Contains(ids, it.ID)
	})
}

// RecordExposure bumps the administration count of an item.
func (b *MemoryBank) RecordExposure(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exposures[id]++
}

// Len returns the number of items in the bank.
func (b *MemoryBank) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}
