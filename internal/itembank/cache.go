package itembank

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Loader fetches the full item set of a tool from the backing store.
type Loader interface {
	LoadItems(ctx context.Context, toolID string) ([]Item, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, toolID string) ([]Item, error)

// LoadItems implements Loader.
func (f LoaderFunc) LoadItems(ctx context.Context, toolID string) ([]Item, error) {
	return f(ctx, toolID)
}

// Backend stores cached item sets keyed by tool id.
type Backend interface {
	Get(ctx context.Context, toolID string) ([]Item, bool, error)
	Set(ctx context.Context, toolID string, items []Item) error
	Delete(ctx context.Context, toolIDs ...string) error
	Clear(ctx context.Context) error
}

// Cache is a read-through cache of item sets keyed by tool id. Entries live
// until explicitly invalidated (or until the backend expires them).
type Cache struct {
	loader  Loader
	backend Backend
	group   singleflight.Group
	logger  *slog.Logger
}

// NewCache creates a cache over the loader. A nil backend keeps entries in
// process memory.
func NewCache(loader Loader, backend Backend, logger *slog.Logger) *Cache {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{loader: loader, backend: backend, logger: logger}
}

// Get returns the items of a tool, loading them on a miss. Concurrent misses
// for the same tool share one load.
func (c *Cache) Get(ctx context.Context, toolID string) ([]Item, error) {
	items, ok, err := c.backend.Get(ctx, toolID)
	if err != nil {
		// A broken cache must not take the assessment down.
		c.logger.Warn("item cache read failed", "tool", toolID, "error", err)
	} else if ok {
		return items, nil
	}

	v, err, _ := c.group.Do(toolID, func() (any, error) {
		items, err := c.loader.LoadItems(ctx, toolID)
		if err != nil {
			return nil, fmt.Errorf("load items for %s: %w", toolID, err)
		}
		if err := c.backend.Set(ctx, toolID, items); err != nil {
			c.logger.Warn("item cache write failed", "tool", toolID, "error", err)
		}
		c.logger.Debug("item cache filled", "tool", toolID, "items", len(items))
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]Item)), nil
}

// Invalidate drops the cached items of the given tools.
func (c *Cache) Invalidate(ctx context.Context, toolIDs ...string) error {
	for _, id := range toolIDs {
		c.group.Forget(id)
	}
	return c.backend.Delete(ctx, toolIDs...)
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	return c.backend.Clear(ctx)
}

// ExposureCounter reports live administration counts for a tool's items.
type ExposureCounter interface {
	ExposureCounts(ctx context.Context, toolID string) (map[string]int, error)
}

// CachedSource serves FetchEligibleItems from a Cache. Exposure counts are
// overlaid from Counter on every call when one is set, since they change
// with each administration.
type CachedSource struct {
	Cache   *Cache
	Counter ExposureCounter
}

// FetchEligibleItems implements Source.
func (s *CachedSource) FetchEligibleItems(ctx context.Context, filter Filter, excluded []string) ([]Item, error) {
	items, err := s.Cache.Get(ctx, filter.ToolID)
	if err != nil {
		return nil, err
	}
	out := filter.Apply(items, excluded)
	if s.Counter == nil {
		return out, nil
	}

	counts, err := s.Counter.ExposureCounts(ctx, filter.ToolID)
	if err != nil {
		return nil, fmt.Errorf("exposure counts: %w", err)
	}
	for i := range out {
		out[i].Exposures = counts[out[i].ID]
	}
	return out, nil
}

// MemoryBackend keeps cached item sets in a map.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string][]Item
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string][]Item)}
}

func (m *MemoryBackend) Get(_ context.Context, toolID string) ([]Item, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items, ok := m.entries[toolID]
	return slices.Clone(items), ok, nil
}

func (m *MemoryBackend) Set(_ context.Context, toolID string, items []Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[toolID] = slices.Clone(items)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, toolIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range toolIDs {
		delete(m.entries, id)
	}
	return nil
}

func (m *MemoryBackend) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.entries)
	return nil
}
