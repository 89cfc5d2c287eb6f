package itembank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "adaptiq:items:"

// RedisBackend shares cached item sets between processes.
type RedisBackend struct {
	rdb    goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisBackend connects to addr and verifies the connection.
// A zero ttl keeps entries until invalidated.
func NewRedisBackend(ctx context.Context, addr string, ttl time.Duration) (*RedisBackend, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisBackendFromClient(rdb, "", ttl), nil
}

// NewRedisBackendFromClient wraps an existing client. An empty prefix uses
// the default key namespace.
func NewRedisBackendFromClient(rdb goredis.UniversalClient, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *RedisBackend) key(toolID string) string { return r.prefix + toolID }

func (r *RedisBackend) Get(ctx context.Context, toolID string) ([]Item, bool, error) {
	raw, err := r.rdb.Get(ctx, r.key(toolID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false, fmt.Errorf("decode cached items: %w", err)
	}
	return items, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, toolID string, items []Item) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.key(toolID), raw, r.ttl).Err()
}

func (r *RedisBackend) Delete(ctx context.Context, toolIDs ...string) error {
	if len(toolIDs) == 0 {
		return nil
	}
	keys := make([]string, len(toolIDs))
	for i, id := range toolIDs {
		keys[i] = r.key(id)
	}
	return r.rdb.Del(ctx, keys...).Err()
}

func (r *RedisBackend) Clear(ctx context.Context) error {
	iter := r.rdb.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}

// Close releases the underlying client.
func (r *RedisBackend) Close() error {
	return r.rdb.Close()
}
