// internal/common/cache/cache.go
// Key-value cache abstraction used for memoizing computed results.
// Backed by Redis in deployments; a no-op implementation keeps the
// application functional when Redis is not configured.

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss is returned when a key is not present in the cache.
var ErrCacheMiss = errors.New("cache miss")

// Cache is a shared, externally-synchronized key-value store.
// Writes are last-write-wins; callers must tolerate stale or missing
// entries.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeletePattern removes every key matching the given glob pattern
	// and returns the number of keys removed.
	DeletePattern(ctx context.Context, pattern string) (int64, error)
}

type redisCache struct {
	client *redis.Client
}

// NewRedisCache wraps a Redis client in the Cache interface.
func NewRedisCache(client *redis.Client) Cache {
	return &redisCache{client: client}
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	return val, err
}

func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// DeletePattern scans for matching keys instead of using KEYS, which
// blocks Redis on large keyspaces.
func (c *redisCache) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, err
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

type noopCache struct{}

// NewNoopCache returns a cache that stores nothing. Every Get is a
// miss, so callers always compute fresh results.
func NewNoopCache() Cache {
	return &noopCache{}
}

func (noopCache) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, ErrCacheMiss
}

func (noopCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (noopCache) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	return 0, nil
}
