// Package cache keeps finished window optimizations in Redis so repeated
// runs over unchanged data skip the search.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ajitpratap0/stratalloc/pkg/optimizer"
)

const (
	keyPrefix = "stratalloc:window:"

	// DefaultTTL applies when no TTL is configured.
	DefaultTTL = 7 * 24 * time.Hour

	opTimeout = 500 * time.Millisecond
)

// WindowCache is a Redis-backed walkforward.ResultCache
type WindowCache struct {
	client *redis.Client
	ttl    time.Duration
}

// entry is the stored form of a result. msgpack keeps non-finite fitness
// values that JSON cannot represent.
type entry struct {
	Allocation  []float64 `msgpack:"a"`
	Fitness     float64   `msgpack:"f"`
	Evaluations int       `msgpack:"e"`
	CachedAt    time.Time `msgpack:"t"`
}

// NewWindowCache creates a window cache.
// If client is nil, returns nil (optional Redis support)
func NewWindowCache(client *redis.Client, ttl time.Duration) *WindowCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &WindowCache{client: client, ttl: ttl}
}

// Get returns the cached result for key. Any error is treated as a miss.
func (c *WindowCache) Get(ctx context.Context, key string) (optimizer.Result, bool) {
	if c == nil || c.client == nil {
		return optimizer.Result{}, false
	}

	cacheCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := c.client.Get(cacheCtx, keyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Debug().
				Err(err).
				Str("key", key).
				Msg("Redis get error - treating as cache miss")
		}
		return optimizer.Result{}, false
	}

	var e entry
	if err := msgpack.Unmarshal(data, &e); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to decode cached window result")
		return optimizer.Result{}, false
	}

	log.Debug().
		Str("key", key).
		Time("cached_at", e.CachedAt).
		Msg("Cache hit for window")

	return optimizer.Result{
		Allocation:  e.Allocation,
		Fitness:     e.Fitness,
		Evaluations: e.Evaluations,
	}, true
}

// Set stores result under key with the configured TTL
func (c *WindowCache) Set(ctx context.Context, key string, result optimizer.Result) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	data, err := msgpack.Marshal(entry{
		Allocation:  result.Allocation,
		Fitness:     result.Fitness,
		Evaluations: result.Evaluations,
		CachedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode window result: %w", err)
	}

	cacheCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.client.Set(cacheCtx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to cache window result")
		return err
	}
	return nil
}

// Clear removes all cached window results
func (c *WindowCache) Clear(ctx context.Context) (int, error) {
	if c == nil || c.client == nil {
		return 0, fmt.Errorf("cache not initialized")
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	iter := c.client.Scan(cacheCtx, 0, keyPrefix+"*", 0).Iterator()
	count := 0
	for iter.Next(cacheCtx) {
		if err := c.client.Del(cacheCtx, iter.Val()).Err(); err != nil {
			log.Warn().
				Err(err).
				Str("key", iter.Val()).
				Msg("Failed to delete cache key")
			continue
		}
		count++
	}
	if err := iter.Err(); err != nil {
		return count, fmt.Errorf("cache scan error: %w", err)
	}

	log.Info().Int("keys_deleted", count).Msg("Cleared window cache")
	return count, nil
}

// Health checks if the Redis connection is healthy
func (c *WindowCache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.client.Ping(cacheCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
