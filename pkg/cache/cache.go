// Package cache wraps the Redis fast path shared by session lookups and the
// rate limiter (spec.md §4.2 Cache, C2). The Incr-with-TTL pipeline is
// grounded directly on the teacher's login rate limiter
// (wisbric-nightowl/internal/auth/ratelimit.go): INCR then EXPIRE-if-first,
// generalized here into a reusable counter instead of a login-specific type.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a thin wrapper over *redis.Client used by pkg/ratelimit and the
// session hot-path. It never hides Redis unavailability: callers decide
// whether to fall back (pkg/ratelimit falls back to Postgres; sessions
// simply miss and re-hit the store).
type Cache struct {
	rdb *redis.Client
}

// New wraps an existing Redis client.
func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// Incr atomically increments key and, only on the first increment within the
// window, sets its expiry to window. It returns the post-increment count and
// the remaining TTL (zero if the key does not expire, which should not
// happen once the first Expire call lands).
func (c *Cache) Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error) {
	pipe := c.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	count = incr.Val()

	if count == 1 {
		if err := c.rdb.Expire(ctx, key, window).Err(); err != nil {
			return count, 0, err
		}
		return count, window, nil
	}

	ttl, err = c.rdb.TTL(ctx, key).Result()
	if err != nil {
		return count, 0, err
	}
	if ttl < 0 {
		// Key survived without an expiry (e.g. a prior crash between INCR and
		// EXPIRE); repair it rather than let it live forever.
		if err := c.rdb.Expire(ctx, key, window).Err(); err != nil {
			return count, 0, err
		}
		ttl = window
	}
	return count, ttl, nil
}

// Get returns the raw string value for key, and false if it does not exist.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set stores value under key with the given TTL (zero means no expiry).
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Del removes one or more keys. Missing keys are not an error.
func (c *Cache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// Ping checks connectivity, used by the /healthz handler and by
// pkg/ratelimit to decide whether to take the Postgres fallback path.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
