// Package cache stores derived allocation inputs (scarcity scores, demand
// multipliers) in Redis so that every instance reads the same values for
// a few minutes instead of hitting the database per quote.  A nil client
// turns every call into a miss, mirroring how the server degrades when
// Redis is unreachable at start-up.
package cache

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    "github.com/redis/go-redis/v9"
)

// RedisCache implements capacity.Cache on top of go-redis.
type RedisCache struct {
    rdb    *redis.Client
    prefix string
}

// NewRedisCache wraps rdb.  Keys are namespaced with prefix ("alloc" when
// empty).
func NewRedisCache(rdb *redis.Client, prefix string) *RedisCache {
    if prefix == "" {
        prefix = "alloc"
    }
    return &RedisCache{rdb: rdb, prefix: prefix}
}

// Enabled reports whether a Redis client is configured.
func (c *RedisCache) Enabled() bool { return c != nil && c.rdb != nil }

func (c *RedisCache) key(k string) string { return c.prefix + ":" + k }

// GetJSON loads key into dst.  A missing key is (false, nil).
func (c *RedisCache) GetJSON(ctx context.Context, key string, dst interface{}) (bool, error) {
    if !c.Enabled() {
        return false, nil
    }
    bs, err := c.rdb.Get(ctx, c.key(key)).Bytes()
    if errors.Is(err, redis.Nil) {
        return false, nil
    }
    if err != nil {
        return false, fmt.Errorf("cache get %s: %w", key, err)
    }
    if err := json.Unmarshal(bs, dst); err != nil {
        // a value we cannot decode is as good as absent
        _ = c.rdb.Del(ctx, c.key(key)).Err()
        return false, nil
    }
    return true, nil
}

// SetJSON stores value under key for ttl.
func (c *RedisCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
    if !c.Enabled() {
        return nil
    }
    bs, err := json.Marshal(value)
    if err != nil {
        return fmt.Errorf("cache marshal %s: %w", key, err)
    }
    if err := c.rdb.Set(ctx, c.key(key), bs, ttl).Err(); err != nil {
        return fmt.Errorf("cache set %s: %w", key, err)
    }
    return nil
}

// Invalidate removes keys, e.g. after a restaurant's scarcity metrics are
// recomputed.
func (c *RedisCache) Invalidate(ctx context.Context, keys ...string) error {
    if !c.Enabled() || len(keys) == 0 {
        return nil
    }
    full := make([]string, len(keys))
    for i, k := range keys {
        full[i] = c.key(k)
    }
    return c.rdb.Del(ctx, full...).Err()
}
