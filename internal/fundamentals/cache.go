package fundamentals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"stockbt/internal/domain"
	"stockbt/internal/util"
)

// Compile-time interface check.
var _ Provider = (*RedisCache)(nil)

// RedisCache memoizes lookups of an inner Provider in Redis, including
// absent results. Redis errors are logged and bypass the cache.
type RedisCache struct {
	client *redis.Client
	inner  Provider
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewRedisCache wraps inner with a Redis cache. A zero ttl keeps entries
// until evicted.
func NewRedisCache(client *redis.Client, inner Provider, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		client: client,
		inner:  inner,
		ttl:    ttl,
		prefix: "stockbt:fund:",
		logger: logger.With("component", "fundamentals-cache"),
	}
}

// Key returns the cache key for a symbol and date.
func (c *RedisCache) Key(symbol string, asOf time.Time) string {
	return c.prefix + strings.ToUpper(symbol) + ":" + util.Day(asOf).Format(util.DateLayout)
}

// Fundamentals returns the cached value or fills the cache from inner.
func (c *RedisCache) Fundamentals(ctx context.Context, symbol string, asOf time.Time) (*domain.Fundamentals, error) {
	key := c.Key(symbol, asOf)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var f *domain.Fundamentals
		if jerr := json.Unmarshal(raw, &f); jerr == nil {
			return f, nil
		}
		c.logger.Warn("discarding undecodable cache entry", "key", key)
	case errors.Is(err, redis.Nil):
	default:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("redis get failed, bypassing cache", "key", key, "error", err)
	}

	f, err := c.inner.Fundamentals(ctx, symbol, asOf)
	if err != nil {
		return nil, fmt.Errorf("fundamentals for %s: %w", symbol, err)
	}

	body, err := json.Marshal(f)
	if err != nil {
		return f, nil
	}
	if serr := c.client.Set(ctx, key, string(body), c.ttl).Err(); serr != nil {
		c.logger.Warn("redis set failed", "key", key, "error", serr)
	}
	return f, nil
}
