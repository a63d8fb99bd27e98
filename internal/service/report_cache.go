package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/yourorg/valetgate/internal/infrastructure/redis"
	"github.com/yourorg/valetgate/internal/reliability/circuitbreaker"
	"github.com/yourorg/valetgate/pkg/cache"
)

// RedisReportCache backs the report cache with Redis. A circuit breaker
// fast-fails cache traffic when Redis misbehaves repeatedly, so a dead cache
// never slows the report path; reports fall through to the database.
type RedisReportCache struct {
	client  *redis.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewRedisReportCache creates a Redis-backed report cache
func NewRedisReportCache(client *redis.Client, logger *slog.Logger) *RedisReportCache {
	if logger == nil {
		logger = slog.Default()
	}
	cb := circuitbreaker.NewCircuitBreaker(5, 2, 30*time.Second)
	cb.SetStateChangeCallback(func(from, to circuitbreaker.State) {
		logger.Warn("report cache circuit state changed",
			slog.Int("from", int(from)),
			slog.Int("to", int(to)),
		)
	})
	return &RedisReportCache{client: client, breaker: cb, logger: logger}
}

func (c *RedisReportCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if !c.breaker.AllowRequest() {
		return nil, false
	}
	raw, err := c.client.Get(ctx, key)
	if err != nil {
		if redis.IsMiss(err) {
			c.breaker.RecordSuccess()
			return nil, false
		}
		c.breaker.RecordFailure()
		c.logger.Warn("report cache read failed", slog.String("error", err.Error()))
		return nil, false
	}
	c.breaker.RecordSuccess()
	return raw, true
}

func (c *RedisReportCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if !c.breaker.AllowRequest() {
		return
	}
	if err := c.client.Set(ctx, key, value, ttl); err != nil {
		c.breaker.RecordFailure()
		c.logger.Warn("report cache write failed", slog.String("error", err.Error()))
		return
	}
	c.breaker.RecordSuccess()
}

// MemoryReportCache backs the report cache with the in-process TTL cache,
// used when Redis is not configured.
type MemoryReportCache struct {
	cache *cache.Cache
}

// NewMemoryReportCache creates an in-memory report cache
func NewMemoryReportCache() *MemoryReportCache {
	return &MemoryReportCache{cache: cache.New()}
}

func (c *MemoryReportCache) Get(_ context.Context, key string) ([]byte, bool) {
	return c.cache.Get(key)
}

func (c *MemoryReportCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.cache.Set(key, value, ttl)
}

// Prune drops expired entries; called by the janitor worker.
func (c *MemoryReportCache) Prune() int {
	return c.cache.Prune()
}
