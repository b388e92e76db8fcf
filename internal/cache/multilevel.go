// Package cache provides the read-through cache used in front of the todo
// repository: a process-local L1 and an optional Redis L2 guarded by a
// circuit breaker.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) error
	Stats() map[string]interface{}
	Health(ctx context.Context) error
	Close() error
}

const (
	defaultL1Entries = 10000
	l1BackfillTTL    = 5 * time.Minute

	// DefaultL1MaxTTL bounds how long a replica serves an entry from its own
	// memory once Redis is shared, since other replicas cannot evict it.
	DefaultL1MaxTTL = 30 * time.Second
)

type MultiLevelCache struct {
	l1      *MemoryCache
	l2      *RedisCache
	breaker *CircuitBreaker
	metrics *CacheMetrics

	l1MaxTTL     time.Duration
	flushPattern string

	// l2Stale is set when an L2 delete failed. L2 is not read again until
	// flushPattern has been deleted from it successfully.
	staleMu    sync.Mutex
	l2Stale    bool
	staleEpoch uint64
}

// NewMultiLevelCache builds an L1-only cache when redisCache is nil.
func NewMultiLevelCache(redisCache *RedisCache, breakerConfig *CircuitBreakerConfig) *MultiLevelCache {
	c := &MultiLevelCache{
		l1:           NewMemoryCache(defaultL1Entries),
		l2:           redisCache,
		breaker:      NewCircuitBreaker(breakerConfig),
		metrics:      NewCacheMetrics(),
		flushPattern: "*",
	}
	if redisCache != nil {
		c.l1MaxTTL = DefaultL1MaxTTL
	}
	return c
}

// WithFlushPattern sets the keys dropped from L2 after a failed invalidation.
func (c *MultiLevelCache) WithFlushPattern(pattern string) *MultiLevelCache {
	c.flushPattern = pattern
	return c
}

// WithL1MaxTTL caps L1 entry lifetimes. Zero leaves them uncapped.
func (c *MultiLevelCache) WithL1MaxTTL(ttl time.Duration) *MultiLevelCache {
	c.l1MaxTTL = ttl
	return c
}

func (c *MultiLevelCache) l1TTL(ttl time.Duration) time.Duration {
	if c.l1MaxTTL > 0 && (ttl <= 0 || ttl > c.l1MaxTTL) {
		return c.l1MaxTTL
	}
	return ttl
}

func (c *MultiLevelCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, c.l1TTL(ttl)); err != nil {
		c.metrics.RecordError()
		return err
	}
	c.metrics.RecordSet()

	return c.onL2(func() error {
		return c.l2.Set(ctx, key, value, ttl)
	})
}

func (c *MultiLevelCache) Get(ctx context.Context, key string, dest interface{}) error {
	err := c.l1.Get(ctx, key, dest)
	if err == nil {
		c.metrics.RecordHit()
		return nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.metrics.RecordError()
		return err
	}

	if c.l2 == nil || !c.l2Readable(ctx) {
		c.metrics.RecordMiss()
		return ErrCacheMiss
	}

	missed := false
	err = c.breaker.Execute(func() error {
		getErr := c.l2.Get(ctx, key, dest)
		if errors.Is(getErr, ErrCacheMiss) {
			missed = true
			return nil
		}
		return getErr
	})

	switch {
	case err != nil:
		c.metrics.RecordError()
		return err
	case missed:
		c.metrics.RecordMiss()
		return ErrCacheMiss
	}

	c.metrics.RecordHit()
	_ = c.l1.Set(ctx, key, dest, c.l1TTL(l1BackfillTTL))
	return nil
}

func (c *MultiLevelCache) Delete(ctx context.Context, key string) error {
	_ = c.l1.Delete(ctx, key)
	c.metrics.RecordDelete()

	err := c.onL2(func() error {
		return c.l2.Delete(ctx, key)
	})
	if err != nil {
		c.markStale(key, err)
	}
	return err
}

func (c *MultiLevelCache) DeletePattern(ctx context.Context, pattern string) error {
	if err := c.l1.DeletePattern(ctx, pattern); err != nil {
		c.metrics.RecordError()
		return err
	}
	c.metrics.RecordDelete()

	err := c.onL2(func() error {
		return c.l2.DeletePattern(ctx, pattern)
	})
	if err != nil {
		c.markStale(pattern, err)
	}
	return err
}

// Stale reports whether L2 may still hold entries that failed to invalidate.
func (c *MultiLevelCache) Stale() bool {
	c.staleMu.Lock()
	defer c.staleMu.Unlock()
	return c.l2Stale
}

func (c *MultiLevelCache) markStale(key string, err error) {
	c.staleMu.Lock()
	c.l2Stale = true
	c.staleEpoch++
	c.staleMu.Unlock()

	log.Warn().Err(err).Str("key", key).Msg("L2 invalidation failed, bypassing L2 until flushed")
}

// l2Readable flushes a stale L2 before it is read again. A failure that lands
// while the flush runs keeps L2 stale.
func (c *MultiLevelCache) l2Readable(ctx context.Context) bool {
	c.staleMu.Lock()
	stale, epoch := c.l2Stale, c.staleEpoch
	c.staleMu.Unlock()
	if !stale {
		return true
	}

	err := c.breaker.Execute(func() error {
		return c.l2.DeletePattern(ctx, c.flushPattern)
	})
	if err != nil {
		return false
	}

	c.staleMu.Lock()
	defer c.staleMu.Unlock()
	if c.staleEpoch != epoch {
		return false
	}
	c.l2Stale = false
	log.Info().Str("pattern", c.flushPattern).Msg("L2 flushed after failed invalidation")
	return true
}

func (c *MultiLevelCache) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"l1":              c.l1.Stats(),
		"metrics":         c.metrics.GetStats(),
		"circuit_breaker": c.breaker.GetStats(),
	}
	if c.l2 != nil {
		stats["l2"] = c.l2.Stats()
		stats["l2_stale"] = c.Stale()
	}
	return stats
}

func (c *MultiLevelCache) Health(ctx context.Context) error {
	if c.l2 == nil {
		return nil
	}
	return c.l2.Health(ctx)
}

func (c *MultiLevelCache) Metrics() *CacheMetrics {
	return c.metrics
}

func (c *MultiLevelCache) Close() error {
	_ = c.l1.Close()
	if c.l2 != nil {
		return c.l2.Close()
	}
	return nil
}

func (c *MultiLevelCache) onL2(fn func() error) error {
	if c.l2 == nil {
		return nil
	}
	if err := c.breaker.Execute(fn); err != nil {
		c.metrics.RecordError()
		return err
	}
	return nil
}
