package cache

import (
	"context"
	"time"

	"SignalDesk/pkg/clock"
)

// LayeredCache reads through a bounded in-process L1 to Redis. Writes go to
// Redis first. Locks and existence checks always go to Redis because they
// must be shared across instances.
type LayeredCache struct {
	l1    *MemoryCache
	l2    *RedisCache
	l1TTL time.Duration
}

var _ Service = (*LayeredCache)(nil)

type layeredConfig struct {
	size  int
	ttl   time.Duration
	clock clock.Clock
}

type LayeredOption func(*layeredConfig)

func WithLayeredMemorySize(size int) LayeredOption {
	return func(c *layeredConfig) { c.size = size }
}

// WithLayeredMemoryTTL bounds how stale an L1 entry may be relative to Redis.
func WithLayeredMemoryTTL(ttl time.Duration) LayeredOption {
	return func(c *layeredConfig) { c.ttl = ttl }
}

func WithLayeredClock(clk clock.Clock) LayeredOption {
	return func(c *layeredConfig) { c.clock = clk }
}

func NewLayeredCache(l2 *RedisCache, opts ...LayeredOption) *LayeredCache {
	cfg := layeredConfig{size: 1000, ttl: 5 * time.Second, clock: clock.New()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &LayeredCache{
		l1:    NewMemoryCache(WithMemoryMaxSize(cfg.size), WithMemoryClock(cfg.clock)),
		l2:    l2,
		l1TTL: cfg.ttl,
	}
}

// ttlFor never lets L1 outlive the L2 entry or the configured staleness bound.
func (lc *LayeredCache) ttlFor(expiration time.Duration) time.Duration {
	if expiration > 0 && (lc.l1TTL <= 0 || expiration < lc.l1TTL) {
		return expiration
	}
	return lc.l1TTL
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := lc.l2.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	return lc.l1.Set(ctx, key, value, lc.ttlFor(expiration))
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if lc.l1.Get(ctx, key, dest) == nil {
		return nil
	}
	var raw string
	if err := lc.l2.Get(ctx, key, &raw); err != nil {
		return err
	}
	_ = lc.l1.Set(ctx, key, raw, lc.l1TTL)
	return decode(raw, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.l1.Delete(ctx, keys...)
	return lc.l2.Delete(ctx, keys...)
}

func (lc *LayeredCache) DeleteByPattern(ctx context.Context, pattern string) error {
	_ = lc.l1.DeleteByPattern(ctx, pattern)
	return lc.l2.DeleteByPattern(ctx, pattern)
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	return lc.l2.Exists(ctx, keys...)
}

// MGet serves what it can from L1 and fetches the rest from Redis.
func (lc *LayeredCache) MGet(ctx context.Context, keys ...string) (map[string]string, error) {
	out, _ := lc.l1.MGet(ctx, keys...)
	missing := make([]string, 0, len(keys)-len(out))
	for _, k := range keys {
		if _, ok := out[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}
	remote, err := lc.l2.MGet(ctx, missing...)
	if err != nil {
		return nil, err
	}
	for k, v := range remote {
		out[k] = v
		_ = lc.l1.Set(ctx, k, v, lc.l1TTL)
	}
	return out, nil
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.l2.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.l2.Unlock(ctx, key)
}

// Close stops the L1 sweeper. The Redis client belongs to the caller.
func (lc *LayeredCache) Close() error {
	return lc.l1.Close()
}
