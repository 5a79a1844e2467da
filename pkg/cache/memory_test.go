package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalDesk/pkg/clock"
)

type quote struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

func newTestCache(t *testing.T, clk clock.Clock, size int) *MemoryCache {
	t.Helper()
	mc := NewMemoryCache(WithMemoryMaxSize(size), WithMemoryCleanup(0), WithMemoryClock(clk))
	t.Cleanup(func() { _ = mc.Close() })
	return mc
}

func TestMemoryCacheStructRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := newTestCache(t, clock.NewFake(), 10)

	require.NoError(t, mc.Set(ctx, PriceKey("BTCUSDT"), quote{"BTCUSDT", 101.5}, time.Minute))

	var got quote
	require.NoError(t, mc.Get(ctx, PriceKey("BTCUSDT"), &got))
	assert.Equal(t, quote{"BTCUSDT", 101.5}, got)

	var raw string
	require.NoError(t, mc.Get(ctx, PriceKey("BTCUSDT"), &raw))
	assert.JSONEq(t, `{"symbol":"BTCUSDT","price":101.5}`, raw)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake()
	mc := newTestCache(t, clk, 10)

	require.NoError(t, mc.Set(ctx, "k", "v", 30*time.Second))
	clk.Advance(29 * time.Second)
	ok, _ := mc.Exists(ctx, "k")
	assert.True(t, ok)

	clk.Advance(2 * time.Second)
	var v string
	assert.ErrorIs(t, mc.Get(ctx, "k", &v), ErrCacheMiss)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake()
	mc := newTestCache(t, clk, 2)

	require.NoError(t, mc.Set(ctx, "a", "1", 0))
	clk.Advance(time.Second)
	require.NoError(t, mc.Set(ctx, "b", "2", 0))
	clk.Advance(time.Second)
	var v string
	require.NoError(t, mc.Get(ctx, "a", &v))
	clk.Advance(time.Second)
	require.NoError(t, mc.Set(ctx, "c", "3", 0))

	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &v))
}

func TestMemoryCacheDeleteByPatternAndMGet(t *testing.T) {
	ctx := context.Background()
	mc := newTestCache(t, clock.NewFake(), 10)

	require.NoError(t, mc.Set(ctx, PriceKey("BTCUSDT"), quote{"BTCUSDT", 1}, 0))
	require.NoError(t, mc.Set(ctx, PriceKey("ETHUSDT"), quote{"ETHUSDT", 2}, 0))
	require.NoError(t, mc.Set(ctx, DecisionKey("BTCUSDT"), "x", 0))

	got, err := MGetTyped[quote](ctx, mc, PriceKey("BTCUSDT"), PriceKey("ETHUSDT"), PriceKey("XRPUSDT"))
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 2.0, got[PriceKey("ETHUSDT")].Price)

	require.NoError(t, mc.DeleteByPattern(ctx, PrefixPrice+":*"))
	assert.Equal(t, 1, mc.Len())
}

func TestMemoryCacheTryLock(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake()
	mc := newTestCache(t, clk, 10)

	ok, err := mc.TryLock(ctx, "lock:agg", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = mc.TryLock(ctx, "lock:agg", time.Minute)
	assert.False(t, ok)

	clk.Advance(2 * time.Minute)
	ok, _ = mc.TryLock(ctx, "lock:agg", time.Minute)
	assert.True(t, ok)

	require.NoError(t, mc.Unlock(ctx, "lock:agg"))
	ok, _ = mc.TryLock(ctx, "lock:agg", time.Minute)
	assert.True(t, ok)
}

func TestLayeredL1TTL(t *testing.T) {
	lc := &LayeredCache{l1TTL: 5 * time.Second}
	assert.Equal(t, 2*time.Second, lc.ttlFor(2*time.Second))
	assert.Equal(t, 5*time.Second, lc.ttlFor(time.Minute))
	assert.Equal(t, 5*time.Second, lc.ttlFor(0), "no expiry still bounded by L1 staleness")

	lc.l1TTL = 0
	assert.Equal(t, time.Minute, lc.ttlFor(time.Minute))
}
