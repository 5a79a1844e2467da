package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/services/history"
	pkgcache "SignalDesk/pkg/cache"
	"SignalDesk/pkg/clock"
)

func testFeedConfig() FeedConfig {
	cfg := DefaultFeedConfig()
	cfg.BackfillLimit = 0
	return cfg
}

func TestPriceFeedPersistsAtMostOncePerInterval(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake()
	sink := &recordingSink{}
	hist := history.New(500)
	feed := NewPriceFeed(testFeedConfig(), newFakeTicker(clk), hist, WithFeedSink(sink), WithFeedClock(clk))
	_, err := feed.AddSymbol("btcusdt")
	require.NoError(t, err)

	t0 := clk.Now()
	for i, off := range []time.Duration{0, 30 * time.Second, 59 * time.Second, 60 * time.Second, 90 * time.Second, 121 * time.Second} {
		require.NoError(t, feed.HandleTick(ctx, tick("BTCUSDT", 100+float64(i), t0.Add(off), nil)), "tick %d", i)
	}
	assert.Equal(t, 6, hist.Len("BTCUSDT"))
	require.Equal(t, 3, sink.len())
	assert.Equal(t, t0, sink.ticks[0].Timestamp)
	assert.Equal(t, t0.Add(60*time.Second), sink.ticks[1].Timestamp)
	assert.Equal(t, t0.Add(121*time.Second), sink.ticks[2].Timestamp)

	lastTick, lastPersist := feed.Activity("BTCUSDT")
	assert.Equal(t, t0.Add(121*time.Second), lastTick)
	assert.Equal(t, t0.Add(121*time.Second), lastPersist)
}

func TestPriceFeedRetriedTickOnlyPersists(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake()
	sink := &recordingSink{fail: 1}
	hist := history.New(500)
	feed := NewPriceFeed(testFeedConfig(), newFakeTicker(clk), hist, WithFeedSink(sink), WithFeedClock(clk))
	_, _ = feed.AddSymbol("BTCUSDT")

	p := tick("BTCUSDT", 100, clk.Now(), nil)
	err := feed.HandleTick(ctx, p)
	require.ErrorIs(t, err, ErrPersist)
	_, lastPersist := feed.Activity("BTCUSDT")
	assert.True(t, lastPersist.IsZero())

	require.NoError(t, feed.HandleTick(ctx, p))
	assert.Equal(t, 1, hist.Len("BTCUSDT"))
	assert.Equal(t, 1, sink.len())
}

func TestPriceFeedRejectsUnknownAndStaleTicks(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake()
	feed := NewPriceFeed(testFeedConfig(), newFakeTicker(clk), history.New(10), WithFeedClock(clk))

	err := feed.HandleTick(ctx, tick("ETHUSDT", 1, clk.Now(), nil))
	assert.ErrorIs(t, err, models.ErrUnknownSymbol)

	_, _ = feed.AddSymbol("ETHUSDT")
	require.NoError(t, feed.HandleTick(ctx, tick("ETHUSDT", 1, clk.Now(), nil)))
	err = feed.HandleTick(ctx, tick("ETHUSDT", 2, clk.Now().Add(-time.Second), nil))
	assert.ErrorIs(t, err, models.ErrStaleTick)

	_, err = feed.AddSymbol("  ")
	assert.ErrorIs(t, err, models.ErrUnknownSymbol)
	added, err := feed.AddSymbol("ethusdt")
	require.NoError(t, err)
	assert.False(t, added)
}

func TestPriceFeedCachesLatestPrice(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake()
	c := pkgcache.NewMemoryCache(pkgcache.WithMemoryClock(clk), pkgcache.WithMemoryCleanup(0))
	feed := NewPriceFeed(testFeedConfig(), newFakeTicker(clk), history.New(10), WithFeedCache(c), WithFeedClock(clk))
	_, _ = feed.AddSymbol("BTCUSDT")

	require.NoError(t, feed.HandleTick(ctx, tick("BTCUSDT", 42, clk.Now(), nil)))
	var got models.PricePoint
	require.NoError(t, c.Get(ctx, pkgcache.PriceKey("BTCUSDT"), &got))
	assert.Equal(t, 42.0, got.Price)
}

func TestPriceFeedRefreshAndBackfill(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake()
	client := newFakeTicker(clk)
	base := clk.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		client.klines = append(client.klines, tick("", float64(10+i), base.Add(time.Duration(i)*time.Minute), nil))
	}
	cfg := testFeedConfig()
	cfg.BackfillLimit = 3
	hist := history.New(100)
	feed := NewPriceFeed(cfg, client, hist, WithFeedClock(clk))
	_, _ = feed.AddSymbol("SOLUSDT")

	n, err := feed.Backfill(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = feed.Backfill(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Zero(t, n)

	client.set("SOLUSDT", 20)
	tk, err := feed.Refresh(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, 20.0, tk.LastPrice)
	last, ok := hist.Latest("SOLUSDT")
	require.True(t, ok)
	assert.Equal(t, 20.0, last.Price)
	assert.Equal(t, models.SourceREST, last.Source)

	snap, ok := feed.Market("SOLUSDT")
	require.True(t, ok)
	assert.Equal(t, 20.0, snap.Price)

	_, err = feed.Refresh(ctx, "XRPUSDT")
	assert.ErrorIs(t, err, models.ErrUnknownSymbol)
}

func TestPriceFeedRefreshOlderThanHistory(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake()
	client := newFakeTicker(clk)
	hist := history.New(100)
	feed := NewPriceFeed(testFeedConfig(), client, hist, WithFeedClock(clk))
	_, _ = feed.AddSymbol("BTCUSDT")
	require.NoError(t, feed.HandleTick(ctx, tick("BTCUSDT", 101, clk.Now().Add(2*time.Second), nil)))

	client.set("BTCUSDT", 100)
	tk, err := feed.Refresh(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, tk.LastPrice)
	assert.Equal(t, 1, hist.Len("BTCUSDT"))

	snap, ok := feed.Market("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 101.0, snap.Price)
}

func TestPriceFeedBatchesConnections(t *testing.T) {
	clk := clock.NewFake()
	client := newFakeTicker(clk)
	streams := &fakeStreams{}
	cfg := testFeedConfig()
	cfg.StreamLimit = 2
	feed := NewPriceFeed(cfg, client, history.New(100), WithFeedStreams(streams), WithFeedClock(clk))
	for _, s := range []string{"AAAUSDT", "BBBUSDT", "CCCUSDT"} {
		client.set(s, 1)
		_, _ = feed.AddSymbol(s)
	}

	require.NoError(t, feed.Start(context.Background()))
	require.NoError(t, feed.Start(context.Background()))
	assert.Equal(t, [][]string{{"AAAUSDT", "BBBUSDT"}, {"CCCUSDT"}}, feed.ConnectionSymbols())

	client.set("DDDUSDT", 1)
	added, err := feed.AddSymbol("DDDUSDT")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, [][]string{{"AAAUSDT", "BBBUSDT"}, {"CCCUSDT", "DDDUSDT"}}, feed.ConnectionSymbols())

	client.set("EEEUSDT", 1)
	_, _ = feed.AddSymbol("EEEUSDT")
	assert.Equal(t, [][]string{{"AAAUSDT", "BBBUSDT"}, {"CCCUSDT", "DDDUSDT"}, {"EEEUSDT"}}, feed.ConnectionSymbols())

	assert.True(t, feed.RemoveSymbol("AAAUSDT"))
	assert.Equal(t, [][]string{{"BBBUSDT"}, {"CCCUSDT", "DDDUSDT"}, {"EEEUSDT"}}, feed.ConnectionSymbols())
	assert.True(t, feed.RemoveSymbol("EEEUSDT"))
	assert.Equal(t, 2, feed.Connections())
	assert.False(t, feed.RemoveSymbol("EEEUSDT"))

	// Two initial connections, the restart for DDD, the new one for EEE and
	// the restart after removing AAA.
	require.Eventually(t, func() bool { return streams.count() == 5 }, time.Second, 5*time.Millisecond)

	feed.Stop()
	assert.False(t, feed.Running())
	assert.Zero(t, feed.Connections())
	feed.Stop()
}

func TestPriceFeedRuntimeSymbolsShareConnections(t *testing.T) {
	clk := clock.NewFake()
	client := newFakeTicker(clk)
	cfg := testFeedConfig()
	cfg.StreamLimit = 200
	feed := NewPriceFeed(cfg, client, history.New(10), WithFeedStreams(&fakeStreams{}), WithFeedClock(clk))
	require.NoError(t, feed.Start(context.Background()))
	defer feed.Stop()

	for i := 0; i < 250; i++ {
		_, err := feed.AddSymbol(fmt.Sprintf("S%03dUSDT", i))
		require.NoError(t, err)
	}
	conns := feed.ConnectionSymbols()
	require.Len(t, conns, 2)
	assert.Len(t, conns[0], 200)
	assert.Len(t, conns[1], 50)
}

func TestPriceFeedStreamTicksAndReconnect(t *testing.T) {
	clk := clock.NewFake()
	client := newFakeTicker(clk)
	client.set("BTCUSDT", 100)
	streams := &fakeStreams{}
	hist := history.New(100)
	feed := NewPriceFeed(testFeedConfig(), client, hist, WithFeedStreams(streams), WithFeedClock(clk))
	_, _ = feed.AddSymbol("BTCUSDT")
	require.NoError(t, feed.Start(context.Background()))
	defer feed.Stop()

	// The poller applies one REST tick before parking on its ticker.
	require.Eventually(t, func() bool { return hist.Len("BTCUSDT") == 1 && streams.count() == 1 }, time.Second, 5*time.Millisecond)

	s := streams.last()
	s.ticks <- tick("btcusdt", 101, clk.Now().Add(time.Second), nil)
	require.Eventually(t, func() bool { return hist.Len("BTCUSDT") == 2 }, time.Second, 5*time.Millisecond)
	last, _ := hist.Latest("BTCUSDT")
	assert.Equal(t, models.SourceStream, last.Source)

	s.errs <- errors.New("connection reset")
	// Poller ticker plus the reconnect delay.
	require.Eventually(t, func() bool { return clk.Waiters() == 2 }, time.Second, 5*time.Millisecond)
	assert.False(t, s.IsConnected())
	assert.Equal(t, 1, streams.count())

	clk.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return streams.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"BTCUSDT"}, streams.last().Symbols())
}

func TestPriceFeedStopIsDeterministic(t *testing.T) {
	clk := clock.NewFake()
	client := newFakeTicker(clk)
	client.set("BTCUSDT", 100)
	hist := history.New(100)
	feed := NewPriceFeed(testFeedConfig(), client, hist, WithFeedClock(clk))
	_, _ = feed.AddSymbol("BTCUSDT")
	require.NoError(t, feed.Start(context.Background()))
	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, time.Second, 5*time.Millisecond)

	feed.Stop()
	n := hist.Len("BTCUSDT")
	assert.Zero(t, clk.Waiters())
	clk.Advance(time.Minute)
	assert.Equal(t, n, hist.Len("BTCUSDT"))
}

func TestBatches(t *testing.T) {
	syms := []string{"A", "B", "C", "D", "E"}
	assert.Equal(t, [][]string{{"A", "B"}, {"C", "D"}, {"E"}}, Batches(syms, 2))
	assert.Equal(t, [][]string{syms}, Batches(syms, 200))
	assert.Nil(t, Batches(nil, 2))

	big := make([]string, 401)
	for i := range big {
		big[i] = "S"
	}
	b := Batches(big, 200)
	require.Len(t, b, 3)
	assert.Len(t, b[2], 1)
}
