package usecase

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalDesk/internal/domain/models"
	domsvc "SignalDesk/internal/domain/service"
	"SignalDesk/internal/services/history"
	"SignalDesk/internal/services/indicators"
	"SignalDesk/internal/services/performance"
	"SignalDesk/internal/services/selector"
	"SignalDesk/internal/services/strategy"
	pkgcache "SignalDesk/pkg/cache"
	"SignalDesk/pkg/clock"
)

type engineFixture struct {
	clk    *clock.Fake
	client *fakeTicker
	hist   *history.Rolling
	feed   *PriceFeed
	engine *SignalEngine
	cache  *pkgcache.MemoryCache
	pub    *recordingPublisher
	perf   *performance.Tracker
}

func newEngineFixture(t *testing.T, strategies ...domsvc.Strategy) *engineFixture {
	t.Helper()
	clk := clock.NewFake()
	fx := &engineFixture{
		clk:    clk,
		client: newFakeTicker(clk),
		hist:   history.New(500),
		cache:  pkgcache.NewMemoryCache(pkgcache.WithMemoryClock(clk), pkgcache.WithMemoryCleanup(0)),
		pub:    &recordingPublisher{},
	}
	if len(strategies) == 0 {
		strategies = strategy.NewRegistry(strategy.DefaultConfig()).All()
	}
	tracker := performance.New(performance.WithClock(clk))
	fx.perf = tracker
	fx.feed = NewPriceFeed(testFeedConfig(), fx.client, fx.hist, WithFeedClock(clk))
	fx.engine = NewSignalEngine(
		EngineConfig{DecisionTTL: time.Minute, IndicatorTTL: time.Minute},
		fx.feed, fx.hist,
		indicators.NewEngine(indicators.DefaultConfig()),
		strategies,
		selector.New(selector.DefaultConfig(), tracker, selector.WithClock(clk)),
		WithEngineCache(fx.cache),
		WithEnginePerformance(tracker),
		WithEnginePublisher(fx.pub),
		WithEngineClock(clk),
	)
	return fx
}

// seed loads n points of a gentle sine wave ending one second before now.
func (fx *engineFixture) seed(symbol string, n int) {
	start := fx.clk.Now().Add(-time.Duration(n) * time.Second)
	pts := make([]models.PricePoint, n)
	for i := range pts {
		pts[i] = tick(symbol, 100+5*math.Sin(float64(i)/6), start.Add(time.Duration(i)*time.Second), vol(10))
	}
	fx.hist.Seed(symbol, pts)
}

func TestCalculateTradingSignal(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(t)
	_, err := fx.engine.AddSymbol("btcusdt")
	require.NoError(t, err)
	fx.seed("BTCUSDT", 80)

	d, err := fx.engine.CalculateTradingSignal(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", d.Symbol)
	require.Len(t, d.Signals, 5)
	for i, name := range fx.engine.Algorithms() {
		assert.Equal(t, name, d.Signals[i].Algorithm)
	}
	require.NotNil(t, d.Indicators)
	assert.NotNil(t, d.Indicators.SMA50)
	assert.Contains(t, []models.SignalType{models.SignalBuy, models.SignalSell, models.SignalHold}, d.Selection.Signal)
	assert.GreaterOrEqual(t, d.Selection.Confidence, 0.0)
	assert.LessOrEqual(t, d.Selection.Confidence, 95.0)

	// Same snapshot, same decision.
	again, err := fx.engine.CalculateTradingSignal(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, d.Selection.SelectedAlgorithm, again.Selection.SelectedAlgorithm)
	assert.Equal(t, d.Selection.Confidence, again.Selection.Confidence)

	cached, err := fx.engine.LatestDecision(ctx, "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, d.Selection.SelectedAlgorithm, cached.Selection.SelectedAlgorithm)
	assert.Len(t, fx.pub.decisions, 2)

	st := fx.engine.GetStatus()
	require.Len(t, st.Symbols, 1)
	assert.Equal(t, 80, st.Symbols[0].HistoryLength)
	require.NotNil(t, st.Symbols[0].LastDecisionAt)
	assert.Equal(t, fx.clk.Now(), *st.Symbols[0].LastDecisionAt)
}

func TestCalculateTradingSignalErrors(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(t)

	_, err := fx.engine.CalculateTradingSignal(ctx, "DOGEUSDT")
	assert.ErrorIs(t, err, models.ErrUnknownSymbol)

	_, _ = fx.engine.AddSymbol("DOGEUSDT")
	_, err = fx.engine.CalculateTradingSignal(ctx, "DOGEUSDT")
	assert.ErrorIs(t, err, models.ErrNoPrice)
}

func TestShortHistoryHolds(t *testing.T) {
	fx := newEngineFixture(t)
	_, _ = fx.engine.AddSymbol("ETHUSDT")
	fx.seed("ETHUSDT", 5)

	d, err := fx.engine.CalculateTradingSignal(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	for _, s := range d.Signals {
		assert.Equal(t, models.SignalHold, s.Signal, s.Algorithm)
		assert.Zero(t, s.Confidence, s.Algorithm)
	}
	assert.Equal(t, models.SignalHold, d.Selection.Signal)
}

type panicStrategy struct{}

func (panicStrategy) Name() string                                          { return "exploding" }
func (panicStrategy) MinHistory() int                                       { return 1 }
func (panicStrategy) Evaluate(domsvc.StrategyInput) models.StrategySignal { panic("boom") }

type alwaysBuy struct{}

func (alwaysBuy) Name() string    { return "always_buy" }
func (alwaysBuy) MinHistory() int { return 1 }
func (alwaysBuy) Evaluate(domsvc.StrategyInput) models.StrategySignal {
	return models.StrategySignal{Algorithm: "always_buy", Signal: models.SignalBuy, Confidence: 80, Reasons: []string{"test"}}
}

func TestStrategyPanicBecomesHold(t *testing.T) {
	fx := newEngineFixture(t, panicStrategy{}, alwaysBuy{})
	_, _ = fx.engine.AddSymbol("BTCUSDT")
	fx.seed("BTCUSDT", 10)

	d, err := fx.engine.CalculateTradingSignal(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, d.Signals, 2)
	assert.Equal(t, models.HoldSignal("exploding", 0, "evaluation failed"), d.Signals[0])
	assert.Equal(t, "always_buy", d.Selection.SelectedAlgorithm)
	assert.Equal(t, models.SignalBuy, d.Selection.Signal)
}

func TestUpdatePriceAndCalculateSignal(t *testing.T) {
	fx := newEngineFixture(t, alwaysBuy{})
	_, _ = fx.engine.AddSymbol("BTCUSDT")
	fx.seed("BTCUSDT", 10)
	fx.client.set("BTCUSDT", 123.5)

	d, err := fx.engine.UpdatePriceAndCalculateSignal(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 123.5, d.Price)
	p, ok := fx.engine.LatestPrice("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 123.5, p)

	_, err = fx.engine.UpdatePriceAndCalculateSignal(context.Background(), "NOPEUSDT")
	assert.ErrorIs(t, err, models.ErrUnknownSymbol)
}

func TestRemoveSymbolDropsState(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(t, alwaysBuy{})
	_, _ = fx.engine.AddSymbol("BTCUSDT")
	fx.seed("BTCUSDT", 10)
	_, err := fx.engine.CalculateTradingSignal(ctx, "BTCUSDT")
	require.NoError(t, err)
	cached, err := fx.engine.CachedDecisions(ctx)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "BTCUSDT", cached[0].Symbol)

	assert.True(t, fx.engine.RemoveSymbol(ctx, "btcusdt"))
	assert.Zero(t, fx.hist.Len("BTCUSDT"))
	ok, err := fx.cache.Exists(ctx, pkgcache.DecisionKey("BTCUSDT"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, fx.engine.GetStatus().Symbols)
	assert.False(t, fx.engine.RemoveSymbol(ctx, "BTCUSDT"))
}

func TestEngineStartStop(t *testing.T) {
	fx := newEngineFixture(t, alwaysBuy{})
	require.NoError(t, fx.engine.Start(context.Background()))
	st := fx.engine.GetStatus()
	assert.True(t, st.Running)
	require.NotNil(t, st.StartedAt)
	assert.Equal(t, []string{"always_buy"}, st.Algorithms)

	fx.engine.Stop()
	st = fx.engine.GetStatus()
	assert.False(t, st.Running)
	assert.Nil(t, st.StartedAt)
}

func TestEngineBackfill(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(t)
	fx.feed.cfg.BackfillLimit = 3
	start := fx.clk.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		fx.client.klines = append(fx.client.klines, tick("", 100+float64(i), start.Add(time.Duration(i)*time.Minute), vol(1)))
	}

	_, err := fx.engine.Backfill(ctx, "ETHUSDT")
	require.ErrorIs(t, err, models.ErrUnknownSymbol)

	_, err = fx.engine.AddSymbol("ETHUSDT")
	require.NoError(t, err)
	n, err := fx.engine.Backfill(ctx, "ethusdt")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, fx.hist.Len("ETHUSDT"))

	p, ok := fx.hist.Latest("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, 104.0, p.Price)

	n, err = fx.engine.Backfill(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateAfterBackfillSkipsOpenCandle(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(t, alwaysBuy{})
	fx.feed.cfg.BackfillLimit = 50
	start := fx.clk.Now().Add(-40 * time.Minute)
	for i := 0; i < 40; i++ {
		fx.client.klines = append(fx.client.klines, tick("", 100+float64(i), start.Add(time.Duration(i)*time.Minute), vol(1)))
	}
	fx.client.klines = append(fx.client.klines, tick("", 150, fx.clk.Now().Add(30*time.Second), vol(1)))
	_, _ = fx.engine.AddSymbol("BTCUSDT")

	n, err := fx.engine.Backfill(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 40, n)

	fx.client.set("BTCUSDT", 141)
	d, err := fx.engine.UpdatePriceAndCalculateSignal(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 141.0, d.Price)
	assert.Equal(t, 41, fx.hist.Len("BTCUSDT"))
}

func TestEnginePerformance(t *testing.T) {
	fx := newEngineFixture(t, alwaysBuy{}, panicStrategy{})
	_, err := fx.engine.Performance("BTCUSDT")
	require.ErrorIs(t, err, models.ErrUnknownSymbol)

	_, _ = fx.engine.AddSymbol("btcusdt")
	fx.perf.UpdatePerformance("always_buy", "BTCUSDT", models.TradeResult{Profit: 5, ReturnPct: 1})

	recs, err := fx.engine.Performance("btcusdt")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "always_buy", recs[0].Algorithm)
	assert.Equal(t, 1, recs[0].TotalTrades)
	assert.Equal(t, "exploding", recs[1].Algorithm)
	assert.Equal(t, "BTCUSDT", recs[1].Symbol)
	assert.Zero(t, recs[1].TotalTrades)
}
