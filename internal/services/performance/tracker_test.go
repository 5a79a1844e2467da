package performance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/pkg/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu    sync.Mutex
	saved map[string]models.PerformanceRecord
	err   error
}

func (m *memStore) SavePerformance(_ context.Context, rec models.PerformanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.saved == nil {
		m.saved = map[string]models.PerformanceRecord{}
	}
	m.saved[rec.Algorithm+"/"+rec.Symbol] = rec
	return nil
}

func (m *memStore) LoadPerformance(context.Context) ([]models.PerformanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PerformanceRecord, 0, len(m.saved))
	for _, r := range m.saved {
		out = append(out, r)
	}
	return out, nil
}

func TestProfitFactorSentinels(t *testing.T) {
	tr := New()
	rec := tr.UpdatePerformance(models.AlgoTechnical, "btcusdt", models.TradeResult{Profit: 10, ReturnPct: 1})
	assert.Equal(t, models.ProfitFactorUnbounded, rec.ProfitFactor)
	assert.Equal(t, "BTCUSDT", rec.Symbol)

	rec = tr.UpdatePerformance(models.AlgoMomentum, "BTCUSDT", models.TradeResult{Profit: 0})
	assert.Equal(t, 0.0, rec.ProfitFactor)
	assert.Equal(t, 1, rec.TotalTrades)
	assert.Zero(t, rec.WinningTrades)
	assert.Zero(t, rec.LosingTrades)

	rec = tr.UpdatePerformance(models.AlgoTechnical, "BTCUSDT", models.TradeResult{Profit: -4, ReturnPct: -0.4})
	assert.InDelta(t, 2.5, rec.ProfitFactor, 1e-12)
	assert.Equal(t, 50.0, rec.WinRate)
	assert.Equal(t, 10.0, rec.AverageProfit)
	assert.Equal(t, 4.0, rec.AverageLoss)
}

func TestRecentTradesRing(t *testing.T) {
	tr := New()
	for i := 0; i < 150; i++ {
		tr.UpdatePerformance("a", "X", models.TradeResult{Profit: float64(i), ReturnPct: 1})
	}
	rec, ok := tr.Record("a", "X")
	require.True(t, ok)
	assert.Len(t, rec.RecentTrades, models.RecentTradesCap)
	assert.Equal(t, 50.0, rec.RecentTrades[0].Profit)
	assert.Equal(t, 149.0, rec.RecentTrades[99].Profit)
	assert.Equal(t, 150, rec.TotalTrades)
}

func TestSharpeNeedsThirtyTrades(t *testing.T) {
	trades := make([]models.TradeResult, 29)
	for i := range trades {
		trades[i] = models.TradeResult{ReturnPct: float64(i%3) - 0.5}
	}
	assert.Zero(t, Sharpe(trades))

	trades = append(trades, models.TradeResult{ReturnPct: 2})
	assert.NotZero(t, Sharpe(trades))

	flat := make([]models.TradeResult, 40)
	for i := range flat {
		flat[i].ReturnPct = 1
	}
	assert.Zero(t, Sharpe(flat))
}

func TestGetPerformanceCreatesZeroedRecord(t *testing.T) {
	tr := New()
	rec := tr.GetPerformance("macd", "btcusdt")
	assert.Equal(t, "macd", rec.Algorithm)
	assert.Equal(t, "BTCUSDT", rec.Symbol)
	assert.Zero(t, rec.TotalTrades)
	assert.Zero(t, rec.WinRate)

	stored, ok := tr.Record("macd", "BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, rec.Symbol, stored.Symbol)
	assert.Len(t, tr.Records(), 1)
	assert.Equal(t, NeutralScore, tr.Score("macd", "BTCUSDT"))
}

func TestMaxDrawdown(t *testing.T) {
	trades := []models.TradeResult{{Profit: 10}, {Profit: -4}, {Profit: 2}, {Profit: -7}, {Profit: 20}}
	assert.Equal(t, 9.0, MaxDrawdown(trades))
	assert.Zero(t, MaxDrawdown(nil))
}

func TestScore(t *testing.T) {
	tr := New()
	assert.Equal(t, NeutralScore, tr.Score("none", "X"))
	_, ok := tr.Record("none", "X")
	assert.False(t, ok)

	rec := models.PerformanceRecord{TotalTrades: 4, WinRate: 50, ProfitFactor: 1.5, TotalProfit: 30, TotalLoss: 20, MaxDrawdown: 10}
	assert.InDelta(t, 15+15+0+16, ScoreRecord(rec), 1e-9)

	rec.ProfitFactor = models.ProfitFactorUnbounded
	rec.SharpeRatio = 9
	rec.MaxDrawdown = 0
	rec.WinRate = 100
	assert.InDelta(t, 100, ScoreRecord(rec), 1e-9)
}

func TestPersistsAndLoads(t *testing.T) {
	store := &memStore{}
	fake := clock.NewFake(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	tr := New(WithStore(store), WithClock(fake))
	tr.UpdatePerformance(models.AlgoTechnical, "ETHUSDT", models.TradeResult{Profit: 5})

	saved := store.saved[models.AlgoTechnical+"/ETHUSDT"]
	assert.Equal(t, 1, saved.TotalTrades)
	assert.Equal(t, fake.Now(), saved.UpdatedAt)
	assert.Equal(t, fake.Now(), saved.RecentTrades[0].Timestamp)

	fresh := New(WithStore(store))
	n, err := fresh.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rec, ok := fresh.Record(models.AlgoTechnical, "ethusdt")
	require.True(t, ok)
	assert.Equal(t, 5.0, rec.TotalProfit)
}

func TestStoreFailureDoesNotLoseUpdate(t *testing.T) {
	tr := New(WithStore(&memStore{err: errors.New("down")}))
	rec := tr.UpdatePerformance("a", "X", models.TradeResult{Profit: 1})
	assert.Equal(t, 1, rec.TotalTrades)
	assert.Len(t, tr.Records(), 1)
}

func TestConcurrentUpdates(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tr.UpdatePerformance("a", "X", models.TradeResult{Profit: 1})
				_ = tr.Score("a", "X")
			}
		}()
	}
	wg.Wait()
	rec, _ := tr.Record("a", "X")
	assert.Equal(t, 800, rec.TotalTrades)
	assert.Equal(t, 800.0, rec.TotalProfit)
}
