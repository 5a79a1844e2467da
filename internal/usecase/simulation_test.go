package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/repository"
	"SignalDesk/internal/services/performance"
	"SignalDesk/pkg/clock"
)

type simFixture struct {
	store   *repository.MemoryStateStore
	source  *fakeSource
	tracker *performance.Tracker
	pub     *recordingPublisher
	engine  *SimulationEngine
}

func newSimFixture(t *testing.T) *simFixture {
	t.Helper()
	clk := clock.NewFake()
	n := 0
	fx := &simFixture{
		store:   repository.NewMemoryStateStore(),
		source:  &fakeSource{},
		tracker: performance.New(performance.WithClock(clk)),
		pub:     &recordingPublisher{},
	}
	fx.engine = NewSimulationEngine(fx.store, fx.source, fx.tracker,
		WithSimulationClock(clk),
		WithSimulationPublisher(fx.pub),
		WithSimulationIDs(func() string { n++; return fmt.Sprintf("id-%d", n) }))
	return fx
}

func (fx *simFixture) create(t *testing.T, settings models.SettingsInput) *models.SimulationState {
	t.Helper()
	sim, err := fx.engine.Create(context.Background(), models.CreateSimulationRequest{
		UserID:            "u1",
		Symbol:            "btcusdt",
		InitialInvestment: 1000,
		Settings:          settings,
	})
	require.NoError(t, err)
	return sim
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func assertDec(t *testing.T, want float64, got decimal.Decimal, label string) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "%s: want %v, got %s", label, want, got.String())
}

func TestSimulationCreateDefaultsAndValidation(t *testing.T) {
	ctx := context.Background()
	fx := newSimFixture(t)

	sim := fx.create(t, models.SettingsInput{})
	assert.Equal(t, "BTCUSDT", sim.Symbol)
	assert.Equal(t, models.SimulationActive, sim.Status)
	assert.Equal(t, 50.0, sim.Settings.BuyPercentage)
	assert.Equal(t, 100.0, sim.Settings.SellPercentage)
	assert.Equal(t, 60.0, sim.Settings.MinConfidence)
	assert.Equal(t, []string{"BTCUSDT"}, fx.source.added)
	assertDec(t, 1000, sim.CurrentBalance, "balance")

	_, err := fx.engine.Create(ctx, models.CreateSimulationRequest{UserID: "u1", Symbol: "BTCUSDT", InitialInvestment: 0})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	_, err = fx.engine.Create(ctx, models.CreateSimulationRequest{
		UserID: "u1", Symbol: "BTCUSDT", InitialInvestment: 100,
		Settings: models.SettingsInput{BuyPercentage: models.Float64(150)},
	})
	assert.ErrorIs(t, err, models.ErrInvalidSettings)

	list, err := fx.engine.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSimulationBuysHalfTheBalance(t *testing.T) {
	ctx := context.Background()
	fx := newSimFixture(t)
	sim := fx.create(t, models.SettingsInput{BuyPercentage: models.Float64(50)})

	fx.source.next(models.AlgoTechnical, models.SignalBuy, 80, 10)
	cycle, err := fx.engine.Update(ctx, sim.ID)
	require.NoError(t, err)
	require.Len(t, cycle.Trades, 1)

	tr := cycle.Trades[0]
	assert.Equal(t, models.TradeBuy, tr.Type)
	assert.Equal(t, models.ReasonSignal, tr.Reason)
	assert.Equal(t, models.AlgoTechnical, tr.Algorithm)
	assertDec(t, 50, tr.Quantity, "quantity")
	assertDec(t, 500, tr.Amount, "amount")

	got, err := fx.engine.Get(ctx, sim.ID)
	require.NoError(t, err)
	assertDec(t, 50, got.Holdings, "holdings")
	assertDec(t, 500, got.CurrentBalance, "balance")
	assertDec(t, 10, got.AverageBuyPrice, "average")
	assertDec(t, 1000, got.CurrentValue, "value")
	assert.Equal(t, models.AlgoTechnical, got.EntryAlgorithm)
	assert.Equal(t, 1, got.TotalTrades)

	trades, err := fx.engine.ListTrades(ctx, sim.ID, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, sim.ID, trades[0].SimulationID)
	assert.NotEmpty(t, trades[0].ID)
	assert.Len(t, fx.pub.trades, 1)
}

func TestSimulationIgnoresWeakSignals(t *testing.T) {
	ctx := context.Background()
	fx := newSimFixture(t)
	sim := fx.create(t, models.SettingsInput{MinConfidence: models.Float64(70)})

	fx.source.next(models.AlgoMomentum, models.SignalBuy, 69.9, 10)
	cycle, err := fx.engine.Update(ctx, sim.ID)
	require.NoError(t, err)
	assert.Empty(t, cycle.Trades)
	assertDec(t, 10, cycle.Simulation.CurrentPrice, "price")

	fx.source.next(models.AlgoMomentum, models.SignalHold, 90, 11)
	cycle, err = fx.engine.Update(ctx, sim.ID)
	require.NoError(t, err)
	assert.Empty(t, cycle.Trades)
	assertDec(t, 1000, cycle.Simulation.CurrentBalance, "balance")
}

func TestSimulationKeepsExplicitZeroConfidence(t *testing.T) {
	ctx := context.Background()
	fx := newSimFixture(t)
	sim := fx.create(t, models.SettingsInput{MinConfidence: models.Float64(0)})
	assert.Zero(t, sim.Settings.MinConfidence)
	assert.Equal(t, 50.0, sim.Settings.BuyPercentage)

	fx.source.next(models.AlgoMomentum, models.SignalBuy, 5, 10)
	cycle, err := fx.engine.Update(ctx, sim.ID)
	require.NoError(t, err)
	assert.Len(t, cycle.Trades, 1)
}

func TestSimulationSellFeedsEntryAlgorithm(t *testing.T) {
	ctx := context.Background()
	fx := newSimFixture(t)
	sim := fx.create(t, models.SettingsInput{BuyPercentage: models.Float64(50), SellPercentage: models.Float64(100)})

	fx.source.next(models.AlgoTechnical, models.SignalBuy, 80, 10)
	_, err := fx.engine.Update(ctx, sim.ID)
	require.NoError(t, err)

	fx.source.next(models.AlgoMeanReversion, models.SignalSell, 75, 12)
	cycle, err := fx.engine.Update(ctx, sim.ID)
	require.NoError(t, err)
	require.Len(t, cycle.Trades, 1)
	tr := cycle.Trades[0]
	assert.Equal(t, models.TradeSell, tr.Type)
	assert.Equal(t, models.AlgoTechnical, tr.Algorithm)
	require.NotNil(t, tr.Profit)
	assertDec(t, 100, *tr.Profit, "profit")

	got := cycle.Simulation
	assert.True(t, got.Holdings.IsZero())
	assertDec(t, 1100, got.CurrentBalance, "balance")
	assertDec(t, 100, got.TotalProfit, "total profit")
	assert.Empty(t, got.EntryAlgorithm)

	rec, ok := fx.tracker.Record(models.AlgoTechnical, "BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 1, rec.TotalTrades)
	assert.Equal(t, 1, rec.WinningTrades)
	assert.InDelta(t, 100, rec.TotalProfit, 1e-9)
	require.Len(t, rec.RecentTrades, 1)
	assert.InDelta(t, 20, rec.RecentTrades[0].ReturnPct, 1e-9)

	_, ok = fx.tracker.Record(models.AlgoMeanReversion, "BTCUSDT")
	assert.False(t, ok)
}

func TestSimulationRiskExitsTakePrecedence(t *testing.T) {
	cases := []struct {
		name   string
		price  float64
		reason models.TradeReason
	}{
		{"stop loss", 9.4, models.ReasonStopLoss},
		{"stop loss boundary", 9.5, models.ReasonStopLoss},
		{"take profit", 11, models.ReasonTakeProfit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			fx := newSimFixture(t)
			sim := fx.create(t, models.SettingsInput{
				BuyPercentage:        models.Float64(50),
				StopLossEnabled:      true,
				StopLossPercentage:   models.Float64(5),
				TakeProfitEnabled:    true,
				TakeProfitPercentage: models.Float64(10),
			})
			fx.source.next(models.AlgoMomentum, models.SignalBuy, 90, 10)
			_, err := fx.engine.Update(ctx, sim.ID)
			require.NoError(t, err)

			// A confident buy still loses to the risk exit.
			fx.source.next(models.AlgoMomentum, models.SignalBuy, 90, tc.price)
			cycle, err := fx.engine.Update(ctx, sim.ID)
			require.NoError(t, err)
			require.Len(t, cycle.Trades, 1)
			assert.Equal(t, models.TradeSell, cycle.Trades[0].Type)
			assert.Equal(t, tc.reason, cycle.Trades[0].Reason)
			assert.True(t, cycle.Simulation.Holdings.IsZero())

			rec, ok := fx.tracker.Record(models.AlgoMomentum, "BTCUSDT")
			require.True(t, ok)
			assert.Equal(t, 1, rec.TotalTrades)
		})
	}
}

func TestSimulationRiskExitsDisabled(t *testing.T) {
	ctx := context.Background()
	fx := newSimFixture(t)
	sim := fx.create(t, models.SettingsInput{BuyPercentage: models.Float64(50)})
	fx.source.next(models.AlgoMomentum, models.SignalBuy, 90, 10)
	_, err := fx.engine.Update(ctx, sim.ID)
	require.NoError(t, err)

	fx.source.next(models.AlgoMomentum, models.SignalHold, 0, 5)
	cycle, err := fx.engine.Update(ctx, sim.ID)
	require.NoError(t, err)
	assert.Empty(t, cycle.Trades)
	assertDec(t, 750, cycle.Simulation.CurrentValue, "value")
	assertDec(t, -25, cycle.Simulation.ProfitPercentage, "profit %")
}

func TestSimulationStopLiquidatesAndCompletes(t *testing.T) {
	ctx := context.Background()
	fx := newSimFixture(t)
	sim := fx.create(t, models.SettingsInput{BuyPercentage: models.Float64(50)})
	fx.source.next(models.AlgoTechnical, models.SignalBuy, 80, 10)
	_, err := fx.engine.Update(ctx, sim.ID)
	require.NoError(t, err)

	fx.source.price = 8
	cycle, err := fx.engine.Stop(ctx, sim.ID)
	require.NoError(t, err)
	require.Len(t, cycle.Trades, 1)
	assert.Equal(t, models.ReasonStopped, cycle.Trades[0].Reason)
	assertDec(t, 900, cycle.Simulation.CurrentBalance, "balance")
	assert.Equal(t, models.SimulationCompleted, cycle.Simulation.Status)
	require.NotNil(t, cycle.Simulation.CompletedAt)

	rec, ok := fx.tracker.Record(models.AlgoTechnical, "BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 1, rec.LosingTrades)

	_, err = fx.engine.Update(ctx, sim.ID)
	assert.ErrorIs(t, err, models.ErrSimulationCompleted)
	var te *models.TradeError
	assert.True(t, errors.As(err, &te))

	_, err = fx.engine.Stop(ctx, sim.ID)
	assert.ErrorIs(t, err, models.ErrSimulationCompleted)

	trades, err := fx.engine.ListTrades(ctx, sim.ID, 10)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestSimulationStopWithoutPosition(t *testing.T) {
	fx := newSimFixture(t)
	sim := fx.create(t, models.SettingsInput{})
	cycle, err := fx.engine.Stop(context.Background(), sim.ID)
	require.NoError(t, err)
	assert.Empty(t, cycle.Trades)
	assertDec(t, 1000, cycle.Simulation.CurrentBalance, "balance")
}

func (fx *simFixture) lockCount() int {
	fx.engine.mu.Lock()
	defer fx.engine.mu.Unlock()
	return len(fx.engine.locks)
}

func TestSimulationStopReleasesLock(t *testing.T) {
	ctx := context.Background()
	fx := newSimFixture(t)
	sim := fx.create(t, models.SettingsInput{})
	fx.source.next(models.AlgoMomentum, models.SignalHold, 90, 10)
	_, err := fx.engine.Update(ctx, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.lockCount())

	_, err = fx.engine.Stop(ctx, sim.ID)
	require.NoError(t, err)
	assert.Zero(t, fx.lockCount())

	_, err = fx.engine.Update(ctx, sim.ID)
	assert.ErrorIs(t, err, models.ErrSimulationCompleted)
	_, err = fx.engine.Update(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrSimulationNotFound)
	assert.Zero(t, fx.lockCount())
}

func TestSimulationNotFound(t *testing.T) {
	ctx := context.Background()
	fx := newSimFixture(t)
	_, err := fx.engine.Update(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrSimulationNotFound)
	_, err = fx.engine.Stop(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrSimulationNotFound)
	_, err = fx.engine.ListTrades(ctx, "missing", 10)
	assert.ErrorIs(t, err, models.ErrSimulationNotFound)
}

func TestSimulationDecisionFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	fx := newSimFixture(t)
	sim := fx.create(t, models.SettingsInput{})
	fx.source.err = models.ErrNoPrice

	_, err := fx.engine.Update(ctx, sim.ID)
	assert.ErrorIs(t, err, models.ErrNoPrice)
	got, err := fx.engine.Get(ctx, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, sim.UpdatedAt, got.UpdatedAt)
	assert.Zero(t, got.TotalTrades)
}
