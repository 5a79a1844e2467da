package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newSim(initial string) *SimulationState {
	return NewSimulation("sim-1", "user-1", "btcusdt", d(initial), SimulationSettings{}, at)
}

func TestBuyThenSellSamePriceIsFlat(t *testing.T) {
	s := newSim("1000")
	_, err := s.Buy(d("10"), d("30"), at)
	require.NoError(t, err)
	tr, err := s.Sell(d("10"), d("30"), at)
	require.NoError(t, err)

	assert.True(t, s.TotalProfit.IsZero())
	assert.True(t, s.Holdings.IsZero())
	assert.True(t, s.CurrentBalance.Equal(d("1000")))
	assert.True(t, tr.Profit.IsZero())
	assert.Equal(t, 2, s.TotalTrades)
	assert.True(t, s.AverageBuyPrice.IsZero())
}

func TestAverageBuyPriceIsWeighted(t *testing.T) {
	s := newSim("10000")
	_, err := s.Buy(d("10"), d("3"), at)
	require.NoError(t, err)
	_, err = s.Buy(d("20"), d("1"), at)
	require.NoError(t, err)

	want := d("3").Mul(d("10")).Add(d("1").Mul(d("20"))).Div(d("4"))
	assert.True(t, s.AverageBuyPrice.Equal(want), "got %s want %s", s.AverageBuyPrice, want)
	assert.True(t, s.Holdings.Equal(d("4")))
}

func TestBuyBeyondBalanceLeavesStateUnchanged(t *testing.T) {
	s := newSim("100")
	before := *s.Clone()

	_, err := s.Buy(d("10"), d("11"), at.Add(time.Minute))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	var te *TradeError
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Requested.Equal(d("110")))
	assert.True(t, te.Available.Equal(d("100")))
	assert.Equal(t, before, *s)
}

func TestSellErrors(t *testing.T) {
	s := newSim("100")
	_, err := s.Sell(d("10"), d("1"), at)
	assert.ErrorIs(t, err, ErrInsufficientHoldings)
	_, err = s.Buy(d("0"), d("1"), at)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	_, err = s.Buy(d("1"), d("0"), at)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCompletedRejectsEverything(t *testing.T) {
	s := newSim("100")
	require.NoError(t, s.Complete(at))
	assert.True(t, s.IsCompleted())
	require.NotNil(t, s.CompletedAt)

	_, err := s.Buy(d("1"), d("1"), at)
	assert.ErrorIs(t, err, ErrSimulationCompleted)
	_, err = s.Sell(d("1"), d("1"), at)
	assert.ErrorIs(t, err, ErrSimulationCompleted)
	assert.ErrorIs(t, s.UpdateStats(d("1"), at), ErrSimulationCompleted)
	assert.ErrorIs(t, s.Complete(at), ErrSimulationCompleted)
}

func TestMarkToMarket(t *testing.T) {
	s := newSim("1000")
	_, err := s.Buy(d("10"), d("50"), at)
	require.NoError(t, err)
	require.NoError(t, s.UpdateStats(d("12"), at))

	assert.True(t, s.CurrentValue.Equal(d("1100")))
	assert.True(t, s.UnrealizedProfit.Equal(d("100")))
	assert.True(t, s.ProfitPercentage.Equal(d("10")))
	assert.True(t, s.UnrealizedPercent(d("12")).Equal(d("20")))
}
