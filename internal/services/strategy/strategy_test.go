package strategy

import (
	"testing"
	"time"

	"SignalDesk/internal/domain/models"
	domsvc "SignalDesk/internal/domain/service"
	"SignalDesk/internal/services/indicators"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func input(closes []float64) domsvc.StrategyInput {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pts := make([]models.PricePoint, len(closes))
	for i, c := range closes {
		pts[i] = models.PricePoint{Symbol: "BTCUSDT", Price: c, Timestamp: t0.Add(time.Duration(i) * 10 * time.Second)}
	}
	eng := indicators.NewEngine(indicators.DefaultConfig())
	return domsvc.StrategyInput{
		Symbol:     "BTCUSDT",
		History:    pts,
		Indicators: eng.Compute("BTCUSDT", pts),
		Market:     models.MarketSnapshot{Symbol: "BTCUSDT", Price: closes[len(closes)-1]},
	}
}

func ramp(from, to float64) []float64 {
	step := 1.0
	if to < from {
		step = -1
	}
	var out []float64
	for v := from; ; v += step {
		out = append(out, v)
		if v == to {
			return out
		}
	}
}

func TestInsufficientHistory(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	for _, s := range reg.All() {
		t.Run(s.Name(), func(t *testing.T) {
			in := input(ramp(100, 100+float64(s.MinHistory()-2)))
			require.Less(t, len(in.History), s.MinHistory())
			sig := s.Evaluate(in)
			assert.Equal(t, models.SignalHold, sig.Signal)
			assert.Zero(t, sig.Confidence)
			assert.Equal(t, []string{models.ReasonInsufficientData}, sig.Reasons)
			assert.Equal(t, s.Name(), sig.Algorithm)
		})
	}
}

func TestTechnicalRisingSeriesBuys(t *testing.T) {
	sig := Technical{}.Evaluate(input(ramp(100, 130)))
	assert.Equal(t, models.SignalBuy, sig.Signal)
	assert.Greater(t, sig.Confidence, 50.0)
	assert.LessOrEqual(t, sig.Confidence, 95.0)
	assert.Greater(t, sig.BuyPoints, sig.SellPoints)
	assert.NotEmpty(t, sig.Reasons)
}

func TestTechnicalFallingSeriesSells(t *testing.T) {
	sig := Technical{}.Evaluate(input(ramp(130, 100)))
	assert.Equal(t, models.SignalSell, sig.Signal)
	assert.Greater(t, sig.Confidence, 50.0)
}

func TestMomentumRisingSeries(t *testing.T) {
	c := ramp(100, 125)
	for i := range c {
		c[i] = c[i] * (1 + float64(i)*0.002)
	}
	sig := Momentum{}.Evaluate(input(c))
	assert.Equal(t, models.SignalBuy, sig.Signal)
}

func TestMeanReversionStretchedBelowBand(t *testing.T) {
	c := make([]float64, 0, 40)
	for i := 0; i < 39; i++ {
		if i%2 == 0 {
			c = append(c, 100.5)
		} else {
			c = append(c, 99.5)
		}
	}
	c = append(c, 92)
	sig := MeanReversion{}.Evaluate(input(c))
	assert.Equal(t, models.SignalBuy, sig.Signal)
	assert.GreaterOrEqual(t, sig.BuyPoints, 5)
}

func TestVolatilityRegimeBreakout(t *testing.T) {
	c := make([]float64, 0, 40)
	for i := 0; i < 39; i++ {
		c = append(c, 100+float64(i%3)*0.1)
	}
	c = append(c, 103)
	sig := VolatilityRegime{cfg: DefaultConfig()}.Evaluate(input(c))
	assert.Equal(t, models.SignalBuy, sig.Signal)
	assert.GreaterOrEqual(t, sig.BuyPoints, 3)
}

func TestProfitMaximizationMetrics(t *testing.T) {
	c := []float64{}
	for i := 0; i < 40; i++ {
		c = append(c, 100+float64(i%10))
	}
	c = append(c, 101)
	sig := ProfitMaximization{cfg: DefaultConfig()}.Evaluate(input(c))

	require.NotNil(t, sig.Metrics.Support)
	require.NotNil(t, sig.Metrics.Resistance)
	assert.Less(t, *sig.Metrics.Support, 101.0)
	assert.Greater(t, *sig.Metrics.Resistance, 101.0)
	require.NotNil(t, sig.Metrics.RiskReward)
	require.NotNil(t, sig.Metrics.KellyFraction)
	assert.GreaterOrEqual(t, *sig.Metrics.KellyFraction, 0.01)
	assert.LessOrEqual(t, *sig.Metrics.KellyFraction, 0.25)
}

func TestDecide(t *testing.T) {
	p := params{minEvidence: 3, maxPoints: 10}
	cases := []struct {
		name       string
		buy, sell  int
		want       models.SignalType
		confidence float64
	}{
		{"nothing fired", 0, 0, models.SignalHold, 0},
		{"buy wins", 6, 2, models.SignalBuy, 70},
		{"sell wins", 1, 5, models.SignalSell, 70},
		{"too little evidence", 2, 0, models.SignalHold, 0},
		{"tie", 4, 4, models.SignalHold, 40},
		{"capped", 30, 0, models.SignalBuy, 95},
		{"weak disagreement", 2, 1, models.SignalHold, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := decide("x", p, &tally{buy: tc.buy, sell: tc.sell})
			assert.Equal(t, tc.want, got.Signal)
			assert.InDelta(t, tc.confidence, got.Confidence, 1e-9)
			assert.NotNil(t, got.Reasons)
		})
	}
}

func TestKellyClamp(t *testing.T) {
	assert.Equal(t, 0.01, Kelly(0.3, 1, 0.01, 0.25))
	assert.Equal(t, 0.25, Kelly(0.9, 3, 0.01, 0.25))
	assert.InDelta(t, 0.1, Kelly(0.4, 2, 0.01, 0.25), 1e-9)
	assert.Equal(t, 0.01, Kelly(0.9, 0, 0.01, 0.25))
}

func TestSupportResistance(t *testing.T) {
	c := []float64{10, 9, 8, 9, 10, 11, 12, 11, 10, 9.5, 10}
	sup, res := SupportResistance(c, 30)
	assert.Equal(t, 8.0, sup)
	assert.Equal(t, 12.0, res)

	sup, res = SupportResistance([]float64{1, 2, 3, 4, 5}, 30)
	assert.Equal(t, 1.0, sup)
	assert.Equal(t, 5.0, res)

	rr, ok := RiskReward(10, 8, 14)
	require.True(t, ok)
	assert.Equal(t, 2.0, rr)
	_, ok = RiskReward(8, 8, 14)
	assert.False(t, ok)
}

func TestRegistryOrder(t *testing.T) {
	reg := NewRegistry(Config{})
	assert.Equal(t, []string{
		models.AlgoTechnical, models.AlgoMomentum, models.AlgoMeanReversion,
		models.AlgoVolatilityRegime, models.AlgoProfitMaximization,
	}, reg.Names())
	assert.Equal(t, 30, reg.MaxMinHistory())
	_, ok := reg.Get(models.AlgoMomentum)
	assert.True(t, ok)
	_, ok = reg.Get("nope")
	assert.False(t, ok)
}
