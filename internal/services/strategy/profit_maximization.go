package strategy

import (
	"SignalDesk/internal/domain/models"
	domsvc "SignalDesk/internal/domain/service"
	"SignalDesk/internal/services/indicators"
)

var profitMaxParams = params{minHistory: 30, minEvidence: 3, maxPoints: 9}

const (
	pivotWindow = 30
	pivotSpan   = 2
	nearLevel   = 1.0 // percent
)

// ProfitMaximization weighs reward against risk between support and
// resistance and sizes the position with a clamped Kelly fraction.
type ProfitMaximization struct {
	cfg Config
}

func (ProfitMaximization) Name() string    { return models.AlgoProfitMaximization }
func (ProfitMaximization) MinHistory() int { return profitMaxParams.minHistory }

func (s ProfitMaximization) Evaluate(in domsvc.StrategyInput) models.StrategySignal {
	if insufficient(in, profitMaxParams.minHistory) {
		return models.HoldSignal(s.Name(), 0, models.ReasonInsufficientData)
	}
	ind := in.Indicators
	c := closes(in)
	price := c[len(c)-1]
	t := &tally{}

	support, resistance := SupportResistance(c, pivotWindow)
	rr, hasRR := RiskReward(price, support, resistance)

	if hasRR {
		if rr >= 2 {
			t.Buy(2, "risk/reward %.2f", rr)
		}
		if rr >= 3 {
			t.Buy(1, "excellent risk/reward")
		}
		if rr < 1 {
			t.Sell(1, "poor risk/reward %.2f", rr)
		}
	}
	if price > 0 {
		if (price-support)/price*100 < nearLevel {
			t.Buy(2, "near support %.4f", support)
		} else if resistance > price && (resistance-price)/price*100 < nearLevel {
			t.Sell(2, "near resistance %.4f", resistance)
		}
	}
	if ind.EMA12 != nil && ind.EMA26 != nil {
		if *ind.EMA12 > *ind.EMA26 {
			t.Buy(1, "EMA trend up")
		} else if *ind.EMA12 < *ind.EMA26 {
			t.Sell(1, "EMA trend down")
		}
	}
	if ind.RSI != nil {
		if *ind.RSI < 35 {
			t.Buy(1, "RSI low (%.1f)", *ind.RSI)
		} else if *ind.RSI > 65 {
			t.Sell(1, "RSI high (%.1f)", *ind.RSI)
		}
	}
	if m := ind.MACD; m != nil && m.Histogram != nil {
		if *m.Histogram > 0 {
			t.Buy(1, "MACD histogram positive")
		} else if *m.Histogram < 0 {
			t.Sell(1, "MACD histogram negative")
		}
	}

	out := decide(s.Name(), profitMaxParams, t)
	out.Metrics.Support = models.Float64(support)
	out.Metrics.Resistance = models.Float64(resistance)
	out.Metrics.StopLoss = models.Float64(support)
	out.Metrics.TakeProfit = models.Float64(resistance)
	if hasRR {
		out.Metrics.RiskReward = models.Float64(rr)
		if rr > 0 {
			k := Kelly(out.Confidence/100, rr, s.cfg.KellyMin, s.cfg.KellyMax)
			out.Metrics.KellyFraction = &k
		}
	}
	return out
}

// Kelly returns f = (p*b - q)/b clamped to [lo, hi].
func Kelly(p, b, lo, hi float64) float64 {
	if b <= 0 {
		return lo
	}
	f := (p*b - (1 - p)) / b
	return indicators.Clamp(f, lo, hi)
}

// RiskReward is (resistance-price)/(price-support). It is undefined when the
// price sits on or below support.
func RiskReward(price, support, resistance float64) (float64, bool) {
	risk := price - support
	if risk <= 0 {
		return 0, false
	}
	reward := resistance - price
	if reward < 0 {
		reward = 0
	}
	return reward / risk, true
}

// SupportResistance finds the nearest pivot low below and pivot high above
// the last close within the trailing window, falling back to the window
// extremes.
func SupportResistance(c []float64, window int) (support, resistance float64) {
	if len(c) == 0 {
		return 0, 0
	}
	if len(c) > window {
		c = c[len(c)-window:]
	}
	price := c[len(c)-1]
	resistance, support = indicators.MaxMin(c)

	foundLow, foundHigh := false, false
	bestLow, bestHigh := 0.0, 0.0
	for i := pivotSpan; i < len(c)-pivotSpan; i++ {
		if isPivot(c, i, func(a, b float64) bool { return a <= b }) && c[i] < price {
			if !foundLow || c[i] > bestLow {
				bestLow, foundLow = c[i], true
			}
		}
		if isPivot(c, i, func(a, b float64) bool { return a >= b }) && c[i] > price {
			if !foundHigh || c[i] < bestHigh {
				bestHigh, foundHigh = c[i], true
			}
		}
	}
	if foundLow {
		support = bestLow
	}
	if foundHigh {
		resistance = bestHigh
	}
	return support, resistance
}

func isPivot(c []float64, i int, cmp func(a, b float64) bool) bool {
	for j := i - pivotSpan; j <= i+pivotSpan; j++ {
		if j != i && !cmp(c[i], c[j]) {
			return false
		}
	}
	return true
}

var _ domsvc.Strategy = ProfitMaximization{}
