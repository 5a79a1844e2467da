package strategy

import (
	"SignalDesk/internal/domain/models"
	domsvc "SignalDesk/internal/domain/service"
)

var meanReversionParams = params{minHistory: 20, minEvidence: 3, maxPoints: 9}

// MeanReversion fades stretched prices back toward their averages.
type MeanReversion struct{}

func (MeanReversion) Name() string    { return models.AlgoMeanReversion }
func (MeanReversion) MinHistory() int { return meanReversionParams.minHistory }

func (s MeanReversion) Evaluate(in domsvc.StrategyInput) models.StrategySignal {
	if insufficient(in, meanReversionParams.minHistory) {
		return models.HoldSignal(s.Name(), 0, models.ReasonInsufficientData)
	}
	ind := in.Indicators
	price := ind.Price
	t := &tally{}

	if b := ind.Bollinger; b != nil {
		if b.PercentB < 0.05 {
			t.Buy(3, "price at lower Bollinger band (%%B %.2f)", b.PercentB)
		} else if b.PercentB > 0.95 {
			t.Sell(3, "price at upper Bollinger band (%%B %.2f)", b.PercentB)
		}

		if sd := (b.Upper - b.Middle) / 2; sd > 0 {
			z := (price - b.Middle) / sd
			if z < -2 {
				t.Buy(2, "z-score %.2f below mean", z)
			} else if z > 2 {
				t.Sell(2, "z-score %.2f above mean", z)
			}
		}
	}

	if ind.RSI != nil {
		if *ind.RSI < 30 {
			t.Buy(2, "RSI oversold (%.1f)", *ind.RSI)
		} else if *ind.RSI > 70 {
			t.Sell(2, "RSI overbought (%.1f)", *ind.RSI)
		}
	}

	if ind.SMA50 != nil && *ind.SMA50 != 0 {
		dist := (price - *ind.SMA50) / *ind.SMA50 * 100
		if dist < -5 {
			t.Buy(1, "%.1f%% below SMA50", -dist)
		} else if dist > 5 {
			t.Sell(1, "%.1f%% above SMA50", dist)
		}
	}

	if ind.Regime != nil && *ind.Regime == models.RegimeSideways {
		if t.buy > t.sell {
			t.Buy(1, "sideways market favors reversion")
		} else if t.sell > t.buy {
			t.Sell(1, "sideways market favors reversion")
		}
	}

	return decide(s.Name(), meanReversionParams, t)
}

var _ domsvc.Strategy = MeanReversion{}
