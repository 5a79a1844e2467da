package strategy

import (
	"SignalDesk/internal/domain/models"
	domsvc "SignalDesk/internal/domain/service"
	"SignalDesk/internal/services/indicators"
)

var momentumParams = params{minHistory: 20, minEvidence: 3, maxPoints: 9}

// Momentum follows rate of change, volume and streaks.
type Momentum struct{}

func (Momentum) Name() string    { return models.AlgoMomentum }
func (Momentum) MinHistory() int { return momentumParams.minHistory }

func (s Momentum) Evaluate(in domsvc.StrategyInput) models.StrategySignal {
	if insufficient(in, momentumParams.minHistory) {
		return models.HoldSignal(s.Name(), 0, models.ReasonInsufficientData)
	}
	ind := in.Indicators
	c := closes(in)
	t := &tally{}

	roc10, ok10 := indicators.ROC(c, 10)
	if ok10 {
		if roc10 > 2 {
			t.Buy(2, "strong 10-tick momentum %+.2f%%", roc10)
		} else if roc10 < -2 {
			t.Sell(2, "strong 10-tick decline %+.2f%%", roc10)
		}
	}

	roc5, ok5 := indicators.ROC(c, 5)
	prev5, okPrev := indicators.ROC(c[:len(c)-1], 5)
	if ok5 && okPrev {
		if roc5 > 0 && roc5 > prev5 {
			t.Buy(1, "momentum accelerating")
		} else if roc5 < 0 && roc5 < prev5 {
			t.Sell(1, "decline accelerating")
		}
	}

	if ind.RSI != nil {
		if *ind.RSI > 50 && *ind.RSI < 70 {
			t.Buy(1, "RSI in bullish zone (%.1f)", *ind.RSI)
		} else if *ind.RSI > 30 && *ind.RSI < 50 {
			t.Sell(1, "RSI in bearish zone (%.1f)", *ind.RSI)
		}
	}

	if m := ind.MACD; m != nil && m.Histogram != nil {
		if *m.Histogram > 0 {
			t.Buy(1, "MACD histogram positive")
		} else if *m.Histogram < 0 {
			t.Sell(1, "MACD histogram negative")
		}
	}

	if ind.VolumeRatio != nil && *ind.VolumeRatio > 1.5 && ok10 {
		if roc10 > 0 {
			t.Buy(2, "volume surge %.1fx on advance", *ind.VolumeRatio)
		} else if roc10 < 0 {
			t.Sell(2, "volume surge %.1fx on decline", *ind.VolumeRatio)
		}
	}

	if n := len(c); n >= 4 {
		up := c[n-4] < c[n-3] && c[n-3] < c[n-2] && c[n-2] < c[n-1]
		down := c[n-4] > c[n-3] && c[n-3] > c[n-2] && c[n-2] > c[n-1]
		if up {
			t.Buy(2, "three consecutive higher closes")
		} else if down {
			t.Sell(2, "three consecutive lower closes")
		}
	}

	return decide(s.Name(), momentumParams, t)
}

var _ domsvc.Strategy = Momentum{}
