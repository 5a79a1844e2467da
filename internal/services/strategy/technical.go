package strategy

import (
	"SignalDesk/internal/domain/models"
	domsvc "SignalDesk/internal/domain/service"
	"SignalDesk/internal/services/indicators"
)

var technicalParams = params{minHistory: 30, minEvidence: 3, maxPoints: 10}

// Technical scores classic trend and oscillator readings.
type Technical struct{}

func (Technical) Name() string    { return models.AlgoTechnical }
func (Technical) MinHistory() int { return technicalParams.minHistory }

func (s Technical) Evaluate(in domsvc.StrategyInput) models.StrategySignal {
	if insufficient(in, technicalParams.minHistory) {
		return models.HoldSignal(s.Name(), 0, models.ReasonInsufficientData)
	}
	ind := in.Indicators
	price := ind.Price
	t := &tally{}

	if ind.SMA5 != nil && ind.SMA10 != nil && ind.SMA20 != nil {
		switch {
		case *ind.SMA5 > *ind.SMA10 && *ind.SMA10 > *ind.SMA20:
			t.Buy(2, "bullish moving average alignment")
		case *ind.SMA5 < *ind.SMA10 && *ind.SMA10 < *ind.SMA20:
			t.Sell(2, "bearish moving average alignment")
		}
	}
	if ind.SMA20 != nil {
		if price > *ind.SMA20 {
			t.Buy(1, "price above SMA20")
		} else if price < *ind.SMA20 {
			t.Sell(1, "price below SMA20")
		}
	}
	if ind.RSI != nil {
		if *ind.RSI < 30 {
			t.Buy(2, "RSI oversold (%.1f)", *ind.RSI)
		} else if *ind.RSI > 70 {
			t.Sell(2, "RSI overbought (%.1f)", *ind.RSI)
		}
	}
	if m := ind.MACD; m != nil {
		switch {
		case m.Signal != nil && m.Line > *m.Signal:
			t.Buy(2, "MACD above signal line")
		case m.Signal != nil && m.Line < *m.Signal:
			t.Sell(2, "MACD below signal line")
		case m.Signal == nil && m.Line > 0:
			t.Buy(1, "MACD positive")
		case m.Signal == nil && m.Line < 0:
			t.Sell(1, "MACD negative")
		}
	}
	if ind.EMA12 != nil && ind.EMA26 != nil {
		if *ind.EMA12 > *ind.EMA26 {
			t.Buy(1, "EMA12 above EMA26")
		} else if *ind.EMA12 < *ind.EMA26 {
			t.Sell(1, "EMA12 below EMA26")
		}
	}
	if b := ind.Bollinger; b != nil {
		if b.PercentB < 0 {
			t.Buy(1, "price below lower Bollinger band")
		} else if b.PercentB > 1 {
			t.Sell(1, "price above upper Bollinger band")
		}
	}
	if roc, ok := indicators.ROC(closes(in), 5); ok {
		if roc > 0.5 {
			t.Buy(1, "5-tick rate of change %+.2f%%", roc)
		} else if roc < -0.5 {
			t.Sell(1, "5-tick rate of change %+.2f%%", roc)
		}
	}

	return decide(s.Name(), technicalParams, t)
}

var _ domsvc.Strategy = Technical{}
