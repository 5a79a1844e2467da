package strategy

import (
	"SignalDesk/internal/domain/models"
	domsvc "SignalDesk/internal/domain/service"
	"SignalDesk/internal/services/indicators"
)

var volatilityRegimeParams = params{minHistory: 30, minEvidence: 2, maxPoints: 8}

// VolatilityRegime trades with the regime and with range breakouts.
type VolatilityRegime struct {
	cfg Config
}

func (VolatilityRegime) Name() string    { return models.AlgoVolatilityRegime }
func (VolatilityRegime) MinHistory() int { return volatilityRegimeParams.minHistory }

func (s VolatilityRegime) Evaluate(in domsvc.StrategyInput) models.StrategySignal {
	if insufficient(in, volatilityRegimeParams.minHistory) {
		return models.HoldSignal(s.Name(), 0, models.ReasonInsufficientData)
	}
	ind := in.Indicators
	c := closes(in)
	n := len(c)
	price := c[n-1]
	t := &tally{}

	trend := 0.0
	if ind.Trend != nil {
		trend = *ind.Trend
	}

	if ind.Regime != nil {
		switch *ind.Regime {
		case models.RegimeBull:
			t.Buy(2, "bull regime with contained volatility")
		case models.RegimeBear:
			t.Sell(2, "bear regime with contained volatility")
		}
	}

	hi, lo := indicators.MaxMin(c[n-21 : n-1])
	if price > hi {
		t.Buy(3, "breakout above 20-tick high %.4f", hi)
	} else if price < lo {
		t.Sell(3, "breakdown below 20-tick low %.4f", lo)
	}

	now, okNow := indicators.Volatility(c, indicators.VolatilityWin)
	before, okBefore := indicators.Volatility(c[:n-5], indicators.VolatilityWin)
	if okNow && okBefore && before > 0 && now > before*1.2 {
		if trend > 0 {
			t.Buy(1, "volatility expanding with uptrend")
		} else if trend < 0 {
			t.Sell(1, "volatility expanding with downtrend")
		}
	}

	if ind.ATR != nil && price > 0 {
		if atrPct := *ind.ATR / price * 100; atrPct > 5 {
			t.Sell(1, "ATR %.1f%% of price, reducing exposure", atrPct)
		}
	}

	lr := indicators.LogReturns(c)
	bars := indicators.BarsPerYear(s.cfg.SampleInterval)
	short, okShort := indicators.RealizedVolatility(lr, 10, bars)
	long, okLong := indicators.RealizedVolatility(lr, len(lr), bars)
	if okShort && okLong && long > 0 && short < long*0.8 {
		if trend > 0 {
			t.Buy(1, "realized volatility compressing (%.2f vs %.2f annualized)", short, long)
		} else if trend < 0 {
			t.Sell(1, "realized volatility compressing (%.2f vs %.2f annualized)", short, long)
		}
	}

	return decide(s.Name(), volatilityRegimeParams, t)
}

var _ domsvc.Strategy = VolatilityRegime{}
