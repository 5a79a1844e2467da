package indicators

import (
	"math"

	"SignalDesk/internal/domain/models"
)

// Lookbacks.
const (
	RSIPeriod       = 14
	MACDFast        = 12
	MACDSlow        = 26
	MACDSignal      = 9
	BollingerPeriod = 20
	BollingerK      = 2.0
	ATRPeriod       = 14
	VolatilityWin   = 20
)

// Config holds the regime thresholds, both in percent.
type Config struct {
	VolatileThreshold float64
	TrendThreshold    float64
}

func DefaultConfig() Config {
	return Config{VolatileThreshold: 3, TrendThreshold: 1}
}

// Engine derives an IndicatorSet from a history snapshot. It holds no state
// besides its configuration and is safe for concurrent use.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.VolatileThreshold <= 0 {
		cfg.VolatileThreshold = 3
	}
	if cfg.TrendThreshold <= 0 {
		cfg.TrendThreshold = 1
	}
	return &Engine{cfg: cfg}
}

// Compute returns nil for an empty snapshot.
func (e *Engine) Compute(symbol string, points []models.PricePoint) *models.IndicatorSet {
	if len(points) == 0 {
		return nil
	}
	closes := make([]float64, len(points))
	for i, p := range points {
		closes[i] = p.Price
	}
	price := closes[len(closes)-1]

	set := &models.IndicatorSet{
		Symbol: models.NormalizeSymbol(symbol),
		Price:  price,
		Points: len(points),
	}

	set.SMA5 = opt(SMA(closes, 5))
	set.SMA10 = opt(SMA(closes, 10))
	set.SMA20 = opt(SMA(closes, 20))
	set.SMA50 = opt(SMA(closes, 50))
	set.EMA12 = opt(EMA(closes, MACDFast))
	set.EMA26 = opt(EMA(closes, MACDSlow))
	set.RSI = opt(RSI(closes, RSIPeriod))
	set.MACD = macd(closes)
	set.Bollinger = bollinger(closes, price)
	set.ATR = opt(ATR(points, ATRPeriod))
	set.Volatility = opt(Volatility(closes, VolatilityWin))
	set.VolumeRatio = volumeRatio(points, VolatilityWin)

	if set.SMA20 != nil && *set.SMA20 != 0 {
		trend := (price - *set.SMA20) / *set.SMA20 * 100
		set.Trend = &trend
	}
	if set.Volatility != nil && set.Trend != nil {
		regime := e.Regime(*set.Volatility, *set.Trend)
		set.Regime = &regime
	}
	return set
}

// Regime classifies volatility and trend, both in percent.
func (e *Engine) Regime(volatility, trend float64) models.MarketRegime {
	switch {
	case volatility > e.cfg.VolatileThreshold:
		return models.RegimeVolatile
	case trend > e.cfg.TrendThreshold:
		return models.RegimeBull
	case trend < -e.cfg.TrendThreshold:
		return models.RegimeBear
	default:
		return models.RegimeSideways
	}
}

func macd(closes []float64) *models.MACD {
	series := MACDSeries(closes, MACDFast, MACDSlow)
	if len(series) == 0 {
		return nil
	}
	out := &models.MACD{Line: series[len(series)-1]}
	if sig, ok := EMA(series, MACDSignal); ok {
		hist := out.Line - sig
		out.Signal = &sig
		out.Histogram = &hist
	}
	return out
}

func bollinger(closes []float64, price float64) *models.Bollinger {
	mid, ok := SMA(closes, BollingerPeriod)
	if !ok {
		return nil
	}
	sd := StdDev(closes[len(closes)-BollingerPeriod:])
	b := &models.Bollinger{
		Upper:    mid + BollingerK*sd,
		Middle:   mid,
		Lower:    mid - BollingerK*sd,
		PercentB: 0.5,
	}
	if mid != 0 {
		b.Width = (b.Upper - b.Lower) / mid * 100
	}
	if span := b.Upper - b.Lower; span > 0 {
		b.PercentB = (price - b.Lower) / span
	}
	return b
}

// ATR is Wilder's average true range; it needs period+1 points.
func ATR(points []models.PricePoint, period int) (float64, bool) {
	if period <= 0 || len(points) < period+1 {
		return 0, false
	}
	trs := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		trs = append(trs, trueRange(points[i], points[i-1].Price))
	}
	atr := 0.0
	for _, tr := range trs[:period] {
		atr += tr
	}
	atr /= float64(period)
	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr, true
}

func trueRange(p models.PricePoint, prevClose float64) float64 {
	if p.High == nil || p.Low == nil {
		return math.Abs(p.Price - prevClose)
	}
	h, l := *p.High, *p.Low
	return math.Max(h-l, math.Max(math.Abs(h-prevClose), math.Abs(l-prevClose)))
}

// Volatility is the sample deviation of the last window simple returns, in
// percent. It needs window+1 closes.
func Volatility(closes []float64, window int) (float64, bool) {
	if window < 2 || len(closes) < window+1 {
		return 0, false
	}
	returns := SimpleReturns(closes[len(closes)-window-1:])
	return SampleStdDev(returns) * 100, true
}

// volumeRatio compares the latest volume with the mean of the previous window.
func volumeRatio(points []models.PricePoint, window int) *float64 {
	if len(points) < window+1 {
		return nil
	}
	last := points[len(points)-1]
	if last.Volume == nil {
		return nil
	}
	sum := 0.0
	for _, p := range points[len(points)-window-1 : len(points)-1] {
		if p.Volume == nil {
			return nil
		}
		sum += *p.Volume
	}
	avg := sum / float64(window)
	if avg <= 0 {
		return nil
	}
	r := *last.Volume / avg
	return &r
}

func opt(v float64, ok bool) *float64 {
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
