package models

// MarketRegime classifies the current market state.
type MarketRegime string

const (
	RegimeBull     MarketRegime = "bull"
	RegimeBear     MarketRegime = "bear"
	RegimeSideways MarketRegime = "sideways"
	RegimeVolatile MarketRegime = "volatile"
)

type MACD struct {
	Line      float64  `json:"line"`
	Signal    *float64 `json:"signal,omitempty"`
	Histogram *float64 `json:"histogram,omitempty"`
}

type Bollinger struct {
	Upper    float64 `json:"upper"`
	Middle   float64 `json:"middle"`
	Lower    float64 `json:"lower"`
	Width    float64 `json:"width"`    // band width as % of middle
	PercentB float64 `json:"percentB"` // position of price inside the bands
}

// IndicatorSet is derived from one history snapshot. A nil field means the
// snapshot was too short for that indicator.
type IndicatorSet struct {
	Symbol      string        `json:"symbol"`
	Price       float64       `json:"price"`
	Points      int           `json:"points"`
	SMA5        *float64      `json:"sma5,omitempty"`
	SMA10       *float64      `json:"sma10,omitempty"`
	SMA20       *float64      `json:"sma20,omitempty"`
	SMA50       *float64      `json:"sma50,omitempty"`
	EMA12       *float64      `json:"ema12,omitempty"`
	EMA26       *float64      `json:"ema26,omitempty"`
	RSI         *float64      `json:"rsi,omitempty"`
	MACD        *MACD         `json:"macd,omitempty"`
	Bollinger   *Bollinger    `json:"bollinger,omitempty"`
	ATR         *float64      `json:"atr,omitempty"`
	Volatility  *float64      `json:"volatility,omitempty"`
	Trend       *float64      `json:"trend,omitempty"`
	VolumeRatio *float64      `json:"volumeRatio,omitempty"`
	Regime      *MarketRegime `json:"regime,omitempty"`
}
