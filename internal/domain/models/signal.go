package models

import "time"

// SignalType is the action a strategy recommends.
type SignalType string

const (
	SignalBuy  SignalType = "buy"
	SignalSell SignalType = "sell"
	SignalHold SignalType = "hold"
)

// Algorithm names of the built-in strategies.
const (
	AlgoTechnical          = "technical"
	AlgoMomentum           = "momentum"
	AlgoMeanReversion      = "mean_reversion"
	AlgoVolatilityRegime   = "volatility_regime"
	AlgoProfitMaximization = "profit_maximization"
)

// ReasonInsufficientData is the only reason on a strategy that lacked history.
const ReasonInsufficientData = "insufficient data"

// SignalMetrics carries optional auxiliary strategy output.
type SignalMetrics struct {
	RiskReward    *float64 `json:"riskReward,omitempty"`
	KellyFraction *float64 `json:"kellyFraction,omitempty"`
	Support       *float64 `json:"support,omitempty"`
	Resistance    *float64 `json:"resistance,omitempty"`
	StopLoss      *float64 `json:"stopLoss,omitempty"`
	TakeProfit    *float64 `json:"takeProfit,omitempty"`
}

// StrategySignal is the output of one strategy evaluation.
type StrategySignal struct {
	Algorithm  string        `json:"algorithm"`
	Signal     SignalType    `json:"signal"`
	Confidence float64       `json:"confidence"`
	Reasons    []string      `json:"reasons"`
	BuyPoints  int           `json:"buyPoints"`
	SellPoints int           `json:"sellPoints"`
	Metrics    SignalMetrics `json:"metrics"`
}

// HoldSignal returns a hold with the given confidence and reasons.
func HoldSignal(algo string, confidence float64, reasons ...string) StrategySignal {
	if reasons == nil {
		reasons = []string{}
	}
	return StrategySignal{Algorithm: algo, Signal: SignalHold, Confidence: confidence, Reasons: reasons}
}

// AlgorithmScore is one row of the selector ranking.
type AlgorithmScore struct {
	Algorithm        string     `json:"algorithm"`
	Signal           SignalType `json:"signal"`
	Confidence       float64    `json:"confidence"`
	PerformanceScore float64    `json:"performanceScore"`
	WeightedScore    float64    `json:"weightedScore"`
}

// SelectionResult is the combined decision of one cycle.
type SelectionResult struct {
	Symbol            string           `json:"symbol"`
	SelectedAlgorithm string           `json:"selectedAlgorithm"`
	Signal            SignalType       `json:"signal"`
	Confidence        float64          `json:"confidence"`
	Reasons           []string         `json:"reasons"`
	AllSignals        []AlgorithmScore `json:"allSignals"`
	Agreement         int              `json:"agreement"`
	Metrics           SignalMetrics    `json:"metrics"`
	Timestamp         time.Time        `json:"timestamp"`
}

// Decision is what calculateTradingSignal returns and caches.
type Decision struct {
	Symbol     string           `json:"symbol"`
	Price      float64          `json:"price"`
	Indicators *IndicatorSet    `json:"indicators,omitempty"`
	Selection  SelectionResult  `json:"selection"`
	Signals    []StrategySignal `json:"signals"`
	Timestamp  time.Time        `json:"timestamp"`
}
