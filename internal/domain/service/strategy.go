package service

import (
	"SignalDesk/internal/domain/models"
)

// StrategyInput is the immutable view a strategy evaluates.
type StrategyInput struct {
	Symbol     string
	History    []models.PricePoint
	Indicators *models.IndicatorSet
	Market     models.MarketSnapshot
}

// Strategy turns one history snapshot into a signal. Implementations are pure
// and safe for concurrent use.
type Strategy interface {
	Name() string
	MinHistory() int
	Evaluate(in StrategyInput) models.StrategySignal
}

// IndicatorCalculator derives indicators from a history snapshot.
type IndicatorCalculator interface {
	Compute(symbol string, points []models.PricePoint) *models.IndicatorSet
}

// PerformanceTracker keeps live per-(algorithm, symbol) statistics.
type PerformanceTracker interface {
	UpdatePerformance(algorithm, symbol string, result models.TradeResult) models.PerformanceRecord
	Record(algorithm, symbol string) (models.PerformanceRecord, bool)
	GetPerformance(algorithm, symbol string) models.PerformanceRecord
	Score(algorithm, symbol string) float64
}

// AlgorithmSelector combines strategy outputs into one decision.
type AlgorithmSelector interface {
	Select(symbol string, signals []models.StrategySignal) models.SelectionResult
}
