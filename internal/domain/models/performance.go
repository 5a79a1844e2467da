package models

import (
	"math"
	"time"
)

// ProfitFactorUnbounded stands in for an infinite profit factor (profit with
// no losses). It survives JSON encoding, unlike math.Inf.
const ProfitFactorUnbounded = math.MaxFloat64

// RecentTradesCap bounds PerformanceRecord.RecentTrades.
const RecentTradesCap = 100

// TradeResult is one realised trade attributed to an algorithm.
type TradeResult struct {
	Profit    float64   `json:"profit"`
	ReturnPct float64   `json:"returnPct"`
	Timestamp time.Time `json:"timestamp"`
}

// PerformanceRecord tracks live results of one algorithm on one symbol.
type PerformanceRecord struct {
	Algorithm     string        `json:"algorithm"`
	Symbol        string        `json:"symbol"`
	TotalTrades   int           `json:"totalTrades"`
	WinningTrades int           `json:"winningTrades"`
	LosingTrades  int           `json:"losingTrades"`
	TotalProfit   float64       `json:"totalProfit"`
	TotalLoss     float64       `json:"totalLoss"` // magnitude, always >= 0
	WinRate       float64       `json:"winRate"`
	ProfitFactor  float64       `json:"profitFactor"`
	AverageProfit float64       `json:"averageProfit"`
	AverageLoss   float64       `json:"averageLoss"`
	SharpeRatio   float64       `json:"sharpeRatio"`
	MaxDrawdown   float64       `json:"maxDrawdown"`
	RecentTrades  []TradeResult `json:"recentTrades"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// NewPerformanceRecord returns a zeroed record.
func NewPerformanceRecord(algorithm, symbol string) *PerformanceRecord {
	return &PerformanceRecord{
		Algorithm:    algorithm,
		Symbol:       NormalizeSymbol(symbol),
		RecentTrades: make([]TradeResult, 0, RecentTradesCap),
	}
}

// Clone returns a deep copy safe to hand to readers.
func (r *PerformanceRecord) Clone() PerformanceRecord {
	out := *r
	out.RecentTrades = append([]TradeResult(nil), r.RecentTrades...)
	return out
}
