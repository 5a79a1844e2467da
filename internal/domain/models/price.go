package models

import (
	"strings"
	"time"
)

// TickSource identifies where a price point came from.
type TickSource string

const (
	SourceREST     TickSource = "rest"
	SourceStream   TickSource = "stream"
	SourceBackfill TickSource = "backfill"
)

// PricePoint is a single immutable market observation.
type PricePoint struct {
	Symbol    string     `json:"symbol"`
	Price     float64    `json:"price"`
	Volume    *float64   `json:"volume,omitempty"`
	High      *float64   `json:"high,omitempty"`
	Low       *float64   `json:"low,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Source    TickSource `json:"source,omitempty"`
}

// VolumeOr returns the volume or def when absent.
func (p PricePoint) VolumeOr(def float64) float64 {
	if p.Volume == nil {
		return def
	}
	return *p.Volume
}

// HighOr returns the high or the price when absent.
func (p PricePoint) HighOr() float64 {
	if p.High == nil {
		return p.Price
	}
	return *p.High
}

// LowOr returns the low or the price when absent.
func (p PricePoint) LowOr() float64 {
	if p.Low == nil {
		return p.Price
	}
	return *p.Low
}

// Ticker is the 24h REST ticker for one symbol.
type Ticker struct {
	Symbol        string    `json:"symbol"`
	LastPrice     float64   `json:"lastPrice"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Volume        float64   `json:"volume"`
	QuoteVolume   float64   `json:"quoteVolume"`
	ChangePercent float64   `json:"changePercent"`
	CloseTime     time.Time `json:"closeTime"`
}

// PricePoint converts the ticker into a history entry. The 24h high and low
// are not a per-tick range, so only the price and volume are carried.
func (t Ticker) PricePoint(src TickSource) PricePoint {
	vol := t.Volume
	ts := t.CloseTime
	if ts.IsZero() {
		ts = time.Now()
	}
	return PricePoint{
		Symbol:    NormalizeSymbol(t.Symbol),
		Price:     t.LastPrice,
		Volume:    &vol,
		Timestamp: ts,
		Source:    src,
	}
}

// Snapshot converts the ticker into the market view handed to strategies.
func (t Ticker) Snapshot() MarketSnapshot {
	return MarketSnapshot{
		Symbol:        NormalizeSymbol(t.Symbol),
		Price:         t.LastPrice,
		High24h:       t.High,
		Low24h:        t.Low,
		Volume24h:     t.Volume,
		ChangePercent: t.ChangePercent,
	}
}

// MarketSnapshot is the latest exchange view handed to strategies.
type MarketSnapshot struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	High24h       float64 `json:"high24h"`
	Low24h        float64 `json:"low24h"`
	Volume24h     float64 `json:"volume24h"`
	ChangePercent float64 `json:"changePercent"`
}

// NormalizeSymbol upper-cases and trims a symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }
