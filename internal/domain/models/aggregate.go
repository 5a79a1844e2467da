package models

import "time"

// AggregateCategory names a bucket granularity.
type AggregateCategory string

const (
	CategoryHour  AggregateCategory = "hour"
	CategoryDay   AggregateCategory = "day"
	CategoryWeek  AggregateCategory = "week"
	CategoryMonth AggregateCategory = "month"
	Category24h   AggregateCategory = "24h"
	Category7d    AggregateCategory = "7d"
	Category30d   AggregateCategory = "30d"
	CategoryAll   AggregateCategory = "all"
)

// AllCategories lists every category in aggregation order.
var AllCategories = []AggregateCategory{
	CategoryHour, CategoryDay, CategoryWeek, CategoryMonth,
	Category24h, Category7d, Category30d, CategoryAll,
}

// IsRolling reports whether the category is a sliding window rather than a
// calendar period.
func (c AggregateCategory) IsRolling() bool {
	switch c {
	case Category24h, Category7d, Category30d, CategoryAll:
		return true
	}
	return false
}

// IsValidCategory returns true if c is a supported category.
func IsValidCategory(c AggregateCategory) bool {
	for _, v := range AllCategories {
		if v == c {
			return true
		}
	}
	return false
}

// NormalizeCategory converts a raw string to a valid category, defaulting to day.
func NormalizeCategory(s string) AggregateCategory {
	c := AggregateCategory(s)
	if IsValidCategory(c) {
		return c
	}
	return CategoryDay
}

// RollingPeriodStart is the PeriodStart shared by every rolling bucket, so a
// symbol has one row per rolling category.
var RollingPeriodStart = time.Unix(0, 0).UTC()

// AggregateBucket is an OHLC summary of ticks in one window.
type AggregateBucket struct {
	Symbol        string            `json:"symbol"`
	Category      AggregateCategory `json:"category"`
	PeriodStart   time.Time         `json:"periodStart"`
	WindowStart   time.Time         `json:"windowStart"`
	WindowEnd     time.Time         `json:"windowEnd"`
	Open          float64           `json:"open"`
	High          float64           `json:"high"`
	Low           float64           `json:"low"`
	Close         float64           `json:"close"`
	Average       float64           `json:"average"`
	TotalVolume   float64           `json:"totalVolume"`
	ChangePercent float64           `json:"changePercent"`
	TickCount     int               `json:"tickCount"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// Key identifies the bucket row.
type AggregateKey struct {
	Symbol      string
	Category    AggregateCategory
	PeriodStart time.Time
}

func (b AggregateBucket) Key() AggregateKey {
	return AggregateKey{Symbol: b.Symbol, Category: b.Category, PeriodStart: b.PeriodStart.UTC()}
}

// AggregationReport summarises one aggregation pass.
type AggregationReport struct {
	Units    int `json:"units"`    // (symbol, category) pairs visited
	Upserted int `json:"upserted"` // buckets written
	Skipped  int `json:"skipped"`  // windows without ticks
	Failed   int `json:"failed"`   // units that errored or panicked
	Queued   int `json:"queued"`   // units handed to the job queue
}
