package repository

import (
	"context"
	"time"

	"SignalDesk/internal/domain/models"
)

// TickerClient reads exchange REST market data.
type TickerClient interface {
	GetTicker(ctx context.Context, symbol string) (models.Ticker, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.PricePoint, error)
}

// MarketStream is one streaming connection carrying a batch of symbols.
type MarketStream interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context) (<-chan models.PricePoint, <-chan error)
	Close() error
	IsConnected() bool
	Symbols() []string
}

// StreamFactory opens a stream for a batch of symbols.
type StreamFactory interface {
	NewStream(symbols []string) MarketStream
}

type TickStore interface {
	Store(ctx context.Context, p models.PricePoint) error
	StoreBatch(ctx context.Context, points []models.PricePoint) error
	// Query returns ticks in [from, to] in ascending time order.
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.PricePoint, error)
	Symbols(ctx context.Context) ([]string, error)
	Health(ctx context.Context) error
	Close() error
}

type AggregateStore interface {
	// Upsert replaces any bucket with the same (symbol, category, periodStart).
	Upsert(ctx context.Context, b models.AggregateBucket) error
	// List returns buckets newest first.
	List(ctx context.Context, symbol string, category models.AggregateCategory, limit int) ([]models.AggregateBucket, error)
}

type PerformanceStore interface {
	SavePerformance(ctx context.Context, rec models.PerformanceRecord) error
	LoadPerformance(ctx context.Context) ([]models.PerformanceRecord, error)
}

type SimulationStore interface {
	CreateSimulation(ctx context.Context, s *models.SimulationState) error
	// GetSimulation returns models.ErrSimulationNotFound for unknown ids.
	GetSimulation(ctx context.Context, id string) (*models.SimulationState, error)
	// SaveSimulation commits the state together with the trades of one cycle.
	SaveSimulation(ctx context.Context, s *models.SimulationState, trades []models.Trade) error
	ListSimulations(ctx context.Context, userID string) ([]*models.SimulationState, error)
	// ListTrades returns the most recent trades in chronological order.
	ListTrades(ctx context.Context, simulationID string, limit int) ([]models.Trade, error)
}

type Publisher interface {
	PublishTick(ctx context.Context, p models.PricePoint) error
	PublishDecision(ctx context.Context, d *models.Decision) error
	PublishTrade(ctx context.Context, t models.Trade) error
	Close() error
}

type Metrics interface {
	RecordTick(source, symbol string)
	RecordMessageSent(backend, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordDecision(symbol, algorithm, signal string)
	RecordTrade(tradeType, reason string)
	RecordReconnect(conn string)
	RecordAggregation(category, result string)
}
