package usecase

import (
	"context"
	"fmt"

	"SignalDesk/internal/domain/models"
	drepo "SignalDesk/internal/domain/repository"
	"SignalDesk/pkg/clock"
	"SignalDesk/pkg/config"
)

// TickSink receives ticks selected for persistence.
type TickSink interface {
	Process(ctx context.Context, p models.PricePoint) error
}

// batchPublisher is implemented by publishers that can write many ticks at once.
type batchPublisher interface {
	PublishTicks(ctx context.Context, ticks []models.PricePoint) error
}

// TickProcessor routes persisted ticks to the configured backend.
type TickProcessor struct {
	pub     drepo.Publisher
	store   drepo.TickStore
	metrics drepo.Metrics
	clock   clock.Clock
	backend string
	batchSz int
}

var _ TickSink = (*TickProcessor)(nil)

// NewTickProcessor creates a new TickProcessor instance. backend is one of
// memory, clickhouse (both written through store) or kafka (published).
func NewTickProcessor(pub drepo.Publisher, store drepo.TickStore, metrics drepo.Metrics, backend string, batchSz int, clk clock.Clock) *TickProcessor {
	if batchSz <= 0 {
		batchSz = 500
	}
	if clk == nil {
		clk = clock.New()
	}
	return &TickProcessor{
		pub:     pub,
		store:   store,
		metrics: metrics,
		clock:   clk,
		backend: backend,
		batchSz: batchSz,
	}
}

// Backend reports where ticks are written.
func (p *TickProcessor) Backend() string { return p.backend }

// Process persists a single tick.
func (p *TickProcessor) Process(ctx context.Context, t models.PricePoint) error {
	start := p.clock.Now()
	var err error

	switch p.backend {
	case config.BackendKafka:
		if p.pub == nil {
			err = fmt.Errorf("kafka backend without publisher")
			break
		}
		err = p.pub.PublishTick(ctx, t)
	case config.BackendClickHouse, config.BackendMemory:
		if p.store == nil {
			err = fmt.Errorf("%s backend without tick store", p.backend)
			break
		}
		err = p.store.Store(ctx, t)
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}

	if err != nil {
		p.metrics.RecordError("process")
		return fmt.Errorf("process tick: %w", err)
	}

	p.metrics.RecordMessageSent(p.backend, t.Symbol)
	p.metrics.RecordLatency("process", p.clock.Now().Sub(start).Seconds())
	return nil
}

// ProcessBatch persists ticks in chunks of the configured batch size.
func (p *TickProcessor) ProcessBatch(ctx context.Context, ticks []models.PricePoint) error {
	if len(ticks) == 0 {
		return nil
	}
	start := p.clock.Now()

	for lo := 0; lo < len(ticks); lo += p.batchSz {
		chunk := ticks[lo:min(lo+p.batchSz, len(ticks))]
		if err := p.writeBatch(ctx, chunk); err != nil {
			p.metrics.RecordError("process_batch")
			return fmt.Errorf("process batch: %w", err)
		}
		for _, t := range chunk {
			p.metrics.RecordMessageSent(p.backend, t.Symbol)
		}
	}
	p.metrics.RecordLatency("process_batch", p.clock.Now().Sub(start).Seconds())
	return nil
}

func (p *TickProcessor) writeBatch(ctx context.Context, ticks []models.PricePoint) error {
	switch p.backend {
	case config.BackendKafka:
		if bp, ok := p.pub.(batchPublisher); ok {
			return bp.PublishTicks(ctx, ticks)
		}
		for _, t := range ticks {
			if err := p.pub.PublishTick(ctx, t); err != nil {
				return err
			}
		}
		return nil
	case config.BackendClickHouse, config.BackendMemory:
		return p.store.StoreBatch(ctx, ticks)
	default:
		return fmt.Errorf("unknown backend: %s", p.backend)
	}
}

// Close closes underlying resources if available.
func (p *TickProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}
