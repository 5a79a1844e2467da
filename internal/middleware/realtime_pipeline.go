package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	"SignalDesk/pkg/clock"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, p models.PricePoint) error
}

// ProcFunc adapts a function to Proc.
type ProcFunc func(ctx context.Context, p models.PricePoint) error

func (f ProcFunc) Process(ctx context.Context, p models.PricePoint) error { return f(ctx, p) }

// RealtimePipeline sits between the exchange stream and the tick processor.
// It validates, throttles per symbol, optionally transforms, and buffers
// ticks whose processing failed with a retryable error.
type RealtimePipeline struct {
	proc      Proc
	metrics   domrepo.Metrics
	clock     clock.Clock
	maxRPS    int
	bufSize   int
	bufCh     chan models.PricePoint
	transform func(models.PricePoint) models.PricePoint
	retryable func(error) bool

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	lastSeen map[string]time.Time // per-symbol last accepted time
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS sets the max ticks per second per symbol.
func WithMaxRPS(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the retry buffer size.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTransform sets a hook applied to every valid tick.
func WithTransform(fn func(models.PricePoint) models.PricePoint) PipelineOption {
	return func(p *RealtimePipeline) { p.transform = fn }
}

// WithRetryable decides which downstream errors are buffered for retry.
func WithRetryable(fn func(error) bool) PipelineOption {
	return func(p *RealtimePipeline) { p.retryable = fn }
}

func WithClock(c clock.Clock) PipelineOption {
	return func(p *RealtimePipeline) { p.clock = c }
}

// DefaultRetryable rejects errors that will fail the same way again.
func DefaultRetryable(err error) bool {
	return !errors.Is(err, models.ErrStaleTick) &&
		!errors.Is(err, models.ErrInvalidPrice) &&
		!errors.Is(err, models.ErrUnknownSymbol) &&
		!errors.Is(err, context.Canceled)
}

// NewRealtimePipeline creates a new pipeline.
func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		proc:      proc,
		metrics:   metrics,
		clock:     clock.New(),
		maxRPS:    20,
		bufSize:   1000,
		retryable: DefaultRetryable,
		lastSeen:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan models.PricePoint, p.bufSize)
	return p
}

// Start launches background flushing of buffered ticks.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	p.mu.Unlock()

	p.wg.Add(1)
	go p.flush(ctx, stopCh)
}

func (p *RealtimePipeline) flush(ctx context.Context, stopCh <-chan struct{}) {
	defer p.wg.Done()
	const minBackoff, maxBackoff = 50 * time.Millisecond, 2 * time.Second
	backoff := minBackoff
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case t := <-p.bufCh:
			err := p.proc.Process(ctx, t)
			if err == nil {
				backoff = minBackoff
				continue
			}
			p.metrics.RecordError("pipeline_flush")
			if !p.retryable(err) {
				continue
			}
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case <-p.clock.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			select {
			case p.bufCh <- t:
			default:
				p.metrics.RecordError("pipeline_buffer_drop")
			}
		}
	}
}

// Stop stops the background flushing and waits for it to exit.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()
}

// Buffered is the number of ticks waiting for retry.
func (p *RealtimePipeline) Buffered() int { return len(p.bufCh) }

// Process validates, throttles, and forwards t downstream. A retryable
// downstream failure is buffered and still reported to the caller.
func (p *RealtimePipeline) Process(ctx context.Context, t models.PricePoint) error {
	start := p.clock.Now()
	t.Symbol = models.NormalizeSymbol(t.Symbol)
	if err := validateTick(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.transform != nil {
		t = p.transform(t)
		if err := validateTick(t); err != nil {
			p.metrics.RecordError("pipeline_transform_invalid")
			return err
		}
	}
	if !p.allow(t.Symbol, start) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.proc.Process(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_process")
		if p.retryable(err) {
			select {
			case p.bufCh <- t:
			default:
				p.metrics.RecordError("pipeline_buffer_full")
			}
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", p.clock.Now().Sub(start).Seconds())
	return nil
}

func validateTick(t models.PricePoint) error {
	if t.Symbol == "" {
		return fmt.Errorf("tick symbol empty: %w", models.ErrUnknownSymbol)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("tick %s timestamp missing", t.Symbol)
	}
	if t.Price <= 0 {
		return fmt.Errorf("tick %s: %w", t.Symbol, models.ErrInvalidPrice)
	}
	if t.Volume != nil && *t.Volume < 0 {
		return fmt.Errorf("tick %s negative volume", t.Symbol)
	}
	return nil
}

func (p *RealtimePipeline) allow(symbol string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.lastSeen[symbol]
	if ok && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[symbol] = now
	return true
}
