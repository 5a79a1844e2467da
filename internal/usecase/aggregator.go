package usecase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"SignalDesk/internal/domain/models"
	drepo "SignalDesk/internal/domain/repository"
	pkgcache "SignalDesk/pkg/cache"
	"SignalDesk/pkg/clock"
	applogger "SignalDesk/pkg/logger"
	"SignalDesk/pkg/metrics"
	"SignalDesk/pkg/queue"
	"SignalDesk/pkg/util"
)

// AggregateJobType is the queue message type of one aggregation unit.
const AggregateJobType = "aggregate_bucket"

var rollingWindows = map[models.AggregateCategory]time.Duration{
	models.Category24h: 24 * time.Hour,
	models.Category7d:  7 * 24 * time.Hour,
	models.Category30d: 30 * 24 * time.Hour,
}

// AggregateUnit is one (symbol, category) pass evaluated at At.
type AggregateUnit struct {
	Symbol   string                   `json:"symbol"`
	Category models.AggregateCategory `json:"category"`
	At       time.Time                `json:"at"`
}

// Aggregator summarises persisted ticks into calendar and rolling buckets.
type Aggregator struct {
	ticks    drepo.TickStore
	store    drepo.AggregateStore
	queue    queue.QueueService
	cache    pkgcache.Service
	metrics  drepo.Metrics
	clock    clock.Clock
	log      *applogger.Logger
	interval time.Duration
	lockTTL  time.Duration

	runMu sync.Mutex
}

type AggregatorOption func(*Aggregator)

// WithAggregatorQueue dispatches units as jobs instead of running them inline.
func WithAggregatorQueue(q queue.QueueService) AggregatorOption {
	return func(a *Aggregator) { a.queue = q }
}

// WithAggregatorLocks guards each unit with a cache lock so concurrent
// workers do not repeat it.
func WithAggregatorLocks(c pkgcache.Service, ttl time.Duration) AggregatorOption {
	return func(a *Aggregator) { a.cache, a.lockTTL = c, ttl }
}
func WithAggregatorMetrics(m drepo.Metrics) AggregatorOption {
	return func(a *Aggregator) { a.metrics = m }
}
func WithAggregatorClock(c clock.Clock) AggregatorOption {
	return func(a *Aggregator) { a.clock = c }
}
func WithAggregatorLogger(l *applogger.Logger) AggregatorOption {
	return func(a *Aggregator) { a.log = l }
}

func NewAggregator(ticks drepo.TickStore, store drepo.AggregateStore, interval time.Duration, opts ...AggregatorOption) *Aggregator {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	a := &Aggregator{
		ticks:    ticks,
		store:    store,
		metrics:  metrics.Noop{},
		clock:    clock.New(),
		log:      applogger.Nop(),
		interval: interval,
		lockTTL:  interval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Job returns the queue handler that executes units enqueued by RunOnce.
func (a *Aggregator) Job() queue.Job {
	return queue.Typed(AggregateJobType, func(ctx context.Context, u *AggregateUnit) error {
		_, err := a.RunUnit(ctx, *u)
		return err
	})
}

// Run aggregates every interval until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	t := a.clock.NewTicker(a.interval)
	defer t.Stop()
	a.logReport(a.RunOnce(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			a.logReport(a.RunOnce(ctx))
		}
	}
}

func (a *Aggregator) logReport(r models.AggregationReport) {
	a.log.Info("aggregation pass",
		applogger.Int("units", r.Units),
		applogger.Int("upserted", r.Upserted),
		applogger.Int("skipped", r.Skipped),
		applogger.Int("failed", r.Failed),
		applogger.Int("queued", r.Queued))
}

// RunOnce visits every (symbol, category) unit. A failing unit is logged,
// counted and skipped.
func (a *Aggregator) RunOnce(ctx context.Context) models.AggregationReport {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	var rep models.AggregationReport
	symbols, err := a.ticks.Symbols(ctx)
	if err != nil {
		a.metrics.RecordError("aggregate_symbols")
		a.log.Error("aggregation symbols failed", applogger.Error(err))
		return rep
	}
	now := a.clock.Now().UTC()

	for _, sym := range symbols {
		for _, cat := range models.AllCategories {
			if ctx.Err() != nil {
				return rep
			}
			rep.Units++
			u := AggregateUnit{Symbol: sym, Category: cat, At: now}

			if a.queue != nil {
				if err := a.queue.PublishMessage(ctx, AggregateJobType, u); err != nil {
					rep.Failed++
					a.metrics.RecordAggregation(string(cat), "enqueue_failed")
					a.log.Warn("aggregation enqueue failed", applogger.String("symbol", sym), applogger.Error(err))
					continue
				}
				rep.Queued++
				a.metrics.RecordAggregation(string(cat), "queued")
				continue
			}

			res, err := a.RunUnit(ctx, u)
			if err != nil {
				rep.Failed++
				continue
			}
			rep.Upserted += res.Upserted
			rep.Skipped += res.Skipped
		}
	}
	return rep
}

// RunUnit aggregates one unit with panic isolation; the report counts its
// windows. Calendar categories
// refresh the current and previous period; rolling categories refresh
// their single row.
func (a *Aggregator) RunUnit(ctx context.Context, u AggregateUnit) (res models.AggregationReport, err error) {
	cat := string(u.Category)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("aggregate %s/%s panic: %v", u.Symbol, cat, r)
		}
		switch {
		case err != nil:
			a.metrics.RecordAggregation(cat, "failed")
			a.log.Error("aggregation unit failed",
				applogger.String("symbol", u.Symbol),
				applogger.String("category", cat),
				applogger.Error(err))
		case res.Upserted > 0:
			a.metrics.RecordAggregation(cat, "upserted")
		default:
			a.metrics.RecordAggregation(cat, "skipped")
		}
	}()

	if !models.IsValidCategory(u.Category) {
		return res, fmt.Errorf("aggregate %s: unknown category %q", u.Symbol, cat)
	}
	if a.cache != nil {
		key := pkgcache.GenerateKeyWithParams(pkgcache.PrefixLock, "aggregate", u.Symbol, cat)
		ok, lerr := a.cache.TryLock(ctx, key, a.lockTTL)
		if lerr != nil {
			return res, fmt.Errorf("aggregate lock: %w", lerr)
		}
		if !ok {
			res.Skipped++
			return res, nil
		}
		defer func() { _ = a.cache.Unlock(context.WithoutCancel(ctx), key) }()
	}

	at := u.At.UTC()
	if at.IsZero() {
		at = a.clock.Now().UTC()
	}
	for _, w := range Windows(u.Category, at) {
		ticks, qerr := a.ticks.Query(ctx, u.Symbol, w.From, w.To, 0)
		if qerr != nil {
			return res, fmt.Errorf("aggregate %s/%s: %w", u.Symbol, cat, qerr)
		}
		b, ok := BuildBucket(u.Symbol, u.Category, w, ticks, a.clock.Now())
		if !ok {
			res.Skipped++
			continue
		}
		if uerr := a.store.Upsert(ctx, b); uerr != nil {
			return res, fmt.Errorf("aggregate %s/%s: %w", u.Symbol, cat, uerr)
		}
		res.Upserted++
	}
	return res, nil
}

// Window is one bucket's time range. To is inclusive.
type Window struct {
	PeriodStart time.Time
	From, To    time.Time
}

// Windows lists the windows refreshed for category at instant at.
func Windows(category models.AggregateCategory, at time.Time) []Window {
	at = at.UTC()
	switch category {
	case models.CategoryHour, models.CategoryDay, models.CategoryWeek, models.CategoryMonth:
		unit := string(category)
		cur, _ := util.PeriodStart(unit, at)
		prev := util.PreviousPeriod(unit, cur)
		return []Window{
			{PeriodStart: cur, From: cur, To: at},
			{PeriodStart: prev, From: prev, To: cur.Add(-time.Nanosecond)},
		}
	case models.CategoryAll:
		return []Window{{PeriodStart: models.RollingPeriodStart, From: models.RollingPeriodStart, To: at}}
	}
	if d, ok := rollingWindows[category]; ok {
		return []Window{{PeriodStart: models.RollingPeriodStart, From: at.Add(-d), To: at}}
	}
	return nil
}

// BuildBucket summarises ticks (oldest first) into one bucket. It reports
// false when there are no ticks.
func BuildBucket(symbol string, category models.AggregateCategory, w Window, ticks []models.PricePoint, now time.Time) (models.AggregateBucket, bool) {
	if len(ticks) == 0 {
		return models.AggregateBucket{}, false
	}
	b := models.AggregateBucket{
		Symbol:      models.NormalizeSymbol(symbol),
		Category:    category,
		PeriodStart: w.PeriodStart,
		WindowStart: w.From,
		WindowEnd:   w.To,
		Open:        ticks[0].Price,
		Close:       ticks[len(ticks)-1].Price,
		High:        math.Inf(-1),
		Low:         math.Inf(1),
		TickCount:   len(ticks),
		UpdatedAt:   now.UTC(),
	}
	var sum float64
	for _, t := range ticks {
		b.High = math.Max(b.High, t.Price)
		b.Low = math.Min(b.Low, t.Price)
		sum += t.Price
		b.TotalVolume += t.VolumeOr(0)
	}
	b.Average = sum / float64(len(ticks))
	if b.Open != 0 {
		b.ChangePercent = (b.Close - b.Open) / b.Open * 100
	}
	return b, true
}

// Summaries lists stored buckets for symbol, newest first.
func (a *Aggregator) Summaries(ctx context.Context, symbol string, category models.AggregateCategory, limit int) ([]models.AggregateBucket, error) {
	if !models.IsValidCategory(category) {
		return nil, fmt.Errorf("summaries: unknown category %q", category)
	}
	out, err := a.store.List(ctx, models.NormalizeSymbol(symbol), category, limit)
	if err != nil {
		return nil, fmt.Errorf("summaries %s: %w", symbol, err)
	}
	return out, nil
}
