package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SignalDesk/internal/domain/models"
	drepo "SignalDesk/internal/domain/repository"
	domsvc "SignalDesk/internal/domain/service"
	"SignalDesk/internal/services/history"
	pkgcache "SignalDesk/pkg/cache"
	"SignalDesk/pkg/clock"
	applogger "SignalDesk/pkg/logger"
	"SignalDesk/pkg/metrics"
)

// EngineConfig holds the decision cache settings.
type EngineConfig struct {
	DecisionTTL  time.Duration
	IndicatorTTL time.Duration
}

// SignalEngine runs the decision cycle over the live price history.
type SignalEngine struct {
	cfg        EngineConfig
	feed       *PriceFeed
	history    *history.Rolling
	indicators domsvc.IndicatorCalculator
	strategies []domsvc.Strategy
	selector   domsvc.AlgorithmSelector
	tracker    domsvc.PerformanceTracker
	cache      pkgcache.Service
	publisher  drepo.Publisher
	metrics    drepo.Metrics
	clock      clock.Clock
	log        *applogger.Logger

	mu           sync.RWMutex
	startedAt    *time.Time
	lastDecision map[string]time.Time
}

type EngineOption func(*SignalEngine)

func WithEngineCache(c pkgcache.Service) EngineOption     { return func(e *SignalEngine) { e.cache = c } }
func WithEnginePublisher(p drepo.Publisher) EngineOption { return func(e *SignalEngine) { e.publisher = p } }
func WithEngineMetrics(m drepo.Metrics) EngineOption     { return func(e *SignalEngine) { e.metrics = m } }
func WithEngineClock(c clock.Clock) EngineOption         { return func(e *SignalEngine) { e.clock = c } }
func WithEngineLogger(l *applogger.Logger) EngineOption  { return func(e *SignalEngine) { e.log = l } }

// WithEnginePerformance exposes tracked strategy statistics through Performance.
func WithEnginePerformance(t domsvc.PerformanceTracker) EngineOption {
	return func(e *SignalEngine) { e.tracker = t }
}

func NewSignalEngine(
	cfg EngineConfig,
	feed *PriceFeed,
	hist *history.Rolling,
	indicators domsvc.IndicatorCalculator,
	strategies []domsvc.Strategy,
	selector domsvc.AlgorithmSelector,
	opts ...EngineOption,
) *SignalEngine {
	e := &SignalEngine{
		cfg:          cfg,
		feed:         feed,
		history:      hist,
		indicators:   indicators,
		strategies:   strategies,
		selector:     selector,
		metrics:      metrics.Noop{},
		clock:        clock.New(),
		log:          applogger.Nop(),
		lastDecision: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start starts the price feed.
func (e *SignalEngine) Start(ctx context.Context) error {
	if err := e.feed.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	e.mu.Lock()
	if e.startedAt == nil {
		now := e.clock.Now()
		e.startedAt = &now
	}
	e.mu.Unlock()
	return nil
}

// Stop stops the price feed and waits for its tasks.
func (e *SignalEngine) Stop() {
	e.feed.Stop()
	e.mu.Lock()
	e.startedAt = nil
	e.mu.Unlock()
}

// AddSymbol tracks a symbol. It reports whether the symbol was new.
func (e *SignalEngine) AddSymbol(symbol string) (bool, error) {
	added, err := e.feed.AddSymbol(symbol)
	if err != nil {
		return false, err
	}
	if added {
		e.log.Info("symbol added", applogger.String("symbol", models.NormalizeSymbol(symbol)))
	}
	return added, nil
}

// RemoveSymbol stops tracking a symbol and drops its history and cached
// decision.
func (e *SignalEngine) RemoveSymbol(ctx context.Context, symbol string) bool {
	symbol = models.NormalizeSymbol(symbol)
	if !e.feed.RemoveSymbol(symbol) {
		return false
	}
	e.history.Remove(symbol)
	e.mu.Lock()
	delete(e.lastDecision, symbol)
	e.mu.Unlock()
	if e.cache != nil {
		_ = e.cache.Delete(ctx, pkgcache.PriceKey(symbol), pkgcache.DecisionKey(symbol), pkgcache.IndicatorsKey(symbol))
	}
	e.log.Info("symbol removed", applogger.String("symbol", symbol))
	return true
}

// Algorithms lists strategy names in evaluation order.
func (e *SignalEngine) Algorithms() []string {
	out := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		out[i] = s.Name()
	}
	return out
}

// GetStatus reports feed state and per-symbol activity.
func (e *SignalEngine) GetStatus() models.EngineStatus {
	e.mu.RLock()
	var started *time.Time
	if e.startedAt != nil {
		t := *e.startedAt
		started = &t
	}
	decided := make(map[string]time.Time, len(e.lastDecision))
	for k, v := range e.lastDecision {
		decided[k] = v
	}
	e.mu.RUnlock()

	syms := e.feed.Symbols()
	st := models.EngineStatus{
		Running:           e.feed.Running(),
		StartedAt:         started,
		Symbols:           make([]models.SymbolStatus, 0, len(syms)),
		StreamConnections: e.feed.Connections(),
		Algorithms:        e.Algorithms(),
	}
	for _, sym := range syms {
		ss := models.SymbolStatus{Symbol: sym, HistoryLength: e.history.Len(sym)}
		if p, ok := e.history.Latest(sym); ok {
			ss.LastPrice = models.Float64(p.Price)
		}
		tick, persisted := e.feed.Activity(sym)
		ss.LastTickAt = timePtr(tick)
		ss.LastPersistAt = timePtr(persisted)
		ss.LastDecisionAt = timePtr(decided[sym])
		st.Symbols = append(st.Symbols, ss)
	}
	return st
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// CalculateTradingSignal evaluates every strategy concurrently on one
// history snapshot and selects a decision.
func (e *SignalEngine) CalculateTradingSignal(ctx context.Context, symbol string) (*models.Decision, error) {
	symbol = models.NormalizeSymbol(symbol)
	if !e.feed.Has(symbol) {
		return nil, fmt.Errorf("calculate signal %s: %w", symbol, models.ErrUnknownSymbol)
	}
	start := e.clock.Now()

	points := e.history.Snapshot(symbol)
	if len(points) == 0 {
		return nil, fmt.Errorf("calculate signal %s: %w", symbol, models.ErrNoPrice)
	}
	ind := e.indicators.Compute(symbol, points)
	market, ok := e.feed.Market(symbol)
	if !ok {
		market = models.MarketSnapshot{Symbol: symbol, Price: points[len(points)-1].Price}
	}
	in := domsvc.StrategyInput{Symbol: symbol, History: points, Indicators: ind, Market: market}

	signals := e.evaluate(in)
	sel := e.selector.Select(symbol, signals)

	d := &models.Decision{
		Symbol:     symbol,
		Price:      points[len(points)-1].Price,
		Indicators: ind,
		Selection:  sel,
		Signals:    signals,
		Timestamp:  start,
	}

	e.mu.Lock()
	e.lastDecision[symbol] = start
	e.mu.Unlock()

	e.metrics.RecordDecision(symbol, sel.SelectedAlgorithm, string(sel.Signal))
	e.metrics.RecordLatency("decision", e.clock.Now().Sub(start).Seconds())
	e.share(ctx, d)

	e.log.Debug("decision",
		applogger.String("symbol", symbol),
		applogger.String("algorithm", sel.SelectedAlgorithm),
		applogger.String("signal", string(sel.Signal)),
		applogger.Float64("confidence", sel.Confidence))
	return d, nil
}

// evaluate fans out one goroutine per strategy. A panicking strategy
// contributes a zero-confidence hold.
func (e *SignalEngine) evaluate(in domsvc.StrategyInput) []models.StrategySignal {
	out := make([]models.StrategySignal, len(e.strategies))
	var wg sync.WaitGroup
	for i, s := range e.strategies {
		wg.Add(1)
		go func(i int, s domsvc.Strategy) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.metrics.RecordError("strategy_panic")
					e.log.Error("strategy panic",
						applogger.String("algorithm", s.Name()),
						applogger.String("symbol", in.Symbol),
						applogger.Any("panic", r))
					out[i] = models.HoldSignal(s.Name(), 0, "evaluation failed")
				}
			}()
			out[i] = s.Evaluate(in)
		}(i, s)
	}
	wg.Wait()
	return out
}

// share caches and publishes a decision. Failures are logged only.
func (e *SignalEngine) share(ctx context.Context, d *models.Decision) {
	if e.cache != nil {
		if err := e.cache.Set(ctx, pkgcache.DecisionKey(d.Symbol), d, e.cfg.DecisionTTL); err != nil {
			e.metrics.RecordError("cache")
			e.log.Warn("cache decision failed", applogger.String("symbol", d.Symbol), applogger.Error(err))
		}
		if d.Indicators != nil {
			if err := e.cache.Set(ctx, pkgcache.IndicatorsKey(d.Symbol), d.Indicators, e.cfg.IndicatorTTL); err != nil {
				e.metrics.RecordError("cache")
			}
		}
	}
	if e.publisher != nil {
		if err := e.publisher.PublishDecision(ctx, d); err != nil {
			e.metrics.RecordError("publish_decision")
			e.log.Warn("publish decision failed", applogger.String("symbol", d.Symbol), applogger.Error(err))
		}
	}
}

// LatestDecision returns the cached decision for symbol, computing a fresh
// one on a cache miss.
func (e *SignalEngine) LatestDecision(ctx context.Context, symbol string) (*models.Decision, error) {
	symbol = models.NormalizeSymbol(symbol)
	if e.cache != nil {
		var d models.Decision
		if err := e.cache.Get(ctx, pkgcache.DecisionKey(symbol), &d); err == nil {
			return &d, nil
		}
	}
	return e.CalculateTradingSignal(ctx, symbol)
}

// CachedDecisions returns the last shared decision of every tracked symbol,
// in tracking order. Symbols without a live cache entry are skipped.
func (e *SignalEngine) CachedDecisions(ctx context.Context) ([]models.Decision, error) {
	if e.cache == nil {
		return nil, nil
	}
	syms := e.feed.Symbols()
	keys := make([]string, len(syms))
	for i, sym := range syms {
		keys[i] = pkgcache.DecisionKey(sym)
	}
	cached, err := pkgcache.MGetTyped[models.Decision](ctx, e.cache, keys...)
	if err != nil {
		return nil, fmt.Errorf("cached decisions: %w", err)
	}
	out := make([]models.Decision, 0, len(cached))
	for _, k := range keys {
		if d, ok := cached[k]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// UpdatePriceAndCalculateSignal fetches the latest REST price for symbol,
// applies it, then runs a decision cycle.
func (e *SignalEngine) UpdatePriceAndCalculateSignal(ctx context.Context, symbol string) (*models.Decision, error) {
	if _, err := e.feed.Refresh(ctx, symbol); err != nil {
		return nil, fmt.Errorf("update price: %w", err)
	}
	return e.CalculateTradingSignal(ctx, symbol)
}

// Performance returns one record per strategy for a tracked symbol, in
// evaluation order. Strategies that never traded report zeroed records.
func (e *SignalEngine) Performance(symbol string) ([]models.PerformanceRecord, error) {
	symbol = models.NormalizeSymbol(symbol)
	if !e.feed.Has(symbol) {
		return nil, fmt.Errorf("performance %s: %w", symbol, models.ErrUnknownSymbol)
	}
	out := make([]models.PerformanceRecord, 0, len(e.strategies))
	if e.tracker == nil {
		return out, nil
	}
	for _, s := range e.strategies {
		out = append(out, e.tracker.GetPerformance(s.Name(), symbol))
	}
	return out, nil
}

// Backfill seeds an empty history for a tracked symbol from REST klines.
func (e *SignalEngine) Backfill(ctx context.Context, symbol string) (int, error) {
	if !e.feed.Has(symbol) {
		return 0, fmt.Errorf("backfill %s: %w", models.NormalizeSymbol(symbol), models.ErrUnknownSymbol)
	}
	return e.feed.Backfill(ctx, symbol)
}
