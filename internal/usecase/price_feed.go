package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"SignalDesk/internal/domain/models"
	drepo "SignalDesk/internal/domain/repository"
	mid "SignalDesk/internal/middleware"
	"SignalDesk/internal/service/ratelimit"
	"SignalDesk/internal/services/history"
	pkgcache "SignalDesk/pkg/cache"
	"SignalDesk/pkg/clock"
	applogger "SignalDesk/pkg/logger"
	"SignalDesk/pkg/metrics"
)

// restLimitKey is the limiter bucket shared by every REST poll; exchange
// weight limits apply per client, not per symbol.
const restLimitKey = "binance-rest"

// FeedConfig drives polling, streaming and persistence cadence.
type FeedConfig struct {
	UpdateInterval   time.Duration
	PersistInterval  time.Duration
	CacheTTL         time.Duration
	StreamLimit      int
	ReconnectDelay   time.Duration
	BackfillLimit    int
	BackfillInterval string
}

func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		UpdateInterval:   10 * time.Second,
		PersistInterval:  60 * time.Second,
		CacheTTL:         30 * time.Second,
		StreamLimit:      200,
		ReconnectDelay:   5 * time.Second,
		BackfillLimit:    100,
		BackfillInterval: "1m",
	}
}

type feedSymbol struct {
	cancel      context.CancelFunc
	ticker      *models.Ticker
	lastTick    time.Time
	lastPersist time.Time
}

type streamConn struct {
	id      int
	symbols []string
	cancel  context.CancelFunc
}

func (c *streamConn) name() string { return fmt.Sprintf("stream-%d", c.id) }

func (c *streamConn) has(symbol string) bool {
	for _, s := range c.symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// PriceFeed keeps RollingHistory current from REST polls and exchange streams.
type PriceFeed struct {
	cfg     FeedConfig
	client  drepo.TickerClient
	streams drepo.StreamFactory
	history *history.Rolling
	cache   pkgcache.Service
	sink    TickSink
	pipe    *mid.RealtimePipeline
	limiter *ratelimit.Limiter
	metrics drepo.Metrics
	clock   clock.Clock
	log     *applogger.Logger

	usePipe  bool
	pipeOpts []mid.PipelineOption

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	symbols map[string]*feedSymbol
	conns   []*streamConn
	nextID  int
}

type FeedOption func(*PriceFeed)

func WithFeedStreams(f drepo.StreamFactory) FeedOption { return func(p *PriceFeed) { p.streams = f } }
func WithFeedCache(c pkgcache.Service) FeedOption      { return func(p *PriceFeed) { p.cache = c } }
func WithFeedSink(s TickSink) FeedOption               { return func(p *PriceFeed) { p.sink = s } }
func WithFeedLimiter(l *ratelimit.Limiter) FeedOption  { return func(p *PriceFeed) { p.limiter = l } }
func WithFeedMetrics(m drepo.Metrics) FeedOption       { return func(p *PriceFeed) { p.metrics = m } }
func WithFeedClock(c clock.Clock) FeedOption           { return func(p *PriceFeed) { p.clock = c } }
func WithFeedLogger(l *applogger.Logger) FeedOption    { return func(p *PriceFeed) { p.log = l } }

// WithFeedPipeline routes stream ticks through a realtime pipeline built
// with opts.
func WithFeedPipeline(opts ...mid.PipelineOption) FeedOption {
	return func(p *PriceFeed) {
		p.usePipe = true
		p.pipeOpts = opts
	}
}

// NewPriceFeed creates a stopped feed.
func NewPriceFeed(cfg FeedConfig, client drepo.TickerClient, hist *history.Rolling, opts ...FeedOption) *PriceFeed {
	def := DefaultFeedConfig()
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = def.UpdateInterval
	}
	if cfg.StreamLimit <= 0 {
		cfg.StreamLimit = def.StreamLimit
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.BackfillInterval == "" {
		cfg.BackfillInterval = def.BackfillInterval
	}
	f := &PriceFeed{
		cfg:     cfg,
		client:  client,
		history: hist,
		metrics: metrics.Noop{},
		clock:   clock.New(),
		log:     applogger.Nop(),
		symbols: make(map[string]*feedSymbol),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.usePipe {
		pipeOpts := append([]mid.PipelineOption{mid.WithClock(f.clock)}, f.pipeOpts...)
		f.pipe = mid.NewRealtimePipeline(mid.ProcFunc(f.HandleTick), f.metrics, pipeOpts...)
	}
	return f
}

// Start launches one poller per symbol and the stream connections. It is a
// no-op when already running.
func (f *PriceFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return nil
	}
	f.running = true
	f.ctx, f.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if f.pipe != nil {
		f.pipe.Start(f.ctx)
	}
	syms := f.symbolsLocked()
	for _, sym := range syms {
		f.startPollerLocked(sym)
	}
	for _, batch := range Batches(syms, f.cfg.StreamLimit) {
		f.startConnLocked(batch)
	}
	f.log.Info("price feed started",
		applogger.Int("symbols", len(syms)),
		applogger.Int("connections", len(f.conns)))
	return nil
}

// Stop cancels every poller and connection and waits for them to exit.
// No tick reaches history after Stop returns.
func (f *PriceFeed) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	f.cancel()
	for _, st := range f.symbols {
		st.cancel = nil
	}
	f.conns = nil
	f.mu.Unlock()

	f.wg.Wait()
	if f.pipe != nil {
		f.pipe.Stop()
	}
	f.log.Info("price feed stopped")
}

func (f *PriceFeed) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// AddSymbol tracks symbol. While running it starts a poller and joins the
// symbol to the newest connection with room below StreamLimit, restarting
// that connection; a new connection opens only when all are full. Adding a
// tracked symbol is a no-op.
func (f *PriceFeed) AddSymbol(symbol string) (bool, error) {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return false, fmt.Errorf("add symbol: %w", models.ErrUnknownSymbol)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.symbols[symbol]; ok {
		return false, nil
	}
	f.symbols[symbol] = &feedSymbol{}
	if f.running {
		f.startPollerLocked(symbol)
		f.joinConnLocked(symbol)
	}
	return true, nil
}

// RemoveSymbol stops tracking symbol and restarts its stream connection in
// place without it, closing the connection when it becomes empty.
func (f *PriceFeed) RemoveSymbol(symbol string) bool {
	symbol = models.NormalizeSymbol(symbol)
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.symbols[symbol]
	if !ok {
		return false
	}
	if st.cancel != nil {
		st.cancel()
	}
	delete(f.symbols, symbol)

	for i, c := range f.conns {
		if !c.has(symbol) {
			continue
		}
		rest := make([]string, 0, len(c.symbols)-1)
		for _, s := range c.symbols {
			if s != symbol {
				rest = append(rest, s)
			}
		}
		if len(rest) == 0 || !f.running {
			c.cancel()
			f.conns = append(f.conns[:i], f.conns[i+1:]...)
		} else {
			f.restartConnLocked(i, rest)
		}
		break
	}
	return true
}

// Has reports whether symbol is tracked.
func (f *PriceFeed) Has(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.symbols[models.NormalizeSymbol(symbol)]
	return ok
}

// Symbols returns tracked symbols in sorted order.
func (f *PriceFeed) Symbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.symbolsLocked()
}

func (f *PriceFeed) symbolsLocked() []string {
	out := make([]string, 0, len(f.symbols))
	for s := range f.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Connections is the number of live stream connections.
func (f *PriceFeed) Connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// ConnectionSymbols returns the symbol batch of every connection.
func (f *PriceFeed) ConnectionSymbols() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.conns))
	for i, c := range f.conns {
		out[i] = append([]string(nil), c.symbols...)
	}
	return out
}

// Activity returns the last tick and last persist times for symbol.
func (f *PriceFeed) Activity(symbol string) (lastTick, lastPersist time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.symbols[models.NormalizeSymbol(symbol)]; ok {
		return st.lastTick, st.lastPersist
	}
	return time.Time{}, time.Time{}
}

// Market returns the latest exchange view of symbol: the last REST ticker
// when there is one, else the newest history point.
func (f *PriceFeed) Market(symbol string) (models.MarketSnapshot, bool) {
	symbol = models.NormalizeSymbol(symbol)
	f.mu.Lock()
	var tk *models.Ticker
	if st, ok := f.symbols[symbol]; ok && st.ticker != nil {
		t := *st.ticker
		tk = &t
	}
	f.mu.Unlock()

	latest, ok := f.history.Latest(symbol)
	if tk != nil {
		snap := tk.Snapshot()
		if ok && latest.Timestamp.After(tk.CloseTime) {
			snap.Price = latest.Price
		}
		return snap, true
	}
	if !ok {
		return models.MarketSnapshot{}, false
	}
	return models.MarketSnapshot{
		Symbol:    symbol,
		Price:     latest.Price,
		High24h:   latest.HighOr(),
		Low24h:    latest.LowOr(),
		Volume24h: latest.VolumeOr(0),
	}, true
}

// HandleTick applies one tick: history, cache, then throttled persistence.
// A tick identical to the newest history entry is not appended again, so a
// retried tick only re-attempts persistence.
func (f *PriceFeed) HandleTick(ctx context.Context, p models.PricePoint) error {
	p.Symbol = models.NormalizeSymbol(p.Symbol)
	if !f.Has(p.Symbol) {
		return fmt.Errorf("tick %s: %w", p.Symbol, models.ErrUnknownSymbol)
	}

	if last, ok := f.history.Latest(p.Symbol); !ok || !sameTick(last, p) {
		if err := f.history.Append(p); err != nil {
			f.metrics.RecordError("history_append")
			return err
		}
		f.metrics.RecordTick(string(p.Source), p.Symbol)
		f.metrics.RecordLastPrice(p.Symbol, p.Price)
		f.touch(p)
		if f.cache != nil {
			if err := f.cache.Set(ctx, pkgcache.PriceKey(p.Symbol), p, f.cfg.CacheTTL); err != nil {
				f.metrics.RecordError("cache")
				f.log.Warn("cache price failed", applogger.String("symbol", p.Symbol), applogger.Error(err))
			}
		}
	}
	return f.persist(ctx, p)
}

func sameTick(a, b models.PricePoint) bool {
	return a.Timestamp.Equal(b.Timestamp) && a.Price == b.Price
}

func (f *PriceFeed) touch(p models.PricePoint) {
	f.mu.Lock()
	if st, ok := f.symbols[p.Symbol]; ok && p.Timestamp.After(st.lastTick) {
		st.lastTick = p.Timestamp
	}
	f.mu.Unlock()
}

// persist writes p when PersistInterval has passed since the last persisted
// tick of the symbol. A failed write leaves the symbol due.
func (f *PriceFeed) persist(ctx context.Context, p models.PricePoint) error {
	if f.sink == nil {
		return nil
	}
	f.mu.Lock()
	st, ok := f.symbols[p.Symbol]
	if !ok {
		f.mu.Unlock()
		return nil
	}
	prev := st.lastPersist
	if !prev.IsZero() && p.Timestamp.Sub(prev) < f.cfg.PersistInterval {
		f.mu.Unlock()
		return nil
	}
	st.lastPersist = p.Timestamp
	f.mu.Unlock()

	if err := f.sink.Process(ctx, p); err != nil {
		f.mu.Lock()
		if st.lastPersist.Equal(p.Timestamp) {
			st.lastPersist = prev
		}
		f.mu.Unlock()
		f.metrics.RecordError("persist")
		return fmt.Errorf("%w: %s: %w", ErrPersist, p.Symbol, err)
	}
	return nil
}

// Refresh fetches the REST ticker for symbol and applies it as a tick.
// Persistence failures are logged, not returned.
func (f *PriceFeed) Refresh(ctx context.Context, symbol string) (models.Ticker, error) {
	symbol = models.NormalizeSymbol(symbol)
	if !f.Has(symbol) {
		return models.Ticker{}, fmt.Errorf("refresh %s: %w", symbol, models.ErrUnknownSymbol)
	}
	start := f.clock.Now()
	tk, err := f.client.GetTicker(ctx, symbol)
	f.metrics.RecordLatency("rest_ticker", f.clock.Now().Sub(start).Seconds())
	if err != nil {
		f.metrics.RecordError("rest")
		return models.Ticker{}, fmt.Errorf("refresh %s: %w", symbol, err)
	}
	if tk.CloseTime.IsZero() {
		tk.CloseTime = f.clock.Now()
	}

	f.mu.Lock()
	if st, ok := f.symbols[symbol]; ok {
		st.ticker = &tk
	}
	f.mu.Unlock()

	if err := f.HandleTick(ctx, tk.PricePoint(models.SourceREST)); err != nil {
		switch {
		case errors.Is(err, models.ErrStaleTick):
			// A stream tick already moved history past this ticker.
			f.log.Debug("rest tick older than history", applogger.String("symbol", symbol), applogger.Error(err))
		case errors.Is(err, ErrPersist):
			f.log.Warn("persist tick failed", applogger.String("symbol", symbol), applogger.Error(err))
		default:
			return tk, fmt.Errorf("refresh %s: %w", symbol, err)
		}
	}
	return tk, nil
}

// Backfill seeds an empty history from REST klines. Candles that have not
// closed yet are dropped.
func (f *PriceFeed) Backfill(ctx context.Context, symbol string) (int, error) {
	symbol = models.NormalizeSymbol(symbol)
	if f.cfg.BackfillLimit <= 0 || f.history.Len(symbol) > 0 {
		return 0, nil
	}
	points, err := f.client.GetKlines(ctx, symbol, f.cfg.BackfillInterval, f.cfg.BackfillLimit)
	if err != nil {
		f.metrics.RecordError("backfill")
		return 0, fmt.Errorf("backfill %s: %w", symbol, err)
	}
	now := f.clock.Now()
	closed := points[:0:0]
	for _, p := range points {
		if !p.Timestamp.After(now) {
			closed = append(closed, p)
		}
	}
	n := f.history.Seed(symbol, closed)
	f.log.Info("history backfilled", applogger.String("symbol", symbol), applogger.Int("points", n))
	return n, nil
}

func (f *PriceFeed) startPollerLocked(symbol string) {
	ctx, cancel := context.WithCancel(f.ctx)
	f.symbols[symbol].cancel = cancel
	f.wg.Add(1)
	go f.poll(ctx, symbol)
}

func (f *PriceFeed) poll(ctx context.Context, symbol string) {
	defer f.wg.Done()
	defer f.recoverTask("poller", symbol)

	if _, err := f.Backfill(ctx, symbol); err != nil && ctx.Err() == nil {
		f.log.Warn("backfill failed", applogger.String("symbol", symbol), applogger.Error(err))
	}
	f.pollOnce(ctx, symbol)

	t := f.clock.NewTicker(f.cfg.UpdateInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			f.pollOnce(ctx, symbol)
		}
	}
}

func (f *PriceFeed) pollOnce(ctx context.Context, symbol string) {
	if ctx.Err() != nil {
		return
	}
	if f.limiter != nil && !f.limiter.Allow(restLimitKey) {
		f.metrics.RecordError("rest_throttled")
		f.log.Debug("poll skipped by rate limit", applogger.String("symbol", symbol))
		return
	}
	if _, err := f.Refresh(ctx, symbol); err != nil && ctx.Err() == nil {
		f.log.Warn("poll failed", applogger.String("symbol", symbol), applogger.Error(err))
	}
}

func (f *PriceFeed) startConnLocked(symbols []string) {
	if f.streams == nil || len(symbols) == 0 {
		return
	}
	f.conns = append(f.conns, f.launchConnLocked(symbols))
}

// joinConnLocked adds symbol to the newest connection below StreamLimit or
// opens a new one.
func (f *PriceFeed) joinConnLocked(symbol string) {
	if f.streams == nil {
		return
	}
	for i := len(f.conns) - 1; i >= 0; i-- {
		c := f.conns[i]
		if len(c.symbols) < f.cfg.StreamLimit {
			f.restartConnLocked(i, append(append([]string(nil), c.symbols...), symbol))
			return
		}
	}
	f.startConnLocked([]string{symbol})
}

// restartConnLocked replaces connection i with one subscribed to symbols.
func (f *PriceFeed) restartConnLocked(i int, symbols []string) {
	f.conns[i].cancel()
	f.conns[i] = f.launchConnLocked(symbols)
}

func (f *PriceFeed) launchConnLocked(symbols []string) *streamConn {
	f.nextID++
	ctx, cancel := context.WithCancel(f.ctx)
	c := &streamConn{id: f.nextID, symbols: append([]string(nil), symbols...), cancel: cancel}
	f.wg.Add(1)
	go f.runConn(ctx, c)
	return c
}

// runConn keeps one connection alive, reconnecting after ReconnectDelay
// until ctx is cancelled.
func (f *PriceFeed) runConn(ctx context.Context, c *streamConn) {
	defer f.wg.Done()
	defer f.recoverTask("stream", c.name())

	for {
		stream := f.streams.NewStream(c.symbols)
		if err := stream.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			f.metrics.RecordError("stream_connect")
			f.log.Warn("stream connect failed", applogger.String("conn", c.name()), applogger.Error(err))
		} else {
			f.log.Info("stream connected", applogger.String("conn", c.name()), applogger.Strings("symbols", c.symbols))
			f.consume(ctx, c, stream)
			_ = stream.Close()
		}
		if ctx.Err() != nil {
			return
		}
		f.metrics.RecordReconnect(c.name())
		select {
		case <-ctx.Done():
			return
		case <-f.clock.After(f.cfg.ReconnectDelay):
		}
	}
}

func (f *PriceFeed) consume(ctx context.Context, c *streamConn, stream drepo.MarketStream) {
	ticks, errs := stream.Read(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && ctx.Err() == nil {
				f.metrics.RecordError("stream")
				f.log.Warn("stream error", applogger.String("conn", c.name()), applogger.Error(err))
			}
			return
		case p, ok := <-ticks:
			if !ok {
				return
			}
			if p.Source == "" {
				p.Source = models.SourceStream
			}
			var err error
			if f.pipe != nil {
				err = f.pipe.Process(ctx, p)
			} else {
				err = f.HandleTick(ctx, p)
			}
			if err != nil && !errors.Is(err, models.ErrUnknownSymbol) {
				f.log.Debug("stream tick rejected", applogger.String("symbol", p.Symbol), applogger.Error(err))
			}
		}
	}
}

func (f *PriceFeed) recoverTask(task, name string) {
	if r := recover(); r != nil {
		f.metrics.RecordError("panic")
		f.log.Error("feed task panic", applogger.String("task", task), applogger.String("name", name), applogger.Any("panic", r))
	}
}

// Batches splits symbols into groups of at most size.
func Batches(symbols []string, size int) [][]string {
	if size <= 0 {
		size = len(symbols)
	}
	var out [][]string
	for lo := 0; lo < len(symbols); lo += size {
		out = append(out, symbols[lo:min(lo+size, len(symbols))])
	}
	return out
}
