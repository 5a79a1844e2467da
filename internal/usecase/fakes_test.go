package usecase

import (
	"context"
	"errors"
	"sync"

	"SignalDesk/internal/domain/models"
	drepo "SignalDesk/internal/domain/repository"
	"SignalDesk/pkg/clock"
)

type fakeTicker struct {
	mu     sync.Mutex
	clk    clock.Clock
	prices map[string]float64
	klines []models.PricePoint
	calls  int
}

func newFakeTicker(clk clock.Clock) *fakeTicker {
	return &fakeTicker{clk: clk, prices: make(map[string]float64)}
}

func (f *fakeTicker) set(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

func (f *fakeTicker) GetTicker(_ context.Context, symbol string) (models.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	p, ok := f.prices[symbol]
	if !ok {
		return models.Ticker{}, errors.New("no ticker")
	}
	return models.Ticker{Symbol: symbol, LastPrice: p, Volume: 1, CloseTime: f.clk.Now()}, nil
}

func (f *fakeTicker) GetKlines(_ context.Context, symbol, _ string, limit int) ([]models.PricePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.PricePoint, 0, len(f.klines))
	for _, k := range f.klines {
		k.Symbol = symbol
		out = append(out, k)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

var _ drepo.TickerClient = (*fakeTicker)(nil)

type fakeStream struct {
	symbols []string
	ticks   chan models.PricePoint
	errs    chan error

	mu     sync.Mutex
	closed bool
}

func (s *fakeStream) Connect(context.Context) error { return nil }

func (s *fakeStream) Read(context.Context) (<-chan models.PricePoint, <-chan error) {
	return s.ticks, s.errs
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *fakeStream) Symbols() []string { return s.symbols }

type fakeStreams struct {
	mu      sync.Mutex
	streams []*fakeStream
}

func (f *fakeStreams) NewStream(symbols []string) drepo.MarketStream {
	s := &fakeStream{
		symbols: append([]string(nil), symbols...),
		ticks:   make(chan models.PricePoint, 16),
		errs:    make(chan error, 1),
	}
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s
}

func (f *fakeStreams) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func (f *fakeStreams) last() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[len(f.streams)-1]
}

type recordingSink struct {
	mu    sync.Mutex
	ticks []models.PricePoint
	fail  int
}

func (s *recordingSink) Process(_ context.Context, p models.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("sink down")
	}
	s.ticks = append(s.ticks, p)
	return nil
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ticks)
}

type recordingPublisher struct {
	mu        sync.Mutex
	ticks     []models.PricePoint
	batches   int
	decisions []*models.Decision
	trades    []models.Trade
}

func (p *recordingPublisher) PublishTick(_ context.Context, t models.PricePoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ticks = append(p.ticks, t)
	return nil
}

func (p *recordingPublisher) PublishDecision(_ context.Context, d *models.Decision) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decisions = append(p.decisions, d)
	return nil
}

func (p *recordingPublisher) PublishTrade(_ context.Context, t models.Trade) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trades = append(p.trades, t)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// batchingPublisher also implements PublishTicks.
type batchingPublisher struct{ recordingPublisher }

func (p *batchingPublisher) PublishTicks(_ context.Context, ticks []models.PricePoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches++
	p.ticks = append(p.ticks, ticks...)
	return nil
}

// fakeSource feeds scripted decisions to simulations.
type fakeSource struct {
	mu       sync.Mutex
	decision *models.Decision
	err      error
	price    float64
	added    []string
}

func (s *fakeSource) AddSymbol(symbol string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, symbol)
	return true, nil
}

func (s *fakeSource) UpdatePriceAndCalculateSignal(_ context.Context, symbol string) (*models.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	d := *s.decision
	d.Symbol = symbol
	s.price = d.Price
	return &d, nil
}

func (s *fakeSource) LatestPrice(string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.price, s.price > 0
}

func (s *fakeSource) next(algo string, signal models.SignalType, confidence, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decision = &models.Decision{
		Price: price,
		Selection: models.SelectionResult{
			SelectedAlgorithm: algo,
			Signal:            signal,
			Confidence:        confidence,
		},
	}
}
