package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
)

var (
	_ domrepo.TickStore        = (*MemoryTickStore)(nil)
	_ domrepo.AggregateStore   = (*MemoryAggregateStore)(nil)
	_ domrepo.PerformanceStore = (*MemoryStateStore)(nil)
	_ domrepo.SimulationStore  = (*MemoryStateStore)(nil)
)

// MemoryTickStore keeps persisted ticks per symbol in time order.
type MemoryTickStore struct {
	mu    sync.RWMutex
	ticks map[string][]models.PricePoint
}

func NewMemoryTickStore() *MemoryTickStore {
	return &MemoryTickStore{ticks: make(map[string][]models.PricePoint)}
}

func (s *MemoryTickStore) Store(_ context.Context, p models.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(p)
	return nil
}

func (s *MemoryTickStore) StoreBatch(_ context.Context, points []models.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		s.insert(p)
	}
	return nil
}

// insert keeps the slice sorted; ticks almost always arrive in order.
func (s *MemoryTickStore) insert(p models.PricePoint) {
	p.Symbol = models.NormalizeSymbol(p.Symbol)
	list := s.ticks[p.Symbol]
	i := len(list)
	for i > 0 && list[i-1].Timestamp.After(p.Timestamp) {
		i--
	}
	list = append(list, models.PricePoint{})
	copy(list[i+1:], list[i:])
	list[i] = p
	s.ticks[p.Symbol] = list
}

// Query returns the most recent limit ticks in [from, to], oldest first.
func (s *MemoryTickStore) Query(_ context.Context, symbol string, from, to time.Time, limit int) ([]models.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.ticks[models.NormalizeSymbol(symbol)]
	lo := sort.Search(len(list), func(i int) bool { return !list[i].Timestamp.Before(from) })
	hi := sort.Search(len(list), func(i int) bool { return list[i].Timestamp.After(to) })
	if lo >= hi {
		return []models.PricePoint{}, nil
	}
	if limit > 0 && hi-lo > limit {
		lo = hi - limit
	}
	return append([]models.PricePoint(nil), list[lo:hi]...), nil
}

func (s *MemoryTickStore) Symbols(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.ticks))
	for sym := range s.ticks {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryTickStore) Health(context.Context) error { return nil }
func (s *MemoryTickStore) Close() error                 { return nil }

// MemoryAggregateStore keeps one bucket per (symbol, category, periodStart).
type MemoryAggregateStore struct {
	mu      sync.RWMutex
	buckets map[models.AggregateKey]models.AggregateBucket
}

func NewMemoryAggregateStore() *MemoryAggregateStore {
	return &MemoryAggregateStore{buckets: make(map[models.AggregateKey]models.AggregateBucket)}
}

func (s *MemoryAggregateStore) Upsert(_ context.Context, b models.AggregateBucket) error {
	b.Symbol = models.NormalizeSymbol(b.Symbol)
	s.mu.Lock()
	s.buckets[b.Key()] = b
	s.mu.Unlock()
	return nil
}

func (s *MemoryAggregateStore) List(_ context.Context, symbol string, category models.AggregateCategory, limit int) ([]models.AggregateBucket, error) {
	symbol = models.NormalizeSymbol(symbol)
	s.mu.RLock()
	out := make([]models.AggregateBucket, 0)
	for k, b := range s.buckets {
		if k.Symbol == symbol && k.Category == category {
			out = append(out, b)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.After(out[j].PeriodStart) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len is the number of stored buckets.
func (s *MemoryAggregateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}

// MemoryStateStore holds simulations, trades and performance records.
type MemoryStateStore struct {
	mu          sync.RWMutex
	sims        map[string]*models.SimulationState
	trades      map[string][]models.Trade
	performance map[string]models.PerformanceRecord
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		sims:        make(map[string]*models.SimulationState),
		trades:      make(map[string][]models.Trade),
		performance: make(map[string]models.PerformanceRecord),
	}
}

func (s *MemoryStateStore) SavePerformance(_ context.Context, rec models.PerformanceRecord) error {
	s.mu.Lock()
	s.performance[rec.Algorithm+"|"+rec.Symbol] = rec.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStateStore) LoadPerformance(_ context.Context) ([]models.PerformanceRecord, error) {
	s.mu.RLock()
	out := make([]models.PerformanceRecord, 0, len(s.performance))
	for _, rec := range s.performance {
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Algorithm < out[j].Algorithm
	})
	return out, nil
}

func (s *MemoryStateStore) CreateSimulation(_ context.Context, sim *models.SimulationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sims[sim.ID]; ok {
		return ErrDuplicate
	}
	s.sims[sim.ID] = sim.Clone()
	return nil
}

func (s *MemoryStateStore) GetSimulation(_ context.Context, id string) (*models.SimulationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sim, ok := s.sims[id]
	if !ok {
		return nil, models.ErrSimulationNotFound
	}
	return sim.Clone(), nil
}

func (s *MemoryStateStore) SaveSimulation(_ context.Context, sim *models.SimulationState, trades []models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sims[sim.ID]; !ok {
		return models.ErrSimulationNotFound
	}
	s.sims[sim.ID] = sim.Clone()
	for _, t := range trades {
		s.trades[sim.ID] = append(s.trades[sim.ID], copyTrade(t))
	}
	return nil
}

func (s *MemoryStateStore) ListSimulations(_ context.Context, userID string) ([]*models.SimulationState, error) {
	s.mu.RLock()
	out := make([]*models.SimulationState, 0)
	for _, sim := range s.sims {
		if userID == "" || sim.UserID == userID {
			out = append(out, sim.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStateStore) ListTrades(_ context.Context, simulationID string, limit int) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.trades[simulationID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]models.Trade, len(list))
	for i, t := range list {
		out[i] = copyTrade(t)
	}
	return out, nil
}

func copyTrade(t models.Trade) models.Trade {
	if t.Profit != nil {
		p := *t.Profit
		t.Profit = &p
	}
	if t.Signal != nil {
		sig := *t.Signal
		t.Signal = &sig
	}
	return t
}
