package history

import (
	"fmt"
	"sort"
	"sync"

	"SignalDesk/internal/domain/models"
)

// DefaultMaxSize bounds each symbol's history when no size is configured.
const DefaultMaxSize = 500

type series struct {
	mu     sync.Mutex
	points []models.PricePoint
}

// Rolling keeps a bounded, time-ordered price history per symbol. Each symbol
// has its own lock so writers on different symbols never contend.
type Rolling struct {
	maxSize int

	mu     sync.RWMutex
	series map[string]*series
}

func New(maxSize int) *Rolling {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Rolling{maxSize: maxSize, series: make(map[string]*series)}
}

func (r *Rolling) MaxSize() int { return r.maxSize }

func (r *Rolling) get(symbol string, create bool) *series {
	r.mu.RLock()
	s, ok := r.series[symbol]
	r.mu.RUnlock()
	if ok || !create {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.series[symbol]; ok {
		return s
	}
	s = &series{points: make([]models.PricePoint, 0, r.maxSize)}
	r.series[symbol] = s
	return s
}

// Append adds p to its symbol's history, evicting the oldest point once the
// history is full. A point older than the newest stored one is rejected with
// ErrStaleTick.
func (r *Rolling) Append(p models.PricePoint) error {
	p.Symbol = models.NormalizeSymbol(p.Symbol)
	if p.Symbol == "" {
		return fmt.Errorf("append: %w", models.ErrUnknownSymbol)
	}
	if p.Price <= 0 {
		return fmt.Errorf("append %s: %w", p.Symbol, models.ErrInvalidPrice)
	}

	s := r.get(p.Symbol, true)
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.appendLocked(s, p)
}

func (r *Rolling) appendLocked(s *series, p models.PricePoint) error {
	if n := len(s.points); n > 0 && p.Timestamp.Before(s.points[n-1].Timestamp) {
		return fmt.Errorf("append %s at %s: %w", p.Symbol, p.Timestamp, models.ErrStaleTick)
	}
	if len(s.points) == r.maxSize {
		copy(s.points, s.points[1:])
		s.points[len(s.points)-1] = p
		return nil
	}
	s.points = append(s.points, p)
	return nil
}

// Seed bulk-loads points in timestamp order and returns how many were kept.
// Stale or invalid points are skipped.
func (r *Rolling) Seed(symbol string, points []models.PricePoint) int {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" || len(points) == 0 {
		return 0
	}
	sorted := append([]models.PricePoint(nil), points...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	s := r.get(symbol, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := 0
	for _, p := range sorted {
		p.Symbol = symbol
		if p.Price <= 0 {
			continue
		}
		if r.appendLocked(s, p) == nil {
			kept++
		}
	}
	return kept
}

// Snapshot returns a copy of the symbol's history, oldest first.
func (r *Rolling) Snapshot(symbol string) []models.PricePoint {
	s := r.get(models.NormalizeSymbol(symbol), false)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PricePoint(nil), s.points...)
}

// Latest returns the newest point for symbol.
func (r *Rolling) Latest(symbol string) (models.PricePoint, bool) {
	s := r.get(models.NormalizeSymbol(symbol), false)
	if s == nil {
		return models.PricePoint{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.points) == 0 {
		return models.PricePoint{}, false
	}
	return s.points[len(s.points)-1], true
}

func (r *Rolling) Len(symbol string) int {
	s := r.get(models.NormalizeSymbol(symbol), false)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points)
}

// Remove drops the symbol's history.
func (r *Rolling) Remove(symbol string) {
	r.mu.Lock()
	delete(r.series, models.NormalizeSymbol(symbol))
	r.mu.Unlock()
}

// Symbols returns tracked symbols in sorted order.
func (r *Rolling) Symbols() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.series))
	for sym := range r.series {
		out = append(out, sym)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Closes extracts prices from points.
func Closes(points []models.PricePoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Price
	}
	return out
}
