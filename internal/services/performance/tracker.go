package performance

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/domain/repository"
	domsvc "SignalDesk/internal/domain/service"
	"SignalDesk/pkg/clock"
	"SignalDesk/pkg/logger"
)

const (
	// NeutralScore is reported for algorithms without trades.
	NeutralScore = 50.0
	// SharpeMinTrades is the sample size below which Sharpe stays 0.
	SharpeMinTrades = 30
)

var annualization = math.Sqrt(365)

type key struct {
	algorithm string
	symbol    string
}

type entry struct {
	mu  sync.Mutex
	rec *models.PerformanceRecord
}

// Tracker keeps one lazily created record per (algorithm, symbol). Updates to
// one record are serialised; different records never contend.
type Tracker struct {
	clock  clock.Clock
	store  repository.PerformanceStore
	logger *logger.Logger

	mu      sync.RWMutex
	records map[key]*entry
}

type Option func(*Tracker)

func WithClock(c clock.Clock) Option { return func(t *Tracker) { t.clock = c } }

// WithStore persists every update.
func WithStore(s repository.PerformanceStore) Option { return func(t *Tracker) { t.store = s } }

func WithLogger(l *logger.Logger) Option { return func(t *Tracker) { t.logger = l } }

func New(opts ...Option) *Tracker {
	t := &Tracker{
		clock:   clock.New(),
		logger:  logger.Nop(),
		records: make(map[key]*entry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) entry(algorithm, symbol string, create bool) *entry {
	k := key{algorithm: algorithm, symbol: models.NormalizeSymbol(symbol)}
	t.mu.RLock()
	e, ok := t.records[k]
	t.mu.RUnlock()
	if ok || !create {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.records[k]; ok {
		return e
	}
	e = &entry{rec: models.NewPerformanceRecord(algorithm, symbol)}
	t.records[k] = e
	return e
}

// UpdatePerformance folds one realised trade into the record and returns a copy.
func (t *Tracker) UpdatePerformance(algorithm, symbol string, result models.TradeResult) models.PerformanceRecord {
	if result.Timestamp.IsZero() {
		result.Timestamp = t.clock.Now()
	}

	e := t.entry(algorithm, symbol, true)
	e.mu.Lock()
	apply(e.rec, result)
	e.rec.UpdatedAt = t.clock.Now()
	snapshot := e.rec.Clone()
	e.mu.Unlock()

	if t.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.store.SavePerformance(ctx, snapshot); err != nil {
			t.logger.Error("save performance",
				logger.String("algorithm", algorithm),
				logger.String("symbol", snapshot.Symbol),
				logger.Error(err))
		}
	}
	return snapshot
}

func apply(r *models.PerformanceRecord, res models.TradeResult) {
	r.TotalTrades++
	switch {
	case res.Profit > 0:
		r.WinningTrades++
		r.TotalProfit += res.Profit
	case res.Profit < 0:
		r.LosingTrades++
		r.TotalLoss += -res.Profit
	}

	r.WinRate = float64(r.WinningTrades) / float64(r.TotalTrades) * 100
	r.ProfitFactor = ProfitFactor(r.TotalProfit, r.TotalLoss)
	r.AverageProfit, r.AverageLoss = 0, 0
	if r.WinningTrades > 0 {
		r.AverageProfit = r.TotalProfit / float64(r.WinningTrades)
	}
	if r.LosingTrades > 0 {
		r.AverageLoss = r.TotalLoss / float64(r.LosingTrades)
	}

	r.RecentTrades = append(r.RecentTrades, res)
	if over := len(r.RecentTrades) - models.RecentTradesCap; over > 0 {
		r.RecentTrades = append(r.RecentTrades[:0], r.RecentTrades[over:]...)
	}
	r.SharpeRatio = Sharpe(r.RecentTrades)
	r.MaxDrawdown = MaxDrawdown(r.RecentTrades)
}

// ProfitFactor is profit/loss with a sentinel for loss-free profit.
func ProfitFactor(profit, loss float64) float64 {
	switch {
	case loss > 0:
		return profit / loss
	case profit > 0:
		return models.ProfitFactorUnbounded
	default:
		return 0
	}
}

// Sharpe annualizes mean/stddev of trade returns once enough trades exist.
func Sharpe(trades []models.TradeResult) float64 {
	n := len(trades)
	if n < SharpeMinTrades {
		return 0
	}
	mean := 0.0
	for _, tr := range trades {
		mean += tr.ReturnPct
	}
	mean /= float64(n)
	variance := 0.0
	for _, tr := range trades {
		d := tr.ReturnPct - mean
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(n-1))
	if sd == 0 {
		return 0
	}
	return mean / sd * annualization
}

// MaxDrawdown is the largest peak-to-trough drop in cumulative profit.
func MaxDrawdown(trades []models.TradeResult) float64 {
	cum, peak, dd := 0.0, 0.0, 0.0
	for _, tr := range trades {
		cum += tr.Profit
		if cum > peak {
			peak = cum
		}
		if peak-cum > dd {
			dd = peak - cum
		}
	}
	return dd
}

// ScoreRecord maps a record onto 0..100.
func ScoreRecord(r models.PerformanceRecord) float64 {
	if r.TotalTrades == 0 {
		return NeutralScore
	}
	score := r.WinRate / 100 * 30
	score += math.Min(r.ProfitFactor, 3) / 3 * 30
	score += math.Max(0, math.Min(r.SharpeRatio, 3)) / 3 * 20

	ddPenalty := 0.0
	if gross := r.TotalProfit + r.TotalLoss; gross > 0 {
		ddPenalty = math.Min(r.MaxDrawdown/gross, 1)
	}
	score += 20 * (1 - ddPenalty)
	return score
}

// Score returns the record's score or NeutralScore when absent.
func (t *Tracker) Score(algorithm, symbol string) float64 {
	rec, ok := t.Record(algorithm, symbol)
	if !ok {
		return NeutralScore
	}
	return ScoreRecord(rec)
}

// GetPerformance returns a copy of the record, creating a zeroed one first
// when the pair has never traded.
func (t *Tracker) GetPerformance(algorithm, symbol string) models.PerformanceRecord {
	e := t.entry(algorithm, symbol, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone()
}

func (t *Tracker) Record(algorithm, symbol string) (models.PerformanceRecord, bool) {
	e := t.entry(algorithm, symbol, false)
	if e == nil {
		return models.PerformanceRecord{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), true
}

// Records returns every record sorted by symbol then algorithm.
func (t *Tracker) Records() []models.PerformanceRecord {
	t.mu.RLock()
	entries := make([]*entry, 0, len(t.records))
	for _, e := range t.records {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	out := make([]models.PerformanceRecord, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.rec.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Algorithm < out[j].Algorithm
	})
	return out
}

// Load hydrates records from the store, replacing any in memory.
func (t *Tracker) Load(ctx context.Context) (int, error) {
	if t.store == nil {
		return 0, nil
	}
	recs, err := t.store.LoadPerformance(ctx)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range recs {
		r := recs[i].Clone()
		if len(r.RecentTrades) > models.RecentTradesCap {
			r.RecentTrades = r.RecentTrades[len(r.RecentTrades)-models.RecentTradesCap:]
		}
		t.records[key{algorithm: r.Algorithm, symbol: models.NormalizeSymbol(r.Symbol)}] = &entry{rec: &r}
	}
	return len(recs), nil
}

var _ domsvc.PerformanceTracker = (*Tracker)(nil)
