package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"SignalDesk/internal/domain/models"
	drepo "SignalDesk/internal/domain/repository"
	domsvc "SignalDesk/internal/domain/service"
	"SignalDesk/pkg/clock"
	applogger "SignalDesk/pkg/logger"
	"SignalDesk/pkg/metrics"
)

// quantityPlaces is the precision of simulated order quantities.
const quantityPlaces = 8

var hundred = decimal.NewFromInt(100)

// DecisionSource supplies prices and decisions to simulations.
type DecisionSource interface {
	AddSymbol(symbol string) (bool, error)
	UpdatePriceAndCalculateSignal(ctx context.Context, symbol string) (*models.Decision, error)
	LatestPrice(symbol string) (float64, bool)
}

// LatestPrice returns the newest history price for symbol.
func (e *SignalEngine) LatestPrice(symbol string) (float64, bool) {
	p, ok := e.history.Latest(symbol)
	return p.Price, ok
}

var _ DecisionSource = (*SignalEngine)(nil)

// SimulationEngine drives paper-trading accounts from engine decisions.
type SimulationEngine struct {
	store     drepo.SimulationStore
	source    DecisionSource
	tracker   domsvc.PerformanceTracker
	publisher drepo.Publisher
	metrics   drepo.Metrics
	clock     clock.Clock
	log       *applogger.Logger
	validate  *validator.Validate
	newID     func() string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type SimulationOption func(*SimulationEngine)

func WithSimulationPublisher(p drepo.Publisher) SimulationOption {
	return func(s *SimulationEngine) { s.publisher = p }
}
func WithSimulationMetrics(m drepo.Metrics) SimulationOption {
	return func(s *SimulationEngine) { s.metrics = m }
}
func WithSimulationClock(c clock.Clock) SimulationOption {
	return func(s *SimulationEngine) { s.clock = c }
}
func WithSimulationLogger(l *applogger.Logger) SimulationOption {
	return func(s *SimulationEngine) { s.log = l }
}
func WithSimulationIDs(fn func() string) SimulationOption {
	return func(s *SimulationEngine) { s.newID = fn }
}

func NewSimulationEngine(store drepo.SimulationStore, source DecisionSource, tracker domsvc.PerformanceTracker, opts ...SimulationOption) *SimulationEngine {
	s := &SimulationEngine{
		store:    store,
		source:   source,
		tracker:  tracker,
		metrics:  metrics.Noop{},
		clock:    clock.New(),
		log:      applogger.Nop(),
		validate: validator.New(),
		newID:    uuid.NewString,
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SimulationEngine) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// forget drops the lock of a simulation that can no longer change. Callers
// already waiting on it see the terminal state once they acquire it.
func (s *SimulationEngine) forget(id string) {
	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
}

// Create opens an active simulation and makes sure the engine tracks its
// symbol. Unset settings take their defaults.
func (s *SimulationEngine) Create(ctx context.Context, req models.CreateSimulationRequest) (*models.SimulationState, error) {
	symbol := models.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("create simulation: %w", models.ErrUnknownSymbol)
	}
	if req.InitialInvestment <= 0 {
		return nil, fmt.Errorf("create simulation: %w", models.ErrInvalidAmount)
	}
	var settings models.SimulationSettings
	if err := defaults.Set(&settings); err != nil {
		return nil, fmt.Errorf("create simulation: %w", err)
	}
	settings = req.Settings.Apply(settings)
	if err := s.validate.Struct(settings); err != nil {
		return nil, fmt.Errorf("create simulation: %w: %v", models.ErrInvalidSettings, err)
	}
	if _, err := s.source.AddSymbol(symbol); err != nil {
		return nil, fmt.Errorf("create simulation: %w", err)
	}

	sim := models.NewSimulation(s.newID(), req.UserID, symbol, decimal.NewFromFloat(req.InitialInvestment), settings, s.clock.Now())
	if err := s.store.CreateSimulation(ctx, sim); err != nil {
		return nil, fmt.Errorf("create simulation: %w", err)
	}
	s.log.Info("simulation created",
		applogger.String("id", sim.ID),
		applogger.String("user", sim.UserID),
		applogger.String("symbol", symbol),
		applogger.String("initial", sim.InitialInvestment.String()))
	return sim, nil
}

func (s *SimulationEngine) Get(ctx context.Context, id string) (*models.SimulationState, error) {
	sim, err := s.store.GetSimulation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get simulation %s: %w", id, err)
	}
	return sim, nil
}

func (s *SimulationEngine) List(ctx context.Context, userID string) ([]*models.SimulationState, error) {
	sims, err := s.store.ListSimulations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list simulations: %w", err)
	}
	return sims, nil
}

// ListTrades returns the most recent trades in chronological order.
func (s *SimulationEngine) ListTrades(ctx context.Context, id string, limit int) ([]models.Trade, error) {
	if _, err := s.store.GetSimulation(ctx, id); err != nil {
		return nil, fmt.Errorf("list trades %s: %w", id, err)
	}
	if limit <= 0 {
		limit = 100
	}
	trades, err := s.store.ListTrades(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("list trades %s: %w", id, err)
	}
	return trades, nil
}

// Update runs one cycle: refresh price and decision, apply stop-loss or
// take-profit on an open position, otherwise act on a confident signal.
// The new state and its trades commit together or not at all.
func (s *SimulationEngine) Update(ctx context.Context, id string) (*models.SimulationCycle, error) {
	unlock := s.lock(id)
	defer unlock()

	sim, err := s.store.GetSimulation(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrSimulationNotFound) {
			s.forget(id)
		}
		return nil, fmt.Errorf("update simulation %s: %w", id, err)
	}
	if sim.IsCompleted() {
		s.forget(id)
		return nil, &models.TradeError{Op: "update", SimulationID: id, Err: models.ErrSimulationCompleted}
	}

	d, err := s.source.UpdatePriceAndCalculateSignal(ctx, sim.Symbol)
	if err != nil {
		return nil, fmt.Errorf("update simulation %s: %w", id, err)
	}
	price := decimal.NewFromFloat(d.Price)
	now := s.clock.Now()

	work := sim.Clone()
	var (
		trades  []models.Trade
		results []models.TradeResult
		entry   = work.EntryAlgorithm
	)

	if reason, ok := s.riskExit(work, price); ok {
		t, res, err := s.sell(work, price, work.Holdings, now)
		if err != nil {
			return nil, err
		}
		t.Reason = reason
		trades, results = append(trades, t), append(results, res)
	} else if sig := d.Selection; sig.Signal != models.SignalHold && sig.Confidence >= work.Settings.MinConfidence {
		snap := &models.SignalSnapshot{Algorithm: sig.SelectedAlgorithm, Signal: sig.Signal, Confidence: sig.Confidence}
		switch sig.Signal {
		case models.SignalBuy:
			amount := work.CurrentBalance.Mul(decimal.NewFromFloat(work.Settings.BuyPercentage)).Div(hundred)
			qty := amount.Div(price).Truncate(quantityPlaces)
			if qty.IsPositive() {
				opening := work.Holdings.IsZero()
				t, err := work.Buy(price, qty, now)
				if err != nil {
					return nil, err
				}
				if opening {
					work.EntryAlgorithm = sig.SelectedAlgorithm
				}
				t.Reason, t.Algorithm, t.Signal = models.ReasonSignal, sig.SelectedAlgorithm, snap
				trades = append(trades, t)
			}
		case models.SignalSell:
			qty := work.Holdings.Mul(decimal.NewFromFloat(work.Settings.SellPercentage)).Div(hundred).Truncate(quantityPlaces)
			if qty.IsPositive() {
				t, res, err := s.sell(work, price, qty, now)
				if err != nil {
					return nil, err
				}
				t.Reason, t.Signal = models.ReasonSignal, snap
				trades, results = append(trades, t), append(results, res)
			}
		}
	}
	if len(trades) == 0 {
		if err := work.UpdateStats(price, now); err != nil {
			return nil, err
		}
	}

	if err := s.commit(ctx, work, trades, entry, results); err != nil {
		return nil, err
	}
	return &models.SimulationCycle{Simulation: work, Trades: trades, Decision: d}, nil
}

// riskExit reports whether an open position hits stop-loss or take-profit.
func (s *SimulationEngine) riskExit(sim *models.SimulationState, price decimal.Decimal) (models.TradeReason, bool) {
	if !sim.Holdings.IsPositive() {
		return "", false
	}
	pct := sim.UnrealizedPercent(price)
	st := sim.Settings
	if st.StopLossEnabled && pct.LessThanOrEqual(decimal.NewFromFloat(-st.StopLossPercentage)) {
		return models.ReasonStopLoss, true
	}
	if st.TakeProfitEnabled && pct.GreaterThanOrEqual(decimal.NewFromFloat(st.TakeProfitPercentage)) {
		return models.ReasonTakeProfit, true
	}
	return "", false
}

// sell executes a sell and derives the performance result attributed to the
// position's entry algorithm. Closing the position clears it.
func (s *SimulationEngine) sell(sim *models.SimulationState, price, qty decimal.Decimal, at time.Time) (models.Trade, models.TradeResult, error) {
	ret := sim.UnrealizedPercent(price)
	algo := sim.EntryAlgorithm
	t, err := sim.Sell(price, qty, at)
	if err != nil {
		return models.Trade{}, models.TradeResult{}, err
	}
	t.Algorithm = algo
	if sim.Holdings.IsZero() {
		sim.EntryAlgorithm = ""
	}
	res := models.TradeResult{Profit: t.Profit.InexactFloat64(), ReturnPct: ret.InexactFloat64(), Timestamp: at}
	return t, res, nil
}

// commit stores state and trades atomically, then feeds realised results to
// the tracker and publishes the trades.
func (s *SimulationEngine) commit(ctx context.Context, sim *models.SimulationState, trades []models.Trade, entry string, results []models.TradeResult) error {
	for i := range trades {
		trades[i].ID = s.newID()
		trades[i].SimulationID = sim.ID
	}
	if err := s.store.SaveSimulation(ctx, sim, trades); err != nil {
		s.metrics.RecordError("simulation_save")
		return fmt.Errorf("save simulation %s: %w", sim.ID, err)
	}

	if entry != "" && s.tracker != nil {
		for _, res := range results {
			s.tracker.UpdatePerformance(entry, sim.Symbol, res)
		}
	}
	for _, t := range trades {
		s.metrics.RecordTrade(string(t.Type), string(t.Reason))
		s.log.Info("simulated trade",
			applogger.String("simulation", sim.ID),
			applogger.String("type", string(t.Type)),
			applogger.String("reason", string(t.Reason)),
			applogger.String("price", t.Price.String()),
			applogger.String("quantity", t.Quantity.String()))
		if s.publisher != nil {
			if err := s.publisher.PublishTrade(ctx, t); err != nil {
				s.metrics.RecordError("publish_trade")
				s.log.Warn("publish trade failed", applogger.String("simulation", sim.ID), applogger.Error(err))
			}
		}
	}
	return nil
}

// Stop liquidates any holdings at the latest price and completes the
// simulation.
func (s *SimulationEngine) Stop(ctx context.Context, id string) (*models.SimulationCycle, error) {
	unlock := s.lock(id)
	defer unlock()

	sim, err := s.store.GetSimulation(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrSimulationNotFound) {
			s.forget(id)
		}
		return nil, fmt.Errorf("stop simulation %s: %w", id, err)
	}
	if sim.IsCompleted() {
		s.forget(id)
		return nil, &models.TradeError{Op: "stop", SimulationID: id, Err: models.ErrSimulationCompleted}
	}

	now := s.clock.Now()
	work := sim.Clone()
	entry := work.EntryAlgorithm
	var (
		trades  []models.Trade
		results []models.TradeResult
	)
	if work.Holdings.IsPositive() {
		price := work.CurrentPrice
		if p, ok := s.source.LatestPrice(work.Symbol); ok && p > 0 {
			price = decimal.NewFromFloat(p)
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("stop simulation %s: %w", id, models.ErrNoPrice)
		}
		t, res, err := s.sell(work, price, work.Holdings, now)
		if err != nil {
			return nil, err
		}
		t.Reason = models.ReasonStopped
		trades, results = append(trades, t), append(results, res)
	}
	if err := work.Complete(now); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, work, trades, entry, results); err != nil {
		return nil, err
	}
	s.forget(id)
	s.log.Info("simulation stopped",
		applogger.String("id", id),
		applogger.String("profit", work.TotalProfit.String()))
	return &models.SimulationCycle{Simulation: work, Trades: trades}, nil
}
