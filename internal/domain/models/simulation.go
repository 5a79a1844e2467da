package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SimulationStatus string

const (
	SimulationActive    SimulationStatus = "active"
	SimulationCompleted SimulationStatus = "completed"
)

type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// TradeReason records what triggered a trade.
type TradeReason string

const (
	ReasonSignal     TradeReason = "signal"
	ReasonStopLoss   TradeReason = "stop_loss"
	ReasonTakeProfit TradeReason = "take_profit"
	ReasonStopped    TradeReason = "stopped"
)

var hundred = decimal.NewFromInt(100)

// SimulationSettings drive position sizing and risk exits.
type SimulationSettings struct {
	BuyPercentage        float64 `json:"buyPercentage" default:"50" validate:"gt=0,lte=100"`
	SellPercentage       float64 `json:"sellPercentage" default:"100" validate:"gt=0,lte=100"`
	MinConfidence        float64 `json:"minConfidence" default:"60" validate:"gte=0,lte=100"`
	StopLossEnabled      bool    `json:"stopLossEnabled"`
	StopLossPercentage   float64 `json:"stopLossPercentage" default:"5" validate:"gt=0,lte=100"`
	TakeProfitEnabled    bool    `json:"takeProfitEnabled"`
	TakeProfitPercentage float64 `json:"takeProfitPercentage" default:"10" validate:"gt=0,lte=1000"`
}

// SignalSnapshot freezes the decision that led to a trade.
type SignalSnapshot struct {
	Algorithm  string     `json:"algorithm"`
	Signal     SignalType `json:"signal"`
	Confidence float64    `json:"confidence"`
}

// Trade is an immutable ledger entry.
type Trade struct {
	ID            string           `json:"id"`
	SimulationID  string           `json:"simulationId"`
	Type          TradeType        `json:"type"`
	Reason        TradeReason      `json:"reason"`
	Algorithm     string           `json:"algorithm,omitempty"`
	Price         decimal.Decimal  `json:"price"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Amount        decimal.Decimal  `json:"amount"`
	Profit        *decimal.Decimal `json:"profit,omitempty"`
	Signal        *SignalSnapshot  `json:"signal,omitempty"`
	BalanceAfter  decimal.Decimal  `json:"balanceAfter"`
	HoldingsAfter decimal.Decimal  `json:"holdingsAfter"`
	Timestamp     time.Time        `json:"timestamp"`
}

// SimulationState is a paper-trading account on one symbol.
type SimulationState struct {
	ID                string             `json:"id"`
	UserID            string             `json:"userId"`
	Symbol            string             `json:"symbol"`
	InitialInvestment decimal.Decimal    `json:"initialInvestment"`
	CurrentBalance    decimal.Decimal    `json:"currentBalance"`
	Holdings          decimal.Decimal    `json:"holdings"`
	AverageBuyPrice   decimal.Decimal    `json:"averageBuyPrice"`
	TotalTrades       int                `json:"totalTrades"`
	BuyCount          int                `json:"buyCount"`
	SellCount         int                `json:"sellCount"`
	TotalProfit       decimal.Decimal    `json:"totalProfit"`
	CurrentPrice      decimal.Decimal    `json:"currentPrice"`
	CurrentValue      decimal.Decimal    `json:"currentValue"`
	UnrealizedProfit  decimal.Decimal    `json:"unrealizedProfit"`
	ProfitPercentage  decimal.Decimal    `json:"profitPercentage"`
	EntryAlgorithm    string             `json:"entryAlgorithm,omitempty"`
	Status            SimulationStatus   `json:"status"`
	Settings          SimulationSettings `json:"settings"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
	CompletedAt       *time.Time         `json:"completedAt,omitempty"`
}

// NewSimulation opens an active simulation funded with initial.
func NewSimulation(id, userID, symbol string, initial decimal.Decimal, settings SimulationSettings, now time.Time) *SimulationState {
	return &SimulationState{
		ID:                id,
		UserID:            userID,
		Symbol:            NormalizeSymbol(symbol),
		InitialInvestment: initial,
		CurrentBalance:    initial,
		CurrentValue:      initial,
		Status:            SimulationActive,
		Settings:          settings,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Clone returns an independent copy.
func (s *SimulationState) Clone() *SimulationState {
	out := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

func (s *SimulationState) IsCompleted() bool { return s.Status == SimulationCompleted }

// Buy spends qty*price of the balance. On error nothing changes.
func (s *SimulationState) Buy(price, qty decimal.Decimal, at time.Time) (Trade, error) {
	if s.IsCompleted() {
		return Trade{}, tradeErr("buy", s.ID, ErrSimulationCompleted)
	}
	if !price.IsPositive() {
		return Trade{}, tradeErr("buy", s.ID, ErrInvalidPrice)
	}
	if !qty.IsPositive() {
		return Trade{}, tradeErr("buy", s.ID, ErrInvalidAmount)
	}
	cost := qty.Mul(price)
	if cost.GreaterThan(s.CurrentBalance) {
		return Trade{}, &TradeError{Op: "buy", SimulationID: s.ID, Requested: cost, Available: s.CurrentBalance, Err: ErrInsufficientBalance}
	}

	newHoldings := s.Holdings.Add(qty)
	s.AverageBuyPrice = s.Holdings.Mul(s.AverageBuyPrice).Add(cost).Div(newHoldings)
	s.Holdings = newHoldings
	s.CurrentBalance = s.CurrentBalance.Sub(cost)
	s.TotalTrades++
	s.BuyCount++
	s.refresh(price, at)

	return Trade{
		SimulationID:  s.ID,
		Type:          TradeBuy,
		Price:         price,
		Quantity:      qty,
		Amount:        cost,
		BalanceAfter:  s.CurrentBalance,
		HoldingsAfter: s.Holdings,
		Timestamp:     at,
	}, nil
}

// Sell disposes of qty holdings and realises profit against the average cost.
// On error nothing changes.
func (s *SimulationState) Sell(price, qty decimal.Decimal, at time.Time) (Trade, error) {
	if s.IsCompleted() {
		return Trade{}, tradeErr("sell", s.ID, ErrSimulationCompleted)
	}
	if !price.IsPositive() {
		return Trade{}, tradeErr("sell", s.ID, ErrInvalidPrice)
	}
	if !qty.IsPositive() {
		return Trade{}, tradeErr("sell", s.ID, ErrInvalidAmount)
	}
	if qty.GreaterThan(s.Holdings) {
		return Trade{}, &TradeError{Op: "sell", SimulationID: s.ID, Requested: qty, Available: s.Holdings, Err: ErrInsufficientHoldings}
	}

	revenue := qty.Mul(price)
	profit := price.Sub(s.AverageBuyPrice).Mul(qty)
	s.CurrentBalance = s.CurrentBalance.Add(revenue)
	s.Holdings = s.Holdings.Sub(qty)
	s.TotalProfit = s.TotalProfit.Add(profit)
	if s.Holdings.IsZero() {
		s.AverageBuyPrice = decimal.Zero
	}
	s.TotalTrades++
	s.SellCount++
	s.refresh(price, at)

	return Trade{
		SimulationID:  s.ID,
		Type:          TradeSell,
		Price:         price,
		Quantity:      qty,
		Amount:        revenue,
		Profit:        &profit,
		BalanceAfter:  s.CurrentBalance,
		HoldingsAfter: s.Holdings,
		Timestamp:     at,
	}, nil
}

// UpdateStats marks the account to market at price.
func (s *SimulationState) UpdateStats(price decimal.Decimal, at time.Time) error {
	if s.IsCompleted() {
		return tradeErr("update", s.ID, ErrSimulationCompleted)
	}
	if !price.IsPositive() {
		return tradeErr("update", s.ID, ErrInvalidPrice)
	}
	s.refresh(price, at)
	return nil
}

// Complete moves the simulation to its terminal state.
func (s *SimulationState) Complete(at time.Time) error {
	if s.IsCompleted() {
		return tradeErr("complete", s.ID, ErrSimulationCompleted)
	}
	s.Status = SimulationCompleted
	s.UpdatedAt = at
	s.CompletedAt = &at
	return nil
}

// UnrealizedPercent is the open position's gain against average cost, in percent.
func (s *SimulationState) UnrealizedPercent(price decimal.Decimal) decimal.Decimal {
	if s.AverageBuyPrice.IsZero() {
		return decimal.Zero
	}
	return price.Sub(s.AverageBuyPrice).Div(s.AverageBuyPrice).Mul(hundred)
}

func (s *SimulationState) refresh(price decimal.Decimal, at time.Time) {
	s.CurrentPrice = price
	s.CurrentValue = s.CurrentBalance.Add(s.Holdings.Mul(price))
	s.UnrealizedProfit = price.Sub(s.AverageBuyPrice).Mul(s.Holdings)
	if s.InitialInvestment.IsPositive() {
		s.ProfitPercentage = s.CurrentValue.Sub(s.InitialInvestment).Div(s.InitialInvestment).Mul(hundred)
	}
	s.UpdatedAt = at
}

// SimulationCycle is the outcome of one simulation update.
type SimulationCycle struct {
	Simulation *SimulationState `json:"simulation"`
	Trades     []Trade          `json:"trades"`
	Decision   *Decision        `json:"decision,omitempty"`
}
