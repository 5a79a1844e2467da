package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrSimulationCompleted  = errors.New("simulation completed")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidPrice         = errors.New("invalid price")
	ErrSimulationNotFound   = errors.New("simulation not found")
	ErrUnknownSymbol        = errors.New("unknown symbol")
	ErrStaleTick            = errors.New("stale tick")
	ErrNoPrice              = errors.New("no price available")
	ErrInvalidSettings      = errors.New("invalid simulation settings")
)

// TradeError reports a rejected simulation operation. The simulation is left
// exactly as it was before the call.
type TradeError struct {
	Op           string
	SimulationID string
	Requested    decimal.Decimal
	Available    decimal.Decimal
	Err          error
}

func (e *TradeError) Error() string {
	if e.Requested.IsZero() && e.Available.IsZero() {
		return fmt.Sprintf("%s simulation %s: %v", e.Op, e.SimulationID, e.Err)
	}
	return fmt.Sprintf("%s simulation %s: %v (requested %s, available %s)",
		e.Op, e.SimulationID, e.Err, e.Requested.String(), e.Available.String())
}

func (e *TradeError) Unwrap() error { return e.Err }

func tradeErr(op, id string, err error) *TradeError {
	return &TradeError{Op: op, SimulationID: id, Err: err}
}
