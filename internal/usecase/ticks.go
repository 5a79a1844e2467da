package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
)

const (
	defaultTickLimit = 1000
	maxTickLimit     = 10000
)

var ErrInvalidRange = errors.New("from must be <= to")

// TicksUseCase reads persisted ticks for a symbol.
type TicksUseCase struct {
	store domrepo.TickStore
}

func NewTicksUseCase(store domrepo.TickStore) *TicksUseCase {
	return &TicksUseCase{store: store}
}

type GetTicksParams struct {
	Symbol string
	From   time.Time
	To     time.Time
	Limit  int
}

type GetTicksResult struct {
	Symbol string              `json:"symbol"`
	From   time.Time           `json:"from"`
	To     time.Time           `json:"to"`
	Count  int                 `json:"count"`
	Ticks  []models.PricePoint `json:"ticks"`
}

// GetTicks returns the newest Limit ticks inside [From, To], oldest first.
func (uc *TicksUseCase) GetTicks(ctx context.Context, p GetTicksParams) (*GetTicksResult, error) {
	p.Symbol = models.NormalizeSymbol(p.Symbol)
	if p.Symbol == "" {
		return nil, fmt.Errorf("get ticks: %w", models.ErrUnknownSymbol)
	}
	if p.From.After(p.To) {
		return nil, fmt.Errorf("get ticks: %w", ErrInvalidRange)
	}
	if p.Limit <= 0 {
		p.Limit = defaultTickLimit
	}
	if p.Limit > maxTickLimit {
		p.Limit = maxTickLimit
	}

	ticks, err := uc.store.Query(ctx, p.Symbol, p.From, p.To, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("get ticks: %w", err)
	}
	return &GetTicksResult{
		Symbol: p.Symbol,
		From:   p.From,
		To:     p.To,
		Count:  len(ticks),
		Ticks:  ticks,
	}, nil
}
