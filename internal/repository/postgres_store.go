package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	"SignalDesk/pkg/postgres"
)

var (
	_ domrepo.PerformanceStore = (*PostgresStore)(nil)
	_ domrepo.SimulationStore  = (*PostgresStore)(nil)
)

type simulationRow struct {
	ID                string                    `gorm:"primaryKey;size:36"`
	UserID            string                    `gorm:"index;size:128"`
	Symbol            string                    `gorm:"index;size:32;not null"`
	InitialInvestment decimal.Decimal           `gorm:"type:numeric(30,12);not null"`
	CurrentBalance    decimal.Decimal           `gorm:"type:numeric(30,12);not null"`
	Holdings          decimal.Decimal           `gorm:"type:numeric(30,12);not null"`
	AverageBuyPrice   decimal.Decimal           `gorm:"type:numeric(30,12);not null"`
	TotalTrades       int                       `gorm:"not null"`
	BuyCount          int                       `gorm:"not null"`
	SellCount         int                       `gorm:"not null"`
	TotalProfit       decimal.Decimal           `gorm:"type:numeric(30,12);not null"`
	CurrentPrice      decimal.Decimal           `gorm:"type:numeric(30,12);not null"`
	CurrentValue      decimal.Decimal           `gorm:"type:numeric(30,12);not null"`
	UnrealizedProfit  decimal.Decimal           `gorm:"type:numeric(30,12);not null"`
	ProfitPercentage  decimal.Decimal           `gorm:"type:numeric(30,12);not null"`
	EntryAlgorithm    string                    `gorm:"size:64"`
	Status            string                    `gorm:"size:16;index;not null"`
	Settings          models.SimulationSettings `gorm:"serializer:json;type:jsonb"`
	CreatedAt         time.Time                 `gorm:"autoCreateTime:false"`
	UpdatedAt         time.Time                 `gorm:"autoUpdateTime:false"`
	CompletedAt       *time.Time
}

func (simulationRow) TableName() string { return "simulations" }

type tradeRow struct {
	ID            string                 `gorm:"primaryKey;size:36"`
	SimulationID  string                 `gorm:"index:idx_trades_sim_seq,priority:1;size:36;not null"`
	Seq           int                    `gorm:"index:idx_trades_sim_seq,priority:2;not null"`
	Type          string                 `gorm:"size:8;not null"`
	Reason        string                 `gorm:"size:16;not null"`
	Algorithm     string                 `gorm:"size:64"`
	Price         decimal.Decimal        `gorm:"type:numeric(30,12);not null"`
	Quantity      decimal.Decimal        `gorm:"type:numeric(30,12);not null"`
	Amount        decimal.Decimal        `gorm:"type:numeric(30,12);not null"`
	Profit        decimal.NullDecimal    `gorm:"type:numeric(30,12)"`
	Signal        *models.SignalSnapshot `gorm:"serializer:json;type:jsonb"`
	BalanceAfter  decimal.Decimal        `gorm:"type:numeric(30,12);not null"`
	HoldingsAfter decimal.Decimal        `gorm:"type:numeric(30,12);not null"`
	Timestamp     time.Time              `gorm:"not null"`
}

func (tradeRow) TableName() string { return "simulation_trades" }

type performanceRow struct {
	Algorithm     string               `gorm:"primaryKey;size:64"`
	Symbol        string               `gorm:"primaryKey;size:32"`
	TotalTrades   int                  `gorm:"not null"`
	WinningTrades int                  `gorm:"not null"`
	LosingTrades  int                  `gorm:"not null"`
	TotalProfit   float64              `gorm:"not null"`
	TotalLoss     float64              `gorm:"not null"`
	WinRate       float64              `gorm:"not null"`
	ProfitFactor  float64              `gorm:"not null"`
	AverageProfit float64              `gorm:"not null"`
	AverageLoss   float64              `gorm:"not null"`
	SharpeRatio   float64              `gorm:"not null"`
	MaxDrawdown   float64              `gorm:"not null"`
	RecentTrades  []models.TradeResult `gorm:"serializer:json;type:jsonb"`
	UpdatedAt     time.Time            `gorm:"autoUpdateTime:false"`
}

func (performanceRow) TableName() string { return "algorithm_performance" }

// StateModels lists the gorm models to auto-migrate.
func StateModels() []interface{} {
	return []interface{}{&simulationRow{}, &tradeRow{}, &performanceRow{}}
}

// PostgresStore persists simulations, trades and performance records via gorm.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(client *postgres.Client) *PostgresStore {
	return &PostgresStore{db: client.DB()}
}

// NewPostgresStoreFromDB wraps an existing gorm handle.
func NewPostgresStoreFromDB(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SavePerformance(ctx context.Context, rec models.PerformanceRecord) error {
	row := toPerformanceRow(rec)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "algorithm"}, {Name: "symbol"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save performance %s/%s: %w", rec.Algorithm, rec.Symbol, err)
	}
	return nil
}

func (s *PostgresStore) LoadPerformance(ctx context.Context) ([]models.PerformanceRecord, error) {
	var rows []performanceRow
	if err := s.db.WithContext(ctx).Order("symbol, algorithm").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load performance: %w", err)
	}
	out := make([]models.PerformanceRecord, len(rows))
	for i, r := range rows {
		out[i] = fromPerformanceRow(r)
	}
	return out, nil
}

func (s *PostgresStore) CreateSimulation(ctx context.Context, sim *models.SimulationState) error {
	row := toSimulationRow(sim)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("create simulation %s: %w", sim.ID, ErrDuplicate)
		}
		return fmt.Errorf("create simulation %s: %w", sim.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetSimulation(ctx context.Context, id string) (*models.SimulationState, error) {
	var row simulationRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrSimulationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get simulation %s: %w", id, err)
	}
	return fromSimulationRow(row), nil
}

// SaveSimulation updates the state row and appends trades in one transaction.
func (s *PostgresStore) SaveSimulation(ctx context.Context, sim *models.SimulationState, trades []models.Trade) error {
	row := toSimulationRow(sim)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&simulationRow{ID: sim.ID}).Select("*").Omit("id", "created_at").Updates(&row)
		if res.Error != nil {
			return fmt.Errorf("update simulation %s: %w", sim.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return models.ErrSimulationNotFound
		}
		if len(trades) == 0 {
			return nil
		}
		first := sim.TotalTrades - len(trades) + 1
		rows := make([]tradeRow, len(trades))
		for i, t := range trades {
			rows[i] = toTradeRow(t, first+i)
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert trades %s: %w", sim.ID, err)
		}
		return nil
	})
}

func (s *PostgresStore) ListSimulations(ctx context.Context, userID string) ([]*models.SimulationState, error) {
	q := s.db.WithContext(ctx).Order("created_at")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var rows []simulationRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list simulations: %w", err)
	}
	out := make([]*models.SimulationState, len(rows))
	for i, r := range rows {
		out[i] = fromSimulationRow(r)
	}
	return out, nil
}

func (s *PostgresStore) ListTrades(ctx context.Context, simulationID string, limit int) ([]models.Trade, error) {
	q := s.db.WithContext(ctx).Where("simulation_id = ?", simulationID).Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []tradeRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list trades %s: %w", simulationID, err)
	}
	out := make([]models.Trade, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = fromTradeRow(r)
	}
	return out, nil
}

func toSimulationRow(s *models.SimulationState) simulationRow {
	return simulationRow{
		ID:                s.ID,
		UserID:            s.UserID,
		Symbol:            s.Symbol,
		InitialInvestment: s.InitialInvestment,
		CurrentBalance:    s.CurrentBalance,
		Holdings:          s.Holdings,
		AverageBuyPrice:   s.AverageBuyPrice,
		TotalTrades:       s.TotalTrades,
		BuyCount:          s.BuyCount,
		SellCount:         s.SellCount,
		TotalProfit:       s.TotalProfit,
		CurrentPrice:      s.CurrentPrice,
		CurrentValue:      s.CurrentValue,
		UnrealizedProfit:  s.UnrealizedProfit,
		ProfitPercentage:  s.ProfitPercentage,
		EntryAlgorithm:    s.EntryAlgorithm,
		Status:            string(s.Status),
		Settings:          s.Settings,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
		CompletedAt:       s.CompletedAt,
	}
}

func fromSimulationRow(r simulationRow) *models.SimulationState {
	return &models.SimulationState{
		ID:                r.ID,
		UserID:            r.UserID,
		Symbol:            r.Symbol,
		InitialInvestment: r.InitialInvestment,
		CurrentBalance:    r.CurrentBalance,
		Holdings:          r.Holdings,
		AverageBuyPrice:   r.AverageBuyPrice,
		TotalTrades:       r.TotalTrades,
		BuyCount:          r.BuyCount,
		SellCount:         r.SellCount,
		TotalProfit:       r.TotalProfit,
		CurrentPrice:      r.CurrentPrice,
		CurrentValue:      r.CurrentValue,
		UnrealizedProfit:  r.UnrealizedProfit,
		ProfitPercentage:  r.ProfitPercentage,
		EntryAlgorithm:    r.EntryAlgorithm,
		Status:            models.SimulationStatus(r.Status),
		Settings:          r.Settings,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
		CompletedAt:       r.CompletedAt,
	}
}

func toTradeRow(t models.Trade, seq int) tradeRow {
	row := tradeRow{
		ID:            t.ID,
		SimulationID:  t.SimulationID,
		Seq:           seq,
		Type:          string(t.Type),
		Reason:        string(t.Reason),
		Algorithm:     t.Algorithm,
		Price:         t.Price,
		Quantity:      t.Quantity,
		Amount:        t.Amount,
		Signal:        t.Signal,
		BalanceAfter:  t.BalanceAfter,
		HoldingsAfter: t.HoldingsAfter,
		Timestamp:     t.Timestamp,
	}
	if t.Profit != nil {
		row.Profit = decimal.NewNullDecimal(*t.Profit)
	}
	return row
}

func fromTradeRow(r tradeRow) models.Trade {
	t := models.Trade{
		ID:            r.ID,
		SimulationID:  r.SimulationID,
		Type:          models.TradeType(r.Type),
		Reason:        models.TradeReason(r.Reason),
		Algorithm:     r.Algorithm,
		Price:         r.Price,
		Quantity:      r.Quantity,
		Amount:        r.Amount,
		Signal:        r.Signal,
		BalanceAfter:  r.BalanceAfter,
		HoldingsAfter: r.HoldingsAfter,
		Timestamp:     r.Timestamp.UTC(),
	}
	if r.Profit.Valid {
		p := r.Profit.Decimal
		t.Profit = &p
	}
	return t
}

func toPerformanceRow(rec models.PerformanceRecord) performanceRow {
	return performanceRow{
		Algorithm:     rec.Algorithm,
		Symbol:        rec.Symbol,
		TotalTrades:   rec.TotalTrades,
		WinningTrades: rec.WinningTrades,
		LosingTrades:  rec.LosingTrades,
		TotalProfit:   rec.TotalProfit,
		TotalLoss:     rec.TotalLoss,
		WinRate:       rec.WinRate,
		ProfitFactor:  rec.ProfitFactor,
		AverageProfit: rec.AverageProfit,
		AverageLoss:   rec.AverageLoss,
		SharpeRatio:   rec.SharpeRatio,
		MaxDrawdown:   rec.MaxDrawdown,
		RecentTrades:  rec.RecentTrades,
		UpdatedAt:     rec.UpdatedAt,
	}
}

func fromPerformanceRow(r performanceRow) models.PerformanceRecord {
	recent := r.RecentTrades
	if recent == nil {
		recent = []models.TradeResult{}
	}
	return models.PerformanceRecord{
		Algorithm:     r.Algorithm,
		Symbol:        r.Symbol,
		TotalTrades:   r.TotalTrades,
		WinningTrades: r.WinningTrades,
		LosingTrades:  r.LosingTrades,
		TotalProfit:   r.TotalProfit,
		TotalLoss:     r.TotalLoss,
		WinRate:       r.WinRate,
		ProfitFactor:  r.ProfitFactor,
		AverageProfit: r.AverageProfit,
		AverageLoss:   r.AverageLoss,
		SharpeRatio:   r.SharpeRatio,
		MaxDrawdown:   r.MaxDrawdown,
		RecentTrades:  recent,
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}
