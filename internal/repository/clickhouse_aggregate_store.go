package repository

import (
	"context"
	"database/sql"
	"fmt"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	pkgch "SignalDesk/pkg/clickhouse"
	applogger "SignalDesk/pkg/logger"
)

var _ domrepo.AggregateStore = (*ClickHouseAggregateStore)(nil)

const aggregateColumns = "symbol, category, period_start, window_start, window_end, open, high, low, close, average, total_volume, change_percent, tick_count, updated_at"

// AggregateSchema returns the DDL for the summary table. Rows with the same
// (symbol, category, period_start) collapse to the latest updated_at.
func AggregateSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.price_summaries (
    symbol         LowCardinality(String),
    category       LowCardinality(String),
    period_start   DateTime('UTC'),
    window_start   DateTime64(3, 'UTC'),
    window_end     DateTime64(3, 'UTC'),
    open           Float64,
    high           Float64,
    low            Float64,
    close          Float64,
    average        Float64,
    total_volume   Float64,
    change_percent Float64,
    tick_count     UInt32,
    updated_at     DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY (symbol, category, period_start)`, database),
	}
}

// ClickHouseAggregateStore keeps aggregation buckets in a ReplacingMergeTree.
type ClickHouseAggregateStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewClickHouseAggregateStore(ch *pkgch.Client, l *applogger.Logger) *ClickHouseAggregateStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHouseAggregateStore{db: ch.DB(), table: ch.Database() + ".price_summaries", l: l}
}

func (s *ClickHouseAggregateStore) Upsert(ctx context.Context, b models.AggregateBucket) error {
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table, aggregateColumns)
	_, err := s.db.ExecContext(ctx, q,
		models.NormalizeSymbol(b.Symbol),
		string(b.Category),
		b.PeriodStart.UTC(),
		b.WindowStart.UTC(),
		b.WindowEnd.UTC(),
		b.Open, b.High, b.Low, b.Close, b.Average,
		b.TotalVolume,
		b.ChangePercent,
		uint32(b.TickCount),
		b.UpdatedAt.UTC(),
	)
	if err != nil {
		s.l.Error("clickhouse summary upsert failed",
			applogger.String("symbol", b.Symbol),
			applogger.String("category", string(b.Category)),
			applogger.Error(err))
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

// List reads merged rows with FINAL so replaced versions never surface.
func (s *ClickHouseAggregateStore) List(ctx context.Context, symbol string, category models.AggregateCategory, limit int) ([]models.AggregateBucket, error) {
	if limit <= 0 {
		limit = 30
	}
	q := fmt.Sprintf(`SELECT %s FROM %s FINAL
WHERE symbol = ? AND category = ?
ORDER BY period_start DESC
LIMIT ?`, aggregateColumns, s.table)
	rows, err := s.db.QueryContext(ctx, q, models.NormalizeSymbol(symbol), string(category), limit)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	out := make([]models.AggregateBucket, 0, limit)
	for rows.Next() {
		var (
			b     models.AggregateBucket
			cat   string
			count uint32
		)
		if err := rows.Scan(&b.Symbol, &cat, &b.PeriodStart, &b.WindowStart, &b.WindowEnd,
			&b.Open, &b.High, &b.Low, &b.Close, &b.Average,
			&b.TotalVolume, &b.ChangePercent, &count, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		b.Category = models.AggregateCategory(cat)
		b.TickCount = int(count)
		out = append(out, b)
	}
	return out, rows.Err()
}
