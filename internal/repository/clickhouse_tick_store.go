package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	pkgch "SignalDesk/pkg/clickhouse"
	applogger "SignalDesk/pkg/logger"
)

var _ domrepo.TickStore = (*ClickHouseTickStore)(nil)

const tickColumns = "ts, symbol, price, volume, high, low, source"

// TickSchema returns the DDL for the tick table.
func TickSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.price_ticks (
    ts     DateTime64(3, 'UTC'),
    symbol LowCardinality(String),
    price  Float64,
    volume Nullable(Float64),
    high   Nullable(Float64),
    low    Nullable(Float64),
    source LowCardinality(String)
) ENGINE = MergeTree
PARTITION BY toYYYYMM(ts)
ORDER BY (symbol, ts)`, database),
	}
}

// ClickHouseTickStore persists price ticks to ClickHouse.
type ClickHouseTickStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewClickHouseTickStore(ch *pkgch.Client, l *applogger.Logger) *ClickHouseTickStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHouseTickStore{db: ch.DB(), table: ch.Database() + ".price_ticks", l: l}
}

func (s *ClickHouseTickStore) Store(ctx context.Context, p models.PricePoint) error {
	return s.StoreBatch(ctx, []models.PricePoint{p})
}

// StoreBatch inserts points as multi-row VALUES in chunks.
func (s *ClickHouseTickStore) StoreBatch(ctx context.Context, points []models.PricePoint) error {
	const chunkSize = 2000
	for start := 0; start < len(points); start += chunkSize {
		end := min(start+chunkSize, len(points))
		q, args := tickInsert(s.table, points[start:end])
		if len(args) == 0 {
			continue
		}
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse tick insert failed",
				applogger.String("table", s.table),
				applogger.Int("rows", end-start),
				applogger.Error(err))
			return fmt.Errorf("insert ticks: %w", err)
		}
	}
	return nil
}

func tickInsert(table string, points []models.PricePoint) (string, []interface{}) {
	values := make([]string, 0, len(points))
	args := make([]interface{}, 0, len(points)*7)
	for _, p := range points {
		if p.Symbol == "" || p.Timestamp.IsZero() {
			continue
		}
		values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			p.Timestamp.UTC(),
			models.NormalizeSymbol(p.Symbol),
			p.Price,
			nullFloat(p.Volume),
			nullFloat(p.High),
			nullFloat(p.Low),
			string(p.Source),
		)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, tickColumns, strings.Join(values, ",")), args
}

// Query returns the most recent limit ticks in [from, to], oldest first.
func (s *ClickHouseTickStore) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.PricePoint, error) {
	start := time.Now()
	q := fmt.Sprintf(`SELECT %s FROM %s
WHERE symbol = ? AND ts >= ? AND ts <= ?
ORDER BY ts DESC`, tickColumns, s.table)
	args := []interface{}{models.NormalizeSymbol(symbol), from.UTC(), to.UTC()}
	if limit > 0 {
		q += "\nLIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse tick query failed", applogger.String("symbol", symbol), applogger.Error(err))
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	out := make([]models.PricePoint, 0, max(limit, 0))
	for rows.Next() {
		var (
			p              models.PricePoint
			vol, high, low sql.NullFloat64
			src            string
		)
		if err := rows.Scan(&p.Timestamp, &p.Symbol, &p.Price, &vol, &high, &low, &src); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		p.Volume, p.High, p.Low = floatPtr(vol), floatPtr(high), floatPtr(low)
		p.Source = models.TickSource(src)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	// reverse to ASC
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	s.l.Debug("clickhouse tick query ok",
		applogger.String("symbol", symbol),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration", time.Since(start)))
	return out, nil
}

func (s *ClickHouseTickStore) Symbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT symbol FROM %s ORDER BY symbol", s.table))
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

func (s *ClickHouseTickStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to pkg/clickhouse.Client.
func (s *ClickHouseTickStore) Close() error { return nil }

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
