package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/repository"
	"SignalDesk/internal/service/ratelimit"
	"SignalDesk/internal/services/history"
	"SignalDesk/internal/services/indicators"
	"SignalDesk/internal/services/performance"
	"SignalDesk/internal/services/selector"
	"SignalDesk/internal/services/strategy"
	"SignalDesk/internal/usecase"
	pkgcache "SignalDesk/pkg/cache"
	"SignalDesk/pkg/clock"
	xhttp "SignalDesk/pkg/http"
	xlogger "SignalDesk/pkg/logger"
)

type stubTicker struct{ clk clock.Clock }

func (s stubTicker) GetTicker(_ context.Context, symbol string) (models.Ticker, error) {
	return models.Ticker{Symbol: symbol, LastPrice: 10, CloseTime: s.clk.Now()}, nil
}

func (stubTicker) GetKlines(context.Context, string, string, int) ([]models.PricePoint, error) {
	return nil, nil
}

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()
	clk := clock.NewFake()
	hist := history.New(100)
	tracker := performance.New(performance.WithClock(clk))
	cfg := usecase.DefaultFeedConfig()
	cfg.BackfillLimit = 0
	feed := usecase.NewPriceFeed(cfg, stubTicker{clk: clk}, hist, usecase.WithFeedClock(clk))
	engine := usecase.NewSignalEngine(usecase.EngineConfig{}, feed, hist,
		indicators.NewEngine(indicators.DefaultConfig()),
		strategy.NewRegistry(strategy.DefaultConfig()).All(),
		selector.New(selector.DefaultConfig(), tracker, selector.WithClock(clk)),
		usecase.WithEngineClock(clk),
		usecase.WithEnginePerformance(tracker),
		usecase.WithEngineCache(pkgcache.NewMemoryCache(pkgcache.WithMemoryClock(clk), pkgcache.WithMemoryCleanup(0))))
	sims := usecase.NewSimulationEngine(repository.NewMemoryStateStore(), engine, tracker, usecase.WithSimulationClock(clk))
	ticks := repository.NewMemoryTickStore()
	agg := usecase.NewAggregator(ticks, repository.NewMemoryAggregateStore(), 0, usecase.WithAggregatorClock(clk))

	h := NewEngineHandler(xlogger.Nop(), engine, sims, agg, usecase.NewTicksUseCase(ticks),
		ratelimit.New(1, 0.001, ratelimit.WithClock(clk)), clk)
	e := echo.New()
	h.RegisterRoutes(e)
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func TestEngineRoutes(t *testing.T) {
	e := newTestServer(t)

	rec := do(e, http.MethodPost, "/api/symbols", `{"symbol":"btcusdt"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(e, http.MethodPost, "/api/symbols", `{"symbol":"BTCUSDT"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(e, http.MethodPost, "/api/symbols", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st models.EngineStatus
	decodeData(t, rec, &st)
	require.Len(t, st.Symbols, 1)
	assert.Equal(t, "BTCUSDT", st.Symbols[0].Symbol)
	assert.Len(t, st.Algorithms, 5)

	rec = do(e, http.MethodGet, "/api/signals/BTCUSDT", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "no price yet")

	rec = do(e, http.MethodPost, "/api/signals/BTCUSDT/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var d models.Decision
	decodeData(t, rec, &d)
	assert.Equal(t, 10.0, d.Price)

	rec = do(e, http.MethodPost, "/api/signals/BTCUSDT/refresh", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = do(e, http.MethodGet, "/api/signals", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rows  []models.Decision `json:"rows"`
		Total int64             `json:"total"`
	}
	decodeData(t, rec, &list)
	assert.EqualValues(t, 1, list.Total)

	rec = do(e, http.MethodGet, "/api/signals/ETHUSDT", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(e, http.MethodGet, "/api/performance/BTCUSDT", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var perf struct {
		Rows  []models.PerformanceRecord `json:"rows"`
		Total int64                      `json:"total"`
	}
	decodeData(t, rec, &perf)
	require.EqualValues(t, 5, perf.Total)
	assert.Equal(t, "BTCUSDT", perf.Rows[0].Symbol)
	assert.NotEmpty(t, perf.Rows[0].Algorithm)
	assert.Zero(t, perf.Rows[0].TotalTrades)
	rec = do(e, http.MethodGet, "/api/performance/ETHUSDT", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(e, http.MethodDelete, "/api/symbols/BTCUSDT", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(e, http.MethodDelete, "/api/symbols/BTCUSDT", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSimulationRoutes(t *testing.T) {
	e := newTestServer(t)

	rec := do(e, http.MethodPost, "/api/simulations", `{"userId":"u1","symbol":"BTCUSDT","initialInvestment":1000}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sim models.SimulationState
	decodeData(t, rec, &sim)
	assert.Equal(t, 50.0, sim.Settings.BuyPercentage)

	rec = do(e, http.MethodPost, "/api/simulations", `{"userId":"u1","symbol":"BTCUSDT","initialInvestment":1000,"settings":{"buyPercentage":500}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(e, http.MethodPost, "/api/simulations", `{"userId":"u1","symbol":"BTCUSDT","initialInvestment":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodGet, "/api/simulations/"+sim.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(e, http.MethodGet, "/api/simulations?userId=u1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(e, http.MethodPost, "/api/simulations/"+sim.ID+"/update", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(e, http.MethodPost, "/api/simulations/"+sim.ID+"/stop", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(e, http.MethodPost, "/api/simulations/"+sim.ID+"/stop", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(e, http.MethodGet, "/api/simulations/"+sim.ID+"/trades?limit=5", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(e, http.MethodGet, "/api/simulations/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(e, http.MethodGet, "/api/simulations/3f2b8c1e-7d4a-4b8e-9c1d-2a6f0e5b7c90", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSummaryAndTickRoutes(t *testing.T) {
	e := newTestServer(t)

	rec := do(e, http.MethodGet, "/api/summaries/BTCUSDT?category=week", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(e, http.MethodGet, "/api/summaries/BTCUSDT?category=fortnight", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodGet, "/api/ticks/BTCUSDT?limit=10", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(e, http.MethodGet, "/api/ticks/BTCUSDT?from=2030-01-01T00:00:00Z&to=2020-01-01T00:00:00Z", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAppErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("x: %w", models.ErrSimulationNotFound), http.StatusNotFound},
		{models.ErrUnknownSymbol, http.StatusNotFound},
		{&models.TradeError{Op: "buy", Err: models.ErrInsufficientBalance}, http.StatusConflict},
		{models.ErrInsufficientHoldings, http.StatusConflict},
		{models.ErrSimulationCompleted, http.StatusConflict},
		{models.ErrNoPrice, http.StatusConflict},
		{models.ErrInvalidSettings, http.StatusBadRequest},
		{models.ErrInvalidAmount, http.StatusBadRequest},
		{usecase.ErrInvalidRange, http.StatusBadRequest},
		{xhttp.ConflictError("busy"), http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, AppError(tc.err).Status, tc.err.Error())
	}
}
