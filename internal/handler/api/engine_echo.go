package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/service/ratelimit"
	"SignalDesk/internal/usecase"
	"SignalDesk/pkg/clock"
	xhttp "SignalDesk/pkg/http"
	xlogger "SignalDesk/pkg/logger"
	"SignalDesk/pkg/util"
)

// EngineHandler exposes the decision engine, simulations and summaries over Echo.
type EngineHandler struct {
	logger  *xlogger.Logger
	engine  *usecase.SignalEngine
	sims    *usecase.SimulationEngine
	agg     *usecase.Aggregator
	ticks   *usecase.TicksUseCase
	limiter *ratelimit.Limiter
	clock   clock.Clock
}

func NewEngineHandler(
	logger *xlogger.Logger,
	engine *usecase.SignalEngine,
	sims *usecase.SimulationEngine,
	agg *usecase.Aggregator,
	ticks *usecase.TicksUseCase,
	limiter *ratelimit.Limiter,
	clk clock.Clock,
) *EngineHandler {
	if clk == nil {
		clk = clock.New()
	}
	return &EngineHandler{logger: logger, engine: engine, sims: sims, agg: agg, ticks: ticks, limiter: limiter, clock: clk}
}

var _ xhttp.Handler = (*EngineHandler)(nil)

func (h *EngineHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.POST("/engine/start", h.Start)
	g.POST("/engine/stop", h.Stop)
	g.POST("/symbols", h.AddSymbol)
	g.DELETE("/symbols/:symbol", h.RemoveSymbol)

	g.GET("/signals", h.Signals)
	g.GET("/signals/:symbol", h.Signal)
	g.POST("/signals/:symbol/refresh", h.RefreshSignal, h.rateLimit)
	g.GET("/performance/:symbol", h.Performance)

	g.GET("/simulations", h.ListSimulations)
	g.POST("/simulations", h.CreateSimulation)
	g.GET("/simulations/:id", h.GetSimulation)
	g.POST("/simulations/:id/update", h.UpdateSimulation, h.rateLimit)
	g.POST("/simulations/:id/stop", h.StopSimulation)
	g.GET("/simulations/:id/trades", h.ListTrades)

	g.GET("/summaries/:symbol", h.Summaries)
	g.GET("/ticks/:symbol", h.Ticks)
}

// rateLimit throttles endpoints that reach the exchange, per client IP.
func (h *EngineHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.limiter != nil && !h.limiter.Allow(c.RealIP()) {
			return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many requests").WithParam("path", c.Path()))
		}
		return next(c)
	}
}

func (h *EngineHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.engine.GetStatus())
}

func (h *EngineHandler) Start(c echo.Context) error {
	if err := h.engine.Start(c.Request().Context()); err != nil {
		return h.fail(c, "engine start", err)
	}
	return xhttp.SuccessResponse(c, h.engine.GetStatus())
}

func (h *EngineHandler) Stop(c echo.Context) error {
	h.engine.Stop()
	return xhttp.SuccessResponse(c, h.engine.GetStatus())
}

func (h *EngineHandler) AddSymbol(c echo.Context) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	added, err := h.engine.AddSymbol(req.Symbol)
	if err != nil {
		return h.fail(c, "add symbol", err)
	}
	res := map[string]interface{}{"symbol": models.NormalizeSymbol(req.Symbol), "added": added}
	if added {
		return xhttp.CreatedResponse(c, res)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *EngineHandler) RemoveSymbol(c echo.Context) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.engine.RemoveSymbol(c.Request().Context(), req.Symbol) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("symbol %s is not tracked", models.NormalizeSymbol(req.Symbol)).WithParam("symbol", models.NormalizeSymbol(req.Symbol)))
	}
	return xhttp.NoContentResponse(c)
}

func (h *EngineHandler) Signals(c echo.Context) error {
	ds, err := h.engine.CachedDecisions(c.Request().Context())
	if err != nil {
		return h.fail(c, "signals", err)
	}
	return xhttp.ListResponse(c, ds, int64(len(ds)))
}

func (h *EngineHandler) Signal(c echo.Context) error {
	req := &models.SignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	d, err := h.engine.LatestDecision(c.Request().Context(), req.Symbol)
	if err != nil {
		return h.fail(c, "signal", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=5")
	return xhttp.SuccessResponse(c, d)
}

func (h *EngineHandler) RefreshSignal(c echo.Context) error {
	req := &models.SignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	d, err := h.engine.UpdatePriceAndCalculateSignal(c.Request().Context(), req.Symbol)
	if err != nil {
		return h.fail(c, "refresh signal", err)
	}
	return xhttp.SuccessResponse(c, d)
}

func (h *EngineHandler) Performance(c echo.Context) error {
	req := &models.SignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	recs, err := h.engine.Performance(req.Symbol)
	if err != nil {
		return h.fail(c, "performance", err)
	}
	return xhttp.ListResponse(c, recs, int64(len(recs)))
}

func (h *EngineHandler) ListSimulations(c echo.Context) error {
	req := &models.ListSimulationsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sims, err := h.sims.List(c.Request().Context(), req.UserID)
	if err != nil {
		return h.fail(c, "list simulations", err)
	}
	return xhttp.ListResponse(c, sims, int64(len(sims)))
}

func (h *EngineHandler) CreateSimulation(c echo.Context) error {
	req := &models.CreateSimulationRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sim, err := h.sims.Create(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "create simulation", err)
	}
	return xhttp.CreatedResponse(c, sim)
}

func (h *EngineHandler) GetSimulation(c echo.Context) error {
	req := &models.SimulationRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sim, err := h.sims.Get(c.Request().Context(), req.ID)
	if err != nil {
		return h.fail(c, "get simulation", err)
	}
	return xhttp.SuccessResponse(c, sim)
}

func (h *EngineHandler) UpdateSimulation(c echo.Context) error {
	req := &models.SimulationRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	cycle, err := h.sims.Update(c.Request().Context(), req.ID)
	if err != nil {
		return h.fail(c, "update simulation", err)
	}
	return xhttp.SuccessResponse(c, cycle)
}

func (h *EngineHandler) StopSimulation(c echo.Context) error {
	req := &models.SimulationRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	cycle, err := h.sims.Stop(c.Request().Context(), req.ID)
	if err != nil {
		return h.fail(c, "stop simulation", err)
	}
	return xhttp.SuccessResponse(c, cycle)
}

func (h *EngineHandler) ListTrades(c echo.Context) error {
	req := &models.ListTradesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	trades, err := h.sims.ListTrades(c.Request().Context(), req.ID, req.Limit)
	if err != nil {
		return h.fail(c, "list trades", err)
	}
	return xhttp.ListResponse(c, trades, int64(len(trades)))
}

func (h *EngineHandler) Summaries(c echo.Context) error {
	req := &models.SummariesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.agg.Summaries(c.Request().Context(), req.Symbol, models.NormalizeCategory(req.Category), req.Limit)
	if err != nil {
		return h.fail(c, "summaries", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *EngineHandler) Ticks(c echo.Context) error {
	req := &models.TicksRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	now := h.clock.Now().UTC()
	res, err := h.ticks.GetTicks(c.Request().Context(), usecase.GetTicksParams{
		Symbol: req.Symbol,
		From:   util.ParseTimeDefault(req.From, now.Add(-time.Hour)),
		To:     util.ParseTimeDefault(req.To, now),
		Limit:  req.Limit,
	})
	if err != nil {
		return h.fail(c, "ticks", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *EngineHandler) fail(c echo.Context, op string, err error) error {
	appErr := AppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", xlogger.Error(err))
	} else {
		h.logger.Debug(op+" rejected", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

// AppError maps domain errors onto HTTP errors.
func AppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, models.ErrSimulationNotFound):
		return xhttp.NotFoundError("simulation not found").WithError(err)
	case errors.Is(err, models.ErrUnknownSymbol):
		return xhttp.NotFoundError("symbol is not tracked").WithError(err)
	case errors.Is(err, models.ErrInsufficientBalance),
		errors.Is(err, models.ErrInsufficientHoldings),
		errors.Is(err, models.ErrSimulationCompleted),
		errors.Is(err, models.ErrNoPrice):
		return xhttp.ConflictError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrInvalidSettings),
		errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrInvalidPrice),
		errors.Is(err, usecase.ErrInvalidRange),
		errors.As(err, &verrs):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	}
	return xhttp.InternalError("internal error").WithError(err)
}
