package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	applogger "SignalDesk/pkg/logger"
)

func serve(e *echo.Echo, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/status", nil)
	if origin != "" {
		req.Header.Set(echo.HeaderOrigin, origin)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCORS(t *testing.T) {
	e := echo.New()
	e.Use(CORS([]string{"https://desk.example.com/"}))
	e.GET("/api/status", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.OPTIONS("/api/status", func(c echo.Context) error { return c.NoContent(http.StatusMethodNotAllowed) })

	rec := serve(e, http.MethodGet, "https://desk.example.com")
	assert.Equal(t, "https://desk.example.com", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, echo.HeaderOrigin, rec.Header().Get(echo.HeaderVary))

	rec = serve(e, http.MethodGet, "https://other.example.com")
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	rec = serve(e, http.MethodOptions, "https://desk.example.com")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderAccessControlAllowMethods), http.MethodPost)
	assert.Equal(t, "600", rec.Header().Get(echo.HeaderAccessControlMaxAge))
}

func TestCORSWildcard(t *testing.T) {
	e := echo.New()
	e.Use(CORS([]string{"*"}))
	e.GET("/api/status", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := serve(e, http.MethodGet, "http://localhost:3000")
	assert.Equal(t, "http://localhost:3000", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestRecover(t *testing.T) {
	e := echo.New()
	e.Use(Recover(applogger.Nop()))
	e.GET("/api/status", func(echo.Context) error { panic("boom") })

	var rec *httptest.ResponseRecorder
	assert.NotPanics(t, func() { rec = serve(e, http.MethodGet, "") })
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"status":500,"message":"Internal Server Error"}`, rec.Body.String())
}
