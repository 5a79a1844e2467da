package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/domain/repository"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultRESTURL   = "https://api.binance.com"
	DefaultStreamURL = "wss://stream.binance.com:9443"

	codeInvalidSymbol = -1121
)

// APIError is the error body Binance returns with non-2xx responses.
type APIError struct {
	Status int    `json:"-"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance api status %d code %d: %s", e.Status, e.Code, e.Msg)
}

func (e *APIError) Unwrap() error {
	if e.Code == codeInvalidSymbol {
		return models.ErrUnknownSymbol
	}
	return nil
}

// RESTClient reads spot market data.
type RESTClient struct {
	client *resty.Client
}

type RESTOption func(*resty.Client)

func WithTimeout(d time.Duration) RESTOption {
	return func(c *resty.Client) { c.SetTimeout(d) }
}

// WithRetry retries transport failures and 5xx/429 responses.
func WithRetry(count int, wait, maxWait time.Duration) RESTOption {
	return func(c *resty.Client) {
		c.SetRetryCount(count).
			SetRetryWaitTime(wait).
			SetRetryMaxWaitTime(maxWait).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
			})
	}
}

func NewRESTClient(baseURL string, opts ...RESTOption) *RESTClient {
	if baseURL == "" {
		baseURL = DefaultRESTURL
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetHeader("Accept", "application/json")
	for _, opt := range opts {
		opt(c)
	}
	return &RESTClient{client: c}
}

type ticker24h struct {
	Symbol             string `json:"symbol"`
	PriceChangePercent string `json:"priceChangePercent"`
	LastPrice          string `json:"lastPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	CloseTime          int64  `json:"closeTime"`
}

// GetTicker returns the 24h rolling ticker for symbol.
func (c *RESTClient) GetTicker(ctx context.Context, symbol string) (models.Ticker, error) {
	symbol = models.NormalizeSymbol(symbol)
	var raw ticker24h
	var apiErr APIError
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&raw).
		SetError(&apiErr).
		Get("/api/v3/ticker/24hr")
	if err != nil {
		return models.Ticker{}, fmt.Errorf("get ticker %s: %w", symbol, err)
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		return models.Ticker{}, fmt.Errorf("get ticker %s: %w", symbol, &apiErr)
	}
	return raw.toModel()
}

func (t ticker24h) toModel() (models.Ticker, error) {
	var errs []error
	num := func(field, s string) float64 {
		if s == "" {
			return 0
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
		return v
	}
	out := models.Ticker{
		Symbol:        models.NormalizeSymbol(t.Symbol),
		LastPrice:     num("lastPrice", t.LastPrice),
		High:          num("highPrice", t.HighPrice),
		Low:           num("lowPrice", t.LowPrice),
		Volume:        num("volume", t.Volume),
		QuoteVolume:   num("quoteVolume", t.QuoteVolume),
		ChangePercent: num("priceChangePercent", t.PriceChangePercent),
	}
	if t.CloseTime > 0 {
		out.CloseTime = time.UnixMilli(t.CloseTime).UTC()
	}
	if err := errors.Join(errs...); err != nil {
		return models.Ticker{}, fmt.Errorf("parse ticker %s: %w", t.Symbol, err)
	}
	if out.LastPrice <= 0 {
		return models.Ticker{}, fmt.Errorf("parse ticker %s: %w", t.Symbol, models.ErrInvalidPrice)
	}
	return out, nil
}

// GetKlines returns candles as price points, oldest first. Each point
// carries the close price, the candle range and volume, stamped at close time.
// The newest candle is usually still open and stamped in the future.
func (c *RESTClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.PricePoint, error) {
	symbol = models.NormalizeSymbol(symbol)
	if limit <= 0 {
		limit = 100
	}
	var rows [][]interface{}
	var apiErr APIError
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": interval,
			"limit":    strconv.Itoa(limit),
		}).
		SetResult(&rows).
		SetError(&apiErr).
		Get("/api/v3/klines")
	if err != nil {
		return nil, fmt.Errorf("get klines %s: %w", symbol, err)
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		return nil, fmt.Errorf("get klines %s: %w", symbol, &apiErr)
	}

	out := make([]models.PricePoint, 0, len(rows))
	for i, row := range rows {
		p, err := parseKline(symbol, row)
		if err != nil {
			return nil, fmt.Errorf("get klines %s row %d: %w", symbol, i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// parseKline reads [openTime, open, high, low, close, volume, closeTime, ...].
func parseKline(symbol string, row []interface{}) (models.PricePoint, error) {
	if len(row) < 7 {
		return models.PricePoint{}, fmt.Errorf("kline has %d fields", len(row))
	}
	var vals [4]float64
	for i, idx := range []int{2, 3, 4, 5} {
		v, err := toFloat(row[idx])
		if err != nil {
			return models.PricePoint{}, err
		}
		vals[i] = v
	}
	closeMs, err := toFloat(row[6])
	if err != nil {
		return models.PricePoint{}, err
	}
	high, low, closePx, vol := vals[0], vals[1], vals[2], vals[3]
	return models.PricePoint{
		Symbol:    symbol,
		Price:     closePx,
		High:      &high,
		Low:       &low,
		Volume:    &vol,
		Timestamp: time.UnixMilli(int64(closeMs)).UTC(),
		Source:    models.SourceBackfill,
	}, nil
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("unexpected kline field type %T", v)
	}
}

var _ repository.TickerClient = (*RESTClient)(nil)
