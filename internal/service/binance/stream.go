package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/domain/repository"
	"SignalDesk/pkg/clock"

	"github.com/gorilla/websocket"
)

var ErrNotConnected = errors.New("binance stream not connected")

// Stream is one websocket connection carrying the 24h ticker of a batch of
// symbols. One symbol uses a raw stream, several use a combined stream.
type Stream struct {
	baseURL      string
	symbols      []string
	pingInterval time.Duration
	dialer       *websocket.Dialer
	clock        clock.Clock

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
}

type StreamOption func(*Stream)

func WithPingInterval(d time.Duration) StreamOption {
	return func(s *Stream) { s.pingInterval = d }
}

func WithDialer(d *websocket.Dialer) StreamOption {
	return func(s *Stream) { s.dialer = d }
}

func WithStreamClock(c clock.Clock) StreamOption {
	return func(s *Stream) { s.clock = c }
}

func NewStream(baseURL string, symbols []string, opts ...StreamOption) *Stream {
	if baseURL == "" {
		baseURL = DefaultStreamURL
	}
	norm := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if sym = models.NormalizeSymbol(sym); sym != "" {
			norm = append(norm, sym)
		}
	}
	s := &Stream{
		baseURL:      strings.TrimRight(baseURL, "/"),
		symbols:      norm,
		pingInterval: 30 * time.Second,
		dialer:       websocket.DefaultDialer,
		clock:        clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// URL is the endpoint for the stream's symbols.
func (s *Stream) URL() string {
	names := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		names[i] = strings.ToLower(sym) + "@ticker"
	}
	if len(names) == 1 {
		return s.baseURL + "/ws/" + names[0]
	}
	return s.baseURL + "/stream?streams=" + strings.Join(names, "/")
}

func (s *Stream) Symbols() []string { return append([]string(nil), s.symbols...) }

func (s *Stream) IsConnected() bool { return s.connected.Load() }

// Connect dials the websocket.
func (s *Stream) Connect(ctx context.Context) error {
	if len(s.symbols) == 0 {
		return fmt.Errorf("binance connect: no symbols")
	}
	conn, _, err := s.dialer.DialContext(ctx, s.URL(), nil)
	if err != nil {
		return fmt.Errorf("binance connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.connected.Store(true)
	return nil
}

// Read streams ticks until the connection fails or ctx is done. Both channels
// are closed when reading stops; at most one error is delivered.
func (s *Stream) Read(ctx context.Context) (<-chan models.PricePoint, <-chan error) {
	ticks := make(chan models.PricePoint, 1024)
	errs := make(chan error, 1)

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		errs <- ErrNotConnected
		close(ticks)
		close(errs)
		return ticks, errs
	}

	done := make(chan struct{})

	go func() {
		ticker := s.clock.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = s.Close()
				return
			case <-ticker.C():
				s.mu.Lock()
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				s.mu.Unlock()
			}
		}
	}()

	go func() {
		defer close(ticks)
		defer close(errs)
		defer close(done)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				s.connected.Store(false)
				if ctx.Err() == nil {
					errs <- fmt.Errorf("binance read: %w", err)
				}
				return
			}
			p, ok, err := ParseTickerMessage(b)
			if err != nil || !ok {
				continue
			}
			select {
			case ticks <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ticks, errs
}

// Close closes the websocket connection.
func (s *Stream) Close() error {
	s.connected.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type tickerEvent struct {
	EventType   string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	LastPrice   string `json:"c"`
	Volume      string `json:"v"`
	QuoteVolume string `json:"q"`
}

// ParseTickerMessage decodes a raw or combined 24hrTicker frame. ok is false
// for frames that are not ticker events.
func ParseTickerMessage(b []byte) (models.PricePoint, bool, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return models.PricePoint{}, false, fmt.Errorf("decode frame: %w", err)
	}
	payload := b
	if len(env.Data) > 0 {
		payload = env.Data
	}

	var ev tickerEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return models.PricePoint{}, false, fmt.Errorf("decode ticker: %w", err)
	}
	if ev.EventType != "24hrTicker" || ev.Symbol == "" {
		return models.PricePoint{}, false, nil
	}

	price, err := strconv.ParseFloat(ev.LastPrice, 64)
	if err != nil {
		return models.PricePoint{}, false, fmt.Errorf("decode ticker price: %w", err)
	}
	p := models.PricePoint{
		Symbol:    models.NormalizeSymbol(ev.Symbol),
		Price:     price,
		Timestamp: time.UnixMilli(ev.EventTime).UTC(),
		Source:    models.SourceStream,
	}
	if v, err := strconv.ParseFloat(ev.Volume, 64); err == nil {
		p.Volume = &v
	}
	return p, true, nil
}

// Factory opens streams against one endpoint.
type Factory struct {
	baseURL string
	opts    []StreamOption
}

func NewFactory(baseURL string, opts ...StreamOption) *Factory {
	return &Factory{baseURL: baseURL, opts: opts}
}

func (f *Factory) NewStream(symbols []string) repository.MarketStream {
	return NewStream(f.baseURL, symbols, f.opts...)
}

var (
	_ repository.MarketStream  = (*Stream)(nil)
	_ repository.StreamFactory = (*Factory)(nil)
)
