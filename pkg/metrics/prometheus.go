package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "signaldesk"

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticks        *prometheus.CounterVec
	messagesSent *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	lastPrice    *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
	decisions    *prometheus.CounterVec
	trades       *prometheus.CounterVec
	reconnects   *prometheus.CounterVec
	aggregations *prometheus.CounterVec
}

// New registers the recorder on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers on reg; tests pass a fresh prometheus.NewRegistry().
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Price ticks received by source",
		}, []string{"source", "symbol"}),
		messagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages written to a tick backend",
		}, []string{"backend", "symbol"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors encountered by kind",
		}, []string{"type"}),
		lastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_price",
			Help:      "Last recorded price for a symbol",
		}, []string{"symbol"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of operations in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Selected decisions by algorithm and signal",
		}, []string{"symbol", "algorithm", "signal"}),
		trades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulation_trades_total",
			Help:      "Simulated trades by type and reason",
		}, []string{"type", "reason"}),
		reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Stream reconnect attempts per connection",
		}, []string{"connection"}),
		aggregations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregation_units_total",
			Help:      "Aggregation units by category and result",
		}, []string{"category", "result"}),
	}
}

func (r *Recorder) RecordTick(source, symbol string) {
	r.ticks.WithLabelValues(source, symbol).Inc()
}

func (r *Recorder) RecordMessageSent(backend, symbol string) {
	r.messagesSent.WithLabelValues(backend, symbol).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordDecision(symbol, algorithm, signal string) {
	r.decisions.WithLabelValues(symbol, algorithm, signal).Inc()
}

func (r *Recorder) RecordTrade(tradeType, reason string) {
	r.trades.WithLabelValues(tradeType, reason).Inc()
}

func (r *Recorder) RecordReconnect(conn string) {
	r.reconnects.WithLabelValues(conn).Inc()
}

func (r *Recorder) RecordAggregation(category, result string) {
	r.aggregations.WithLabelValues(category, result).Inc()
}

// Noop discards every measurement.
type Noop struct{}

func (Noop) RecordTick(string, string)                 {}
func (Noop) RecordMessageSent(string, string)          {}
func (Noop) RecordError(string)                        {}
func (Noop) RecordLastPrice(string, float64)           {}
func (Noop) RecordLatency(string, float64)             {}
func (Noop) RecordDecision(string, string, string)     {}
func (Noop) RecordTrade(string, string)                {}
func (Noop) RecordReconnect(string)                    {}
func (Noop) RecordAggregation(string, string)          {}
