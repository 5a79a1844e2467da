package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	"SignalDesk/pkg/clock"
	pkgkafka "SignalDesk/pkg/kafka"
)

// KafkaTicksHandler drains the tick topic into the tick store when the feed
// runs with the kafka backend.
type KafkaTicksHandler struct {
	topic   string
	store   domrepo.TickStore
	metrics domrepo.Metrics
	clock   clock.Clock
}

func NewKafkaTicksHandler(topic string, store domrepo.TickStore, metrics domrepo.Metrics, clk clock.Clock) *KafkaTicksHandler {
	if clk == nil {
		clk = clock.New()
	}
	return &KafkaTicksHandler{topic: topic, store: store, metrics: metrics, clock: clk}
}

func (h *KafkaTicksHandler) Topic() string { return h.topic }

// Handle decodes one PricePoint. Malformed or invalid ticks are rejected
// so the consumer routes them to its dead letter topic.
func (h *KafkaTicksHandler) Handle(ctx context.Context, b []byte) error {
	var p models.PricePoint
	if err := json.Unmarshal(b, &p); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode tick: %w", err)
	}
	p.Symbol = models.NormalizeSymbol(p.Symbol)
	if p.Symbol == "" || p.Timestamp.IsZero() {
		h.metrics.RecordError("consumer_invalid")
		return fmt.Errorf("decode tick: %w", models.ErrUnknownSymbol)
	}
	if p.Price <= 0 {
		h.metrics.RecordError("consumer_invalid")
		return fmt.Errorf("decode tick %s: %w", p.Symbol, models.ErrInvalidPrice)
	}
	h.metrics.RecordLatency("ingest_e2e_seconds", h.clock.Now().Sub(p.Timestamp).Seconds())

	start := h.clock.Now()
	err := h.store.Store(ctx, p)
	h.metrics.RecordLatency("tick_store_seconds", h.clock.Now().Sub(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return fmt.Errorf("store tick %s: %w", p.Symbol, err)
	}
	h.metrics.RecordMessageSent("consumer", p.Symbol)
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)
