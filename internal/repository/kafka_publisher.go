package repository

import (
	"context"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	pkgkafka "SignalDesk/pkg/kafka"
)

var (
	_ domrepo.Publisher = (*KafkaPublisher)(nil)
	_ domrepo.Publisher = NopPublisher{}
)

// Topics names the event streams the engine writes.
type Topics struct {
	Ticks     string
	Decisions string
	Trades    string
}

// KafkaPublisher emits ticks, decisions and trades keyed by symbol or
// simulation so each key stays ordered within its partition.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topics   Topics
}

func NewKafkaPublisher(producer *pkgkafka.Producer, topics Topics) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topics: topics}
}

func (p *KafkaPublisher) PublishTick(ctx context.Context, t models.PricePoint) error {
	if p.topics.Ticks == "" {
		return nil
	}
	return p.producer.Publish(ctx, p.topics.Ticks, []byte(t.Symbol), t)
}

// PublishTicks sends a batch of ticks in one write.
func (p *KafkaPublisher) PublishTicks(ctx context.Context, ticks []models.PricePoint) error {
	if len(ticks) == 0 || p.topics.Ticks == "" {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(ticks))
	for i, t := range ticks {
		msgs[i] = pkgkafka.Message{Key: []byte(t.Symbol), Value: t}
	}
	return p.producer.PublishBatch(ctx, p.topics.Ticks, msgs)
}

func (p *KafkaPublisher) PublishDecision(ctx context.Context, d *models.Decision) error {
	if d == nil || p.topics.Decisions == "" {
		return nil
	}
	return p.producer.Publish(ctx, p.topics.Decisions, []byte(d.Symbol), d)
}

func (p *KafkaPublisher) PublishTrade(ctx context.Context, t models.Trade) error {
	if p.topics.Trades == "" {
		return nil
	}
	return p.producer.Publish(ctx, p.topics.Trades, []byte(t.SimulationID), t)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishTick(context.Context, models.PricePoint) error   { return nil }
func (NopPublisher) PublishDecision(context.Context, *models.Decision) error { return nil }
func (NopPublisher) PublishTrade(context.Context, models.Trade) error        { return nil }
func (NopPublisher) Close() error                                            { return nil }
