package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"SignalDesk/pkg/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type unitPayload struct {
	Symbol   string `json:"symbol"`
	Category string `json:"category"`
}

func TestParsePayload(t *testing.T) {
	raw := json.RawMessage(`{"symbol":"BTCUSDT","category":"day"}`)
	p, err := ParsePayload[unitPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", p.Symbol)

	p, err = ParsePayload[unitPayload](map[string]interface{}{"symbol": "ETHUSDT", "category": "hour"})
	require.NoError(t, err)
	assert.Equal(t, "hour", p.Category)

	p, err = ParsePayload[unitPayload](unitPayload{Symbol: "X"})
	require.NoError(t, err)
	assert.Equal(t, "X", p.Symbol)

	_, err = ParsePayload[unitPayload](42)
	assert.Error(t, err)
}

func TestNewMessageEncodesPayload(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msg, err := NewMessage("id-1", "aggregate_bucket", unitPayload{Symbol: "BTCUSDT"}, now)
	require.NoError(t, err)
	assert.JSONEq(t, `{"symbol":"BTCUSDT","category":""}`, string(msg.Payload))
	assert.Equal(t, now, msg.Timestamp)

	msg, err = NewMessage("id-2", "raw", json.RawMessage(`[1,2]`), now)
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(msg.Payload))
}

func TestDispatch(t *testing.T) {
	q := NewRedisQueue(nil, &QueueConfig{RetryDelay: time.Minute}, nil, ModeConsumerOnly)

	var got *unitPayload
	q.RegisterJob(Typed("aggregate_bucket", func(_ context.Context, p *unitPayload) error {
		got = p
		return nil
	}))
	q.RegisterJob(JobFunc{MsgType: "boom", Fn: func(context.Context, interface{}) error {
		panic("kaput")
	}})

	msg, err := NewMessage("1", "aggregate_bucket", unitPayload{Symbol: "BTCUSDT", Category: "week"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, q.dispatch(context.Background(), msg))
	require.NotNil(t, got)
	assert.Equal(t, "week", got.Category)

	err = q.dispatch(context.Background(), Message{ID: "2", Type: "unknown"})
	assert.True(t, errors.Is(err, ErrNoJob))

	err = q.dispatch(context.Background(), Message{ID: "3", Type: "boom", Payload: json.RawMessage(`{}`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaput")
}

func TestRetryTimeBacksOff(t *testing.T) {
	fake := clock.NewFake()
	q := NewRedisQueue(nil, &QueueConfig{RetryDelay: 10 * time.Second}, nil, ModeConsumerOnly, WithQueueClock(fake))
	assert.Equal(t, fake.Now().Add(10*time.Second), q.retryTime(1))
	assert.Equal(t, fake.Now().Add(30*time.Second), q.retryTime(3))
}

func TestEnqueueRequiresRunning(t *testing.T) {
	q := NewRedisQueue(nil, nil, nil, ModeProducerOnly, WithKeyPrefix("test:queue"))
	err := q.Enqueue(context.Background(), "error_logs", map[string]string{"a": "b"})
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.Equal(t, "test:queue:messages", q.queueKey())
	assert.Equal(t, "test:queue:dlq", q.deadLetterKey())
}
