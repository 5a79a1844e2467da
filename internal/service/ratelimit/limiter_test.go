package ratelimit

import (
	"testing"
	"time"

	"SignalDesk/pkg/clock"
)

func TestAllowRefills(t *testing.T) {
	fake := clock.NewFake()
	l := New(2, 1, WithClock(fake))

	if !l.Allow("BTCUSDT") || !l.Allow("BTCUSDT") {
		t.Fatalf("expected burst of 2")
	}
	if l.Allow("BTCUSDT") {
		t.Fatalf("expected bucket to be empty")
	}
	if !l.Allow("ETHUSDT") {
		t.Fatalf("keys must not share buckets")
	}

	fake.Advance(time.Second)
	if !l.Allow("BTCUSDT") {
		t.Fatalf("expected refill after 1s")
	}
	if l.Allow("BTCUSDT") {
		t.Fatalf("expected single token refill")
	}

	fake.Advance(time.Hour)
	l.Allow("BTCUSDT")
	l.Allow("BTCUSDT")
	if l.Allow("BTCUSDT") {
		t.Fatalf("refill must be capped at capacity")
	}
}

func TestForget(t *testing.T) {
	fake := clock.NewFake()
	l := New(1, 0.001, WithClock(fake))
	l.Allow("X")
	if l.Allow("X") {
		t.Fatalf("expected empty bucket")
	}
	l.Forget("X")
	if !l.Allow("X") {
		t.Fatalf("expected fresh bucket after Forget")
	}
}
