package ratelimit

import (
	"sync"
	"time"

	"SignalDesk/pkg/clock"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter is a token bucket per key. All keys share capacity and refill rate.
type Limiter struct {
	capacity   float64
	refillRate float64 // tokens per second
	clock      clock.Clock

	mu sync.Mutex
	m  map[string]*bucket
}

type Option func(*Limiter)

func WithClock(c clock.Clock) Option { return func(l *Limiter) { l.clock = c } }

func New(capacity, refillPerSec float64, opts ...Option) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	if refillPerSec <= 0 {
		refillPerSec = 1
	}
	l := &Limiter{
		capacity:   capacity,
		refillRate: refillPerSec,
		clock:      clock.New(),
		m:          make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string) bool {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.m[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * l.refillRate
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Forget drops the bucket for key.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	delete(l.m, key)
	l.mu.Unlock()
}
