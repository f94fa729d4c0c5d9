// Package admission implements the submission-rate governor the
// Scheduler optionally layers in front of Schedule: a combined token
// bucket + sliding window limiter that rejects excess submissions with
// a tagged taskerr instead of silently queueing unbounded backlog.
package admission

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Limiter is a token bucket with a secondary sliding window cap for
// burst and fairness control. Refill is lazy, computed from elapsed
// time on each Allow call.
type Limiter struct {
	mu           sync.Mutex
	capacity     int64
	fillRate     float64 // tokens per second
	available    float64
	lastRefill   time.Time
	windowStart  time.Time
	windowDur    time.Duration
	windowCount  int64
	maxPerWindow int64
	now          func() time.Time

	windowDrops metric.Int64Counter
	tokenDrops  metric.Int64Counter
}

// New constructs a combined token-bucket + sliding-window Limiter.
// meter may be nil.
func New(capacity int64, fillRate float64, windowDur time.Duration, maxPerWindow int64, meter metric.Meter) *Limiter {
	now := time.Now()
	l := &Limiter{
		capacity:     capacity,
		fillRate:     fillRate,
		available:    float64(capacity),
		lastRefill:   now,
		windowStart:  now,
		windowDur:    windowDur,
		maxPerWindow: maxPerWindow,
		now:          time.Now,
	}
	if meter != nil {
		l.windowDrops, _ = meter.Int64Counter("taskcore_admission_window_drops_total")
		l.tokenDrops, _ = meter.Int64Counter("taskcore_admission_token_drops_total")
	}
	return l
}

// Allow reports whether one submission may proceed right now.
func (l *Limiter) Allow() bool { return l.AllowN(1) }

// AllowN reports whether n submissions may proceed right now,
// consuming the tokens if so.
func (l *Limiter) AllowN(n int64) bool {
	if n <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked(now)

	if now.Sub(l.windowStart) >= l.windowDur {
		l.windowStart = now
		l.windowCount = 0
	}

	if l.maxPerWindow > 0 && l.windowCount+n > l.maxPerWindow {
		incr(l.windowDrops)
		return false
	}

	if float64(n) <= l.available {
		l.available -= float64(n)
		l.windowCount += n
		return true
	}
	incr(l.tokenDrops)
	return false
}

// ReserveAfter returns the duration after which n tokens will be
// available, without consuming anything now.
func (l *Limiter) ReserveAfter(n int64) time.Duration {
	if n <= 0 {
		return 0
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(now)

	need := float64(n)
	if l.available >= need {
		return 0
	}
	shortfall := need - l.available
	seconds := shortfall / l.fillRate
	return time.Duration(seconds * float64(time.Second))
}

func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	refill := elapsed * l.fillRate
	if refill > 0 {
		l.available = minFloat(float64(l.capacity), l.available+refill)
		l.lastRefill = now
	}
}

func incr(c metric.Int64Counter) {
	if c == nil {
		return
	}
	c.Add(context.Background(), 1)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
