// Package circuitbreaker implements the per-operation
// closed/open/half_open state machine: a mutex-guarded state struct
// per operation name with consecutive-failure/success thresholds, a
// bounded transition history, and otel-counted transitions. The same
// sequence of outcomes always reaches the same state, so breaker
// behavior is reproducible in tests.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/taskcore/internal/taskerr"
)

// State is one of the three breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds the breaker thresholds and timing knobs.
type Config struct {
	FailureThreshold  int
	SuccessThreshold  int
	RecoveryTimeout   time.Duration
	HalfOpenMaxCalls  int
	HistoryCapacity   int
}

// DefaultConfig trips after five consecutive failures, closes after
// three half-open successes, and probes a minute after the last
// failure.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 3,
		HistoryCapacity:  50,
	}
}

// Transition records one state change, most-recent-first in History().
type Transition struct {
	From, To State
	At       time.Time
	Reason   string
}

// breaker is the per-operation state record.
type breaker struct {
	mu sync.Mutex

	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	halfOpenCalls   int
	history         []Transition
	historyCap      int

	now func() time.Time
}

// Registry owns one breaker per operation name. State transitions are
// atomic with respect to the operation name: each breaker's mutex is
// the single writer for its record.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*breaker

	opened metric.Int64Counter
	closed metric.Int64Counter

	hook func(op string, from, to State)

	now func() time.Time
}

// SetTransitionHook installs a callback invoked on every state change,
// with the operation name and the states either side of it. The hook
// runs synchronously on whichever goroutine drove the transition, so
// it must not call back into the Registry. Set during wiring, before
// traffic starts.
func (r *Registry) SetTransitionHook(fn func(op string, from, to State)) {
	r.hook = fn
}

func (r *Registry) notify(op string, t Transition) {
	if r.hook != nil {
		r.hook(op, t.From, t.To)
	}
}

// NewRegistry constructs a breaker registry. meter may be nil; tests
// pass the otel noop meter provider.
func NewRegistry(cfg Config, meter metric.Meter) *Registry {
	r := &Registry{cfg: cfg, breakers: make(map[string]*breaker), now: time.Now}
	if meter != nil {
		r.opened, _ = meter.Int64Counter("taskcore_circuit_opened_total")
		r.closed, _ = meter.Int64Counter("taskcore_circuit_closed_total")
	}
	return r
}

func (r *Registry) get(op string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[op]
	if !ok {
		cap := r.cfg.HistoryCapacity
		if cap <= 0 {
			cap = 50
		}
		b = &breaker{state: StateClosed, now: r.now, historyCap: cap}
		r.breakers[op] = b
	}
	return b
}

// Allow reports whether a call against op may proceed, transitioning
// open->half_open once recovery_timeout has elapsed since the last
// failure.
func (r *Registry) Allow(op string) error {
	b := r.get(op)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailureTime) >= r.cfg.RecoveryTimeout {
			r.notify(op, b.transition(StateHalfOpen, "recovery_timeout elapsed, probing"))
			b.halfOpenCalls = 1
			return nil
		}
		return &taskerr.CircuitBreakerOpenError{Operation: op}
	case StateHalfOpen:
		if b.halfOpenCalls >= r.cfg.HalfOpenMaxCalls {
			return &taskerr.CircuitBreakerOpenError{Operation: op}
		}
		b.halfOpenCalls++
		return nil
	default:
		return nil
	}
}

// RecordSuccess applies a successful-call outcome to op's breaker.
func (r *Registry) RecordSuccess(op string) {
	b := r.get(op)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= r.cfg.SuccessThreshold {
			r.notify(op, b.transition(StateClosed, "success_threshold met"))
			b.failureCount = 0
			b.successCount = 0
			b.halfOpenCalls = 0
			r.bump(r.closed)
		}
	case StateOpen:
		// stray success after an open call slipped through; ignore.
	}
}

// RecordFailure applies a failed-call outcome to op's breaker.
func (r *Registry) RecordFailure(op string) {
	b := r.get(op)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = b.now()

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= r.cfg.FailureThreshold {
			r.notify(op, b.transition(StateOpen, "failure_threshold reached"))
			r.bump(r.opened)
		}
	case StateHalfOpen:
		r.notify(op, b.transition(StateOpen, "probe failed"))
		b.successCount = 0
		b.halfOpenCalls = 0
		r.bump(r.opened)
	case StateOpen:
		// already open; nothing new to record.
	}
}

func (r *Registry) bump(c metric.Int64Counter) {
	if c != nil {
		// Registry-level counters use a background context; breaker
		// transitions aren't on any caller's request path.
		c.Add(context.Background(), 1)
	}
}

// State returns the current state of op's breaker (default closed for
// an operation never seen before).
func (r *Registry) State(op string) State {
	b := r.get(op)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// History returns op's transitions, most recent first.
func (r *Registry) History(op string) []Transition {
	b := r.get(op)
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]Transition, len(b.history))
	copy(cp, b.history)
	return cp
}

func (b *breaker) transition(to State, reason string) Transition {
	from := b.state
	b.state = to
	t := Transition{From: from, To: to, At: b.now(), Reason: reason}
	b.history = append([]Transition{t}, b.history...)
	if limit := b.historyCap; limit > 0 && len(b.history) > limit {
		b.history = b.history[:limit]
	}
	return t
}
