package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/swarmguard/taskcore/internal/taskerr"
)

func newTestRegistry(cfg Config) (*Registry, *fakeClock) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	r := NewRegistry(cfg, nil)
	r.now = clock.Now
	return r, clock
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCircuitBreakerTripProbeClose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecoveryTimeout = 10 * time.Second
	r, clock := newTestRegistry(cfg)

	for i := 0; i < 5; i++ {
		r.RecordFailure("op")
	}
	if r.State("op") != StateOpen {
		t.Fatalf("expected breaker open after 5 failures, got %s", r.State("op"))
	}

	if err := r.Allow("op"); err == nil {
		t.Fatalf("expected immediate rejection while open")
	} else {
		var cbErr *taskerr.CircuitBreakerOpenError
		if !errors.As(err, &cbErr) {
			t.Fatalf("expected CircuitBreakerOpenError, got %T", err)
		}
	}

	clock.Advance(cfg.RecoveryTimeout)
	if err := r.Allow("op"); err != nil {
		t.Fatalf("expected probe permitted after recovery timeout, got %v", err)
	}
	if r.State("op") != StateHalfOpen {
		t.Fatalf("expected half_open after probe, got %s", r.State("op"))
	}

	r.RecordSuccess("op")
	r.RecordSuccess("op")
	if r.State("op") != StateHalfOpen {
		t.Fatalf("expected still half_open before success_threshold met")
	}
	r.RecordSuccess("op")
	if r.State("op") != StateClosed {
		t.Fatalf("expected closed after success_threshold successes, got %s", r.State("op"))
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecoveryTimeout = time.Second
	r, clock := newTestRegistry(cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		r.RecordFailure("op")
	}
	clock.Advance(cfg.RecoveryTimeout)
	_ = r.Allow("op") // transitions to half_open

	r.RecordFailure("op")
	if r.State("op") != StateOpen {
		t.Fatalf("expected reopened after half_open failure, got %s", r.State("op"))
	}
}

func TestCircuitMonotonicityIndependentOfTiming(t *testing.T) {
	outcomes := []bool{false, false, false, false, false, true, true, true}

	run := func(delay time.Duration) State {
		cfg := DefaultConfig()
		cfg.RecoveryTimeout = time.Second
		r, clock := newTestRegistry(cfg)
		for _, success := range outcomes {
			if success {
				r.RecordSuccess("op")
			} else {
				r.RecordFailure("op")
			}
			clock.Advance(delay)
		}
		return r.State("op")
	}

	fast := run(time.Millisecond)
	slow := run(2 * time.Second) // crosses recovery_timeout, but Allow() was never called to probe
	if fast != slow {
		t.Fatalf("breaker state diverged under different timing: fast=%s slow=%s", fast, slow)
	}
}

func TestIdempotentHistoryBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryCapacity = 3
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = 0
	r, _ := newTestRegistry(cfg)

	for i := 0; i < 10; i++ {
		r.RecordFailure("op")
		_ = r.Allow("op")
		r.RecordSuccess("op")
		r.RecordSuccess("op")
		r.RecordSuccess("op")
	}
	if len(r.History("op")) > 3 {
		t.Fatalf("history exceeded capacity: %d", len(r.History("op")))
	}
}
