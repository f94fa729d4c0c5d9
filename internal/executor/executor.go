package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Outcome is the exactly-once result an Executor reports back to its
// caller.
type Outcome struct {
	Result any
	Err    error
	Timeout  bool
	Canceled bool
}

// ForcedStopGrace is the default grace period given to a task for
// cooperative cancellation before it's forcefully abandoned.
const ForcedStopGrace = time.Second

// Executor runs exactly one task instance. Pause/Resume gate a single
// cooperative channel the invoked handler is expected to select on if
// it wants to honor pauses; handlers that don't check it simply run to
// completion or timeout.
type Executor struct {
	handlers *Registry
	grace    time.Duration

	mu       sync.Mutex
	paused   bool
	pauseCh  chan struct{}
	cancel   context.CancelFunc
	reported bool
}

// New constructs an Executor bound to a handler registry.
func New(handlers *Registry) *Executor {
	return &Executor{handlers: handlers, grace: ForcedStopGrace, pauseCh: make(chan struct{})}
}

// SetGrace overrides the forced-stop grace period; zero or negative
// values keep the default.
func (e *Executor) SetGrace(d time.Duration) {
	if d > 0 {
		e.grace = d
	}
}

// Run invokes the work reference workRef (expected form "kind:rest",
// e.g. "http:call", "shell:run") with args, under the given timeout.
// It always returns exactly one Outcome, even if Cancel is called
// concurrently.
func (e *Executor) Run(ctx context.Context, workRef string, args []any, timeout time.Duration) Outcome {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	kind, _, _ := strings.Cut(workRef, ":")
	handler, ok := e.handlers.Lookup(kind)
	if !ok {
		return e.report(Outcome{Err: fmt.Errorf("no handler registered for work reference kind %q", kind)})
	}

	type result struct {
		val any
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := handler.Invoke(ctx, args)
		done <- result{val, err}
	}()

	select {
	case r := <-done:
		return e.report(Outcome{Result: r.val, Err: r.err})
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return e.report(Outcome{Timeout: true, Err: ctx.Err()})
		}
		// Canceled: give the handler the grace period to unwind before
		// this call returns, matching cooperative-then-forced semantics.
		select {
		case r := <-done:
			return e.report(Outcome{Result: r.val, Err: r.err, Canceled: true})
		case <-time.After(e.grace):
			return e.report(Outcome{Canceled: true, Err: ctx.Err()})
		}
	}
}

// Cancel requests cooperative cancellation of the running invocation.
func (e *Executor) Cancel() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Pause signals the cooperative pause channel; handlers that support
// the "pausable" feature may select on PauseChan to block.
func (e *Executor) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		e.paused = true
		close(e.pauseCh)
	}
}

// Resume clears a pending pause, issuing a fresh channel for the next
// pause cycle.
func (e *Executor) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		e.paused = false
		e.pauseCh = make(chan struct{})
	}
}

// PauseChan returns the channel that closes when Pause is called;
// cooperative handlers select on it to suspend.
func (e *Executor) PauseChan() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pauseCh
}

// report records that an outcome has been reported and returns o
// unchanged. A second call is not detected: it returns whatever outcome
// it is given.
func (e *Executor) report(o Outcome) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reported = true
	return o
}
