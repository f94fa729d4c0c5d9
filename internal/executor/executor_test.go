package executor

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeHandler struct {
	delay  time.Duration
	result any
	err    error
}

func (f *fakeHandler) Invoke(ctx context.Context, args []any) (any, error) {
	select {
	case <-time.After(f.delay):
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeHandler) Supports(feature string) bool { return false }

func TestRunReturnsResultOnNormalCompletion(t *testing.T) {
	reg := NewRegistry()
	reg.Register("fake", &fakeHandler{result: "ok"})
	e := New(reg)

	outcome := e.Run(context.Background(), "fake:op", nil, time.Second)
	if outcome.Err != nil || outcome.Result != "ok" {
		t.Fatalf("expected ok result, got %+v", outcome)
	}
}

func TestRunReturnsTimeoutWhenHandlerExceedsDeadline(t *testing.T) {
	reg := NewRegistry()
	reg.Register("fake", &fakeHandler{delay: time.Second})
	e := New(reg)

	outcome := e.Run(context.Background(), "fake:op", nil, 10*time.Millisecond)
	if !outcome.Timeout {
		t.Fatalf("expected timeout outcome, got %+v", outcome)
	}
}

func TestRunReportsErrorForUnknownWorkRef(t *testing.T) {
	reg := NewRegistry()
	e := New(reg)

	outcome := e.Run(context.Background(), "missing:op", nil, time.Second)
	if outcome.Err == nil {
		t.Fatalf("expected error for unregistered handler kind")
	}
}

func TestCancelUnblocksRun(t *testing.T) {
	reg := NewRegistry()
	reg.Register("fake", &fakeHandler{delay: time.Hour})
	e := New(reg)

	done := make(chan Outcome, 1)
	go func() { done <- e.Run(context.Background(), "fake:op", nil, time.Hour) }()

	time.Sleep(10 * time.Millisecond)
	e.Cancel()

	select {
	case outcome := <-done:
		if !outcome.Canceled {
			t.Fatalf("expected canceled outcome, got %+v", outcome)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("expected Run to unblock promptly after Cancel")
	}
}

func TestPauseResumeTogglesChannel(t *testing.T) {
	e := New(NewRegistry())
	ch := e.PauseChan()
	select {
	case <-ch:
		t.Fatalf("expected pause channel open before Pause")
	default:
	}
	e.Pause()
	select {
	case <-ch:
	default:
		t.Fatalf("expected pause channel closed after Pause")
	}
	e.Resume()
	newCh := e.PauseChan()
	select {
	case <-newCh:
		t.Fatalf("expected fresh pause channel open after Resume")
	default:
	}
}

func TestFakeHandlerHonorsContextCancellation(t *testing.T) {
	h := &fakeHandler{delay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Invoke(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
