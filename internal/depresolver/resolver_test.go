package depresolver

import (
	"errors"
	"testing"

	"github.com/swarmguard/taskcore/internal/taskerr"
)

func TestSubmitRejectsDirectCycleWithoutMutating(t *testing.T) {
	r := New()
	if err := r.Submit("a", []string{"b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := r.Submit("b", []string{"a"})
	var cycleErr *taskerr.CircularDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CircularDependencyError, got %v", err)
	}
	// Rejected submission must not have registered "b" at all.
	if _, ok := r.edges["b"]; ok {
		t.Fatalf("expected edges not to contain rejected node b")
	}
}

func TestSubmitRejectsSelfDependency(t *testing.T) {
	r := New()
	err := r.Submit("a", []string{"a"})
	var cycleErr *taskerr.CircularDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CircularDependencyError for self-dependency, got %v", err)
	}
}

func TestMarkCompletedComputesReadySet(t *testing.T) {
	r := New()
	_ = r.Submit("a", nil)
	_ = r.Submit("b", []string{"a"})
	_ = r.Submit("c", []string{"a"})
	_ = r.Submit("d", []string{"b", "c"})

	if !r.Ready("a") {
		t.Fatalf("expected a ready immediately (no deps)")
	}
	if r.Ready("b") || r.Ready("d") {
		t.Fatalf("expected b, d not ready before a completes")
	}

	ready := r.MarkCompleted("a")
	if len(ready) != 2 {
		t.Fatalf("expected b and c ready after a completes, got %v", ready)
	}

	if len(r.MarkCompleted("b")) != 0 {
		t.Fatalf("expected d not yet ready, c still pending")
	}
	ready = r.MarkCompleted("c")
	if len(ready) != 1 || ready[0] != "d" {
		t.Fatalf("expected d ready after b and c both complete, got %v", ready)
	}
}

func TestWaitingListsOnlyIncompleteDependencies(t *testing.T) {
	r := New()
	_ = r.Submit("a", nil)
	_ = r.Submit("b", nil)
	_ = r.Submit("c", []string{"a", "b"})

	r.MarkCompleted("a")
	waiting := r.Waiting("c")
	if len(waiting) != 1 || waiting[0] != "b" {
		t.Fatalf("expected only b waiting, got %v", waiting)
	}
}

func TestRemoveClearsIncomingAndOutgoingEdges(t *testing.T) {
	r := New()
	_ = r.Submit("a", nil)
	_ = r.Submit("b", []string{"a"})
	r.Remove("a")
	if waiting := r.Waiting("b"); len(waiting) != 0 {
		t.Fatalf("expected b to have no dangling wait on removed a, got %v", waiting)
	}
}
