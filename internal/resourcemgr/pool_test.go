package resourcemgr

import (
	"errors"
	"testing"

	"github.com/swarmguard/taskcore/internal/taskerr"
	"github.com/swarmguard/taskcore/internal/taskmodel"
)

func TestAllocateTransactionalAllOrNothing(t *testing.T) {
	m := NewManager(map[string]float64{"cpu": 4, "memory": 1024}, StrategyFirstFit)

	_, err := m.Allocate("t1", []taskmodel.ResourceRequest{
		{Kind: "cpu", Amount: 2},
		{Kind: "memory", Amount: 2048}, // exceeds total
	})
	var insufficient *taskerr.InsufficientResourcesError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientResourcesError, got %v", err)
	}

	for _, snap := range m.Snapshot() {
		if snap.Kind == "cpu" && snap.Allocated != 0 {
			t.Fatalf("expected no partial allocation, cpu allocated=%v", snap.Allocated)
		}
	}
}

func TestAllocateThenReleaseRoundTrip(t *testing.T) {
	m := NewManager(map[string]float64{"cpu": 4}, StrategyFirstFit)

	alloc, err := m.Allocate("t1", []taskmodel.ResourceRequest{{Kind: "cpu", Amount: 3}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = m.Allocate("t2", []taskmodel.ResourceRequest{{Kind: "cpu", Amount: 2}})
	var insufficient *taskerr.InsufficientResourcesError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected insufficient resources for t2, got %v", err)
	}

	m.Release(alloc.ID)

	if _, err := m.Allocate("t2", []taskmodel.ResourceRequest{{Kind: "cpu", Amount: 2}}); err != nil {
		t.Fatalf("expected allocation to succeed after release, got %v", err)
	}
}

func TestReleaseUnknownIDIsIdempotentNoOp(t *testing.T) {
	m := NewManager(map[string]float64{"cpu": 1}, StrategyFirstFit)
	m.Release("does-not-exist")
	m.Release("does-not-exist")
	if got := m.ReleaseWarnings(); got != 2 {
		t.Fatalf("expected 2 warnings recorded, got %d", got)
	}
}

func TestWorstFitMatchesFirstFitPlaceholder(t *testing.T) {
	totals := map[string]float64{"cpu": 4, "memory": 1024}
	reqs := []taskmodel.ResourceRequest{{Kind: "cpu", Amount: 1}, {Kind: "memory", Amount: 256}}

	first := NewManager(totals, StrategyFirstFit)
	worst := NewManager(totals, StrategyWorstFit)

	fp, _ := first.plan(reqs)
	wp, _ := worst.plan(reqs)
	for i := range fp {
		if fp[i] != wp[i] {
			t.Fatalf("worst_fit diverged from first_fit placeholder at index %d: %v vs %v", i, fp[i], wp[i])
		}
	}
}

func TestBestFitOrdersTightestHeadroomFirst(t *testing.T) {
	m := NewManager(map[string]float64{"cpu": 2, "memory": 1000}, StrategyBestFit)
	ordered, _ := m.plan([]taskmodel.ResourceRequest{
		{Kind: "memory", Amount: 1},
		{Kind: "cpu", Amount: 1},
	})
	if ordered[0].Kind != "cpu" {
		t.Fatalf("expected cpu (tighter headroom) first, got %s", ordered[0].Kind)
	}
}
