package taskmodel

import (
	"testing"
	"time"
)

func TestNewSynthesizesDeadline(t *testing.T) {
	task := New("http.call", []any{"GET"}, PriorityHigh, 50*time.Millisecond)
	if task.Deadline.Before(task.CreatedAt) {
		t.Fatalf("deadline %v before created_at %v", task.Deadline, task.CreatedAt)
	}
	want := task.CreatedAt.Add(task.Timeout)
	if !task.EffectiveDeadline().Equal(want) {
		t.Fatalf("effective deadline = %v, want %v", task.EffectiveDeadline(), want)
	}
}

func TestRetryMetadataRoundTrip(t *testing.T) {
	task := New("noop", nil, PriorityLow, time.Second)
	task.SetRetryAttempt(2)
	task.AppendError("boom")
	task.AppendError("boom again")

	if got := task.RetryAttempt(); got != 2 {
		t.Fatalf("retry attempt = %d, want 2", got)
	}
	if errs := task.PreviousErrors(); len(errs) != 2 {
		t.Fatalf("previous errors = %v, want 2 entries", errs)
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	task := New("noop", []any{1}, PriorityMedium, time.Second)
	task.Dependencies = []string{"a"}
	snap := task.Snapshot()

	task.Dependencies[0] = "mutated"
	task.Metadata["x"] = "y"

	if snap.Dependencies[0] != "a" {
		t.Fatalf("snapshot dependency mutated: %v", snap.Dependencies)
	}
	if _, ok := snap.Metadata["x"]; ok {
		t.Fatalf("snapshot metadata leaked post-snapshot mutation")
	}
}

func TestPriorityWeightOrdering(t *testing.T) {
	if PriorityCritical.Weight() <= PriorityHigh.Weight() ||
		PriorityHigh.Weight() <= PriorityMedium.Weight() ||
		PriorityMedium.Weight() <= PriorityLow.Weight() {
		t.Fatalf("priority weights not strictly ordered")
	}
}
