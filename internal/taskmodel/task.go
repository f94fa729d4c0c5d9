// Package taskmodel defines the Task descriptor and its mutable status
// envelope shared by every other taskcore subsystem.
package taskmodel

import (
	"time"

	"github.com/google/uuid"
)

// Priority is one of the four scheduling priority classes.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Weight orders priorities for strict and weighted comparisons;
// higher is more urgent.
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// RetryCategory names a class of error a retry policy may opt into.
type RetryCategory string

const (
	RetryOnTimeout      RetryCategory = "timeout"
	RetryOnTransient    RetryCategory = "transient"
	RetryOnResource     RetryCategory = "resource"
	RetryOnDependency   RetryCategory = "dependency"
)

// RetryPolicy controls attempt budget and backoff shape for a task.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	JitterFactor   float64
	RetryOn        []RetryCategory
}

// DefaultRetryPolicy is the budget applied when a submission carries
// no retry options of its own.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
		RetryOn:       []RetryCategory{RetryOnTimeout, RetryOnTransient, RetryOnResource, RetryOnDependency},
	}
}

func (p RetryPolicy) Allows(cat RetryCategory) bool {
	for _, c := range p.RetryOn {
		if c == cat {
			return true
		}
	}
	return false
}

// ResourceRequest is one (kind, amount) pair a task needs reserved for
// the duration of its run.
type ResourceRequest struct {
	Kind   string
	Amount float64
}

// Reserved metadata keys the core writes into Task.Metadata; clients
// must not assign these themselves.
const (
	MetaRetryAttempt    = "retry_attempt"
	MetaPreviousErrors  = "previous_errors"
	MetaRecoveryApplied = "recovery_applied"
	MetaRetryDelay      = "retry_delay"
)

// WorkRef identifies the registered handler that resolves and invokes
// a task's work; the core never interprets Args itself.
type WorkRef string

// Task is an immutable descriptor plus a mutable status envelope. All
// mutation happens under the owning Scheduler's single-writer
// discipline; callers only ever see snapshots via Snapshot().
type Task struct {
	ID           string
	Work         WorkRef
	Args         []any
	Priority     Priority
	Timeout      time.Duration
	Deadline     time.Time
	Dependencies []string
	Resources    []ResourceRequest
	Retry        RetryPolicy
	Metadata     map[string]any

	Status      Status
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	FailedAt    time.Time

	Result any
	Err    error
}

// New constructs a Task with a fresh ID, CreatedAt stamped now, and a
// Deadline synthesized as CreatedAt+timeout until a caller overrides it.
func New(work WorkRef, args []any, priority Priority, timeout time.Duration) Task {
	now := time.Now()
	t := Task{
		ID:        uuid.NewString(),
		Work:      work,
		Args:      args,
		Priority:  priority,
		Timeout:   timeout,
		Retry:     DefaultRetryPolicy(),
		Metadata:  make(map[string]any),
		Status:    StatusPending,
		CreatedAt: now,
	}
	t.Deadline = now.Add(timeout)
	return t
}

// EffectiveDeadline returns Deadline if set, else CreatedAt+Timeout.
func (t *Task) EffectiveDeadline() time.Time {
	if !t.Deadline.IsZero() {
		return t.Deadline
	}
	return t.CreatedAt.Add(t.Timeout)
}

// RetryAttempt returns the reserved retry_attempt metadata, defaulting to 0.
func (t *Task) RetryAttempt() int {
	if v, ok := t.Metadata[MetaRetryAttempt].(int); ok {
		return v
	}
	return 0
}

func (t *Task) SetRetryAttempt(n int) { t.Metadata[MetaRetryAttempt] = n }

// PreviousErrors returns the reserved previous_errors metadata.
func (t *Task) PreviousErrors() []string {
	if v, ok := t.Metadata[MetaPreviousErrors].([]string); ok {
		return v
	}
	return nil
}

func (t *Task) AppendError(msg string) {
	t.Metadata[MetaPreviousErrors] = append(t.PreviousErrors(), msg)
}

func (t *Task) SetRecoveryApplied(strategy string) { t.Metadata[MetaRecoveryApplied] = strategy }

func (t *Task) SetRetryDelay(d time.Duration) { t.Metadata[MetaRetryDelay] = d }

// Snapshot returns a shallow copy safe to hand to readers outside the
// owning actor; Metadata and slices are copied one level deep.
func (t *Task) Snapshot() Task {
	cp := *t
	if t.Args != nil {
		cp.Args = append([]any(nil), t.Args...)
	}
	if t.Dependencies != nil {
		cp.Dependencies = append([]string(nil), t.Dependencies...)
	}
	if t.Resources != nil {
		cp.Resources = append([]ResourceRequest(nil), t.Resources...)
	}
	cp.Metadata = make(map[string]any, len(t.Metadata))
	for k, v := range t.Metadata {
		cp.Metadata[k] = v
	}
	return cp
}
