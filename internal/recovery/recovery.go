// Package recovery selects and applies failure-recovery strategies: a
// registry keyed by classified error category, each entry producing a
// modified task descriptor fit to be re-scheduled.
package recovery

import (
	"sync"
	"time"

	"github.com/swarmguard/taskcore/internal/classifier"
	"github.com/swarmguard/taskcore/internal/taskmodel"
)

// Strategy mutates a task in response to a classified failure. It
// returns the modified task and whether recovery could be applied; a
// false return means the caller should surface a terminal failure.
type Strategy func(task taskmodel.Task, c classifier.Classification) (taskmodel.Task, bool)

// Stats tracks the manager's own recovery counters.
type Stats struct {
	TotalAttempts       int
	SuccessfulRecoveries int
	FailedRecoveries    int
	totalDuration       time.Duration
}

func (s Stats) AverageRecoveryTime() time.Duration {
	if s.TotalAttempts == 0 {
		return 0
	}
	return s.totalDuration / time.Duration(s.TotalAttempts)
}

// Manager owns the strategy table. Custom strategies may be registered
// at runtime keyed by category, overriding the built-ins.
type Manager struct {
	mu         sync.Mutex
	strategies map[classifier.Category]Strategy
	now        func() time.Time
	stats      Stats
}

// New constructs a Manager pre-populated with the built-in strategy
// table.
func New() *Manager {
	m := &Manager{strategies: make(map[classifier.Category]Strategy), now: time.Now}
	m.strategies[classifier.CategoryTimeout] = extendTimeout
	m.strategies[classifier.CategoryResource] = reduceResources
	m.strategies[classifier.CategoryDependency] = revalidateDependency
	m.strategies[classifier.CategoryTransient] = exponentialBackoffNote
	m.strategies[classifier.CategoryNetwork] = exponentialBackoffNote
	return m
}

// Register installs (or overrides) the strategy for a category.
func (m *Manager) Register(cat classifier.Category, s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[cat] = s
}

// Recover applies the registered strategy for c.Category to task,
// recording metrics. A missing strategy or a strategy that declines
// both count as a failed recovery.
func (m *Manager) Recover(task taskmodel.Task, c classifier.Classification) (taskmodel.Task, bool) {
	start := m.now()
	m.mu.Lock()
	strategy, ok := m.strategies[c.Category]
	m.mu.Unlock()

	if !ok {
		m.record(start, false)
		return task, false
	}

	modified, applied := strategy(task, c)
	if applied {
		modified.SetRecoveryApplied(string(c.Category))
	}
	m.record(start, applied)
	return modified, applied
}

func (m *Manager) record(start time.Time, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.TotalAttempts++
	m.stats.totalDuration += m.now().Sub(start)
	if success {
		m.stats.SuccessfulRecoveries++
	} else {
		m.stats.FailedRecoveries++
	}
}

// StatsSnapshot returns a copy of the manager's recovery metrics.
func (m *Manager) StatsSnapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

const maxExtendedTimeout = 5 * time.Minute

// extendTimeout doubles the task's timeout, capped at 5 minutes.
func extendTimeout(t taskmodel.Task, _ classifier.Classification) (taskmodel.Task, bool) {
	extended := t.Timeout * 2
	if extended > maxExtendedTimeout {
		extended = maxExtendedTimeout
	}
	if extended <= t.Timeout {
		return t, false
	}
	t.Timeout = extended
	return t, true
}

// reduceResources scales every requested amount by 0.8, freeing "soft"
// headroom for the retry attempt.
func reduceResources(t taskmodel.Task, _ classifier.Classification) (taskmodel.Task, bool) {
	if len(t.Resources) == 0 {
		return t, false
	}
	reduced := make([]taskmodel.ResourceRequest, len(t.Resources))
	for i, r := range t.Resources {
		reduced[i] = taskmodel.ResourceRequest{Kind: r.Kind, Amount: r.Amount * 0.8}
	}
	t.Resources = reduced
	return t, true
}

const dependencyRevalidationDelay = 50 * time.Millisecond

// revalidateDependency inserts a small delay before the task is
// re-enqueued, giving its dependency graph a chance to settle.
func revalidateDependency(t taskmodel.Task, _ classifier.Classification) (taskmodel.Task, bool) {
	t.SetRetryDelay(dependencyRevalidationDelay)
	return t, true
}

// exponentialBackoffNote defers entirely to the Resilience Layer's own
// retry/backoff computation; the recovery manager's job here is only
// to confirm that path is taken (no structural change to the task).
func exponentialBackoffNote(t taskmodel.Task, _ classifier.Classification) (taskmodel.Task, bool) {
	return t, true
}
