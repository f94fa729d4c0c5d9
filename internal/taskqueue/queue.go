// Package taskqueue implements the multi-strategy task container.
// All six strategies present the same surface
// (enqueue/dequeue/dequeueN/peek/remove/size/list/contains) so the
// Scheduler never branches on which strategy is active.
package taskqueue

import (
	"sort"
	"time"

	"github.com/swarmguard/taskcore/internal/taskmodel"
)

// Strategy selects queue ordering behavior.
type Strategy string

const (
	StrategyFIFO          Strategy = "fifo"
	StrategyPriority      Strategy = "priority"
	StrategyDeadline      Strategy = "deadline"
	StrategyResourceAware Strategy = "resource_aware"
	StrategyMLOptimized   Strategy = "ml_optimized"
	StrategyHybrid        Strategy = "hybrid"
)

// entry is one queued task plus the bookkeeping needed for stats.
type entry struct {
	task     taskmodel.Task
	enqueued time.Time
}

// Stats reports per-queue counters.
type Stats struct {
	Count              int
	Enqueues           int
	Dequeues           int
	PriorityCounts     map[taskmodel.Priority]int
	AverageWaitMillis  float64
}

// Queue is the single-writer actor owning the container. now is
// injectable for deterministic wait-time tests.
type Queue struct {
	strategy Strategy
	now      func() time.Time

	items []entry // used directly by fifo/deadline/resource_aware/ml_optimized
	buckets map[taskmodel.Priority][]entry // used by priority
	hybridSubs map[Strategy][]entry // used by hybrid

	hybridWeights HybridWeights

	stats Stats
	waitTotal time.Duration
}

// HybridWeights configures the hybrid strategy's enqueue routing.
type HybridWeights struct {
	Deadline      float64
	Priority      float64
	ResourceAware float64
	MLOptimized   float64
}

// DefaultHybridWeights gives deadline and priority equal precedence
// over the resource-aware and ML hooks.
func DefaultHybridWeights() HybridWeights {
	return HybridWeights{Deadline: 0.35, Priority: 0.35, ResourceAware: 0.2, MLOptimized: 0.1}
}

// New constructs an empty queue under the given strategy.
func New(strategy Strategy) *Queue {
	return &Queue{
		strategy:      strategy,
		now:           time.Now,
		buckets:       make(map[taskmodel.Priority][]entry),
		hybridSubs:    make(map[Strategy][]entry),
		hybridWeights: DefaultHybridWeights(),
		stats:         Stats{PriorityCounts: make(map[taskmodel.Priority]int)},
	}
}

// Enqueue adds a task under the active strategy's insertion rule.
func (q *Queue) Enqueue(t taskmodel.Task) {
	e := entry{task: t, enqueued: q.now()}
	q.stats.Enqueues++
	q.stats.Count++
	q.stats.PriorityCounts[t.Priority]++

	switch q.strategy {
	case StrategyFIFO:
		q.items = append(q.items, e)
	case StrategyPriority:
		q.buckets[t.Priority] = append(q.buckets[t.Priority], e)
	case StrategyDeadline:
		q.insertSortedByDeadline(e)
	case StrategyResourceAware:
		q.insertSortedByScore(e)
	case StrategyMLOptimized:
		q.insertMLOptimized(e)
	case StrategyHybrid:
		q.enqueueHybrid(e)
	default:
		q.items = append(q.items, e)
	}
}

// Dequeue removes and returns the next task per the active strategy,
// or false if the queue is empty.
func (q *Queue) Dequeue() (taskmodel.Task, bool) {
	switch q.strategy {
	case StrategyPriority:
		return q.dequeuePriority()
	case StrategyHybrid:
		return q.dequeueHybrid()
	default:
		return q.dequeueFront()
	}
}

// DequeueN dequeues up to n tasks.
func (q *Queue) DequeueN(n int) []taskmodel.Task {
	out := make([]taskmodel.Task, 0, n)
	for i := 0; i < n; i++ {
		t, ok := q.Dequeue()
		if !ok {
			break
		}
		out = append(out, t)
	}
	return out
}

// Peek returns the next task without removing it.
func (q *Queue) Peek() (taskmodel.Task, bool) {
	if q.strategy == StrategyPriority {
		for _, p := range priorityOrder {
			if len(q.buckets[p]) > 0 {
				return q.buckets[p][0].task, true
			}
		}
		return taskmodel.Task{}, false
	}
	if q.strategy == StrategyHybrid {
		return q.peekHybrid()
	}
	if len(q.items) == 0 {
		return taskmodel.Task{}, false
	}
	return q.items[0].task, true
}

// Remove deletes a queued task by id, used for cancellation of tasks
// still waiting. Reports whether it was found.
func (q *Queue) Remove(id string) bool {
	switch q.strategy {
	case StrategyPriority:
		for p, bucket := range q.buckets {
			for i, e := range bucket {
				if e.task.ID == id {
					q.buckets[p] = append(bucket[:i], bucket[i+1:]...)
					q.stats.Count--
					return true
				}
			}
		}
		return false
	case StrategyHybrid:
		for s, bucket := range q.hybridSubs {
			for i, e := range bucket {
				if e.task.ID == id {
					q.hybridSubs[s] = append(bucket[:i], bucket[i+1:]...)
					q.stats.Count--
					return true
				}
			}
		}
		return false
	default:
		for i, e := range q.items {
			if e.task.ID == id {
				q.items = append(q.items[:i], q.items[i+1:]...)
				q.stats.Count--
				return true
			}
		}
		return false
	}
}

// Size reports the number of queued tasks.
func (q *Queue) Size() int {
	return q.stats.Count
}

// List returns a snapshot of every queued task in current order.
func (q *Queue) List() []taskmodel.Task {
	switch q.strategy {
	case StrategyPriority:
		out := make([]taskmodel.Task, 0, q.stats.Count)
		for _, p := range priorityOrder {
			for _, e := range q.buckets[p] {
				out = append(out, e.task)
			}
		}
		return out
	case StrategyHybrid:
		out := make([]taskmodel.Task, 0, q.stats.Count)
		for _, s := range []Strategy{StrategyDeadline, StrategyPriority, StrategyResourceAware, StrategyMLOptimized} {
			for _, e := range q.hybridSubs[s] {
				out = append(out, e.task)
			}
		}
		return out
	default:
		out := make([]taskmodel.Task, 0, len(q.items))
		for _, e := range q.items {
			out = append(out, e.task)
		}
		return out
	}
}

// Contains reports whether id is currently queued.
func (q *Queue) Contains(id string) bool {
	for _, t := range q.List() {
		if t.ID == id {
			return true
		}
	}
	return false
}

// StatsSnapshot returns the current queue statistics, including the
// running average wait time.
func (q *Queue) StatsSnapshot() Stats {
	s := q.stats
	if s.Dequeues > 0 {
		s.AverageWaitMillis = float64(q.waitTotal.Milliseconds()) / float64(s.Dequeues)
	}
	cp := make(map[taskmodel.Priority]int, len(s.PriorityCounts))
	for k, v := range s.PriorityCounts {
		cp[k] = v
	}
	s.PriorityCounts = cp
	return s
}

// ChangeStrategy drains every queued task and re-enqueues it under the
// new strategy.
func (q *Queue) ChangeStrategy(s Strategy) {
	pending := q.List()
	q.items = nil
	q.buckets = make(map[taskmodel.Priority][]entry)
	q.hybridSubs = make(map[Strategy][]entry)
	q.strategy = s
	q.stats.Count = 0 // Enqueue counts each task again
	for _, t := range pending {
		q.Enqueue(t)
	}
}

var priorityOrder = []taskmodel.Priority{
	taskmodel.PriorityCritical,
	taskmodel.PriorityHigh,
	taskmodel.PriorityMedium,
	taskmodel.PriorityLow,
}

func (q *Queue) dequeueFront() (taskmodel.Task, bool) {
	if len(q.items) == 0 {
		return taskmodel.Task{}, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	q.recordDequeue(e)
	return e.task, true
}

func (q *Queue) dequeuePriority() (taskmodel.Task, bool) {
	for _, p := range priorityOrder {
		bucket := q.buckets[p]
		if len(bucket) > 0 {
			e := bucket[0]
			q.buckets[p] = bucket[1:]
			q.recordDequeue(e)
			return e.task, true
		}
	}
	return taskmodel.Task{}, false
}

func (q *Queue) recordDequeue(e entry) {
	q.stats.Dequeues++
	q.stats.Count--
	q.waitTotal += q.now().Sub(e.enqueued)
}

func (q *Queue) insertSortedByDeadline(e entry) {
	d := effectiveDeadline(e.task)
	idx := sort.Search(len(q.items), func(i int) bool {
		return effectiveDeadline(q.items[i].task).After(d) || effectiveDeadline(q.items[i].task).Equal(d)
	})
	q.insertAt(idx, e)
}

func effectiveDeadline(t taskmodel.Task) time.Time {
	return t.EffectiveDeadline()
}

func (q *Queue) insertSortedByScore(e entry) {
	s := resourceScore(e.task)
	idx := sort.Search(len(q.items), func(i int) bool {
		return resourceScore(q.items[i].task) <= s
	})
	q.insertAt(idx, e)
}

// resourceScore implements priority_weight / (1 + sum of amounts): a
// smaller footprint, higher-priority task sorts to the front.
func resourceScore(t taskmodel.Task) float64 {
	sum := 0.0
	for _, r := range t.Resources {
		sum += r.Amount
	}
	return float64(t.Priority.Weight()) / (1 + sum)
}

func (q *Queue) insertAt(idx int, e entry) {
	q.items = append(q.items, entry{})
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = e
}
