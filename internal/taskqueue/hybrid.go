package taskqueue

import (
	"hash/fnv"

	"github.com/swarmguard/taskcore/internal/taskmodel"
)

// insertMLOptimized is the ml_optimized strategy's predictor hook: in
// the absence of a real model, insertion position is a stable
// pseudo-random function of the task id, not actual randomness, so
// re-running the same task set produces the same order every time.
// Replacing this with a real predictor means swapping this one
// function; nothing else in the queue depends on its internals.
func (q *Queue) insertMLOptimized(e entry) {
	if len(q.items) == 0 {
		q.items = append(q.items, e)
		return
	}
	h := fnv1a(e.task.ID)
	idx := int(h % uint64(len(q.items)+1))
	q.insertAt(idx, e)
}

func fnv1a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// enqueueHybrid routes an incoming task to the sub-queue whose
// weighted score currently dominates. Each sub-queue is
// a plain slice scored the same way its standalone strategy would
// score it; the "dominant" sub-queue is the one with the highest
// configured weight. Sub-queues have no capacity limit, and routing
// does not depend on the task or on how full each sub-queue is.
func (q *Queue) enqueueHybrid(e entry) {
	if q.hybridSubs == nil {
		q.hybridSubs = map[Strategy][]entry{}
	}
	dominant := q.dominantSubStrategy()
	q.hybridSubs[dominant] = append(q.hybridSubs[dominant], e)
}

// dominantSubStrategy picks the highest-weighted sub-strategy. Ties
// break in the dequeue-order {deadline, priority, resource_aware,
// ml_optimized} so routing stays deterministic.
func (q *Queue) dominantSubStrategy() Strategy {
	order := []struct {
		s Strategy
		w float64
	}{
		{StrategyDeadline, q.hybridWeights.Deadline},
		{StrategyPriority, q.hybridWeights.Priority},
		{StrategyResourceAware, q.hybridWeights.ResourceAware},
		{StrategyMLOptimized, q.hybridWeights.MLOptimized},
	}
	best := order[0]
	for _, o := range order[1:] {
		if o.w > best.w {
			best = o
		}
	}
	return best.s
}

func (q *Queue) dequeueHybrid() (taskmodel.Task, bool) {
	for _, s := range []Strategy{StrategyDeadline, StrategyPriority, StrategyResourceAware, StrategyMLOptimized} {
		bucket := q.hybridSubs[s]
		if len(bucket) == 0 {
			continue
		}
		idx := hybridPickIndex(s, bucket)
		e := bucket[idx]
		q.hybridSubs[s] = append(bucket[:idx], bucket[idx+1:]...)
		q.recordDequeue(e)
		return e.task, true
	}
	return taskmodel.Task{}, false
}

func (q *Queue) peekHybrid() (taskmodel.Task, bool) {
	for _, s := range []Strategy{StrategyDeadline, StrategyPriority, StrategyResourceAware, StrategyMLOptimized} {
		bucket := q.hybridSubs[s]
		if len(bucket) == 0 {
			continue
		}
		idx := hybridPickIndex(s, bucket)
		return bucket[idx].task, true
	}
	return taskmodel.Task{}, false
}

// hybridPickIndex finds the best entry within a hybrid sub-bucket
// according to that sub-strategy's own ordering rule, without
// maintaining a second sorted copy of the data.
func hybridPickIndex(s Strategy, bucket []entry) int {
	best := 0
	for i := 1; i < len(bucket); i++ {
		switch s {
		case StrategyDeadline:
			if effectiveDeadline(bucket[i].task).Before(effectiveDeadline(bucket[best].task)) {
				best = i
			}
		case StrategyPriority:
			if bucket[i].task.Priority.Weight() > bucket[best].task.Priority.Weight() {
				best = i
			}
		case StrategyResourceAware:
			if resourceScore(bucket[i].task) > resourceScore(bucket[best].task) {
				best = i
			}
		case StrategyMLOptimized:
			if fnv1a(bucket[i].task.ID) < fnv1a(bucket[best].task.ID) {
				best = i
			}
		}
	}
	return best
}
