// Package scheduler implements the actor that accepts tasks and
// coordinates the dependency resolver, task queue, resource manager,
// and resilience layer to drive tasks through execution under a
// concurrency cap. Recurring submissions layer on top via CronRunner
// (cron.go).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/taskcore/internal/admission"
	"github.com/swarmguard/taskcore/internal/circuitbreaker"
	"github.com/swarmguard/taskcore/internal/classifier"
	"github.com/swarmguard/taskcore/internal/depresolver"
	"github.com/swarmguard/taskcore/internal/executor"
	"github.com/swarmguard/taskcore/internal/recovery"
	"github.com/swarmguard/taskcore/internal/resourcemgr"
	"github.com/swarmguard/taskcore/internal/retrypolicy"
	"github.com/swarmguard/taskcore/internal/taskerr"
	"github.com/swarmguard/taskcore/internal/taskmodel"
	"github.com/swarmguard/taskcore/internal/taskqueue"
)

// Config holds the Scheduler's tunables, mutable at runtime via
// UpdateConfig.
type Config struct {
	MaxConcurrent  int
	TickInterval   time.Duration
	QueueCeiling   int // 0 = unbounded
	ForcedStopGrace time.Duration
}

// DefaultConfig returns the stock tunables: ten concurrent tasks,
// 100ms drain cadence, unbounded queue, one-second forced-stop grace.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:   10,
		TickInterval:    100 * time.Millisecond,
		QueueCeiling:    0,
		ForcedStopGrace: time.Second,
	}
}

// SubmitOptions carries everything a caller can attach to a submission.
type SubmitOptions struct {
	Priority     taskmodel.Priority
	Timeout      time.Duration
	Deadline     time.Time
	Dependencies []string
	Resources    []taskmodel.ResourceRequest
	Retry        *taskmodel.RetryPolicy
	Metadata     map[string]any
}

type runningEntry struct {
	task   taskmodel.Task
	alloc  *resourcemgr.Allocation
	exec   *executor.Executor
	cancel func()
}

// Scheduler is the single-threaded actor owning task lifecycle state.
// Every field below except admitter is touched only from the actor
// goroutine started by Run; external callers interact through the
// exported methods, which marshal a closure onto cmdCh. admitter is
// read by Schedule on the caller's goroutine (see SetAdmissionLimiter).
type Scheduler struct {
	name string
	now  func() time.Time

	cfg      Config
	queue    *taskqueue.Queue
	resolver *depresolver.Resolver
	pool     *resourcemgr.Manager
	breakers *circuitbreaker.Registry
	recover  *recovery.Manager
	handlers *executor.Registry
	admitter *admission.Limiter // optional submission-rate governor; nil disables it

	waitingTasks map[string]taskmodel.Task // parked on dependencies
	running      map[string]*runningEntry
	completed    map[string]taskmodel.Task
	failed       map[string]taskmodel.Task
	cancelled    map[string]taskmodel.Task

	metrics metricsCounters

	subscribers []chan Event

	cmdCh    chan func()
	outcomeCh chan taskOutcome
	stopCh   chan struct{}
}

type metricsCounters struct {
	scheduled, started, completedN, failedN, cancelledN, retried int64
}

type taskOutcome struct {
	taskID string
	attempt int
	outcome executor.Outcome
}

// New constructs a Scheduler. pool and handlers must be supplied by
// the caller (wiring lives in cmd/taskengined); the queue, resolver,
// breaker registry and recovery manager are always built here with
// their defaults.
func New(name string, pool *resourcemgr.Manager, handlers *executor.Registry, meter metric.Meter) *Scheduler {
	s := &Scheduler{
		name:         name,
		now:          time.Now,
		cfg:          DefaultConfig(),
		queue:        taskqueue.New(taskqueue.StrategyPriority),
		resolver:     depresolver.New(),
		pool:         pool,
		breakers:     circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), meter),
		recover:      recovery.New(),
		handlers:     handlers,
		waitingTasks: make(map[string]taskmodel.Task),
		running:      make(map[string]*runningEntry),
		completed:    make(map[string]taskmodel.Task),
		failed:       make(map[string]taskmodel.Task),
		cancelled:    make(map[string]taskmodel.Task),
		cmdCh:        make(chan func(), 64),
		outcomeCh:    make(chan taskOutcome, 64),
		stopCh:       make(chan struct{}),
	}
	// Breaker transitions only ever fire from Allow/RecordSuccess/
	// RecordFailure calls made on the actor goroutine, so emitting
	// directly from the hook stays within the actor's serialization.
	s.breakers.SetTransitionHook(func(op string, from, to circuitbreaker.State) {
		switch to {
		case circuitbreaker.StateOpen:
			s.emit(EventCircuitOpened, map[string]any{"operation": op, "from": string(from)})
		case circuitbreaker.StateClosed:
			s.emit(EventCircuitClosed, map[string]any{"operation": op, "from": string(from)})
		}
	})
	return s
}

// NotifyAlert publishes an alert_triggered or alert_resolved event on
// the scheduler's event stream on behalf of an alerting evaluator.
func (s *Scheduler) NotifyAlert(name string, triggered bool, data map[string]any) {
	typ := EventAlertResolved
	if triggered {
		typ = EventAlertTriggered
	}
	if data == nil {
		data = map[string]any{}
	}
	data["alert"] = name
	s.do(func() { s.emit(typ, data) })
}

// Run is the actor loop; call it in its own goroutine. It returns when
// ctx is canceled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.cfg.TickInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case fn := <-s.cmdCh:
			fn()
			if s.cfg.TickInterval != interval {
				interval = s.cfg.TickInterval
				ticker.Reset(interval)
			}
		case o := <-s.outcomeCh:
			s.handleOutcome(o)
		case <-ticker.C:
			s.schedulePass()
		}
	}
}

// Stop ends the actor loop.
func (s *Scheduler) Stop() { close(s.stopCh) }

// do runs fn on the actor goroutine and blocks for its completion.
func (s *Scheduler) do(fn func()) {
	done := make(chan struct{})
	s.cmdCh <- func() { fn(); close(done) }
	<-done
}

// Schedule submits a task. Returns the new
// task's id, or a tagged taskerr on validation/cycle/capacity failure.
func (s *Scheduler) Schedule(work taskmodel.WorkRef, args []any, opts SubmitOptions) (string, error) {
	if err := validate(work, opts); err != nil {
		return "", err
	}
	if s.admitter != nil && !s.admitter.Allow() {
		return "", taskerr.ErrQueueFull
	}

	t := taskmodel.New(work, args, opts.Priority, opts.Timeout)
	if !opts.Deadline.IsZero() {
		t.Deadline = opts.Deadline
	}
	t.Dependencies = append([]string(nil), opts.Dependencies...)
	t.Resources = append([]taskmodel.ResourceRequest(nil), opts.Resources...)
	if opts.Retry != nil {
		t.Retry = *opts.Retry
	}
	for k, v := range opts.Metadata {
		t.Metadata[k] = v
	}

	var id string
	var subErr error
	s.do(func() {
		if s.cfg.QueueCeiling > 0 && s.queue.Size() >= s.cfg.QueueCeiling {
			subErr = taskerr.ErrQueueFull
			return
		}
		if err := s.resolver.Submit(t.ID, t.Dependencies); err != nil {
			subErr = err
			return
		}
		id = t.ID
		if s.resolver.Ready(t.ID) {
			t.Status = taskmodel.StatusReady
			s.queue.Enqueue(t)
		} else {
			t.Status = taskmodel.StatusPending
			s.waitingTasks[t.ID] = t
			s.emit(EventTaskWaitingDependencies, map[string]any{"task_id": t.ID})
		}
		s.metrics.scheduled++
		s.emit(EventTaskScheduled, map[string]any{"task_id": t.ID})
		// Dispatch is deferred to the next tick rather than run inline:
		// submissions landing within the same tick window compete in
		// the queue, so a later higher-priority task can win a
		// contended slot over an earlier low-priority one.
	})
	if subErr != nil {
		return "", subErr
	}
	return id, nil
}

func validate(work taskmodel.WorkRef, opts SubmitOptions) error {
	if work == "" {
		return fmt.Errorf("%w: empty work reference", taskerr.ErrInvalidTask)
	}
	if opts.Timeout <= 0 {
		return taskerr.ErrInvalidTimeout
	}
	if !opts.Priority.Valid() {
		return fmt.Errorf("%w: invalid priority %q", taskerr.ErrInvalidArgs, opts.Priority)
	}
	return nil
}

// schedulePass drains up to available_slots tasks from the queue,
// requesting an allocation for each.
func (s *Scheduler) schedulePass() {
	slots := s.cfg.MaxConcurrent - len(s.running)
	if slots <= 0 {
		return
	}
	candidates := s.queue.DequeueN(slots)
	for _, t := range candidates {
		s.startTask(t)
	}
}

func (s *Scheduler) startTask(t taskmodel.Task) {
	op := string(t.Work)
	if err := s.breakers.Allow(op); err != nil {
		s.handleStartFailure(t, err)
		return
	}

	alloc, err := s.pool.Allocate(t.ID, t.Resources)
	if err != nil {
		// Resource contention is not an execution failure of op, so the
		// breaker's failure stream is untouched here.
		s.handleStartFailure(t, err)
		return
	}

	t.Status = taskmodel.StatusRunning
	t.StartedAt = s.now()
	exec := executor.New(s.handlers)
	exec.SetGrace(s.cfg.ForcedStopGrace)
	ctx, cancel := context.WithCancel(context.Background())
	s.running[t.ID] = &runningEntry{task: t, alloc: alloc, exec: exec, cancel: cancel}
	s.metrics.started++
	s.emit(EventTaskStarted, map[string]any{"task_id": t.ID})

	attempt := t.RetryAttempt()
	go func() {
		outcome := exec.Run(ctx, string(t.Work), t.Args, effectiveTimeout(t))
		s.outcomeCh <- taskOutcome{taskID: t.ID, attempt: attempt, outcome: outcome}
	}()
}

func effectiveTimeout(t taskmodel.Task) time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return time.Until(t.EffectiveDeadline())
}

// handleStartFailure handles a task rejected at schedule-pass time. A
// tripped breaker fails the task immediately with the breaker error;
// an allocation rejection just puts the task back in the queue to wait
// for the pool to free up — waiting on a busy resource is not an
// execution attempt and never consumes retry budget.
func (s *Scheduler) handleStartFailure(t taskmodel.Task, cause error) {
	s.emit(EventTaskStartFailed, map[string]any{"task_id": t.ID, "error": cause.Error()})
	var cbErr *taskerr.CircuitBreakerOpenError
	if errors.As(cause, &cbErr) {
		s.finalizeFailed(t, cause)
		return
	}
	t.Status = taskmodel.StatusReady
	s.queue.Enqueue(t)
}

// handleOutcome processes a completion or failure reported by a
// running Executor. Runs on the actor goroutine (consumed from
// outcomeCh in Run's select), so it mutates state directly.
func (s *Scheduler) handleOutcome(o taskOutcome) {
	entry, ok := s.running[o.taskID]
	if !ok {
		return // already canceled and removed
	}
	delete(s.running, o.taskID)
	s.pool.Release(entry.alloc.ID)

	op := string(entry.task.Work)
	t := entry.task

	if o.outcome.Err == nil {
		s.breakers.RecordSuccess(op)
		t.Status = taskmodel.StatusCompleted
		t.CompletedAt = s.now()
		t.Result = o.outcome.Result
		s.completed[t.ID] = t
		s.metrics.completedN++
		s.emit(EventTaskCompleted, map[string]any{"task_id": t.ID})
		s.onDependencySatisfied(t.ID)
		s.schedulePass()
		return
	}

	if o.outcome.Canceled {
		t.Status = taskmodel.StatusCancelled
		s.cancelled[t.ID] = t
		s.metrics.cancelledN++
		s.emit(EventTaskCancelled, map[string]any{"task_id": t.ID})
		s.resolver.Remove(t.ID)
		s.schedulePass()
		return
	}

	s.breakers.RecordFailure(op)
	s.handleFailure(t, o.outcome.Err)
}

// handleFailure applies the resilience propagation order: classify,
// then retry via the recovery manager, or fail terminally.
func (s *Scheduler) handleFailure(t taskmodel.Task, cause error) {
	t.AppendError(cause.Error())
	c := classifier.Classify(cause)

	attempt := t.RetryAttempt() + 1
	t.SetRetryAttempt(attempt)

	if !retrypolicy.ShouldRetry(attempt, t.Retry, c) {
		s.finalizeFailed(t, cause)
		return
	}

	modified, applied := s.recover.Recover(t, c)
	if !applied {
		s.finalizeFailed(t, cause)
		return
	}

	delay := retrypolicy.DelayWithCategory(attempt, modified.Retry, c.RetryCategory(), nil)
	modified.SetRetryDelay(delay)
	s.metrics.retried++
	s.emit(EventTaskRetried, map[string]any{"task_id": t.ID, "attempt": attempt, "delay_ms": delay.Milliseconds()})

	time.AfterFunc(delay, func() {
		s.do(func() {
			modified.Status = taskmodel.StatusReady
			s.queue.Enqueue(modified)
			s.schedulePass()
		})
	})
}

func (s *Scheduler) finalizeFailed(t taskmodel.Task, cause error) {
	t.Status = taskmodel.StatusFailed
	t.FailedAt = s.now()
	t.Err = cause
	s.failed[t.ID] = t
	s.metrics.failedN++
	s.emit(EventTaskFailed, map[string]any{"task_id": t.ID, "error": cause.Error()})
	// Dependents of a terminally-failed task never become ready; they
	// stay parked, so no resolver notification happens here.
}

func (s *Scheduler) onDependencySatisfied(id string) {
	ready := s.resolver.MarkCompleted(id)
	if len(ready) == 0 {
		return
	}
	s.emit(EventDependenciesSatisfied, map[string]any{"task_id": id, "ready": ready})
	for _, rid := range ready {
		if waiting, ok := s.waitingTasks[rid]; ok {
			delete(s.waitingTasks, rid)
			waiting.Status = taskmodel.StatusReady
			s.queue.Enqueue(waiting)
		}
	}
}

// Cancel removes a task from whichever state currently holds it:
// running tasks get their executor signaled, queued tasks are pulled
// from the queue, waiting tasks from the resolver.
func (s *Scheduler) Cancel(id string) error {
	var outErr error
	s.do(func() {
		if entry, ok := s.running[id]; ok {
			entry.cancel()
			return // outcome delivered asynchronously by handleOutcome
		}
		if s.queue.Remove(id) {
			s.metrics.cancelledN++
			s.emit(EventTaskCancelled, map[string]any{"task_id": id})
			s.resolver.Remove(id)
			return
		}
		if waiting, ok := s.waitingTasks[id]; ok {
			delete(s.waitingTasks, id)
			s.resolver.Remove(id)
			waiting.Status = taskmodel.StatusCancelled
			s.cancelled[id] = waiting
			s.metrics.cancelledN++
			s.emit(EventTaskCancelled, map[string]any{"task_id": id})
			return
		}
		outErr = taskerr.ErrTaskNotFound
	})
	return outErr
}

// Pause signals a running task's Executor to suspend cooperatively;
// the task remains counted against max_concurrent while paused.
func (s *Scheduler) Pause(id string) error {
	var outErr error
	s.do(func() {
		entry, ok := s.running[id]
		if !ok {
			outErr = taskerr.ErrTaskNotFound
			return
		}
		entry.exec.Pause()
		entry.task.Status = taskmodel.StatusPaused
		s.emit(EventTaskPaused, map[string]any{"task_id": id})
	})
	return outErr
}

// Resume reverses Pause.
func (s *Scheduler) Resume(id string) error {
	var outErr error
	s.do(func() {
		entry, ok := s.running[id]
		if !ok {
			outErr = taskerr.ErrTaskNotFound
			return
		}
		entry.exec.Resume()
		entry.task.Status = taskmodel.StatusRunning
		s.emit(EventTaskResumed, map[string]any{"task_id": id})
	})
	return outErr
}

// Status returns the current status of a task, wherever it lives.
func (s *Scheduler) Status(id string) (taskmodel.Task, bool) {
	var t taskmodel.Task
	var found bool
	s.do(func() {
		if e, ok := s.running[id]; ok {
			t, found = e.task, true
			return
		}
		if task, ok := s.completed[id]; ok {
			t, found = task, true
			return
		}
		if task, ok := s.failed[id]; ok {
			t, found = task, true
			return
		}
		if task, ok := s.cancelled[id]; ok {
			t, found = task, true
			return
		}
		if task, ok := s.waitingTasks[id]; ok {
			t, found = task, true
			return
		}
		for _, task := range s.queue.List() {
			if task.ID == id {
				t, found = task, true
				return
			}
		}
	})
	return t, found
}

// ListFilter narrows List() to tasks in the given statuses; nil/empty
// means no filtering.
type ListFilter struct {
	Statuses []taskmodel.Status
}

// List returns a snapshot of every known task matching filter.
func (s *Scheduler) List(filter ListFilter) []taskmodel.Task {
	allowed := make(map[taskmodel.Status]bool, len(filter.Statuses))
	for _, st := range filter.Statuses {
		allowed[st] = true
	}
	match := func(st taskmodel.Status) bool { return len(allowed) == 0 || allowed[st] }

	var out []taskmodel.Task
	s.do(func() {
		for _, e := range s.running {
			if match(e.task.Status) {
				out = append(out, e.task)
			}
		}
		for _, t := range s.waitingTasks {
			if match(t.Status) {
				out = append(out, t)
			}
		}
		for _, t := range s.queue.List() {
			if match(t.Status) {
				out = append(out, t)
			}
		}
		for _, t := range s.completed {
			if match(t.Status) {
				out = append(out, t)
			}
		}
		for _, t := range s.failed {
			if match(t.Status) {
				out = append(out, t)
			}
		}
		for _, t := range s.cancelled {
			if match(t.Status) {
				out = append(out, t)
			}
		}
	})
	return out
}

// MetricsSnapshot is the scheduler's own counters, separate from the
// general-purpose internal/metrics collector.
type MetricsSnapshot struct {
	Scheduled, Started, Completed, Failed, Cancelled, Retried int64
	Running, Queued, Waiting                                  int
}

func (s *Scheduler) Metrics() MetricsSnapshot {
	var m MetricsSnapshot
	s.do(func() {
		m = MetricsSnapshot{
			Scheduled: s.metrics.scheduled,
			Started:   s.metrics.started,
			Completed: s.metrics.completedN,
			Failed:    s.metrics.failedN,
			Cancelled: s.metrics.cancelledN,
			Retried:   s.metrics.retried,
			Running:   len(s.running),
			Queued:    s.queue.Size(),
			Waiting:   len(s.waitingTasks),
		}
	})
	return m
}

// UpdateConfig applies a partial config change; zero-valued fields in
// patch are ignored so callers can change one knob at a time.
func (s *Scheduler) UpdateConfig(patch Config) {
	s.do(func() {
		if patch.MaxConcurrent > 0 {
			s.cfg.MaxConcurrent = patch.MaxConcurrent
		}
		if patch.TickInterval > 0 {
			s.cfg.TickInterval = patch.TickInterval
		}
		if patch.QueueCeiling != 0 {
			s.cfg.QueueCeiling = patch.QueueCeiling
		}
		if patch.ForcedStopGrace > 0 {
			s.cfg.ForcedStopGrace = patch.ForcedStopGrace
		}
	})
}

// SetStrategy changes the active task queue strategy, draining and
// re-enqueuing every queued task under the new order.
func (s *Scheduler) SetStrategy(strategy taskqueue.Strategy) {
	s.do(func() {
		s.queue.ChangeStrategy(strategy)
	})
}

// SetAdmissionLimiter installs an optional submission-rate governor in
// front of Schedule; pass nil to disable admission control entirely
// (the default). Call during wiring, before traffic starts — Schedule
// reads the limiter outside the actor's command channel since rate
// limiting must reject before any actor work is scheduled.
func (s *Scheduler) SetAdmissionLimiter(l *admission.Limiter) {
	s.admitter = l
}
