package scheduler

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/swarmguard/taskcore/internal/taskmodel"
)

// RecurringSpec describes one cron-triggered task submission, the
// recurring counterpart to a one-shot Schedule call.
type RecurringSpec struct {
	Name     string
	CronExpr string // e.g. "0 */5 * * * *" (seconds precision, per robfig/cron.WithSeconds)
	Work     taskmodel.WorkRef
	Args     []any
	Opts     SubmitOptions
}

// CronRunner wraps robfig/cron around a Scheduler, submitting a fresh
// task on every fire of a registered RecurringSpec. Each fire goes
// through Scheduler.Schedule like any one-shot submission, so
// recurring tasks share the same dependency, resource, and retry
// handling.
type CronRunner struct {
	mu      sync.Mutex
	cron    *cron.Cron
	sched   *Scheduler
	entries map[string]cron.EntryID // spec name -> cron entry
	specs   map[string]RecurringSpec
}

// NewCronRunner builds a CronRunner bound to sched. It does not start
// the underlying cron loop until Start is called.
func NewCronRunner(sched *Scheduler) *CronRunner {
	return &CronRunner{
		cron:    cron.New(cron.WithSeconds()),
		sched:   sched,
		entries: make(map[string]cron.EntryID),
		specs:   make(map[string]RecurringSpec),
	}
}

// Start begins the cron loop in its own goroutine (robfig/cron manages
// that internally).
func (c *CronRunner) Start() { c.cron.Start() }

// Stop ends the cron loop, blocking until in-flight fires finish.
func (c *CronRunner) Stop() { <-c.cron.Stop().Done() }

// ScheduleRecurring registers spec so every fire of spec.CronExpr
// submits a new task into the Scheduler via Schedule. Re-registering
// the same Name replaces the prior schedule.
func (c *CronRunner) ScheduleRecurring(spec RecurringSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if spec.Name == "" {
		return fmt.Errorf("scheduler: recurring spec requires a name")
	}
	if prev, ok := c.entries[spec.Name]; ok {
		c.cron.Remove(prev)
	}

	entryID, err := c.cron.AddFunc(spec.CronExpr, func() {
		if _, err := c.sched.Schedule(spec.Work, spec.Args, spec.Opts); err != nil {
			slog.Warn("recurring task submission failed", "schedule", spec.Name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler: add cron schedule %q: %w", spec.Name, err)
	}

	c.entries[spec.Name] = entryID
	c.specs[spec.Name] = spec
	slog.Info("recurring schedule registered", "schedule", spec.Name, "cron", spec.CronExpr)
	return nil
}

// RemoveRecurring cancels a previously registered schedule by name.
func (c *CronRunner) RemoveRecurring(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.entries[name]; ok {
		c.cron.Remove(id)
		delete(c.entries, name)
		delete(c.specs, name)
	}
}

// ListRecurring returns every currently registered schedule.
func (c *CronRunner) ListRecurring() []RecurringSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RecurringSpec, 0, len(c.specs))
	for _, s := range c.specs {
		out = append(out, s)
	}
	return out
}
