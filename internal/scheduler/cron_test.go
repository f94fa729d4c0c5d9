package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/swarmguard/taskcore/internal/executor"
	"github.com/swarmguard/taskcore/internal/resourcemgr"
	"github.com/swarmguard/taskcore/internal/taskmodel"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	reg := executor.NewRegistry()
	reg.Register("noop", noopHandler{})
	pool := resourcemgr.NewManager(map[string]float64{"cpu": 8}, resourcemgr.StrategyFirstFit)
	s := New("test", pool, reg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)
	return s
}

type noopHandler struct{}

func (noopHandler) Invoke(ctx context.Context, args []any) (any, error) { return nil, nil }
func (noopHandler) Supports(feature string) bool                       { return false }

func TestScheduleRecurringSubmitsOnFire(t *testing.T) {
	s := newTestScheduler(t)
	runner := NewCronRunner(s)
	runner.Start()
	defer runner.Stop()

	err := runner.ScheduleRecurring(RecurringSpec{
		Name:     "heartbeat",
		CronExpr: "* * * * * *",
		Work:     taskmodel.WorkRef("noop"),
		Opts:     SubmitOptions{Priority: taskmodel.PriorityMedium, Timeout: time.Second},
	})
	if err != nil {
		t.Fatalf("ScheduleRecurring: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.Metrics().Scheduled > 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("expected at least one recurring submission within 3s, got %+v", s.Metrics())
}

func TestScheduleRecurringReplacesOnSameName(t *testing.T) {
	s := newTestScheduler(t)
	runner := NewCronRunner(s)

	spec := RecurringSpec{Name: "daily", CronExpr: "0 0 0 * * *", Work: taskmodel.WorkRef("noop"), Opts: SubmitOptions{Priority: taskmodel.PriorityLow, Timeout: time.Second}}
	if err := runner.ScheduleRecurring(spec); err != nil {
		t.Fatalf("first ScheduleRecurring: %v", err)
	}
	if err := runner.ScheduleRecurring(spec); err != nil {
		t.Fatalf("second ScheduleRecurring: %v", err)
	}
	if len(runner.ListRecurring()) != 1 {
		t.Fatalf("expected re-registering the same name to replace, got %d entries", len(runner.ListRecurring()))
	}
}

func TestRemoveRecurring(t *testing.T) {
	s := newTestScheduler(t)
	runner := NewCronRunner(s)
	_ = runner.ScheduleRecurring(RecurringSpec{Name: "x", CronExpr: "0 0 0 * * *", Work: taskmodel.WorkRef("noop"), Opts: SubmitOptions{Priority: taskmodel.PriorityLow, Timeout: time.Second}})
	runner.RemoveRecurring("x")
	if len(runner.ListRecurring()) != 0 {
		t.Fatalf("expected schedule removed")
	}
}
