package alerting

import (
	"testing"
	"time"

	"github.com/swarmguard/taskcore/internal/metrics"
)

type fakeNotifier struct {
	events []struct {
		name      string
		triggered bool
	}
}

func (f *fakeNotifier) NotifyAlert(name string, triggered bool, data map[string]any) {
	f.events = append(f.events, struct {
		name      string
		triggered bool
	}{name, triggered})
}

func TestAlertFiresAfterForDurationAndResolves(t *testing.T) {
	col := metrics.New()
	notifier := &fakeNotifier{}
	m := New(col, notifier)

	clock := time.Unix(1000, 0)
	m.now = func() time.Time { return clock }

	m.AddRule(Rule{
		Name:      "queue-depth-high",
		Metric:    "queue_depth",
		Condition: Above,
		Threshold: 100,
		For:       30 * time.Second,
	})

	col.SetGauge("queue_depth", 150, nil)

	// First breach observation starts the clock but must not fire yet.
	m.EvaluateOnce()
	if len(notifier.events) != 0 {
		t.Fatalf("alert fired before For elapsed")
	}

	clock = clock.Add(31 * time.Second)
	m.EvaluateOnce()
	if len(notifier.events) != 1 || !notifier.events[0].triggered {
		t.Fatalf("expected one triggered event, got %+v", notifier.events)
	}
	if got := m.Active(); len(got) != 1 || got[0] != "queue-depth-high" {
		t.Fatalf("expected active alert, got %v", got)
	}

	// A firing alert does not re-trigger while still breached.
	clock = clock.Add(time.Minute)
	m.EvaluateOnce()
	if len(notifier.events) != 1 {
		t.Fatalf("alert re-triggered while active: %+v", notifier.events)
	}

	col.SetGauge("queue_depth", 10, nil)
	m.EvaluateOnce()
	if len(notifier.events) != 2 || notifier.events[1].triggered {
		t.Fatalf("expected resolve event, got %+v", notifier.events)
	}
	if got := m.Active(); len(got) != 0 {
		t.Fatalf("expected no active alerts, got %v", got)
	}
}

func TestBreachMustBeContinuous(t *testing.T) {
	col := metrics.New()
	notifier := &fakeNotifier{}
	m := New(col, notifier)

	clock := time.Unix(2000, 0)
	m.now = func() time.Time { return clock }

	m.AddRule(Rule{
		Name:      "failures-high",
		Metric:    "failures",
		Condition: Above,
		Threshold: 5,
		For:       time.Minute,
	})

	col.SetGauge("failures", 9, nil)
	m.EvaluateOnce()

	// Recovery mid-window resets the continuity clock.
	clock = clock.Add(30 * time.Second)
	col.SetGauge("failures", 1, nil)
	m.EvaluateOnce()

	clock = clock.Add(time.Second)
	col.SetGauge("failures", 9, nil)
	m.EvaluateOnce()
	clock = clock.Add(45 * time.Second)
	m.EvaluateOnce()

	if len(notifier.events) != 0 {
		t.Fatalf("alert fired on a non-continuous breach: %+v", notifier.events)
	}
}

func TestRemoveRuleResolvesActiveAlert(t *testing.T) {
	col := metrics.New()
	notifier := &fakeNotifier{}
	m := New(col, notifier)

	clock := time.Unix(3000, 0)
	m.now = func() time.Time { return clock }

	m.AddRule(Rule{Name: "instant", Metric: "g", Condition: Above, Threshold: 0})
	col.SetGauge("g", 1, nil)
	m.EvaluateOnce()
	if len(notifier.events) != 1 {
		t.Fatalf("expected immediate trigger with zero For, got %+v", notifier.events)
	}

	m.RemoveRule("instant")
	if len(notifier.events) != 2 || notifier.events[1].triggered {
		t.Fatalf("expected resolve on rule removal, got %+v", notifier.events)
	}
}

func TestBelowConditionAndMissingSeries(t *testing.T) {
	col := metrics.New()
	notifier := &fakeNotifier{}
	m := New(col, notifier)
	m.now = func() time.Time { return time.Unix(4000, 0) }

	m.AddRule(Rule{Name: "throughput-low", Metric: "throughput", Condition: Below, Threshold: 10})

	// Unobserved series: no data, no decision.
	m.EvaluateOnce()
	if len(notifier.events) != 0 {
		t.Fatalf("alert decided on missing series: %+v", notifier.events)
	}

	col.SetGauge("throughput", 3, nil)
	m.EvaluateOnce()
	if len(notifier.events) != 1 || !notifier.events[0].triggered {
		t.Fatalf("expected Below trigger, got %+v", notifier.events)
	}
}
