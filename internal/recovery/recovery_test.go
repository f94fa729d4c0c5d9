package recovery

import (
	"testing"
	"time"

	"github.com/swarmguard/taskcore/internal/classifier"
	"github.com/swarmguard/taskcore/internal/taskmodel"
)

func TestExtendTimeoutDoublesAndCaps(t *testing.T) {
	m := New()
	task := taskmodel.New("noop", nil, taskmodel.PriorityMedium, 3*time.Minute)

	modified, ok := m.Recover(task, classifier.Classification{Category: classifier.CategoryTimeout})
	if !ok {
		t.Fatalf("expected timeout recovery applied")
	}
	if modified.Timeout != 5*time.Minute {
		t.Fatalf("expected timeout capped at 5m, got %v", modified.Timeout)
	}
	if modified.Metadata[taskmodel.MetaRecoveryApplied] != string(classifier.CategoryTimeout) {
		t.Fatalf("expected recovery_applied metadata set")
	}
}

func TestReduceResourcesScalesAmounts(t *testing.T) {
	m := New()
	task := taskmodel.New("noop", nil, taskmodel.PriorityMedium, time.Second)
	task.Resources = []taskmodel.ResourceRequest{{Kind: "cpu", Amount: 10}}

	modified, ok := m.Recover(task, classifier.Classification{Category: classifier.CategoryResource})
	if !ok {
		t.Fatalf("expected resource recovery applied")
	}
	if modified.Resources[0].Amount != 8 {
		t.Fatalf("expected amount scaled by 0.8, got %v", modified.Resources[0].Amount)
	}
}

func TestUnknownCategoryFailsRecovery(t *testing.T) {
	m := New()
	task := taskmodel.New("noop", nil, taskmodel.PriorityMedium, time.Second)

	_, ok := m.Recover(task, classifier.Classification{Category: classifier.CategoryPermanent})
	if ok {
		t.Fatalf("expected no recovery strategy registered for permanent category")
	}
	stats := m.StatsSnapshot()
	if stats.FailedRecoveries != 1 {
		t.Fatalf("expected 1 failed recovery recorded, got %d", stats.FailedRecoveries)
	}
}

func TestRegisterCustomStrategyOverrides(t *testing.T) {
	m := New()
	called := false
	m.Register(classifier.CategoryPermanent, func(t taskmodel.Task, c classifier.Classification) (taskmodel.Task, bool) {
		called = true
		return t, true
	})
	task := taskmodel.New("noop", nil, taskmodel.PriorityMedium, time.Second)
	_, ok := m.Recover(task, classifier.Classification{Category: classifier.CategoryPermanent})
	if !ok || !called {
		t.Fatalf("expected custom strategy to run and succeed")
	}
}
