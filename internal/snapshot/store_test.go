package snapshot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/swarmguard/taskcore/internal/taskmodel"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "snapshot.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndLoadAllRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := taskmodel.New(taskmodel.WorkRef("http"), []any{"GET", "http://x"}, taskmodel.PriorityHigh, time.Second)
	if err := s.Put(ctx, task); err != nil {
		t.Fatalf("Put: %v", err)
	}

	loaded, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != task.ID {
		t.Fatalf("expected exactly the persisted task back, got %+v", loaded)
	}
}

func TestPutOverwritesPriorSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := taskmodel.New(taskmodel.WorkRef("http"), nil, taskmodel.PriorityLow, time.Second)
	_ = s.Put(ctx, task)
	task.Status = taskmodel.StatusRunning
	_ = s.Put(ctx, task)

	loaded, _ := s.LoadAll(ctx)
	if len(loaded) != 1 || loaded[0].Status != taskmodel.StatusRunning {
		t.Fatalf("expected overwritten snapshot with updated status, got %+v", loaded)
	}
}

func TestDeleteRemovesSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := taskmodel.New(taskmodel.WorkRef("shell"), nil, taskmodel.PriorityMedium, time.Second)
	_ = s.Put(ctx, task)
	if err := s.Delete(task.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	loaded, _ := s.LoadAll(ctx)
	if len(loaded) != 0 {
		t.Fatalf("expected no snapshots after delete, got %+v", loaded)
	}
}
