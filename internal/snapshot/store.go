// Package snapshot implements the optional crash-recovery snapshot
// store: a bbolt-backed on-disk mirror of waiting/queued task state,
// keyed by task ID, that a process can reload from on restart instead
// of losing in-flight work. Values are JSON-encoded in a single
// bucket; Put and LoadAll record their write/read latency (Delete is
// not measured).
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/taskcore/internal/taskmodel"
)

var bucketTasks = []byte("tasks")

// Store is a durable mirror of a Scheduler's in-flight task state,
// written on every Put and read back wholesale by LoadAll (e.g. at
// process start).
type Store struct {
	db *bbolt.DB

	readLatency  metric.Float64Histogram
	writeLatency metric.Float64Histogram
}

// Open creates/opens a bbolt database at path and ensures the tasks
// bucket exists. meter may be nil.
func Open(path string, meter metric.Meter) (*Store, error) {
	opts := &bbolt.Options{Timeout: 1 * time.Second}
	db, err := bbolt.Open(path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open boltdb: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTasks)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot: create bucket: %w", err)
	}

	s := &Store{db: db}
	if meter != nil {
		s.readLatency, _ = meter.Float64Histogram("taskcore_snapshot_read_ms")
		s.writeLatency, _ = meter.Float64Histogram("taskcore_snapshot_write_ms")
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Put persists t under its own ID, overwriting any prior snapshot.
func (s *Store) Put(ctx context.Context, t taskmodel.Task) error {
	start := time.Now()
	defer s.record(ctx, s.writeLatency, "put", start)

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("snapshot: marshal task %s: %w", t.ID, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTasks).Put([]byte(t.ID), data)
	})
}

// Delete removes a task's snapshot, e.g. once it reaches a terminal
// status and no longer needs crash recovery.
func (s *Store) Delete(taskID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTasks).Delete([]byte(taskID))
	})
}

// LoadAll returns every persisted task snapshot, for use re-seeding a
// Scheduler's waiting/queued state after a restart.
func (s *Store) LoadAll(ctx context.Context) ([]taskmodel.Task, error) {
	start := time.Now()
	defer s.record(ctx, s.readLatency, "load_all", start)

	var out []taskmodel.Task
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.ForEach(func(k, v []byte) error {
			var t taskmodel.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("snapshot: unmarshal task %s: %w", k, err)
			}
			out = append(out, t)
			return nil
		})
	})
	return out, err
}

func (s *Store) record(ctx context.Context, h metric.Float64Histogram, op string, start time.Time) {
	if h == nil {
		return
	}
	h.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("operation", op)))
}
