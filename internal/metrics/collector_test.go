package metrics

import (
	"testing"
	"time"
)

func TestCounterAccumulates(t *testing.T) {
	c := New()
	c.IncCounter("tasks.scheduled", 1, nil)
	c.IncCounter("tasks.scheduled", 2, nil)

	snap, ok := c.SnapshotOf("tasks.scheduled", nil)
	if !ok || snap.Value != 3 {
		t.Fatalf("expected counter sum 3, got %+v ok=%v", snap, ok)
	}
}

func TestGaugeRecordsLastValue(t *testing.T) {
	c := New()
	c.SetGauge("queue.depth", 5, nil)
	c.SetGauge("queue.depth", 9, nil)

	snap, _ := c.SnapshotOf("queue.depth", nil)
	if snap.Value != 9 {
		t.Fatalf("expected last gauge value 9, got %v", snap.Value)
	}
}

func TestHistogramPercentiles(t *testing.T) {
	c := New()
	for i := 1; i <= 100; i++ {
		c.RecordHistogram("latency", float64(i), nil)
	}
	snap, _ := c.SnapshotOf("latency", nil)
	if snap.Count != 100 {
		t.Fatalf("expected 100 samples, got %d", snap.Count)
	}
	if snap.P50 < 49 || snap.P50 > 51 {
		t.Fatalf("expected p50 near 50, got %v", snap.P50)
	}
	if snap.P99 < 98 {
		t.Fatalf("expected p99 near 99, got %v", snap.P99)
	}
}

func TestTimerRecordsElapsedMillis(t *testing.T) {
	c := New()
	id := c.StartTimer("op.duration", map[string]string{"op": "http"})
	time.Sleep(5 * time.Millisecond)
	elapsed := c.StopTimer(id)
	if elapsed < 5*time.Millisecond {
		t.Fatalf("expected at least 5ms elapsed, got %v", elapsed)
	}

	snap, ok := c.SnapshotOf("op.duration", map[string]string{"op": "http"})
	if !ok || snap.Count != 1 {
		t.Fatalf("expected one recorded duration, got %+v ok=%v", snap, ok)
	}
}

func TestDistinctTagsAreDistinctSeries(t *testing.T) {
	c := New()
	c.IncCounter("http.requests", 1, map[string]string{"method": "GET"})
	c.IncCounter("http.requests", 1, map[string]string{"method": "POST"})

	get, _ := c.SnapshotOf("http.requests", map[string]string{"method": "GET"})
	post, _ := c.SnapshotOf("http.requests", map[string]string{"method": "POST"})
	if get.Value != 1 || post.Value != 1 {
		t.Fatalf("expected independent series per tag set, got GET=%v POST=%v", get.Value, post.Value)
	}
}

func TestRetentionEvictsStaleSeries(t *testing.T) {
	c := New()
	now := time.Now()
	c.now = func() time.Time { return now }
	c.SetRetention("stale.metric", time.Minute)
	c.IncCounter("stale.metric", 1, nil)

	now = now.Add(2 * time.Minute)
	c.aggregationPass()

	if _, ok := c.SnapshotOf("stale.metric", nil); ok {
		t.Fatalf("expected stale metric evicted after retention TTL")
	}
}

func TestExporterReceivesAggregationPass(t *testing.T) {
	exp := NewPrometheusExporter()
	c := New(exp)
	c.IncCounter("requests.total", 4, nil)
	c.aggregationPass()

	exp.mu.Lock()
	defer exp.mu.Unlock()
	if len(exp.last) != 1 || exp.last[0].Value != 4 {
		t.Fatalf("expected exporter to receive the aggregated snapshot, got %+v", exp.last)
	}
}
