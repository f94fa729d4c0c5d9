// Package tracer owns the engine's trace + span tree: probabilistic
// sampling, tags/logs, finish semantics, and a bounded cache of the
// most recently completed traces. The authoritative state lives here,
// in-process; OTelBridgeExporter re-projects finished spans into real
// otel spans so jaeger/zipkin still see them via an OTLP pipeline.
package tracer

import (
	"fmt"
	"sync"
	"time"
)

// Status is a span or trace's terminal or in-flight state.
type Status string

const (
	StatusActive Status = "active"
	StatusOK     Status = "ok"
	StatusError  Status = "error"
)

// LogEntry is one append-only log line attached to a span before it finishes.
type LogEntry struct {
	At      time.Time
	Message string
	Meta    map[string]any
}

// Span is a single timed operation within a Trace.
type Span struct {
	TraceID       string
	SpanID        string
	ParentSpanID  string
	Operation     string
	Start         time.Time
	End           time.Time
	Tags          map[string]any
	Logs          []LogEntry
	Status        Status
}

func (s Span) Duration() time.Duration {
	if s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// Trace is the root container for a tree of Spans.
type Trace struct {
	TraceID     string
	RootSpanID  string
	Spans       map[string]*Span
	StartTime   time.Time
	EndTime     time.Time
	Status      Status
}

// Completed reports whether every span in the trace is non-active.
func (t *Trace) Completed() bool {
	for _, s := range t.Spans {
		if s.Status == StatusActive {
			return false
		}
	}
	return true
}

// ErrNotSampled is returned by StartTrace when sampling declines the trace.
var ErrNotSampled = fmt.Errorf("not_sampled")

// Config configures sampling and retention.
type Config struct {
	SamplingRate     float64 // probability in [0,1] a start_trace call is sampled
	MaxTraceDuration time.Duration
	CacheCapacity    int // bounded cache of most recently completed traces
}

// DefaultConfig samples everything, expires traces after five
// minutes, and keeps the last thousand completed traces.
func DefaultConfig() Config {
	return Config{SamplingRate: 1.0, MaxTraceDuration: 5 * time.Minute, CacheCapacity: 1000}
}

// Rand is the sampling decision source; injectable so tests can make
// sampling deterministic.
type Rand interface {
	Float64() float64
}

// Tracer is the single-writer actor owning every active and recently
// completed trace.
type Tracer struct {
	mu     sync.Mutex
	cfg    Config
	rand   Rand
	now    func() time.Time
	nextID int64

	active    map[string]*Trace
	completed []*Trace // most-recent-first, bounded by cfg.CacheCapacity

	exporters []Exporter
}

// New constructs a Tracer. rand may be nil to use a real random source.
// Zero-valued cfg fields take DefaultConfig's values, so a SamplingRate
// of 0 samples every trace; only a negative rate samples none.
func New(cfg Config, rand Rand) *Tracer {
	if cfg.SamplingRate == 0 {
		cfg.SamplingRate = 1.0
	}
	if cfg.MaxTraceDuration == 0 {
		cfg.MaxTraceDuration = 5 * time.Minute
	}
	if cfg.CacheCapacity == 0 {
		cfg.CacheCapacity = 1000
	}
	return &Tracer{
		cfg:    cfg,
		rand:   rand,
		now:    time.Now,
		active: make(map[string]*Trace),
	}
}

// RegisterExporter adds an export target invoked when a trace finishes
// or its max age is reached.
func (t *Tracer) RegisterExporter(e Exporter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exporters = append(t.exporters, e)
}

func (t *Tracer) sample() bool {
	if t.cfg.SamplingRate >= 1.0 {
		return true
	}
	if t.cfg.SamplingRate <= 0 {
		return false
	}
	var f float64
	if t.rand != nil {
		f = t.rand.Float64()
	} else {
		f = pseudoRandom(t.nextID)
	}
	return f < t.cfg.SamplingRate
}

// pseudoRandom is used only when no Rand was injected and we still
// need a deterministic-in-tests fallback distinct from math/rand's
// global state; it is not a substitute for a seeded Rand in tests that
// check sampling behavior.
func pseudoRandom(seed int64) float64 {
	x := uint64(seed)*2654435761 + 1
	return float64(x%10000) / 10000.0
}

// StartTrace begins a new trace with a root span named op. Returns
// ErrNotSampled if the sampling decision declines it.
func (t *Tracer) StartTrace(op string, meta map[string]any) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	if !t.sample() {
		return "", ErrNotSampled
	}

	traceID := genID("trace", t.nextID)
	rootSpanID := genID("span", t.nextID)
	now := t.now()

	root := &Span{TraceID: traceID, SpanID: rootSpanID, Operation: op, Start: now, Tags: cloneMeta(meta), Status: StatusActive}
	tr := &Trace{TraceID: traceID, RootSpanID: rootSpanID, Spans: map[string]*Span{rootSpanID: root}, StartTime: now, Status: StatusActive}
	t.active[traceID] = tr
	return traceID, nil
}

// StartSpan starts a child span under traceID with an optional parent
// (root span if parentSpanID is "").
func (t *Tracer) StartSpan(traceID, parentSpanID, op string, meta map[string]any) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.active[traceID]
	if !ok {
		return "", fmt.Errorf("tracer: unknown trace %q", traceID)
	}
	if parentSpanID == "" {
		parentSpanID = tr.RootSpanID
	}
	t.nextID++
	spanID := genID("span", t.nextID)
	span := &Span{TraceID: traceID, SpanID: spanID, ParentSpanID: parentSpanID, Operation: op, Start: t.now(), Tags: cloneMeta(meta), Status: StatusActive}
	tr.Spans[spanID] = span
	return spanID, nil
}

// AddTag attaches a tag to an active or finished span.
func (t *Tracer) AddTag(traceID, spanID, key string, value any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	span, err := t.lookupSpan(traceID, spanID)
	if err != nil {
		return err
	}
	if span.Tags == nil {
		span.Tags = make(map[string]any)
	}
	span.Tags[key] = value
	return nil
}

// AddLog appends a log entry; logs are append-only until the span
// finishes.
func (t *Tracer) AddLog(traceID, spanID, msg string, meta map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	span, err := t.lookupSpan(traceID, spanID)
	if err != nil {
		return err
	}
	if span.Status != StatusActive {
		return fmt.Errorf("tracer: span %q already finished, logs are append-only until finish", spanID)
	}
	span.Logs = append(span.Logs, LogEntry{At: t.now(), Message: msg, Meta: cloneMeta(meta)})
	return nil
}

// FinishSpan marks a span done with the given status, and exports the
// owning trace if it is now fully completed.
func (t *Tracer) FinishSpan(traceID, spanID string, status Status, meta map[string]any) error {
	t.mu.Lock()
	span, err := t.lookupSpan(traceID, spanID)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	span.End = t.now()
	span.Status = status
	for k, v := range meta {
		if span.Tags == nil {
			span.Tags = make(map[string]any)
		}
		span.Tags[k] = v
	}

	tr := t.active[traceID]
	var finished *Trace
	if tr != nil && tr.Completed() {
		tr.EndTime = t.now()
		tr.Status = StatusOK
		for _, s := range tr.Spans {
			if s.Status == StatusError {
				tr.Status = StatusError
			}
		}
		delete(t.active, traceID)
		t.pushCompleted(tr)
		finished = tr
	}
	t.mu.Unlock()

	if finished != nil {
		t.export(finished)
	}
	return nil
}

func (t *Tracer) lookupSpan(traceID, spanID string) (*Span, error) {
	tr, ok := t.active[traceID]
	if !ok {
		for _, c := range t.completed {
			if c.TraceID == traceID {
				tr = c
				ok = true
				break
			}
		}
	}
	if !ok {
		return nil, fmt.Errorf("tracer: unknown trace %q", traceID)
	}
	span, ok := tr.Spans[spanID]
	if !ok {
		return nil, fmt.Errorf("tracer: unknown span %q", spanID)
	}
	return span, nil
}

// SweepExpired exports and expires any active trace whose age exceeds
// MaxTraceDuration, with partial-span data.
func (t *Tracer) SweepExpired() {
	t.mu.Lock()
	now := t.now()
	var expired []*Trace
	for id, tr := range t.active {
		if now.Sub(tr.StartTime) > t.cfg.MaxTraceDuration {
			tr.EndTime = now
			tr.Status = StatusError
			delete(t.active, id)
			t.pushCompleted(tr)
			expired = append(expired, tr)
		}
	}
	t.mu.Unlock()

	for _, tr := range expired {
		t.export(tr)
	}
}

func (t *Tracer) pushCompleted(tr *Trace) {
	t.completed = append([]*Trace{tr}, t.completed...)
	if len(t.completed) > t.cfg.CacheCapacity {
		t.completed = t.completed[:t.cfg.CacheCapacity]
	}
}

func (t *Tracer) export(tr *Trace) {
	for _, e := range t.exporters {
		e.Export(tr)
	}
}

// Get returns a trace by id, active or completed.
func (t *Tracer) Get(traceID string) (*Trace, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tr, ok := t.active[traceID]; ok {
		return tr, true
	}
	for _, tr := range t.completed {
		if tr.TraceID == traceID {
			return tr, true
		}
	}
	return nil, false
}

func cloneMeta(meta map[string]any) map[string]any {
	if len(meta) == 0 {
		return nil
	}
	cp := make(map[string]any, len(meta))
	for k, v := range meta {
		cp[k] = v
	}
	return cp
}

func genID(prefix string, n int64) string {
	const hex = "0123456789abcdef"
	x := uint64(n)*11400714819323198485 + 0x9E3779B97F4A7C15
	b := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		b[i] = hex[x&0xF]
		x >>= 4
	}
	return prefix + "-" + string(b)
}
