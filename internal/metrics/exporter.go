package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	otelmetric "go.opentelemetry.io/otel/metric"
)

// Exporter is a pluggable metrics export target: the
// collector is agnostic to transport and hands every registered
// Exporter a snapshot on each aggregation pass.
type Exporter interface {
	Export(snapshots []Snapshot)
}

// PrometheusExporter renders the latest snapshot in Prometheus text
// exposition format and serves it from an http.Handler as a scrape
// endpoint (pull, not push).
type PrometheusExporter struct {
	mu   sync.Mutex
	last []Snapshot
}

// NewPrometheusExporter constructs an exporter ready to be registered
// with a Collector and mounted as an http.Handler.
func NewPrometheusExporter() *PrometheusExporter {
	return &PrometheusExporter{}
}

func (p *PrometheusExporter) Export(snapshots []Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = snapshots
}

// ServeHTTP implements the scrape endpoint.
func (p *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	snaps := append([]Snapshot(nil), p.last...)
	p.mu.Unlock()

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	for _, s := range snaps {
		name := sanitizeMetricName(s.Name)
		labels := renderLabels(s.Tags)
		switch s.Kind {
		case KindCounter:
			fmt.Fprintf(w, "%s%s %g\n", name, labels, s.Value)
		case KindGauge:
			fmt.Fprintf(w, "%s%s %g\n", name, labels, s.Value)
		case KindHistogram, KindTimer:
			fmt.Fprintf(w, "%s_count%s %d\n", name, labels, s.Count)
			fmt.Fprintf(w, "%s_sum%s %g\n", name, labels, s.Mean*float64(s.Count))
			for _, q := range []struct {
				label string
				value float64
			}{{"0.5", s.P50}, {"0.95", s.P95}, {"0.99", s.P99}} {
				qtags := make(map[string]string, len(s.Tags)+1)
				for k, v := range s.Tags {
					qtags[k] = v
				}
				qtags["quantile"] = q.label
				fmt.Fprintf(w, "%s%s %g\n", name, renderLabels(qtags), q.value)
			}
		}
	}
}

func sanitizeMetricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(name)
}

func renderLabels(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, tags[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// OTelBridgeExporter re-emits every counter/gauge snapshot through a
// real OpenTelemetry meter (internal/obsotel), so the collector's
// in-process state also flows out via OTLP without needing its own
// transport.
type OTelBridgeExporter struct {
	meter otelmetric.Meter

	mu       sync.Mutex
	counters map[string]otelmetric.Float64Counter
	gauges   map[string]otelmetric.Float64Gauge
}

// NewOTelBridgeExporter builds a bridge over an existing meter. nil is
// accepted for offline/test use.
func NewOTelBridgeExporter(meter otelmetric.Meter) *OTelBridgeExporter {
	return &OTelBridgeExporter{meter: meter, counters: make(map[string]otelmetric.Float64Counter), gauges: make(map[string]otelmetric.Float64Gauge)}
}

func (o *OTelBridgeExporter) Export(snapshots []Snapshot) {
	if o.meter == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	ctx := context.Background()
	for _, s := range snapshots {
		switch s.Kind {
		case KindCounter:
			c, ok := o.counters[s.Name]
			if !ok {
				c, _ = o.meter.Float64Counter(sanitizeMetricName(s.Name))
				o.counters[s.Name] = c
			}
			if c != nil {
				c.Add(ctx, s.Value)
			}
		case KindGauge:
			g, ok := o.gauges[s.Name]
			if !ok {
				g, _ = o.meter.Float64Gauge(sanitizeMetricName(s.Name))
				o.gauges[s.Name] = g
			}
			if g != nil {
				g.Record(ctx, s.Value)
			}
		}
	}
}
