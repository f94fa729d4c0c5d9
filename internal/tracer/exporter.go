package tracer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Exporter receives a Trace the moment it finishes or is swept as
// expired.
type Exporter interface {
	Export(tr *Trace)
}

// NoopExporter discards every trace; useful as the default when no
// external sink is configured.
type NoopExporter struct{}

func (NoopExporter) Export(*Trace) {}

// OTelBridgeExporter re-projects a finished Trace into a real otel
// span tree so an existing OTLP pipeline still carries it, without
// this package depending on the SDK for its own bookkeeping.
type OTelBridgeExporter struct {
	tracer oteltrace.Tracer
}

// NewOTelBridgeExporter builds a bridge over an existing otel Tracer;
// nil is accepted for offline/test use.
func NewOTelBridgeExporter(t oteltrace.Tracer) *OTelBridgeExporter {
	return &OTelBridgeExporter{tracer: t}
}

func (o *OTelBridgeExporter) Export(tr *Trace) {
	if o.tracer == nil || tr == nil {
		return
	}
	ctx := context.Background()
	o.emit(ctx, tr, tr.RootSpanID)
}

func (o *OTelBridgeExporter) emit(ctx context.Context, tr *Trace, spanID string) {
	s, ok := tr.Spans[spanID]
	if !ok {
		return
	}
	spanCtx, otelSpan := o.tracer.Start(ctx, s.Operation, oteltrace.WithTimestamp(s.Start))
	for k, v := range s.Tags {
		otelSpan.SetAttributes(attribute.String(k, fmt.Sprintf("%v", v)))
	}
	for _, l := range s.Logs {
		otelSpan.AddEvent(l.Message)
	}
	if s.Status == StatusError {
		otelSpan.SetStatus(codes.Error, "span failed")
	}
	otelSpan.End(oteltrace.WithTimestamp(s.End))

	for id, child := range tr.Spans {
		if child.ParentSpanID == spanID && id != spanID {
			o.emit(spanCtx, tr, id)
		}
	}
}
