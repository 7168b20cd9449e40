package eventbus

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OTelSink exports bus events as span events on a tracer, grounded on the
// teacher's graph/emit/otel.go emitter. It does not create one span per
// node itself (that is the executor's job, via StartNodeSpan below); it
// attaches events to whatever span is active in the context it is given.
type OTelSink struct {
	tracer trace.Tracer
}

// NewOTelSink wraps a trace.Tracer (e.g. from
// go.opentelemetry.io/otel/sdk/trace) as a Sink.
func NewOTelSink(tracer trace.Tracer) *OTelSink {
	return &OTelSink{tracer: tracer}
}

func (o *OTelSink) Emit(ev Event) {
	o.EmitWithContext(context.Background(), ev)
}

// EmitWithContext records ev as a span event on the span found in ctx, if
// any; if ctx carries no active span this is a no-op (matching the
// teacher's otel emitter's documented "best effort" behavior).
func (o *OTelSink) EmitWithContext(ctx context.Context, ev Event) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("taskgraph.run_id", ev.RunID),
		attribute.String("taskgraph.node_id", ev.NodeID),
	}
	for k, v := range ev.Data {
		attrs = append(attrs, attribute.String("taskgraph.data."+k, toAttrString(v)))
	}
	span.AddEvent(ev.Type, trace.WithAttributes(attrs...))
}

func (o *OTelSink) EmitBatch(ctx context.Context, evs []Event) error {
	for _, ev := range evs {
		o.EmitWithContext(ctx, ev)
	}
	return nil
}

func (o *OTelSink) Flush(context.Context) error { return nil }

// StartNodeSpan starts a span for one node execution, used by the
// executor to bracket a TaskRunner invocation with tracing
// (SPEC_FULL.md §4.7).
func (o *OTelSink) StartNodeSpan(ctx context.Context, nodeID string) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, "taskgraph.node/"+nodeID)
}

func toAttrString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmtStringer:
		return t.String()
	default:
		return jsonStringFallback(v)
	}
}

type fmtStringer interface{ String() string }

func jsonStringFallback(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
