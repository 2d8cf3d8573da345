package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ongoingai/agenttrace/tracing"
)

// spanBackend bridges the backend-agnostic span handles onto live
// OpenTelemetry spans. The live spans are kept in a map keyed by handle so
// the handle stays a plain value type; a handle the backend does not know
// (already ended, or started elsewhere) ends as a no-op.
type spanBackend struct {
	tracer oteltrace.Tracer

	mu   sync.Mutex
	live map[*tracing.Span]oteltrace.Span
}

var _ tracing.SpanBackend = (*spanBackend)(nil)

func newSpanBackend(tracer oteltrace.Tracer) *spanBackend {
	return &spanBackend{
		tracer: tracer,
		live:   make(map[*tracing.Span]oteltrace.Span),
	}
}

func (b *spanBackend) StartSpan(name string, parent *tracing.Span, attrs map[string]any) *tracing.Span {
	ctx := context.Background()
	if parent != nil {
		b.mu.Lock()
		parentSpan, ok := b.live[parent]
		b.mu.Unlock()
		if ok {
			ctx = oteltrace.ContextWithSpan(ctx, parentSpan)
		} else if sc, valid := remoteSpanContext(parent); valid {
			// Parent already ended or came from another process; link by
			// identity instead of by live span.
			ctx = oteltrace.ContextWithSpanContext(ctx, sc)
		}
	}

	_, otelSpan := b.tracer.Start(ctx, name, oteltrace.WithAttributes(toKeyValues(attrs)...))

	sc := otelSpan.SpanContext()
	handle := &tracing.Span{
		TraceID:    sc.TraceID().String(),
		SpanID:     sc.SpanID().String(),
		TraceFlags: byte(sc.TraceFlags()),
		TraceState: sc.TraceState().String(),
		Name:       name,
		StartTime:  time.Now().UTC(),
	}
	if parent != nil {
		handle.ParentID = parent.SpanID
	}
	for k, v := range attrs {
		handle.SetAttribute(k, v)
	}

	b.mu.Lock()
	b.live[handle] = otelSpan
	b.mu.Unlock()
	return handle
}

func (b *spanBackend) EndSpan(span *tracing.Span, end tracing.EndOptions) {
	if span == nil {
		return
	}
	b.mu.Lock()
	otelSpan, ok := b.live[span]
	if ok {
		delete(b.live, span)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	if len(end.Attributes) > 0 {
		otelSpan.SetAttributes(toKeyValues(end.Attributes)...)
	}
	for _, event := range end.Events {
		opts := []oteltrace.EventOption{oteltrace.WithAttributes(toKeyValues(event.Attributes)...)}
		if !event.Time.IsZero() {
			opts = append(opts, oteltrace.WithTimestamp(event.Time))
		}
		otelSpan.AddEvent(event.Name, opts...)
	}

	switch {
	case end.Error != nil:
		otelSpan.RecordError(end.Error)
		otelSpan.SetStatus(codes.Error, end.Error.Error())
	case end.Status == tracing.StatusError:
		otelSpan.SetStatus(codes.Error, end.StatusMsg)
	case end.Status == tracing.StatusOK:
		otelSpan.SetStatus(codes.Ok, "")
	}

	// Mirror final state onto the handle for local inspection.
	span.EndTime = time.Now().UTC()
	span.Status = end.Status
	span.StatusMsg = end.StatusMsg
	if end.Error != nil {
		span.Status = tracing.StatusError
		if span.StatusMsg == "" {
			span.StatusMsg = end.Error.Error()
		}
	}
	for k, v := range end.Attributes {
		span.SetAttribute(k, v)
	}
	span.Events = append(span.Events, end.Events...)

	otelSpan.End()
}

func remoteSpanContext(span *tracing.Span) (oteltrace.SpanContext, bool) {
	traceID, err := oteltrace.TraceIDFromHex(span.TraceID)
	if err != nil {
		return oteltrace.SpanContext{}, false
	}
	spanID, err := oteltrace.SpanIDFromHex(span.SpanID)
	if err != nil {
		return oteltrace.SpanContext{}, false
	}
	sc := oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: oteltrace.TraceFlags(span.TraceFlags),
		Remote:     true,
	})
	return sc, sc.IsValid()
}

func toKeyValues(attrs map[string]any) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(attrs))
	for key, value := range attrs {
		switch v := value.(type) {
		case string:
			out = append(out, attribute.String(key, v))
		case bool:
			out = append(out, attribute.Bool(key, v))
		case int:
			out = append(out, attribute.Int(key, v))
		case int64:
			out = append(out, attribute.Int64(key, v))
		case float64:
			out = append(out, attribute.Float64(key, v))
		case []string:
			out = append(out, attribute.StringSlice(key, v))
		case time.Duration:
			out = append(out, attribute.Int64(key, v.Milliseconds()))
		default:
			out = append(out, attribute.String(key, fmt.Sprintf("%v", v)))
		}
	}
	return out
}
