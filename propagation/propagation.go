// Package propagation serializes a span's trace identity into a W3C trace
// context carrier and injects it into outbound tool calls, so tools that
// cross a process boundary continue the same trace.
package propagation

import (
	"context"

	"github.com/ongoingai/agenttrace/tracing"
	otelpropagation "go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Carrier field names. MetaKey is the side-channel field added to keyed tool
// arguments; it follows the MCP convention of a reserved metadata object.
const (
	TraceparentKey = "traceparent"
	TracestateKey  = "tracestate"
	MetaKey        = "_meta"
)

// Carrier is the serialized trace identity crossing a process boundary:
// traceparent = "00-{32 hex trace id}-{16 hex span id}-{2 hex flags}".
type Carrier struct {
	Traceparent string `json:"traceparent"`
	Tracestate  string `json:"tracestate,omitempty"`
}

var _ otelpropagation.TextMapCarrier = (*Carrier)(nil)

// Get implements otel's TextMapCarrier.
func (c *Carrier) Get(key string) string {
	switch key {
	case TraceparentKey:
		return c.Traceparent
	case TracestateKey:
		return c.Tracestate
	default:
		return ""
	}
}

// Set implements otel's TextMapCarrier.
func (c *Carrier) Set(key, value string) {
	switch key {
	case TraceparentKey:
		c.Traceparent = value
	case TracestateKey:
		c.Tracestate = value
	}
}

// Keys implements otel's TextMapCarrier.
func (c *Carrier) Keys() []string {
	return []string{TraceparentKey, TracestateKey}
}

// SpanContextOf reconstructs an OpenTelemetry span context from a span
// handle. The second result is false when the handle carries no usable
// trace identity (empty or malformed ids, all-zero trace id).
func SpanContextOf(span *tracing.Span) (trace.SpanContext, bool) {
	if span == nil || span.TraceID == "" {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(span.TraceID)
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanID, err := trace.SpanIDFromHex(span.SpanID)
	if err != nil {
		return trace.SpanContext{}, false
	}
	cfg := trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.TraceFlags(span.TraceFlags),
		Remote:     true,
	}
	if span.TraceState != "" {
		if ts, err := trace.ParseTraceState(span.TraceState); err == nil {
			cfg.TraceState = ts
		}
	}
	sc := trace.NewSpanContext(cfg)
	if !sc.IsValid() {
		return trace.SpanContext{}, false
	}
	return sc, true
}

// CarrierFromSpan serializes the span's trace identity. Encoding is
// delegated to otel's TraceContext propagator, never hand-rolled. The
// second result is false when there is no active trace to propagate.
func CarrierFromSpan(span *tracing.Span) (Carrier, bool) {
	sc, ok := SpanContextOf(span)
	if !ok {
		return Carrier{}, false
	}
	var carrier Carrier
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	otelpropagation.TraceContext{}.Inject(ctx, &carrier)
	if carrier.Traceparent == "" {
		return Carrier{}, false
	}
	return carrier, true
}

// ContextWithSpan returns ctx carrying the span's identity as a remote span
// context, so downstream OpenTelemetry instrumentation (otelhttp and
// friends) parents its spans correctly.
func ContextWithSpan(ctx context.Context, span *tracing.Span) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	sc, ok := SpanContextOf(span)
	if !ok {
		return ctx
	}
	return trace.ContextWithSpanContext(ctx, sc)
}

// InjectArgs adds the carrier to tool-call arguments as a side-channel
// field without disturbing the caller-visible shape:
//
//   - keyed objects (map[string]any) get a "_meta" entry on a shallow copy,
//     merging into an existing "_meta" object rather than replacing it
//   - arrays and primitives pass through unchanged (no side channel exists)
//   - nil becomes a fresh object holding only "_meta"
func InjectArgs(args any, carrier Carrier) any {
	meta := map[string]any{TraceparentKey: carrier.Traceparent}
	if carrier.Tracestate != "" {
		meta[TracestateKey] = carrier.Tracestate
	}

	switch typed := args.(type) {
	case nil:
		return map[string]any{MetaKey: meta}
	case map[string]any:
		out := make(map[string]any, len(typed)+1)
		for k, v := range typed {
			out[k] = v
		}
		if existing, ok := out[MetaKey].(map[string]any); ok {
			merged := make(map[string]any, len(existing)+2)
			for k, v := range existing {
				merged[k] = v
			}
			for k, v := range meta {
				merged[k] = v
			}
			out[MetaKey] = merged
		} else {
			out[MetaKey] = meta
		}
		return out
	default:
		return args
	}
}
