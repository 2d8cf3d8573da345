package propagation

import (
	"context"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ongoingai/agenttrace/tracing"
)

// Dispatcher sends one tool call to wherever the tool actually runs.
type Dispatcher interface {
	DispatchToolCall(ctx context.Context, toolName string, args any) (any, error)
}

// SpanSource yields the span an outbound call should adopt as parent.
// *tracing.Tracer satisfies it via ActiveSpan.
type SpanSource interface {
	ActiveSpan() *tracing.Span
}

type instrumentedDispatcher struct {
	next   Dispatcher
	source SpanSource
}

// WrapDispatcher returns a dispatcher that injects the active trace context
// into every call's arguments and context. Wrapping an already-wrapped
// dispatcher is detected and returns it unchanged, so instrumenting twice
// never double-injects.
func WrapDispatcher(d Dispatcher, source SpanSource) Dispatcher {
	if d == nil {
		return nil
	}
	if _, ok := d.(*instrumentedDispatcher); ok {
		return d
	}
	return &instrumentedDispatcher{next: d, source: source}
}

// DispatchToolCall injects trace context and forwards. With no active trace,
// or on any propagation failure, it falls back to the original call with
// untouched arguments; instrumentation must never fail a tool invocation.
func (d *instrumentedDispatcher) DispatchToolCall(ctx context.Context, toolName string, args any) (any, error) {
	var span *tracing.Span
	if d.source != nil {
		span = d.source.ActiveSpan()
	}
	carrier, ok := CarrierFromSpan(span)
	if !ok {
		return d.next.DispatchToolCall(ctx, toolName, args)
	}
	return d.next.DispatchToolCall(ContextWithSpan(ctx, span), toolName, InjectArgs(args, carrier))
}

// WrapHTTPClient instruments an outbound HTTP client so tools making HTTP
// calls propagate trace context automatically. An already-instrumented
// transport is returned as-is.
func WrapHTTPClient(client *http.Client) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if _, ok := base.(*otelhttp.Transport); ok {
		return client
	}
	wrapped := *client
	wrapped.Transport = otelhttp.NewTransport(base)
	return &wrapped
}
