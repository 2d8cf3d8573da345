package propagation

import (
	"context"
	"net/http"
	"testing"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/ongoingai/agenttrace/tracing"
)

type recordingDispatcher struct {
	ctx      context.Context
	toolName string
	args     any
}

func (d *recordingDispatcher) DispatchToolCall(ctx context.Context, toolName string, args any) (any, error) {
	d.ctx = ctx
	d.toolName = toolName
	d.args = args
	return "ok", nil
}

type fixedSpanSource struct {
	span *tracing.Span
}

func (s fixedSpanSource) ActiveSpan() *tracing.Span { return s.span }

func TestWrapDispatcherInjectsTraceContext(t *testing.T) {
	t.Parallel()

	inner := &recordingDispatcher{}
	source := fixedSpanSource{span: &tracing.Span{
		TraceID:    "4bf92f3577b34da6a3ce929d0e0e4736",
		SpanID:     "00f067aa0ba902b7",
		TraceFlags: 0x01,
	}}

	wrapped := WrapDispatcher(inner, source)
	result, err := wrapped.DispatchToolCall(context.Background(), "search", map[string]any{"query": "go"})
	if err != nil {
		t.Fatalf("DispatchToolCall() error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("result=%v, want ok", result)
	}
	if inner.toolName != "search" {
		t.Fatalf("toolName=%q, want search", inner.toolName)
	}

	args := inner.args.(map[string]any)
	meta := args[MetaKey].(map[string]any)
	want := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	if meta[TraceparentKey] != want {
		t.Fatalf("traceparent=%v, want %q", meta[TraceparentKey], want)
	}

	sc := trace.SpanContextFromContext(inner.ctx)
	if !sc.IsValid() || sc.TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("context span context=%v, want remote parent", sc)
	}
}

func TestWrapDispatcherNoActiveTraceFallsThrough(t *testing.T) {
	t.Parallel()

	inner := &recordingDispatcher{}
	wrapped := WrapDispatcher(inner, fixedSpanSource{span: nil})

	original := map[string]any{"query": "go"}
	if _, err := wrapped.DispatchToolCall(context.Background(), "search", original); err != nil {
		t.Fatalf("DispatchToolCall() error: %v", err)
	}

	args := inner.args.(map[string]any)
	if _, ok := args[MetaKey]; ok {
		t.Fatal("args gained _meta without an active trace")
	}
}

func TestWrapDispatcherIsIdempotent(t *testing.T) {
	t.Parallel()

	inner := &recordingDispatcher{}
	once := WrapDispatcher(inner, fixedSpanSource{})
	twice := WrapDispatcher(once, fixedSpanSource{})
	if once != twice {
		t.Fatal("wrapping an instrumented dispatcher should return it unchanged")
	}

	if WrapDispatcher(nil, fixedSpanSource{}) != nil {
		t.Fatal("WrapDispatcher(nil) should stay nil")
	}
}

func TestWrapHTTPClient(t *testing.T) {
	t.Parallel()

	client := WrapHTTPClient(&http.Client{})
	if _, ok := client.Transport.(*otelhttp.Transport); !ok {
		t.Fatalf("transport type=%T, want otelhttp", client.Transport)
	}

	again := WrapHTTPClient(client)
	if again.Transport != client.Transport {
		t.Fatal("instrumented client was wrapped twice")
	}

	fromNil := WrapHTTPClient(nil)
	if fromNil == nil || fromNil.Transport == nil {
		t.Fatal("WrapHTTPClient(nil) should build a usable client")
	}
}
