package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/ongoingai/agenttrace/hooks"
	"github.com/ongoingai/agenttrace/telemetry"
)

func TestCollectorInfersCycleBoundaries(t *testing.T) {
	t.Parallel()

	c := NewCollector(nil)
	c.OnBeforeInvocation(hooks.BeforeInvocationEvent{AgentName: "researcher"})

	// Cycle 1: model requests a tool, cycle stays open across the tool call.
	c.OnBeforeModelCall(hooks.BeforeModelCallEvent{})
	usage := sampleUsage(100, 20)
	c.OnAfterModelCall(hooks.AfterModelCallEvent{StopReason: hooks.StopReasonToolUse, Usage: &usage})
	c.OnBeforeToolCall(hooks.BeforeToolCallEvent{ToolName: "search", ToolUseID: "toolu_1"})
	c.OnAfterToolCall(hooks.AfterToolCallEvent{ToolUseID: "toolu_1", Status: hooks.ToolStatusSuccess})
	c.OnAfterTools(hooks.AfterToolsEvent{})

	// Cycle 2: final answer closes the cycle immediately.
	c.OnBeforeModelCall(hooks.BeforeModelCallEvent{})
	usage2 := sampleUsage(50, 10)
	c.OnAfterModelCall(hooks.AfterModelCallEvent{StopReason: hooks.StopReasonEndTurn, Usage: &usage2})
	c.OnAfterInvocation(hooks.AfterInvocationEvent{})

	summary := c.Aggregator().Summary()
	if len(summary.Invocations) != 1 {
		t.Fatalf("invocations=%d, want 1", len(summary.Invocations))
	}
	inv := summary.Invocations[0]
	if len(inv.Cycles) != 2 {
		t.Fatalf("cycles=%d, want 2", len(inv.Cycles))
	}
	if inv.Usage.TotalTokens != 180 {
		t.Fatalf("invocation total=%d, want 180", inv.Usage.TotalTokens)
	}
	if stats := summary.ToolUsage["search"]; stats.CallCount != 1 || stats.SuccessCount != 1 {
		t.Fatalf("search stats=%+v, want one success", stats)
	}
	// The tool node hangs off the first cycle in the trace tree, relabeled
	// with its tool-use id.
	if !strings.Contains(summary.TreeText, "search - toolu_1") {
		t.Fatalf("tree missing tool node:\n%s", summary.TreeText)
	}
}

func TestCollectorDuplicateToolResultCountsOnce(t *testing.T) {
	t.Parallel()

	c := NewCollector(nil)
	c.OnBeforeInvocation(hooks.BeforeInvocationEvent{})
	c.OnBeforeModelCall(hooks.BeforeModelCallEvent{})
	c.OnAfterModelCall(hooks.AfterModelCallEvent{StopReason: hooks.StopReasonToolUse})
	c.OnBeforeToolCall(hooks.BeforeToolCallEvent{ToolName: "calculator", ToolUseID: "toolu_1"})
	c.OnAfterToolCall(hooks.AfterToolCallEvent{ToolUseID: "toolu_1", Status: hooks.ToolStatusSuccess})
	c.OnAfterToolCall(hooks.AfterToolCallEvent{ToolUseID: "toolu_1", Status: hooks.ToolStatusSuccess})

	summary := c.Aggregator().Summary()
	if stats := summary.ToolUsage["calculator"]; stats.CallCount != 1 {
		t.Fatalf("calculator stats=%+v, want one call", stats)
	}
	if stats := summary.ToolUsage[UnknownToolName]; stats.CallCount != 0 {
		t.Fatalf("unknown tool stats=%+v, duplicate result leaked into sentinel", stats)
	}
}

func TestCollectorUnmatchedToolResultIsIgnored(t *testing.T) {
	t.Parallel()

	c := NewCollector(nil)
	c.OnBeforeInvocation(hooks.BeforeInvocationEvent{})
	c.OnAfterToolCall(hooks.AfterToolCallEvent{ToolUseID: "toolu_lost", Status: hooks.ToolStatusError, Error: errors.New("boom")})

	if usage := c.Aggregator().Summary().ToolUsage; len(usage) != 0 {
		t.Fatalf("tool usage=%+v, want empty for unmatched result", usage)
	}
}

func TestCollectorNamelessToolCountsAsUnknown(t *testing.T) {
	t.Parallel()

	c := NewCollector(nil)
	c.OnBeforeInvocation(hooks.BeforeInvocationEvent{})
	c.OnBeforeToolCall(hooks.BeforeToolCallEvent{ToolUseID: "toolu_anon"})
	c.OnAfterToolCall(hooks.AfterToolCallEvent{ToolUseID: "toolu_anon", Status: hooks.ToolStatusSuccess})

	stats := c.Aggregator().Summary().ToolUsage[UnknownToolName]
	if stats.CallCount != 1 || stats.SuccessCount != 1 {
		t.Fatalf("unknown tool stats=%+v, want one success", stats)
	}
}

func TestCollectorBeforeInvocationDropsStaleState(t *testing.T) {
	t.Parallel()

	c := NewCollector(nil)
	c.OnBeforeInvocation(hooks.BeforeInvocationEvent{})
	c.OnBeforeModelCall(hooks.BeforeModelCallEvent{})
	c.OnBeforeToolCall(hooks.BeforeToolCallEvent{ToolName: "search", ToolUseID: "toolu_stale"})

	// Abandoned invocation; the next start wipes the pending call, so its
	// late result must not count anywhere.
	c.OnBeforeInvocation(hooks.BeforeInvocationEvent{})
	c.OnAfterToolCall(hooks.AfterToolCallEvent{ToolUseID: "toolu_stale", Status: hooks.ToolStatusSuccess})

	summary := c.Aggregator().Summary()
	if summary.ToolUsage["search"].CallCount != 0 {
		t.Fatalf("stale tool counted under its name: %+v", summary.ToolUsage)
	}
	if summary.ToolUsage[UnknownToolName].CallCount != 0 {
		t.Fatalf("stale result counted as unknown: %+v", summary.ToolUsage)
	}
}

func TestCollectorModelErrorClosesCycle(t *testing.T) {
	t.Parallel()

	recorder := &fakeRecorder{}
	c := NewCollector(NewAggregator(WithRecorder(recorder)))
	c.OnBeforeInvocation(hooks.BeforeInvocationEvent{})
	c.OnBeforeModelCall(hooks.BeforeModelCallEvent{})
	c.OnAfterModelCall(hooks.AfterModelCallEvent{Error: errors.New("rate limited")})
	c.OnAfterInvocation(hooks.AfterInvocationEvent{Error: errors.New("rate limited")})

	summary := c.Aggregator().Summary()
	if len(summary.Invocations) != 1 || len(summary.Invocations[0].Cycles) != 1 {
		t.Fatalf("summary=%+v, want one invocation with one cycle", summary.Invocations)
	}
	if !recorder.lastFailed {
		t.Fatal("failed model call not reported to recorder")
	}
}

func TestCollectorUsageMetricsForwarded(t *testing.T) {
	t.Parallel()

	recorder := &fakeRecorder{}
	c := NewCollector(NewAggregator(WithRecorder(recorder)))
	c.OnBeforeInvocation(hooks.BeforeInvocationEvent{})
	c.OnBeforeModelCall(hooks.BeforeModelCallEvent{})
	usage := sampleUsage(10, 5)
	c.OnAfterModelCall(hooks.AfterModelCallEvent{
		StopReason: hooks.StopReasonEndTurn,
		Usage:      &usage,
		Metrics:    &telemetry.CallMetrics{LatencyMS: 120},
	})
	c.OnAfterInvocation(hooks.AfterInvocationEvent{})

	if recorder.modelCalls != 1 {
		t.Fatalf("model calls=%d, want 1", recorder.modelCalls)
	}
	if len(recorder.cycles) != 1 {
		t.Fatalf("cycle records=%d, want 1", len(recorder.cycles))
	}
}

func TestCollectorNilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var c *Collector
	c.OnBeforeInvocation(hooks.BeforeInvocationEvent{})
	c.OnBeforeModelCall(hooks.BeforeModelCallEvent{})
	c.OnAfterModelCall(hooks.AfterModelCallEvent{})
	c.OnBeforeToolCall(hooks.BeforeToolCallEvent{})
	c.OnAfterToolCall(hooks.AfterToolCallEvent{})
	c.OnAfterTools(hooks.AfterToolsEvent{})
	c.OnAfterInvocation(hooks.AfterInvocationEvent{})
	if c.Aggregator() != nil {
		t.Fatal("nil collector should expose nil aggregator")
	}
}
