package metrics

import (
	"testing"
	"time"

	"github.com/ongoingai/agenttrace/telemetry"
)

type fakeRecorder struct {
	modelCalls  int
	toolCalls   []string
	invocations []int
	cycles      []time.Duration
	lastUsage   telemetry.Usage
	lastFailed  bool
}

func (r *fakeRecorder) RecordModelCall(usage telemetry.Usage, _ telemetry.CallMetrics, failed bool) {
	r.modelCalls++
	r.lastUsage = usage
	r.lastFailed = failed
}

func (r *fakeRecorder) RecordToolExecution(toolName string, _ time.Duration, _ bool) {
	r.toolCalls = append(r.toolCalls, toolName)
}

func (r *fakeRecorder) RecordAgentInvocation(usage telemetry.Usage, cycles int, _ bool) {
	r.invocations = append(r.invocations, cycles)
	r.lastUsage = usage
}

func (r *fakeRecorder) RecordCycle(duration time.Duration) {
	r.cycles = append(r.cycles, duration)
}

// cycleOnlyRecorder implements just one capability interface.
type cycleOnlyRecorder struct {
	cycles int
}

func (r *cycleOnlyRecorder) RecordCycle(time.Duration) { r.cycles++ }

func sampleUsage(input, output int64) telemetry.Usage {
	return telemetry.Usage{InputTokens: input, OutputTokens: output, TotalTokens: input + output}
}

func TestAggregatorThreeScopeFanOut(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	agg.ResetUsageMetrics()
	_, node, start := agg.StartCycle()

	agg.UpdateUsage(sampleUsage(100, 20))
	agg.EndCycle(start, node, nil)

	_, node2, start2 := agg.StartCycle()
	agg.UpdateUsage(sampleUsage(50, 10))
	agg.EndCycle(start2, node2, nil)

	summary := agg.Summary()
	if summary.AccumulatedUsage.TotalTokens != 180 {
		t.Fatalf("grand total=%d, want 180", summary.AccumulatedUsage.TotalTokens)
	}
	if len(summary.Invocations) != 1 {
		t.Fatalf("invocations=%d, want 1", len(summary.Invocations))
	}
	inv := summary.Invocations[0]
	if inv.Usage.TotalTokens != 180 {
		t.Fatalf("invocation total=%d, want 180", inv.Usage.TotalTokens)
	}
	if len(inv.Cycles) != 2 {
		t.Fatalf("cycles=%d, want 2", len(inv.Cycles))
	}
	// Usage recorded inside each cycle lands on that cycle only.
	if inv.Cycles[0].Usage.TotalTokens != 120 {
		t.Fatalf("cycle-1 total=%d, want 120", inv.Cycles[0].Usage.TotalTokens)
	}
	if inv.Cycles[1].Usage.TotalTokens != 60 {
		t.Fatalf("cycle-2 total=%d, want 60", inv.Cycles[1].Usage.TotalTokens)
	}
}

func TestAggregatorResetKeepsCumulativeState(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	agg.ResetUsageMetrics()
	_, node, start := agg.StartCycle()
	agg.UpdateUsage(sampleUsage(100, 0))
	agg.AddToolUsage("search", "toolu_1", 5*time.Millisecond, nil, true, nil)
	agg.EndCycle(start, node, nil)
	agg.FinishInvocation(nil, false)

	agg.ResetUsageMetrics()
	_, node2, start2 := agg.StartCycle()
	agg.UpdateUsage(sampleUsage(30, 0))
	agg.EndCycle(start2, node2, nil)
	agg.FinishInvocation(nil, false)

	summary := agg.Summary()
	// Grand totals and per-tool counters survive the reset.
	if summary.AccumulatedUsage.InputTokens != 130 {
		t.Fatalf("grand input=%d, want 130", summary.AccumulatedUsage.InputTokens)
	}
	if summary.ToolUsage["search"].CallCount != 1 {
		t.Fatalf("search calls=%d, want 1", summary.ToolUsage["search"].CallCount)
	}
	if summary.TotalCycles != 2 {
		t.Fatalf("total cycles=%d, want 2", summary.TotalCycles)
	}
	// Cycle ids restart per invocation.
	if len(summary.Invocations) != 2 {
		t.Fatalf("invocations=%d, want 2", len(summary.Invocations))
	}
	if got := summary.Invocations[1].Cycles[0].CycleID; got != "cycle-1" {
		t.Fatalf("second invocation first cycle id=%q, want cycle-1", got)
	}
	// The second invocation only saw its own usage.
	if summary.Invocations[1].Usage.InputTokens != 30 {
		t.Fatalf("second invocation input=%d, want 30", summary.Invocations[1].Usage.InputTokens)
	}
}

func TestAggregatorLazyInvocationOnStartCycle(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	cycleID, node, _ := agg.StartCycle()
	if cycleID != "cycle-1" {
		t.Fatalf("cycle id=%q, want cycle-1", cycleID)
	}
	if node == nil {
		t.Fatal("StartCycle() returned nil node")
	}
	if len(agg.Summary().Invocations) != 1 {
		t.Fatal("StartCycle() without invocation start should create one")
	}
}

func TestAggregatorUnknownToolSentinel(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	agg.AddToolUsage("", "toolu_1", 0, nil, false, nil)
	agg.AddToolUsage("", "toolu_2", 0, nil, true, nil)

	stats := agg.Summary().ToolUsage[UnknownToolName]
	if stats.CallCount != 2 || stats.SuccessCount != 1 || stats.ErrorCount != 1 {
		t.Fatalf("unknown tool stats=%+v, want 2 calls split 1/1", stats)
	}
}

func TestAggregatorAccumulatedUsageOverride(t *testing.T) {
	t.Parallel()

	recorder := &fakeRecorder{}
	agg := NewAggregator(WithRecorder(recorder))
	agg.ResetUsageMetrics()
	agg.UpdateUsage(sampleUsage(10, 10))

	override := sampleUsage(500, 100)
	agg.FinishInvocation(&override, false)

	summary := agg.Summary()
	if summary.Invocations[0].Usage.TotalTokens != 600 {
		t.Fatalf("invocation total=%d, want orchestrator-accumulated 600", summary.Invocations[0].Usage.TotalTokens)
	}
	// Grand total keeps the locally tracked value.
	if summary.AccumulatedUsage.TotalTokens != 20 {
		t.Fatalf("grand total=%d, want 20", summary.AccumulatedUsage.TotalTokens)
	}
	if recorder.lastUsage.TotalTokens != 600 {
		t.Fatalf("recorder usage=%d, want 600", recorder.lastUsage.TotalTokens)
	}
}

func TestAggregatorRecorderCapabilities(t *testing.T) {
	t.Parallel()

	recorder := &fakeRecorder{}
	agg := NewAggregator(WithRecorder(recorder))
	agg.ResetUsageMetrics()
	_, node, start := agg.StartCycle()
	usage := sampleUsage(10, 5)
	agg.ObserveModelCall(&usage, &telemetry.CallMetrics{LatencyMS: 100}, false)
	agg.AddToolUsage("search", "toolu_1", time.Millisecond, nil, true, nil)
	agg.EndCycle(start, node, nil)
	agg.FinishInvocation(nil, false)

	if recorder.modelCalls != 1 {
		t.Fatalf("model calls=%d, want 1", recorder.modelCalls)
	}
	if len(recorder.toolCalls) != 1 || recorder.toolCalls[0] != "search" {
		t.Fatalf("tool calls=%v, want [search]", recorder.toolCalls)
	}
	if len(recorder.cycles) != 1 {
		t.Fatalf("cycle records=%d, want 1", len(recorder.cycles))
	}
	if len(recorder.invocations) != 1 || recorder.invocations[0] != 1 {
		t.Fatalf("invocation records=%v, want [1]", recorder.invocations)
	}
}

func TestAggregatorPartialRecorderIsTolerated(t *testing.T) {
	t.Parallel()

	recorder := &cycleOnlyRecorder{}
	agg := NewAggregator(WithRecorder(recorder))
	agg.ResetUsageMetrics()
	_, node, start := agg.StartCycle()
	usage := sampleUsage(10, 5)
	agg.ObserveModelCall(&usage, nil, false)
	agg.AddToolUsage("search", "toolu_1", 0, nil, true, nil)
	agg.EndCycle(start, node, nil)
	agg.FinishInvocation(nil, false)

	if recorder.cycles != 1 {
		t.Fatalf("cycle records=%d, want 1", recorder.cycles)
	}
}

func TestAggregatorSharedToolRegistry(t *testing.T) {
	t.Parallel()

	registry := NewToolRegistry()
	first := NewAggregator(WithToolRegistry(registry))
	second := NewAggregator(WithToolRegistry(registry))

	first.AddToolUsage("search", "a", time.Millisecond, nil, true, nil)
	second.AddToolUsage("search", "b", time.Millisecond, nil, false, nil)

	stats := registry.Snapshot()["search"]
	if stats.CallCount != 2 || stats.SuccessCount != 1 || stats.ErrorCount != 1 {
		t.Fatalf("shared stats=%+v, want interleaved counts", stats)
	}
}

func TestSummaryZeroGuards(t *testing.T) {
	t.Parallel()

	summary := NewAggregator().Summary()
	if summary.AverageCycleDuration != 0 {
		t.Fatalf("avg cycle duration=%v, want 0", summary.AverageCycleDuration)
	}
	if summary.TotalCycles != 0 {
		t.Fatalf("total cycles=%d, want 0", summary.TotalCycles)
	}
	if (ToolMetrics{}).SuccessRate() != 0 {
		t.Fatal("success rate with no calls should be 0")
	}
	// The report renders without NaN.
	if got := summary.String(); got == "" {
		t.Fatal("empty summary should still render")
	}
}

func TestFinishInvocationWithoutActiveIsNoOp(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	agg.FinishInvocation(nil, false)

	if len(agg.Summary().Invocations) != 0 {
		t.Fatal("orphan finish created an invocation record")
	}
}
