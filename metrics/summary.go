package metrics

import (
	"fmt"
	"strings"
	"time"

	"github.com/ongoingai/agenttrace/telemetry"
)

// ToolStats is the read-only per-tool view exposed by Summary.
type ToolStats struct {
	CallCount    int64         `json:"call_count"`
	SuccessCount int64         `json:"success_count"`
	ErrorCount   int64         `json:"error_count"`
	SuccessRate  float64       `json:"success_rate"`
	TotalTime    time.Duration `json:"total_time"`
	AverageTime  time.Duration `json:"average_time"`
}

// InvocationSummary is the read-only per-invocation view exposed by Summary.
type InvocationSummary struct {
	StartedAt  time.Time             `json:"started_at"`
	CycleCount int                   `json:"cycle_count"`
	Cycles     []Cycle               `json:"cycles,omitempty"`
	Usage      telemetry.Usage       `json:"usage"`
	Metrics    telemetry.CallMetrics `json:"metrics"`
}

// Summary is a point-in-time snapshot of everything the aggregator tracks.
// All derived values guard division by zero: averages and success rates are
// 0, never NaN, when nothing was recorded.
type Summary struct {
	TotalCycles          int64                 `json:"total_cycles"`
	TotalCycleDuration   time.Duration         `json:"total_cycle_duration"`
	AverageCycleDuration time.Duration         `json:"average_cycle_duration"`
	ToolUsage            map[string]ToolStats  `json:"tool_usage,omitempty"`
	AccumulatedUsage     telemetry.Usage       `json:"accumulated_usage"`
	AccumulatedMetrics   telemetry.CallMetrics `json:"accumulated_metrics"`
	Invocations          []InvocationSummary   `json:"invocations,omitempty"`
	Tree                 map[string]any        `json:"tree,omitempty"`
	TreeText             string                `json:"-"`
}

// Summary captures the current aggregates. The tree snapshot serializes the
// live nodes; open nodes appear without end times.
func (a *Aggregator) Summary() Summary {
	if a == nil {
		return Summary{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var total time.Duration
	for _, d := range a.cycleDurations {
		total += d
	}
	var avg time.Duration
	if len(a.cycleDurations) > 0 {
		avg = total / time.Duration(len(a.cycleDurations))
	}

	toolUsage := make(map[string]ToolStats)
	for name, tm := range a.tools.Snapshot() {
		stats := ToolStats{
			CallCount:    tm.CallCount,
			SuccessCount: tm.SuccessCount,
			ErrorCount:   tm.ErrorCount,
			SuccessRate:  tm.SuccessRate(),
			TotalTime:    tm.TotalTime,
		}
		if tm.CallCount > 0 {
			stats.AverageTime = tm.TotalTime / time.Duration(tm.CallCount)
		}
		toolUsage[name] = stats
	}

	invocations := make([]InvocationSummary, 0, len(a.invocations))
	for _, inv := range a.invocations {
		s := InvocationSummary{
			StartedAt:  inv.StartedAt,
			CycleCount: inv.CycleCount(),
			Usage:      inv.Usage,
			Metrics:    inv.Metrics,
		}
		for _, c := range inv.Cycles {
			s.Cycles = append(s.Cycles, *c)
		}
		invocations = append(invocations, s)
	}

	return Summary{
		TotalCycles:          a.cycleSeq,
		TotalCycleDuration:   total,
		AverageCycleDuration: avg,
		ToolUsage:            toolUsage,
		AccumulatedUsage:     a.accUsage,
		AccumulatedMetrics:   a.accMetrics,
		Invocations:          invocations,
		Tree:                 a.root.ToMap(),
		TreeText:             a.root.String(),
	}
}

// String renders the summary as a compact human-readable report.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cycles: %d (total %.2fms, avg %.2fms)\n",
		s.TotalCycles,
		float64(s.TotalCycleDuration)/float64(time.Millisecond),
		float64(s.AverageCycleDuration)/float64(time.Millisecond))
	fmt.Fprintf(&b, "tokens: in=%d out=%d total=%d cache_read=%d cache_write=%d\n",
		s.AccumulatedUsage.InputTokens,
		s.AccumulatedUsage.OutputTokens,
		s.AccumulatedUsage.TotalTokens,
		s.AccumulatedUsage.CacheReadInputTokens,
		s.AccumulatedUsage.CacheWriteInputTokens)
	if len(s.ToolUsage) > 0 {
		b.WriteString("tools:\n")
		for _, name := range sortedKeys(s.ToolUsage) {
			stats := s.ToolUsage[name]
			fmt.Fprintf(&b, "  %s: calls=%d ok=%d err=%d success=%.0f%% total=%.2fms\n",
				name, stats.CallCount, stats.SuccessCount, stats.ErrorCount,
				stats.SuccessRate*100,
				float64(stats.TotalTime)/float64(time.Millisecond))
		}
	}
	for i, inv := range s.Invocations {
		fmt.Fprintf(&b, "invocation %d: cycles=%d tokens=%d\n", i+1, inv.CycleCount, inv.Usage.TotalTokens)
	}
	if s.TreeText != "" {
		b.WriteString(s.TreeText)
	}
	return b.String()
}
