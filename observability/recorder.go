package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ongoingai/agenttrace/metrics"
	"github.com/ongoingai/agenttrace/telemetry"
)

// Recorder exports aggregate signals through OpenTelemetry instruments. It
// implements every capability interface in the metrics package; partial
// backends are for other implementations, this one records the full set.
type Recorder struct {
	tokenUsage       metric.Int64Counter
	modelCalls       metric.Int64Counter
	modelDuration    metric.Float64Histogram
	timeToFirstToken metric.Float64Histogram
	toolCalls        metric.Int64Counter
	toolDuration     metric.Float64Histogram
	cycleDuration    metric.Float64Histogram
	invocations      metric.Int64Counter
	invocationCycles metric.Int64Histogram
}

var (
	_ metrics.ModelCallRecorder       = (*Recorder)(nil)
	_ metrics.ToolExecutionRecorder   = (*Recorder)(nil)
	_ metrics.AgentInvocationRecorder = (*Recorder)(nil)
	_ metrics.CycleRecorder           = (*Recorder)(nil)
)

func newRecorder(meter metric.Meter, logger *slog.Logger) (*Recorder, error) {
	r := &Recorder{}
	warn := func(name string, err error) {
		if err != nil && logger != nil {
			logger.Warn("failed to create opentelemetry instrument", "metric", name, "error", err)
		}
	}

	var err error
	r.tokenUsage, err = meter.Int64Counter(
		"gen_ai.client.token.usage",
		metric.WithDescription("Tokens consumed by model calls, by token type."),
	)
	warn("gen_ai.client.token.usage", err)

	r.modelCalls, err = meter.Int64Counter(
		"agenttrace.model.calls_total",
		metric.WithDescription("Count of completed model calls."),
	)
	warn("agenttrace.model.calls_total", err)

	r.modelDuration, err = meter.Float64Histogram(
		"agenttrace.model.duration_ms",
		metric.WithDescription("Reported model call latency in milliseconds."),
	)
	warn("agenttrace.model.duration_ms", err)

	r.timeToFirstToken, err = meter.Float64Histogram(
		"agenttrace.model.time_to_first_token_ms",
		metric.WithDescription("Reported time to first token in milliseconds."),
	)
	warn("agenttrace.model.time_to_first_token_ms", err)

	r.toolCalls, err = meter.Int64Counter(
		"agenttrace.tool.calls_total",
		metric.WithDescription("Count of completed tool executions."),
	)
	warn("agenttrace.tool.calls_total", err)

	r.toolDuration, err = meter.Float64Histogram(
		"agenttrace.tool.duration_ms",
		metric.WithDescription("Tool execution duration in milliseconds."),
	)
	warn("agenttrace.tool.duration_ms", err)

	r.cycleDuration, err = meter.Float64Histogram(
		"agenttrace.cycle.duration_ms",
		metric.WithDescription("Event-loop cycle duration in milliseconds."),
	)
	warn("agenttrace.cycle.duration_ms", err)

	r.invocations, err = meter.Int64Counter(
		"agenttrace.invocations_total",
		metric.WithDescription("Count of completed agent invocations."),
	)
	warn("agenttrace.invocations_total", err)

	r.invocationCycles, err = meter.Int64Histogram(
		"agenttrace.invocation.cycles",
		metric.WithDescription("Cycles per completed agent invocation."),
	)
	warn("agenttrace.invocation.cycles", err)

	return r, nil
}

// RecordModelCall exports one completed model call.
func (r *Recorder) RecordModelCall(usage telemetry.Usage, m telemetry.CallMetrics, failed bool) {
	if r == nil {
		return
	}
	ctx := context.Background()
	r.addTokens(ctx, usage)
	if r.modelCalls != nil {
		r.modelCalls.Add(ctx, 1, metric.WithAttributes(attribute.Bool("error", failed)))
	}
	if r.modelDuration != nil && m.LatencyMS > 0 {
		r.modelDuration.Record(ctx, float64(m.LatencyMS))
	}
	if r.timeToFirstToken != nil && m.TimeToFirstTokenMS > 0 {
		r.timeToFirstToken.Record(ctx, float64(m.TimeToFirstTokenMS))
	}
}

// RecordToolExecution exports one completed tool execution.
func (r *Recorder) RecordToolExecution(toolName string, duration time.Duration, success bool) {
	if r == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("tool_name", toolName),
		attribute.Bool("success", success),
	)
	if r.toolCalls != nil {
		r.toolCalls.Add(ctx, 1, attrs)
	}
	if r.toolDuration != nil {
		r.toolDuration.Record(ctx, float64(duration)/float64(time.Millisecond), attrs)
	}
}

// RecordAgentInvocation exports one completed invocation.
func (r *Recorder) RecordAgentInvocation(usage telemetry.Usage, cycles int, failed bool) {
	if r == nil {
		return
	}
	ctx := context.Background()
	if r.invocations != nil {
		r.invocations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("error", failed)))
	}
	if r.invocationCycles != nil {
		r.invocationCycles.Record(ctx, int64(cycles))
	}
}

// RecordCycle exports one completed event-loop cycle.
func (r *Recorder) RecordCycle(duration time.Duration) {
	if r == nil || r.cycleDuration == nil {
		return
	}
	r.cycleDuration.Record(context.Background(), float64(duration)/float64(time.Millisecond))
}

func (r *Recorder) addTokens(ctx context.Context, usage telemetry.Usage) {
	if r.tokenUsage == nil {
		return
	}
	record := func(tokenType string, count int64) {
		if count > 0 {
			r.tokenUsage.Add(ctx, count, metric.WithAttributes(attribute.String("gen_ai.token.type", tokenType)))
		}
	}
	record("input", usage.InputTokens)
	record("output", usage.OutputTokens)
	record("cache_read", usage.CacheReadInputTokens)
	record("cache_write", usage.CacheWriteInputTokens)
}
