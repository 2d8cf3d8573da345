package metrics

import (
	"time"

	"github.com/ongoingai/agenttrace/telemetry"
)

// Metrics backends are capability-checked: implement only the record
// methods you need. The aggregator type-asserts for each capability at the
// call site and silently skips the rest, so a partial backend behaves
// identically to a full one minus the missing signals.

// ModelCallRecorder receives one record per completed model call.
type ModelCallRecorder interface {
	RecordModelCall(usage telemetry.Usage, metrics telemetry.CallMetrics, failed bool)
}

// ToolExecutionRecorder receives one record per completed tool execution.
type ToolExecutionRecorder interface {
	RecordToolExecution(toolName string, duration time.Duration, success bool)
}

// AgentInvocationRecorder receives one record per completed invocation.
type AgentInvocationRecorder interface {
	RecordAgentInvocation(usage telemetry.Usage, cycles int, failed bool)
}

// CycleRecorder receives one record per completed event-loop cycle.
type CycleRecorder interface {
	RecordCycle(duration time.Duration)
}

func recordModelCall(backend any, usage telemetry.Usage, m telemetry.CallMetrics, failed bool) {
	if r, ok := backend.(ModelCallRecorder); ok {
		r.RecordModelCall(usage, m, failed)
	}
}

func recordToolExecution(backend any, toolName string, duration time.Duration, success bool) {
	if r, ok := backend.(ToolExecutionRecorder); ok {
		r.RecordToolExecution(toolName, duration, success)
	}
}

func recordAgentInvocation(backend any, usage telemetry.Usage, cycles int, failed bool) {
	if r, ok := backend.(AgentInvocationRecorder); ok {
		r.RecordAgentInvocation(usage, cycles, failed)
	}
}

func recordCycle(backend any, duration time.Duration) {
	if r, ok := backend.(CycleRecorder); ok {
		r.RecordCycle(duration)
	}
}
