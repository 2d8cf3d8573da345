// Package hooks defines the agent lifecycle event contract consumed by the
// tracing and metrics pipelines, and an ordered in-process registry for
// fanning events out to subscribers.
//
// The orchestration loop emits events in a single strict order per
// invocation; subscribers must tolerate partial sequences (an "after" event
// with no matching "before") without faulting.
package hooks

import "github.com/ongoingai/agenttrace/telemetry"

// Stop reasons reported by a model call. Providers normalize their own
// finish reasons onto these values; unrecognized reasons pass through raw.
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonToolUse   = "tool_use"
	StopReasonMaxTokens = "max_tokens"
)

// Tool execution statuses carried by AfterToolCallEvent.
const (
	ToolStatusSuccess = "success"
	ToolStatusError   = "error"
)

// Message is one conversation turn. Content is provider-shaped and treated
// as opaque by this module.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content,omitempty"`
}

// InvocationResult is the final outcome of an agent invocation.
type InvocationResult struct {
	Message    *Message `json:"message,omitempty"`
	StopReason string   `json:"stop_reason,omitempty"`
}

// BeforeInvocationEvent marks the start of one top-level agent call.
type BeforeInvocationEvent struct {
	AgentName     string    `json:"agent_name"`
	AgentID       string    `json:"agent_id"`
	ModelID       string    `json:"model_id"`
	Tools         []string  `json:"tools,omitempty"`
	SystemPrompt  string    `json:"system_prompt,omitempty"`
	InputMessages []Message `json:"input_messages,omitempty"`
}

// AfterInvocationEvent marks the end of an agent call. AccumulatedUsage, when
// supplied by the orchestrator, takes precedence over locally tracked totals.
type AfterInvocationEvent struct {
	Result           *InvocationResult `json:"result,omitempty"`
	AccumulatedUsage *telemetry.Usage  `json:"accumulated_usage,omitempty"`
	Error            error             `json:"-"`
}

// BeforeModelCallEvent marks the start of one model call. The first model
// call of a loop iteration implicitly opens a new cycle.
type BeforeModelCallEvent struct{}

// AfterModelCallEvent marks the end of a model call.
type AfterModelCallEvent struct {
	StopReason string                 `json:"stop_reason,omitempty"`
	Message    *Message               `json:"message,omitempty"`
	Usage      *telemetry.Usage       `json:"usage,omitempty"`
	Metrics    *telemetry.CallMetrics `json:"metrics,omitempty"`
	Error      error                  `json:"-"`
}

// BeforeToolCallEvent marks the start of one tool execution. ToolUseID
// correlates the eventual result; several tool calls from the same model
// turn may be in flight at once.
type BeforeToolCallEvent struct {
	ToolName  string `json:"tool_name"`
	ToolUseID string `json:"tool_use_id"`
	Input     any    `json:"input,omitempty"`
}

// AfterToolCallEvent marks the end of one tool execution.
type AfterToolCallEvent struct {
	ToolUseID string `json:"tool_use_id"`
	Status    string `json:"status"`
	Content   any    `json:"content,omitempty"`
	Error     error  `json:"-"`
}

// AfterToolsEvent marks the completion of every tool call requested by the
// preceding model turn. Message carries the aggregated tool results.
type AfterToolsEvent struct {
	Message *Message `json:"message,omitempty"`
}

// Subscriber receives lifecycle events. Implementations must never panic and
// must never surface errors into the orchestrator's control flow.
type Subscriber interface {
	OnBeforeInvocation(e BeforeInvocationEvent)
	OnAfterInvocation(e AfterInvocationEvent)
	OnBeforeModelCall(e BeforeModelCallEvent)
	OnAfterModelCall(e AfterModelCallEvent)
	OnBeforeToolCall(e BeforeToolCallEvent)
	OnAfterToolCall(e AfterToolCallEvent)
	OnAfterTools(e AfterToolsEvent)
}
