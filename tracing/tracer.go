package tracing

import (
	"fmt"
	"log/slog"

	"github.com/ongoingai/agenttrace/hooks"
	"github.com/ongoingai/agenttrace/telemetry"
)

// Tracer is the span lifecycle state machine. It consumes the ordered
// lifecycle event stream of one agent instance and opens/closes backend
// spans with correct parent/child linkage:
//
//	invoke_agent
//	└── cycle-1 (optional layer)
//	    ├── chat
//	    └── execute_tool …
//
// Events for one invocation arrive in a single strict order from the
// orchestrator, so invocation-scoped state needs no locking; use one Tracer
// per agent instance. Tool spans from one model turn may be open
// concurrently and are keyed by tool-use id.
//
// Every "after" handler is defensive: invoked with no matching open span it
// logs a warning and returns. Telemetry failures never surface into the
// orchestrator's control flow.
//
// Cycle numbering (cycle-1, cycle-2, …) is sequential per Tracer; two agents
// sharing one backend may both emit cycle-1. Backends must key on span
// identity, not the label.
type Tracer struct {
	backend    SpanBackend
	logger     *slog.Logger
	cycleSpans bool

	agentSpan      *Span
	cycleSpan      *Span
	modelSpan      *Span
	toolSpans      map[string]*Span
	activeToolSpan *Span

	cycleCount int
	usage      telemetry.Usage
	metrics    telemetry.CallMetrics
	cycleUsage telemetry.Usage
}

var _ hooks.Subscriber = (*Tracer)(nil)

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithLogger sets the logger used for protocol-violation warnings.
func WithLogger(logger *slog.Logger) TracerOption {
	return func(t *Tracer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithoutCycleSpans disables the per-iteration span layer. Model and tool
// spans then parent directly to the agent span and the cycle counter stays 0.
func WithoutCycleSpans() TracerOption {
	return func(t *Tracer) {
		t.cycleSpans = false
	}
}

// NewTracer builds a Tracer on the given backend. A nil backend degrades to
// NoopBackend so control flow is identical with no exporter attached.
func NewTracer(backend SpanBackend, opts ...TracerOption) *Tracer {
	if backend == nil {
		backend = NoopBackend{}
	}
	t := &Tracer{
		backend:    backend,
		logger:     slog.Default(),
		cycleSpans: true,
		toolSpans:  make(map[string]*Span),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AgentSpan returns the open agent span, or nil outside an invocation.
func (t *Tracer) AgentSpan() *Span {
	if t == nil {
		return nil
	}
	return t.agentSpan
}

// ActiveToolSpan returns the most recently opened, still-open tool span.
// Tools use it as the parent for their own sub-operations and outbound
// calls; it is the explicit side channel replacing event mutation.
func (t *Tracer) ActiveToolSpan() *Span {
	if t == nil {
		return nil
	}
	return t.activeToolSpan
}

// ActiveSpan returns the innermost open span: tool, then model, then cycle,
// then agent.
func (t *Tracer) ActiveSpan() *Span {
	if t == nil {
		return nil
	}
	switch {
	case t.activeToolSpan != nil:
		return t.activeToolSpan
	case t.modelSpan != nil:
		return t.modelSpan
	case t.cycleSpan != nil:
		return t.cycleSpan
	default:
		return t.agentSpan
	}
}

// CycleCount returns the number of cycles opened in the current invocation.
func (t *Tracer) CycleCount() int {
	if t == nil {
		return 0
	}
	return t.cycleCount
}

// OnBeforeInvocation resets all per-invocation state and opens the agent
// span. The reset must be unconditional: a prior invocation abandoned
// without its terminal event leaves open spans and stale accumulators
// behind, and the new invocation must start from a clean slate. Orphaned
// backend spans are not retroactively closed.
func (t *Tracer) OnBeforeInvocation(e hooks.BeforeInvocationEvent) {
	if t == nil {
		return
	}
	t.agentSpan = nil
	t.cycleSpan = nil
	t.modelSpan = nil
	t.toolSpans = make(map[string]*Span)
	t.activeToolSpan = nil
	t.cycleCount = 0
	t.usage = telemetry.Usage{}
	t.metrics = telemetry.CallMetrics{}
	t.cycleUsage = telemetry.Usage{}

	attrs := map[string]any{
		AttrOperationName: OperationInvokeAgent,
		AttrAgentName:     e.AgentName,
		AttrAgentID:       e.AgentID,
		AttrRequestModel:  e.ModelID,
	}
	if len(e.Tools) > 0 {
		attrs[AttrAgentTools] = e.Tools
	}
	if e.SystemPrompt != "" {
		attrs[AttrSystemInstructions] = e.SystemPrompt
	}
	if len(e.InputMessages) > 0 {
		attrs[AttrInputMessageCount] = len(e.InputMessages)
	}
	t.agentSpan = t.backend.StartSpan(OperationInvokeAgent+" "+e.AgentName, nil, attrs)
}

// OnBeforeModelCall opens the model span, lazily opening a cycle span first
// when cycle spans are enabled and none is open.
func (t *Tracer) OnBeforeModelCall(_ hooks.BeforeModelCallEvent) {
	if t == nil {
		return
	}
	if t.cycleSpans && t.cycleSpan == nil {
		t.cycleCount++
		t.cycleUsage = telemetry.Usage{}
		cycleID := fmt.Sprintf("cycle-%d", t.cycleCount)
		t.cycleSpan = t.backend.StartSpan(cycleID, t.agentSpan, map[string]any{
			AttrCycleID: cycleID,
		})
	}

	parent := t.cycleSpan
	if parent == nil {
		parent = t.agentSpan
	}
	t.modelSpan = t.backend.StartSpan(OperationChat, parent, map[string]any{
		AttrOperationName: OperationChat,
	})
}

// OnAfterModelCall accumulates usage, closes the model span, and closes the
// cycle span when the stop reason indicates a final answer. That close is an
// inferred boundary: no explicit cycle-complete event exists on the
// non-tool-use path.
func (t *Tracer) OnAfterModelCall(e hooks.AfterModelCallEvent) {
	if t == nil {
		return
	}
	if e.Usage != nil {
		t.usage.Add(*e.Usage)
		if t.cycleSpans {
			t.cycleUsage.Add(*e.Usage)
		}
	}
	if e.Metrics != nil {
		t.metrics.Add(*e.Metrics)
	}

	if t.modelSpan == nil {
		t.logger.Warn("model call ended with no open model span")
	} else {
		end := EndOptions{Status: StatusOK, Error: e.Error}
		end.Attributes = map[string]any{}
		if e.StopReason != "" {
			end.Attributes[AttrResponseFinishReason] = e.StopReason
		}
		if e.Usage != nil {
			addUsageAttributes(end.Attributes, *e.Usage)
		}
		if e.Metrics != nil {
			if e.Metrics.LatencyMS > 0 {
				end.Attributes[AttrLatencyMS] = e.Metrics.LatencyMS
			}
			if e.Metrics.TimeToFirstTokenMS > 0 {
				end.Attributes[AttrTimeToFirstTokenMS] = e.Metrics.TimeToFirstTokenMS
			}
		}
		if e.Error != nil {
			end.Status = StatusError
		}
		t.backend.EndSpan(t.modelSpan, end)
		t.modelSpan = nil
	}

	// tool_use keeps the cycle open across the pending tool calls; it then
	// closes in OnAfterTools.
	if e.StopReason != hooks.StopReasonToolUse && t.cycleSpan != nil {
		t.endCycleSpan(EndOptions{Status: StatusOK, Error: e.Error})
	}
}

// OnBeforeToolCall opens a tool span parented to the open cycle span, or to
// the agent span when cycle spans are disabled. Spans are keyed by tool-use
// id so several calls from one model turn can be in flight together.
func (t *Tracer) OnBeforeToolCall(e hooks.BeforeToolCallEvent) {
	if t == nil {
		return
	}
	parent := t.cycleSpan
	if parent == nil {
		parent = t.agentSpan
	}
	attrs := map[string]any{
		AttrOperationName: OperationExecuteTool,
		AttrToolName:      e.ToolName,
		AttrToolCallID:    e.ToolUseID,
	}
	if e.Input != nil {
		attrs[AttrToolArguments] = e.Input
	}
	span := t.backend.StartSpan(OperationExecuteTool+" "+e.ToolName, parent, attrs)
	t.toolSpans[e.ToolUseID] = span
	t.activeToolSpan = span
}

// OnAfterToolCall closes the tool span matching the tool-use id. A missing
// entry (duplicate result, result for a call never announced) is a warning,
// never a fault.
func (t *Tracer) OnAfterToolCall(e hooks.AfterToolCallEvent) {
	if t == nil {
		return
	}
	span, ok := t.toolSpans[e.ToolUseID]
	if !ok {
		t.logger.Warn("tool call ended with no open tool span", "tool_use_id", e.ToolUseID)
		return
	}
	delete(t.toolSpans, e.ToolUseID)
	if t.activeToolSpan == span {
		t.activeToolSpan = nil
	}

	end := EndOptions{Status: StatusOK, Error: e.Error}
	end.Attributes = map[string]any{AttrToolStatus: e.Status}
	if e.Content != nil {
		end.Attributes[AttrToolResult] = e.Content
	}
	if e.Error != nil || e.Status == hooks.ToolStatusError {
		end.Status = StatusError
	}
	t.backend.EndSpan(span, end)
}

// OnAfterTools closes the cycle span left open by a tool_use stop reason,
// recording the aggregated tool-result message. The other half of the
// inferred cycle boundary.
func (t *Tracer) OnAfterTools(e hooks.AfterToolsEvent) {
	if t == nil || t.cycleSpan == nil {
		return
	}
	end := EndOptions{Status: StatusOK}
	if e.Message != nil {
		end.Events = append(end.Events, Event{Name: "tool_results", Attributes: map[string]any{
			"message.role": e.Message.Role,
		}})
	}
	t.endCycleSpan(end)
}

// OnAfterInvocation closes the agent span, preferring the orchestrator's
// accumulated usage over the locally tracked total.
func (t *Tracer) OnAfterInvocation(e hooks.AfterInvocationEvent) {
	if t == nil {
		return
	}
	if t.agentSpan == nil {
		t.logger.Warn("invocation ended with no open agent span")
		return
	}

	usage := t.usage
	if e.AccumulatedUsage != nil {
		usage = *e.AccumulatedUsage
	}
	end := EndOptions{Status: StatusOK, Error: e.Error}
	end.Attributes = map[string]any{}
	addUsageAttributes(end.Attributes, usage)
	if e.Result != nil && e.Result.StopReason != "" {
		end.Attributes[AttrResponseFinishReason] = e.Result.StopReason
	}
	if e.Error != nil {
		end.Status = StatusError
	}
	t.backend.EndSpan(t.agentSpan, end)
	t.agentSpan = nil
}

func (t *Tracer) endCycleSpan(end EndOptions) {
	if end.Attributes == nil {
		end.Attributes = map[string]any{}
	}
	addUsageAttributes(end.Attributes, t.cycleUsage)
	if end.Error != nil {
		end.Status = StatusError
	}
	t.backend.EndSpan(t.cycleSpan, end)
	t.cycleSpan = nil
	t.cycleUsage = telemetry.Usage{}
}

func addUsageAttributes(attrs map[string]any, u telemetry.Usage) {
	attrs[AttrUsageInputTokens] = u.InputTokens
	attrs[AttrUsageOutputTokens] = u.OutputTokens
	attrs[AttrUsageTotalTokens] = u.TotalTokens
	if u.CacheReadInputTokens > 0 {
		attrs[AttrUsageCacheReadTokens] = u.CacheReadInputTokens
	}
	if u.CacheWriteInputTokens > 0 {
		attrs[AttrUsageCacheWriteTokens] = u.CacheWriteInputTokens
	}
}
