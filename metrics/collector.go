package metrics

import (
	"time"

	"github.com/ongoingai/agenttrace/hooks"
)

// Collector adapts the lifecycle event stream onto an Aggregator. Like the
// span state machine it infers cycle boundaries: a cycle opens on the first
// model call of an iteration and closes either when the model returns a
// final answer or when all requested tool calls have completed.
//
// Use one Collector per agent instance; the Aggregator's shared state
// (tool registry) is what crosses agents.
type Collector struct {
	agg *Aggregator

	cycleNode  *TraceNode
	cycleStart time.Time
	toolCalls  map[string]pendingToolCall
}

type pendingToolCall struct {
	name  string
	node  *TraceNode
	start time.Time
}

var _ hooks.Subscriber = (*Collector)(nil)

// NewCollector wraps the given aggregator. A nil aggregator is replaced
// with a standalone one.
func NewCollector(agg *Aggregator) *Collector {
	if agg == nil {
		agg = NewAggregator()
	}
	return &Collector{
		agg:       agg,
		toolCalls: make(map[string]pendingToolCall),
	}
}

// Aggregator exposes the underlying engine, e.g. for Summary.
func (c *Collector) Aggregator() *Aggregator {
	if c == nil {
		return nil
	}
	return c.agg
}

// OnBeforeInvocation starts a fresh invocation record and drops any state a
// prior abandoned invocation left behind.
func (c *Collector) OnBeforeInvocation(_ hooks.BeforeInvocationEvent) {
	if c == nil {
		return
	}
	c.cycleNode = nil
	c.cycleStart = time.Time{}
	c.toolCalls = make(map[string]pendingToolCall)
	c.agg.ResetUsageMetrics()
}

// OnBeforeModelCall opens a cycle record lazily on the first model call of
// an iteration.
func (c *Collector) OnBeforeModelCall(_ hooks.BeforeModelCallEvent) {
	if c == nil {
		return
	}
	if c.cycleNode == nil {
		_, node, start := c.agg.StartCycle()
		c.cycleNode = node
		c.cycleStart = start
	}
}

// OnAfterModelCall accumulates usage/latency and, on a final answer, closes
// the cycle. A tool_use stop reason keeps the cycle open until OnAfterTools.
func (c *Collector) OnAfterModelCall(e hooks.AfterModelCallEvent) {
	if c == nil {
		return
	}
	c.agg.ObserveModelCall(e.Usage, e.Metrics, e.Error != nil)
	if e.StopReason != hooks.StopReasonToolUse && c.cycleNode != nil {
		var message any
		if e.Message != nil {
			message = e.Message
		}
		c.agg.EndCycle(c.cycleStart, c.cycleNode, message)
		c.cycleNode = nil
		c.cycleStart = time.Time{}
	}
}

// OnBeforeToolCall opens a trace node for the tool call under the active
// cycle and remembers its start time by tool-use id.
func (c *Collector) OnBeforeToolCall(e hooks.BeforeToolCallEvent) {
	if c == nil {
		return
	}
	node := NewTraceNode(e.ToolName)
	if c.cycleNode != nil {
		c.cycleNode.AddChild(node)
	}
	c.toolCalls[e.ToolUseID] = pendingToolCall{
		name:  e.ToolName,
		node:  node,
		start: node.StartTime,
	}
}

// OnAfterToolCall resolves the pending call and accumulates its outcome. A
// result whose tool-use id matches no pending call (duplicate end, stale id
// from a prior invocation) is warned about and ignored so one execution is
// never counted twice.
func (c *Collector) OnAfterToolCall(e hooks.AfterToolCallEvent) {
	if c == nil {
		return
	}
	pending, ok := c.toolCalls[e.ToolUseID]
	if !ok {
		c.agg.logger.Warn("tool result without matching start", "tool_use_id", e.ToolUseID)
		return
	}
	success := e.Status != hooks.ToolStatusError && e.Error == nil
	delete(c.toolCalls, e.ToolUseID)
	c.agg.AddToolUsage(pending.name, e.ToolUseID, time.Since(pending.start), pending.node, success, e.Content)
}

// OnAfterTools closes the cycle held open across the tool calls, attaching
// the aggregated tool-result message.
func (c *Collector) OnAfterTools(e hooks.AfterToolsEvent) {
	if c == nil || c.cycleNode == nil {
		return
	}
	var message any
	if e.Message != nil {
		message = e.Message
	}
	c.agg.EndCycle(c.cycleStart, c.cycleNode, message)
	c.cycleNode = nil
	c.cycleStart = time.Time{}
}

// OnAfterInvocation finishes the invocation record.
func (c *Collector) OnAfterInvocation(e hooks.AfterInvocationEvent) {
	if c == nil {
		return
	}
	c.agg.FinishInvocation(e.AccumulatedUsage, e.Error != nil)
}
