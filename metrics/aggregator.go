package metrics

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ongoingai/agenttrace/telemetry"
)

// Cycle is one iteration of the agent's reasoning loop, appended lazily on
// the first model call of the iteration.
type Cycle struct {
	CycleID string          `json:"cycle_id"`
	Usage   telemetry.Usage `json:"usage"`
}

// AgentInvocation is one top-level call into the agent.
type AgentInvocation struct {
	StartedAt time.Time             `json:"started_at"`
	Cycles    []*Cycle              `json:"cycles,omitempty"`
	Usage     telemetry.Usage       `json:"usage"`
	Metrics   telemetry.CallMetrics `json:"metrics"`
}

// CycleCount is the number of loop iterations the invocation ran.
func (inv *AgentInvocation) CycleCount() int {
	if inv == nil {
		return 0
	}
	return len(inv.Cycles)
}

// Aggregator is the metrics aggregation engine for one agent instance. It
// accumulates usage into three scopes at once (grand total, active
// invocation, active cycle), tracks cycle durations, builds the trace node
// tree, and feeds per-tool counters into a shared ToolRegistry.
//
// Per-invocation state is scoped to this aggregator; only the ToolRegistry
// may be shared across concurrent agents.
type Aggregator struct {
	mu       sync.Mutex
	logger   *slog.Logger
	recorder any
	tools    *ToolRegistry

	root           *TraceNode
	cycleSeq       int64
	cycleDurations []time.Duration
	accUsage       telemetry.Usage
	accMetrics     telemetry.CallMetrics
	invocations    []*AgentInvocation
	active         *AgentInvocation
	activeNode     *TraceNode
	activeCycle    *Cycle
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithRecorder attaches a capability-checked metrics backend. Any subset of
// the recorder interfaces may be implemented.
func WithRecorder(recorder any) AggregatorOption {
	return func(a *Aggregator) {
		a.recorder = recorder
	}
}

// WithToolRegistry shares per-tool counters with other aggregators.
func WithToolRegistry(registry *ToolRegistry) AggregatorOption {
	return func(a *Aggregator) {
		if registry != nil {
			a.tools = registry
		}
	}
}

// WithAggregatorLogger sets the logger for protocol-violation warnings.
func WithAggregatorLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAggregator builds an aggregator with its own tool registry unless one
// is injected.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		logger: slog.Default(),
		root:   NewTraceNode("trace"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.tools == nil {
		a.tools = NewToolRegistry()
	}
	return a
}

// ResetUsageMetrics starts tracking a new AgentInvocation: a fresh record is
// appended to the ordered invocation list and becomes the active scope, and
// any active cycle is abandoned. Cumulative per-tool statistics and the
// grand-total accumulators are deliberately left alone.
func (a *Aggregator) ResetUsageMetrics() {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	inv := &AgentInvocation{StartedAt: time.Now().UTC()}
	a.invocations = append(a.invocations, inv)
	a.active = inv
	a.activeCycle = nil

	node := NewTraceNode(fmt.Sprintf("invocation-%d", len(a.invocations)))
	a.root.AddChild(node)
	a.activeNode = node
}

// StartCycle increments the cycle counter, appends a Cycle record to the
// active invocation, and creates a trace node for it. It returns the cycle
// id, the node, and the start timestamp to hand back to EndCycle.
func (a *Aggregator) StartCycle() (string, *TraceNode, time.Time) {
	if a == nil {
		return "", nil, time.Time{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active == nil {
		// Tolerate a model call arriving before any invocation-start event.
		inv := &AgentInvocation{StartedAt: time.Now().UTC()}
		a.invocations = append(a.invocations, inv)
		a.active = inv
		node := NewTraceNode(fmt.Sprintf("invocation-%d", len(a.invocations)))
		a.root.AddChild(node)
		a.activeNode = node
	}

	a.cycleSeq++
	cycle := &Cycle{CycleID: fmt.Sprintf("cycle-%d", len(a.active.Cycles)+1)}
	a.active.Cycles = append(a.active.Cycles, cycle)
	a.activeCycle = cycle

	node := NewTraceNode(cycle.CycleID)
	a.activeNode.AddChild(node)
	return cycle.CycleID, node, node.StartTime
}

// EndCycle records the cycle duration, attaches the closing message to the
// node, and closes it. The active cycle scope ends here.
func (a *Aggregator) EndCycle(start time.Time, node *TraceNode, message any) {
	if a == nil {
		return
	}
	a.mu.Lock()
	duration := time.Since(start)
	if start.IsZero() {
		duration = 0
	}
	a.cycleDurations = append(a.cycleDurations, duration)
	a.activeCycle = nil
	recorder := a.recorder
	a.mu.Unlock()

	if node != nil {
		node.Message = message
		node.Close()
	}
	recordCycle(recorder, duration)
}

// AddToolUsage accumulates one tool execution into the shared per-tool
// counters, relabels the node as "{name} - {toolUseId}", and closes it. An
// absent tool name accumulates under UnknownToolName.
func (a *Aggregator) AddToolUsage(toolName, toolUseID string, duration time.Duration, node *TraceNode, success bool, message any) {
	if a == nil {
		return
	}
	name := a.tools.Record(toolName, duration, success)
	if node != nil {
		node.RawName = fmt.Sprintf("%s - %s", name, toolUseID)
		node.Message = message
		node.Close()
	}
	a.mu.Lock()
	recorder := a.recorder
	a.mu.Unlock()
	recordToolExecution(recorder, name, duration, success)
}

// UpdateUsage fans usage additively into the grand-total accumulator, the
// active invocation, and the active cycle. Absent scopes are skipped, never
// a fault.
func (a *Aggregator) UpdateUsage(u telemetry.Usage) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accUsage.Add(u)
	if a.active != nil {
		a.active.Usage.Add(u)
	}
	if a.activeCycle != nil {
		a.activeCycle.Usage.Add(u)
	}
}

// UpdateMetrics accumulates per-call latency metrics into the grand-total
// and active-invocation scopes.
func (a *Aggregator) UpdateMetrics(m telemetry.CallMetrics) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accMetrics.Add(m)
	if a.active != nil {
		a.active.Metrics.Add(m)
	}
}

// ObserveModelCall applies a completed model call: usage and latency land in
// all applicable scopes and the recorder sees one model-call record.
func (a *Aggregator) ObserveModelCall(usage *telemetry.Usage, m *telemetry.CallMetrics, failed bool) {
	if a == nil {
		return
	}
	var u telemetry.Usage
	if usage != nil {
		u = *usage
		a.UpdateUsage(u)
	}
	var cm telemetry.CallMetrics
	if m != nil {
		cm = *m
		a.UpdateMetrics(cm)
	}
	a.mu.Lock()
	recorder := a.recorder
	a.mu.Unlock()
	recordModelCall(recorder, u, cm, failed)
}

// FinishInvocation closes the active invocation's trace node and reports the
// invocation to the recorder. The orchestrator's accumulated usage, when
// provided, overrides the locally tracked invocation usage.
func (a *Aggregator) FinishInvocation(accumulated *telemetry.Usage, failed bool) {
	if a == nil {
		return
	}
	a.mu.Lock()
	inv := a.active
	node := a.activeNode
	if inv == nil {
		a.mu.Unlock()
		a.logger.Warn("invocation ended with no active invocation record")
		return
	}
	if accumulated != nil {
		inv.Usage = *accumulated
	}
	usage := inv.Usage
	cycles := len(inv.Cycles)
	a.active = nil
	a.activeCycle = nil
	a.activeNode = nil
	recorder := a.recorder
	a.mu.Unlock()

	node.Close()
	recordAgentInvocation(recorder, usage, cycles, failed)
}
