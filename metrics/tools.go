package metrics

import (
	"sync"
	"time"
)

// UnknownToolName is the accumulation key substituted when a tool call
// carries no tool name. It is a real key: repeated anonymous calls pile up
// under it across invocations exactly like a named tool.
const UnknownToolName = "unknown_tool"

// ToolMetrics are cumulative per-tool counters for the process lifetime.
// They are never reset when a new invocation starts.
type ToolMetrics struct {
	CallCount    int64         `json:"call_count"`
	SuccessCount int64         `json:"success_count"`
	ErrorCount   int64         `json:"error_count"`
	TotalTime    time.Duration `json:"total_time"`
}

// SuccessRate is SuccessCount/CallCount, 0 when no calls were recorded.
func (m ToolMetrics) SuccessRate() float64 {
	if m.CallCount == 0 {
		return 0
	}
	return float64(m.SuccessCount) / float64(m.CallCount)
}

// ToolRegistry holds per-tool counters shared across every agent in the
// process. All updates are additive, so interleaving from concurrent agents
// is safe. Create one at startup and inject it into each aggregator; tests
// substitute their own.
type ToolRegistry struct {
	mu    sync.Mutex
	tools map[string]*ToolMetrics
}

// NewToolRegistry returns an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*ToolMetrics)}
}

// Record accumulates one tool execution, creating the entry lazily. An
// empty name accumulates under UnknownToolName. It returns the key used.
func (r *ToolRegistry) Record(toolName string, duration time.Duration, success bool) string {
	if r == nil {
		return toolName
	}
	if toolName == "" {
		toolName = UnknownToolName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tools == nil {
		r.tools = make(map[string]*ToolMetrics)
	}
	entry, ok := r.tools[toolName]
	if !ok {
		entry = &ToolMetrics{}
		r.tools[toolName] = entry
	}
	entry.CallCount++
	if success {
		entry.SuccessCount++
	} else {
		entry.ErrorCount++
	}
	entry.TotalTime += duration
	return toolName
}

// Snapshot returns a copy of every tool's counters.
func (r *ToolRegistry) Snapshot() map[string]ToolMetrics {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]ToolMetrics, len(r.tools))
	for name, entry := range r.tools {
		out[name] = *entry
	}
	return out
}
