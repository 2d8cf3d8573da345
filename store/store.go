// Package store persists finished invocation summaries and tool executions
// so agent runs can be inspected after the fact without a tracing backend.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("store record not found")
var ErrInvalidCursor = errors.New("invocation cursor is invalid")

func newRecordID() string { return uuid.NewString() }

// Store is the persistence contract for invocation telemetry.
type Store interface {
	WriteInvocation(ctx context.Context, inv *InvocationRecord) error
	WriteInvocationBatch(ctx context.Context, invs []*InvocationRecord) error
	WriteToolExecutions(ctx context.Context, execs []*ToolExecutionRecord) error
	GetInvocation(ctx context.Context, id string) (*InvocationRecord, error)
	QueryInvocations(ctx context.Context, filter InvocationFilter) (*InvocationResult, error)
	GetUsageSummary(ctx context.Context, filter InvocationFilter) (*UsageSummary, error)
	GetToolStats(ctx context.Context, filter InvocationFilter) ([]ToolStatRecord, error)
	Close() error
}

// InvocationRecord is one finished agent invocation.
type InvocationRecord struct {
	ID                 string
	AgentName          string
	AgentID            string
	Model              string
	StartedAt          time.Time
	EndedAt            time.Time
	DurationMS         int64
	CycleCount         int
	ToolCallCount      int
	ErrorCount         int
	StopReason         string
	Status             string
	InputTokens        int64
	OutputTokens       int64
	TotalTokens        int64
	CacheReadTokens    int64
	CacheWriteTokens   int64
	LatencyMS          int64
	TimeToFirstTokenMS int64
	Tree               string
	CreatedAt          time.Time
}

// Invocation statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ToolExecutionRecord is one finished tool call.
type ToolExecutionRecord struct {
	ID           string
	InvocationID string
	ToolName     string
	ToolUseID    string
	DurationMS   int64
	Success      bool
	CreatedAt    time.Time
}

// InvocationFilter narrows queries. Zero fields match everything.
type InvocationFilter struct {
	AgentName string
	AgentID   string
	Model     string
	Status    string
	From      time.Time
	To        time.Time
	Limit     int
	Cursor    string
}

// InvocationResult is one page of invocations plus the cursor for the next.
type InvocationResult struct {
	Items      []*InvocationRecord
	NextCursor string
}

// UsageSummary aggregates token totals over the filtered invocations.
type UsageSummary struct {
	InvocationCount   int64
	TotalCycles       int64
	TotalInputTokens  int64
	TotalOutputTokens int64
	TotalTokens       int64
}

// ToolStatRecord aggregates executions per tool name.
type ToolStatRecord struct {
	ToolName     string
	CallCount    int64
	SuccessCount int64
	ErrorCount   int64
	TotalTimeMS  int64
}

// SuccessRate is SuccessCount/CallCount, 0 when no calls were recorded.
func (r ToolStatRecord) SuccessRate() float64 {
	if r.CallCount == 0 {
		return 0
	}
	return float64(r.SuccessCount) / float64(r.CallCount)
}
