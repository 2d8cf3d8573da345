package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ongoingai/agenttrace/hooks"
	"github.com/ongoingai/agenttrace/telemetry"
)

// Sink subscribes to lifecycle events and turns each finished invocation
// into a persisted record via the async Writer. It keeps only the state of
// the invocation currently in flight; finished work leaves through the
// writer queue immediately.
type Sink struct {
	writer *Writer
	logger *slog.Logger
	// TreeSource, when set, is consulted at invocation end for a rendered
	// trace tree to store alongside the record.
	TreeSource func() string

	mu          sync.Mutex
	current     *InvocationRecord
	tools       []*ToolExecutionRecord
	openTools   map[string]openToolCall
	usage       telemetry.Usage
	metrics     telemetry.CallMetrics
	cycleOpen   bool
	errorCount  int
	lastStop    string
	sawModelErr bool
}

type openToolCall struct {
	name  string
	start time.Time
}

var _ hooks.Subscriber = (*Sink)(nil)

// NewSink wires a Sink to the given writer. A nil logger falls back to the
// process default.
func NewSink(writer *Writer, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		writer:    writer,
		logger:    logger,
		openTools: make(map[string]openToolCall),
	}
}

func (s *Sink) OnBeforeInvocation(e hooks.BeforeInvocationEvent) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.logger.Warn("invocation started while previous record still open; discarding stale record",
			"agent_name", s.current.AgentName)
	}

	s.current = &InvocationRecord{
		ID:        uuid.NewString(),
		AgentName: e.AgentName,
		AgentID:   e.AgentID,
		Model:     e.ModelID,
		StartedAt: time.Now().UTC(),
		Status:    StatusOK,
	}
	s.tools = nil
	s.openTools = make(map[string]openToolCall)
	s.usage = telemetry.Usage{}
	s.metrics = telemetry.CallMetrics{}
	s.cycleOpen = false
	s.errorCount = 0
	s.lastStop = ""
	s.sawModelErr = false
}

func (s *Sink) OnBeforeModelCall(hooks.BeforeModelCallEvent) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}
	if !s.cycleOpen {
		s.cycleOpen = true
		s.current.CycleCount++
	}
}

func (s *Sink) OnAfterModelCall(e hooks.AfterModelCallEvent) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}
	if e.Usage != nil {
		s.usage.Add(*e.Usage)
	}
	if e.Metrics != nil {
		s.metrics.Add(*e.Metrics)
	}
	if e.StopReason != "" {
		s.lastStop = e.StopReason
	}
	if e.Error != nil {
		s.errorCount++
		s.sawModelErr = true
	}
	// A stop other than tool_use means the loop will not request tools, so
	// the cycle is over.
	if e.StopReason != hooks.StopReasonToolUse {
		s.cycleOpen = false
	}
}

func (s *Sink) OnBeforeToolCall(e hooks.BeforeToolCallEvent) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}
	s.openTools[e.ToolUseID] = openToolCall{name: e.ToolName, start: time.Now()}
}

func (s *Sink) OnAfterToolCall(e hooks.AfterToolCallEvent) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}

	open, ok := s.openTools[e.ToolUseID]
	if !ok {
		// Duplicate or stale result; recording it would inflate the stored
		// tool and error counts.
		s.logger.Warn("tool call ended with no matching start", "tool_use_id", e.ToolUseID)
		return
	}
	delete(s.openTools, e.ToolUseID)

	record := &ToolExecutionRecord{
		ID:           uuid.NewString(),
		InvocationID: s.current.ID,
		ToolName:     open.name,
		ToolUseID:    e.ToolUseID,
		DurationMS:   time.Since(open.start).Milliseconds(),
		Success:      e.Status == hooks.ToolStatusSuccess && e.Error == nil,
		CreatedAt:    time.Now().UTC(),
	}
	if !record.Success {
		s.errorCount++
	}
	s.current.ToolCallCount++
	s.tools = append(s.tools, record)
}

func (s *Sink) OnAfterTools(hooks.AfterToolsEvent) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycleOpen = false
}

func (s *Sink) OnAfterInvocation(e hooks.AfterInvocationEvent) {
	if s == nil {
		return
	}
	s.mu.Lock()
	record := s.current
	tools := s.tools
	s.current = nil
	s.tools = nil
	s.openTools = make(map[string]openToolCall)

	if record == nil {
		s.mu.Unlock()
		s.logger.Warn("invocation ended with no open record")
		return
	}

	usage := s.usage
	if e.AccumulatedUsage != nil {
		usage = *e.AccumulatedUsage
	}
	record.EndedAt = time.Now().UTC()
	record.DurationMS = record.EndedAt.Sub(record.StartedAt).Milliseconds()
	record.InputTokens = usage.InputTokens
	record.OutputTokens = usage.OutputTokens
	record.TotalTokens = usage.TotalTokens
	record.CacheReadTokens = usage.CacheReadInputTokens
	record.CacheWriteTokens = usage.CacheWriteInputTokens
	record.LatencyMS = s.metrics.LatencyMS
	record.TimeToFirstTokenMS = s.metrics.TimeToFirstTokenMS
	record.ErrorCount = s.errorCount
	record.StopReason = s.lastStop
	if e.Result != nil && e.Result.StopReason != "" {
		record.StopReason = e.Result.StopReason
	}
	if e.Error != nil || s.sawModelErr {
		record.Status = StatusError
	}
	s.mu.Unlock()

	if s.TreeSource != nil {
		record.Tree = s.TreeSource()
	}

	if s.writer == nil {
		return
	}
	if !s.writer.Enqueue(&Record{Invocation: record, Tools: tools}) {
		s.logger.Warn("invocation record dropped, writer queue full",
			"agent_name", record.AgentName, "invocation_id", record.ID)
	}
}
