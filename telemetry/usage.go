// Package telemetry holds the value types shared by the tracing and metrics
// pipelines: token usage and per-call latency records.
package telemetry

// Usage counts tokens consumed by one or more model calls. The cache fields
// are optional on the wire; absent values are zero and contribute nothing.
type Usage struct {
	InputTokens           int64 `json:"input_tokens"`
	OutputTokens          int64 `json:"output_tokens"`
	TotalTokens           int64 `json:"total_tokens"`
	CacheReadInputTokens  int64 `json:"cache_read_input_tokens,omitempty"`
	CacheWriteInputTokens int64 `json:"cache_write_input_tokens,omitempty"`
}

// Add accumulates other into u field by field. Addition is associative and
// commutative, so independent calls can be merged in any order.
func (u *Usage) Add(other Usage) {
	if u == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
	u.CacheWriteInputTokens += other.CacheWriteInputTokens
}

// IsZero reports whether no tokens were recorded.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

// CallMetrics captures per-call latency measurements. Zero values mean the
// measurement was unavailable, not that the call took no time.
type CallMetrics struct {
	LatencyMS          int64 `json:"latency_ms,omitempty"`
	TimeToFirstTokenMS int64 `json:"time_to_first_token_ms,omitempty"`
}

// Add accumulates other into m field by field.
func (m *CallMetrics) Add(other CallMetrics) {
	if m == nil {
		return
	}
	m.LatencyMS += other.LatencyMS
	m.TimeToFirstTokenMS += other.TimeToFirstTokenMS
}
