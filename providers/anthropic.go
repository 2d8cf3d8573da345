package providers

import (
	"encoding/json"
	"strings"

	"github.com/ongoingai/agenttrace/hooks"
	"github.com/ongoingai/agenttrace/telemetry"
)

// AnthropicAdapter normalizes messages-API responses. Anthropic already
// uses the canonical stop reason vocabulary, so values pass through.
type AnthropicAdapter struct{}

func (AnthropicAdapter) Name() string {
	return "anthropic"
}

func (AnthropicAdapter) AfterModelCall(body []byte, metrics *telemetry.CallMetrics) hooks.AfterModelCallEvent {
	event := hooks.AfterModelCallEvent{Metrics: metrics}

	payload, ok := parseJSONMap(body)
	if !ok {
		return event
	}

	if reason, _ := payload["stop_reason"].(string); reason != "" {
		event.StopReason = strings.TrimSpace(reason)
	}
	if role, _ := payload["role"].(string); role != "" {
		event.Message = &hooks.Message{Role: role, Content: payload["content"]}
	}
	event.Usage = usageFromPayload(payload)
	return event
}

func parseJSONMap(raw []byte) (map[string]any, bool) {
	value := strings.TrimSpace(string(raw))
	if value == "" {
		return nil, false
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(value), &out); err != nil {
		return nil, false
	}
	return out, true
}

func firstInt64(values map[string]any, keys ...string) int64 {
	for _, key := range keys {
		raw, ok := values[key]
		if !ok {
			continue
		}
		switch typed := raw.(type) {
		case float64:
			return int64(typed)
		case int:
			return int64(typed)
		}
	}
	return 0
}

func usageFromPayload(payload map[string]any) *telemetry.Usage {
	usage, ok := payload["usage"].(map[string]any)
	if !ok {
		return nil
	}

	out := &telemetry.Usage{
		InputTokens:           firstInt64(usage, "input_tokens", "prompt_tokens"),
		OutputTokens:          firstInt64(usage, "output_tokens", "completion_tokens"),
		TotalTokens:           firstInt64(usage, "total_tokens"),
		CacheReadInputTokens:  firstInt64(usage, "cache_read_input_tokens"),
		CacheWriteInputTokens: firstInt64(usage, "cache_creation_input_tokens"),
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.InputTokens + out.OutputTokens
	}
	if out.IsZero() {
		return nil
	}
	return out
}
