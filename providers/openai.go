package providers

import (
	"encoding/json"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ongoingai/agenttrace/hooks"
	"github.com/ongoingai/agenttrace/telemetry"
)

// OpenAIAdapter normalizes chat-completion responses from OpenAI-compatible
// endpoints.
type OpenAIAdapter struct{}

func (OpenAIAdapter) Name() string {
	return "openai"
}

func (a OpenAIAdapter) AfterModelCall(body []byte, metrics *telemetry.CallMetrics) hooks.AfterModelCallEvent {
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return hooks.AfterModelCallEvent{Metrics: metrics}
	}
	return a.FromResponse(resp, metrics)
}

// FromResponse builds the event from an already-decoded response, for
// callers that use the client library directly.
func (OpenAIAdapter) FromResponse(resp openai.ChatCompletionResponse, metrics *telemetry.CallMetrics) hooks.AfterModelCallEvent {
	event := hooks.AfterModelCallEvent{
		Usage:   usageFromOpenAI(resp.Usage),
		Metrics: metrics,
	}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		event.StopReason = normalizeOpenAIFinishReason(choice.FinishReason)
		event.Message = &hooks.Message{
			Role:    choice.Message.Role,
			Content: choice.Message.Content,
		}
	}
	return event
}

func usageFromOpenAI(usage openai.Usage) *telemetry.Usage {
	out := &telemetry.Usage{
		InputTokens:  int64(usage.PromptTokens),
		OutputTokens: int64(usage.CompletionTokens),
		TotalTokens:  int64(usage.TotalTokens),
	}
	if usage.PromptTokensDetails != nil {
		out.CacheReadInputTokens = int64(usage.PromptTokensDetails.CachedTokens)
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.InputTokens + out.OutputTokens
	}
	if out.IsZero() {
		return nil
	}
	return out
}

func normalizeOpenAIFinishReason(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonStop:
		return hooks.StopReasonEndTurn
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return hooks.StopReasonToolUse
	case openai.FinishReasonLength:
		return hooks.StopReasonMaxTokens
	default:
		// Unrecognized reasons pass through raw so nothing is lost.
		return strings.TrimSpace(string(reason))
	}
}
