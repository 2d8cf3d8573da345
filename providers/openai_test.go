package providers

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ongoingai/agenttrace/hooks"
	"github.com/ongoingai/agenttrace/telemetry"
)

func TestOpenAIAdapterAfterModelCall(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"id": "chatcmpl-1",
		"choices": [{
			"index": 0,
			"finish_reason": "stop",
			"message": {"role": "assistant", "content": "done"}
		}],
		"usage": {
			"prompt_tokens": 100,
			"completion_tokens": 20,
			"total_tokens": 120,
			"prompt_tokens_details": {"cached_tokens": 30}
		}
	}`)

	event := OpenAIAdapter{}.AfterModelCall(body, &telemetry.CallMetrics{LatencyMS: 800})
	if event.StopReason != hooks.StopReasonEndTurn {
		t.Fatalf("stop reason=%q, want end_turn", event.StopReason)
	}
	if event.Message == nil || event.Message.Role != "assistant" || event.Message.Content != "done" {
		t.Fatalf("message=%+v, want assistant/done", event.Message)
	}
	if event.Usage == nil {
		t.Fatal("usage missing")
	}
	if event.Usage.InputTokens != 100 || event.Usage.TotalTokens != 120 {
		t.Fatalf("usage=%+v, want 100 input / 120 total", event.Usage)
	}
	if event.Usage.CacheReadInputTokens != 30 {
		t.Fatalf("cache read=%d, want 30", event.Usage.CacheReadInputTokens)
	}
	if event.Metrics == nil || event.Metrics.LatencyMS != 800 {
		t.Fatalf("metrics=%+v, want latency passthrough", event.Metrics)
	}
}

func TestOpenAIAdapterMalformedBody(t *testing.T) {
	t.Parallel()

	event := OpenAIAdapter{}.AfterModelCall([]byte("not json"), nil)
	if event.StopReason != "" || event.Usage != nil || event.Message != nil {
		t.Fatalf("event=%+v, want empty for malformed body", event)
	}
}

func TestNormalizeOpenAIFinishReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reason openai.FinishReason
		want   string
	}{
		{reason: openai.FinishReasonStop, want: hooks.StopReasonEndTurn},
		{reason: openai.FinishReasonToolCalls, want: hooks.StopReasonToolUse},
		{reason: openai.FinishReasonFunctionCall, want: hooks.StopReasonToolUse},
		{reason: openai.FinishReasonLength, want: hooks.StopReasonMaxTokens},
		{reason: openai.FinishReason("content_filter"), want: "content_filter"},
	}

	for _, tt := range tests {
		if got := normalizeOpenAIFinishReason(tt.reason); got != tt.want {
			t.Fatalf("normalizeOpenAIFinishReason(%q)=%q, want %q", tt.reason, got, tt.want)
		}
	}
}

func TestUsageFromOpenAI(t *testing.T) {
	t.Parallel()

	// Missing total falls back to the component sum.
	got := usageFromOpenAI(openai.Usage{PromptTokens: 10, CompletionTokens: 5})
	if got == nil || got.TotalTokens != 15 {
		t.Fatalf("usage=%+v, want summed total 15", got)
	}

	if usageFromOpenAI(openai.Usage{}) != nil {
		t.Fatal("empty usage should map to nil")
	}
}

func TestOpenAIAdapterFromResponse(t *testing.T) {
	t.Parallel()

	resp := openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			FinishReason: openai.FinishReasonToolCalls,
			Message:      openai.ChatCompletionMessage{Role: "assistant"},
		}},
		Usage: openai.Usage{PromptTokens: 40, CompletionTokens: 8, TotalTokens: 48},
	}

	event := OpenAIAdapter{}.FromResponse(resp, nil)
	if event.StopReason != hooks.StopReasonToolUse {
		t.Fatalf("stop reason=%q, want tool_use", event.StopReason)
	}
	if event.Usage.TotalTokens != 48 {
		t.Fatalf("usage=%+v, want 48 total", event.Usage)
	}
}
