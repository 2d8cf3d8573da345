package providers

import (
	"testing"

	"github.com/ongoingai/agenttrace/hooks"
)

func TestAnthropicAdapterAfterModelCall(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"id": "msg_1",
		"role": "assistant",
		"stop_reason": "tool_use",
		"content": [{"type": "tool_use", "id": "toolu_1", "name": "search"}],
		"usage": {
			"input_tokens": 100,
			"output_tokens": 20,
			"cache_read_input_tokens": 40,
			"cache_creation_input_tokens": 10
		}
	}`)

	event := AnthropicAdapter{}.AfterModelCall(body, nil)
	if event.StopReason != hooks.StopReasonToolUse {
		t.Fatalf("stop reason=%q, want tool_use", event.StopReason)
	}
	if event.Message == nil || event.Message.Role != "assistant" {
		t.Fatalf("message=%+v, want assistant role", event.Message)
	}
	if event.Usage == nil {
		t.Fatal("usage missing")
	}
	if event.Usage.InputTokens != 100 || event.Usage.TotalTokens != 120 {
		t.Fatalf("usage=%+v, want 100 input / 120 summed total", event.Usage)
	}
	if event.Usage.CacheReadInputTokens != 40 || event.Usage.CacheWriteInputTokens != 10 {
		t.Fatalf("cache usage=%+v, want 40 read / 10 write", event.Usage)
	}
}

func TestAnthropicAdapterUnrecognizedStopReasonPassesThrough(t *testing.T) {
	t.Parallel()

	event := AnthropicAdapter{}.AfterModelCall([]byte(`{"stop_reason": "pause_turn"}`), nil)
	if event.StopReason != "pause_turn" {
		t.Fatalf("stop reason=%q, want raw passthrough", event.StopReason)
	}
}

func TestAnthropicAdapterMalformedBody(t *testing.T) {
	t.Parallel()

	for _, body := range [][]byte{nil, []byte(""), []byte("  "), []byte("not json"), []byte(`[1,2]`)} {
		event := AnthropicAdapter{}.AfterModelCall(body, nil)
		if event.StopReason != "" || event.Usage != nil || event.Message != nil {
			t.Fatalf("event=%+v for body %q, want empty", event, body)
		}
	}
}

func TestRegistryLookup(t *testing.T) {
	t.Parallel()

	registry := DefaultRegistry()
	if got := registry.Names(); len(got) != 2 || got[0] != "anthropic" || got[1] != "openai" {
		t.Fatalf("names=%v, want [anthropic openai]", got)
	}

	adapter, ok := registry.Get("openai")
	if !ok || adapter.Name() != "openai" {
		t.Fatalf("Get(openai)=%v/%v, want openai adapter", adapter, ok)
	}
	if _, ok := registry.Get("unknown"); ok {
		t.Fatal("Get(unknown) should miss")
	}
}
