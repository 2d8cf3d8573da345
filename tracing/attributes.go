package tracing

// Span attribute keys, following the OpenTelemetry GenAI semantic
// conventions where one exists.
// https://github.com/open-telemetry/semantic-conventions/blob/main/docs/gen-ai/gen-ai-agent-spans.md
const (
	AttrOperationName      = "gen_ai.operation.name"
	AttrAgentName          = "gen_ai.agent.name"
	AttrAgentID            = "gen_ai.agent.id"
	AttrRequestModel       = "gen_ai.request.model"
	AttrSystemInstructions = "gen_ai.system_instructions"
	AttrAgentTools         = "gen_ai.agent.tools"
	AttrInputMessageCount  = "gen_ai.input.message_count"

	AttrUsageInputTokens      = "gen_ai.usage.input_tokens"
	AttrUsageOutputTokens     = "gen_ai.usage.output_tokens"
	AttrUsageTotalTokens      = "gen_ai.usage.total_tokens"
	AttrUsageCacheReadTokens  = "gen_ai.usage.cache_read_input_tokens"
	AttrUsageCacheWriteTokens = "gen_ai.usage.cache_write_input_tokens"

	AttrResponseFinishReason = "gen_ai.response.finish_reasons"
	AttrLatencyMS            = "gen_ai.client.latency_ms"
	AttrTimeToFirstTokenMS   = "gen_ai.client.time_to_first_token_ms"

	AttrToolName      = "gen_ai.tool.name"
	AttrToolCallID    = "gen_ai.tool.call.id"
	AttrToolArguments = "gen_ai.tool.call.arguments"
	AttrToolResult    = "gen_ai.tool.call.result"
	AttrToolStatus    = "gen_ai.tool.call.status"

	AttrCycleID = "gen_ai.event_loop.cycle_id"

	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// gen_ai.operation.name values.
const (
	OperationInvokeAgent = "invoke_agent"
	OperationChat        = "chat"
	OperationExecuteTool = "execute_tool"
)
