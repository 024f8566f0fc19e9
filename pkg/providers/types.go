package providers

import "context"

// Message is one turn in a conversation sent to or received from an
// LLMProvider. Role is one of "system", "user", "assistant", "tool".
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a single invocation the model asked for.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolFunctionDefinition describes a callable tool's name, description,
// and JSON-schema parameters, in the shape providers expect.
type ToolFunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolDefinition wraps a function definition with its declared type,
// matching the OpenAI-style {"type": "function", "function": {...}} shape
// that every provider in this package is adapted to emit or consume.
type ToolDefinition struct {
	Type     string                 `json:"type"`
	Function ToolFunctionDefinition `json:"function"`
}

// UsageInfo reports token accounting returned by a provider, when available.
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LLMResponse is a provider's synchronous reply to a Chat call.
type LLMResponse struct {
	Content      string
	ToolCalls    []ToolCall
	Usage        UsageInfo
	Model        string
	FinishReason string
}

// LLMProvider is the contract every model backend (OpenAI-compatible HTTP,
// native Anthropic, Google GenAI) implements, so the conversation
// controller and subagent worker never need to know which backend they're
// talking to.
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error)
	Name() string
	GetDefaultModel() string
}

// ToolResultMessage builds the "tool" role message that reports a tool
// call's result back to the model.
func ToolResultMessage(toolCallID, content string) Message {
	return Message{
		Role:       "tool",
		Content:    content,
		ToolCallID: toolCallID,
	}
}

// AssistantMessageFromResponse converts a provider response into the
// assistant message appended to conversation history.
func AssistantMessageFromResponse(resp *LLMResponse) Message {
	return Message{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	}
}
