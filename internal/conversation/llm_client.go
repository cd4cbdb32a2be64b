package conversation

import "context"

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
	ChatRoleTool      = "tool"
)

// ChatMessage is the internal message representation shared by all
// completion backends.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// ToolCallID links a tool-result message to the call that produced it.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a structured action the completion service asks us to run.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON
}

// CompletionRequest is a single model invocation.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float32
}

// ToolSpec declares a callable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  any // JSON-schema object, required fields included
}

// CompletionResponse carries either text, tool calls, or both.
type CompletionResponse struct {
	Text      string
	ToolCalls []ToolCall
}

// CompletionClient abstracts the completion service so the orchestration
// loop can be tested with fakes and run against OpenAI or Gemini.
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}
