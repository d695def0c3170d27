// Package llm provides the client for the OpenAI-compatible LLM backend
// (normally a llama.cpp server) used by every stage of the assistant.
package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall represents a tool invocation requested by the model, either
// through the native tool_calls field or parsed out of the text.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its decoded arguments.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatRequest is one completion request. Tools uses the OpenAI function
// schema shape produced by tools.Registry.Definitions.
type ChatRequest struct {
	Messages    []Message
	Tools       []map[string]any
	Temperature float64
	MaxTokens   int
}

// ChatResponse is the decoded first choice of a completion.
type ChatResponse struct {
	Model        string
	Message      Message
	FinishReason string

	InputTokens  int
	OutputTokens int
	Duration     time.Duration

	// ToolsOmitted is set when the request offered tools but they were
	// not sent because the backend cannot handle them.
	ToolsOmitted bool
}
