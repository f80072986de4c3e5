// Package llm provides interfaces and implementations for Large Language Model clients.
package llm

import (
	"context"
)

// GenerateOptions configures a single-prompt generation request.
type GenerateOptions struct {
	// Model overrides the client's default model.
	Model string

	// SystemPrompt sets the system-level instructions for the model.
	SystemPrompt string

	// Temperature controls randomness in generation (0.0 = deterministic).
	Temperature float32

	// MaxTokens limits the maximum number of tokens in the response.
	MaxTokens int

	// JSON asks the server to constrain output to a JSON object.
	JSON bool
}

// StreamChunk represents a single chunk of streamed response from the LLM.
type StreamChunk struct {
	// Token contains the generated text fragment.
	Token string

	// Done indicates whether this is the final chunk in the stream.
	Done bool

	// Error contains any error that occurred during streaming.
	Error error
}

// LLM is a prompt-in, text-out model.
type LLM interface {
	// Generate sends a prompt to the LLM and returns the complete response.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// GenerateStream returns a channel of response chunks. The channel is closed when
	// generation completes or fails; callers check StreamChunk.Error and StreamChunk.Done.
	GenerateStream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan StreamChunk, error)
}

// Chat roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ChatMessage is one entry of a chat transcript.
type ChatMessage struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// Tool describes a function the model may call. Parameters is a JSON schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ChatOptions are sampling parameters for chat requests.
type ChatOptions struct {
	Model       string
	Temperature float32
	MaxTokens   int
	TopP        float32
}

// ChatResponse is the model's next message.
type ChatResponse struct {
	Message      ChatMessage
	FinishReason string
}

// ChatModel is a multi-turn model with tool calling.
type ChatModel interface {
	Chat(ctx context.Context, messages []ChatMessage, tools []Tool, opts ChatOptions) (*ChatResponse, error)

	// ChatStream streams the text of the next assistant message. Tools are not offered.
	ChatStream(ctx context.Context, messages []ChatMessage, opts ChatOptions) (<-chan StreamChunk, error)
}
