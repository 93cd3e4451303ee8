// Package llm defines the Provider interface for Large Language Model backends.
//
// The dialogue cache only asks a model for one short, in-character reply per
// cache miss, so the interface is a single non-streaming completion plus the
// static limits of the model behind it.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in the prompt sent to the model.
type Message struct {
	Role    string
	Content string
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message drives the reply.
	Messages []Message

	// SystemPrompt is injected ahead of Messages using the backend's native
	// system-instruction mechanism.
	SystemPrompt string

	// Temperature controls randomness in [0.0, 2.0]. Zero uses the backend
	// default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the backend default.
	MaxTokens int
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Content string

	// FinishReason is "stop" for a natural end and "length" when MaxTokens
	// cut the reply short.
	FinishReason string

	Usage Usage
}

// ModelCapabilities describes static limits of the backing model.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input plus output.
	ContextWindow int

	// MaxOutputTokens is the most tokens one completion may produce.
	MaxOutputTokens int
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply. It returns
	// promptly with ctx.Err() when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the backing model.
	Capabilities() ModelCapabilities
}
