// Package llm defines the Provider interface for language-model backends used
// to interpret customer utterances.
//
// The kiosk uses short, single-shot completions: a system prompt describing
// the menu and the task, a few turns of dialogue context, and one customer
// utterance. Implementors must be safe for concurrent use and must propagate
// context cancellation promptly.
package llm

import (
	"context"

	"github.com/voxkiosk/voxkiosk/pkg/types"
)

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is a high-priority instruction injected before the
	// conversation. Providers without a dedicated system field prepend it as
	// a "system"-role message.
	SystemPrompt string

	// Messages is the ordered dialogue context. The last message is the
	// customer utterance driving the response.
	Messages []types.Message

	// Temperature controls output randomness in [0.0, 2.0]. The kiosk
	// classifies with 0 for reproducible output.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int

	// JSONResponse requests a machine-parseable JSON object as the entire
	// reply. Backends with a native JSON mode enable it; others enforce the
	// format through the prompt.
	JSONResponse bool
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	// Content is the text of the reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any language-model backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name identifies the backend for logging and metrics.
	Name() string
}
