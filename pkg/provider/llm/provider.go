// Package llm defines the Provider interface for text-generation backends.
//
// A generation engine accepts an ordered, role-tagged conversation history and
// produces either a lazy stream of text fragments (StreamCompletion) or a
// single assembled reply (Complete). Implementations wrap a remote model API
// (e.g. Gemini via any-llm-go, or the OpenAI API directly) behind this
// interface so the relay's turn loop never couples to a specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import (
	"context"
	"errors"
)

// ErrQuotaExhausted is wrapped by providers when the backend rejects a request
// because the account's quota or rate limit is spent. Callers surface this as
// a distinct retry-later condition rather than a generic failure.
var ErrQuotaExhausted = errors.New("llm: quota exhausted")

// Message represents a single message in a conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// CompletionRequest carries everything the model needs to produce a response.
type CompletionRequest struct {
	// SystemPrompt is a high-priority instruction injected before the
	// conversation history. Providers without a dedicated system slot prepend
	// it as a "system"-role message.
	SystemPrompt string

	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero means use
	// the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk. May be empty on a
	// chunk that carries only a FinishReason or an error.
	Text string

	// FinishReason is set on the final chunk and indicates why generation
	// stopped. Common values are "stop", "length", "error", and "" for
	// non-final chunks.
	FinishReason string

	// Err carries the failure when FinishReason is "error". Providers wrap
	// quota failures with [ErrQuotaExhausted] so callers can match with
	// errors.Is.
	Err error
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string
}

// Provider is the abstraction over any text-generation backend.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must propagate context cancellation promptly.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only channel
	// that emits Chunk values as they arrive. The channel is closed by the
	// implementation when generation finishes or when ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that
	// occur after the stream starts are surfaced as a Chunk with FinishReason
	// "error" and a non-nil Err; the initial error return is non-nil only for
	// failures that prevent the stream from starting.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req to the model and waits for the full response. It is
	// a convenience for callers that do not need incremental output, such as
	// the lookup-summary path.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
