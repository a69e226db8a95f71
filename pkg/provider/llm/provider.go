// Package llm defines the Provider interface for the language-model worker.
//
// The response engine hands a provider the rendered conversation history, the
// session's function definitions and the per-response generation settings,
// and consumes a stream of [Chunk] values that it turns into text, transcript
// and function-call argument deltas on the wire.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/MrWong99/rtvoice/pkg/types"
)

// FinishReasonError marks a chunk that reports a mid-stream failure. The
// chunk's Text carries the error message.
const FinishReasonError = "error"

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
type CompletionRequest struct {
	// Messages is the ordered conversation history.
	Messages []types.Message

	// Tools is the set of function definitions offered to the model.
	Tools []types.ToolDefinition

	// ToolChoice constrains tool use. The zero value means "auto".
	ToolChoice types.ToolChoice

	// Temperature controls output randomness. Zero means provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means no cap.
	MaxTokens int

	// SystemPrompt is the session or response instructions, sent ahead of
	// the history.
	SystemPrompt string
}

// ToolCallDelta is one streamed fragment of a function call. The first
// fragment for an Index carries ID and Name; later ones usually only carry
// more Arguments text.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Chunk is a single fragment emitted by a streaming completion. A chunk may
// carry text, tool-call fragments, a finish signal, usage, or any mix.
type Chunk struct {
	// Text is incremental assistant text.
	Text string

	// ToolCallDeltas are incremental function-call fragments in arrival order.
	ToolCallDeltas []ToolCallDelta

	// FinishReason is set on the final chunk: "stop", "length", "tool_calls",
	// or [FinishReasonError] for a failed stream.
	FinishReason string

	// ToolCalls holds the fully accumulated calls on the final chunk.
	ToolCalls []types.ToolCall

	// Usage is set once, when the backend reports token accounting.
	Usage *Usage
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	Content   string
	ToolCalls []types.ToolCall
	Usage     Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// StreamCompletion sends req to the model and returns a channel of chunks.
	// Errors after the stream started arrive as a chunk with FinishReason
	// [FinishReasonError]. The returned channel is never nil when err is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many tokens messages consume in the model's
	// context window. It should not undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() types.ModelCapabilities
}
