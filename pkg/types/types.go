// Package types defines the data structures shared between the worker
// LLM providers and the session engine.
//
// These types are deliberately protocol-agnostic: the wire shapes of the
// realtime protocol live in internal/protocol and are translated into these
// before they reach a provider.
package types

// Message is one entry of the conversation history handed to an LLM.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// ToolCalls contains any function calls the assistant made in this turn.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which call this answers.
	ToolCallID string
}

// ToolCall is a function invocation requested by the LLM. In the realtime
// protocol the client executes it and answers with a function_call_output item.
type ToolCall struct {
	// ID is the call identifier (the protocol's call_id).
	ID string

	// Name is the function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a function the LLM may call.
type ToolDefinition struct {
	Name        string
	Description string

	// Parameters is the JSON Schema of the function's arguments.
	Parameters map[string]any
}

// ToolChoice constrains tool use for a single completion.
type ToolChoice struct {
	// Mode is "auto", "none", "required", or "function".
	Mode string

	// Function names the forced function when Mode is "function".
	Function string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsToolCalling indicates native function calling support.
	SupportsToolCalling bool

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}
