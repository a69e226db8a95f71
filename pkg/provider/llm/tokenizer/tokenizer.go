// Package tokenizer counts chat tokens with tiktoken encodings, shared by the
// LLM providers for context budgeting and response usage accounting.
package tokenizer

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/MrWong99/rtvoice/pkg/types"
)

// FallbackEncoding is used when tiktoken has no mapping for a model name.
const FallbackEncoding = "cl100k_base"

// Per-message framing overhead in the chat format.
const (
	tokensPerMessage = 3
	tokensPerReply   = 3
)

var (
	mu       sync.Mutex
	encoders = map[string]*tiktoken.Tiktoken{}
	failed   = map[string]bool{}
)

// encoderFor returns the cached encoding for model, or nil when none can be
// loaded (tiktoken fetches BPE ranks on first use and may be offline).
func encoderFor(model string) *tiktoken.Tiktoken {
	mu.Lock()
	defer mu.Unlock()
	if enc, ok := encoders[model]; ok {
		return enc
	}
	if failed[model] {
		return nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(FallbackEncoding)
	}
	if err != nil {
		slog.Warn("tokenizer: encoding unavailable, using estimate", "model", model, "err", err)
		failed[model] = true
		return nil
	}
	encoders[model] = enc
	return enc
}

// CountText returns the token count of s under model's encoding, or a
// ~4 chars/token estimate when no encoding is available.
func CountText(model, s string) int {
	if enc := encoderFor(model); enc != nil {
		return len(enc.Encode(s, nil, nil))
	}
	return Estimate(s)
}

// CountMessages counts messages including chat framing overhead.
func CountMessages(model string, messages []types.Message) int {
	total := tokensPerReply
	for _, m := range messages {
		total += tokensPerMessage
		total += CountText(model, m.Role+m.Content)
		for _, tc := range m.ToolCalls {
			total += CountText(model, tc.Name+tc.Arguments)
		}
	}
	return total
}

// Estimate approximates a token count without an encoding. It rounds up so
// budgets are not undercounted.
func Estimate(s string) int {
	return (len(s) + 3) / 4
}
