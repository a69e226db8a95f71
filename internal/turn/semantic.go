package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/rtvoice/pkg/provider/llm"
	"github.com/MrWong99/rtvoice/pkg/types"
)

// SemanticChecker decides whether a transcript reads like a finished turn.
// Implementations must be safe for concurrent use.
type SemanticChecker interface {
	CheckTurnComplete(ctx context.Context, transcript string) (bool, error)
}

const checkerPrompt = `You decide whether a speaker in a live voice conversation has finished their turn.
You are given the transcript of what they said so far. They have just paused.

Answer "complete": false only when the utterance is clearly unfinished, for example
it ends mid-sentence, with a filler word ("um", "so", "and"), or with a dangling clause.
Otherwise answer "complete": true.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"complete": true}`

const defaultCheckerTemperature = 0.0

// LLMChecker asks a language model whether the turn is complete. A reply it
// cannot parse counts as complete so the conversation keeps moving.
type LLMChecker struct {
	llm         llm.Provider
	temperature float64
}

var _ SemanticChecker = (*LLMChecker)(nil)

// NewLLMChecker returns a checker backed by provider.
func NewLLMChecker(provider llm.Provider) *LLMChecker {
	return &LLMChecker{llm: provider, temperature: defaultCheckerTemperature}
}

// CheckTurnComplete implements SemanticChecker. An empty transcript is
// complete: there is nothing to wait for.
func (c *LLMChecker) CheckTurnComplete(ctx context.Context, transcript string) (bool, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return true, nil
	}
	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: checkerPrompt,
		Temperature:  c.temperature,
		MaxTokens:    16,
		Messages:     []types.Message{{Role: "user", Content: transcript}},
	})
	if err != nil {
		return true, fmt.Errorf("turn: semantic check: %w", err)
	}
	if resp == nil {
		return true, nil
	}
	return parseVerdict(resp.Content), nil
}

func parseVerdict(content string) bool {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.Trim(content, "`\n ")
	var v struct {
		Complete *bool `json:"complete"`
	}
	if err := json.Unmarshal([]byte(content), &v); err != nil || v.Complete == nil {
		return true
	}
	return *v.Complete
}
