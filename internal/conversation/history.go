package conversation

import (
	"fmt"

	"github.com/MrWong99/rtvoice/internal/protocol"
	"github.com/MrWong99/rtvoice/pkg/types"
)

// History renders the conversation as LLM messages. User audio becomes its
// transcript, or a placeholder when it was never transcribed. Consecutive
// function calls collapse into one assistant message with several tool calls,
// followed by their tool outputs.
func (s *Store) History() []types.Message {
	return Render(s.items)
}

// Render converts items into LLM messages. Items still in progress are
// skipped.
func Render(items []protocol.Item) []types.Message {
	out := make([]types.Message, 0, len(items))
	for _, it := range items {
		if it.Status == protocol.StatusInProgress {
			continue
		}
		switch it.Type {
		case protocol.ItemMessage:
			text := renderContent(it)
			if text == "" {
				continue
			}
			out = append(out, types.Message{Role: it.Role, Content: text})
		case protocol.ItemFunctionCall:
			call := types.ToolCall{ID: it.CallID, Name: it.Name, Arguments: it.Arguments}
			if n := len(out); n > 0 && out[n-1].Role == protocol.RoleAssistant && len(out[n-1].ToolCalls) > 0 {
				out[n-1].ToolCalls = append(out[n-1].ToolCalls, call)
				continue
			}
			out = append(out, types.Message{Role: protocol.RoleAssistant, ToolCalls: []types.ToolCall{call}})
		case protocol.ItemFunctionCallOutput:
			out = append(out, types.Message{Role: "tool", Content: it.Output, ToolCallID: it.CallID})
		}
	}
	return out
}

func renderContent(it protocol.Item) string {
	var text string
	for _, p := range it.Content {
		switch p.Type {
		case protocol.PartInputText, protocol.PartText:
			text += p.Text
		case protocol.PartInputAudio, protocol.PartAudio:
			if p.Transcript != "" {
				text += p.Transcript
				continue
			}
			if it.Role == protocol.RoleUser {
				text += fmt.Sprintf("[%.1fs of audio, not transcribed]", p.Format.Duration(len(p.Audio)).Seconds())
			}
		}
	}
	return text
}

// Fit drops the oldest messages until count(msgs) fits budget. System
// messages are kept, and a window never starts with an orphaned tool
// result. A budget of zero or less disables trimming.
func Fit(msgs []types.Message, budget int, count func([]types.Message) int) []types.Message {
	if budget <= 0 || count(msgs) <= budget {
		return msgs
	}
	var system, rest []types.Message
	for _, m := range msgs {
		if m.Role == protocol.RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}
	for len(rest) > 1 {
		rest = rest[1:]
		for len(rest) > 1 && rest[0].Role == "tool" {
			rest = rest[1:]
		}
		window := append(append([]types.Message{}, system...), rest...)
		if count(window) <= budget {
			return window
		}
	}
	return append(append([]types.Message{}, system...), rest...)
}
