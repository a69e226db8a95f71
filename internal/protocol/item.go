package protocol

import (
	"slices"

	"github.com/MrWong99/rtvoice/pkg/audio"
)

// Item types.
const (
	ItemMessage            = "message"
	ItemFunctionCall       = "function_call"
	ItemFunctionCallOutput = "function_call_output"
	// ItemReference only appears in response.create input lists.
	ItemReference = "item_reference"
)

// Roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Item statuses.
const (
	StatusCompleted  = "completed"
	StatusIncomplete = "incomplete"
	StatusInProgress = "in_progress"
)

// Content part types.
const (
	PartInputText  = "input_text"
	PartInputAudio = "input_audio"
	PartText       = "text"
	PartAudio      = "audio"
)

// Item is a conversation item: a message, a function call, or a function
// call's output.
type Item struct {
	ID        string        `json:"id,omitempty"`
	Object    string        `json:"object,omitempty"`
	Type      string        `json:"type"`
	Status    string        `json:"status,omitempty"`
	Role      string        `json:"role,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
}

// ContentPart is one piece of a message's content. Audio is base64 on the
// wire; encoding/json handles that for []byte.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Audio      []byte `json:"audio,omitempty"`
	Transcript string `json:"transcript,omitempty"`

	// Format is the wire format Audio is stored in. Set by the server.
	Format audio.WireFormat `json:"-"`
}

func (p ContentPart) isAudio() bool { return p.Type == PartAudio || p.Type == PartInputAudio }

// Clone returns a deep copy of it.
func (it Item) Clone() Item {
	c := it
	if it.Content != nil {
		c.Content = make([]ContentPart, len(it.Content))
		for i, p := range it.Content {
			p.Audio = slices.Clone(p.Audio)
			c.Content[i] = p
		}
	}
	return c
}

// WithoutAudio returns a copy of it with audio bytes removed. Server events
// that describe items never repeat audio that was already streamed or
// uploaded.
func (it Item) WithoutAudio() Item {
	c := it
	if it.Content != nil {
		c.Content = make([]ContentPart, len(it.Content))
		for i, p := range it.Content {
			p.Audio = nil
			c.Content[i] = p
		}
	}
	return c
}

// Text concatenates the text and transcripts of a message's parts.
func (it Item) Text() string {
	var out string
	for _, p := range it.Content {
		switch {
		case p.Text != "":
			out += p.Text
		case p.isAudio():
			out += p.Transcript
		}
	}
	return out
}
