package response

import (
	"slices"

	"github.com/MrWong99/rtvoice/internal/protocol"
	"github.com/MrWong99/rtvoice/pkg/audio"
)

// Params are the settings one response runs with: the session
// configuration with the response.create overrides applied.
type Params struct {
	Modalities   []string
	Instructions string
	Voice        string
	OutputFormat audio.WireFormat
	Tools        []protocol.Tool
	ToolChoice   protocol.ToolChoice
	Temperature  float64
	MaxTokens    protocol.MaxTokens
	Conversation string
	Metadata     map[string]string

	// Input replaces the conversation as the prompt when non-nil. Item
	// references are resolved by the session before the run starts.
	Input []protocol.Item
}

// Audio reports whether the response speaks.
func (p Params) Audio() bool { return slices.Contains(p.Modalities, protocol.ModalityAudio) }

// ConversationBound reports whether output items are written back into the
// conversation.
func (p Params) ConversationBound() bool { return p.Conversation != protocol.ConversationNone }

const maxMetadata = 16

// Resolve merges overrides into the session configuration. Errors name the
// offending field under "response.".
func Resolve(s protocol.Session, o *protocol.ResponseParams) (Params, *protocol.Error) {
	p := Params{
		Modalities:   slices.Clone(s.Modalities),
		Instructions: s.Instructions,
		Voice:        s.Voice,
		OutputFormat: s.OutputFormat(),
		Tools:        slices.Clone(s.Tools),
		ToolChoice:   s.ToolChoice,
		Temperature:  s.Temperature,
		MaxTokens:    s.MaxResponseOutputTokens,
		Conversation: protocol.ConversationAuto,
	}
	if o == nil {
		return p, nil
	}

	// Reuse the session validation for the fields the two share.
	upd := protocol.SessionUpdate{
		Modalities:        o.Modalities,
		Instructions:      o.Instructions,
		Voice:             o.Voice,
		OutputAudioFormat: o.OutputAudioFormat,
		Tools:             o.Tools,
		ToolChoice:        o.ToolChoice,
		Temperature:       o.Temperature,
		MaxOutputTokens:   o.MaxOutputTokens,
	}
	if o.MaxResponseOutputTokens != nil {
		upd.MaxResponseOutputTokens = o.MaxResponseOutputTokens
	}
	merged, perr := s.Apply(upd, "response")
	if perr != nil {
		return Params{}, perr
	}
	p.Modalities = merged.Modalities
	p.Instructions = merged.Instructions
	p.Voice = merged.Voice
	p.OutputFormat = merged.OutputFormat()
	p.Tools = merged.Tools
	p.ToolChoice = merged.ToolChoice
	p.Temperature = merged.Temperature
	p.MaxTokens = merged.MaxResponseOutputTokens

	if o.Conversation != nil {
		switch *o.Conversation {
		case protocol.ConversationAuto, protocol.ConversationNone:
			p.Conversation = *o.Conversation
		default:
			return Params{}, protocol.InvalidRequest(protocol.CodeInvalidValue,
				"Invalid conversation '%s'. Supported values are: auto, none.", *o.Conversation).WithParam("response.conversation")
		}
	}
	if len(o.Metadata) > maxMetadata {
		return Params{}, protocol.InvalidRequest(protocol.CodeInvalidValue,
			"Metadata may hold at most %d keys.", maxMetadata).WithParam("response.metadata")
	}
	p.Metadata = o.Metadata
	if o.Input != nil {
		p.Input = make([]protocol.Item, len(o.Input))
		copy(p.Input, o.Input)
	}
	return p, nil
}
