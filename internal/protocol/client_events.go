package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Client event types.
const (
	ClientSessionUpdate            = "session.update"
	ClientInputAudioBufferAppend   = "input_audio_buffer.append"
	ClientInputAudioBufferCommit   = "input_audio_buffer.commit"
	ClientInputAudioBufferClear    = "input_audio_buffer.clear"
	ClientConversationItemCreate   = "conversation.item.create"
	ClientConversationItemDelete   = "conversation.item.delete"
	ClientConversationItemTruncate = "conversation.item.truncate"
	ClientResponseCreate           = "response.create"
	ClientResponseCancel           = "response.cancel"
)

// ClientEvent is one of the nine client event variants. The set is closed:
// only types in this package implement it.
type ClientEvent interface {
	ClientEventType() string
	ClientEventID() string
	clientEvent()
}

// ClientEventBase holds the fields common to every client event.
type ClientEventBase struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

func (b ClientEventBase) ClientEventType() string { return b.Type }
func (b ClientEventBase) ClientEventID() string   { return b.EventID }
func (ClientEventBase) clientEvent()              {}

// SessionUpdateEvent updates the session configuration.
type SessionUpdateEvent struct {
	ClientEventBase
	Session SessionUpdate `json:"session"`
}

// InputAudioBufferAppendEvent appends base64 audio to the input buffer.
type InputAudioBufferAppendEvent struct {
	ClientEventBase
	Audio string `json:"audio"`
}

// InputAudioBufferCommitEvent commits the input buffer as a user item.
type InputAudioBufferCommitEvent struct {
	ClientEventBase
}

// InputAudioBufferClearEvent discards the input buffer.
type InputAudioBufferClearEvent struct {
	ClientEventBase
}

// ConversationItemCreateEvent inserts an item into the conversation.
type ConversationItemCreateEvent struct {
	ClientEventBase
	PreviousItemID *string `json:"previous_item_id"`
	Item           Item    `json:"item"`
}

// ConversationItemDeleteEvent removes an item.
type ConversationItemDeleteEvent struct {
	ClientEventBase
	ItemID string `json:"item_id"`
}

// ConversationItemTruncateEvent clips the audio of an assistant item.
type ConversationItemTruncateEvent struct {
	ClientEventBase
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int    `json:"audio_end_ms"`
}

// ResponseCreateEvent asks for a model response.
type ResponseCreateEvent struct {
	ClientEventBase
	Response *ResponseParams `json:"response"`
}

// ResponseCancelEvent cancels the active response.
type ResponseCancelEvent struct {
	ClientEventBase
	ResponseID string `json:"response_id"`
}

type clientEventSpec struct {
	new      func() ClientEvent
	required []string
}

var clientEvents = map[string]clientEventSpec{
	ClientSessionUpdate: {
		new:      func() ClientEvent { return &SessionUpdateEvent{} },
		required: []string{"session"},
	},
	ClientInputAudioBufferAppend: {
		new:      func() ClientEvent { return &InputAudioBufferAppendEvent{} },
		required: []string{"audio"},
	},
	ClientInputAudioBufferCommit: {
		new: func() ClientEvent { return &InputAudioBufferCommitEvent{} },
	},
	ClientInputAudioBufferClear: {
		new: func() ClientEvent { return &InputAudioBufferClearEvent{} },
	},
	ClientConversationItemCreate: {
		new:      func() ClientEvent { return &ConversationItemCreateEvent{} },
		required: []string{"item"},
	},
	ClientConversationItemDelete: {
		new:      func() ClientEvent { return &ConversationItemDeleteEvent{} },
		required: []string{"item_id"},
	},
	ClientConversationItemTruncate: {
		new:      func() ClientEvent { return &ConversationItemTruncateEvent{} },
		required: []string{"item_id", "content_index", "audio_end_ms"},
	},
	ClientResponseCreate: {
		new: func() ClientEvent { return &ResponseCreateEvent{} },
	},
	ClientResponseCancel: {
		new: func() ClientEvent { return &ResponseCancelEvent{} },
	},
}

// ClientEventTypes lists the supported client event types, sorted.
func ClientEventTypes() []string {
	out := make([]string, 0, len(clientEvents))
	for t := range clientEvents {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ParseClientEvent decodes one inbound frame. Every returned error is a
// *Error of type invalid_request_error carrying the frame's event_id when
// one could be read.
func ParseClientEvent(data []byte) (ClientEvent, error) {
	if !gjson.ValidBytes(data) {
		return nil, InvalidRequest(CodeInvalidJSON, "The server could not parse the event: invalid JSON.")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, InvalidRequest(CodeInvalidJSON, "The server could not parse the event: expected a JSON object.")
	}

	var eventID string
	if id := root.Get("event_id"); id.Exists() {
		if id.Type != gjson.String {
			return nil, InvalidRequest(CodeInvalidType, "Invalid type for 'event_id': expected a string.").WithParam("event_id")
		}
		eventID = id.String()
	}
	fail := func(e *Error) (ClientEvent, error) { return nil, e.WithEventID(eventID) }

	typ := root.Get("type")
	if !typ.Exists() || typ.Type == gjson.Null {
		return fail(InvalidRequest(CodeMissingParameter, "Missing required parameter: 'type'.").WithParam("type"))
	}
	if typ.Type != gjson.String {
		return fail(InvalidRequest(CodeInvalidType, "Invalid type for 'type': expected a string.").WithParam("type"))
	}
	spec, ok := clientEvents[typ.String()]
	if !ok {
		return fail(InvalidRequest(CodeInvalidEventType, "Invalid value: '%s'. Supported values are: '%s'.",
			typ.String(), strings.Join(ClientEventTypes(), "', '")).WithParam("type"))
	}
	for _, field := range spec.required {
		if v := root.Get(field); !v.Exists() || v.Type == gjson.Null {
			return fail(InvalidRequest(CodeMissingParameter, "Missing required parameter: '%s'.", field).WithParam(field))
		}
	}

	ev := spec.new()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(ev); err != nil {
		return fail(decodeError(err))
	}
	return ev, nil
}

func decodeError(err error) *Error {
	var typeErr *json.UnmarshalTypeError
	var b64Err base64.CorruptInputError
	switch {
	case errors.As(err, &typeErr):
		return InvalidRequest(CodeInvalidType, "Invalid type for '%s': expected %s, but got %s.", typeErr.Field, typeName(typeErr), typeErr.Value).
			WithParam(typeErr.Field)
	case errors.As(err, &b64Err):
		return InvalidRequest(CodeInvalidAudio, "Invalid base64 audio: %v.", err)
	}
	if name, ok := unknownField(err); ok {
		return InvalidRequest(CodeUnknownParameter, "Unknown parameter: '%s'.", name).WithParam(name)
	}
	return InvalidRequest(CodeInvalidValue, "Invalid event: %v.", err)
}

func typeName(e *json.UnmarshalTypeError) string {
	if e.Type == nil {
		return "a different type"
	}
	return e.Type.String()
}

// unknownField extracts the field name from encoding/json's
// DisallowUnknownFields error, which has no typed form.
func unknownField(err error) (string, bool) {
	const prefix = `json: unknown field "`
	msg := err.Error()
	if !strings.HasPrefix(msg, prefix) {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(msg, prefix), `"`), true
}
