// Package conversation holds the ordered item list of a realtime session.
//
// A Store is owned by exactly one session actor and is not safe for
// concurrent use. Every mutation is validated up front: a rejected call
// leaves the store unchanged and returns a *protocol.Error that also unwraps
// to one of the package sentinels.
package conversation

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MrWong99/rtvoice/internal/protocol"
)

// Sentinel errors.
var (
	ErrNotFound = errors.New("conversation: item not found")
	ErrConflict = errors.New("conversation: item id already exists")
	ErrInvalid  = errors.New("conversation: invalid item")
)

// Root is the previous_item_id that inserts at the front.
const Root = "root"

// Store is the conversation of one session.
type Store struct {
	id    string
	items []protocol.Item
	ids   map[string]struct{}
}

// New returns an empty conversation with a fresh ID.
func New() *Store {
	return &Store{
		id:  protocol.NewID(protocol.PrefixConversation),
		ids: make(map[string]struct{}),
	}
}

// ID returns the conversation ID.
func (s *Store) ID() string { return s.id }

// Len returns the number of items.
func (s *Store) Len() int { return len(s.items) }

// Items returns the items in order. Audio slices are shared with the store
// and must not be modified.
func (s *Store) Items() []protocol.Item { return slices.Clone(s.items) }

// Get returns the item with id.
func (s *Store) Get(id string) (protocol.Item, bool) {
	i := s.index(id)
	if i < 0 {
		return protocol.Item{}, false
	}
	return s.items[i], true
}

// LastID returns the ID of the last item, or nil for an empty conversation.
func (s *Store) LastID() *string {
	if len(s.items) == 0 {
		return nil
	}
	id := s.items[len(s.items)-1].ID
	return &id
}

func (s *Store) index(id string) int {
	if _, ok := s.ids[id]; !ok {
		return -1
	}
	return slices.IndexFunc(s.items, func(it protocol.Item) bool { return it.ID == id })
}

// Create validates item and inserts it after previousItemID. An empty
// previousItemID appends; [Root] inserts at the front. It returns the stored
// item and the ID of the item now preceding it (nil when first).
func (s *Store) Create(item protocol.Item, previousItemID string) (protocol.Item, *string, error) {
	item = item.Clone()
	if err := normalize(&item); err != nil {
		return protocol.Item{}, nil, err
	}
	if item.ID == "" {
		item.ID = protocol.NewID(protocol.PrefixItem)
	} else if _, dup := s.ids[item.ID]; dup {
		return protocol.Item{}, nil, protocol.InvalidRequest(protocol.CodeItemIDConflict,
			"Item with id '%s' already exists.", item.ID).WithParam("item.id").Wrap(ErrConflict)
	}

	pos := len(s.items)
	switch previousItemID {
	case "":
	case Root:
		pos = 0
	default:
		i := s.index(previousItemID)
		if i < 0 {
			return protocol.Item{}, nil, protocol.InvalidRequest(protocol.CodeItemNotFound,
				"Previous item with id '%s' not found.", previousItemID).WithParam("previous_item_id").Wrap(ErrNotFound)
		}
		pos = i + 1
	}

	s.items = slices.Insert(s.items, pos, item)
	s.ids[item.ID] = struct{}{}
	return item, s.previous(pos), nil
}

func (s *Store) previous(pos int) *string {
	if pos == 0 {
		return nil
	}
	id := s.items[pos-1].ID
	return &id
}

// Append adds a server-built item at the end without client-side validation.
// Response output items and committed audio go through here.
func (s *Store) Append(item protocol.Item) (*string, error) {
	if item.ID == "" {
		return nil, protocol.ServerError(protocol.CodeInternal, "Item has no id.").Wrap(ErrInvalid)
	}
	if _, dup := s.ids[item.ID]; dup {
		return nil, protocol.ServerError(protocol.CodeItemIDConflict, "Item with id '%s' already exists.", item.ID).Wrap(ErrConflict)
	}
	prev := s.LastID()
	s.items = append(s.items, item)
	s.ids[item.ID] = struct{}{}
	return prev, nil
}

// Replace overwrites a stored item in place, keeping its position. A
// response uses it for the final write-back; ErrNotFound means the client
// deleted the item meanwhile.
func (s *Store) Replace(item protocol.Item) error {
	i := s.index(item.ID)
	if i < 0 {
		return ErrNotFound
	}
	s.items[i] = item
	return nil
}

// Delete removes the item with id. The error param is the unknown ID itself.
func (s *Store) Delete(id string) error {
	i := s.index(id)
	if i < 0 {
		return protocol.InvalidRequest(protocol.CodeItemNotFound,
			"Item with item_id not found: %s", id).WithParam(id).Wrap(ErrNotFound)
	}
	s.items = slices.Delete(s.items, i, i+1)
	delete(s.ids, id)
	return nil
}

// Truncate clips the audio of an assistant message part to audioEndMs. The
// part's transcript no longer matches the audio and is dropped. Audio
// already sent to the client is unaffected.
func (s *Store) Truncate(id string, contentIndex, audioEndMs int) error {
	i := s.index(id)
	if i < 0 {
		return protocol.InvalidRequest(protocol.CodeItemNotFound,
			"Item with item_id not found: %s", id).WithParam("item_id").Wrap(ErrNotFound)
	}
	it := s.items[i]
	if it.Type != protocol.ItemMessage || it.Role != protocol.RoleAssistant {
		return protocol.InvalidRequest(protocol.CodeInvalidValue,
			"Only assistant messages can be truncated.").WithParam("item_id").Wrap(ErrInvalid)
	}
	if contentIndex < 0 || contentIndex >= len(it.Content) || it.Content[contentIndex].Type != protocol.PartAudio {
		return protocol.InvalidRequest(protocol.CodeInvalidValue,
			"Content index %d is not an audio part.", contentIndex).WithParam("content_index").Wrap(ErrInvalid)
	}
	part := it.Content[contentIndex]
	total := part.Format.Duration(len(part.Audio))
	end := time.Duration(audioEndMs) * time.Millisecond
	if audioEndMs < 0 || end > total {
		return protocol.InvalidRequest(protocol.CodeInvalidValue,
			"Audio content of %dms is shorter than audio_end_ms %d.", total.Milliseconds(), audioEndMs).
			WithParam("audio_end_ms").Wrap(ErrInvalid)
	}

	part.Audio = slices.Clone(part.Audio[:part.Format.BytesFor(end)])
	part.Transcript = ""
	content := slices.Clone(it.Content)
	content[contentIndex] = part
	it.Content = content
	it.Status = protocol.StatusIncomplete
	s.items[i] = it
	return nil
}

// UpdateTranscript sets the transcript of a user audio part once
// transcription finishes.
func (s *Store) UpdateTranscript(id string, contentIndex int, transcript string) error {
	i := s.index(id)
	if i < 0 {
		return ErrNotFound
	}
	it := s.items[i]
	if contentIndex < 0 || contentIndex >= len(it.Content) {
		return ErrInvalid
	}
	content := slices.Clone(it.Content)
	content[contentIndex].Transcript = transcript
	it.Content = content
	s.items[i] = it
	return nil
}

// normalize checks a client-supplied item and fills server-owned fields.
func normalize(it *protocol.Item) *protocol.Error {
	invalid := func(param, format string, args ...any) *protocol.Error {
		return protocol.InvalidRequest(protocol.CodeInvalidValue, format, args...).WithParam(param).Wrap(ErrInvalid)
	}
	missing := func(param string) *protocol.Error {
		return protocol.InvalidRequest(protocol.CodeMissingParameter, "Missing required parameter: '%s'.", param).
			WithParam(param).Wrap(ErrInvalid)
	}

	it.Object = "realtime.item"
	if it.Status == "" {
		it.Status = protocol.StatusCompleted
	}
	switch it.Status {
	case protocol.StatusCompleted, protocol.StatusIncomplete:
	default:
		return invalid("item.status", "Invalid item status '%s'.", it.Status)
	}

	switch it.Type {
	case protocol.ItemMessage:
		if it.Role == "" {
			return missing("item.role")
		}
		if len(it.Content) == 0 {
			return missing("item.content")
		}
		allowed, ok := partsByRole[it.Role]
		if !ok {
			return invalid("item.role", "Invalid role '%s'. Supported values are: user, assistant, system.", it.Role)
		}
		for i, p := range it.Content {
			if !slices.Contains(allowed, p.Type) {
				return invalid(partParam(i)+".type", "Content type '%s' is not allowed for %s messages.", p.Type, it.Role)
			}
			if p.Type == protocol.PartInputAudio && len(p.Audio) == 0 {
				return missing(partParam(i) + ".audio")
			}
		}
	case protocol.ItemFunctionCall:
		if it.CallID == "" {
			return missing("item.call_id")
		}
		if it.Name == "" {
			return missing("item.name")
		}
		if it.Role != "" || len(it.Content) > 0 {
			return invalid("item.type", "function_call items take no role or content.")
		}
	case protocol.ItemFunctionCallOutput:
		if it.CallID == "" {
			return missing("item.call_id")
		}
		if it.Output == "" {
			return missing("item.output")
		}
		if it.Role != "" || len(it.Content) > 0 {
			return invalid("item.type", "function_call_output items take no role or content.")
		}
	case "":
		return missing("item.type")
	default:
		return invalid("item.type", "Invalid item type '%s'. Supported values are: message, function_call, function_call_output.", it.Type)
	}
	return nil
}

var partsByRole = map[string][]string{
	protocol.RoleUser:      {protocol.PartInputText, protocol.PartInputAudio},
	protocol.RoleAssistant: {protocol.PartText, protocol.PartAudio},
	protocol.RoleSystem:    {protocol.PartInputText},
}

func partParam(i int) string { return fmt.Sprintf("item.content[%d]", i) }
