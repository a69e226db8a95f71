package session

import (
	"context"
	"fmt"

	"github.com/MrWong99/rtvoice/internal/protocol"
)

// handleFrame parses one inbound frame and routes it. Any failure is
// reported as a single error event.
func (s *Session) handleFrame(ctx context.Context, data []byte) {
	ev, err := protocol.ParseClientEvent(data)
	if err != nil {
		s.fail(ctx, err, "")
		return
	}
	s.metrics.RecordClientEvent(ctx, ev.ClientEventType())
	if err := s.dispatch(ctx, ev); err != nil {
		s.fail(ctx, err, ev.ClientEventID())
	}
}

// fail reports err and ends the session when it is fatal.
func (s *Session) fail(ctx context.Context, err error, eventID string) {
	if pe := s.report.Report(ctx, err, eventID); pe.Fatal && s.failure == nil {
		s.failure = pe
	}
}

// dispatch sends ev to its handler. The set of client events is closed, so
// the default branch only fires on a programming error.
func (s *Session) dispatch(ctx context.Context, ev protocol.ClientEvent) error {
	switch ev := ev.(type) {
	case *protocol.SessionUpdateEvent:
		return s.updateSession(ctx, ev)
	case *protocol.InputAudioBufferAppendEvent:
		return s.appendAudio(ctx, ev)
	case *protocol.InputAudioBufferCommitEvent:
		return s.commitAudio(ctx)
	case *protocol.InputAudioBufferClearEvent:
		return s.clearAudio(ctx)
	case *protocol.ConversationItemCreateEvent:
		return s.createItem(ctx, ev)
	case *protocol.ConversationItemDeleteEvent:
		return s.deleteItem(ctx, ev)
	case *protocol.ConversationItemTruncateEvent:
		return s.truncateItem(ctx, ev)
	case *protocol.ResponseCreateEvent:
		return s.createResponse(ctx, ev.Response)
	case *protocol.ResponseCancelEvent:
		return s.cancelResponse(ctx, ev)
	default:
		return fmt.Errorf("session: no handler for client event %T", ev)
	}
}
