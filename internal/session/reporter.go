package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/rtvoice/internal/observe"
	"github.com/MrWong99/rtvoice/internal/protocol"
)

// Reporter turns failed operations into error events. Every rejected client
// event goes through exactly one Report call.
type Reporter struct {
	emit    func(protocol.ServerEvent)
	metrics *observe.Metrics
}

// NewReporter returns a reporter writing events through emit.
func NewReporter(emit func(protocol.ServerEvent), m *observe.Metrics) *Reporter {
	return &Reporter{emit: emit, metrics: m}
}

// Canonical maps err onto the wire error taxonomy. Errors that are not
// already a *protocol.Error become an internal server_error; their text is
// never shown to the client.
func Canonical(err error) (*protocol.Error, bool) {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return protocol.ServerError(protocol.CodeInternal,
		"The server had an error while processing your request. Please try again.").Wrap(err), false
}

// Report emits one error event for err, attributed to the client event
// eventID when set, and returns the canonical error.
func (r *Reporter) Report(ctx context.Context, err error, eventID string) *protocol.Error {
	pe, known := Canonical(err)
	if !known {
		observe.Logger(ctx).Error("internal error", "err", err, "event_id", eventID)
	}
	if eventID != "" && pe.EventID == "" {
		pe = pe.WithEventID(eventID)
	}
	r.metrics.RecordProtocolError(ctx, pe.Code)
	observe.Logger(ctx).Log(ctx, levelFor(pe), "sending error event",
		"type", pe.Type, "code", pe.Code, "param", pe.Param, "event_id", pe.EventID)
	r.emit(&protocol.ErrorEvent{Error: pe})
	return pe
}

func levelFor(pe *protocol.Error) slog.Level {
	if pe.Type == protocol.ErrorTypeServer {
		return slog.LevelWarn
	}
	return slog.LevelDebug
}
