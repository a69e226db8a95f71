package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MrWong99/rtvoice/internal/protocol"
)

func TestReporter_Report(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		eventID  string
		wantType protocol.ErrorType
		wantCode string
		wantMsg  string
		wantEvID string
	}{
		{
			name:     "wire error keeps its fields",
			err:      protocol.InvalidRequest(protocol.CodeItemNotFound, "Item with item_id not found: %s", "item_x").WithParam("item_x"),
			eventID:  "evt_1",
			wantType: protocol.ErrorTypeInvalidRequest,
			wantCode: protocol.CodeItemNotFound,
			wantMsg:  "Item with item_id not found: item_x",
			wantEvID: "evt_1",
		},
		{
			name:     "wrapped wire error is unwrapped",
			err:      fmt.Errorf("handler: %w", protocol.InvalidRequest(protocol.CodeBufferCommitEmpty, "buffer empty")),
			wantType: protocol.ErrorTypeInvalidRequest,
			wantCode: protocol.CodeBufferCommitEmpty,
			wantMsg:  "buffer empty",
		},
		{
			name:     "internal error hides its text",
			err:      errors.New("db password is hunter2"),
			eventID:  "evt_2",
			wantType: protocol.ErrorTypeServer,
			wantCode: protocol.CodeInternal,
			wantMsg:  "The server had an error while processing your request. Please try again.",
			wantEvID: "evt_2",
		},
		{
			name:     "existing event id wins",
			err:      protocol.InvalidRequest(protocol.CodeInvalidValue, "bad").WithEventID("evt_orig"),
			eventID:  "evt_other",
			wantType: protocol.ErrorTypeInvalidRequest,
			wantCode: protocol.CodeInvalidValue,
			wantMsg:  "bad",
			wantEvID: "evt_orig",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var emitted []protocol.ServerEvent
			r := NewReporter(func(ev protocol.ServerEvent) { emitted = append(emitted, ev) }, nil)

			pe := r.Report(context.Background(), tt.err, tt.eventID)
			require.Len(t, emitted, 1)
			ev, ok := emitted[0].(*protocol.ErrorEvent)
			require.True(t, ok, "emitted %T", emitted[0])
			require.Same(t, pe, ev.Error)
			require.Equal(t, tt.wantType, pe.Type)
			require.Equal(t, tt.wantCode, pe.Code)
			require.Equal(t, tt.wantMsg, pe.Message)
			require.Equal(t, tt.wantEvID, pe.EventID)
		})
	}
}

func TestCanonical_KeepsCauseForLogs(t *testing.T) {
	t.Parallel()
	cause := errors.New("upstream reset")
	pe, known := Canonical(cause)
	require.False(t, known)
	require.ErrorIs(t, pe, cause)
}
