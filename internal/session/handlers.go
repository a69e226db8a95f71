package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/MrWong99/rtvoice/internal/audiobuf"
	"github.com/MrWong99/rtvoice/internal/observe"
	"github.com/MrWong99/rtvoice/internal/protocol"
	"github.com/MrWong99/rtvoice/internal/turn"
	"github.com/MrWong99/rtvoice/pkg/audio"
)

func (s *Session) updateSession(ctx context.Context, ev *protocol.SessionUpdateEvent) error {
	next, perr := s.config.Apply(ev.Session, "session")
	if perr != nil {
		return perr
	}
	if err := s.capabilities(next); err != nil {
		return err
	}
	if err := s.configure(next); err != nil {
		return err
	}
	observe.Logger(ctx).Debug("session updated", "event_id", ev.EventID)
	s.Emit(&protocol.SessionUpdatedEvent{Session: s.config.Clone()})
	return nil
}

// capabilities rejects configurations the wired workers cannot serve.
func (s *Session) capabilities(next protocol.Session) *protocol.Error {
	return supports(s.vad != nil, s.stt != nil, s.checker != nil, next)
}

// Supports reports whether sessions built from c can run next.
func (c Config) Supports(next protocol.Session) *protocol.Error {
	return supports(c.VAD != nil, c.STT != nil, c.Checker != nil, next)
}

// Normalize adapts a starting configuration to the wired workers: without
// a VAD engine sessions start in manual commit mode.
func (c Config) Normalize(s protocol.Session) protocol.Session {
	s = s.Clone()
	if c.VAD == nil {
		s.TurnDetection = nil
	}
	return s
}

func supports(hasVAD, hasSTT, hasChecker bool, next protocol.Session) *protocol.Error {
	if td := next.TurnDetection; td != nil {
		if !hasVAD {
			return protocol.InvalidRequest(protocol.CodeInvalidValue,
				"Turn detection is not available on this server. Set turn_detection to null.").
				WithParam("session.turn_detection")
		}
		if td.Type == protocol.TurnSemanticVAD && (!hasChecker || !hasSTT) {
			return protocol.InvalidRequest(protocol.CodeSemanticVADUnavailable,
				"semantic_vad is not available on this server: no turn checker is configured.").
				WithParam("session.turn_detection.type")
		}
	}
	if next.InputAudioTranscription != nil && !hasSTT {
		return protocol.InvalidRequest(protocol.CodeInvalidValue,
			"Input audio transcription is not available on this server.").
			WithParam("session.input_audio_transcription")
	}
	return nil
}

// configure makes next the live configuration, rebuilding the turn
// detector when detection or the input format changed. On error nothing
// changes.
func (s *Session) configure(next protocol.Session) error {
	format := next.InputFormat()
	formatChanged := format != s.buf.Format()
	if formatChanged || !sameTurn(s.config.TurnDetection, next.TurnDetection) {
		var det *turn.Detector
		if td := next.TurnDetection; td != nil {
			d, err := turn.NewDetector(s.vad, *td, format.SampleRate())
			if err != nil {
				return fmt.Errorf("session: configure turn detection: %w", err)
			}
			det = d
		}
		if s.det != nil {
			if err := s.det.Close(); err != nil {
				s.log.Warn("close turn detector", "err", err)
			}
		}
		s.buf.SetFormat(format)
		s.det = det
		s.detBase = s.buf.Elapsed()
		s.turnItem = ""
	}

	if s.det != nil {
		// One extra frame so the onset frame itself fits behind the padding.
		s.buf.SetPrefixWindow(s.det.PrefixPadding() + turn.FrameSize)
	} else {
		s.buf.SetPrefixWindow(0)
	}

	s.denoise = nil
	if nr := next.InputAudioNoiseReduction; nr != nil {
		if mode, err := audio.ParseNoiseReduction(nr.Type); err == nil {
			s.denoise = audio.NewDenoiser(mode, format.SampleRate())
		}
	}

	s.config = next
	s.mu.Lock()
	s.model = next.Model
	s.mu.Unlock()
	return nil
}

func sameTurn(a, b *protocol.TurnDetection) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Session) appendAudio(ctx context.Context, ev *protocol.InputAudioBufferAppendEvent) error {
	raw, err := base64.StdEncoding.DecodeString(ev.Audio)
	if err != nil {
		return protocol.InvalidRequest(protocol.CodeInvalidAudio,
			"Invalid 'audio'. Expected base64-encoded audio bytes.").WithParam("audio").Wrap(err)
	}
	if err := s.buf.Check(raw); err != nil {
		return err
	}
	if s.det == nil {
		return s.buf.Append(raw)
	}

	// Feed the detector frame by frame so a turn boundary inside a large
	// append splits the audio at the right place.
	step := s.buf.Format().BytesFor(turn.FrameSize)
	for off := 0; off < len(raw); off += step {
		piece := raw[off:min(off+step, len(raw))]
		if err := s.buf.Append(piece); err != nil {
			return err
		}
		if err := s.detect(ctx, piece); err != nil {
			return err
		}
		if s.failure != nil {
			return nil
		}
	}
	return nil
}

// detect runs one piece of wire audio through noise reduction and the turn
// detector and acts on the resulting boundaries.
func (s *Session) detect(ctx context.Context, piece []byte) error {
	pcm, err := s.buf.Format().Decode(piece)
	if err != nil {
		return fmt.Errorf("session: decode input audio: %w", err)
	}
	events, err := s.det.Feed(s.denoise.Process(pcm))
	for _, ev := range events {
		s.onTurn(ctx, ev)
	}
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

func (s *Session) commitAudio(ctx context.Context) error {
	itemID := s.turnItem
	if itemID == "" {
		itemID = protocol.NewID(protocol.PrefixItem)
	}
	data, err := s.buf.Commit()
	if err != nil {
		return err
	}
	if err := s.commit(ctx, itemID, data); err != nil {
		return err
	}
	s.turnItem = ""
	if s.det != nil {
		s.det.Reset()
	}
	return nil
}

// commit turns committed buffer audio into a user message item.
func (s *Session) commit(ctx context.Context, itemID string, data []byte) error {
	format := s.buf.Format()
	item := protocol.Item{
		ID:     itemID,
		Object: "realtime.item",
		Type:   protocol.ItemMessage,
		Status: protocol.StatusCompleted,
		Role:   protocol.RoleUser,
		Content: []protocol.ContentPart{{
			Type:   protocol.PartInputAudio,
			Audio:  data,
			Format: format,
		}},
	}
	prev, err := s.conv.Append(item)
	if err != nil {
		return err
	}
	s.Emit(&protocol.InputAudioBufferCommittedEvent{PreviousItemID: prev, ItemID: itemID})
	s.Emit(&protocol.ConversationItemCreatedEvent{PreviousItemID: prev, Item: item.WithoutAudio()})

	if tr := s.config.InputAudioTranscription; tr != nil && s.stt != nil {
		s.transcribe(ctx, itemID, data, format, *tr)
	}
	return nil
}

func (s *Session) clearAudio(_ context.Context) error {
	s.buf.Clear()
	if s.det != nil {
		s.det.Reset()
	}
	s.turnItem = ""
	s.Emit(&protocol.InputAudioBufferClearedEvent{})
	return nil
}

func (s *Session) createItem(_ context.Context, ev *protocol.ConversationItemCreateEvent) error {
	var prev string
	if ev.PreviousItemID != nil {
		prev = *ev.PreviousItemID
	}
	item := ev.Item
	for i, p := range item.Content {
		switch p.Type {
		case protocol.PartInputAudio:
			item.Content[i].Format = s.config.InputFormat()
		case protocol.PartAudio:
			item.Content[i].Format = s.config.OutputFormat()
		}
	}
	created, prevID, err := s.conv.Create(item, prev)
	if err != nil {
		return err
	}
	s.Emit(&protocol.ConversationItemCreatedEvent{PreviousItemID: prevID, Item: created.WithoutAudio()})
	return nil
}

func (s *Session) deleteItem(_ context.Context, ev *protocol.ConversationItemDeleteEvent) error {
	if err := s.conv.Delete(ev.ItemID); err != nil {
		return err
	}
	s.Emit(&protocol.ConversationItemDeletedEvent{ItemID: ev.ItemID})
	return nil
}

func (s *Session) truncateItem(_ context.Context, ev *protocol.ConversationItemTruncateEvent) error {
	if err := s.conv.Truncate(ev.ItemID, ev.ContentIndex, ev.AudioEndMs); err != nil {
		return err
	}
	s.Emit(&protocol.ConversationItemTruncatedEvent{
		ItemID:       ev.ItemID,
		ContentIndex: ev.ContentIndex,
		AudioEndMs:   ev.AudioEndMs,
	})
	return nil
}

// isEmptyCommit reports whether err is the commit error for a buffer that
// holds no or too little audio.
func isEmptyCommit(err error) bool {
	return errors.Is(err, audiobuf.ErrEmpty) || errors.Is(err, audiobuf.ErrTooShort)
}
