package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrWong99/rtvoice/internal/conversation"
	"github.com/MrWong99/rtvoice/internal/observe"
	"github.com/MrWong99/rtvoice/internal/protocol"
	"github.com/MrWong99/rtvoice/internal/turn"
	"github.com/MrWong99/rtvoice/pkg/audio"
	"github.com/MrWong99/rtvoice/pkg/provider/stt"
)

// onTurn acts on one detector boundary.
func (s *Session) onTurn(ctx context.Context, ev turn.Event) {
	switch ev.Kind {
	case turn.SpeechStarted:
		s.turnItem = protocol.NewID(protocol.PrefixItem)
		s.buf.StartSpeech()
		s.Emit(&protocol.InputAudioBufferSpeechStartedEvent{
			AudioStartMs: ms(s.detBase + ev.At),
			ItemID:       s.turnItem,
		})
		if s.active != nil && s.config.TurnDetection.InterruptResponse {
			s.cancelActive(ctx, protocol.ReasonTurnDetected)
		}
	case turn.SpeechStopped:
		s.endTurn(ctx, ev.At)
	case turn.EndCandidate:
		s.checkTurn(ctx, ev.Generation)
	}
}

// endTurn commits the finished turn and, when configured, answers it.
func (s *Session) endTurn(ctx context.Context, at time.Duration) {
	itemID := s.turnItem
	if itemID == "" {
		itemID = protocol.NewID(protocol.PrefixItem)
	}
	s.turnItem = ""
	s.Emit(&protocol.InputAudioBufferSpeechStoppedEvent{AudioEndMs: ms(s.detBase + at), ItemID: itemID})

	data, err := s.buf.CommitTurn()
	if err != nil {
		if isEmptyCommit(err) {
			observe.Logger(ctx).Debug("dropping turn too short to commit", "item_id", itemID)
			s.buf.Clear()
			return
		}
		s.fail(ctx, err, "")
		return
	}
	if err := s.commit(ctx, itemID, data); err != nil {
		s.fail(ctx, err, "")
		return
	}
	td := s.config.TurnDetection
	if td == nil || !td.CreateResponse || s.active != nil {
		return
	}
	if err := s.createResponse(ctx, nil); err != nil {
		s.fail(ctx, err, "")
	}
}

// checkTurn asks the semantic checker whether the current turn is done.
// The verdict comes back through the detector, which drops it when speech
// resumed in the meantime.
func (s *Session) checkTurn(ctx context.Context, gen uint64) {
	det := s.det
	pcm := s.buf.Turn()
	format := s.buf.Format()
	nr := s.config.InputAudioNoiseReduction
	var tr protocol.Transcription
	if s.config.InputAudioTranscription != nil {
		tr = *s.config.InputAudioTranscription
	}

	s.spawn(ctx, func(ctx context.Context) func(context.Context) {
		complete := true
		text, err := s.speechToText(ctx, pcm, format, nr, tr)
		switch {
		case err != nil:
			observe.Logger(ctx).Warn("semantic vad transcription failed", "err", err)
		case text != "":
			ok, err := s.checker.CheckTurnComplete(ctx, text)
			if err != nil {
				observe.Logger(ctx).Warn("semantic vad check failed", "err", err)
			} else {
				complete = ok
			}
		}
		return func(ctx context.Context) {
			if s.det != det {
				return
			}
			if ev, ok := det.Resolve(gen, complete); ok {
				s.endTurn(ctx, ev.At)
			}
		}
	})
}

// transcribe runs input audio transcription for a committed item.
func (s *Session) transcribe(ctx context.Context, itemID string, data []byte, format audio.WireFormat, tr protocol.Transcription) {
	nr := s.config.InputAudioNoiseReduction
	s.spawn(ctx, func(ctx context.Context) func(context.Context) {
		text, err := s.speechToText(ctx, data, format, nr, tr)
		return func(ctx context.Context) {
			if err != nil {
				observe.Logger(ctx).Warn("input audio transcription failed", "item_id", itemID, "err", err)
				s.Emit(&protocol.ConversationItemInputAudioTranscriptionFailedEvent{
					ItemID: itemID,
					Error:  protocol.ServerError(protocol.CodeTranscriptionFailed, "Input audio transcription failed."),
				})
				return
			}
			if err := s.conv.UpdateTranscript(itemID, 0, text); err != nil {
				if errors.Is(err, conversation.ErrNotFound) {
					observe.Logger(ctx).Debug("transcribed item was deleted", "item_id", itemID)
					return
				}
				s.fail(ctx, err, "")
				return
			}
			s.Emit(&protocol.ConversationItemInputAudioTranscriptionCompletedEvent{
				ItemID:     itemID,
				Transcript: text,
			})
		}
	})
}

// speechToText decodes wire audio, applies noise reduction, resamples to
// the worker's rate and transcribes. It runs off the actor.
func (s *Session) speechToText(ctx context.Context, data []byte, format audio.WireFormat, nr *protocol.NoiseReduction, tr protocol.Transcription) (string, error) {
	pcm, err := format.Decode(data)
	if err != nil {
		return "", err
	}
	if nr != nil {
		if mode, err := audio.ParseNoiseReduction(nr.Type); err == nil {
			pcm = audio.NewDenoiser(mode, format.SampleRate()).Process(pcm)
		}
	}
	rate := s.stt.SampleRate()
	if rate != format.SampleRate() {
		hq, err := audio.ResampleHQ(pcm, format.SampleRate(), rate)
		if err != nil {
			hq = audio.ResampleMono16(pcm, format.SampleRate(), rate)
		}
		pcm = hq
	}

	start := time.Now()
	res, err := s.stt.Transcribe(ctx, stt.Request{
		PCM:        pcm,
		SampleRate: rate,
		Model:      tr.Model,
		Language:   tr.Language,
		Prompt:     tr.Prompt,
	})
	s.metrics.RecordLatency(ctx, observe.StageSTT, time.Since(start))
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, s.sttName, "stt", "error")
		s.metrics.RecordProviderError(ctx, s.sttName, "stt")
		return "", err
	}
	s.metrics.RecordProviderRequest(ctx, s.sttName, "stt", "ok")
	return strings.TrimSpace(res.Text), nil
}
