// Package energy implements a vad.Engine that maps frame loudness onto a
// speech probability: -60 dBFS and below is 0, full scale is 1.
package energy

import (
	"errors"
	"fmt"

	"github.com/MrWong99/rtvoice/pkg/audio"
	"github.com/MrWong99/rtvoice/pkg/provider/vad"
)

// FloorDBFS is the level that maps to probability zero.
const FloorDBFS = -60.0

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("energy: session closed")

// Engine is the energy-based vad.Engine. The zero value is ready to use.
type Engine struct{}

var _ vad.Engine = Engine{}

// New returns an Engine.
func New() Engine { return Engine{} }

// NewSession implements vad.Engine.
func (Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 || cfg.FrameBytes() == 0 {
		return nil, fmt.Errorf("energy: frame size must be positive, got %d ms", cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %v out of [0,1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = cfg.SpeechThreshold
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %v must be within [0, %v]", cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	return &session{cfg: cfg, frameBytes: cfg.FrameBytes()}, nil
}

// Probability maps a PCM16 frame onto [0, 1].
func Probability(frame []byte) float64 {
	p := (audio.DBFS(audio.RMS(frame)) - FloorDBFS) / -FloorDBFS
	return max(0, min(1, p))
}

type session struct {
	cfg        vad.Config
	frameBytes int
	speaking   bool
	closed     bool
}

func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, ErrClosed
	}
	if len(frame) != s.frameBytes {
		return vad.Event{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	p := Probability(frame)
	ev := vad.Event{Probability: p}
	switch {
	case !s.speaking && p >= s.cfg.SpeechThreshold:
		s.speaking = true
		ev.Type = vad.SpeechStart
	case s.speaking && p < s.cfg.SilenceThreshold:
		s.speaking = false
		ev.Type = vad.SpeechEnd
	case s.speaking:
		ev.Type = vad.SpeechContinue
	default:
		ev.Type = vad.Silence
	}
	return ev, nil
}

func (s *session) Reset() { s.speaking = false }

func (s *session) Close() error {
	s.closed = true
	return nil
}
