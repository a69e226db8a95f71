// Package mock provides a scripted vad.Engine.
package mock

import (
	"sync"

	"github.com/MrWong99/rtvoice/pkg/provider/vad"
)

// Engine hands out Session values and records their configs. Sessions
// classify a frame as speech when its first byte is non-zero, so tests can
// build frames without synthesising audio.
type Engine struct {
	mu      sync.Mutex
	Err     error
	configs []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	if e.Err != nil {
		return nil, e.Err
	}
	return &Session{}, nil
}

// Configs returns the configs passed to NewSession.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// Session is a deterministic vad.SessionHandle.
type Session struct {
	speaking bool
	Frames   int
	Resets   int
	Closed   bool
}

// ProcessFrame implements vad.SessionHandle.
func (s *Session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.Frames++
	speech := len(frame) > 0 && frame[0] != 0
	switch {
	case speech && !s.speaking:
		s.speaking = true
		return vad.Event{Type: vad.SpeechStart, Probability: 1}, nil
	case speech:
		return vad.Event{Type: vad.SpeechContinue, Probability: 1}, nil
	case s.speaking:
		s.speaking = false
		return vad.Event{Type: vad.SpeechEnd}, nil
	}
	return vad.Event{Type: vad.Silence}, nil
}

// Reset implements vad.SessionHandle.
func (s *Session) Reset() {
	s.speaking = false
	s.Resets++
}

// Close implements vad.SessionHandle.
func (s *Session) Close() error {
	s.Closed = true
	return nil
}
