// Package vad defines the Engine interface for frame-level voice activity
// detection.
//
// An engine classifies fixed-size PCM16 frames as speech or silence and keeps
// per-stream hysteresis state in a SessionHandle. Turn timing (silence
// windows, prefix padding) is layered on top by internal/turn.
//
// ProcessFrame is synchronous and must not block. A SessionHandle belongs to
// one session actor and is not safe for concurrent use; Engine.NewSession is.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate of the frames in Hz.
	SampleRate int

	// FrameSizeMs is the duration of each frame. ProcessFrame rejects frames
	// of any other size.
	FrameSizeMs int

	// SpeechThreshold is the probability at or above which a silent stream
	// switches to speech. Range [0, 1].
	SpeechThreshold float64

	// SilenceThreshold is the probability below which an active speech
	// segment ends. Must not exceed SpeechThreshold. Zero means "same as
	// SpeechThreshold".
	SilenceThreshold float64
}

// FrameBytes returns the PCM16 size of one frame.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// EventType enumerates per-frame detection states.
type EventType int

const (
	// SpeechStart is reported on the first speech frame after silence.
	SpeechStart EventType = iota
	// SpeechContinue is reported while speech goes on.
	SpeechContinue
	// SpeechEnd is reported on the first silent frame after speech.
	SpeechEnd
	// Silence is reported while no speech is active.
	Silence
)

func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "speech_start"
	case SpeechContinue:
		return "speech_continue"
	case SpeechEnd:
		return "speech_end"
	case Silence:
		return "silence"
	}
	return "unknown"
}

// Speaking reports whether the frame belongs to a speech segment.
func (t EventType) Speaking() bool { return t == SpeechStart || t == SpeechContinue }

// Event is the detection result for one frame.
type Event struct {
	Type EventType

	// Probability is the speech probability in [0, 1].
	Probability float64
}

// SessionHandle is the detection state for one audio stream.
type SessionHandle interface {
	// ProcessFrame classifies one frame of FrameBytes PCM16 bytes.
	ProcessFrame(frame []byte) (Event, error)

	// Reset returns the session to silence without closing it.
	Reset()

	// Close releases the session. Calling it twice is safe.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession validates cfg and returns a session in the silent state.
	NewSession(cfg Config) (SessionHandle, error)
}
