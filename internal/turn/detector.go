// Package turn layers turn-taking on top of frame-level voice activity
// detection.
//
// A [Detector] is fed the session's decoded input audio in arrival order and
// reports speech onsets and turn ends on the session's input audio clock.
// With server_vad a turn ends after a fixed silence window. With
// semantic_vad the detector only proposes an end; the session asks a
// [SemanticChecker] and reports the verdict back through [Detector.Resolve].
package turn

import (
	"fmt"
	"time"

	"github.com/MrWong99/rtvoice/internal/protocol"
	"github.com/MrWong99/rtvoice/pkg/provider/vad"
)

// FrameSize is the analysis frame length.
const FrameSize = 20 * time.Millisecond

// semanticBaseSilence is the silence window semantic_vad scales by eagerness.
const semanticBaseSilence = protocol.DefaultSilenceDurationMs * time.Millisecond

// maxChecksPerTurn bounds how long semantic_vad waits on an undecided turn:
// after this many silence windows the turn ends regardless.
const maxChecksPerTurn = 4

// Kind classifies detector events.
type Kind int

const (
	// SpeechStarted reports onset. At is the onset minus prefix padding.
	SpeechStarted Kind = iota
	// SpeechStopped reports the end of a turn. At is the end of the silence
	// window.
	SpeechStopped
	// EndCandidate asks the session to check whether a semantic_vad turn is
	// complete. At is the current clock.
	EndCandidate
)

func (k Kind) String() string {
	switch k {
	case SpeechStarted:
		return "speech_started"
	case SpeechStopped:
		return "speech_stopped"
	case EndCandidate:
		return "end_candidate"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Event is one turn boundary.
type Event struct {
	Kind Kind
	At   time.Duration

	// Generation identifies the candidate for EndCandidate events.
	Generation uint64
}

// Detector tracks turns for one session. Not safe for concurrent use.
type Detector struct {
	cfg        protocol.TurnDetection
	vad        vad.SessionHandle
	frameBytes int
	frameDur   time.Duration
	window     time.Duration
	prefix     time.Duration

	pending  []byte
	clock    time.Duration
	speaking bool
	silence  time.Duration

	// semantic_vad candidate state.
	generation uint64
	candidate  bool
	checks     int
}

// NewDetector opens a VAD session on engine for PCM16 at sampleRate.
func NewDetector(engine vad.Engine, cfg protocol.TurnDetection, sampleRate int) (*Detector, error) {
	vcfg := vad.Config{
		SampleRate:      sampleRate,
		FrameSizeMs:     int(FrameSize / time.Millisecond),
		SpeechThreshold: cfg.Threshold,
	}
	if cfg.Type == protocol.TurnSemanticVAD {
		vcfg.SpeechThreshold = protocol.DefaultThreshold
	}
	h, err := engine.NewSession(vcfg)
	if err != nil {
		return nil, fmt.Errorf("turn: open vad session: %w", err)
	}
	d := &Detector{
		cfg:        cfg,
		vad:        h,
		frameBytes: vcfg.FrameBytes(),
		frameDur:   FrameSize,
		window:     SilenceWindow(cfg),
	}
	if cfg.Type == protocol.TurnServerVAD {
		d.prefix = time.Duration(cfg.PrefixPaddingMs) * time.Millisecond
	} else {
		d.prefix = protocol.DefaultPrefixPaddingMs * time.Millisecond
	}
	return d, nil
}

// SilenceWindow returns how much trailing silence ends (or, for
// semantic_vad, proposes to end) a turn.
func SilenceWindow(cfg protocol.TurnDetection) time.Duration {
	if cfg.Type != protocol.TurnSemanticVAD {
		return time.Duration(cfg.SilenceDurationMs) * time.Millisecond
	}
	switch cfg.Eagerness {
	case protocol.EagernessLow:
		return 2 * semanticBaseSilence
	case protocol.EagernessHigh:
		return semanticBaseSilence / 2
	}
	return semanticBaseSilence
}

// Config returns the turn detection settings in effect.
func (d *Detector) Config() protocol.TurnDetection { return d.cfg }

// PrefixPadding returns the audio kept ahead of speech onset.
func (d *Detector) PrefixPadding() time.Duration { return d.prefix }

// Speaking reports whether a turn is in progress.
func (d *Detector) Speaking() bool { return d.speaking }

// Clock returns the input audio position processed so far.
func (d *Detector) Clock() time.Duration { return d.clock }

// Generation returns the current candidate generation.
func (d *Detector) Generation() uint64 { return d.generation }

// Feed processes PCM16 audio. Trailing bytes short of a frame are kept for
// the next call.
func (d *Detector) Feed(pcm []byte) ([]Event, error) {
	d.pending = append(d.pending, pcm...)
	var events []Event
	for len(d.pending) >= d.frameBytes {
		frame := d.pending[:d.frameBytes]
		ev, err := d.vad.ProcessFrame(frame)
		d.pending = d.pending[d.frameBytes:]
		if err != nil {
			return events, fmt.Errorf("turn: process frame: %w", err)
		}
		start := d.clock
		d.clock += d.frameDur
		if e, ok := d.step(ev.Type.Speaking(), start); ok {
			events = append(events, e)
		}
	}
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return events, nil
}

func (d *Detector) step(speech bool, frameStart time.Duration) (Event, bool) {
	if !d.speaking {
		if !speech {
			return Event{}, false
		}
		d.speaking = true
		d.silence = 0
		return Event{Kind: SpeechStarted, At: max(0, frameStart-d.prefix)}, true
	}

	if speech {
		d.silence = 0
		d.checks = 0
		if d.candidate {
			// Speech resumed before the verdict arrived.
			d.candidate = false
			d.generation++
		}
		return Event{}, false
	}

	d.silence += d.frameDur
	if d.cfg.Type != protocol.TurnSemanticVAD {
		if d.silence >= d.window {
			return d.stop(), true
		}
		return Event{}, false
	}
	if d.silence >= d.window*maxChecksPerTurn {
		return d.stop(), true
	}
	if !d.candidate && d.silence >= d.window*time.Duration(d.checks+1) {
		d.candidate = true
		d.checks++
		d.generation++
		return Event{Kind: EndCandidate, At: d.clock, Generation: d.generation}, true
	}
	return Event{}, false
}

func (d *Detector) stop() Event {
	d.speaking = false
	d.silence = 0
	d.candidate = false
	d.checks = 0
	d.generation++
	return Event{Kind: SpeechStopped, At: d.clock}
}

// Resolve applies a semantic verdict for candidate generation gen. It
// returns the SpeechStopped event when the turn ends now. Stale verdicts
// are ignored.
func (d *Detector) Resolve(gen uint64, complete bool) (Event, bool) {
	if !d.candidate || gen != d.generation {
		return Event{}, false
	}
	d.candidate = false
	if !complete {
		return Event{}, false
	}
	return d.stop(), true
}

// Reset abandons the current turn, e.g. after a manual commit or clear.
func (d *Detector) Reset() {
	if d.speaking || d.candidate {
		d.generation++
	}
	d.speaking = false
	d.silence = 0
	d.candidate = false
	d.checks = 0
	d.vad.Reset()
}

// Close releases the VAD session.
func (d *Detector) Close() error { return d.vad.Close() }
