package turn

import (
	"testing"
	"time"

	"github.com/MrWong99/rtvoice/internal/protocol"
	vadmock "github.com/MrWong99/rtvoice/pkg/provider/vad/mock"
)

const rate = 24000

// frames builds n 20ms frames at 24kHz; speech frames start with a non-zero
// byte, which the mock VAD treats as voice.
func frames(n int, speech bool) []byte {
	b := make([]byte, n*960)
	if speech {
		for i := 0; i < n; i++ {
			b[i*960] = 1
		}
	}
	return b
}

func serverVAD() protocol.TurnDetection {
	return protocol.TurnDetection{
		Type:              protocol.TurnServerVAD,
		Threshold:         0.5,
		PrefixPaddingMs:   300,
		SilenceDurationMs: 500,
		CreateResponse:    true,
		InterruptResponse: true,
	}
}

func newDetector(t *testing.T, cfg protocol.TurnDetection) *Detector {
	t.Helper()
	d, err := NewDetector(&vadmock.Engine{}, cfg, rate)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func feed(t *testing.T, d *Detector, pcm []byte) []Event {
	t.Helper()
	evs, err := d.Feed(pcm)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	return evs
}

func TestServerVAD_Turn(t *testing.T) {
	t.Parallel()

	d := newDetector(t, serverVAD())
	if evs := feed(t, d, frames(30, false)); len(evs) != 0 {
		t.Fatalf("silence produced %v", evs)
	}
	evs := feed(t, d, frames(25, true))
	if len(evs) != 1 || evs[0].Kind != SpeechStarted {
		t.Fatalf("onset events = %v", evs)
	}
	if evs[0].At != 300*time.Millisecond {
		t.Errorf("onset At = %v, want 300ms (600ms minus padding)", evs[0].At)
	}
	if !d.Speaking() {
		t.Error("not speaking after onset")
	}

	if evs := feed(t, d, frames(24, false)); len(evs) != 0 {
		t.Fatalf("480ms silence ended turn: %v", evs)
	}
	evs = feed(t, d, frames(1, false))
	if len(evs) != 1 || evs[0].Kind != SpeechStopped {
		t.Fatalf("stop events = %v", evs)
	}
	if evs[0].At != 1600*time.Millisecond {
		t.Errorf("stop At = %v, want 1.6s", evs[0].At)
	}
}

func TestServerVAD_PaddingClampsAtZero(t *testing.T) {
	t.Parallel()

	d := newDetector(t, serverVAD())
	evs := feed(t, d, frames(1, true))
	if len(evs) != 1 || evs[0].At != 0 {
		t.Fatalf("events = %v", evs)
	}
}

func TestFeed_PartialFrames(t *testing.T) {
	t.Parallel()

	d := newDetector(t, serverVAD())
	pcm := frames(3, true)
	var got []Event
	for len(pcm) > 0 {
		n := min(333, len(pcm))
		got = append(got, feed(t, d, pcm[:n])...)
		pcm = pcm[n:]
	}
	if len(got) != 1 || got[0].Kind != SpeechStarted {
		t.Fatalf("events = %v", got)
	}
	if d.Clock() != 60*time.Millisecond {
		t.Errorf("Clock = %v, want 60ms", d.Clock())
	}
}

func TestSemanticVAD_Verdicts(t *testing.T) {
	t.Parallel()

	cfg := protocol.TurnDetection{Type: protocol.TurnSemanticVAD, Eagerness: protocol.EagernessHigh}
	d := newDetector(t, cfg)
	feed(t, d, frames(5, true))

	// High eagerness halves the 500ms base window.
	evs := feed(t, d, frames(13, false))
	if len(evs) != 1 || evs[0].Kind != EndCandidate {
		t.Fatalf("events = %v", evs)
	}
	first := evs[0].Generation
	if _, ok := d.Resolve(first, false); ok {
		t.Fatal("incomplete verdict ended turn")
	}

	evs = feed(t, d, frames(13, false))
	if len(evs) != 1 || evs[0].Kind != EndCandidate {
		t.Fatalf("second candidate = %v", evs)
	}
	if _, ok := d.Resolve(first, true); ok {
		t.Fatal("stale verdict accepted")
	}
	ev, ok := d.Resolve(evs[0].Generation, true)
	if !ok || ev.Kind != SpeechStopped {
		t.Fatalf("Resolve = %v %v", ev, ok)
	}
	if d.Speaking() {
		t.Error("still speaking after stop")
	}
}

func TestSemanticVAD_SpeechInvalidatesCandidate(t *testing.T) {
	t.Parallel()

	d := newDetector(t, protocol.TurnDetection{Type: protocol.TurnSemanticVAD, Eagerness: protocol.EagernessAuto})
	feed(t, d, frames(5, true))
	evs := feed(t, d, frames(25, false))
	if len(evs) != 1 || evs[0].Kind != EndCandidate {
		t.Fatalf("events = %v", evs)
	}
	feed(t, d, frames(1, true))
	if _, ok := d.Resolve(evs[0].Generation, true); ok {
		t.Fatal("verdict applied after speech resumed")
	}
}

func TestSemanticVAD_ForcedStop(t *testing.T) {
	t.Parallel()

	d := newDetector(t, protocol.TurnDetection{Type: protocol.TurnSemanticVAD, Eagerness: protocol.EagernessHigh})
	feed(t, d, frames(2, true))
	var kinds []Kind
	for _, ev := range feed(t, d, frames(60, false)) {
		kinds = append(kinds, ev.Kind)
	}
	// No verdicts arrive: one candidate, then a forced stop at 4 windows.
	if len(kinds) != 2 || kinds[0] != EndCandidate || kinds[1] != SpeechStopped {
		t.Fatalf("kinds = %v", kinds)
	}
}

func TestSilenceWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cfg  protocol.TurnDetection
		want time.Duration
	}{
		{protocol.TurnDetection{Type: protocol.TurnServerVAD, SilenceDurationMs: 700}, 700 * time.Millisecond},
		{protocol.TurnDetection{Type: protocol.TurnSemanticVAD, Eagerness: protocol.EagernessLow}, time.Second},
		{protocol.TurnDetection{Type: protocol.TurnSemanticVAD, Eagerness: protocol.EagernessMedium}, 500 * time.Millisecond},
		{protocol.TurnDetection{Type: protocol.TurnSemanticVAD, Eagerness: protocol.EagernessAuto}, 500 * time.Millisecond},
		{protocol.TurnDetection{Type: protocol.TurnSemanticVAD, Eagerness: protocol.EagernessHigh}, 250 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := SilenceWindow(tt.cfg); got != tt.want {
			t.Errorf("SilenceWindow(%s/%s) = %v, want %v", tt.cfg.Type, tt.cfg.Eagerness, got, tt.want)
		}
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	d := newDetector(t, serverVAD())
	feed(t, d, frames(2, true))
	d.Reset()
	if d.Speaking() {
		t.Fatal("speaking after Reset")
	}
	if evs := feed(t, d, frames(1, true)); len(evs) != 1 || evs[0].Kind != SpeechStarted {
		t.Errorf("onset after reset = %v", evs)
	}
}
