package audio_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/rtvoice/pkg/audio"
)

func TestParseWireFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		want     audio.WireFormat
		rate     int
		perFrame int
		wantErr  bool
	}{
		{name: "pcm16", want: audio.PCM16, rate: 24000, perFrame: 2},
		{name: "g711_ulaw", want: audio.G711ULaw, rate: 8000, perFrame: 1},
		{name: "g711_alaw", want: audio.G711ALaw, rate: 8000, perFrame: 1},
		{name: "opus", wantErr: true},
		{name: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := audio.ParseWireFormat(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.name)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want || got.SampleRate() != tt.rate || got.BytesPerSample() != tt.perFrame {
				t.Errorf("got %v (%d Hz, %d B)", got, got.SampleRate(), got.BytesPerSample())
			}
			if got.String() != tt.name {
				t.Errorf("String() = %q, want %q", got.String(), tt.name)
			}
		})
	}
}

func TestWireFormat_Durations(t *testing.T) {
	t.Parallel()
	if got := audio.PCM16.Duration(48000); got != time.Second {
		t.Errorf("pcm16 48000 bytes = %v, want 1s", got)
	}
	if got := audio.G711ULaw.Duration(8000); got != time.Second {
		t.Errorf("ulaw 8000 bytes = %v, want 1s", got)
	}
	if got := audio.PCM16.BytesFor(300 * time.Millisecond); got != 14400 {
		t.Errorf("pcm16 300ms = %d bytes, want 14400", got)
	}
	if got := audio.G711ALaw.BytesFor(20 * time.Millisecond); got != 160 {
		t.Errorf("alaw 20ms = %d bytes, want 160", got)
	}
	var zero audio.WireFormat
	if !zero.IsZero() || zero.Duration(100) != 0 {
		t.Error("zero format should be unresolved and report zero duration")
	}
}

func TestWireFormat_DecodeEncode(t *testing.T) {
	t.Parallel()
	if _, err := audio.PCM16.Decode([]byte{1, 2, 3}); !errors.Is(err, audio.ErrOddLength) {
		t.Errorf("odd pcm16: got %v, want ErrOddLength", err)
	}
	if err := audio.G711ULaw.Validate([]byte{1, 2, 3}); err != nil {
		t.Errorf("odd ulaw length should be valid: %v", err)
	}

	pcm := audio.SamplesToBytes(tone(160, 8000, 440, 8000))
	for _, f := range []audio.WireFormat{audio.G711ULaw, audio.G711ALaw} {
		wire := f.Encode(pcm)
		if len(wire) != 160 {
			t.Fatalf("%v: encoded %d bytes, want 160", f, len(wire))
		}
		back, err := f.Decode(wire)
		if err != nil {
			t.Fatalf("%v: decode: %v", f, err)
		}
		if len(back) != len(pcm) {
			t.Fatalf("%v: decoded %d bytes, want %d", f, len(back), len(pcm))
		}
	}
}

func TestWireFormat_FromPCM16(t *testing.T) {
	t.Parallel()
	pcm24k := audio.SamplesToBytes(tone(2400, 24000, 440, 8000)) // 100ms
	out := audio.G711ULaw.FromPCM16(pcm24k, 24000)
	if len(out) != 800 {
		t.Errorf("100ms at 8kHz ulaw = %d bytes, want 800", len(out))
	}
	same := audio.PCM16.FromPCM16(pcm24k, 24000)
	if len(same) != len(pcm24k) {
		t.Errorf("pcm16 passthrough changed length: %d", len(same))
	}
}
