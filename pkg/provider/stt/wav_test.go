package stt_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/MrWong99/rtvoice/pkg/provider/stt"
)

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()
	pcm := make([]byte, 320)
	wav := stt.EncodeWAV(pcm, 16000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad chunk markers: %q %q %q", wav[0:4], wav[8:12], wav[36:40])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
}

func TestRequestDuration(t *testing.T) {
	t.Parallel()
	req := stt.Request{PCM: make([]byte, 32000), SampleRate: 16000}
	if got := req.Duration(); got != time.Second {
		t.Errorf("Duration() = %v, want 1s", got)
	}
	if got := (stt.Request{PCM: make([]byte, 10)}).Duration(); got != 0 {
		t.Errorf("zero rate Duration() = %v, want 0", got)
	}
}
