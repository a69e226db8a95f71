package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/rtvoice/pkg/audio"
)

// tone returns n samples of a sine at freq Hz sampled at rate, with the given peak amplitude.
func tone(n, rate int, freq, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestSamplesRoundTrip(t *testing.T) {
	t.Parallel()
	in := []int16{0, 1, -1, 32767, -32768, 1234}
	got := audio.BytesToSamples(audio.SamplesToBytes(in))
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], in[i])
		}
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	t.Parallel()
	pcm := audio.SamplesToBytes([]int16{100, 200, 300})
	out := audio.ResampleMono16(pcm, 24000, 24000)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	t.Parallel()
	// 2 samples at 8kHz → 6 samples at 24kHz (3x)
	pcm := audio.SamplesToBytes([]int16{1000, 2000})
	got := audio.BytesToSamples(audio.ResampleMono16(pcm, 8000, 24000))
	if len(got) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(got))
	}
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
	last := got[len(got)-1]
	if last < 1800 || last > 2200 {
		t.Errorf("last sample: got %d, want close to 2000", last)
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	t.Parallel()
	pcm := audio.SamplesToBytes([]int16{100, 200, 300, 400, 500, 600})
	got := audio.BytesToSamples(audio.ResampleMono16(pcm, 24000, 8000))
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
}

func TestResampleMono16_InvalidRate(t *testing.T) {
	t.Parallel()
	pcm := audio.SamplesToBytes([]int16{100, 200})
	for _, rates := range [][2]int{{0, 24000}, {24000, 0}, {-1, 24000}} {
		if out := audio.ResampleMono16(pcm, rates[0], rates[1]); len(out) != len(pcm) {
			t.Errorf("rates %v: expected unchanged output, got len %d", rates, len(out))
		}
	}
}

func TestResampleHQ(t *testing.T) {
	t.Parallel()
	src := audio.SamplesToBytes(tone(24000, 24000, 440, 8000))

	out, err := audio.ResampleHQ(src, 24000, 16000)
	if err != nil {
		t.Fatalf("ResampleHQ: %v", err)
	}
	samples := len(out) / 2
	if samples < 15200 || samples > 16800 {
		t.Errorf("expected ~16000 samples, got %d", samples)
	}

	ratio := audio.RMS(out) / audio.RMS(src)
	if ratio < 0.8 || ratio > 1.2 {
		t.Errorf("tone energy not preserved: rms ratio %.3f", ratio)
	}
}

func TestResampleHQ_Errors(t *testing.T) {
	t.Parallel()
	if _, err := audio.ResampleHQ([]byte{0, 0}, 0, 16000); err == nil {
		t.Error("expected error for zero source rate")
	}
	pcm := audio.SamplesToBytes([]int16{1, 2, 3})
	out, err := audio.ResampleHQ(pcm, 16000, 16000)
	if err != nil || len(out) != len(pcm) {
		t.Errorf("same-rate resample should pass through, got len %d err %v", len(out), err)
	}
}

func TestLevel(t *testing.T) {
	t.Parallel()
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := audio.DBFS(0); got != -96 {
		t.Errorf("DBFS(0) = %v, want -96", got)
	}
	full := audio.SamplesToBytes([]int16{32767, -32767, 32767, -32767})
	if db := audio.DBFS(audio.RMS(full)); db < -0.1 || db > 0.1 {
		t.Errorf("full-scale square: got %.2f dBFS, want ~0", db)
	}
}

func TestAudioFrameDuration(t *testing.T) {
	t.Parallel()
	f := audio.AudioFrame{Data: make([]byte, 960), SampleRate: 24000}
	if got := f.Duration().Milliseconds(); got != 20 {
		t.Errorf("Duration = %dms, want 20", got)
	}
}
