package audio_test

import (
	"testing"

	"github.com/MrWong99/rtvoice/pkg/audio"
)

func TestParseNoiseReduction(t *testing.T) {
	t.Parallel()
	tests := map[string]audio.NoiseReduction{
		"":           audio.NoiseReductionOff,
		"near_field": audio.NoiseReductionNearField,
		"far_field":  audio.NoiseReductionFarField,
	}
	for name, want := range tests {
		got, err := audio.ParseNoiseReduction(name)
		if err != nil || got != want {
			t.Errorf("ParseNoiseReduction(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := audio.ParseNoiseReduction("studio"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestDenoiser_OffIsPassthrough(t *testing.T) {
	t.Parallel()
	pcm := audio.SamplesToBytes([]int16{1, 2, 3})
	d := audio.NewDenoiser(audio.NoiseReductionOff, 24000)
	if got := d.Process(pcm); &got[0] != &pcm[0] {
		t.Error("off mode should return the input slice")
	}
}

func TestDenoiser_RemovesDCAndKeepsInput(t *testing.T) {
	t.Parallel()
	dc := make([]int16, 24000)
	for i := range dc {
		dc[i] = 5000
	}
	pcm := audio.SamplesToBytes(dc)
	orig := append([]byte(nil), pcm...)

	d := audio.NewDenoiser(audio.NoiseReductionNearField, 24000)
	out := d.Process(pcm)

	for i := range pcm {
		if pcm[i] != orig[i] {
			t.Fatal("Process modified its input")
		}
	}
	tail := out[len(out)-4800:] // last 100ms
	if rms := audio.RMS(tail); rms > 50 {
		t.Errorf("DC not removed: tail rms %.1f", rms)
	}
}

func TestDenoiser_FarFieldAttenuatesNoiseFloor(t *testing.T) {
	t.Parallel()
	quiet := audio.SamplesToBytes(tone(24000, 24000, 1000, 200))
	near := audio.NewDenoiser(audio.NoiseReductionNearField, 24000).Process(quiet)
	far := audio.NewDenoiser(audio.NoiseReductionFarField, 24000).Process(quiet)
	if audio.RMS(far) >= audio.RMS(near) {
		t.Errorf("far-field should attenuate quiet input more: near %.1f far %.1f", audio.RMS(near), audio.RMS(far))
	}

	loud := audio.SamplesToBytes(tone(24000, 24000, 1000, 10000))
	out := audio.NewDenoiser(audio.NoiseReductionFarField, 24000).Process(loud)
	if ratio := audio.RMS(out) / audio.RMS(loud); ratio < 0.8 {
		t.Errorf("far-field should pass speech-level input, rms ratio %.2f", ratio)
	}
}
