package audio

import (
	"fmt"
	"math"
)

// NoiseReduction selects the input clean-up applied before VAD and
// transcription. It never touches the audio stored in conversation items.
type NoiseReduction uint8

const (
	NoiseReductionOff NoiseReduction = iota
	// NoiseReductionNearField suits close-talking microphones: a DC-blocking
	// high-pass filter removes rumble and handling noise.
	NoiseReductionNearField
	// NoiseReductionFarField suits room microphones: a steeper high-pass plus
	// a downward expander that pushes the noise floor further down.
	NoiseReductionFarField
)

// ParseNoiseReduction resolves the wire names "near_field" and "far_field".
// The empty string disables noise reduction.
func ParseNoiseReduction(name string) (NoiseReduction, error) {
	switch name {
	case "":
		return NoiseReductionOff, nil
	case "near_field":
		return NoiseReductionNearField, nil
	case "far_field":
		return NoiseReductionFarField, nil
	}
	return NoiseReductionOff, fmt.Errorf("audio: unknown noise reduction %q", name)
}

const (
	nearFieldCutoffHz = 80.0
	farFieldCutoffHz  = 150.0

	// Expander settings for far-field input. Levels below the threshold are
	// attenuated with a 2:1 downward ratio.
	expanderThreshold = 600.0
	expanderAttack    = 0.01
	expanderRelease   = 0.0005
)

// Denoiser filters a stream of PCM16 chunks. State carries across calls, so
// use one per session and feed chunks in order. Not safe for concurrent use.
type Denoiser struct {
	mode  NoiseReduction
	alpha float64

	prevIn  float64
	prevOut float64
	env     float64
}

// NewDenoiser returns a denoiser for PCM16 at sampleRate.
func NewDenoiser(mode NoiseReduction, sampleRate int) *Denoiser {
	cutoff := nearFieldCutoffHz
	if mode == NoiseReductionFarField {
		cutoff = farFieldCutoffHz
	}
	rc := 1.0 / (2 * math.Pi * cutoff)
	dt := 1.0 / float64(max(sampleRate, 1))
	return &Denoiser{mode: mode, alpha: rc / (rc + dt)}
}

// Mode reports the configured noise reduction.
func (d *Denoiser) Mode() NoiseReduction { return d.mode }

// Process returns a filtered copy of pcm. With [NoiseReductionOff] the input
// slice itself is returned.
func (d *Denoiser) Process(pcm []byte) []byte {
	if d == nil || d.mode == NoiseReductionOff {
		return pcm
	}
	n := len(pcm) / 2
	out := make([]byte, n*2)
	for i := range n {
		x := float64(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))

		y := d.alpha * (d.prevOut + x - d.prevIn)
		d.prevIn, d.prevOut = x, y

		if d.mode == NoiseReductionFarField {
			level := math.Abs(y)
			coeff := expanderRelease
			if level > d.env {
				coeff = expanderAttack
			}
			d.env += coeff * (level - d.env)
			if d.env < expanderThreshold {
				y *= d.env / expanderThreshold
			}
		}

		s := int16(max(-32768, min(32767, math.Round(y))))
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}
