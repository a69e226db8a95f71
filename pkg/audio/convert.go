package audio

import (
	"encoding/binary"
	"fmt"

	"github.com/faiface/beep"
)

// hqQuality is the beep resampler quality used by [ResampleHQ]. Higher values
// trade CPU for less aliasing; 3 is beep's recommended general-purpose value.
const hqQuality = 3

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. It is cheap enough for per-chunk use on streamed output.
// If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// ResampleHQ resamples a complete 16-bit mono PCM buffer with beep's
// windowed-sinc resampler. Use it for whole committed turns (e.g. before
// transcription) where quality matters more than latency.
func ResampleHQ(pcm []byte, srcRate, dstRate int) ([]byte, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: resample %d -> %d: invalid rate", srcRate, dstRate)
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm, nil
	}

	src := &pcmStreamer{samples: BytesToSamples(pcm)}
	r := beep.Resample(hqQuality, beep.SampleRate(srcRate), beep.SampleRate(dstRate), src)

	want := int(int64(len(src.samples)) * int64(dstRate) / int64(srcRate))
	out := make([]int16, 0, want)
	buf := make([][2]float64, 512)
	for {
		n, ok := r.Stream(buf)
		for i := range n {
			out = append(out, floatToInt16(buf[i][0]))
		}
		if !ok {
			break
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("audio: resample %d -> %d: %w", srcRate, dstRate, err)
	}
	return SamplesToBytes(out), nil
}

// pcmStreamer feeds int16 samples to beep as a mono-in-stereo stream.
type pcmStreamer struct {
	samples []int16
	pos     int
}

func (s *pcmStreamer) Stream(buf [][2]float64) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}
	n := 0
	for n < len(buf) && s.pos < len(s.samples) {
		v := float64(s.samples[s.pos]) / 32768.0
		buf[n][0], buf[n][1] = v, v
		n++
		s.pos++
	}
	return n, true
}

func (s *pcmStreamer) Err() error { return nil }

func floatToInt16(v float64) int16 {
	v *= 32768.0
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}

// BytesToSamples converts little-endian PCM16 to int16 samples. A trailing odd
// byte is ignored.
func BytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to little-endian PCM16.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
