package audio

import "math"

// silenceFloorDBFS is reported for digital silence instead of -Inf.
const silenceFloorDBFS = -96.0

// RMS returns the root mean square amplitude of little-endian PCM16 samples.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// DBFS converts an RMS amplitude to decibels relative to int16 full scale.
func DBFS(rms float64) float64 {
	if rms <= 0 {
		return silenceFloorDBFS
	}
	db := 20 * math.Log10(rms/32768.0)
	if db < silenceFloorDBFS {
		return silenceFloorDBFS
	}
	return db
}
