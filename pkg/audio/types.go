// Package audio holds the sample-level building blocks of the realtime
// pipeline: the wire formats a session may declare, G.711 companding,
// resampling, level measurement, and input noise reduction.
//
// All linear audio handled here is 16-bit little-endian mono PCM unless a
// function says otherwise.
package audio

import "time"

// AudioFrame is one chunk of decoded linear PCM travelling between the input
// buffer, the VAD front end and the transcription path.
type AudioFrame struct {
	// Data is little-endian int16 mono PCM.
	Data []byte

	// SampleRate in Hz (24000 for pcm16 sessions, 8000 for G.711 sessions).
	SampleRate int

	// Timestamp is the frame's offset from the start of the session's input stream.
	Timestamp time.Duration
}

// Duration reports how much audio f carries.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	samples := len(f.Data) / 2
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}
