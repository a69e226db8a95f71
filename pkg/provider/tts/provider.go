// Package tts defines the Provider interface for speech synthesis.
//
// SynthesizeStream takes a channel of sentence-sized text fragments, so the
// response engine can pipe LLM output into synthesis while the model is still
// generating, and returns PCM16 chunks as they become available.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"time"
)

// Request selects how text is spoken.
type Request struct {
	// Voice is the session voice name (e.g. "alloy"). Providers map it onto
	// their own catalogue.
	Voice string

	// Speed scales the speaking rate. Zero means provider default.
	Speed float64
}

// Chunk is one piece of synthesised audio.
type Chunk struct {
	// PCM is mono 16-bit little-endian audio.
	PCM []byte

	// SampleRate of PCM in Hz.
	SampleRate int

	// Duration is the playback length of PCM.
	Duration time.Duration

	// Err is set on the last chunk when synthesis failed part-way.
	Err error
}

// NewChunk builds a Chunk and fills in its Duration.
func NewChunk(pcm []byte, sampleRate int) Chunk {
	c := Chunk{PCM: pcm, SampleRate: sampleRate}
	if sampleRate > 0 {
		c.Duration = time.Duration(len(pcm)/2) * time.Second / time.Duration(sampleRate)
	}
	return c
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text until the channel closes and returns the
	// audio channel. The implementation closes the audio channel when all text
	// is spoken, on failure (after a chunk carrying Err), or when ctx ends.
	// Callers must drain it.
	SynthesizeStream(ctx context.Context, text <-chan string, req Request) (<-chan Chunk, error)
}
