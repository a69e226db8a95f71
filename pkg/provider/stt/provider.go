// Package stt defines the Provider interface for input audio transcription.
//
// The realtime session transcribes each committed user audio item in one
// batch call. Providers receive mono PCM16 at whatever rate they asked for in
// [Provider.SampleRate]; the session resamples before calling Transcribe.
//
// Implementations must be safe for concurrent use: several sessions may
// transcribe at the same time.
package stt

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyAudio is returned when a Request carries no samples.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Request is one committed audio turn to transcribe.
type Request struct {
	// PCM is mono 16-bit little-endian audio at SampleRate.
	PCM []byte

	// SampleRate of PCM in Hz.
	SampleRate int

	// Model optionally overrides the provider's default model.
	Model string

	// Language is an ISO-639-1 hint. Empty means auto-detect.
	Language string

	// Prompt is optional context text that biases recognition.
	Prompt string
}

// Duration returns the length of the request audio.
func (r Request) Duration() time.Duration {
	if r.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(r.PCM)/2) * time.Second / time.Duration(r.SampleRate)
}

// Result is the transcription of one request.
type Result struct {
	// Text is the transcribed speech; empty when nothing was recognised.
	Text string

	// Language is the detected or requested language, when reported.
	Language string

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// Provider is the abstraction over any transcription backend.
type Provider interface {
	// Transcribe converts req into text. It blocks until the backend answers
	// or ctx is done.
	Transcribe(ctx context.Context, req Request) (Result, error)

	// SampleRate is the PCM rate the provider wants in requests.
	SampleRate() int
}
