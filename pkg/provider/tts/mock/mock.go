// Package mock provides a tts.Provider that produces silence.
//
// Every text fragment becomes one chunk of zeroed PCM whose length is
// MsPerChar milliseconds per character, so tests can reason about audio
// durations without a synthesis backend.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/rtvoice/pkg/provider/tts"
)

// Provider is a silence-producing tts.Provider that records what it spoke.
type Provider struct {
	mu sync.Mutex

	// Rate is the output sample rate. Defaults to 24 kHz.
	Rate int

	// MsPerChar sets chunk length. Defaults to 10.
	MsPerChar int

	// StartErr is returned by SynthesizeStream.
	StartErr error

	// FailAfter, when positive, ends the stream with an error chunk after
	// that many fragments.
	FailAfter int

	texts    []string
	requests []tts.Request
}

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, req tts.Request) (<-chan tts.Chunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	err := p.StartErr
	rate, ms, failAfter := p.Rate, p.MsPerChar, p.FailAfter
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if rate <= 0 {
		rate = 24000
	}
	if ms <= 0 {
		ms = 10
	}

	out := make(chan tts.Chunk)
	go func() {
		defer close(out)
		n := 0
		for {
			select {
			case s, ok := <-text:
				if !ok {
					return
				}
				p.mu.Lock()
				p.texts = append(p.texts, s)
				p.mu.Unlock()

				c := tts.NewChunk(make([]byte, len(s)*ms*rate/1000*2), rate)
				n++
				if failAfter > 0 && n > failAfter {
					c = tts.Chunk{Err: errSynthesis}
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
				if c.Err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Texts returns every fragment spoken so far.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

// Requests returns every request seen so far.
func (p *Provider) Requests() []tts.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tts.Request(nil), p.requests...)
}

type mockError string

func (e mockError) Error() string { return string(e) }

const errSynthesis = mockError("mock tts: synthesis failed")
