package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/rtvoice/pkg/provider/llm"
	"github.com/MrWong99/rtvoice/pkg/provider/stt"
	"github.com/MrWong99/rtvoice/pkg/provider/tts"
	"github.com/MrWong99/rtvoice/pkg/types"
)

var errStreamFailed = errors.New("resilience: stream ended with an error")

// LLM fails over between language models. Failover covers opening the
// stream; a stream that ends with an error chunk counts against the
// provider that produced it.
type LLM struct {
	group *Group[llm.Provider]
}

var _ llm.Provider = (*LLM)(nil)

// NewLLM returns an LLM with primary as the preferred model.
func NewLLM(primaryName string, primary llm.Provider, cfg BreakerConfig) *LLM {
	g := NewGroup[llm.Provider](cfg)
	g.Add(primaryName, primary)
	return &LLM{group: g}
}

// AddFallback appends a fallback model.
func (f *LLM) AddFallback(name string, p llm.Provider) { f.group.Add(name, p) }

// Group exposes the underlying group for health reporting.
func (f *LLM) Group() *Group[llm.Provider] { return f.group }

// StreamCompletion implements [llm.Provider].
func (f *LLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	in, done, err := Start(ctx, f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		var outcome error
		defer func() { done(outcome) }()
		for c := range in {
			if c.FinishReason == llm.FinishReasonError {
				outcome = errStreamFailed
			}
			select {
			case out <- c:
			case <-ctx.Done():
				outcome = ctx.Err()
				return
			}
		}
		if outcome == nil && ctx.Err() != nil {
			outcome = ctx.Err()
		}
	}()
	return out, nil
}

// Complete implements [llm.Provider].
func (f *LLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens uses the primary's tokenizer; it makes no remote call.
func (f *LLM) CountTokens(msgs []types.Message) (int, error) {
	return f.group.Primary().CountTokens(msgs)
}

// Capabilities returns the primary's capabilities.
func (f *LLM) Capabilities() types.ModelCapabilities {
	return f.group.Primary().Capabilities()
}

// STT fails over between transcription providers. All members must accept
// the same sample rate.
type STT struct {
	group *Group[stt.Provider]
}

var _ stt.Provider = (*STT)(nil)

// NewSTT returns an STT with primary as the preferred provider.
func NewSTT(primaryName string, primary stt.Provider, cfg BreakerConfig) *STT {
	g := NewGroup[stt.Provider](cfg)
	g.Add(primaryName, primary)
	return &STT{group: g}
}

// AddFallback appends p unless its sample rate differs from the primary's.
func (f *STT) AddFallback(name string, p stt.Provider) error {
	if want := f.SampleRate(); p.SampleRate() != want {
		return fmt.Errorf("resilience: stt fallback %q wants %d Hz, primary wants %d Hz", name, p.SampleRate(), want)
	}
	f.group.Add(name, p)
	return nil
}

// Group exposes the underlying group for health reporting.
func (f *STT) Group() *Group[stt.Provider] { return f.group }

// Transcribe implements [stt.Provider].
func (f *STT) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	return Call(ctx, f.group, func(p stt.Provider) (stt.Result, error) {
		return p.Transcribe(ctx, req)
	})
}

// SampleRate returns the primary's sample rate.
func (f *STT) SampleRate() int { return f.group.Primary().SampleRate() }

// TTS fails over between speech synthesizers when opening a stream. A
// chunk carrying an error counts against the provider that produced it.
type TTS struct {
	group *Group[tts.Provider]
}

var _ tts.Provider = (*TTS)(nil)

// NewTTS returns a TTS with primary as the preferred provider.
func NewTTS(primaryName string, primary tts.Provider, cfg BreakerConfig) *TTS {
	g := NewGroup[tts.Provider](cfg)
	g.Add(primaryName, primary)
	return &TTS{group: g}
}

// AddFallback appends a fallback synthesizer.
func (f *TTS) AddFallback(name string, p tts.Provider) { f.group.Add(name, p) }

// Group exposes the underlying group for health reporting.
func (f *TTS) Group() *Group[tts.Provider] { return f.group }

// SynthesizeStream implements [tts.Provider].
func (f *TTS) SynthesizeStream(ctx context.Context, text <-chan string, req tts.Request) (<-chan tts.Chunk, error) {
	in, done, err := Start(ctx, f.group, func(p tts.Provider) (<-chan tts.Chunk, error) {
		return p.SynthesizeStream(ctx, text, req)
	})
	if err != nil {
		return nil, err
	}
	out := make(chan tts.Chunk)
	go func() {
		defer close(out)
		var outcome error
		defer func() { done(outcome) }()
		for c := range in {
			if c.Err != nil {
				outcome = c.Err
			}
			select {
			case out <- c:
			case <-ctx.Done():
				outcome = ctx.Err()
				return
			}
		}
		if outcome == nil && ctx.Err() != nil {
			outcome = ctx.Err()
		}
	}()
	return out, nil
}
