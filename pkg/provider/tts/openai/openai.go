// Package openai provides a TTS provider backed by the OpenAI speech
// endpoint. Each sentence is one request; the raw PCM response body is
// streamed out in 100 ms chunks.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/rtvoice/pkg/provider/tts"
)

// SampleRate is the fixed rate of the endpoint's "pcm" response format.
const SampleRate = 24000

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini-tts"

const chunkBytes = SampleRate * 2 / 10

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL points the provider at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithModel sets the speech model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client  oai.Client
	model   string
	baseURL string
}

// New constructs a Provider. apiKey may be empty when a base URL is given.
func New(apiKey string, opts ...Option) (*Provider, error) {
	p := &Provider{model: DefaultModel}
	for _, o := range opts {
		o(p)
	}
	if apiKey == "" && p.baseURL == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, req tts.Request) (<-chan tts.Chunk, error) {
	if req.Voice == "" {
		return nil, errors.New("openai tts: voice must not be empty")
	}

	out := make(chan tts.Chunk, 16)
	go func() {
		defer close(out)
		for {
			var sentence string
			var ok bool
			select {
			case sentence, ok = <-text:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
			if strings.TrimSpace(sentence) == "" {
				continue
			}
			if err := p.speak(ctx, sentence, req, out); err != nil {
				if ctx.Err() == nil {
					select {
					case out <- tts.Chunk{Err: err}:
					case <-ctx.Done():
					}
				}
				return
			}
		}
	}()
	return out, nil
}

func (p *Provider) speak(ctx context.Context, sentence string, req tts.Request, out chan<- tts.Chunk) error {
	params := oai.AudioSpeechNewParams{
		Input:          sentence,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(req.Voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if req.Speed > 0 {
		params.Speed = oai.Float(req.Speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	for {
		buf := make([]byte, chunkBytes)
		n, err := io.ReadFull(resp.Body, buf)
		if n &^ 1 > 0 {
			select {
			case out <- tts.NewChunk(buf[:n&^1], SampleRate):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return fmt.Errorf("openai tts: read audio: %w", err)
		}
	}
}
