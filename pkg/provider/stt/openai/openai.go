// Package openai provides a transcription provider backed by the OpenAI
// audio transcription endpoint (whisper-1, gpt-4o-transcribe and friends).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/rtvoice/pkg/provider/stt"
)

// SampleRate is the rate requests are uploaded at. The endpoint resamples
// internally; 24 kHz avoids a conversion for pcm16 sessions.
const SampleRate = 24000

// DefaultModel is used when neither the provider nor the request names one.
const DefaultModel = "whisper-1"

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL points the provider at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithModel sets the default transcription model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// Provider implements stt.Provider using the OpenAI API.
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
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// SampleRate implements stt.Provider.
func (p *Provider) SampleRate() int { return SampleRate }

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if len(req.PCM) < 2 {
		return stt.Result{}, stt.ErrEmptyAudio
	}
	rate := req.SampleRate
	if rate <= 0 {
		rate = SampleRate
	}
	model := req.Model
	if model == "" {
		model = p.model
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(stt.EncodeWAV(req.PCM, rate)), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(model),
	}
	if req.Language != "" {
		params.Language = oai.String(req.Language)
	}
	if req.Prompt != "" {
		params.Prompt = oai.String(req.Prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return stt.Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: req.Language,
		Duration: stt.Request{PCM: req.PCM, SampleRate: rate}.Duration(),
	}, nil
}
