// Package elevenlabs provides a TTS provider using the ElevenLabs
// stream-input WebSocket API.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/rtvoice/pkg/provider/tts"
)

const (
	defaultEndpoint  = "wss://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_24000"
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat sets the PCM output format ("pcm_16000", "pcm_24000", ...).
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// WithEndpoint overrides the WebSocket base URL.
func WithEndpoint(url string) Option {
	return func(p *Provider) { p.endpoint = strings.TrimRight(url, "/") }
}

// WithVoiceMap maps session voice names ("alloy", "verse", ...) onto
// ElevenLabs voice IDs. Unmapped names are used as voice IDs directly.
func WithVoiceMap(m map[string]string) Option {
	return func(p *Provider) { p.voices = m }
}

// Provider implements tts.Provider backed by ElevenLabs.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	endpoint     string
	voices       map[string]string
	sampleRate   int
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		endpoint:     defaultEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	rate, err := formatSampleRate(p.outputFormat)
	if err != nil {
		return nil, err
	}
	p.sampleRate = rate
	return p, nil
}

func formatSampleRate(format string) (int, error) {
	s, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: output format %q is not PCM", format)
	}
	rate, err := strconv.Atoi(s)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("elevenlabs: bad output format %q", format)
	}
	return rate, nil
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// textMessage is sent for every text fragment. An empty Text flushes and
// ends the input.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
}

type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (p *Provider) voiceID(name string) string {
	if id, ok := p.voices[name]; ok {
		return id
	}
	return name
}

func (p *Provider) streamURL(voiceID string) string {
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s",
		p.endpoint, voiceID, p.model, p.outputFormat)
}

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, req tts.Request) (<-chan tts.Chunk, error) {
	if req.Voice == "" {
		return nil, errors.New("elevenlabs: voice must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(p.voiceID(req.Voice)), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	// The first message must carry a single space plus credentials.
	boi, _ := json.Marshal(textMessage{
		Text:          " ",
		VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75, Speed: req.Speed},
		XiAPIKey:      p.apiKey,
	})
	if err := conn.Write(ctx, websocket.MessageText, boi); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send BOI")
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	audioCh := make(chan tts.Chunk, 64)
	go func() {
		defer close(audioCh)
		defer conn.CloseNow()

		readErr := make(chan error, 1)
		go func() { readErr <- p.readAudio(ctx, conn, audioCh) }()

		if err := writeText(ctx, conn, text); err != nil {
			conn.CloseNow()
			<-readErr
			if ctx.Err() != nil {
				return
			}
			select {
			case audioCh <- tts.Chunk{Err: err}:
			case <-ctx.Done():
			}
			return
		}

		if err := <-readErr; err != nil && ctx.Err() == nil {
			select {
			case audioCh <- tts.Chunk{Err: err}:
			case <-ctx.Done():
			}
			return
		}
		conn.Close(websocket.StatusNormalClosure, "done")
	}()
	return audioCh, nil
}

func writeText(ctx context.Context, conn *websocket.Conn, text <-chan string) error {
	for {
		select {
		case sentence, ok := <-text:
			if !ok {
				eos, _ := json.Marshal(textMessage{Text: ""})
				return conn.Write(ctx, websocket.MessageText, eos)
			}
			if strings.TrimSpace(sentence) == "" {
				continue
			}
			// ElevenLabs buffers until it sees a trailing space.
			msg, _ := json.Marshal(textMessage{Text: sentence + " "})
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return fmt.Errorf("elevenlabs: send text: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Provider) readAudio(ctx context.Context, conn *websocket.Conn, out chan<- tts.Chunk) error {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return fmt.Errorf("elevenlabs: %s: %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			select {
			case out <- tts.NewChunk(pcm, p.sampleRate):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if resp.IsFinal {
			return nil
		}
	}
}
