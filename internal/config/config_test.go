package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/rtvoice/internal/config"
	"github.com/MrWong99/rtvoice/internal/protocol"
	"github.com/MrWong99/rtvoice/pkg/provider/llm"
	llmmock "github.com/MrWong99/rtvoice/pkg/provider/llm/mock"
	"github.com/MrWong99/rtvoice/pkg/provider/stt"
	sttmock "github.com/MrWong99/rtvoice/pkg/provider/stt/mock"
	"github.com/MrWong99/rtvoice/pkg/provider/tts"
	ttsmock "github.com/MrWong99/rtvoice/pkg/provider/tts/mock"
	"github.com/MrWong99/rtvoice/pkg/provider/vad"
	vadmock "github.com/MrWong99/rtvoice/pkg/provider/vad/mock"
)

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info
  log_format: json

gateway:
  max_sessions: 100
  idle_timeout: 2m
  ping_interval: 15s
  outbound_queue_size: 512
  require_beta_header: true

auth:
  api_keys:
    - key: sk-acme
      tenant: acme
    - key: sk-globex
      tenant: globex
  ephemeral_ttl: 1m

session:
  model: gpt-4o-realtime-preview
  instructions: You are a helpful assistant.
  voice: verse
  output_audio_format: g711_ulaw
  transcription:
    model: whisper-1
    language: en
  turn_detection:
    type: server_vad
    silence_duration_ms: 700
  noise_reduction: near_field
  temperature: 0.6
  max_output_tokens: 1024

limits:
  max_concurrent_responses: 32
  requests_per_minute: 60
  tokens_per_minute: 40000

providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  llm_fallbacks:
    - name: ollama
      model: llama3.2
  stt:
    name: whisper
    base_url: http://localhost:8178
  tts:
    name: elevenlabs
    api_key: el-test
  vad:
    name: energy
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.LogFormat != config.LogFormatJSON {
		t.Errorf("server.log_format: got %q, want %q", cfg.Server.LogFormat, config.LogFormatJSON)
	}
	if cfg.Gateway.IdleTimeout != 2*time.Minute {
		t.Errorf("gateway.idle_timeout: got %v, want 2m", cfg.Gateway.IdleTimeout)
	}
	if cfg.Gateway.PingInterval != 15*time.Second {
		t.Errorf("gateway.ping_interval: got %v, want 15s", cfg.Gateway.PingInterval)
	}
	if !cfg.Gateway.RequireBetaHeader {
		t.Error("gateway.require_beta_header: got false")
	}
	if cfg.Auth.EphemeralTTL != time.Minute {
		t.Errorf("auth.ephemeral_ttl: got %v, want 1m", cfg.Auth.EphemeralTTL)
	}
	keys := cfg.Auth.Keys()
	if keys["sk-globex"] != "globex" || len(keys) != 2 {
		t.Errorf("auth keys: got %v", keys)
	}
	if cfg.Limits.TokensPerMinute != 40000 {
		t.Errorf("limits.tokens_per_minute: got %d", cfg.Limits.TokensPerMinute)
	}
	if len(cfg.Providers.LLMFallbacks) != 1 || cfg.Providers.LLMFallbacks[0].Name != "ollama" {
		t.Errorf("providers.llm_fallbacks: got %+v", cfg.Providers.LLMFallbacks)
	}
}

func TestSessionConfig_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := cfg.Session.Defaults(cfg.Model())
	if err != nil {
		t.Fatalf("Defaults: %v", err)
	}

	if s.Model != "gpt-4o-realtime-preview" || s.Voice != "verse" {
		t.Errorf("model/voice: got %q/%q", s.Model, s.Voice)
	}
	if s.InputAudioFormat != "pcm16" || s.OutputAudioFormat != "g711_ulaw" {
		t.Errorf("formats: got %q/%q", s.InputAudioFormat, s.OutputAudioFormat)
	}
	if s.InputAudioTranscription == nil || s.InputAudioTranscription.Language != "en" {
		t.Errorf("transcription: got %+v", s.InputAudioTranscription)
	}
	td := s.TurnDetection
	if td == nil || td.SilenceDurationMs != 700 || td.PrefixPaddingMs != protocol.DefaultPrefixPaddingMs || !td.CreateResponse {
		t.Errorf("turn_detection: got %+v", td)
	}
	if s.InputAudioNoiseReduction == nil || s.InputAudioNoiseReduction.Type != "near_field" {
		t.Errorf("noise reduction: got %+v", s.InputAudioNoiseReduction)
	}
	if s.Temperature != 0.6 || s.MaxResponseOutputTokens != 1024 {
		t.Errorf("temperature/max tokens: got %v/%d", s.Temperature, s.MaxResponseOutputTokens)
	}
}

func TestSessionConfig_DefaultsKeepBuiltins(t *testing.T) {
	t.Parallel()
	s, err := config.SessionConfig{}.Defaults(config.DefaultModel)
	if err != nil {
		t.Fatalf("Defaults: %v", err)
	}
	want := protocol.DefaultSession(config.DefaultModel)
	if s.Voice != want.Voice || s.Temperature != want.Temperature || s.TurnDetection == nil {
		t.Errorf("got %+v, want built-in defaults", s)
	}
	if s.MaxResponseOutputTokens != 0 {
		t.Errorf("max tokens: got %d, want inf", s.MaxResponseOutputTokens)
	}
}

func TestSessionConfig_ManualTurns(t *testing.T) {
	t.Parallel()
	c := config.SessionConfig{TurnDetection: &config.TurnDetectionConfig{Type: config.TurnNone}}
	s, err := c.Defaults(config.DefaultModel)
	if err != nil {
		t.Fatalf("Defaults: %v", err)
	}
	if s.TurnDetection != nil {
		t.Errorf("turn_detection: got %+v, want nil", s.TurnDetection)
	}
}

func TestSessionConfig_InvalidValue(t *testing.T) {
	t.Parallel()
	temp := 3.0
	_, err := config.SessionConfig{Temperature: &temp}.Defaults(config.DefaultModel)
	var perr *protocol.Error
	if !errors.As(err, &perr) {
		t.Fatalf("got %v, want *protocol.Error", err)
	}
	if perr.Param != "session.temperature" {
		t.Errorf("param: got %q", perr.Param)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error("verbose should be invalid")
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nope"}

	if _, err := reg.CreateLLM(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("llm: got %v", err)
	}
	if _, err := reg.CreateSTT(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("stt: got %v", err)
	}
	if _, err := reg.CreateTTS(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("tts: got %v", err)
	}
	_, err := reg.CreateVAD(entry)
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("vad: got %v", err)
	}
	if !strings.Contains(err.Error(), `vad/"nope"`) {
		t.Errorf("error should name kind and provider, got: %v", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	wantLLM := &llmmock.Provider{}
	wantSTT := &sttmock.Provider{}
	wantTTS := &ttsmock.Provider{}
	wantVAD := &vadmock.Engine{}

	var gotEntry config.ProviderEntry
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return wantLLM, nil
	})
	reg.RegisterSTT("stub", func(config.ProviderEntry) (stt.Provider, error) { return wantSTT, nil })
	reg.RegisterTTS("stub", func(config.ProviderEntry) (tts.Provider, error) { return wantTTS, nil })
	reg.RegisterVAD("stub", func(config.ProviderEntry) (vad.Engine, error) { return wantVAD, nil })

	entry := config.ProviderEntry{Name: "stub", Model: "m1"}
	if got, err := reg.CreateLLM(entry); err != nil || got != wantLLM {
		t.Errorf("llm: got %v, %v", got, err)
	}
	if gotEntry.Model != "m1" {
		t.Errorf("factory entry: got %+v", gotEntry)
	}
	if got, err := reg.CreateSTT(entry); err != nil || got != wantSTT {
		t.Errorf("stt: got %v, %v", got, err)
	}
	if got, err := reg.CreateTTS(entry); err != nil || got != wantTTS {
		t.Errorf("tts: got %v, %v", got, err)
	}
	if got, err := reg.CreateVAD(entry); err != nil || got != wantVAD {
		t.Errorf("vad: got %v, %v", got, err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) { return nil, boom })
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"}); !errors.Is(err, boom) {
		t.Errorf("got %v, want factory error", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) { return nil, nil })
	reg.RegisterLLM("anthropic", func(config.ProviderEntry) (llm.Provider, error) { return nil, nil })

	names := reg.Names()
	if got := strings.Join(names["llm"], ","); got != "anthropic,openai" {
		t.Errorf("llm names: got %q", got)
	}
	if len(names["tts"]) != 0 {
		t.Errorf("tts names: got %v", names["tts"])
	}
}
