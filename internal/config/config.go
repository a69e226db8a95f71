// Package config provides the configuration schema, loader, and provider registry
// for the rtvoice server.
package config

import (
	"time"

	"github.com/MrWong99/rtvoice/internal/protocol"
)

// LogLevel controls log verbosity for the rtvoice server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// TurnDetectionType selects the default turn detection mode. "none" means
// manual commit.
type TurnDetectionType string

const (
	TurnNone        TurnDetectionType = "none"
	TurnServerVAD   TurnDetectionType = protocol.TurnServerVAD
	TurnSemanticVAD TurnDetectionType = protocol.TurnSemanticVAD
)

// IsValid reports whether t is a recognised turn detection type.
func (t TurnDetectionType) IsValid() bool {
	switch t {
	case TurnNone, TurnServerVAD, TurnSemanticVAD:
		return true
	}
	return false
}

// Config is the root configuration structure for rtvoice.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Auth      AuthConfig      `yaml:"auth"`
	Session   SessionConfig   `yaml:"session"`
	Limits    LimitsConfig    `yaml:"limits"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds network and logging settings for the rtvoice server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON log lines. Default text.
	LogFormat LogFormat `yaml:"log_format"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// GatewayConfig tunes the WebSocket endpoint. Zero values take the gateway's
// defaults.
type GatewayConfig struct {
	Path              string        `yaml:"path"`
	MaxSessions       int           `yaml:"max_sessions"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	OutboundQueueSize int           `yaml:"outbound_queue_size"`
	ReadLimit         int64         `yaml:"read_limit"`

	// RequireBetaHeader rejects connections that send neither the
	// OpenAI-Beta header nor the beta subprotocol.
	RequireBetaHeader bool `yaml:"require_beta_header"`

	// OriginPatterns lists extra allowed browser origins.
	OriginPatterns []string `yaml:"origin_patterns"`
}

// AuthConfig lists the accepted API keys.
type AuthConfig struct {
	APIKeys []APIKey `yaml:"api_keys"`

	// EphemeralTTL is the lifetime of client secrets minted by the REST
	// endpoint. Zero disables the endpoint.
	EphemeralTTL time.Duration `yaml:"ephemeral_ttl"`
}

// APIKey binds a key to the tenant it authenticates.
type APIKey struct {
	Key    string `yaml:"key"`
	Tenant string `yaml:"tenant"`
}

// Keys returns the key to tenant map.
func (a AuthConfig) Keys() map[string]string {
	m := make(map[string]string, len(a.APIKeys))
	for _, k := range a.APIKeys {
		m[k.Key] = k.Tenant
	}
	return m
}

// SessionConfig is the default session configuration new connections start
// with. Unset fields keep the built-in defaults.
type SessionConfig struct {
	Model             string               `yaml:"model"`
	Modalities        []string             `yaml:"modalities"`
	Instructions      string               `yaml:"instructions"`
	Voice             string               `yaml:"voice"`
	InputAudioFormat  string               `yaml:"input_audio_format"`
	OutputAudioFormat string               `yaml:"output_audio_format"`
	Transcription     *TranscriptionConfig `yaml:"transcription"`
	TurnDetection     *TurnDetectionConfig `yaml:"turn_detection"`

	// NoiseReduction is "near_field", "far_field", or empty for off.
	NoiseReduction string `yaml:"noise_reduction"`

	Temperature *float64 `yaml:"temperature"`

	// MaxOutputTokens caps each response. Zero means unlimited.
	MaxOutputTokens int `yaml:"max_output_tokens"`
}

// TranscriptionConfig enables input transcription by default.
type TranscriptionConfig struct {
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
	Prompt   string `yaml:"prompt"`
}

// TurnDetectionConfig sets the default turn detection. Unset fields take the
// defaults of the selected type.
type TurnDetectionConfig struct {
	Type              TurnDetectionType `yaml:"type"`
	Threshold         *float64          `yaml:"threshold"`
	PrefixPaddingMs   *int              `yaml:"prefix_padding_ms"`
	SilenceDurationMs *int              `yaml:"silence_duration_ms"`
	Eagerness         *string           `yaml:"eagerness"`
	CreateResponse    *bool             `yaml:"create_response"`
	InterruptResponse *bool             `yaml:"interrupt_response"`
}

// Update converts c into a session update. Fields left empty are not set.
func (c SessionConfig) Update() protocol.SessionUpdate {
	var u protocol.SessionUpdate
	if c.Model != "" {
		u.Model = &c.Model
	}
	if len(c.Modalities) > 0 {
		u.Modalities = c.Modalities
	}
	if c.Instructions != "" {
		u.Instructions = &c.Instructions
	}
	if c.Voice != "" {
		u.Voice = &c.Voice
	}
	if c.InputAudioFormat != "" {
		u.InputAudioFormat = &c.InputAudioFormat
	}
	if c.OutputAudioFormat != "" {
		u.OutputAudioFormat = &c.OutputAudioFormat
	}
	if t := c.Transcription; t != nil {
		u.InputAudioTranscription = protocol.Of(protocol.Transcription{Model: t.Model, Language: t.Language, Prompt: t.Prompt})
	}
	if td := c.TurnDetection; td != nil {
		if td.Type == TurnNone {
			u.TurnDetection = protocol.Null[protocol.TurnDetectionParams]()
		} else {
			p := protocol.TurnDetectionParams{
				Threshold:         td.Threshold,
				PrefixPaddingMs:   td.PrefixPaddingMs,
				SilenceDurationMs: td.SilenceDurationMs,
				Eagerness:         td.Eagerness,
				CreateResponse:    td.CreateResponse,
				InterruptResponse: td.InterruptResponse,
			}
			if td.Type != "" {
				typ := string(td.Type)
				p.Type = &typ
			}
			u.TurnDetection = protocol.Of(p)
		}
	}
	if c.NoiseReduction != "" {
		u.InputAudioNoiseReduction = protocol.Of(protocol.NoiseReduction{Type: c.NoiseReduction})
	}
	u.Temperature = c.Temperature
	if c.MaxOutputTokens != 0 {
		m := protocol.MaxTokens(c.MaxOutputTokens)
		u.MaxResponseOutputTokens = &m
	}
	return u
}

// Defaults returns the session defaults c describes, starting from the
// built-in defaults for model.
func (c SessionConfig) Defaults(model string) (protocol.Session, error) {
	s, perr := protocol.DefaultSession(model).Apply(c.Update(), "session")
	if perr != nil {
		return protocol.Session{}, perr
	}
	return s, nil
}

// LimitsConfig bounds per-tenant usage. Zero disables a limit.
type LimitsConfig struct {
	// MaxConcurrentResponses caps in-flight responses across all sessions.
	MaxConcurrentResponses int `yaml:"max_concurrent_responses"`

	RequestsPerMinute int `yaml:"requests_per_minute"`
	TokensPerMinute   int `yaml:"tokens_per_minute"`
}

// ProvidersConfig declares which provider implementation to use for each
// worker. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
	VAD ProviderEntry `yaml:"vad"`

	// Semantic is the LLM that judges turn completeness for semantic_vad.
	// When empty, the main LLM is used.
	Semantic ProviderEntry `yaml:"semantic"`

	// Fallbacks are tried in order when the primary fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini", "whisper-1").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}
