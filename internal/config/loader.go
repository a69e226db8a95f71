package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/rtvoice/internal/protocol"
)

// DefaultModel is the model reported in sessions when the configuration
// names none.
const DefaultModel = "gpt-4o-realtime-preview"

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"openai", "whisper"},
	"tts": {"openai", "elevenlabs"},
	"vad": {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Model returns the configured default model or [DefaultModel].
func (c *Config) Model() string {
	if c.Session.Model != "" {
		return c.Session.Model
	}
	return DefaultModel
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Gateway
	g := cfg.Gateway
	if g.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("gateway.max_sessions %d must not be negative", g.MaxSessions))
	}
	if g.OutboundQueueSize < 0 {
		errs = append(errs, fmt.Errorf("gateway.outbound_queue_size %d must not be negative", g.OutboundQueueSize))
	}
	if g.ReadLimit < 0 {
		errs = append(errs, fmt.Errorf("gateway.read_limit %d must not be negative", g.ReadLimit))
	}
	if g.IdleTimeout < 0 || g.WriteTimeout < 0 || g.PingInterval < 0 {
		errs = append(errs, errors.New("gateway timeouts must not be negative"))
	}
	if g.Path != "" && g.Path[0] != '/' {
		errs = append(errs, fmt.Errorf("gateway.path %q must start with /", g.Path))
	}

	// Auth
	if len(cfg.Auth.APIKeys) == 0 {
		slog.Warn("auth.api_keys is empty; every connection will be rejected")
	}
	keysSeen := make(map[string]int, len(cfg.Auth.APIKeys))
	for i, k := range cfg.Auth.APIKeys {
		prefix := fmt.Sprintf("auth.api_keys[%d]", i)
		if k.Key == "" {
			errs = append(errs, fmt.Errorf("%s.key is required", prefix))
		} else {
			if prev, ok := keysSeen[k.Key]; ok {
				errs = append(errs, fmt.Errorf("%s.key is a duplicate of auth.api_keys[%d]", prefix, prev))
			}
			keysSeen[k.Key] = i
		}
		if k.Tenant == "" {
			errs = append(errs, fmt.Errorf("%s.tenant is required", prefix))
		}
	}
	if cfg.Auth.EphemeralTTL < 0 {
		errs = append(errs, fmt.Errorf("auth.ephemeral_ttl %s must not be negative", cfg.Auth.EphemeralTTL))
	}

	// Session defaults
	if td := cfg.Session.TurnDetection; td != nil && td.Type != "" && !td.Type.IsValid() {
		errs = append(errs, fmt.Errorf("session.turn_detection.type %q is invalid; valid values: none, server_vad, semantic_vad", td.Type))
	} else if _, err := cfg.Session.Defaults(cfg.Model()); err != nil {
		errs = append(errs, fmt.Errorf("session: %w", err))
	}
	if cfg.Session.MaxOutputTokens < 0 {
		errs = append(errs, fmt.Errorf("session.max_output_tokens %d must not be negative", cfg.Session.MaxOutputTokens))
	}

	// Limits
	l := cfg.Limits
	if l.MaxConcurrentResponses < 0 || l.RequestsPerMinute < 0 || l.TokensPerMinute < 0 {
		errs = append(errs, errors.New("limits must not be negative"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("llm", cfg.Providers.Semantic.Name)
	for _, kind := range []struct {
		name    string
		primary ProviderEntry
		list    []ProviderEntry
	}{
		{"llm", cfg.Providers.LLM, cfg.Providers.LLMFallbacks},
		{"stt", cfg.Providers.STT, cfg.Providers.STTFallbacks},
		{"tts", cfg.Providers.TTS, cfg.Providers.TTSFallbacks},
	} {
		if len(kind.list) > 0 && kind.primary.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s_fallbacks requires providers.%s", kind.name, kind.name))
		}
		for i, e := range kind.list {
			if e.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s_fallbacks[%d].name is required", kind.name, i))
			}
			validateProviderName(kind.name, e.Name)
		}
	}

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm is required"))
	}
	if cfg.Session.hasAudioOutput() && cfg.Providers.TTS.Name == "" {
		slog.Warn("audio output is enabled but providers.tts is not configured; responses will be text-only")
	}
	if cfg.Session.Transcription != nil && cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("session.transcription requires providers.stt"))
	}

	return errors.Join(errs...)
}

func (c SessionConfig) hasAudioOutput() bool {
	return len(c.Modalities) == 0 || slices.Contains(c.Modalities, protocol.ModalityAudio)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
