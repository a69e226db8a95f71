package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/rtvoice/internal/config"
	"github.com/MrWong99/rtvoice/internal/resilience"
	"github.com/MrWong99/rtvoice/pkg/provider/llm"
	"github.com/MrWong99/rtvoice/pkg/provider/stt"
	"github.com/MrWong99/rtvoice/pkg/provider/tts"
	"github.com/MrWong99/rtvoice/pkg/provider/vad"
)

// Providers holds one worker per slot. Nil means the slot is not
// configured; only LLM is required.
type Providers struct {
	LLM     llm.Provider
	LLMName string

	STT     stt.Provider
	STTName string

	TTS     tts.Provider
	TTSName string

	VAD vad.Engine

	// Semantic judges turn completeness for semantic_vad. Falls back to LLM
	// when nil.
	Semantic llm.Provider
}

// BuildProviders instantiates every provider cfg names through reg. Slots
// with fallbacks are wrapped in a [resilience] group so a failing primary
// is skipped until its breaker closes again.
func BuildProviders(cfg *config.Config, reg *config.Registry, breaker resilience.BreakerConfig) (*Providers, error) {
	pc := cfg.Providers
	ps := &Providers{}

	if pc.LLM.Name == "" {
		return nil, errors.New("app: providers.llm is required")
	}
	primary, err := reg.CreateLLM(pc.LLM)
	if err != nil {
		return nil, fmt.Errorf("app: create llm provider %q: %w", pc.LLM.Name, err)
	}
	ps.LLM, ps.LLMName = primary, pc.LLM.Name
	if len(pc.LLMFallbacks) > 0 {
		group := resilience.NewLLM(pc.LLM.Name, primary, breaker)
		for _, e := range pc.LLMFallbacks {
			p, err := reg.CreateLLM(e)
			if err != nil {
				return nil, fmt.Errorf("app: create llm fallback %q: %w", e.Name, err)
			}
			group.AddFallback(e.Name, p)
		}
		ps.LLM = group
	}
	slog.Info("provider created", "kind", "llm", "name", pc.LLM.Name, "fallbacks", len(pc.LLMFallbacks))

	if pc.STT.Name != "" {
		primary, err := reg.CreateSTT(pc.STT)
		if err != nil {
			return nil, fmt.Errorf("app: create stt provider %q: %w", pc.STT.Name, err)
		}
		ps.STT, ps.STTName = primary, pc.STT.Name
		if len(pc.STTFallbacks) > 0 {
			group := resilience.NewSTT(pc.STT.Name, primary, breaker)
			for _, e := range pc.STTFallbacks {
				p, err := reg.CreateSTT(e)
				if err != nil {
					return nil, fmt.Errorf("app: create stt fallback %q: %w", e.Name, err)
				}
				if err := group.AddFallback(e.Name, p); err != nil {
					slog.Warn("skipping stt fallback", "name", e.Name, "err", err)
				}
			}
			ps.STT = group
		}
		slog.Info("provider created", "kind", "stt", "name", pc.STT.Name, "fallbacks", len(pc.STTFallbacks))
	}

	if pc.TTS.Name != "" {
		primary, err := reg.CreateTTS(pc.TTS)
		if err != nil {
			return nil, fmt.Errorf("app: create tts provider %q: %w", pc.TTS.Name, err)
		}
		ps.TTS, ps.TTSName = primary, pc.TTS.Name
		if len(pc.TTSFallbacks) > 0 {
			group := resilience.NewTTS(pc.TTS.Name, primary, breaker)
			for _, e := range pc.TTSFallbacks {
				p, err := reg.CreateTTS(e)
				if err != nil {
					return nil, fmt.Errorf("app: create tts fallback %q: %w", e.Name, err)
				}
				group.AddFallback(e.Name, p)
			}
			ps.TTS = group
		}
		slog.Info("provider created", "kind", "tts", "name", pc.TTS.Name, "fallbacks", len(pc.TTSFallbacks))
	}

	if pc.VAD.Name != "" {
		v, err := reg.CreateVAD(pc.VAD)
		if err != nil {
			return nil, fmt.Errorf("app: create vad provider %q: %w", pc.VAD.Name, err)
		}
		ps.VAD = v
		slog.Info("provider created", "kind", "vad", "name", pc.VAD.Name)
	}

	if pc.Semantic.Name != "" {
		p, err := reg.CreateLLM(pc.Semantic)
		if err != nil {
			return nil, fmt.Errorf("app: create semantic provider %q: %w", pc.Semantic.Name, err)
		}
		ps.Semantic = p
		slog.Info("provider created", "kind", "semantic", "name", pc.Semantic.Name)
	}

	return ps, nil
}

// breakerStates reports the breaker states of p when it is a failover
// group.
func breakerStates(p any) map[string]resilience.State {
	switch g := p.(type) {
	case *resilience.LLM:
		return g.Group().States()
	case *resilience.STT:
		return g.Group().States()
	case *resilience.TTS:
		return g.Group().States()
	}
	return nil
}
