// Package app wires the rtvoice subsystems into a running server.
//
// New builds the response engine, the gateway with its session template,
// the health probes and the HTTP server from a validated config and a set of
// providers. Run serves until its context ends and then drains. Reload
// applies the hot-reloadable parts of a changed config.
//
// Tests inject doubles through functional options (WithListener,
// WithMetrics) and mock providers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/rtvoice/internal/config"
	"github.com/MrWong99/rtvoice/internal/gateway"
	"github.com/MrWong99/rtvoice/internal/gateway/auth"
	"github.com/MrWong99/rtvoice/internal/health"
	"github.com/MrWong99/rtvoice/internal/observe"
	"github.com/MrWong99/rtvoice/internal/ratelimit"
	"github.com/MrWong99/rtvoice/internal/resilience"
	"github.com/MrWong99/rtvoice/internal/response"
	"github.com/MrWong99/rtvoice/internal/session"
	"github.com/MrWong99/rtvoice/internal/turn"
)

// DefaultShutdownTimeout bounds the drain at the end of [App.Run].
const DefaultShutdownTimeout = 15 * time.Second

// App owns the server's subsystems.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics   *observe.Metrics
	telemetry *observe.Telemetry
	level     *slog.LevelVar
	listener  net.Listener
	drain     time.Duration

	limiter *ratelimit.Limiter
	gateway *gateway.Gateway
	health  *health.Handler
	server  *http.Server

	// closers run in order at the end of Shutdown.
	closers []func() error

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTelemetry serves tel's Prometheus registry on /metrics and shuts it
// down with the app.
func WithTelemetry(tel *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = tel }
}

// WithLevelVar lets Reload change the log level of the handler behind lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithListener serves on l instead of listening on server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithShutdownTimeout bounds the drain at the end of Run.
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) { a.drain = d }
}

// New wires an App. cfg must already be validated.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an llm provider is required")
	}
	a := &App{cfg: cfg, providers: providers, drain: DefaultShutdownTimeout}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	defaults, err := cfg.Session.Defaults(cfg.Model())
	if err != nil {
		return nil, fmt.Errorf("app: session defaults: %w", err)
	}

	engineOpts := []response.EngineOption{
		response.WithLLMName(providers.LLMName),
		response.WithConcurrency(cfg.Limits.MaxConcurrentResponses),
		response.WithMetrics(a.metrics),
	}
	if providers.TTS != nil {
		engineOpts = append(engineOpts, response.WithTTS(providers.TTS, providers.TTSName))
	}
	engine := response.NewEngine(providers.LLM, engineOpts...)

	judge := providers.Semantic
	if judge == nil {
		judge = providers.LLM
	}

	a.limiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.Limits.RequestsPerMinute,
		TokensPerMinute:   cfg.Limits.TokensPerMinute,
	})

	var ephemeral *auth.EphemeralStore
	if cfg.Auth.EphemeralTTL > 0 {
		ephemeral = auth.NewEphemeralStore(cfg.Auth.EphemeralTTL)
	}

	g := cfg.Gateway
	a.gateway, err = gateway.New(gateway.Config{
		Path:              g.Path,
		MaxSessions:       g.MaxSessions,
		IdleTimeout:       g.IdleTimeout,
		WriteTimeout:      g.WriteTimeout,
		PingInterval:      g.PingInterval,
		OutboundQueueSize: g.OutboundQueueSize,
		ReadLimit:         g.ReadLimit,
		RequireBetaHeader: g.RequireBetaHeader,
		OriginPatterns:    g.OriginPatterns,
	}, gateway.Deps{
		Session: session.Config{
			Defaults: defaults,
			Engine:   engine,
			VAD:      providers.VAD,
			STT:      providers.STT,
			STTName:  providers.STTName,
			Checker:  turn.NewLLMChecker(judge),
			Limiter:  a.limiter,
		},
		Keys:      auth.NewStaticKeys(cfg.Auth.Keys()),
		Ephemeral: ephemeral,
		Metrics:   a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if err := a.gateway.SetDefaults(defaults); err != nil {
		return nil, fmt.Errorf("app: session defaults: %w", err)
	}

	a.health = health.New()
	a.health.Add("gateway", func(context.Context) error {
		if a.gateway.Draining() {
			return errors.New("draining")
		}
		return nil
	})
	a.health.Add("providers", a.checkProviders)

	mux := http.NewServeMux()
	mux.Handle("/", a.gateway.Handler())
	a.health.Register(mux)
	if a.telemetry != nil {
		mux.Handle("GET /metrics", a.telemetry.Handler())
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.telemetry.Shutdown(ctx)
		})
	}

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// Gateway returns the session gateway.
func (a *App) Gateway() *gateway.Gateway { return a.gateway }

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler }

// checkProviders fails when every member of a failover group has an open
// breaker.
func (a *App) checkProviders(context.Context) error {
	var errs []error
	for kind, p := range map[string]any{"llm": a.providers.LLM, "stt": a.providers.STT, "tts": a.providers.TTS} {
		states := breakerStates(p)
		if len(states) == 0 {
			continue
		}
		open := 0
		for _, s := range states {
			if s == resilience.StateOpen {
				open++
			}
		}
		if open == len(states) {
			errs = append(errs, fmt.Errorf("%s: all %d providers unavailable", kind, open))
		}
	}
	return errors.Join(errs...)
}

// Run serves until ctx ends, then drains within the shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.server.Addr, err)
		}
	}
	slog.Info("listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		<-egCtx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.drain)
		defer cancel()
		return a.Shutdown(sctx)
	})
	return eg.Wait()
}

// Shutdown drains the gateway, stops the HTTP server and runs the closers.
// Only the first call does anything.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.gateway.Table().Count())
		var errs []error
		if err := a.gateway.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("gateway: %w", err))
		}
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
		for i, closer := range a.closers {
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		a.stopErr = errors.Join(errs...)
		slog.Info("shutdown complete")
	})
	return a.stopErr
}

// Reload applies the hot-reloadable differences between old and next:
// log level, session defaults for new sessions, and rate limits. Changes
// to other sections are logged and wait for a restart.
func (a *App) Reload(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SessionChanged {
		defaults, err := next.Session.Defaults(next.Model())
		if err == nil {
			err = a.gateway.SetDefaults(defaults)
		}
		if err != nil {
			slog.Warn("keeping previous session defaults", "err", err)
		} else {
			slog.Info("session defaults updated")
		}
	}
	if d.LimitsChanged {
		a.limiter.SetLimits(next.Limits.RequestsPerMinute, next.Limits.TokensPerMinute)
		slog.Info("rate limits updated",
			"requests_per_minute", next.Limits.RequestsPerMinute,
			"tokens_per_minute", next.Limits.TokensPerMinute,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

// ParseLevel maps a config log level to slog. Empty means info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
