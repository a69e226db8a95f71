// Package gateway accepts realtime WebSocket connections, authenticates
// them and binds each one to a [session.Session].
//
// Every connection runs three goroutines: the session actor, a reader that
// hands inbound frames to the actor, and the writer, which is the only
// goroutine that writes to the socket. The gateway also serves the REST
// companion that mints ephemeral client secrets and lists or terminates
// live sessions.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/rtvoice/internal/gateway/auth"
	"github.com/MrWong99/rtvoice/internal/observe"
	"github.com/MrWong99/rtvoice/internal/protocol"
	"github.com/MrWong99/rtvoice/internal/session"
)

// Subprotocols the gateway accepts.
const (
	ProtocolRealtime = "realtime"
	ProtocolBeta     = "openai-beta.realtime-v1"
)

// Defaults applied by [New] to zero [Config] fields.
const (
	DefaultPath         = "/v1/realtime"
	DefaultWriteTimeout = 10 * time.Second
	DefaultPingInterval = 20 * time.Second
	DefaultReadLimit    = 16 << 20
)

// Config tunes the gateway.
type Config struct {
	// Path is the WebSocket endpoint. The REST companion lives under
	// Path + "/sessions".
	Path string

	// MaxSessions caps concurrent sessions; zero means no limit.
	MaxSessions int

	// IdleTimeout closes connections that send nothing for this long.
	// Zero disables it.
	IdleTimeout time.Duration

	WriteTimeout time.Duration
	PingInterval time.Duration

	// OutboundQueueSize is the per-session outbound frame queue capacity.
	OutboundQueueSize int

	// ReadLimit is the largest inbound message in bytes.
	ReadLimit int64

	// RequireBetaHeader rejects clients that send neither the
	// OpenAI-Beta: realtime=v1 header nor the beta subprotocol.
	RequireBetaHeader bool

	// OriginPatterns lists the cross origins allowed to connect, as
	// understood by [websocket.AcceptOptions].
	OriginPatterns []string
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = DefaultReadLimit
	}
	return c
}

// Deps are the collaborators of a gateway.
type Deps struct {
	// Session is the template every session is built from. Its Defaults
	// are the starting configuration until [Gateway.SetDefaults].
	Session session.Config

	// Keys validates static API keys. Required.
	Keys *auth.StaticKeys

	// Ephemeral mints client secrets for the REST companion. A nil store
	// disables ephemeral secrets.
	Ephemeral *auth.EphemeralStore

	Metrics *observe.Metrics
}

// Gateway serves realtime sessions. Safe for concurrent use.
type Gateway struct {
	cfg       Config
	template  session.Config
	keys      *auth.StaticKeys
	ephemeral *auth.EphemeralStore
	auth      auth.Validator
	table     *Table
	metrics   *observe.Metrics

	mu       sync.RWMutex
	defaults protocol.Session

	draining atomic.Bool
}

// New returns a gateway.
func New(cfg Config, deps Deps) (*Gateway, error) {
	if deps.Keys == nil {
		return nil, errors.New("gateway: static keys are required")
	}
	if deps.Session.Engine == nil {
		return nil, errors.New("gateway: session template needs a response engine")
	}
	cfg = cfg.withDefaults()

	chain := auth.Chain{deps.Keys}
	if deps.Ephemeral != nil {
		chain = append(chain, deps.Ephemeral)
	}
	tmpl := deps.Session
	tmpl.QueueSize = cfg.OutboundQueueSize
	tmpl.Metrics = deps.Metrics

	return &Gateway{
		cfg:       cfg,
		template:  tmpl,
		keys:      deps.Keys,
		ephemeral: deps.Ephemeral,
		auth:      chain,
		table:     NewTable(cfg.MaxSessions),
		metrics:   deps.Metrics,
		defaults:  tmpl.Normalize(tmpl.Defaults),
	}, nil
}

// Table returns the live session table.
func (g *Gateway) Table() *Table { return g.table }

// Defaults returns the configuration new sessions start from.
func (g *Gateway) Defaults() protocol.Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.defaults.Clone()
}

// SetDefaults replaces the starting configuration of new sessions. Live
// sessions keep theirs.
func (g *Gateway) SetDefaults(s protocol.Session) error {
	s = g.template.Normalize(s)
	if perr := g.template.Supports(s); perr != nil {
		return perr
	}
	g.mu.Lock()
	g.defaults = s
	g.mu.Unlock()
	return nil
}

// Handler returns the WebSocket endpoint and the REST companion.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+g.cfg.Path, g.serveRealtime)
	mux.HandleFunc("POST "+g.cfg.Path+"/sessions", g.createSession)
	mux.HandleFunc("GET "+g.cfg.Path+"/sessions", g.listSessions)
	mux.HandleFunc("DELETE "+g.cfg.Path+"/sessions/{id}", g.deleteSession)
	return mux
}

// Draining reports whether [Gateway.Shutdown] was called.
func (g *Gateway) Draining() bool { return g.draining.Load() }

// Shutdown stops accepting sessions, ends every live one and waits until
// their connections closed or ctx ends.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.draining.Store(true)
	n := g.table.CancelAll()
	slog.Info("gateway draining", "sessions", n)
	if !g.table.Wait(ctx) {
		return ctx.Err()
	}
	return nil
}

func (g *Gateway) serveRealtime(w http.ResponseWriter, r *http.Request) {
	if g.draining.Load() {
		writeHTTPError(w, protocol.ServerError(protocol.CodeShuttingDown, "The server is shutting down."))
		return
	}
	offered := auth.Subprotocols(r)
	beta := r.Header.Get("OpenAI-Beta") == "realtime=v1" || slices.Contains(offered, ProtocolBeta)
	credential, _ := auth.ParseCredential(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{ProtocolRealtime, ProtocolBeta},
		OriginPatterns: g.cfg.OriginPatterns,
	})
	if err != nil {
		// Accept already wrote the HTTP error.
		slog.Debug("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(g.cfg.ReadLimit)

	ctx := r.Context()
	g.metrics.AddConnections(ctx, 1)
	defer g.metrics.AddConnections(ctx, -1)

	if g.cfg.RequireBetaHeader && !beta {
		g.reject(ctx, conn, protocol.InvalidRequest(protocol.CodeMissingBetaHeader,
			"You must send the 'OpenAI-Beta: realtime=v1' header."), websocket.StatusPolicyViolation)
		return
	}
	p, err := g.auth.Validate(ctx, credential)
	if err != nil {
		g.reject(ctx, conn, authFailure(err), websocket.StatusPolicyViolation)
		return
	}

	s, err := g.newSession(p, r.URL.Query().Get("model"))
	if err != nil {
		observe.Logger(ctx).Error("create session", "tenant", p.Tenant, "err", err)
		g.reject(ctx, conn, protocol.ServerError(protocol.CodeInternal,
			"The server could not start the session."), websocket.StatusInternalError)
		return
	}

	sctx, cancel := context.WithCancel(observe.WithSession(ctx, s.ID()))
	defer cancel()
	unregister, err := g.table.Register(s, cancel)
	if err != nil {
		perr := protocol.ServerError(protocol.CodeInternal, "The server could not start the session.")
		code := websocket.StatusInternalError
		if errors.Is(err, ErrTableFull) {
			perr = protocol.RateLimited(protocol.CodeSessionLimitReached,
				"The server has reached its session limit. Please try again later.")
			code = websocket.StatusTryAgainLater
		}
		g.reject(ctx, conn, perr, code)
		return
	}
	defer unregister()

	g.metrics.AddSessions(ctx, 1)
	defer g.metrics.AddSessions(ctx, -1)

	newConnection(g, conn, s).serve(sctx, cancel)
}

// newSession builds the session for an authenticated principal. A redeemed
// client secret carries the session ID and configuration it was minted for.
func (g *Gateway) newSession(p auth.Principal, model string) (*session.Session, error) {
	cfg := g.template
	cfg.Tenant = p.Tenant
	cfg.Defaults = g.Defaults()
	if p.Ephemeral {
		cfg.ID = p.SessionID
		if p.Session != nil {
			cfg.Defaults = p.Session.Clone()
		}
	}
	if model != "" {
		cfg.Defaults.Model = model
	}
	return session.New(cfg)
}

// reject writes one error event and closes the connection with code.
func (g *Gateway) reject(ctx context.Context, conn *websocket.Conn, perr *protocol.Error, code websocket.StatusCode) {
	observe.Logger(ctx).Info("connection rejected", "code", perr.Code, "type", perr.Type)
	g.metrics.RecordProtocolError(ctx, perr.Code)

	// Rejected connections never get a session; their single event still
	// carries a well-formed ID.
	f, err := session.NewSequencer(1).Final(&protocol.ErrorEvent{Error: perr})
	if err == nil {
		wctx, wcancel := context.WithTimeout(ctx, g.cfg.WriteTimeout)
		err = conn.Write(wctx, websocket.MessageText, f.Data)
		wcancel()
	}
	if err != nil {
		observe.Logger(ctx).Debug("write rejection", "err", err)
		_ = conn.CloseNow()
		return
	}
	_ = conn.Close(code, perr.Code)
}

func authFailure(err error) *protocol.Error {
	switch {
	case errors.Is(err, auth.ErrMissing):
		return protocol.AuthError(protocol.CodeInvalidAPIKey,
			"Missing bearer or basic authentication in header.")
	case errors.Is(err, auth.ErrExpired):
		return protocol.AuthError(protocol.CodeInvalidAPIKey,
			"The client secret has expired or was already used.")
	}
	return protocol.AuthError(protocol.CodeInvalidAPIKey, "Incorrect API key provided.")
}
