// Package auth validates the credentials realtime clients present.
//
// Two credential kinds exist: static API keys from the configuration, each
// bound to a tenant, and ephemeral client secrets minted by the REST
// companion. A [Chain] tries several validators in order.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/rtvoice/internal/protocol"
)

// Sentinel errors.
var (
	// ErrMissing is returned when the request carries no credential.
	ErrMissing = errors.New("auth: missing credential")

	// ErrInvalid is returned for a credential no validator accepts.
	ErrInvalid = errors.New("auth: invalid credential")

	// ErrExpired is returned for an ephemeral secret past its lifetime or
	// already redeemed.
	ErrExpired = errors.New("auth: credential expired")
)

// EphemeralPrefix starts every ephemeral client secret.
const EphemeralPrefix = "ek_"

// Principal is an authenticated caller.
type Principal struct {
	Tenant string

	// Ephemeral is set when the caller redeemed a client secret.
	Ephemeral bool

	// SessionID and Session are the identity and stored configuration of
	// the session a client secret was minted for.
	SessionID string
	Session   *protocol.Session
}

// Validator checks one credential.
type Validator interface {
	Validate(ctx context.Context, credential string) (Principal, error)
}

type ctxKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// PrincipalFrom returns the principal stored by [WithPrincipal].
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

const insecureKeyProtocol = "openai-insecure-api-key."

// ParseCredential extracts the credential from r. Sources, in order: the
// access_token query parameter, an Authorization bearer token, the api-key
// header, and the openai-insecure-api-key WebSocket subprotocol browsers use
// because they cannot set headers.
func ParseCredential(r *http.Request) (string, bool) {
	if tok := strings.TrimSpace(r.URL.Query().Get("access_token")); tok != "" {
		return tok, true
	}
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		const prefix = "Bearer "
		if len(authz) > len(prefix) && strings.EqualFold(authz[:len(prefix)], prefix) {
			if tok := strings.TrimSpace(authz[len(prefix):]); tok != "" {
				return tok, true
			}
		}
	}
	if key := strings.TrimSpace(r.Header.Get("api-key")); key != "" {
		return key, true
	}
	for _, p := range Subprotocols(r) {
		if key, ok := strings.CutPrefix(p, insecureKeyProtocol); ok && key != "" {
			return key, true
		}
	}
	return "", false
}

// Subprotocols lists the WebSocket subprotocols the client offered.
func Subprotocols(r *http.Request) []string {
	var out []string
	for _, h := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(h, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// StaticKeys validates configured API keys. The map goes from key to tenant.
type StaticKeys struct {
	keys map[string]string
}

// NewStaticKeys returns a validator for keys.
func NewStaticKeys(keys map[string]string) *StaticKeys {
	m := make(map[string]string, len(keys))
	for k, tenant := range keys {
		m[k] = tenant
	}
	return &StaticKeys{keys: m}
}

// Validate implements [Validator]. Keys are compared in constant time.
func (s *StaticKeys) Validate(_ context.Context, credential string) (Principal, error) {
	if credential == "" {
		return Principal{}, ErrMissing
	}
	var (
		tenant string
		found  bool
	)
	for k, t := range s.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(credential)) == 1 {
			tenant, found = t, true
		}
	}
	if !found {
		return Principal{}, ErrInvalid
	}
	return Principal{Tenant: tenant}, nil
}

type ephemeral struct {
	principal Principal
	expires   time.Time
}

// EphemeralStore mints single-use client secrets. Safe for concurrent use.
type EphemeralStore struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	tokens map[string]ephemeral
}

// DefaultEphemeralTTL is the client secret lifetime when none is configured.
const DefaultEphemeralTTL = time.Minute

// NewEphemeralStore returns a store whose secrets live for ttl.
func NewEphemeralStore(ttl time.Duration) *EphemeralStore {
	if ttl <= 0 {
		ttl = DefaultEphemeralTTL
	}
	return &EphemeralStore{ttl: ttl, now: time.Now, tokens: make(map[string]ephemeral)}
}

// Issue mints a secret for a session of tenant that starts from cfg.
func (e *EphemeralStore) Issue(tenant, sessionID string, cfg protocol.Session) protocol.ClientSecret {
	now := e.now()
	value := EphemeralPrefix + uuid.NewString()
	stored := cfg.Clone()

	e.mu.Lock()
	defer e.mu.Unlock()
	for k, t := range e.tokens {
		if !now.Before(t.expires) {
			delete(e.tokens, k)
		}
	}
	e.tokens[value] = ephemeral{
		principal: Principal{Tenant: tenant, Ephemeral: true, SessionID: sessionID, Session: &stored},
		expires:   now.Add(e.ttl),
	}
	return protocol.ClientSecret{Value: value, ExpiresAt: now.Add(e.ttl).Unix()}
}

// Validate redeems a secret. A secret works once.
func (e *EphemeralStore) Validate(_ context.Context, credential string) (Principal, error) {
	if !strings.HasPrefix(credential, EphemeralPrefix) {
		return Principal{}, ErrInvalid
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tokens[credential]
	if !ok {
		return Principal{}, ErrExpired
	}
	delete(e.tokens, credential)
	if !e.now().Before(t.expires) {
		return Principal{}, ErrExpired
	}
	return t.principal, nil
}

// Len returns the number of unredeemed secrets, expired ones included.
func (e *EphemeralStore) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tokens)
}

// Chain tries each validator in order and returns the first success. When
// all fail, the most specific error wins: ErrExpired over ErrInvalid.
type Chain []Validator

// Validate implements [Validator].
func (c Chain) Validate(ctx context.Context, credential string) (Principal, error) {
	if credential == "" {
		return Principal{}, ErrMissing
	}
	err := ErrInvalid
	for _, v := range c {
		p, verr := v.Validate(ctx, credential)
		if verr == nil {
			return p, nil
		}
		if errors.Is(verr, ErrExpired) {
			err = verr
		}
	}
	return Principal{}, err
}
