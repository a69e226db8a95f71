// Package ratelimit keeps per-tenant token buckets for response requests and
// model tokens.
//
// Buckets refill continuously at limit per minute. A zero limit disables the
// bucket. The limiter is process-wide and safe for concurrent use.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Bucket names as they appear in rate_limits.updated.
const (
	BucketRequests = "requests"
	BucketTokens   = "tokens"
)

// Config sets the per-tenant limits.
type Config struct {
	RequestsPerMinute int
	TokensPerMinute   int

	// Bounds for the in-memory tenant map.
	MaxEntries int
	EntryTTL   time.Duration
}

// Bucket is a point-in-time view of one bucket.
type Bucket struct {
	Name      string
	Limit     int
	Remaining int
	Reset     time.Duration
}

// Limiter holds one pair of buckets per tenant.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu sync.Mutex
	m  map[string]*tenantLimiter
}

type tenantLimiter struct {
	requests tokenBucket
	tokens   tokenBucket
	lastSeen time.Time
}

type tokenBucket struct {
	capacity float64
	rate     float64 // per second
	tokens   float64
	last     time.Time
}

// New returns a limiter for cfg.
func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{cfg: cfg, now: time.Now, m: make(map[string]*tenantLimiter)}
}

// Allow takes one request from tenant's request bucket. It refuses when
// either bucket is exhausted and reports how long until the next request
// would be admitted.
func (l *Limiter) Allow(tenant string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	tl := l.getLocked(tenant, now)

	tl.tokens.refill(now)
	if tl.tokens.enabled() && tl.tokens.tokens < 1 {
		return false, tl.tokens.wait(1)
	}
	tl.requests.refill(now)
	if !tl.requests.enabled() {
		return true, 0
	}
	if tl.requests.tokens < 1 {
		return false, tl.requests.wait(1)
	}
	tl.requests.tokens--
	return true, 0
}

// Consume charges n model tokens to tenant. The bucket may go into debt so
// one large response blocks the next ones until it is paid off.
func (l *Limiter) Consume(tenant string, n int) {
	if n <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	tl := l.getLocked(tenant, now)
	tl.tokens.refill(now)
	if tl.tokens.enabled() {
		tl.tokens.tokens -= float64(n)
	}
}

// Snapshot returns the enabled buckets of tenant.
func (l *Limiter) Snapshot(tenant string) []Bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	tl := l.getLocked(tenant, now)

	out := make([]Bucket, 0, 2)
	for _, b := range []struct {
		name string
		tb   *tokenBucket
	}{
		{BucketRequests, &tl.requests},
		{BucketTokens, &tl.tokens},
	} {
		if !b.tb.enabled() {
			continue
		}
		b.tb.refill(now)
		out = append(out, Bucket{
			Name:      b.name,
			Limit:     int(b.tb.capacity),
			Remaining: max(0, int(math.Floor(b.tb.tokens))),
			Reset:     b.tb.wait(b.tb.capacity),
		})
	}
	return out
}

// SetLimits changes the per-minute limits. Tenants already tracked start
// over with full buckets at the new limits.
func (l *Limiter) SetLimits(requestsPerMinute, tokensPerMinute int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.RequestsPerMinute = requestsPerMinute
	l.cfg.TokensPerMinute = tokensPerMinute
	clear(l.m)
}

func (l *Limiter) getLocked(tenant string, now time.Time) *tenantLimiter {
	if tenant == "" {
		tenant = "anonymous"
	}
	if tl, ok := l.m[tenant]; ok {
		tl.lastSeen = now
		return tl
	}
	if len(l.m) >= l.cfg.MaxEntries {
		for k, v := range l.m {
			if now.Sub(v.lastSeen) > l.cfg.EntryTTL {
				delete(l.m, k)
			}
		}
	}
	tl := &tenantLimiter{
		requests: newBucket(l.cfg.RequestsPerMinute, now),
		tokens:   newBucket(l.cfg.TokensPerMinute, now),
		lastSeen: now,
	}
	l.m[tenant] = tl
	return tl
}

func newBucket(perMinute int, now time.Time) tokenBucket {
	if perMinute <= 0 {
		return tokenBucket{}
	}
	c := float64(perMinute)
	return tokenBucket{capacity: c, rate: c / 60, tokens: c, last: now}
}

func (b *tokenBucket) enabled() bool { return b.capacity > 0 }

func (b *tokenBucket) refill(now time.Time) {
	if !b.enabled() {
		return
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.rate)
		b.last = now
	}
}

// wait returns how long until the bucket holds want tokens.
func (b *tokenBucket) wait(want float64) time.Duration {
	if !b.enabled() || b.tokens >= want {
		return 0
	}
	return time.Duration((want - b.tokens) / b.rate * float64(time.Second))
}
