// Package resilience puts worker providers behind circuit breakers and
// ordered failover.
//
// A [Breaker] is a three-state circuit breaker (closed, open, half-open)
// with a two-phase API: [Breaker.Allow] admits a call and returns a done
// function the caller invokes once the outcome is known. Streaming workers
// report the outcome when the stream ends rather than when it starts.
// Cancellation by the caller is neither a success nor a failure, so a
// response cancelled by barge-in never trips a breaker.
//
// A [Group] tries its members in order and skips those whose breaker is
// open. [LLM], [STT] and [TTS] adapt groups to the provider interfaces.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned when a breaker rejects a call.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Failures is the number of consecutive failures that opens the
	// breaker. Default 5.
	Failures int

	// Cooldown is how long the breaker stays open before admitting a
	// probe. Default 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls that close the
	// breaker again. At most this many probes run at once. Default 1.
	Probes int

	// OnStateChange, when set, is called after every transition with the
	// breaker's lock released.
	OnStateChange func(name string, from, to State)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Failures <= 0 {
		c.Failures = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Probes <= 0 {
		c.Probes = 1
	}
	return c
}

// Breaker guards one provider. Safe for concurrent use.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inFlight  int
	successes int
}

// NewBreaker returns a closed breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{name: name, cfg: cfg.withDefaults(), now: time.Now}
}

// Name returns the name the breaker was created with.
func (b *Breaker) Name() string { return b.name }

// Allow admits one call or returns [ErrOpen]. The returned function records
// the call's outcome; only its first invocation counts.
func (b *Breaker) Allow() (done func(error), err error) {
	b.mu.Lock()
	from := b.state
	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			b.mu.Unlock()
			return nil, ErrOpen
		}
		b.state = StateHalfOpen
		b.inFlight, b.successes = 0, 0
	}
	probe := b.state == StateHalfOpen
	if probe {
		if b.inFlight >= b.cfg.Probes {
			b.mu.Unlock()
			b.notify(from, b.State())
			return nil, ErrOpen
		}
		b.inFlight++
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)

	var once sync.Once
	return func(err error) {
		once.Do(func() { b.record(probe, err) })
	}, nil
}

// Do runs fn under the breaker.
func (b *Breaker) Do(fn func() error) error {
	done, err := b.Allow()
	if err != nil {
		return err
	}
	err = fn()
	done(err)
	return err
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	from := b.state
	if probe && b.inFlight > 0 {
		b.inFlight--
	}
	switch {
	case errors.Is(err, context.Canceled):
	case err == nil:
		b.failures = 0
		if b.state == StateHalfOpen {
			b.successes++
			if b.successes >= b.cfg.Probes {
				b.state = StateClosed
			}
		}
	default:
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.cfg.Failures {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

func (b *Breaker) notify(from, to State) {
	if from == to {
		return
	}
	slog.Info("circuit breaker state changed", "provider", b.name, "from", from, "to", to)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// State returns the current state. An open breaker whose cooldown elapsed
// reports half-open; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}
