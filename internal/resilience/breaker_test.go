package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := NewBreaker("test", cfg)
	b.now = clk.now
	return b, clk
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{Failures: 3, Cooldown: time.Minute})

	for range 2 {
		assert.ErrorIs(t, b.Do(func() error { return errBoom }), errBoom)
	}
	require.NoError(t, b.Do(func() error { return nil }), "success resets the count")
	for range 2 {
		_ = b.Do(func() error { return errBoom })
	}
	assert.Equal(t, StateClosed, b.State())

	_ = b.Do(func() error { return errBoom })
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Parallel()
	var transitions []string
	b, clk := newTestBreaker(BreakerConfig{
		Failures: 1,
		Cooldown: 10 * time.Second,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = b.Do(func() error { return errBoom })
	clk.advance(10 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	done, err := b.Allow()
	require.NoError(t, err)
	_, err = b.Allow()
	assert.ErrorIs(t, err, ErrOpen, "only one probe at a time")

	done(nil)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	t.Parallel()
	b, clk := newTestBreaker(BreakerConfig{Failures: 1, Cooldown: 10 * time.Second})

	_ = b.Do(func() error { return errBoom })
	clk.advance(10 * time.Second)
	_ = b.Do(func() error { return errBoom })
	assert.Equal(t, StateOpen, b.State())

	clk.advance(5 * time.Second)
	_, err := b.Allow()
	assert.ErrorIs(t, err, ErrOpen, "cooldown restarts on a failed probe")
}

func TestBreaker_CancellationIsNeutral(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{Failures: 1})

	for range 5 {
		_ = b.Do(func() error { return context.Canceled })
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_DoneCountsOnce(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{Failures: 2})

	done, err := b.Allow()
	require.NoError(t, err)
	done(errBoom)
	done(errBoom)
	assert.Equal(t, StateClosed, b.State())
}

func TestState_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
