package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every member of a group failed or was
// skipped by its breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

type member[T any] struct {
	value   T
	breaker *Breaker
}

// Group holds providers of one kind in preference order, each behind its
// own breaker. Members are added before the group is shared.
type Group[T any] struct {
	cfg     BreakerConfig
	members []member[T]
}

// NewGroup returns an empty group whose breakers use cfg.
func NewGroup[T any](cfg BreakerConfig) *Group[T] {
	return &Group[T]{cfg: cfg}
}

// Add appends a provider. The first one added is the primary. A name
// already in the group gets its position appended ("openai#2").
func (g *Group[T]) Add(name string, v T) {
	for _, m := range g.members {
		if m.breaker.Name() == name {
			name = fmt.Sprintf("%s#%d", name, len(g.members)+1)
			break
		}
	}
	g.members = append(g.members, member[T]{value: v, breaker: NewBreaker(name, g.cfg)})
}

// Len returns the number of members.
func (g *Group[T]) Len() int { return len(g.members) }

// Primary returns the first member.
func (g *Group[T]) Primary() T {
	var zero T
	if len(g.members) == 0 {
		return zero
	}
	return g.members[0].value
}

// States reports each member's breaker state by name.
func (g *Group[T]) States() map[string]State {
	out := make(map[string]State, len(g.members))
	for _, m := range g.members {
		out[m.breaker.Name()] = m.breaker.State()
	}
	return out
}

// Start calls fn on each member in order until one succeeds and returns
// its result with the done function of that member's breaker. The caller
// must invoke done once the call's final outcome is known. Cancellation of
// ctx stops the search.
func Start[T, R any](ctx context.Context, g *Group[T], fn func(T) (R, error)) (R, func(error), error) {
	var (
		zero    R
		lastErr error
	)
	for _, m := range g.members {
		if err := ctx.Err(); err != nil {
			return zero, nil, err
		}
		done, err := m.breaker.Allow()
		if err != nil {
			slog.Debug("skipping provider", "provider", m.breaker.Name(), "err", err)
			lastErr = err
			continue
		}
		res, err := fn(m.value)
		if err == nil {
			return res, done, nil
		}
		done(err)
		if ctx.Err() != nil {
			return zero, nil, err
		}
		slog.Warn("provider failed, trying next", "provider", m.breaker.Name(), "err", err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no providers")
	}
	return zero, nil, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// Call is [Start] for calls whose outcome is known when fn returns.
func Call[T, R any](ctx context.Context, g *Group[T], fn func(T) (R, error)) (R, error) {
	res, done, err := Start(ctx, g, fn)
	if err != nil {
		return res, err
	}
	done(nil)
	return res, nil
}
