package gateway

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/MrWong99/rtvoice/internal/session"
)

// ErrTableFull is returned by [Table.Register] at the session limit.
var ErrTableFull = errors.New("gateway: session limit reached")

// Table tracks the live sessions of one gateway. It is the only place
// sessions are registered or looked up.
type Table struct {
	max int

	mu       sync.Mutex
	sessions map[string]*entry
	wg       sync.WaitGroup
}

type entry struct {
	sess   *session.Session
	cancel context.CancelFunc
	once   sync.Once
}

// NewTable returns a table holding at most limit sessions; zero means no limit.
func NewTable(limit int) *Table {
	return &Table{max: limit, sessions: make(map[string]*entry)}
}

// Register adds s. cancel stops the session's connection. The returned
// function unregisters it and may be called more than once.
func (t *Table) Register(s *session.Session, cancel context.CancelFunc) (unregister func(), err error) {
	e := &entry{sess: s, cancel: cancel}

	t.mu.Lock()
	if t.max > 0 && len(t.sessions) >= t.max {
		t.mu.Unlock()
		return nil, ErrTableFull
	}
	if _, dup := t.sessions[s.ID()]; dup {
		t.mu.Unlock()
		return nil, errors.New("gateway: session " + s.ID() + " already registered")
	}
	t.sessions[s.ID()] = e
	t.wg.Add(1)
	t.mu.Unlock()

	return func() { t.unregister(s.ID(), e) }, nil
}

func (t *Table) unregister(id string, e *entry) {
	e.once.Do(func() {
		t.mu.Lock()
		if t.sessions[id] == e {
			delete(t.sessions, id)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

// Unregister removes the session with id, if present.
func (t *Table) Unregister(id string) {
	t.mu.Lock()
	e := t.sessions[id]
	t.mu.Unlock()
	if e != nil {
		t.unregister(id, e)
	}
}

// Lookup returns the session with id.
func (t *Table) Lookup(id string) (*session.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.sessions[id]
	if !ok {
		return nil, false
	}
	return e.sess, true
}

// Count returns the number of registered sessions.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// List returns a snapshot of the sessions of tenant, oldest first.
func (t *Table) List(tenant string) []session.Info {
	t.mu.Lock()
	var out []session.Info
	for _, e := range t.sessions {
		if e.sess.Tenant() == tenant {
			out = append(out, e.sess.Info())
		}
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// CancelAll cancels every registered session and returns how many there
// were. Sessions stay registered until their connections finish.
func (t *Table) CancelAll() int {
	var cancels []context.CancelFunc
	t.mu.Lock()
	for _, e := range t.sessions {
		cancels = append(cancels, e.cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// Wait blocks until every registered session has unregistered or ctx ends.
// It reports whether the table drained.
func (t *Table) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
