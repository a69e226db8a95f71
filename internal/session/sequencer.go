package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/rtvoice/internal/protocol"
)

// DefaultQueueSize is the outbound queue capacity when none is configured.
const DefaultQueueSize = 1024

// Sentinel errors.
var (
	// ErrQueueFull is returned once the outbound queue overflowed. The
	// session cannot recover from it.
	ErrQueueFull = errors.New("session: outbound queue full")

	// ErrClosed is returned for operations on a finished session.
	ErrClosed = errors.New("session: closed")
)

// Frame is one marshalled server event.
type Frame struct {
	EventID string
	Type    protocol.ServerEventType
	Data    []byte
}

// Sequencer stamps server events with increasing IDs and queues them for the
// connection writer. IDs are assigned and the event is marshalled at enqueue
// time, so the order of Enqueue calls is the order on the wire.
type Sequencer struct {
	mu       sync.Mutex
	next     uint64
	out      chan Frame
	closed   bool
	overflow bool
}

// NewSequencer returns a sequencer whose queue holds size frames.
func NewSequencer(size int) *Sequencer {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Sequencer{out: make(chan Frame, size)}
}

// Enqueue stamps ev and queues it. It never blocks: when the queue is full
// the sequencer is marked overflowed and every later call fails with
// [ErrQueueFull].
func (s *Sequencer) Enqueue(ev protocol.ServerEvent) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return Frame{}, ErrClosed
	case s.overflow:
		return Frame{}, ErrQueueFull
	}
	f, err := s.stampLocked(ev)
	if err != nil {
		return Frame{}, err
	}
	select {
	case s.out <- f:
		return f, nil
	default:
		s.overflow = true
		return Frame{}, ErrQueueFull
	}
}

// Final stamps ev without queueing it. The writer uses it for the last
// frame of a connection that can no longer use the queue.
func (s *Sequencer) Final(ev protocol.ServerEvent) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stampLocked(ev)
}

func (s *Sequencer) stampLocked(ev protocol.ServerEvent) (Frame, error) {
	s.next++
	id := fmt.Sprintf("event_%016d", s.next)
	protocol.Stamp(ev, id)
	data, err := json.Marshal(ev)
	if err != nil {
		return Frame{}, fmt.Errorf("session: marshal %s: %w", ev.ServerEventType(), err)
	}
	return Frame{EventID: id, Type: ev.ServerEventType(), Data: data}, nil
}

// Frames is the queue the writer drains. It is closed by [Sequencer.Close].
func (s *Sequencer) Frames() <-chan Frame { return s.out }

// Overflowed reports whether the queue ever filled up.
func (s *Sequencer) Overflowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflow
}

// Close rejects further events and closes the queue. Frames already queued
// stay readable. Close is idempotent.
func (s *Sequencer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}

// Discard drops every queued frame and returns how many there were.
func (s *Sequencer) Discard() int {
	n := 0
	for {
		select {
		case _, ok := <-s.out:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}
