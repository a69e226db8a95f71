// Package session runs one realtime voice session.
//
// A [Session] is an actor: a single goroutine started by [Session.Run] owns
// the input audio buffer, the conversation, the turn detector and the active
// response, and handles inbound frames, worker updates and asynchronous
// results strictly one at a time. Nothing in the actor state is locked.
// Everything the client sees leaves through the [Sequencer].
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/rtvoice/internal/audiobuf"
	"github.com/MrWong99/rtvoice/internal/conversation"
	"github.com/MrWong99/rtvoice/internal/observe"
	"github.com/MrWong99/rtvoice/internal/protocol"
	"github.com/MrWong99/rtvoice/internal/ratelimit"
	"github.com/MrWong99/rtvoice/internal/response"
	"github.com/MrWong99/rtvoice/internal/turn"
	"github.com/MrWong99/rtvoice/pkg/audio"
	"github.com/MrWong99/rtvoice/pkg/provider/stt"
	"github.com/MrWong99/rtvoice/pkg/provider/vad"
)

// Session statuses.
const (
	StatusConnecting = "connecting"
	StatusOpen       = "open"
	StatusClosed     = "closed"
)

// ErrTerminated is returned by Run after [Session.Terminate].
var ErrTerminated = errors.New("session: terminated")

const (
	defaultInboxSize = 64
	updateBuffer     = 64
)

// Config wires a session to its workers. Engine is required; a nil VAD
// forces manual commit mode, and a nil STT disables transcription and
// semantic_vad.
type Config struct {
	// ID is generated when empty.
	ID     string
	Tenant string

	// Defaults is the starting configuration, already validated.
	Defaults protocol.Session

	Engine  *response.Engine
	VAD     vad.Engine
	STT     stt.Provider
	STTName string
	Checker turn.SemanticChecker
	Limiter *ratelimit.Limiter
	Metrics *observe.Metrics

	QueueSize int
	InboxSize int
}

// Info is a snapshot of a session for listings.
type Info struct {
	ID        string    `json:"id"`
	Tenant    string    `json:"-"`
	Model     string    `json:"model"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one realtime session.
type Session struct {
	id        string
	tenant    string
	createdAt time.Time

	engine  *response.Engine
	vad     vad.Engine
	stt     stt.Provider
	sttName string
	checker turn.SemanticChecker
	limiter *ratelimit.Limiter
	metrics *observe.Metrics
	log     *slog.Logger

	seq    *Sequencer
	report *Reporter

	inbox     chan []byte
	updates   chan response.Update
	results   chan func(context.Context)
	terminate chan *protocol.Error
	done      chan struct{}
	workers   sync.WaitGroup
	runs      sync.WaitGroup

	mu     sync.Mutex
	model  string
	status string

	// Actor state.
	config   protocol.Session
	buf      *audiobuf.Buffer
	conv     *conversation.Store
	det      *turn.Detector
	detBase  time.Duration
	denoise  *audio.Denoiser
	turnItem string
	active   *activeResponse
	failure  error
}

// New builds a session from cfg. The session does nothing until Run.
func New(cfg Config) (*Session, error) {
	if cfg.Engine == nil {
		return nil, errors.New("session: response engine is required")
	}
	id := cfg.ID
	if id == "" {
		id = protocol.NewID(protocol.PrefixSession)
	}
	inbox := cfg.InboxSize
	if inbox <= 0 {
		inbox = defaultInboxSize
	}
	s := &Session{
		id:        id,
		tenant:    cfg.Tenant,
		createdAt: time.Now(),
		engine:    cfg.Engine,
		vad:       cfg.VAD,
		stt:       cfg.STT,
		sttName:   cfg.STTName,
		checker:   cfg.Checker,
		limiter:   cfg.Limiter,
		metrics:   cfg.Metrics,
		log:       slog.Default().With("session_id", id),
		seq:       NewSequencer(cfg.QueueSize),
		inbox:     make(chan []byte, inbox),
		updates:   make(chan response.Update, updateBuffer),
		results:   make(chan func(context.Context), updateBuffer),
		terminate: make(chan *protocol.Error, 1),
		done:      make(chan struct{}),
		status:    StatusConnecting,
		conv:      conversation.New(),
	}
	s.report = NewReporter(s.Emit, cfg.Metrics)

	initial := cfg.Normalize(cfg.Defaults)
	initial.ID = id
	initial.Object = "realtime.session"
	initial.ClientSecret = nil
	s.buf = audiobuf.New(initial.InputFormat())
	if err := s.capabilities(initial); err != nil {
		return nil, fmt.Errorf("session: default configuration: %w", err)
	}
	if err := s.configure(initial); err != nil {
		return nil, err
	}
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Tenant returns the tenant the session belongs to.
func (s *Session) Tenant() string { return s.tenant }

// Sequencer returns the session's outbound sequencer.
func (s *Session) Sequencer() *Sequencer { return s.seq }

// Frames is the outbound queue, closed when the session ends.
func (s *Session) Frames() <-chan Frame { return s.seq.Frames() }

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Info returns a snapshot for listings. Safe for concurrent use.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{ID: s.id, Tenant: s.tenant, Model: s.model, Status: s.status, CreatedAt: s.createdAt}
}

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// Deliver hands one inbound frame to the actor. It blocks while the inbox
// is full, which pushes back on the connection reader.
func (s *Session) Deliver(ctx context.Context, data []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.inbox <- data:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminate ends the session after a session_error. Safe for concurrent use;
// later calls are no-ops.
func (s *Session) Terminate() {
	perr := protocol.SessionError(protocol.CodeSessionTerminated, "The session was terminated by the server.")
	select {
	case s.terminate <- perr:
	default:
	}
}

// Emit stamps and queues ev. It implements [response.Emitter] and is only
// called on the actor goroutine.
func (s *Session) Emit(ev protocol.ServerEvent) {
	f, err := s.seq.Enqueue(ev)
	if err != nil {
		if errors.Is(err, ErrQueueFull) && s.failure == nil {
			s.log.Error("outbound queue overflow", "type", ev.ServerEventType())
			s.failure = ErrQueueFull
		} else if !errors.Is(err, ErrQueueFull) && !errors.Is(err, ErrClosed) {
			s.log.Error("dropping server event", "type", ev.ServerEventType(), "err", err)
		}
		return
	}
	s.metrics.RecordServerEvent(context.Background(), string(f.Type))
}

// Run executes the actor until ctx ends, the session is terminated, or a
// fatal error occurs. It returns nil when ctx was cancelled, [ErrTerminated],
// [ErrQueueFull], or the fatal *protocol.Error. The outbound queue is closed
// when Run returns.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(observe.WithSession(ctx, s.id))
	defer close(s.done)

	s.setStatus(StatusOpen)
	observe.Logger(ctx).Info("session started", "tenant", s.tenant, "model", s.config.Model)

	s.Emit(&protocol.SessionCreatedEvent{Session: s.config.Clone()})
	s.Emit(&protocol.ConversationCreatedEvent{Conversation: protocol.Conversation{
		ID:     s.conv.ID(),
		Object: "realtime.conversation",
	}})

	err := s.loop(ctx)
	cancel()
	s.teardown(ctx, err)
	observe.Logger(ctx).Info("session ended", "reason", endReason(err))
	return err
}

func (s *Session) loop(ctx context.Context) error {
	for {
		if s.failure != nil {
			return s.failure
		}
		select {
		case <-ctx.Done():
			return nil
		case data := <-s.inbox:
			s.handleFrame(ctx, data)
		case u := <-s.updates:
			s.applyUpdate(ctx, u)
		case apply := <-s.results:
			apply(ctx)
		case perr := <-s.terminate:
			s.abortActive(ctx, protocol.ReasonSessionTerminated)
			s.Emit(&protocol.ErrorEvent{Error: perr})
			return ErrTerminated
		}
	}
}

// teardown stops all background work and closes the outbound queue. A nil
// err means the client went away.
func (s *Session) teardown(ctx context.Context, err error) {
	reason := protocol.ReasonClientDisconnected
	if err != nil {
		reason = protocol.ReasonSessionTerminated
	}
	s.abortActive(ctx, reason)
	s.workers.Wait()
	s.runs.Wait()
	if s.det != nil {
		if err := s.det.Close(); err != nil {
			s.log.Warn("close turn detector", "err", err)
		}
		s.det = nil
	}
	s.setStatus(StatusClosed)
	s.seq.Close()
}

// abortActive ends the active response as incomplete with reason because
// the session is going away.
func (s *Session) abortActive(ctx context.Context, reason string) {
	if s.active == nil {
		return
	}
	s.finishActive(ctx, func(r *response.Response) error {
		return r.Incomplete(reason)
	}, nil)
}

// spawn runs work off the actor. The function work returns is applied on
// the actor; it is dropped when the session ends first.
func (s *Session) spawn(ctx context.Context, work func(context.Context) func(context.Context)) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		apply := work(ctx)
		if apply == nil {
			return
		}
		select {
		case s.results <- apply:
		case <-ctx.Done():
		}
	}()
}

func endReason(err error) string {
	switch {
	case err == nil:
		return "disconnected"
	case errors.Is(err, ErrTerminated):
		return "terminated"
	case errors.Is(err, ErrQueueFull):
		return "queue_overflow"
	}
	return err.Error()
}

// ms converts a clock position to wire milliseconds.
func ms(d time.Duration) int { return int(d / time.Millisecond) }
