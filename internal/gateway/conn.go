package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/rtvoice/internal/observe"
	"github.com/MrWong99/rtvoice/internal/protocol"
	"github.com/MrWong99/rtvoice/internal/session"
)

var errOverflow = errors.New("gateway: outbound queue overflow")

// connection pumps frames between one socket and one session.
type connection struct {
	g    *Gateway
	conn *websocket.Conn
	sess *session.Session
}

func newConnection(g *Gateway, conn *websocket.Conn, s *session.Session) *connection {
	return &connection{g: g, conn: conn, sess: s}
}

// serve runs the session until it ends and closes the socket with a code
// that reflects why. cancel ends the session.
func (c *connection) serve(ctx context.Context, cancel context.CancelFunc) {
	log := observe.Logger(ctx)

	runDone := make(chan error, 1)
	go func() { runDone <- c.sess.Run(ctx) }()

	readDone := make(chan error, 1)
	go func() {
		err := c.read(ctx)
		cancel()
		readDone <- err
	}()

	werr := c.write(ctx)
	if werr != nil {
		cancel()
	}
	runErr := <-runDone
	if n := c.sess.Sequencer().Discard(); n > 0 {
		log.Debug("discarded queued frames", "frames", n)
	}

	var fatal *protocol.Error
	if !errors.As(runErr, &fatal) || !fatal.Fatal {
		fatal = nil
	}

	switch {
	case errors.Is(runErr, session.ErrQueueFull) || errors.Is(werr, errOverflow):
		c.writeFinal(ctx, protocol.ServerError(protocol.CodeOutboundQueueOverflow,
			"The client is not reading events fast enough."))
		_ = c.conn.Close(websocket.StatusInternalError, protocol.CodeOutboundQueueOverflow)
	case werr != nil:
		log.Debug("connection write failed", "err", werr)
		_ = c.conn.CloseNow()
	case errors.Is(runErr, session.ErrTerminated):
		_ = c.conn.Close(websocket.StatusNormalClosure, "session terminated")
	case fatal != nil:
		_ = c.conn.Close(websocket.StatusPolicyViolation, fatal.Code)
	case c.g.draining.Load():
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		_ = c.conn.CloseNow()
	}

	if err := <-readDone; err != nil && websocket.CloseStatus(err) == -1 && !errors.Is(err, session.ErrClosed) {
		log.Debug("connection read ended", "err", err)
	}
}

// read delivers inbound text frames to the session. Deliver blocks while
// the session inbox is full, so a slow session stops the reader.
func (c *connection) read(ctx context.Context) error {
	// Reads outlive ctx so a shutdown can still finish the close handshake;
	// the socket closing is what stops the loop.
	rbase := context.WithoutCancel(ctx)
	for {
		rctx, rcancel := rbase, context.CancelFunc(func() {})
		if c.g.cfg.IdleTimeout > 0 {
			rctx, rcancel = context.WithTimeout(rbase, c.g.cfg.IdleTimeout)
		}
		typ, data, err := c.conn.Read(rctx)
		rcancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				observe.Logger(ctx).Info("connection idle, closing", "timeout", c.g.cfg.IdleTimeout)
			}
			return err
		}
		if typ != websocket.MessageText {
			observe.Logger(ctx).Debug("ignoring binary frame", "bytes", len(data))
			continue
		}
		if err := c.sess.Deliver(ctx, data); err != nil {
			return err
		}
	}
}

// write drains the session's outbound queue until it closes. It is the only
// writer of the socket.
func (c *connection) write(ctx context.Context) error {
	ticker := time.NewTicker(c.g.cfg.PingInterval)
	defer ticker.Stop()

	seq := c.sess.Sequencer()
	for {
		select {
		case f, ok := <-c.sess.Frames():
			if !ok {
				return nil
			}
			if seq.Overflowed() {
				return errOverflow
			}
			if err := c.writeFrame(ctx, f.Data); err != nil {
				return fmt.Errorf("gateway: write %s: %w", f.Type, err)
			}
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			pctx, pcancel := context.WithTimeout(ctx, c.g.cfg.WriteTimeout)
			err := c.conn.Ping(pctx)
			pcancel()
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("gateway: ping: %w", err)
			}
		}
	}
}

// writeFrame writes one frame. Writes ignore session cancellation so the
// events a session emits while ending still reach the client.
func (c *connection) writeFrame(ctx context.Context, data []byte) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.g.cfg.WriteTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, data)
}

// writeFinal writes perr outside the queue. Failures are only logged.
func (c *connection) writeFinal(ctx context.Context, perr *protocol.Error) {
	c.g.metrics.RecordProtocolError(ctx, perr.Code)
	f, err := c.sess.Sequencer().Final(&protocol.ErrorEvent{Error: perr})
	if err == nil {
		err = c.writeFrame(ctx, f.Data)
	}
	if err != nil {
		observe.Logger(ctx).Debug("write final error", "code", perr.Code, "err", err)
	}
}
