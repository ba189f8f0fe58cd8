package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/tine/pkg/protocol"
)

// Reserved event names handled by the session instead of being sent as envelopes.
const (
	EventClose = "close"
	EventPing  = "ping"
)

const (
	PromptEvent = "Enter event type: "
	PromptData  = "Enter event data (JSON): "

	DefaultPingPayload  = "PING"
	DefaultCloseTimeout = 5 * time.Second
)

// ErrSessionUsed is returned when Run is called on a session that already ran.
var ErrSessionUsed = errors.New("session already started")

// Console is the interactive side of a session.
type Console interface {
	Printer

	// Prompt shows label and returns the next trimmed input line.
	// Returns io.EOF when input is exhausted.
	Prompt(ctx context.Context, label string) (string, error)

	// Outgoing echoes an envelope about to be sent.
	Outgoing(text string)

	// Notice shows a message that is not part of the stream.
	Notice(text string)
}

// Option configures a Session.
type Option func(*Session)

// WithAuthEvent sets the event name of the authentication envelope.
func WithAuthEvent(event string) Option {
	return func(s *Session) {
		if event != "" {
			s.authEvent = event
		}
	}
}

// WithPingPayload sets the payload of pings sent for the "ping" command.
func WithPingPayload(p []byte) Option {
	return func(s *Session) {
		s.pingPayload = p
	}
}

// WithCloseTimeout bounds how long the session waits for the peer's close
// frame once its own side is closed. Zero waits indefinitely.
func WithCloseTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.closeTimeout = d
	}
}

// WithID overrides the generated session id used in logs.
func WithID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

// Session owns one connection for its whole lifetime: it authenticates,
// runs the send and receive workers and the interactive loop, and releases
// the connection once both workers have returned.
type Session struct {
	id      string
	conn    Conn
	console Console
	logger  *zap.Logger
	queue   *Queue

	authEvent    string
	pingPayload  []byte
	closeTimeout time.Duration

	state atomic.Int32
}

// NewSession creates a session over a ready connection.
func NewSession(conn Conn, console Console, logger *zap.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		id:           uuid.NewString(),
		conn:         conn,
		console:      console,
		queue:        NewQueue(),
		authEvent:    protocol.DefaultAuthEvent,
		pingPayload:  []byte(DefaultPingPayload),
		closeTimeout: DefaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.With(zap.String("session", s.id), zap.String("remote", conn.RemoteAddr()))
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// advance moves the session forward to state; it never moves backwards.
func (s *Session) advance(to State) {
	for {
		cur := s.state.Load()
		if cur >= int32(to) {
			return
		}
		if s.state.CompareAndSwap(cur, int32(to)) {
			s.logger.Debug("Session state changed", zap.Stringer("from", State(cur)), zap.Stringer("to", to))
			return
		}
	}
}

// Run authenticates with token and drives the session until both workers
// have returned. Worker failures are logged and the first one is returned;
// they never abort the join.
func (s *Session) Run(ctx context.Context, token string) error {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthenticating)) {
		return ErrSessionUsed
	}

	auth, err := protocol.AuthEnvelope(s.authEvent, token)
	if err == nil {
		err = s.queue.Push(protocol.Text(auth))
	}
	if err != nil {
		_ = s.conn.Close()
		s.advance(StateClosed)
		return fmt.Errorf("failed to queue authentication: %w", err)
	}
	s.advance(StateActive)
	s.logger.Info("Session started")

	sendDone := make(chan struct{})
	recvDone := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		defer close(sendDone)
		defer s.advance(StateClosing)
		return NewSender(s.conn, s.queue, s.logger).Run(ctx)
	})
	g.Go(func() error {
		defer close(recvDone)
		defer s.advance(StateClosing)
		return NewReceiver(s.conn, s.queue, s.console, s.logger).Run()
	})
	g.Go(func() error {
		s.awaitPeerClose(sendDone, recvDone)
		return nil
	})

	s.interact(ctx, sendDone)
	s.advance(StateClosing)

	s.logger.Info("Waiting for workers to exit")
	err = g.Wait()
	if err != nil {
		s.logger.Warn("Session ended with error", zap.Error(err))
	}

	if cerr := s.conn.Close(); cerr != nil {
		s.logger.Debug("Failed to close connection", zap.Error(cerr))
	}
	s.advance(StateClosed)
	s.logger.Info("Session closed")
	return err
}

// interact turns console input into frames until the user closes the
// session, input ends, or the send worker has stopped.
func (s *Session) interact(ctx context.Context, sendDone <-chan struct{}) {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sendDone:
			cancel()
		case <-loopCtx.Done():
		}
	}()

	for {
		event, err := s.console.Prompt(loopCtx, PromptEvent)
		if err != nil {
			s.stopInput(ctx, sendDone, err)
			return
		}
		if event == "" {
			continue
		}

		data, err := s.console.Prompt(loopCtx, PromptData)
		if err != nil {
			s.stopInput(ctx, sendDone, err)
			return
		}

		var f protocol.Frame
		switch event {
		case EventClose:
			if err := s.queue.Push(protocol.Close("")); err != nil {
				s.logger.Warn("Failed to queue close frame", zap.Error(err))
			}
			return

		case EventPing:
			f = protocol.Ping(s.pingPayload)

		default:
			body, err := protocol.ValidateData(data)
			if err != nil {
				s.console.Notice(err.Error())
				continue
			}
			envelope, err := protocol.EventEnvelope(event, body)
			if err != nil {
				s.console.Notice(err.Error())
				continue
			}
			s.console.Outgoing(envelope)
			f = protocol.Text(envelope)
		}

		if err := s.queue.Push(f); err != nil {
			s.logger.Warn("Failed to queue frame", zap.Stringer("kind", f.Kind), zap.Error(err))
			return
		}
	}
}

// stopInput handles the end of console input. Unless the stream is already
// closed, it asks the send worker to close our side.
func (s *Session) stopInput(ctx context.Context, sendDone <-chan struct{}, err error) {
	select {
	case <-sendDone:
		s.logger.Info("Stream closed, leaving interactive loop")
		return
	default:
	}

	switch {
	case errors.Is(err, io.EOF):
		s.logger.Info("End of input, closing stream")
	case ctx.Err() != nil:
		s.logger.Info("Interrupted, closing stream", zap.Error(ctx.Err()))
	default:
		s.logger.Error("Failed to read input", zap.Error(err))
	}

	if err := s.queue.Push(protocol.Close("")); err != nil {
		s.logger.Debug("Close not queued", zap.Error(err))
	}
}

// awaitPeerClose interrupts the receive worker when the peer has not closed
// the stream within closeTimeout after our side stopped sending.
func (s *Session) awaitPeerClose(sendDone, recvDone <-chan struct{}) {
	select {
	case <-recvDone:
		return
	case <-sendDone:
	}
	if s.closeTimeout <= 0 {
		return
	}

	timer := time.NewTimer(s.closeTimeout)
	defer timer.Stop()

	select {
	case <-recvDone:
	case <-timer.C:
		s.logger.Warn("Peer did not close the stream in time", zap.Duration("timeout", s.closeTimeout))
		if err := s.conn.SetReadDeadline(time.Now()); err != nil {
			s.logger.Warn("Failed to interrupt receive loop", zap.Error(err))
		}
	}
}
