// Package ws provides the WebSocket transport for the event stream, built on
// gobwas/ws frame primitives.
package ws

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"

	"github.com/omochice/tine/pkg/protocol"
)

var (
	// ErrProtocol is returned when the peer violates the framing rules.
	ErrProtocol = errors.New("websocket protocol error")

	// ErrControlTooLarge is returned when a control frame payload exceeds 125 bytes.
	ErrControlTooLarge = errors.New("control frame payload too large")

	// ErrReadLimit is returned when an inbound message exceeds the read limit.
	// It is always reported together with ErrProtocol.
	ErrReadLimit = errors.New("read limit exceeded")
)

// DefaultReadLimit is the largest inbound message accepted unless changed
// with SetReadLimit.
const DefaultReadLimit int64 = 16 << 20

// Role selects the masking rules applied to a connection.
type Role int

const (
	// ClientSide masks every written frame.
	ClientSide Role = iota
	// ServerSide writes unmasked frames.
	ServerSide
)

// Conn is a frame-level WebSocket connection.
// ReadFrame and WriteFrame may be used from two different goroutines, but
// neither may be called concurrently with itself.
type Conn struct {
	conn       net.Conn
	reader     io.Reader
	writer     *bufio.Writer
	role       Role
	remoteAddr string
	readLimit  int64

	// fragmented data message being assembled
	fragments  []byte
	fragmentOp ws.OpCode
}

// DialOption configures Dial.
type DialOption func(*ws.Dialer)

// WithTimeout bounds the time spent on connection setup and the opening handshake.
func WithTimeout(timeout time.Duration) DialOption {
	return func(d *ws.Dialer) {
		d.Timeout = timeout
	}
}

// WithHeader adds HTTP headers to the opening handshake request.
func WithHeader(h http.Header) DialOption {
	return func(d *ws.Dialer) {
		d.Header = ws.HandshakeHeaderHTTP(h)
	}
}

// Dial connects to endpoint and completes the opening handshake.
func Dial(ctx context.Context, endpoint string, opts ...DialOption) (*Conn, error) {
	var dialer ws.Dialer
	for _, opt := range opts {
		opt(&dialer)
	}

	conn, br, _, err := dialer.Dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	var buffered []byte
	if br != nil {
		buffered = drain(br)
		ws.PutReader(br)
	}

	return newConn(conn, buffered, ClientSide, conn.RemoteAddr().String()), nil
}

// NewConn wraps an established connection whose handshake is complete.
func NewConn(conn net.Conn, role Role) *Conn {
	return newConn(conn, nil, role, conn.RemoteAddr().String())
}

func newConn(conn net.Conn, buffered []byte, role Role, addr string) *Conn {
	var r io.Reader = conn
	if len(buffered) > 0 {
		r = io.MultiReader(bytes.NewReader(buffered), conn)
	}
	return &Conn{
		conn:       conn,
		reader:     r,
		writer:     bufio.NewWriter(conn),
		role:       role,
		remoteAddr: addr,
		readLimit:  DefaultReadLimit,
	}
}

// drain copies the bytes already buffered in br.
func drain(br *bufio.Reader) []byte {
	n := br.Buffered()
	if n == 0 {
		return nil
	}
	peeked, _ := br.Peek(n)
	return append([]byte(nil), peeked...)
}

// SetReadLimit sets the maximum size in bytes of an inbound message, counting
// every fragment of a fragmented message. Must not be called concurrently
// with ReadFrame.
func (c *Conn) SetReadLimit(limit int64) {
	c.readLimit = limit
}

// ReadFrame reads the next frame. Control frames are returned as soon as they
// arrive, fragmented data messages are returned once complete.
// Returns io.EOF when the peer closed the underlying connection.
func (c *Conn) ReadFrame() (protocol.Frame, error) {
	for {
		f, err := c.readWireFrame()
		if err != nil {
			return protocol.Frame{}, err
		}

		op := f.Header.OpCode
		if op.IsControl() {
			return controlFrame(f), nil
		}

		switch op {
		case ws.OpContinuation:
			if c.fragments == nil {
				return protocol.Frame{}, fmt.Errorf("%w: unexpected continuation frame", ErrProtocol)
			}
			if int64(len(c.fragments))+int64(len(f.Payload)) > c.readLimit {
				c.fragments = nil
				return protocol.Frame{}, fmt.Errorf("%w: %w: fragmented message over %d bytes", ErrProtocol, ErrReadLimit, c.readLimit)
			}
			c.fragments = append(c.fragments, f.Payload...)
			if !f.Header.Fin {
				continue
			}
			payload := c.fragments
			c.fragments = nil
			return dataFrame(c.fragmentOp, payload), nil

		case ws.OpText, ws.OpBinary:
			if c.fragments != nil {
				return protocol.Frame{}, fmt.Errorf("%w: data frame inside fragmented message", ErrProtocol)
			}
			if !f.Header.Fin {
				c.fragmentOp = op
				c.fragments = append(make([]byte, 0, len(f.Payload)), f.Payload...)
				continue
			}
			return dataFrame(op, f.Payload), nil

		default:
			return protocol.Frame{}, fmt.Errorf("%w: unknown opcode %#x", ErrProtocol, byte(op))
		}
	}
}

// readWireFrame reads one frame, checking the announced length before the
// payload is allocated.
func (c *Conn) readWireFrame() (ws.Frame, error) {
	h, err := ws.ReadHeader(c.reader)
	if err != nil {
		return ws.Frame{}, err
	}
	if h.OpCode.IsControl() && h.Length > ws.MaxControlFramePayloadSize {
		return ws.Frame{}, fmt.Errorf("%w: %s frame of %d bytes", ErrProtocol, opName(h.OpCode), h.Length)
	}
	if h.Length > c.readLimit {
		return ws.Frame{}, fmt.Errorf("%w: %w: frame of %d bytes, limit %d", ErrProtocol, ErrReadLimit, h.Length, c.readLimit)
	}

	payload := make([]byte, int(h.Length))
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return ws.Frame{}, fmt.Errorf("%w: truncated frame payload", ErrProtocol)
		}
		return ws.Frame{}, err
	}

	f := ws.Frame{Header: h, Payload: payload}
	if h.Masked {
		f = ws.UnmaskFrameInPlace(f)
	}
	return f, nil
}

func opName(op ws.OpCode) string {
	switch op {
	case ws.OpPing:
		return "ping"
	case ws.OpPong:
		return "pong"
	case ws.OpClose:
		return "close"
	default:
		return fmt.Sprintf("opcode %#x", byte(op))
	}
}

func controlFrame(f ws.Frame) protocol.Frame {
	switch f.Header.OpCode {
	case ws.OpPing:
		return protocol.Ping(f.Payload)
	case ws.OpPong:
		return protocol.Pong(f.Payload)
	default:
		if len(f.Payload) < 2 {
			return protocol.Frame{Kind: protocol.KindClose, Code: protocol.CloseNoStatus}
		}
		code, reason := ws.ParseCloseFrameData(f.Payload)
		out := protocol.Frame{Kind: protocol.KindClose, Code: protocol.CloseCode(code)}
		if reason != "" {
			out.Payload = []byte(reason)
		}
		return out
	}
}

func dataFrame(op ws.OpCode, payload []byte) protocol.Frame {
	if op == ws.OpBinary {
		return protocol.Binary(payload)
	}
	return protocol.Frame{Kind: protocol.KindText, Payload: payload}
}

// WriteFrame writes f as a single WebSocket frame.
func (c *Conn) WriteFrame(f protocol.Frame) error {
	frame, err := toWire(f)
	if err != nil {
		return err
	}
	if c.role == ClientSide {
		frame = ws.MaskFrameInPlace(frame)
	}
	if err := ws.WriteFrame(c.writer, frame); err != nil {
		return err
	}
	return c.writer.Flush()
}

// toWire converts f to a gobwas frame over a private copy of the payload,
// so masking never touches the caller's bytes.
func toWire(f protocol.Frame) (ws.Frame, error) {
	payload := append([]byte(nil), f.Payload...)

	if f.Kind.IsControl() {
		size := len(payload)
		if f.Kind == protocol.KindClose {
			size += 2
		}
		if size > ws.MaxControlFramePayloadSize {
			return ws.Frame{}, fmt.Errorf("%w: %s frame with %d bytes", ErrControlTooLarge, f.Kind, size)
		}
	}

	switch f.Kind {
	case protocol.KindText:
		return ws.NewTextFrame(payload), nil
	case protocol.KindBinary:
		return ws.NewBinaryFrame(payload), nil
	case protocol.KindPing:
		return ws.NewPingFrame(payload), nil
	case protocol.KindPong:
		return ws.NewPongFrame(payload), nil
	case protocol.KindClose:
		if f.Code == protocol.CloseNoStatus {
			return ws.NewCloseFrame(nil), nil
		}
		code := ws.StatusCode(f.Code)
		if code == 0 {
			code = ws.StatusNormalClosure
		}
		return ws.NewCloseFrame(ws.NewCloseFrameBody(code, string(payload))), nil
	default:
		return ws.Frame{}, fmt.Errorf("cannot write frame of kind %s", f.Kind)
	}
}

// SetReadDeadline sets the deadline for pending and future ReadFrame calls.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close closes the underlying connection without a closing handshake.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the remote address for logging.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}
