// Package stream implements the duplex event stream engine: an outbound
// queue drained by a send worker, a receive worker reacting to inbound
// frames, and the session controller tying both to the interactive loop.
package stream

import (
	"time"

	"github.com/omochice/tine/pkg/protocol"
)

// FrameReader reads inbound frames.
// ReadFrame returns io.EOF when the connection is closed.
type FrameReader interface {
	ReadFrame() (protocol.Frame, error)
}

// FrameWriter writes outbound frames.
type FrameWriter interface {
	WriteFrame(f protocol.Frame) error
}

// Conn abstracts the shared connection. Only the receive worker reads and
// only the send worker writes.
type Conn interface {
	FrameReader
	FrameWriter

	// SetReadDeadline interrupts a blocked ReadFrame once t has passed.
	SetReadDeadline(t time.Time) error

	// Close releases the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

// Printer receives inbound text for display.
type Printer interface {
	Incoming(text string)
}
