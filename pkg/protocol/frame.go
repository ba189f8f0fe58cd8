// Package protocol defines the frames exchanged over the event stream and the
// JSON envelopes carried in text frames.
package protocol

import "fmt"

// Kind represents the kind of a frame
type Kind int

const (
	KindText Kind = iota
	KindBinary
	KindPing
	KindPong
	KindClose
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindText:
		return "TEXT"
	case KindBinary:
		return "BINARY"
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	case KindClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// IsControl reports whether frames of this kind are protocol control frames.
func (k Kind) IsControl() bool {
	return k == KindPing || k == KindPong || k == KindClose
}

// CloseCode is the status code carried by a close frame.
type CloseCode uint16

const (
	CloseNormal   CloseCode = 1000
	CloseNoStatus CloseCode = 1005
)

// Frame is the unit exchanged over the stream.
// For close frames Payload holds the optional reason.
type Frame struct {
	Kind    Kind
	Payload []byte
	Code    CloseCode
}

// Text creates a text frame.
func Text(s string) Frame {
	return Frame{Kind: KindText, Payload: []byte(s)}
}

// Binary creates a binary frame.
func Binary(p []byte) Frame {
	return Frame{Kind: KindBinary, Payload: p}
}

// Ping creates a ping frame carrying p.
func Ping(p []byte) Frame {
	return Frame{Kind: KindPing, Payload: p}
}

// Pong creates a pong frame carrying p.
func Pong(p []byte) Frame {
	return Frame{Kind: KindPong, Payload: p}
}

// Close creates a normal-closure close frame with an optional reason.
func Close(reason string) Frame {
	f := Frame{Kind: KindClose, Code: CloseNormal}
	if reason != "" {
		f.Payload = []byte(reason)
	}
	return f
}

// Reason returns the close reason of a close frame.
func (f Frame) Reason() string {
	if f.Kind != KindClose {
		return ""
	}
	return string(f.Payload)
}

// String returns a generic representation of the frame.
func (f Frame) String() string {
	switch f.Kind {
	case KindText:
		return fmt.Sprintf("Text(%q)", f.Payload)
	case KindClose:
		if f.Code == 0 {
			return "Close(None)"
		}
		return fmt.Sprintf("Close(%d, %q)", f.Code, f.Payload)
	default:
		return fmt.Sprintf("%s(%v)", f.Kind, f.Payload)
	}
}
