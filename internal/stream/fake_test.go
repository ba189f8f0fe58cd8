package stream_test

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omochice/tine/pkg/protocol"
)

// fakeConn is an in-memory stream.Conn. Inbound frames are fed through
// inbound; every written frame is recorded and published on writes.
type fakeConn struct {
	inbound chan protocol.Frame
	writes  chan protocol.Frame

	mu       sync.Mutex
	written  []protocol.Frame
	writeErr error
	onWrite  func(c *fakeConn, f protocol.Frame)

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	closeCalls  atomic.Int32

	interruptOnce sync.Once
	interrupt     chan struct{}
	closeOnce     sync.Once
	closed        chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound:   make(chan protocol.Frame, 64),
		writes:    make(chan protocol.Frame, 256),
		interrupt: make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

// replyClose makes the fake peer answer our close frame with its own.
func (c *fakeConn) replyClose() *fakeConn {
	c.onWrite = func(c *fakeConn, f protocol.Frame) {
		if f.Kind == protocol.KindClose {
			c.inbound <- protocol.Close("")
		}
	}
	return c
}

// echo makes the fake peer echo text frames and answer close frames.
func (c *fakeConn) echo() *fakeConn {
	c.onWrite = func(c *fakeConn, f protocol.Frame) {
		switch f.Kind {
		case protocol.KindText:
			c.inbound <- f
		case protocol.KindClose:
			c.inbound <- protocol.Close("")
		}
	}
	return c
}

func (c *fakeConn) ReadFrame() (protocol.Frame, error) {
	select {
	case f, ok := <-c.inbound:
		if !ok {
			return protocol.Frame{}, io.EOF
		}
		return f, nil
	case <-c.interrupt:
		return protocol.Frame{}, os.ErrDeadlineExceeded
	case <-c.closed:
		return protocol.Frame{}, net.ErrClosed
	}
}

func (c *fakeConn) WriteFrame(f protocol.Frame) error {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		peak := c.maxInFlight.Load()
		if n <= peak || c.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	// widen the window in which a second writer would be observed
	time.Sleep(100 * time.Microsecond)

	c.mu.Lock()
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}
	c.written = append(c.written, f)
	onWrite := c.onWrite
	c.mu.Unlock()

	c.writes <- f
	if onWrite != nil {
		onWrite(c, f)
	}
	return nil
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) Written() []protocol.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Frame(nil), c.written...)
}

func (c *fakeConn) SetReadDeadline(time.Time) error {
	c.interruptOnce.Do(func() { close(c.interrupt) })
	return nil
}

func (c *fakeConn) Close() error {
	c.closeCalls.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string {
	return "fake"
}

// fakeConsole scripts user input and records console output.
type fakeConsole struct {
	lines    chan string
	incoming chan string

	mu       sync.Mutex
	outgoing []string
	notices  []string
	prompts  []string
}

func newFakeConsole(lines ...string) *fakeConsole {
	c := &fakeConsole{
		lines:    make(chan string, 64),
		incoming: make(chan string, 64),
	}
	for _, l := range lines {
		c.lines <- l
	}
	return c
}

// endInput simulates end of input after the scripted lines.
func (c *fakeConsole) endInput() *fakeConsole {
	close(c.lines)
	return c
}

func (c *fakeConsole) Prompt(ctx context.Context, label string) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, label)
	c.mu.Unlock()

	select {
	case l, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return l, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *fakeConsole) Incoming(text string) {
	c.incoming <- text
}

func (c *fakeConsole) Outgoing(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outgoing = append(c.outgoing, text)
}

func (c *fakeConsole) Notice(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, text)
}

func (c *fakeConsole) Notices() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.notices...)
}

func (c *fakeConsole) Outgoings() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.outgoing...)
}

var errBrokenPipe = errors.New("broken pipe")
