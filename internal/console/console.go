// Package console provides the line-oriented terminal used by the
// interactive session.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

type line struct {
	text string
	err  error
}

// Console reads input lines from in and writes prompts and stream output to out.
// Input is read by a background goroutine so that a pending prompt can be
// abandoned when its context is cancelled.
type Console struct {
	in  io.Reader
	out io.Writer

	mu    sync.Mutex // serializes writes to out
	once  sync.Once
	lines chan line
}

// New creates a Console.
func New(in io.Reader, out io.Writer) *Console {
	return &Console{
		in:    in,
		out:   out,
		lines: make(chan line),
	}
}

func (c *Console) start() {
	c.once.Do(func() {
		go func() {
			scanner := bufio.NewScanner(c.in)
			for scanner.Scan() {
				c.lines <- line{text: scanner.Text()}
			}
			err := scanner.Err()
			if err == nil {
				err = io.EOF
			}
			c.lines <- line{err: err}
			close(c.lines)
		}()
	})
}

// Prompt writes label and waits for the next line, returned without
// surrounding whitespace. It returns io.EOF once input is exhausted.
func (c *Console) Prompt(ctx context.Context, label string) (string, error) {
	c.write(label)
	c.start()

	select {
	case l, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		if l.err != nil {
			return "", l.err
		}
		return strings.TrimSpace(l.text), nil
	case <-ctx.Done():
		c.write("\n")
		return "", ctx.Err()
	}
}

// Incoming prints text received from the server.
func (c *Console) Incoming(text string) {
	c.write(fmt.Sprintf("\n<< %s\n", text))
}

// Outgoing prints text about to be sent to the server.
func (c *Console) Outgoing(text string) {
	c.write(fmt.Sprintf("\n>> %s\n", text))
}

// Notice prints a message that is not part of the stream.
func (c *Console) Notice(text string) {
	c.write(fmt.Sprintf("!! %s\n", text))
}

func (c *Console) write(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.out, s)
}
