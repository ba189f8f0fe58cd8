package console_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/tine/internal/console"
)

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestConsole_Prompt(t *testing.T) {
	out := &syncBuffer{}
	c := console.New(strings.NewReader("  foo  \n{\"x\":1}\n"), out)
	ctx := context.Background()

	event, err := c.Prompt(ctx, "Enter event type: ")
	require.NoError(t, err)
	assert.Equal(t, "foo", event)

	data, err := c.Prompt(ctx, "Enter event data (JSON): ")
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, data)

	_, err = c.Prompt(ctx, "Enter event type: ")
	assert.ErrorIs(t, err, io.EOF)

	_, err = c.Prompt(ctx, "Enter event type: ")
	assert.ErrorIs(t, err, io.EOF, "EOF is sticky")

	assert.True(t, strings.HasPrefix(out.String(), "Enter event type: Enter event data (JSON): "))
}

func TestConsole_PromptCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	c := console.New(pr, &syncBuffer{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Prompt(ctx, "> ")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConsole_Output(t *testing.T) {
	out := &syncBuffer{}
	c := console.New(strings.NewReader(""), out)

	c.Incoming(`{"event":"pong"}`)
	c.Outgoing(`{"event":"foo","data":1}`)
	c.Notice("invalid event data")

	assert.Equal(t,
		"\n<< {\"event\":\"pong\"}\n"+
			"\n>> {\"event\":\"foo\",\"data\":1}\n"+
			"!! invalid event data\n",
		out.String())
}
