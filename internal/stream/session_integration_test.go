package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/omochice/tine/internal/stream"
	transport "github.com/omochice/tine/internal/transport/ws"
	"github.com/omochice/tine/pkg/protocol"
)

func TestSession_OverWebSocket(t *testing.T) {
	received := make(chan protocol.Frame, 16)
	handler := func(conn *transport.Conn) {
		for {
			f, err := conn.ReadFrame()
			if err != nil {
				return
			}
			received <- f
			switch f.Kind {
			case protocol.KindText:
				_ = conn.WriteFrame(f)
			case protocol.KindPing:
				_ = conn.WriteFrame(protocol.Pong(f.Payload))
			case protocol.KindClose:
				_ = conn.WriteFrame(protocol.Close(""))
				return
			}
		}
	}
	srv := transport.NewServer("127.0.0.1:0", handler, zaptest.NewLogger(t))
	require.NoError(t, srv.Start())
	defer srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := transport.Dial(ctx, srv.URL())
	require.NoError(t, err)

	console := newFakeConsole("ping", "", "foo", `{"x":1}`)
	s := stream.NewSession(conn, console, zaptest.NewLogger(t))
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx, "token-123")
	}()

	for _, want := range []string{authFrame, `{"event":"foo","data":{"x":1}}`} {
		select {
		case got := <-console.incoming:
			assert.Equal(t, want, got)
		case <-ctx.Done():
			t.Fatalf("did not print %s", want)
		}
	}

	console.lines <- "close"
	console.lines <- ""
	require.NoError(t, waitErr(t, errCh))

	close(received)
	var kinds []protocol.Kind
	var first protocol.Frame
	for f := range received {
		if len(kinds) == 0 {
			first = f
		}
		kinds = append(kinds, f.Kind)
	}
	assert.Equal(t, []protocol.Kind{protocol.KindText, protocol.KindPing, protocol.KindText, protocol.KindClose}, kinds)
	assert.Equal(t, authFrame, string(first.Payload))
	assert.Equal(t, stream.StateClosed, s.State())
}
