package stream

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/omochice/tine/pkg/protocol"
)

// Receiver reads inbound frames and reacts to them. It never writes to the
// connection: pongs and close replies go through the outbound queue.
type Receiver struct {
	r      FrameReader
	queue  *Queue
	out    Printer
	logger *zap.Logger
}

// NewReceiver creates a Receiver reading from r.
func NewReceiver(r FrameReader, q *Queue, out Printer, logger *zap.Logger) *Receiver {
	return &Receiver{r: r, queue: q, out: out, logger: logger.Named("receive")}
}

// Run dispatches inbound frames until the peer closes the stream, reading
// fails or a pong cannot be queued. A nil error means the peer sent a close
// frame.
func (r *Receiver) Run() error {
	for {
		f, err := r.r.ReadFrame()
		if err != nil {
			r.notifyClose()
			if errors.Is(err, io.EOF) {
				r.logger.Warn("Stream ended without close frame")
			} else {
				r.logger.Error("Failed to read frame", zap.Error(err))
			}
			return fmt.Errorf("receive loop: %w", err)
		}

		switch f.Kind {
		case protocol.KindClose:
			r.logger.Info("Close frame received", zap.Uint16("code", uint16(f.Code)), zap.String("reason", f.Reason()))
			r.notifyClose()
			return nil

		case protocol.KindPing:
			if err := r.queue.Push(protocol.Pong(f.Payload)); err != nil {
				r.logger.Warn("Failed to queue pong", zap.Error(err))
				return fmt.Errorf("receive loop: %w", err)
			}

		case protocol.KindPong:
			r.logger.Debug("Pong received", zap.Int("size", len(f.Payload)))

		case protocol.KindText:
			r.out.Incoming(string(f.Payload))

		default:
			r.out.Incoming(f.String())
		}
	}
}

// notifyClose asks the send worker to close our side of the stream.
func (r *Receiver) notifyClose() {
	if err := r.queue.Push(protocol.Close("")); err != nil {
		r.logger.Debug("Close not queued", zap.Error(err))
	}
}
