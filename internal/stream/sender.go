package stream

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/omochice/tine/pkg/protocol"
)

// Sender drains the outbound queue onto the connection. It is the only
// writer of the connection.
type Sender struct {
	w      FrameWriter
	queue  *Queue
	logger *zap.Logger
}

// NewSender creates a Sender writing frames from q to w.
func NewSender(w FrameWriter, q *Queue, logger *zap.Logger) *Sender {
	return &Sender{w: w, queue: q, logger: logger.Named("send")}
}

// Run writes queued frames in order until a close frame has been written,
// a write fails, the queue is closed or ctx is done. When ctx is done the
// frames already queued are still written before the close frame.
// A nil error means a close frame was written in the normal course. The
// queue is closed on return, so frames pushed afterwards are rejected
// instead of silently dropped.
func (s *Sender) Run(ctx context.Context) error {
	defer s.queue.Close()

	for {
		f, err := s.queue.Pop(ctx)
		if err != nil {
			// The queue is only closed from outside when every producer has
			// gone away; a Session never does that while the Sender runs.
			if errors.Is(err, ErrQueueClosed) {
				s.logger.Info("Outbound queue closed")
				return fmt.Errorf("send loop: %w", err)
			}
			s.logger.Info("Send loop cancelled", zap.Error(err), zap.Int("pending", s.queue.Len()))
			s.flush()
			return fmt.Errorf("send loop: %w", err)
		}

		if err := s.w.WriteFrame(f); err != nil {
			s.logger.Error("Failed to write frame", zap.Stringer("kind", f.Kind), zap.Error(err))
			if f.Kind != protocol.KindClose {
				s.writeClose()
			}
			return fmt.Errorf("failed to write %s frame: %w", f.Kind, err)
		}
		s.logger.Debug("Frame written", zap.Stringer("kind", f.Kind), zap.Int("size", len(f.Payload)))

		if f.Kind == protocol.KindClose {
			s.logger.Info("Close frame sent")
			return nil
		}
	}
}

// flush writes the frames queued before cancellation, in order, and ends
// with a close frame unless one was among them.
func (s *Sender) flush() {
	s.queue.Close()
	for {
		f, ok := s.queue.TryPop()
		if !ok {
			break
		}
		if err := s.w.WriteFrame(f); err != nil {
			s.logger.Warn("Failed to flush frame", zap.Stringer("kind", f.Kind), zap.Error(err))
			if f.Kind != protocol.KindClose {
				s.writeClose()
			}
			return
		}
		if f.Kind == protocol.KindClose {
			return
		}
	}
	s.writeClose()
}

// writeClose makes a best-effort attempt to tell the peer we are leaving.
func (s *Sender) writeClose() {
	if err := s.w.WriteFrame(protocol.Close("")); err != nil {
		s.logger.Debug("Failed to write close frame", zap.Error(err))
	}
}
