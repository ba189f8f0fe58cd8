package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/eapache/queue"

	"github.com/omochice/tine/pkg/protocol"
)

// ErrQueueClosed is returned by Push after Close, and by Pop once a closed
// queue has been drained.
var ErrQueueClosed = errors.New("outbound queue closed")

// Queue is an unbounded FIFO of outbound frames with many producers and a
// single consumer.
type Queue struct {
	mu     sync.Mutex
	frames *queue.Queue
	closed bool

	// ready holds at most one wake-up for the consumer.
	ready chan struct{}
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{
		frames: queue.New(),
		ready:  make(chan struct{}, 1),
	}
}

// Push appends f. Concurrent pushes are serialized; each producer's frames
// keep their relative order.
func (q *Queue) Push(f protocol.Frame) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.frames.Add(f)
	q.wake()
	return nil
}

// Pop removes and returns the oldest frame, blocking while the queue is empty.
// Frames pushed before Close are still returned; afterwards Pop reports
// ErrQueueClosed. A done ctx takes precedence over queued frames.
func (q *Queue) Pop(ctx context.Context) (protocol.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return protocol.Frame{}, err
		}

		q.mu.Lock()
		if q.frames.Length() > 0 {
			f := q.frames.Remove().(protocol.Frame)
			q.mu.Unlock()
			return f, nil
		}
		if q.closed {
			q.mu.Unlock()
			return protocol.Frame{}, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return protocol.Frame{}, ctx.Err()
		}
	}
}

// TryPop removes and returns the oldest frame without blocking. It reports
// false when the queue is empty.
func (q *Queue) TryPop() (protocol.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.frames.Length() == 0 {
		return protocol.Frame{}, false
	}
	return q.frames.Remove().(protocol.Frame), true
}

// Close stops accepting frames. It is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.wake()
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.frames.Length()
}

func (q *Queue) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
