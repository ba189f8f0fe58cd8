package stream_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/tine/internal/stream"
	"github.com/omochice/tine/pkg/protocol"
)

func TestQueue_FIFO(t *testing.T) {
	q := stream.NewQueue()
	for i := 0; i < 100; i++ {
		require.NoError(t, q.Push(protocol.Text(fmt.Sprint(i))))
	}
	assert.Equal(t, 100, q.Len())

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		f, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), string(f.Payload))
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_ConcurrentProducersKeepTheirOrder(t *testing.T) {
	const producers, perProducer = 8, 200
	q := stream.NewQueue()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.Push(protocol.Text(fmt.Sprintf("%d:%d", p, i)))
			}
		}(p)
	}

	next := make([]int, producers)
	ctx := context.Background()
	for n := 0; n < producers*perProducer; n++ {
		f, err := q.Pop(ctx)
		require.NoError(t, err)

		var p, i int
		_, err = fmt.Sscanf(string(f.Payload), "%d:%d", &p, &i)
		require.NoError(t, err)
		require.Equal(t, next[p], i, "producer %d out of order", p)
		next[p]++
	}
	wg.Wait()
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := stream.NewQueue()

	got := make(chan protocol.Frame, 1)
	go func() {
		f, err := q.Pop(context.Background())
		if err == nil {
			got <- f
		}
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before anything was pushed")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.Push(protocol.Text("late")))
	select {
	case f := <-got:
		assert.Equal(t, "late", string(f.Payload))
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up")
	}
}

func TestQueue_CloseDrainsThenFails(t *testing.T) {
	q := stream.NewQueue()
	require.NoError(t, q.Push(protocol.Text("a")))
	require.NoError(t, q.Push(protocol.Text("b")))

	q.Close()
	q.Close()
	assert.True(t, q.Closed())
	assert.ErrorIs(t, q.Push(protocol.Text("c")), stream.ErrQueueClosed)

	ctx := context.Background()
	f, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", string(f.Payload))
	f, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", string(f.Payload))

	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, stream.ErrQueueClosed)
}

func TestQueue_CloseWakesBlockedPop(t *testing.T) {
	q := stream.NewQueue()

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, stream.ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("Pop was not woken by Close")
	}
}

func TestQueue_PopContextCancelled(t *testing.T) {
	q := stream.NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_TryPop(t *testing.T) {
	q := stream.NewQueue()

	_, ok := q.TryPop()
	assert.False(t, ok)

	require.NoError(t, q.Push(protocol.Text("a")))
	q.Close()

	f, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, protocol.Text("a"), f)

	_, ok = q.TryPop()
	assert.False(t, ok)
}
