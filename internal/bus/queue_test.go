package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue[string]()

	for _, v := range []string{"first", "second", "third"} {
		require.NoError(t, q.Push(v))
	}
	require.Equal(t, 3, q.Len())

	for _, expected := range []string{"first", "second", "third"} {
		v, ok := q.TryPop()
		require.True(t, ok)
		require.Equal(t, expected, v)
	}

	_, ok := q.TryPop()
	require.False(t, ok, "queue should be empty")
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewQueue[int]()

	result := make(chan int, 1)
	go func() {
		v, err := q.Pop(context.Background())
		if err == nil {
			result <- v
		}
	}()

	select {
	case <-result:
		require.Fail(t, "Pop returned before Push")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.Push(7))

	select {
	case v := <-result:
		require.Equal(t, 7, v)
	case <-time.After(time.Second):
		require.Fail(t, "timeout waiting for Pop")
	}
}

func TestQueue_PopRespectsContext(t *testing.T) {
	q := NewQueue[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_CloseDrainsThenFails(t *testing.T) {
	q := NewQueue[int]()
	require.NoError(t, q.Push(1))
	q.Close()
	q.Close() // idempotent

	require.ErrorIs(t, q.Push(2), ErrQueueClosed)

	v, err := q.Pop(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, v)

	_, err = q.Pop(context.Background())
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_Drain(t *testing.T) {
	q := NewQueue[int]()
	require.Empty(t, q.Drain())

	for i := range 4 {
		require.NoError(t, q.Push(i))
	}
	require.Equal(t, []int{0, 1, 2, 3}, q.Drain())
	require.Equal(t, 0, q.Len())
}

func TestQueue_ConcurrentPushPreservesPerProducerOrder(t *testing.T) {
	q := NewQueue[string]()

	const producers = 8
	const perProducer = 200

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := range perProducer {
				_ = q.Push(fmt.Sprintf("%d:%d", p, i))
			}
		}(p)
	}
	wg.Wait()

	require.Equal(t, producers*perProducer, q.Len())

	next := make(map[int]int)
	for {
		v, ok := q.TryPop()
		if !ok {
			break
		}
		var p, i int
		_, err := fmt.Sscanf(v, "%d:%d", &p, &i)
		require.NoError(t, err)
		require.Equal(t, next[p], i, "producer %d out of order", p)
		next[p]++
	}
}

func TestQueue_ReadySignalsEveryPendingEntry(t *testing.T) {
	q := NewQueue[int]()
	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))

	<-q.Ready()
	_, ok := q.TryPop()
	require.True(t, ok)

	// The second entry must leave a token behind for the next waiter.
	select {
	case <-q.Ready():
	case <-time.After(100 * time.Millisecond):
		require.Fail(t, "expected ready token for remaining entry")
	}
}
