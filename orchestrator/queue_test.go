package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/ralph/webhook"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 5; i++ {
		q.Enqueue(&webhook.Envelope{EventID: fmt.Sprintf("e%d", i)})
	}
	assert.Equal(t, 5, q.Len())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		env, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("e%d", i), env.EventID)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := NewQueue()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				q.Enqueue(&webhook.Envelope{EventID: fmt.Sprintf("p%d-%d", n, j)})
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 200, q.Len())

	seen := map[string]bool{}
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		env, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.False(t, seen[env.EventID], "no envelope may be delivered twice")
		seen[env.EventID] = true
	}
}

func TestQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewQueue()
	got := make(chan *webhook.Envelope, 1)
	go func() {
		env, err := q.Dequeue(context.Background())
		if err == nil {
			got <- env
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(&webhook.Envelope{EventID: "late"})

	select {
	case env := <-got:
		assert.Equal(t, "late", env.EventID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake on enqueue")
	}
}

func TestQueue_DequeueHonorsContext(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
