package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskTypeOutbox_Constant(t *testing.T) {
	assert.Equal(t, "outbox:dispatch", TaskTypeOutbox)
}

func TestSyncQueue_ProcessesInBackground(t *testing.T) {
	q := NewSyncQueue()
	assert.False(t, q.IsAsync())

	var mu sync.Mutex
	var seen []string
	q.SetProcessor(func(ctx context.Context, task *OutboxTask) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, task.EventID)
		return nil
	})

	require.NoError(t, q.Enqueue(&OutboxTask{EventID: "e1", EventType: "trade.completed"}))
	require.NoError(t, q.Enqueue(&OutboxTask{EventID: "e2", EventType: "trade.completed"}))
	require.NoError(t, q.Close())

	assert.ElementsMatch(t, []string{"e1", "e2"}, seen)
}

func TestSyncQueue_WithoutProcessor(t *testing.T) {
	q := NewSyncQueue()
	assert.NoError(t, q.Enqueue(&OutboxTask{EventID: "e1"}))
	assert.NoError(t, q.Close())
}

func TestSyncQueue_DispatchesOutboxEvents(t *testing.T) {
	e := newTestEnv(t)
	q := NewSyncQueue()
	q.SetProcessor(e.outbox.Process)
	e.outbox.SetQueue(q)

	var handled sync.WaitGroup
	handled.Add(1)
	e.outbox.Handle("test.event", "probe", func(ctx context.Context, evt *OutboxEvent) error {
		handled.Done()
		return nil
	})

	id := recordEvent(t, e, "test.event")
	handled.Wait()
	require.NoError(t, q.Close())

	assert.Equal(t, OutboxDispatched, loadEvent(t, e, id).Status)
}
