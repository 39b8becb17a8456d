package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/webpilot/agent/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForStatus(t *testing.T) {
	store := persistence.NewMemoryTaskStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &persistence.Task{
		ID:        "t1",
		Goal:      "g",
		Status:    persistence.StatusQueued,
		CreatedAt: time.Now(),
	}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = store.Update(ctx, "t1", func(task *persistence.Task) error {
			task.Status = persistence.StatusRunning
			return nil
		})
	}()

	got := WaitForStatus(t, store, "t1", persistence.StatusRunning, time.Second)
	assert.Equal(t, persistence.StatusRunning, got.Status)
}

func TestCollectStatuses(t *testing.T) {
	events := make(chan *persistence.Task, 2)
	events <- &persistence.Task{Status: persistence.StatusQueued}
	events <- &persistence.Task{Status: persistence.StatusRunning}

	seen := CollectStatuses(t, events, 2, time.Second)
	assert.Equal(t, []persistence.TaskStatus{persistence.StatusQueued, persistence.StatusRunning}, seen)
}

func TestWaitForChannel(t *testing.T) {
	ch := make(chan int, 1)
	_, ok := WaitForChannel(ch, 10*time.Millisecond)
	assert.False(t, ok)

	ch <- 7
	v, ok := WaitForChannel(ch, time.Second)
	assert.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestContextHelpers(t *testing.T) {
	ctx := TestContext(t)
	_, hasDeadline := ctx.Deadline()
	assert.True(t, hasDeadline)
	assert.Error(t, CancelledContext().Err())
}
