package lifecycle

import (
	"testing"

	"github.com/BaSui01/webpilot/agent/persistence"
	"github.com/stretchr/testify/assert"
)

func TestBroadcaster_KeepsLatestForSlowSubscriber(t *testing.T) {
	b := NewBroadcaster(1)
	events, cancel := b.Subscribe("t1")
	defer cancel()

	b.Publish(&persistence.Task{ID: "t1", Status: persistence.StatusQueued})
	b.Publish(&persistence.Task{ID: "t1", Status: persistence.StatusRunning})
	b.Publish(&persistence.Task{ID: "other", Status: persistence.StatusError})

	snap := <-events
	assert.Equal(t, persistence.StatusRunning, snap.Status)
	assert.Len(t, events, 0)
}

func TestBroadcaster_CancelAndClose(t *testing.T) {
	b := NewBroadcaster(4)
	e1, cancel1 := b.Subscribe("t1")
	e2, _ := b.Subscribe("t1")
	assert.Equal(t, 2, b.Subscribers("t1"))

	cancel1()
	cancel1()
	_, ok := <-e1
	assert.False(t, ok)
	assert.Equal(t, 1, b.Subscribers("t1"))

	b.Close()
	_, ok = <-e2
	assert.False(t, ok)

	e3, cancel3 := b.Subscribe("t1")
	_, ok = <-e3
	assert.False(t, ok)
	cancel3()
	b.Publish(&persistence.Task{ID: "t1"})
}
