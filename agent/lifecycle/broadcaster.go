package lifecycle

import (
	"sync"

	"github.com/BaSui01/webpilot/agent/persistence"
)

// Broadcaster fans task snapshots out to per-task subscribers.
// Slow subscribers lose intermediate snapshots but always see the latest.
type Broadcaster struct {
	mu     sync.Mutex
	buffer int
	subs   map[string]map[chan *persistence.Task]struct{}
	closed bool
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broadcaster{
		buffer: buffer,
		subs:   make(map[string]map[chan *persistence.Task]struct{}),
	}
}

// Subscribe returns a channel of snapshots for taskID and a cancel func.
// The channel is closed by cancel or Close.
func (b *Broadcaster) Subscribe(taskID string) (<-chan *persistence.Task, func()) {
	ch := make(chan *persistence.Task, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	set, ok := b.subs[taskID]
	if !ok {
		set = make(map[chan *persistence.Task]struct{})
		b.subs[taskID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[taskID]; ok {
				if _, ok := set[ch]; ok {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(b.subs, taskID)
				}
			}
		})
	}
}

// Publish delivers a snapshot without blocking.
func (b *Broadcaster) Publish(task *persistence.Task) {
	if task == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[task.ID] {
		snap := task.Clone()
		select {
		case ch <- snap:
			continue
		default:
		}
		// 丢弃最旧的快照，保证最新状态可达
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Subscribers returns the number of subscribers of taskID.
func (b *Broadcaster) Subscribers(taskID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[taskID])
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, id)
	}
}
