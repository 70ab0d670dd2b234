package network

import (
	"sync"

	"github.com/banshee-data/facetrack/internal/osc"
)

// InboundQueue is the hand-off between the receive goroutine (the only
// producer) and the frame goroutine (the only consumer). It is unbounded:
// the consumer drains it every frame, so depth tracks one frame of traffic.
type InboundQueue struct {
	mu    sync.Mutex
	items []osc.Message
}

// NewInboundQueue returns an empty queue.
func NewInboundQueue() *InboundQueue {
	return &InboundQueue{}
}

// Push appends messages in order.
func (q *InboundQueue) Push(msgs ...osc.Message) {
	if len(msgs) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, msgs...)
	q.mu.Unlock()
}

// Drain removes and returns everything queued at the moment of the call.
// Messages pushed while the caller processes the batch wait for the next
// Drain, which bounds the work done per frame.
func (q *InboundQueue) Drain() []osc.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.items
	q.items = nil
	return batch
}

// Len returns the current queue depth.
func (q *InboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
