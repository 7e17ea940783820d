package channels

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
)

// ErrQueueClosed is returned by Dequeue once the queue is closed and empty.
var ErrQueueClosed = fmt.Errorf("dispatch queue is closed")

// Queue is the priority dispatch queue through which every producer hands
// messages to the worker. Enqueue never blocks; Dequeue blocks until a
// message is available, the context is cancelled, or the queue is closed.
type Queue struct {
	mu     sync.Mutex
	items  messageHeap
	seq    uint64
	closed bool

	// notify is closed and replaced on every Enqueue/Close so waiters
	// can select on it together with their context.
	notify chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{})}
}

// Enqueue adds a message. Messages enqueued after Close are dropped and
// false is returned.
func (q *Queue) Enqueue(msg *Message) bool {
	if msg == nil {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.seq++
	msg.seq = q.seq
	heap.Push(&q.items, msg)
	q.broadcastLocked()
	return true
}

// Dequeue removes and returns the highest precedence message, blocking
// until one is available.
func (q *Queue) Dequeue(ctx context.Context) (*Message, error) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			msg := heap.Pop(&q.items).(*Message)
			q.mu.Unlock()
			return msg, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// Len returns the number of pending messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Close stops accepting messages and wakes every waiter. Pending messages
// can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

func (q *Queue) broadcastLocked() {
	close(q.notify)
	q.notify = make(chan struct{})
}

// messageHeap implements heap.Interface ordered by Less.
type messageHeap []*Message

func (h messageHeap) Len() int           { return len(h) }
func (h messageHeap) Less(i, j int) bool { return Less(h[i], h[j]) }
func (h messageHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x any) { *h = append(*h, x.(*Message)) }

func (h *messageHeap) Pop() any {
	old := *h
	n := len(old)
	msg := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return msg
}
