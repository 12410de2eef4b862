package eventstore

import (
	"context"
	"sync"
	"time"
)

// eventQueue is the unbounded FIFO shared between producers and the
// single writer goroutine. Push never blocks and never fails; Pop waits
// up to a short interval so the writer can re-check its drain flag
// without busy-spinning.
type eventQueue struct {
	mu    sync.Mutex
	items []Event

	// wake is a 1-buffered signal so a sleeping Pop notices a Push
	// without producers ever blocking on delivery.
	wake chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1)}
}

// Push appends an event and returns the resulting queue length.
func (q *eventQueue) Push(ev Event) int {
	q.mu.Lock()
	q.items = append(q.items, ev)
	n := len(q.items)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return n
}

// Pop removes the oldest event, waiting up to wait for one to arrive.
// It returns false when the wait elapses or ctx is cancelled.
func (q *eventQueue) Pop(ctx context.Context, wait time.Duration) (Event, bool) {
	deadline := time.Now().Add(wait)
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, true
		}
		q.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Event{}, false
		}

		timer := time.NewTimer(remaining)
		select {
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
			return Event{}, false
		case <-ctx.Done():
			timer.Stop()
			return Event{}, false
		}
	}
}

// Len returns the number of pending events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
