package tasks

import (
	"sync"
	"time"
)

// eventQueue is an unbounded in-order queue with timed pops. Producers
// never block, so the worker can always make progress even when no
// stream consumer is attached.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) Push(ev Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// PopTimeout returns the oldest event, waiting up to d for one to
// arrive. The second return is false on timeout.
func (q *eventQueue) PopTimeout(d time.Duration) (Event, bool) {
	deadline := time.Now().Add(d)
	for {
		q.mu.Lock()
		if len(q.events) > 0 {
			ev := q.events[0]
			q.events = q.events[1:]
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
		case <-q.signal:
			timer.Stop()
		case <-timer.C:
			return Event{}, false
		}
	}
}

func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
