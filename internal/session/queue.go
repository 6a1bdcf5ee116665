package session

import (
	"sync"

	"github.com/bdougie/framekit/internal/models"
)

// eventQueue is an unbounded FIFO between a runner and its dispatcher.
// push never blocks so a slow listener cannot stall the runner.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []models.ProgressEvent
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *eventQueue) push(ev models.ProgressEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.events = append(q.events, ev)
	q.cond.Signal()
}

// pop blocks until an event is available. It returns false once the queue
// is closed and drained.
func (q *eventQueue) pop() (models.ProgressEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.events) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.events) == 0 {
		return models.ProgressEvent{}, false
	}
	ev := q.events[0]
	q.events[0] = models.ProgressEvent{}
	q.events = q.events[1:]
	return ev, true
}

func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
