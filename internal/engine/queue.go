package engine

import (
	"sync"

	"github.com/meshsync/internal/event"
	"github.com/meshsync/internal/metrics"
)

// queue is a bounded FIFO between the session and the reducer loop. Pushing
// into a full queue drops the oldest event and flags a resync.
type queue struct {
	mu     sync.Mutex
	buf    []event.Event
	head   int
	size   int
	resync bool
	signal chan struct{}
}

func newQueue(capacity int) *queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &queue{buf: make([]event.Event, capacity), signal: make(chan struct{}, 1)}
}

func (q *queue) push(ev event.Event) {
	q.mu.Lock()
	if q.size == len(q.buf) {
		q.buf[q.head] = nil
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.resync = true
		metrics.QueueOverflow.Inc()
	}
	q.buf[(q.head+q.size)%len(q.buf)] = ev
	q.size++
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *queue) pop() (event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return nil, false
	}
	ev := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return ev, true
}

// takeResync reports and clears the overflow flag.
func (q *queue) takeResync() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	r := q.resync
	q.resync = false
	return r
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
