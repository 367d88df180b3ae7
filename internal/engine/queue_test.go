package engine

import (
	"testing"

	"github.com/meshsync/internal/event"
)

func TestQueue_FIFO(t *testing.T) {
	q := newQueue(4)
	for i := 1; i <= 3; i++ {
		q.push(event.StatusUpdated{MyNodeID: string(rune('a' + i))})
	}
	for i := 1; i <= 3; i++ {
		ev, ok := q.pop()
		if !ok || ev.(event.StatusUpdated).MyNodeID != string(rune('a'+i)) {
			t.Fatalf("pop %d = %v %v", i, ev, ok)
		}
	}
	if _, ok := q.pop(); ok {
		t.Error("pop on empty queue")
	}
	if q.takeResync() {
		t.Error("resync without overflow")
	}
}

func TestQueue_OverflowDropsOldest(t *testing.T) {
	q := newQueue(2)
	q.push(event.StatusUpdated{MyNodeID: "1"})
	q.push(event.StatusUpdated{MyNodeID: "2"})
	q.push(event.StatusUpdated{MyNodeID: "3"})

	if q.len() != 2 {
		t.Fatalf("len = %d", q.len())
	}
	ev, _ := q.pop()
	if ev.(event.StatusUpdated).MyNodeID != "2" {
		t.Errorf("oldest kept = %v, want 2", ev)
	}
	if !q.takeResync() {
		t.Error("overflow must flag resync")
	}
	if q.takeResync() {
		t.Error("takeResync must clear the flag")
	}
}
