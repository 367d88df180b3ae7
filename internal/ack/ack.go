// Package ack holds the delivery state machine for outgoing messages and the
// deadline bookkeeping behind the timeout watchdog.
package ack

import (
	"sort"
	"sync"
	"time"

	"github.com/meshsync/internal/model"
)

// Transition applies next to cur. It returns the resulting status and
// whether anything changed. pending may move to any of ack, implicit_ack,
// nak or failed; every other status is final.
func Transition(cur, next model.AckStatus) (model.AckStatus, bool) {
	if cur != model.AckPending {
		return cur, false
	}
	switch next {
	case model.AckConfirmed, model.AckImplicit, model.AckNak, model.AckFailed:
		return next, true
	}
	return cur, false
}

// DefaultTimeout is how long an outgoing message may stay pending before the
// watchdog reports it as failed.
const DefaultTimeout = 2 * time.Minute

// Tracker records when each pending packet was sent.
type Tracker struct {
	mu       sync.Mutex
	timeout  time.Duration
	deadline map[model.PacketID]time.Time
}

func NewTracker(timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{timeout: timeout, deadline: make(map[model.PacketID]time.Time)}
}

func (t *Tracker) Timeout() time.Duration { return t.timeout }

// Track starts the clock for id. Tracking an id twice keeps the first
// deadline.
func (t *Tracker) Track(id model.PacketID, sentAt time.Time) {
	if id == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.deadline[id]; ok {
		return
	}
	t.deadline[id] = sentAt.Add(t.timeout)
}

// Resolve stops tracking id.
func (t *Tracker) Resolve(id model.PacketID) {
	t.mu.Lock()
	delete(t.deadline, id)
	t.mu.Unlock()
}

// Pending returns the number of tracked packets.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.deadline)
}

// Expired removes and returns the ids whose deadline is at or before now,
// oldest deadline first.
func (t *Tracker) Expired(now time.Time) []model.PacketID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []model.PacketID
	for id, dl := range t.deadline {
		if !dl.After(now) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := t.deadline[out[i]], t.deadline[out[j]]
		if di.Equal(dj) {
			return out[i] < out[j]
		}
		return di.Before(dj)
	})
	for _, id := range out {
		delete(t.deadline, id)
	}
	return out
}
