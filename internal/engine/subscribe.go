package engine

import "github.com/meshsync/internal/metrics"

// Subscribe returns a channel of changes and a func that ends the
// subscription. A subscriber that falls behind loses its oldest pending
// changes; Revision lets it notice the gap and refetch.
func (e *Engine) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, e.subBuf)
	e.subsMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subsMu.Unlock()
	metrics.Subscribers.Inc()

	var done bool
	return ch, func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		if done {
			return
		}
		done = true
		delete(e.subs, id)
		close(ch)
		metrics.Subscribers.Dec()
	}
}

func (e *Engine) publish(c Change) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- c:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- c:
			default:
			}
		}
	}
}
