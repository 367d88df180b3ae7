package session

import (
	"math/rand"
	"sync"
	"time"
)

// backoff is bounded exponential with full jitter: attempt n waits a random
// duration in [min, min(max, min*factor^n)].
type backoff struct {
	min, max time.Duration
	factor   float64
	attempt  int

	mu  sync.Mutex
	rnd *rand.Rand
}

func newBackoff(min, max time.Duration) *backoff {
	if min <= 0 {
		min = 500 * time.Millisecond
	}
	if max < min {
		max = min
	}
	return &backoff{min: min, max: max, factor: 2, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// ceiling is the upper bound for the current attempt.
func (b *backoff) ceiling() time.Duration {
	c := float64(b.min)
	for i := 0; i < b.attempt && c < float64(b.max); i++ {
		c *= b.factor
	}
	if c > float64(b.max) {
		return b.max
	}
	return time.Duration(c)
}

// next returns the wait before the next attempt and advances the counter.
func (b *backoff) next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	ceil := b.ceiling()
	b.attempt++
	if ceil <= b.min {
		return b.min
	}
	return b.min + time.Duration(b.rnd.Int63n(int64(ceil-b.min)+1))
}

func (b *backoff) reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}

func (b *backoff) attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}
