package weather

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// rateLimiter admits at most limit requests in any rolling hour.
type rateLimiter struct {
	limit  int
	window time.Duration
	clock  clockwork.Clock

	mu   sync.Mutex
	sent []time.Time
}

func newRateLimiter(limit int, clock clockwork.Clock) *rateLimiter {
	return &rateLimiter{limit: limit, window: time.Hour, clock: clock}
}

// Allow records a request and reports true when the limit has room.
func (r *rateLimiter) Allow() bool {
	if r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.sent) && !r.sent[i].After(cutoff) {
		i++
	}
	r.sent = r.sent[i:]

	if len(r.sent) >= r.limit {
		return false
	}
	r.sent = append(r.sent, now)
	return true
}

// Remaining reports how many requests are left in the current hour.
func (r *rateLimiter) Remaining() int {
	if r.limit <= 0 {
		return -1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.clock.Now().Add(-r.window)
	used := 0
	for _, t := range r.sent {
		if t.After(cutoff) {
			used++
		}
	}
	return r.limit - used
}
