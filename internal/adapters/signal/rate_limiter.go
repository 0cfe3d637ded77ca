package signal

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/huddle/internal/domain"
)

// rateLimiter is a sliding window of join attempts per room.
type rateLimiter struct {
	mu       sync.Mutex
	clock    clock.Clock
	history  map[domain.RoomID][]time.Time
	limit    int
	interval time.Duration
}

func newRateLimiter(clk clock.Clock, limit int, interval time.Duration) *rateLimiter {
	return &rateLimiter{
		clock:    clk,
		history:  make(map[domain.RoomID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *rateLimiter) Allow(room domain.RoomID) bool {
	if rl.limit <= 0 || rl.interval <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[room]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[room] = fresh
		return false
	}
	rl.history[room] = append(fresh, now)
	return true
}
