package app

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ConnectLimiter caps how many sockets one client may open per window:
// a token bucket per key, holding limit tokens and refilling one every
// interval/limit.
type ConnectLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewConnectLimiter(limit int, interval time.Duration) *ConnectLimiter {
	return &ConnectLimiter{
		buckets:  make(map[string]*rate.Limiter),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow takes a token for key and reports whether one was available.
// A non-positive limit allows everything.
func (rl *ConnectLimiter) Allow(key string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		every := rate.Inf
		if rl.interval > 0 {
			every = rate.Every(rl.interval / time.Duration(rl.limit))
		}
		b = rate.NewLimiter(every, rl.limit)
		rl.buckets[key] = b
	}
	return b.AllowN(rl.now(), 1)
}
