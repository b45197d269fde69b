package signal

import (
	"sync"
	"time"
)

// OfferLimiter caps how many offers one subscriber may place within a
// sliding window. Offers without a subscriber number share one bucket.
type OfferLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
	swept    time.Time
}

func NewOfferLimiter(limit int, interval time.Duration) *OfferLimiter {
	return &OfferLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records an offer attempt. A non-positive limit disables limiting.
func (rl *OfferLimiter) Allow(msisdn string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)
	if now.Sub(rl.swept) >= rl.interval {
		rl.sweep(windowStart)
		rl.swept = now
	}

	attempts := rl.history[msisdn]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[msisdn] = fresh
		return false
	}
	rl.history[msisdn] = append(fresh, now)
	return true
}

// sweep forgets subscribers with no attempt inside the window.
func (rl *OfferLimiter) sweep(windowStart time.Time) {
	for msisdn, attempts := range rl.history {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(windowStart) {
			delete(rl.history, msisdn)
		}
	}
}
