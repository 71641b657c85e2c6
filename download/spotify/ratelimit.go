package spotify

import (
	"context"
	"sync"
	"time"
)

// rateLimiter is a sliding window limiter applied before every API call.
type rateLimiter struct {
	mu          sync.Mutex
	stamps      []time.Time
	maxRequests int
	window      time.Duration
	enabled     bool
}

func newRateLimiter(enabled bool, maxRequests int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		maxRequests: maxRequests,
		window:      window,
		enabled:     enabled,
	}
}

// wait blocks until a request slot is free or ctx is done.
func (rl *rateLimiter) wait(ctx context.Context) error {
	if !rl.enabled {
		return nil
	}

	for {
		rl.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-rl.window)

		kept := rl.stamps[:0]
		for _, t := range rl.stamps {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		rl.stamps = kept

		if len(rl.stamps) < rl.maxRequests {
			rl.stamps = append(rl.stamps, now)
			rl.mu.Unlock()
			return nil
		}
		sleep := rl.window - now.Sub(rl.stamps[0])
		rl.mu.Unlock()

		if sleep <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}
