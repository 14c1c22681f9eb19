package channel

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket for platform API calls. It starts full and
// refills at the configured rate up to maxBurst tokens.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

// NewRateLimiter allows maxBurst calls at once and perSecond on average.
// The burst is kept small for VK, which rejects bunched calls.
func NewRateLimiter(maxBurst int, perSecond float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 1
	}
	if perSecond <= 0 {
		perSecond = 20
	}
	return &RateLimiter{
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     perSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		rl.tokens += now.Sub(rl.lastTime).Seconds() * rl.rate
		if rl.tokens > rl.max {
			rl.tokens = rl.max
		}
		rl.lastTime = now

		if rl.tokens >= 1.0 {
			rl.tokens -= 1.0
			rl.mu.Unlock()
			return nil
		}

		wait := time.Duration((1.0 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
