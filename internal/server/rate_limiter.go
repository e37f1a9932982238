// Package server implements a token bucket rate limiter for per-connection
// throttling that protects a room from a flooding member.
package server

import "time"

// rateLimiter refills Burst tokens every RefillInterval, one token per frame.
// It is owned by a single room goroutine and needs no locking.
type rateLimiter struct {
	burst     float64
	perSecond float64
	available float64
	refilled  time.Time
	now       func() time.Time
}

// newRateLimiter returns nil when cfg.Burst is zero.
func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.Burst <= 0 {
		return nil
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}

	return &rateLimiter{
		burst:     float64(cfg.Burst),
		perSecond: float64(cfg.Burst) / cfg.RefillInterval.Seconds(),
		available: float64(cfg.Burst),
		refilled:  time.Now(),
		now:       time.Now,
	}
}

func (rl *rateLimiter) allow() bool {
	now := rl.now()
	if elapsed := now.Sub(rl.refilled); elapsed > 0 {
		rl.available = min(rl.burst, rl.available+elapsed.Seconds()*rl.perSecond)
	}
	rl.refilled = now

	if rl.available < 1 {
		return false
	}
	rl.available--
	return true
}
