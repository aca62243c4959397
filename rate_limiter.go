package kunci

import (
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter is a token bucket refusing requests once it is empty. Replays
// after a renewal draw from the same bucket.
type rateLimiter struct {
	maxTokens  int
	refillRate time.Duration
	limiter    *rate.Limiter
}

func newRateLimiter(maxTokens int, refillRate time.Duration) *rateLimiter {
	rl := &rateLimiter{maxTokens: maxTokens, refillRate: refillRate}
	if maxTokens > 0 && refillRate > 0 {
		rl.limiter = rate.NewLimiter(rate.Every(refillRate), maxTokens)
	}
	return rl
}

// Allow takes one token if available.
func (rl *rateLimiter) Allow() bool {
	if rl.limiter == nil {
		return true
	}
	return rl.limiter.Allow()
}

// Tokens returns the number of tokens currently available.
func (rl *rateLimiter) Tokens() float64 {
	if rl.limiter == nil {
		return 0
	}
	return rl.limiter.Tokens()
}
