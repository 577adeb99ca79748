package streaming

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter throttles how often the multiplexer writes to a dashboard
// subscriber, so a subscriber that cannot keep up is shed even while its
// buffer still has room.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing tokensPerSec sustained rate and
// bursts up to maxBucket tokens.
func NewRateLimiter(tokensPerSec, maxBucket float64) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(tokensPerSec), int(maxBucket)),
	}
}

// Allow reports whether one token is available right now, consuming it if
// so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
