package engine

import (
	"context"
	"time"
)

// RateLimiter enforces a minimum delay between outbound calls to one source.
// The first call passes immediately; later calls wait out the remainder of
// the configured interval. The wait is context-aware so a cancelled run
// never blocks on a sleeping limiter.
type RateLimiter struct {
	interval time.Duration
	lastCall time.Time
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

// NewRateLimiter creates a rate limiter with the given minimum inter-call
// interval. An interval of zero disables waiting.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{
		interval: interval,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Wait blocks until the inter-call interval has elapsed since the previous
// call, then records the call time.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r.interval > 0 && !r.lastCall.IsZero() {
		elapsed := r.now().Sub(r.lastCall)
		if remaining := r.interval - elapsed; remaining > 0 {
			if err := r.sleep(ctx, remaining); err != nil {
				return err
			}
		}
	}
	r.lastCall = r.now()
	return nil
}

// sleepContext sleeps for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
