package summarizer

import (
	"context"
	"time"
)

// DefaultMaxRetries is the number of same-tier retries before escalating.
const DefaultMaxRetries = 2

// Backoff computes waits between retries on the same tier.
type Backoff struct {
	MaxRetries int
}

// WaitDuration returns the wait before retry n (0-based). A positive hint is used verbatim.
func (b Backoff) WaitDuration(attemptWithinTier int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	if attemptWithinTier < 0 {
		attemptWithinTier = 0
	}
	return time.Duration(1<<uint(attemptWithinTier)) * time.Second
}

// ShouldRetry reports whether another same-tier attempt is allowed.
func (b Backoff) ShouldRetry(attemptWithinTier int) bool {
	return attemptWithinTier < b.MaxRetries
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration, p Progress) error

// CountdownSleeper waits in one-second ticks and reports the remaining time to p.
func CountdownSleeper(ctx context.Context, d time.Duration, p Progress) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	deadline := time.Now().Add(d)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-ticker.C:
			if remaining := time.Until(deadline); remaining > 0 {
				p.WaitTick(remaining.Round(time.Second))
			}
		}
	}
}

// NoSleep returns immediately unless ctx is already done.
func NoSleep(ctx context.Context, _ time.Duration, _ Progress) error {
	return ctx.Err()
}
