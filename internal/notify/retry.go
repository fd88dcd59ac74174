package notify

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds attempts per channel and event.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter maps a backoff ceiling to the actual wait. Nil means full
	// jitter: a uniform draw from [0, ceiling].
	Jitter func(time.Duration) time.Duration
}

// DefaultRetryPolicy returns 3 attempts with 500ms base and 10s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait after the given failed attempt (1-based). A
// server-provided retryAfter takes precedence over the computed backoff.
func (p RetryPolicy) Delay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	ceiling := backoffForAttempt(p.BaseDelay, p.MaxDelay, attempt)
	if p.Jitter != nil {
		return p.Jitter(ceiling)
	}
	return fullJitter(ceiling)
}

// maxBackoffDoublings caps the exponent so the multiplier stays at 64.
const maxBackoffDoublings = 6

func backoffForAttempt(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > maxBackoffDoublings+1 {
		attempt = maxBackoffDoublings + 1
	}
	delay := time.Duration(1<<(attempt-1)) * base
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}

func fullJitter(ceiling time.Duration) time.Duration {
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
