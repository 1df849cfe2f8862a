package connection

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// RetryPolicy bounds a retry loop. Attempt k (0-indexed) is followed by a
// wait of min(BaseDelay * 2^k, MaxDelay) before the next one.
type RetryPolicy struct {
	MaxAttempts int           // Total attempts, including the first
	BaseDelay   time.Duration // Delay after the first failure
	MaxDelay    time.Duration // Cap on a single delay (0 = uncapped)

	// OnRetry is called before each wait with the number of failed
	// attempts so far, the upcoming delay and the last failure.
	OnRetry func(failed int, delay time.Duration, err error)
}

// DefaultReconnectPolicy is the transport-level auto-reconnect budget.
func DefaultReconnectPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// DefaultConnectPolicy is the connect-with-retry budget used when a session
// is started.
func DefaultConnectPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
	}
}

// Delay returns the wait after the given 0-indexed attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return Backoff(attempt, p.BaseDelay, p.MaxDelay)
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff computes min(base * 2^attempt, maxDelay). A zero maxDelay leaves
// the delay uncapped.
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if maxDelay > 0 && d >= maxDelay {
			return maxDelay
		}
		if d <= 0 {
			// overflow
			return maxDelay
		}
	}
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}

// sleep waits for d on clk or until ctx is done.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := clk.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
