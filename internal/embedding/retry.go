package embedding

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is the reusable backoff policy for provider calls. It exists
// as a value so failure-injection tests can count attempts deterministically
// (set Jitter to 0).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64
}

func NewRetryPolicy(maxAttempts int, baseDelay time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.2,
	}
}

// Do runs op up to MaxAttempts times with exponential backoff. The hard
// attempt cap means there is no unbounded retry loop; context cancellation
// stops the wait immediately.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.MaxInterval = p.MaxDelay
	eb.Multiplier = p.Multiplier
	eb.RandomizationFactor = p.Jitter
	eb.MaxElapsedTime = 0

	attempts := uint64(0)
	if p.MaxAttempts > 1 {
		attempts = uint64(p.MaxAttempts - 1)
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, attempts), ctx))
}
