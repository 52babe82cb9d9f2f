// Package retry re-runs idempotent exchange reads on transient business errors
package retry

import (
	"context"
	"math/rand"
	"time"

	apperrors "signal_trader/pkg/errors"
)

// Policy bounds the number and spacing of attempts
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Classify decides whether an error is retryable. Defaults to apperrors.IsTransient.
	Classify func(error) bool
}

// ReadPolicy is used for snapshot queries against the exchange
var ReadPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempts run out
func Do[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	classify := policy.Classify
	if classify == nil {
		classify = apperrors.IsTransient
	}
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var (
		result T
		err    error
	)
	backoff := policy.InitialBackoff
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = fn(ctx)
		if err == nil || !classify(err) || attempt == attempts {
			return result, err
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(withJitter(backoff)):
		}
		backoff = min(backoff*2, policy.MaxBackoff)
	}
	return result, err
}

// withJitter adds up to 50% random delay
func withJitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d/2)))
}
