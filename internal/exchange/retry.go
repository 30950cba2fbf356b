package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy bounds retries of rate-limited gateway calls with linear backoff.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Retry runs fn until it succeeds, fails with something other than a rate limit, or the policy
// is exhausted. Attempt n waits n*Delay before the next try.
func Retry[T any](ctx context.Context, p RetryPolicy, log *zap.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var err error
	for i := 0; i < attempts; i++ {
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrRateLimited) || i == attempts-1 {
			break
		}

		wait := time.Duration(i+1) * p.Delay
		log.Warn("Rate limit hit, retrying",
			zap.String("op", op),
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", attempts),
			zap.Duration("retry_after", wait),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, fmt.Errorf("%s: %w", op, err)
}
