package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRetry(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}
	rateLimited := &RejectedError{Op: "account", Code: -1003, Message: "Too many requests"}

	t.Run("RecoversAfterRateLimit", func(t *testing.T) {
		calls := 0
		v, err := Retry(context.Background(), policy, zap.NewNop(), "account", func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, rateLimited
			}
			return 42, nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 42, v)
		assert.Equal(t, 3, calls)
	})

	t.Run("GivesUpAfterMaxAttempts", func(t *testing.T) {
		calls := 0
		_, err := Retry(context.Background(), policy, zap.NewNop(), "account", func(context.Context) (int, error) {
			calls++
			return 0, rateLimited
		})
		assert.ErrorIs(t, err, ErrRateLimited)
		assert.Equal(t, 3, calls)
	})

	t.Run("DoesNotRetryOtherErrors", func(t *testing.T) {
		calls := 0
		_, err := Retry(context.Background(), policy, zap.NewNop(), "account", func(context.Context) (int, error) {
			calls++
			return 0, &RejectedError{Op: "account", Code: -2015, Message: "Invalid API-key"}
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("StopsOnContextCancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Retry(ctx, RetryPolicy{MaxAttempts: 3, Delay: time.Hour}, zap.NewNop(), "account", func(context.Context) (int, error) {
			return 0, rateLimited
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "exchange not connected", Describe(fmtWrap(ErrUnavailable)))
	assert.Equal(t, "exchange rejected order: Margin is insufficient.",
		Describe(fmtWrap(&RejectedError{Op: "order", Code: -2019, Message: "Margin is insufficient."})))
	assert.Contains(t, Describe(errors.New("dial tcp: timeout")), "exchange error")
	assert.Empty(t, Describe(nil))
}

func fmtWrap(err error) error {
	return errors.Join(errors.New("context"), err)
}
