package retrier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetrier_Do(t *testing.T) {
	t.Run("success on first attempt", func(t *testing.T) {
		attempts := 0
		err := New().Do(context.Background(), func(ctx context.Context) error {
			attempts++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("success after retries", func(t *testing.T) {
		r := New(WithMaxRetries(3), WithInitialInterval(time.Millisecond))
		attempts := 0
		err := r.Do(context.Background(), func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("fail")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("last error after max retries", func(t *testing.T) {
		r := New(WithMaxRetries(2), WithInitialInterval(time.Millisecond))
		attempts := 0
		err := r.Do(context.Background(), func(ctx context.Context) error {
			attempts++
			return errors.New("fail")
		})
		assert.EqualError(t, err, "fail")
		assert.Equal(t, 3, attempts)
	})

	t.Run("context cancellation", func(t *testing.T) {
		r := New(WithMaxRetries(5), WithInitialInterval(100*time.Millisecond))
		ctx, cancel := context.WithCancel(context.Background())

		attempts := 0
		err := r.Do(ctx, func(ctx context.Context) error {
			attempts++
			if attempts == 2 {
				cancel()
			}
			return errors.New("fail")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 2, attempts)
	})
}

func TestRetrier_RetryIf(t *testing.T) {
	permanent := errors.New("permanent")
	r := New(WithMaxRetries(5), WithInitialInterval(time.Millisecond), WithRetryIf(func(err error) bool {
		return !errors.Is(err, permanent)
	}))

	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts == 2 {
			return permanent
		}
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 2, attempts)
}

func TestRetrier_OnRetry(t *testing.T) {
	var seen []int
	r := New(WithMaxRetries(2), WithInitialInterval(time.Millisecond), WithOnRetry(func(attempt int, err error, wait time.Duration) {
		seen = append(seen, attempt)
		assert.Error(t, err)
	}))

	_ = r.Do(context.Background(), func(ctx context.Context) error { return errors.New("fail") })

	assert.Equal(t, []int{1, 2}, seen)
}

func TestRetrier_Backoff(t *testing.T) {
	r := New(WithInitialInterval(time.Second), WithMaxInterval(5*time.Second), WithJitter(0))

	assert.Equal(t, time.Second, r.backoff(1))
	assert.Equal(t, 2*time.Second, r.backoff(2))
	assert.Equal(t, 4*time.Second, r.backoff(3))
	assert.Equal(t, 5*time.Second, r.backoff(4))
	assert.Equal(t, 5*time.Second, r.backoff(30))
}
