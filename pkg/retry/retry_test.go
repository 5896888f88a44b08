package retry

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		policy := NewExponentialBackoff(Config{
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			MaxRetries:      5,
		})

		attempts := 0
		err := policy.Execute(context.Background(), func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		policy := NewExponentialBackoff(Config{
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			MaxRetries:      3,
		})

		attempts := 0
		err := policy.Execute(context.Background(), func(ctx context.Context) error {
			attempts++
			return errors.New("still broken")
		})

		require.Error(t, err)
		assert.Equal(t, 4, attempts) // initial call plus 3 retries
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		policy := NewExponentialBackoff(Config{
			InitialInterval: time.Millisecond,
			MaxRetries:      5,
		})

		attempts := 0
		err := policy.Execute(context.Background(), func(ctx context.Context) error {
			attempts++
			return Permanent(errors.New("bad request"))
		})

		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("cancelled context aborts", func(t *testing.T) {
		policy := NewExponentialBackoff(Config{
			InitialInterval: 50 * time.Millisecond,
			MaxRetries:      100,
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := policy.Execute(ctx, func(ctx context.Context) error {
			return errors.New("never succeeds")
		})
		require.Error(t, err)
	})
}

func TestFixedDelay(t *testing.T) {
	policy := NewFixedDelay(time.Millisecond, 2)

	attempts := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("nope")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}
