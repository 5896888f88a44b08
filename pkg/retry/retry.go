// Package retry provides retry policies used around Redis and other
// external calls.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy defines the retry policy interface
type Policy interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

// Config contains retry configuration
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	Multiplier      float64
	MaxRetries      int
}

// ExponentialBackoff implements an exponential backoff retry policy on top
// of cenkalti/backoff.
type ExponentialBackoff struct {
	config Config
}

// NewExponentialBackoff creates a new exponential backoff retry policy
func NewExponentialBackoff(config Config) Policy {
	if config.InitialInterval <= 0 {
		config.InitialInterval = 100 * time.Millisecond
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = 30 * time.Second
	}
	if config.MaxElapsedTime <= 0 {
		config.MaxElapsedTime = 5 * time.Minute
	}
	if config.Multiplier <= 1.0 {
		config.Multiplier = 2.0
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 10
	}

	return &ExponentialBackoff{config: config}
}

// Execute executes the function, retrying transient failures with
// exponential backoff until the retry or elapsed-time budget runs out.
// Wrap an error with Permanent to stop retrying immediately.
func (e *ExponentialBackoff) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.config.InitialInterval
	bo.MaxInterval = e.config.MaxInterval
	bo.MaxElapsedTime = e.config.MaxElapsedTime
	bo.Multiplier = e.config.Multiplier

	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(e.config.MaxRetries)), ctx)

	return backoff.Retry(func() error {
		return fn(ctx)
	}, policy)
}

// Permanent marks an error as non-retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// FixedDelay implements a fixed delay retry policy
type FixedDelay struct {
	delay      time.Duration
	maxRetries int
}

// NewFixedDelay creates a new fixed delay retry policy
func NewFixedDelay(delay time.Duration, maxRetries int) Policy {
	return &FixedDelay{
		delay:      delay,
		maxRetries: maxRetries,
	}
}

// Execute executes the function with fixed delay retry
func (f *FixedDelay) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(f.delay), uint64(f.maxRetries)), ctx)

	return backoff.Retry(func() error {
		return fn(ctx)
	}, policy)
}
