package reliability

import (
	"context"
	"time"
)

// Sleeper waits between attempts. Tests swap it for one that records the
// requested delays and returns at once.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep implements Sleeper
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// TimerSleeper sleeps on a real timer and returns early with ctx's error
var TimerSleeper Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
})

// RetryPolicy defines the interface for retry policies
type RetryPolicy interface {
	// ShouldRetry determines if a retry should be attempted after the given
	// zero-based attempt failed with err, and how long to wait first
	ShouldRetry(attempt int, err error) (bool, time.Duration)
}

// FixedDelay retries after the same delay every time. MaxAttempts caps the
// number of retries; <= 0 means no limit.
type FixedDelay struct {
	Delay       time.Duration
	MaxAttempts int
	// Retryable filters which errors are retried. Nil retries every error.
	Retryable func(error) bool
}

// NewFixedDelay creates a new fixed delay policy
func NewFixedDelay(delay time.Duration, maxRetries int) *FixedDelay {
	return &FixedDelay{
		Delay:       delay,
		MaxAttempts: maxRetries,
	}
}

// Forever retries every error matched by retryable after delay, without limit
func Forever(delay time.Duration, retryable func(error) bool) *FixedDelay {
	policy := NewFixedDelay(delay, 0)
	policy.Retryable = retryable
	return policy
}

// ShouldRetry implements RetryPolicy
func (f *FixedDelay) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if f.MaxAttempts > 0 && attempt >= f.MaxAttempts {
		return false, 0
	}
	if f.Retryable != nil && !f.Retryable(err) {
		return false, 0
	}
	return true, f.Delay
}

// RetryOption configures Retry
type RetryOption func(*retryConfig)

type retryConfig struct {
	sleeper Sleeper
}

// WithSleeper replaces the timer based sleeper
func WithSleeper(s Sleeper) RetryOption {
	return func(cfg *retryConfig) {
		if s != nil {
			cfg.sleeper = s
		}
	}
}

// Retry executes fn until it succeeds, the policy gives up, or ctx is done.
// fn receives the zero-based attempt number.
func Retry(ctx context.Context, policy RetryPolicy, fn func(attempt int) error, options ...RetryOption) error {
	cfg := &retryConfig{sleeper: TimerSleeper}
	for _, opt := range options {
		opt(cfg)
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}

		shouldRetry, delay := policy.ShouldRetry(attempt, err)
		if !shouldRetry {
			return err
		}

		if err := cfg.sleeper.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}
