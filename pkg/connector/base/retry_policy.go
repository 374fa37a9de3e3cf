package base

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/ajitpratap0/sqlstream/pkg/config"
	"github.com/ajitpratap0/sqlstream/pkg/errors"
)

// RetryPolicy defines exponential backoff with jitter
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64

	// sleep waits between attempts; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a retry policy from the sink retry section
func NewRetryPolicy(cfg config.RetryConfig) *RetryPolicy {
	rp := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		rp.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelay > 0 {
		rp.InitialDelay = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		rp.MaxDelay = cfg.MaxDelay
	}
	return rp
}

// DefaultRetryPolicy returns three attempts starting at one second
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// NoRetryPolicy returns a policy that doesn't retry
func NoRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 1,
	}
}

// Execute runs fn until it succeeds, returns a non-retryable error or the
// attempts are exhausted. Errors are classified with errors.IsRetryable.
func (rp *RetryPolicy) Execute(ctx context.Context, fn func(attempt int) error) error {
	return rp.ExecuteWithCondition(ctx, fn, errors.IsRetryable)
}

// ExecuteWithCondition runs fn with retry only while shouldRetry holds. The
// attempt number passed to fn starts at zero.
func (rp *RetryPolicy) ExecuteWithCondition(ctx context.Context, fn func(attempt int) error, shouldRetry func(error) bool) error {
	var lastErr error
	attempts := rp.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return err
		}

		if attempt == attempts-1 {
			break
		}

		if err := rp.wait(ctx, rp.Delay(attempt)); err != nil {
			return errors.Wrap(err, errors.ErrorTypeDelivery, "retry cancelled")
		}
	}

	return errors.Wrap(lastErr, errors.ErrorTypeDelivery, "retry attempts exhausted").
		WithDetail("attempts", attempts)
}

func (rp *RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if rp.sleep != nil {
		return rp.sleep(ctx, d)
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

// Delay returns the wait after the given zero-based attempt
func (rp *RetryPolicy) Delay(attempt int) time.Duration {
	multiplier := rp.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(rp.InitialDelay) * math.Pow(multiplier, float64(attempt))

	if rp.MaxDelay > 0 && delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}

	// jitter
	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		minDelay := delay - delta
		maxDelay := delay + delta
		delay = minDelay + (rand.Float64() * (maxDelay - minDelay))
	}

	return time.Duration(delay)
}

// WithSleep returns a copy of the policy that waits with sleep
func (rp *RetryPolicy) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *RetryPolicy {
	policy := *rp
	policy.sleep = sleep
	return &policy
}
