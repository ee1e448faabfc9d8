package generic

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// =============================================================================
// CALL POLICY - Timeout + bounded exponential retry for cross-service calls
// =============================================================================

// CallPolicy is attached at every call site that crosses a service boundary.
// Each attempt runs under its own Timeout. An attempt that times out counts as
// failed but is not assumed to have had no effect, so the operation behind
// it must be idempotent.
type CallPolicy struct {
	Timeout         time.Duration
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultCallPolicy is used when a service is constructed without one.
func DefaultCallPolicy() CallPolicy {
	return CallPolicy{
		Timeout:         3 * time.Second,
		MaxAttempts:     5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

func (p CallPolicy) withDefaults() CallPolicy {
	d := DefaultCallPolicy()
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	return p
}

// Call runs fn until it succeeds, fails permanently, or runs out of attempts.
// Permanent errors (see IsPermanent) are returned as-is after one attempt.
// Exhausted attempts come back as *TransientError. onRetry, when non-nil, is
// told about each failed attempt that will be retried.
func Call[T any](
	ctx context.Context,
	policy CallPolicy,
	op string,
	fn func(ctx context.Context) (T, error),
	onRetry func(attempt int, err error, next time.Duration),
) (T, error) {
	policy = policy.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval

	attempts := 0
	operation := func() (T, error) {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
		defer cancel()

		result, err := fn(attemptCtx)
		if err != nil && IsPermanent(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if onRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, next time.Duration) {
			onRetry(attempts, err, next)
		}))
	}

	result, err := backoff.Retry(ctx, operation, opts...)
	if err == nil {
		return result, nil
	}
	if IsPermanent(err) {
		return result, err
	}
	return result, &TransientError{Op: op, Attempts: attempts, Err: err}
}
