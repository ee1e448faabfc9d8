package generic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
)

func fastPolicy(attempts int) generic.CallPolicy {
	return generic.CallPolicy{
		Timeout:         time.Second,
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestCall_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var retried []int

	got, err := generic.Call(context.Background(), fastPolicy(5), "test.op",
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("unavailable")
			}
			return "ok", nil
		},
		func(attempt int, err error, next time.Duration) { retried = append(retried, attempt) },
	)

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestCall_ExhaustionReturnsTransientError(t *testing.T) {
	cause := errors.New("unavailable")
	calls := 0

	_, err := generic.Call(context.Background(), fastPolicy(3), "test.op",
		func(ctx context.Context) (int, error) {
			calls++
			return 0, cause
		}, nil)

	var terr *generic.TransientError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "test.op", terr.Op)
	assert.Equal(t, 3, terr.Attempts)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
}

func TestCall_PermanentErrorsAreNotRetried(t *testing.T) {
	calls := 0
	refusal := &generic.InsufficientBalanceError{EmployeeID: "emp-1"}

	_, err := generic.Call(context.Background(), fastPolicy(5), "test.op",
		func(ctx context.Context) (int, error) {
			calls++
			return 0, refusal
		}, nil)

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
	assert.NotErrorIs(t, err, generic.ErrTransient)
}

func TestCall_EachAttemptHasItsOwnTimeout(t *testing.T) {
	policy := fastPolicy(2)
	policy.Timeout = 10 * time.Millisecond
	calls := 0

	_, err := generic.Call(context.Background(), policy, "slow.op",
		func(ctx context.Context) (int, error) {
			calls++
			<-ctx.Done()
			return 0, ctx.Err()
		}, nil)

	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, generic.ErrTransient)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
