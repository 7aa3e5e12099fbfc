// ABOUTME: Tests for the retry policy: backoff growth, classification, and cancellation.
// ABOUTME: Uses millisecond delays so the suite stays fast.

package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/funnel-gateway/internal/capability"
	"github.com/2389/funnel-gateway/internal/dispatch"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond}
}

var transportErr = &dispatch.TransportError{Kind: dispatch.KindConnection, Operation: "get_products", Endpoint: "http://x"}

func TestPolicy_Delay(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 30*time.Second, p.Delay(10))
}

func TestExecute_FailTwiceThenSucceed(t *testing.T) {
	calls := 0
	err := fastPolicy().Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return transportErr
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecute_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy().Execute(context.Background(), func(context.Context) error {
		calls++
		return transportErr
	})
	assert.Equal(t, 3, calls)
	assert.True(t, errors.Is(err, dispatch.ErrConnectionFailure))
}

func TestExecute_CallerErrorsAreNotRetried(t *testing.T) {
	tests := []error{
		fmt.Errorf("%w: nope", dispatch.ErrOperationNotFound),
		fmt.Errorf("%w: missing [query]", capability.ErrMissingParameter),
		fmt.Errorf("%w: x", capability.ErrUnknownCapability),
	}
	for _, callerErr := range tests {
		t.Run(callerErr.Error(), func(t *testing.T) {
			calls := 0
			err := fastPolicy().Execute(context.Background(), func(context.Context) error {
				calls++
				return callerErr
			})
			assert.Equal(t, 1, calls)
			assert.ErrorIs(t, err, callerErr)
		})
	}
}

func TestExecute_UpstreamFailureOptIn(t *testing.T) {
	upstream := capability.Fail("lead not found", nil).Err()

	calls := 0
	_ = fastPolicy().Execute(context.Background(), func(context.Context) error {
		calls++
		return upstream
	})
	assert.Equal(t, 1, calls)

	p := fastPolicy()
	p.RetryUpstream = true
	calls = 0
	_ = p.Execute(context.Background(), func(context.Context) error {
		calls++
		return upstream
	})
	assert.Equal(t, 3, calls)
}

func TestExecute_CancelledBetweenAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour, Multiplier: 2}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Execute(ctx, func(context.Context) error {
			calls++
			return transportErr
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, err, dispatch.ErrConnectionFailure)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("Execute did not return after cancellation")
	}
}

func TestExecute_CancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := fastPolicy().Execute(ctx, func(context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestResult_ReturnsFinalFailedResult(t *testing.T) {
	calls := 0
	res, err := Result(context.Background(), fastPolicy(), func(context.Context) (*capability.Result, error) {
		calls++
		return capability.Fail("product not found", nil), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, res.Success)
	assert.Equal(t, "product not found", res.Error)
}

func TestResult_RetriesTransportThenSucceeds(t *testing.T) {
	calls := 0
	res, err := Result(context.Background(), fastPolicy(), func(context.Context) (*capability.Result, error) {
		calls++
		if calls < 3 {
			return nil, transportErr
		}
		return capability.OK(map[string]any{"n": calls}), nil
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, calls)
}
