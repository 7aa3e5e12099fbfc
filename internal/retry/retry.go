// ABOUTME: Exponential-backoff retry policy for dispatch calls.
// ABOUTME: Caller errors are never retried; upstream failures only when configured.

package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/funnel-gateway/internal/capability"
	"github.com/2389/funnel-gateway/internal/dispatch"
)

// Policy configures retries.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the wait after the first failed attempt.
	BaseDelay time.Duration

	// Multiplier is applied to the delay after each failed attempt.
	Multiplier float64

	// MaxDelay caps any single wait.
	MaxDelay time.Duration

	// RetryUpstream also retries results that completed with success=false.
	RetryUpstream bool

	Logger *slog.Logger
}

// DefaultPolicy returns the standard dispatch retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	delay := time.Duration(d)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Retryable reports whether err is worth another attempt under p.
func (p Policy) Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case dispatch.IsCallerError(err):
		return false
	case errors.Is(err, capability.ErrUpstreamFailure):
		return p.RetryUpstream
	default:
		return true
	}
}

// Execute calls fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. The last error is returned. A cancelled ctx stops
// before the next attempt.
func (p Policy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		delay := p.Delay(attempt)
		logger.Debug("attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", attempts,
			"backoff", delay,
			"error", lastErr,
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted after %d attempts: %w", attempt, errors.Join(ctx.Err(), lastErr))
		case <-timer.C:
		}
	}

	logger.Warn("retries exhausted", "attempts", attempts, "error", lastErr)
	return lastErr
}

// Result runs fn under p and returns its result. A result with success=false
// counts as an upstream failure for retry purposes but is still returned
// when it is the final outcome.
func Result(ctx context.Context, p Policy, fn func(ctx context.Context) (*capability.Result, error)) (*capability.Result, error) {
	var last *capability.Result
	err := p.Execute(ctx, func(ctx context.Context) error {
		res, err := fn(ctx)
		if err != nil {
			last = nil
			return err
		}
		if res == nil {
			last = nil
			return errors.New("nil result")
		}
		last = res
		return res.Err()
	})
	if last != nil && errors.Is(err, capability.ErrUpstreamFailure) {
		return last, nil
	}
	if err != nil {
		return nil, err
	}
	return last, nil
}
