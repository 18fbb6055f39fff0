// Package retry wraps a fallible call in bounded exponential backoff.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/fixwright/fixwright/internal/errors"
	"github.com/fixwright/fixwright/internal/logging"
)

// Policy describes how a call is retried. The zero value is not usable;
// start from DefaultPolicy.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// BaseDelay is the delay before the first retry. Each subsequent
	// delay doubles, capped at MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Jitter randomizes each delay in [delay/2, delay) so parallel
	// callers do not retry in lockstep.
	Jitter bool

	// Retryable classifies errors. Nil means errors.IsRetryable.
	Retryable func(error) bool

	// OnRetry fires before each retry sleep with the failure, the
	// attempt that just failed (1-based), and the computed delay.
	OnRetry func(err error, attempt int, delay time.Duration)

	Logger *logging.Logger
}

// DefaultPolicy mirrors the shipped configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Jitter:     true,
	}
}

// Do runs fn, retrying per the policy. It returns nil on the first
// success, the last error wrapped with ErrRetriesExhausted if every
// attempt fails retryably, the error itself if it is fatal, or the
// context error if ctx is done before the next attempt.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	logger := p.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = errors.IsRetryable
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxRetries+1 {
			break
		}

		delay := p.delayFor(attempt)
		logger.Warn("retrying after failure",
			"op", op,
			"attempt", attempt,
			"delay", delay.String(),
			"error", lastErr.Error(),
		)
		if p.OnRetry != nil {
			p.OnRetry(lastErr, attempt, delay)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%w: %s after %d attempts: %w", errors.ErrRetriesExhausted, op, p.MaxRetries+1, lastErr)
}

// delayFor computes the backoff delay for the given 1-based attempt.
func (p Policy) delayFor(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter && delay > 0 {
		delay = delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))
	}
	return delay
}
