// Package retry provides a bounded retry combinator with a fixed delay between attempts.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy configures Do.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first. Values below 1 mean 1.
	MaxAttempts int
	// Delay is waited between attempts.
	Delay time.Duration
	// IsRetryable reports whether err warrants another attempt. Nil retries every error.
	IsRetryable func(err error) bool
	// OnRetry, if set, runs after a failed attempt and before the delay.
	OnRetry func(attempt int, err error)
}

// AttemptsError is returned when every attempt failed.
type AttemptsError struct {
	Attempts int
	Err      error
}

func (e *AttemptsError) Error() string {
	return fmt.Sprintf("retry: %d attempt(s) failed: %v", e.Attempts, e.Err)
}

func (e *AttemptsError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, the policy gives up, or ctx is done.
// Non-retryable errors are returned unwrapped after the attempt that produced them.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return &AttemptsError{Attempts: attempt - 1, Err: lastErr}
			}
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if p.IsRetryable != nil && !p.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr)
		}

		timer := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &AttemptsError{Attempts: attempt, Err: lastErr}
		case <-timer.C:
		}
	}

	return &AttemptsError{Attempts: maxAttempts, Err: lastErr}
}
