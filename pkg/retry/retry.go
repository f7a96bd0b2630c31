// Package retry provides a bounded retry loop with a pluggable backoff
// policy, shared by the playback and recommendation clients so both have
// identical retry semantics.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy controls how Do retries a failing operation.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Backoff returns the wait before the next attempt. attempt is the
	// 1-based attempt that just failed. Nil means no wait.
	Backoff func(attempt int) time.Duration
	// Sleep waits for d or until ctx is done. Nil uses a timer; tests
	// inject a recorder.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Constant returns a backoff policy that always waits d.
func Constant(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Op is one attempt of the operation. attempt is 1-based. Returning
// retryable=false stops the loop immediately with err.
type Op func(ctx context.Context, attempt int) (retryable bool, err error)

// waitError overrides the policy backoff for a single retry, e.g. a
// server-provided Retry-After interval.
type waitError struct {
	wait time.Duration
	err  error
}

func (w *waitError) Error() string { return w.err.Error() }

func (w *waitError) Unwrap() error { return w.err }

// After wraps err so the next retry waits d instead of the policy backoff.
func After(d time.Duration, err error) error {
	return &waitError{wait: d, err: err}
}

// Do runs op up to p.MaxAttempts times. Waits between attempts come from
// p.Backoff unless the failed attempt requested its own wait via After.
// The error of the final attempt is returned unwrapped from any After
// marker; context cancellation during a wait aborts with the context error.
func Do(ctx context.Context, p Policy, op Op) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		retryable, err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable || attempt == attempts {
			break
		}

		wait := time.Duration(0)
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		var we *waitError
		if errors.As(err, &we) {
			wait = we.wait
		}

		if wait > 0 {
			if err := sleep(ctx, p, wait); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
	}

	var we *waitError
	if errors.As(lastErr, &we) {
		return we.err
	}
	return lastErr
}

func sleep(ctx context.Context, p Policy, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
