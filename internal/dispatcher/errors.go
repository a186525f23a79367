package dispatcher

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrStopped    = errors.New("dispatcher stopped")
	ErrOverlap    = errors.New("run skipped: task profile already active")
	ErrKilled     = errors.New("run killed")
	ErrTimeout    = errors.New("run exceeded its timeout")
	ErrOverlapLost = errors.New("run lost while waiting for user: schedule was deleted")
)

// NoRetry marks an error as non-retryable, so a failed run's task-agent
// exit code doesn't get reinterpreted as something the runner should retry.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfter carries a suggested delay before a run's provider-queue retry.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }
