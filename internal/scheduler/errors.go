// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"errors"
)

var (
	// ErrBusy reports that an operation could not start immediately and the
	// caller requested no wait.
	ErrBusy = errors.New("scheduler: busy")

	// ErrTimeout reports that a bounded wait expired before the operation
	// produced a result. Cancellation was attempted.
	ErrTimeout = errors.New("scheduler: wait deadline exceeded")

	// ErrCancelled reports that the operation was cancelled before producing
	// a result.
	ErrCancelled = errors.New("scheduler: operation cancelled")

	// ErrAlreadyAwaited guards against a second waiter consuming a handle
	// whose result was already claimed. Seeing it means a caller bug.
	ErrAlreadyAwaited = errors.New("scheduler: handle already awaited")

	// ErrNilResult is returned by ExecuteNonNil when the operation succeeded
	// without a value.
	ErrNilResult = errors.New("scheduler: operation produced no value")
)

// waitError maps a context error onto the scheduler taxonomy.
func waitError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrCancelled
}

// outcome labels a terminal error for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrBusy):
		return "busy"
	default:
		return "failure"
	}
}
