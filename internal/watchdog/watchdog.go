// Package watchdog bounds the wall-clock time of a blocking unit of work.
//
// The work runs on its own goroutine while the caller waits on a deadline
// timer. If the deadline wins, Abort is invoked to tear down whatever the work
// is blocked on (for the rpc engine: kill the worker, which closes its pipes),
// the work's eventual result is discarded, and the call fails with ErrExpired.
// The timer is stopped on every path.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultAbortGrace is how long Run waits for aborted work to unwind.
const DefaultAbortGrace = time.Second

// ErrExpired is returned when the deadline elapses before the work finishes.
var ErrExpired = errors.New("deadline exceeded")

// Watchdog carries the policy for one guarded call.
type Watchdog struct {
	// Timeout of zero or less means no bound.
	Timeout time.Duration

	// Abort is invoked once when the deadline (or ctx) fires first. It must
	// unblock the work.
	Abort func()

	// AbortGrace bounds the wait for the work goroutine after Abort.
	// Zero selects DefaultAbortGrace.
	AbortGrace time.Duration
}

type outcome[T any] struct {
	val T
	err error
}

// Run executes work under w. On expiry the returned error wraps ErrExpired and
// carries message; on ctx cancellation it wraps ctx.Err().
func Run[T any](ctx context.Context, w Watchdog, message string, work func() (T, error)) (T, error) {
	var zero T

	done := make(chan outcome[T], 1)
	go func() {
		v, err := work()
		done <- outcome[T]{v, err}
	}()

	var expired <-chan time.Time
	if w.Timeout > 0 {
		timer := time.NewTimer(w.Timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case out := <-done:
		return out.val, out.err
	case <-expired:
		abort(w, done)
		return zero, fmt.Errorf("%s after %v: %w", message, w.Timeout, ErrExpired)
	case <-ctx.Done():
		abort(w, done)
		return zero, fmt.Errorf("%s: %w", message, ctx.Err())
	}
}

// abort tears the work down and waits (bounded) for its goroutine so a late
// result cannot race with the next call. The result itself is dropped.
func abort[T any](w Watchdog, done <-chan outcome[T]) {
	if w.Abort != nil {
		w.Abort()
	}

	grace := w.AbortGrace
	if grace <= 0 {
		grace = DefaultAbortGrace
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
	case <-t.C:
	}
}
