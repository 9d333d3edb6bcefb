// internal/timeout/timeout.go
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout matches every TimeoutError via errors.Is.
var ErrTimeout = errors.New("timeout")

// TimeoutError reports that an operation did not settle within its deadline.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s duration exceeded %s", e.Op, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Operation is work already in flight that settles exactly once.
type Operation[T any] interface {
	// Done is closed when the operation has settled.
	Done() <-chan struct{}
	// Result is valid once Done is closed.
	Result() (T, error)
}

// Await races op against a wall-clock deadline.
//
// If op settles first its own result and error are returned unchanged.
// If the deadline wins, a *TimeoutError is returned and op keeps running:
// the caller owns aborting the underlying work. The timer is released on
// every path.
func Await[T any](ctx context.Context, op Operation[T], limit time.Duration) (T, error) {
	timer := time.NewTimer(limit)
	defer timer.Stop()

	select {
	case <-op.Done():
		return op.Result()
	default:
	}

	var zero T
	select {
	case <-op.Done():
		return op.Result()
	case <-timer.C:
		return zero, &TimeoutError{Op: "operation", After: limit}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
