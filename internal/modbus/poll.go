// internal/modbus/poll.go
package modbus

import (
	"context"
	"time"
)

// Until calls check on every tick until it reports done, returns an error,
// ctx ends, or timeout elapses. The first check runs immediately.
// It returns false (and no error) on timeout.
func Until(ctx context.Context, interval, timeout time.Duration, check func() (bool, error)) (bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := check()
		if err != nil || done {
			return done, err
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
		}
	}
}

// Run calls step on every tick until ctx ends or step reports done.
// One goroutine per caller. No overlap. No retries.
func Run(ctx context.Context, interval time.Duration, step func() bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if step() {
				return
			}
		}
	}
}
