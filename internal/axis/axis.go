// internal/axis/axis.go
package axis

import (
	"fmt"
	"time"

	"github.com/tamzrod/frequency-response-automation/internal/measurement"
	"github.com/tamzrod/frequency-response-automation/internal/timeout"
)

// Termination is the reason a programmed request ended.
type Termination int

const (
	Pending Termination = iota
	Completed
	Superseded // reprogrammed by a later command
	Rejected
	TimedOut
	Other
)

func (t Termination) String() string {
	switch t {
	case Pending:
		return "pending"
	case Completed:
		return "completed"
	case Superseded:
		return "superseded"
	case Rejected:
		return "rejected"
	case TimedOut:
		return "timed_out"
	default:
		return "other"
	}
}

// Acceptable reports whether an automated sequence may continue after t.
func (t Termination) Acceptable() bool {
	return t == Completed || t == Superseded
}

// Request is one programmed command pending on the drive.
type Request interface {
	// WaitForTermination blocks until the request terminated or timeout elapsed.
	WaitForTermination(timeout time.Duration) (terminated bool, err error)
	// Termination is Pending until WaitForTermination reported true.
	Termination() Termination
}

// Axis is the single degree of freedom the orchestration drives.
type Axis interface {
	measurement.Device

	SwitchOn() error
	SwitchOff() error
	// Enable resets any axis error and enables the control loop.
	Enable() error
	Disable() error

	Position() (float64, error)

	// MoveAbsolute and MoveRelative reprogram an axis that is already moving.
	MoveAbsolute(position, velocity float64) (Request, error)
	MoveRelative(distance, velocity float64) (Request, error)
	Stop(immediate bool) (Request, error)
}

// CommandRejectedError reports a request that terminated outside the accepted set.
type CommandRejectedError struct {
	Termination Termination
}

func (e *CommandRejectedError) Error() string {
	return "axis: command rejected: request termination was " + e.Termination.String()
}

// Await waits for req and accepts Completed or Superseded.
func Await(req Request, limit time.Duration) (Termination, error) {
	terminated, err := req.WaitForTermination(limit)
	if err != nil {
		return Pending, fmt.Errorf("axis: wait for termination: %w", err)
	}
	if !terminated {
		return Pending, &timeout.TimeoutError{Op: "move", After: limit}
	}
	term := req.Termination()
	if !term.Acceptable() {
		return term, &CommandRejectedError{Termination: term}
	}
	return term, nil
}

// WaitForSuccess waits for req and accepts Completed only.
func WaitForSuccess(req Request, limit time.Duration) error {
	term, err := Await(req, limit)
	if err != nil {
		return err
	}
	if term != Completed {
		return &CommandRejectedError{Termination: term}
	}
	return nil
}
