// internal/engine/engine.go
package engine

import (
	"fmt"

	"github.com/tamzrod/frequency-response-automation/internal/measurement"
)

// Progress is raised once per completed frequency point.
type Progress struct {
	Index     int
	Frequency float64 // Hz
	Err       error   // recoverable, the sweep continues
}

// Completion is raised exactly once per started engine.
type Completion struct {
	Canceled bool
	Failure  error               // optional, non-fatal when Result is set
	Result   *measurement.Result // optional
}

// Handler receives engine notifications.
// Calls arrive on an engine-owned goroutine and must not block.
type Handler interface {
	OnProgress(Progress)
	OnCompleted(Completion)
}

// Engine is one live acquisition. It is bound to a single parameter set,
// started at most once and closed exactly once by its owner.
type Engine interface {
	// Subscribe must be called before Start.
	Subscribe(h Handler)
	// Start launches the acquisition and returns without waiting for it.
	Start(cs *measurement.ControlSystem, p measurement.Parameters) error
	// Cancel asks a running acquisition to stop. Completion follows with
	// Canceled set.
	Cancel() error
	// Close releases the engine. No notifications are raised afterwards.
	Close() error
}

// Factory creates a fresh engine per measurement.
type Factory func() (Engine, error)

// PointError is a recoverable failure at one frequency point.
type PointError struct {
	Index     int
	Frequency float64
	Code      uint16
}

func (e *PointError) Error() string {
	return fmt.Sprintf("engine: point %d at %g Hz failed with code %d", e.Index, e.Frequency, e.Code)
}

// FailureError is the failure detail reported with a completion.
type FailureError struct {
	Code uint16
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("engine: measurement failed with code %d", e.Code)
}

var channelNames = []string{"current", "velocity", "position"}

// ChannelNames names n measured signals.
func ChannelNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		if i < len(channelNames) {
			out[i] = channelNames[i]
		} else {
			out[i] = fmt.Sprintf("signal%d", i+1)
		}
	}
	return out
}

// channelCount is the number of measured signals of p, at least one.
func channelCount(p measurement.Parameters) int {
	if n := len(p.ExcitationLimits); n > 0 {
		return n
	}
	return 1
}

// dispatcher fans notifications out to the subscribed handlers.
type dispatcher struct {
	handlers []Handler
}

func (d *dispatcher) progress(p Progress) {
	for _, h := range d.handlers {
		h.OnProgress(p)
	}
}

func (d *dispatcher) completed(c Completion) {
	for _, h := range d.handlers {
		h.OnCompleted(c)
	}
}
