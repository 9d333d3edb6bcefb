// internal/measurement/control.go
package measurement

import "time"

// Device is the part of an axis the measurement setup needs.
type Device interface {
	MethodSupporter
	Name() string
	// Tidy restores the axis after a measurement.
	Tidy() error
}

// ControlSystem is the measurement view of an axis: the device plus the
// resolved method and sampling period an engine runs against.
type ControlSystem struct {
	device         Device
	Method         Method
	SamplingPeriod time.Duration
}

// NewControlSystem validates p and resolves its method against the methods
// dev supports. Nothing is written to the device.
func NewControlSystem(dev Device, registry []Method, p Parameters) (*ControlSystem, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m, err := ResolveMethod(registry, dev, p.Method)
	if err != nil {
		return nil, err
	}
	return &ControlSystem{device: dev, Method: m, SamplingPeriod: p.SamplingPeriod}, nil
}

func (cs *ControlSystem) Tidy() error { return cs.device.Tidy() }
