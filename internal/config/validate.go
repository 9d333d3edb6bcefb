// internal/config/validate.go
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/frequency-response-automation/internal/modbus"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil config")
	}
	f := cfg.FRA

	// ------------------------------------------------------------
	// AXIS
	// ------------------------------------------------------------

	switch f.Axis.Driver {
	case DriverModbus:
		if f.Axis.Endpoint == "" {
			return errors.New("axis: modbus driver requires endpoint")
		}
	case DriverSim, "":
		if f.Axis.TimeScale < 0 {
			return fmt.Errorf("axis: time_scale must be >= 0, got %g", f.Axis.TimeScale)
		}
	default:
		return fmt.Errorf("axis: unknown driver %q", f.Axis.Driver)
	}

	if f.Axis.TimeoutMs < 0 || f.Axis.PollIntervalMs < 0 {
		return errors.New("axis: timeouts must be >= 0")
	}

	// ------------------------------------------------------------
	// METHOD REGISTRY (empty => defaults applied by Normalize)
	// ------------------------------------------------------------

	seen := make(map[string]struct{}, len(f.Methods))
	for _, m := range f.Methods {
		if strings.TrimSpace(m.Name) == "" {
			return errors.New("methods: name required")
		}
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("methods: duplicate method %q", m.Name)
		}
		if m.Capability > 15 {
			return fmt.Errorf("methods: %q capability bit %d out of range 0-15", m.Name, m.Capability)
		}
		seen[m.Name] = struct{}{}
	}

	// ------------------------------------------------------------
	// MEASUREMENT
	// ------------------------------------------------------------

	m := f.Measurement
	if m.Method == "" {
		return errors.New("measurement: method required")
	}
	if m.FrequencyMinHz <= 0 || m.FrequencyMaxHz <= 0 {
		return errors.New("measurement: frequency range must be > 0")
	}
	if m.FrequencyMinHz > m.FrequencyMaxHz {
		return fmt.Errorf(
			"measurement: frequency_min_hz %g exceeds frequency_max_hz %g",
			m.FrequencyMinHz,
			m.FrequencyMaxHz,
		)
	}
	if m.Steps < 1 {
		return fmt.Errorf("measurement: steps must be >= 1, got %d", m.Steps)
	}
	switch strings.ToLower(m.Spacing) {
	case "", "linear", "logarithmic", "optimized":
	default:
		return fmt.Errorf("measurement: unknown spacing %q", m.Spacing)
	}
	for i, l := range m.ExcitationLimits {
		if l < 0 {
			return fmt.Errorf("measurement: excitation_limits[%d] must be >= 0, got %g", i, l)
		}
	}
	if m.SamplingFrequencyHz < 0 {
		return errors.New("measurement: sampling_frequency_hz must be >= 0")
	}
	if m.SettlingTimeMs < 0 || m.CeilingS < 0 {
		return errors.New("measurement: durations must be >= 0")
	}

	if f.Axis.Driver == DriverModbus {
		if err := validateRegisterRanges(f.Axis, m); err != nil {
			return err
		}
	}

	// ------------------------------------------------------------
	// MOTION
	// ------------------------------------------------------------

	if len(f.Motion.Positions) > 0 && f.Motion.PositionVelocity <= 0 {
		return errors.New("motion: position_velocity must be > 0 when positions are set")
	}
	if f.Motion.MoveTimeoutMs < 0 {
		return errors.New("motion: move_timeout_ms must be >= 0")
	}
	if bf := f.Motion.BackAndForth; bf.Enabled {
		if bf.Distance <= 0 {
			return fmt.Errorf("motion: back_and_forth distance must be > 0, got %g", bf.Distance)
		}
		if bf.Velocity <= 0 {
			return fmt.Errorf("motion: back_and_forth velocity must be > 0, got %g", bf.Velocity)
		}
	}

	return nil
}

// validateRegisterRanges checks that the axis block and the engine block
// sized for the configured sweep fit the address space without overlap.
func validateRegisterRanges(a AxisConfig, m MeasurementConfig) error {
	channels := len(m.ExcitationLimits)
	if channels == 0 {
		channels = 1
	}

	axisEnd := int(a.AxisBase) + modbus.AxisSpan
	engineEnd := int(a.EngineBase) + modbus.EngineSpan(m.Steps, channels)

	if axisEnd > modbus.AddressSpace {
		return fmt.Errorf("axis: axis_base %d leaves no room for %d registers", a.AxisBase, modbus.AxisSpan)
	}
	if engineEnd > modbus.AddressSpace {
		return fmt.Errorf(
			"axis: engine_base %d leaves no room for %d steps over %d channels",
			a.EngineBase, m.Steps, channels,
		)
	}
	if int(a.AxisBase) < engineEnd && int(a.EngineBase) < axisEnd {
		return fmt.Errorf(
			"axis: axis registers %d-%d overlap engine registers %d-%d",
			a.AxisBase, axisEnd-1, a.EngineBase, engineEnd-1,
		)
	}
	return nil
}
