// internal/orchestrator/builder.go
package orchestrator

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tamzrod/frequency-response-automation/internal/axis"
	"github.com/tamzrod/frequency-response-automation/internal/config"
	"github.com/tamzrod/frequency-response-automation/internal/engine"
	"github.com/tamzrod/frequency-response-automation/internal/measurement"
	"github.com/tamzrod/frequency-response-automation/internal/metrics"
	"github.com/tamzrod/frequency-response-automation/internal/modbus"
)

// Build wires the axis, the engine factory and the orchestrator from a
// validated and normalized config. The returned closer releases the
// drive connection.
func Build(c *config.Config, log logrus.FieldLogger, m *metrics.Metrics) (*Orchestrator, Plan, func() error, error) {
	f := c.FRA

	plan, err := BuildPlan(f)
	if err != nil {
		return nil, Plan{}, nil, err
	}

	ax, engines, closeDevices, err := buildDevices(f)
	if err != nil {
		return nil, Plan{}, nil, err
	}

	o, err := New(ax, engines, Config{
		Registry:    Registry(f.Methods),
		OutputDir:   f.OutputDir,
		Ceiling:     time.Duration(f.Measurement.CeilingS) * time.Second,
		MoveTimeout: time.Duration(f.Motion.MoveTimeoutMs) * time.Millisecond,
		Logger:      log,
		Metrics:     m,
	})
	if err != nil {
		_ = closeDevices()
		return nil, Plan{}, nil, err
	}

	return o, plan, closeDevices, nil
}

// Registry converts the configured method registry.
func Registry(methods []config.MethodConfig) []measurement.Method {
	out := make([]measurement.Method, 0, len(methods))
	for _, m := range methods {
		out = append(out, measurement.Method{
			Name:       m.Name,
			ClosedLoop: m.ClosedLoop,
			Capability: m.Capability,
		})
	}
	return out
}

// BuildPlan converts the measurement and motion sections.
func BuildPlan(f config.FRAConfig) (Plan, error) {
	mc := f.Measurement

	spacing, err := measurement.ParseSpacing(mc.Spacing)
	if err != nil {
		return Plan{}, err
	}

	var sampling time.Duration
	if mc.SamplingFrequencyHz > 0 {
		sampling = time.Duration(float64(time.Second) / mc.SamplingFrequencyHz)
	}

	return Plan{
		Parameters: measurement.Parameters{
			FrequencyMin:     mc.FrequencyMinHz,
			FrequencyMax:     mc.FrequencyMaxHz,
			Steps:            mc.Steps,
			Spacing:          spacing,
			ExcitationLimits: append([]float64(nil), mc.ExcitationLimits...),
			SettlingTime:     time.Duration(mc.SettlingTimeMs) * time.Millisecond,
			SamplingPeriod:   sampling,
			Method:           mc.Method,
		},
		Positions:        append([]float64(nil), f.Motion.Positions...),
		PositionVelocity: f.Motion.PositionVelocity,
		BackAndForth: BackAndForth{
			Enabled:  f.Motion.BackAndForth.Enabled,
			Distance: f.Motion.BackAndForth.Distance,
			Velocity: f.Motion.BackAndForth.Velocity,
		},
	}, nil
}

func buildDevices(f config.FRAConfig) (axis.Axis, engine.Factory, func() error, error) {
	a := f.Axis

	switch a.Driver {
	case config.DriverSim:
		ax := axis.NewSim(a.Name, a.SupportedMethods, a.TimeScale)
		engines := engine.SimFactory(engine.SimConfig{TimeScale: a.TimeScale})
		return ax, engines, func() error { return nil }, nil

	case config.DriverModbus:
		// one connection, shared by the drive and every engine
		client, err := modbus.NewClient(modbus.Config{
			Endpoint: a.Endpoint,
			UnitID:   a.UnitID,
			Timeout:  time.Duration(a.TimeoutMs) * time.Millisecond,
		})
		if err != nil {
			return nil, nil, nil, err
		}

		poll := time.Duration(a.PollIntervalMs) * time.Millisecond
		drive, err := axis.NewDrive(client, axis.DriveConfig{
			Base:           a.AxisBase,
			PollInterval:   poll,
			CommandTimeout: time.Duration(f.Motion.MoveTimeoutMs) * time.Millisecond,
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}

		engines := engine.ModbusFactory(client, engine.ModbusConfig{
			Base:         a.EngineBase,
			PollInterval: poll,
		})
		return drive, engines, client.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("orchestrator: unknown axis driver %q", a.Driver)
	}
}
