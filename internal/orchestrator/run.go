// internal/orchestrator/run.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tamzrod/frequency-response-automation/internal/axis"
	"github.com/tamzrod/frequency-response-automation/internal/measurement"
)

// BackAndForth is the motion profile run during a measurement.
type BackAndForth struct {
	Enabled  bool
	Distance float64
	Velocity float64
}

// Plan is a measurement campaign: one measurement per position.
type Plan struct {
	Parameters measurement.Parameters

	// Positions to measure at. Empty measures once where the axis stands.
	Positions        []float64
	PositionVelocity float64

	BackAndForth BackAndForth
}

// MeasureWithMotion runs Measure while the axis moves back and forth.
// The motion is stopped and has come to rest before the axis is tidied;
// its failure is joined to the measurement error.
func (o *Orchestrator) MeasureWithMotion(ctx context.Context, p measurement.Parameters, bf BackAndForth) (Report, error) {
	if !bf.Enabled {
		return o.Measure(ctx, p)
	}
	if err := o.checkBackAndForth(p); err != nil {
		return Report{}, err
	}

	task := o.loop.Start(ctx, bf.Distance, bf.Velocity)
	var (
		once    sync.Once
		loopErr error
	)
	quiesce := func() {
		once.Do(func() {
			task.Stop()
			loopErr = task.Wait()
		})
	}

	rep, err := o.measure(ctx, p, quiesce)
	quiesce()
	if loopErr != nil {
		o.log.WithError(loopErr).Error("back and forth move failed during measurement")
	}
	return rep, errors.Join(err, loopErr)
}

// checkBackAndForth rejects motion with a method that does not close the
// position loop.
func (o *Orchestrator) checkBackAndForth(p measurement.Parameters) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m, err := measurement.ResolveMethod(o.cfg.Registry, o.axis, p.Method)
	if err != nil {
		return err
	}
	if !m.ClosedLoop {
		return &measurement.ConfigurationError{
			Field:  "back_and_forth",
			Reason: fmt.Sprintf("back and forth move requires a closed loop method, %q is not", m.Name),
		}
	}
	return nil
}

// Run powers the axis and measures at every position of plan.
//
// Each position is approached and the axis stopped afterwards, both
// bounded by the move timeout. Run stops at the first failure; the axis
// stays powered, Shutdown turns it off.
func (o *Orchestrator) Run(ctx context.Context, plan Plan) ([]Report, error) {
	if plan.BackAndForth.Enabled {
		if err := o.checkBackAndForth(plan.Parameters); err != nil {
			return nil, err
		}
	} else if err := plan.Parameters.Validate(); err != nil {
		return nil, err
	}
	if len(plan.Positions) > 0 && plan.PositionVelocity <= 0 {
		return nil, &measurement.ConfigurationError{Field: "position_velocity", Reason: "must be > 0"}
	}

	if err := o.axis.SwitchOn(); err != nil {
		return nil, fmt.Errorf("orchestrator: switch on: %w", err)
	}
	if err := o.axis.Enable(); err != nil {
		return nil, fmt.Errorf("orchestrator: enable: %w", err)
	}

	runs := len(plan.Positions)
	if runs == 0 {
		runs = 1
	}

	reports := make([]Report, 0, runs)
	for i := 0; i < runs; i++ {
		if err := ctx.Err(); err != nil {
			return reports, err
		}

		log := o.log.WithField("position_index", i)
		if i < len(plan.Positions) {
			pos := plan.Positions[i]
			log = log.WithField("position", pos)
			if err := o.moveTo(pos, plan.PositionVelocity); err != nil {
				return reports, err
			}
		}
		log.Info("measuring")

		rep, err := o.MeasureWithMotion(ctx, plan.Parameters, plan.BackAndForth)
		reports = append(reports, rep)

		if stopErr := o.stop(); stopErr != nil {
			err = errors.Join(err, stopErr)
		}
		if err != nil {
			log.WithError(err).Error("measurement at position failed")
			return reports, err
		}
	}
	return reports, nil
}

// Shutdown disables the control loop and switches the power section off.
func (o *Orchestrator) Shutdown() error {
	var errs []error
	if err := o.axis.Disable(); err != nil {
		o.log.WithError(err).Error("disable failed")
		errs = append(errs, fmt.Errorf("orchestrator: disable: %w", err))
	}
	if err := o.axis.SwitchOff(); err != nil {
		o.log.WithError(err).Error("switch off failed")
		errs = append(errs, fmt.Errorf("orchestrator: switch off: %w", err))
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) moveTo(pos, velocity float64) error {
	req, err := o.axis.MoveAbsolute(pos, velocity)
	if err != nil {
		return fmt.Errorf("orchestrator: move to %g: %w", pos, err)
	}
	if err := axis.WaitForSuccess(req, o.cfg.MoveTimeout); err != nil {
		return fmt.Errorf("orchestrator: move to %g: %w", pos, err)
	}
	o.log.WithFields(logrus.Fields{"position": pos}).Debug("position reached")
	return nil
}

func (o *Orchestrator) stop() error {
	req, err := o.axis.Stop(false)
	if err != nil {
		return fmt.Errorf("orchestrator: stop: %w", err)
	}
	if err := axis.WaitForSuccess(req, o.cfg.MoveTimeout); err != nil {
		return fmt.Errorf("orchestrator: stop: %w", err)
	}
	return nil
}
