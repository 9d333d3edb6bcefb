// internal/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tamzrod/frequency-response-automation/internal/axis"
	"github.com/tamzrod/frequency-response-automation/internal/bridge"
	"github.com/tamzrod/frequency-response-automation/internal/engine"
	"github.com/tamzrod/frequency-response-automation/internal/logging"
	"github.com/tamzrod/frequency-response-automation/internal/measurement"
	"github.com/tamzrod/frequency-response-automation/internal/metrics"
	"github.com/tamzrod/frequency-response-automation/internal/motion"
	"github.com/tamzrod/frequency-response-automation/internal/sink"
	"github.com/tamzrod/frequency-response-automation/internal/timeout"
)

const (
	DefaultCeiling     = 3 * time.Hour
	DefaultMoveTimeout = 10 * time.Second
)

// Config is the minimal runtime config of an Orchestrator.
type Config struct {
	Registry  []measurement.Method
	OutputDir string

	// Ceiling bounds one acquisition.
	Ceiling time.Duration
	// MoveTimeout bounds positioning moves, stops and back-and-forth legs.
	MoveTimeout time.Duration

	Sink    sink.Sink
	Now     func() time.Time
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

// Orchestrator runs frequency response measurements on one axis.
// Measurements on the same Orchestrator must not overlap.
type Orchestrator struct {
	axis    axis.Axis
	engines engine.Factory
	loop    *motion.Loop
	cfg     Config
	log     logrus.FieldLogger
}

func New(ax axis.Axis, engines engine.Factory, cfg Config) (*Orchestrator, error) {
	if ax == nil {
		return nil, errors.New("orchestrator: axis required")
	}
	if engines == nil {
		return nil, errors.New("orchestrator: engine factory required")
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = DefaultCeiling
	}
	if cfg.MoveTimeout <= 0 {
		cfg.MoveTimeout = DefaultMoveTimeout
	}
	if cfg.Sink == nil {
		cfg.Sink = sink.CSV{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	log := cfg.Logger.WithFields(logrus.Fields{"component": "orchestrator", "axis": ax.Name()})
	return &Orchestrator{
		axis:    ax,
		engines: engines,
		loop: motion.New(ax, motion.Config{
			MoveTimeout: cfg.MoveTimeout,
			Logger:      cfg.Logger,
			Metrics:     cfg.Metrics,
		}),
		cfg: cfg,
		log: log,
	}, nil
}

// Report describes one finished measurement.
type Report struct {
	Outcome bridge.Outcome
	// TimedOut is set when the ceiling elapsed first. Outcome is then zero.
	TimedOut bool
	Duration time.Duration
}

// Measure runs one acquisition at the current axis position.
//
// Invalid parameters fail with a *measurement.ConfigurationError before
// any hardware access. An elapsed ceiling cancels the acquisition and is
// reported through Report.TimedOut, not as an error. Once the engine
// exists it is closed and the axis tidied on every return path.
func (o *Orchestrator) Measure(ctx context.Context, p measurement.Parameters) (Report, error) {
	return o.measure(ctx, p, nil)
}

// measure runs quiesce, when set, before any teardown step touches the axis.
func (o *Orchestrator) measure(ctx context.Context, p measurement.Parameters, quiesce func()) (rep Report, err error) {
	started := o.cfg.Now()
	defer func() {
		rep.Duration = o.cfg.Now().Sub(started)
		o.cfg.Metrics.ObserveMeasurement(outcomeLabel(rep, err), rep.Duration)
	}()

	cs, err := measurement.NewControlSystem(o.axis, o.cfg.Registry, p)
	if err != nil {
		return rep, err
	}

	eng, err := o.engines()
	if err != nil {
		return rep, fmt.Errorf("orchestrator: create engine: %w", err)
	}

	var b *bridge.Bridge
	defer func() {
		if quiesce != nil {
			quiesce()
		}
		o.teardown(eng, b, cs)
	}()

	b, err = bridge.New(eng, bridge.Options{
		Dir:     o.cfg.OutputDir,
		Sink:    o.cfg.Sink,
		Now:     o.cfg.Now,
		Logger:  o.cfg.Logger,
		Metrics: o.cfg.Metrics,
	})
	if err != nil {
		return rep, err
	}

	log := o.log.WithFields(logrus.Fields{
		"method": cs.Method.Name,
		"range":  fmt.Sprintf("%g-%g Hz", p.FrequencyMin, p.FrequencyMax),
		"steps":  p.Steps,
	})
	if err := eng.Start(cs, p); err != nil {
		return rep, fmt.Errorf("orchestrator: start measurement: %w", err)
	}
	log.Info("measurement started")

	outcome, err := timeout.Await[bridge.Outcome](ctx, b, o.cfg.Ceiling)
	switch {
	case errors.Is(err, timeout.ErrTimeout):
		o.abort(eng, b)
		log.Warnf("measurement duration exceeded %s", o.cfg.Ceiling)
		rep.TimedOut = true
		return rep, nil

	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		o.abort(eng, b)
		log.WithError(err).Warn("measurement abandoned")
		return rep, err
	}

	rep.Outcome = outcome
	switch outcome.Status {
	case bridge.Succeeded:
		if outcome.Warning != nil {
			log.WithError(outcome.Warning).Warn("measurement succeeded with warnings")
		}
		log.WithField("path", outcome.ResultPath).Info("measurement succeeded")
		return rep, nil
	default:
		log.WithError(err).Error("measurement " + outcome.Status.String())
		return rep, err
	}
}

// abort settles b as canceled, so a late result is never saved, then asks
// the engine to cancel without waiting for it.
func (o *Orchestrator) abort(eng engine.Engine, b *bridge.Bridge) {
	b.Cancel()
	if err := eng.Cancel(); err != nil {
		o.log.WithError(err).Error("cancel measurement failed")
		o.cfg.Metrics.TeardownError("cancel")
	}
}

// teardown releases the engine and an unused artifact, then tidies the
// axis. Failures are logged and counted, never returned.
func (o *Orchestrator) teardown(eng engine.Engine, b *bridge.Bridge, cs *measurement.ControlSystem) {
	if err := eng.Close(); err != nil {
		o.log.WithError(err).Error("close measurement engine failed")
		o.cfg.Metrics.TeardownError("close")
	}
	if b != nil {
		b.Wait()
		b.Release()
	}
	if err := cs.Tidy(); err != nil {
		o.log.WithError(err).Error("tidy axis failed")
		o.cfg.Metrics.TeardownError("tidy")
	}
}

func outcomeLabel(rep Report, err error) string {
	var cfgErr *measurement.ConfigurationError
	switch {
	case rep.TimedOut:
		return "timeout"
	case errors.As(err, &cfgErr):
		return "invalid"
	case err != nil && rep.Outcome.Err == nil:
		return "error"
	default:
		return rep.Outcome.Status.String()
	}
}
