// internal/motion/loop.go
package motion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tamzrod/frequency-response-automation/internal/axis"
	"github.com/tamzrod/frequency-response-automation/internal/logging"
	"github.com/tamzrod/frequency-response-automation/internal/metrics"
	"github.com/tamzrod/frequency-response-automation/internal/timeout"
)

// DefaultMoveTimeout bounds every leg.
const DefaultMoveTimeout = 10 * time.Second

// State is the lifecycle of a running back-and-forth cycle.
type State int

const (
	Running State = iota
	StopRequested
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case StopRequested:
		return "stop-requested"
	default:
		return "stopped"
	}
}

// Config is the minimal runtime config of a Loop.
type Config struct {
	MoveTimeout time.Duration
	Logger      logrus.FieldLogger
	Metrics     *metrics.Metrics
}

// Loop moves an axis back and forth around the position it starts from.
type Loop struct {
	axis axis.Axis
	cfg  Config
}

func New(ax axis.Axis, cfg Config) *Loop {
	if cfg.MoveTimeout <= 0 {
		cfg.MoveTimeout = DefaultMoveTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Loop{axis: ax, cfg: cfg}
}

// Task is one running cycle.
type Task struct {
	ctx  context.Context
	stop context.CancelFunc
	done chan struct{}
	err  error
}

// Start runs the cycle on its own goroutine until ctx ends or Stop is
// called. Cancellation is only checked between legs: the leg in flight
// always finishes first.
func (l *Loop) Start(ctx context.Context, distance, velocity float64) *Task {
	ctx, stop := context.WithCancel(ctx)
	t := &Task{ctx: ctx, stop: stop, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		defer stop()
		t.err = l.run(ctx, distance, velocity)
	}()
	return t
}

// Stop requests the cycle to end after the leg in flight.
func (t *Task) Stop() { t.stop() }

// Done is closed once the cycle stopped.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the cycle stopped and returns its failure, if any.
// A requested stop is not a failure.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

func (t *Task) State() State {
	select {
	case <-t.done:
		return Stopped
	default:
	}
	if t.ctx.Err() != nil {
		return StopRequested
	}
	return Running
}

func (l *Loop) run(ctx context.Context, distance, velocity float64) error {
	if distance <= 0 || velocity <= 0 {
		return fmt.Errorf("motion: distance and velocity must be > 0, got %g and %g", distance, velocity)
	}

	ref, err := l.axis.Position()
	if err != nil {
		return fmt.Errorf("motion: read reference position: %w", err)
	}

	log := l.cfg.Logger.WithFields(logrus.Fields{
		"component": "motion",
		"axis":      l.axis.Name(),
		"reference": ref,
	})
	log.WithFields(logrus.Fields{"distance": distance, "velocity": velocity}).Info("back and forth move started")

	for cycle := 0; ctx.Err() == nil; cycle++ {
		if err := l.leg(log, "forth", ref+distance/2, velocity); err != nil {
			return err
		}
		if ctx.Err() != nil {
			break
		}
		if err := l.leg(log, "back", ref-distance/2, -velocity); err != nil {
			return err
		}
		log.WithField("cycle", cycle).Debug("cycle done")
	}

	log.Info("back and forth move stopped")
	return nil
}

func (l *Loop) leg(log logrus.FieldLogger, name string, target, velocity float64) error {
	req, err := l.axis.MoveAbsolute(target, velocity)
	if err != nil {
		l.cfg.Metrics.MotionLeg("error")
		return fmt.Errorf("motion: %s leg: %w", name, err)
	}

	term, err := axis.Await(req, l.cfg.MoveTimeout)
	switch {
	case errors.Is(err, timeout.ErrTimeout):
		l.cfg.Metrics.MotionLeg("timeout")
	case err != nil && term == axis.Pending:
		l.cfg.Metrics.MotionLeg("error")
	default:
		l.cfg.Metrics.MotionLeg(term.String())
	}
	if err != nil {
		log.WithError(err).WithField("leg", name).Error("back and forth move failed")
		return fmt.Errorf("motion: %s leg to %g: %w", name, target, err)
	}
	return nil
}
