package orchestrator

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/frequency-response-automation/internal/axis"
	"github.com/tamzrod/frequency-response-automation/internal/bridge"
	"github.com/tamzrod/frequency-response-automation/internal/engine"
	"github.com/tamzrod/frequency-response-automation/internal/measurement"
	"github.com/tamzrod/frequency-response-automation/internal/timeout"
)

var registry = []measurement.Method{
	{Name: "Open Loop", Capability: 0},
	{Name: "Closed Loop", ClosedLoop: true, Capability: 1},
}

func params() measurement.Parameters {
	return measurement.Parameters{
		FrequencyMin:     300,
		FrequencyMax:     400,
		Steps:            3,
		Spacing:          measurement.Optimized,
		ExcitationLimits: []float64{13.8, 0.5, 0.5},
		SettlingTime:     200 * time.Millisecond,
		SamplingPeriod:   10 * time.Microsecond,
		Method:           "Closed Loop",
	}
}

// countingEngine counts the lifecycle calls made by the orchestrator.
type countingEngine struct {
	engine.Engine
	closes  *atomic.Int32
	cancels *atomic.Int32
}

func (e countingEngine) Close() error {
	e.closes.Add(1)
	return e.Engine.Close()
}

func (e countingEngine) Cancel() error {
	e.cancels.Add(1)
	return e.Engine.Cancel()
}

type fixture struct {
	axis    *axis.Sim
	orch    *Orchestrator
	dir     string
	hook    *logtest.Hook
	created atomic.Int32
	closes  atomic.Int32
	cancels atomic.Int32
}

func newFixture(t *testing.T, sim engine.SimConfig, ceiling time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		axis: axis.NewSim("Axis 1", []string{"Open Loop", "Closed Loop"}, 0.0001),
		dir:  filepath.Join(t.TempDir(), "Frequency Response"),
	}
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	f.hook = hook

	factory := func() (engine.Engine, error) {
		f.created.Add(1)
		return countingEngine{Engine: engine.NewSim(sim), closes: &f.closes, cancels: &f.cancels}, nil
	}

	o, err := New(f.axis, factory, Config{
		Registry:  registry,
		OutputDir: f.dir,
		Ceiling:   ceiling,
		Logger:    logger,
	})
	require.NoError(t, err)
	f.orch = o
	return f
}

func (f *fixture) artifacts(t *testing.T) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(f.dir, "result_*.csv"))
	require.NoError(t, err)
	return files
}

func (f *fixture) logged(msg string) bool {
	for _, e := range f.hook.AllEntries() {
		if e.Message == msg {
			return true
		}
	}
	return false
}

func TestMeasure_EndToEnd(t *testing.T) {
	f := newFixture(t, engine.SimConfig{}, time.Minute)

	rep, err := f.orch.Measure(context.Background(), params())
	require.NoError(t, err)

	assert.Equal(t, bridge.Succeeded, rep.Outcome.Status)
	assert.False(t, rep.TimedOut)
	require.Equal(t, 3, rep.Outcome.Result.Len())

	files := f.artifacts(t)
	require.Len(t, files, 1)
	assert.Equal(t, files[0], rep.Outcome.ResultPath)

	fh, err := os.Open(files[0])
	require.NoError(t, err)
	defer fh.Close()
	rows, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 1+3, "header plus one row per frequency")

	assert.Equal(t, int32(1), f.closes.Load())
	assert.Equal(t, 1, f.axis.Tidied())
}

func TestMeasure_DisposesExactlyOnceOnEveryPath(t *testing.T) {
	cases := []struct {
		name    string
		sim     engine.SimConfig
		ceiling time.Duration
		cancel  bool
		check   func(t *testing.T, rep Report, err error)
	}{
		{
			name:    "success",
			ceiling: time.Minute,
			check: func(t *testing.T, rep Report, err error) {
				require.NoError(t, err)
				assert.Equal(t, bridge.Succeeded, rep.Outcome.Status)
			},
		},
		{
			name:    "partial failure",
			sim:     engine.SimConfig{Failure: errors.New("point 1 failed")},
			ceiling: time.Minute,
			check: func(t *testing.T, rep Report, err error) {
				require.NoError(t, err)
				assert.Equal(t, bridge.Succeeded, rep.Outcome.Status)
				assert.Error(t, rep.Outcome.Warning)
			},
		},
		{
			name:    "fault",
			sim:     engine.SimConfig{NoResult: true},
			ceiling: time.Minute,
			check: func(t *testing.T, rep Report, err error) {
				var fault *bridge.EngineFault
				require.ErrorAs(t, err, &fault)
				assert.Equal(t, bridge.Faulted, rep.Outcome.Status)
			},
		},
		{
			name:    "timeout",
			sim:     engine.SimConfig{Hang: true},
			ceiling: 20 * time.Millisecond,
			check: func(t *testing.T, rep Report, err error) {
				require.NoError(t, err)
				assert.True(t, rep.TimedOut)
			},
		},
		{
			name:    "caller canceled",
			sim:     engine.SimConfig{Hang: true},
			ceiling: time.Minute,
			cancel:  true,
			check: func(t *testing.T, rep Report, err error) {
				assert.ErrorIs(t, err, context.Canceled)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.sim, tc.ceiling)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tc.cancel {
				time.AfterFunc(10*time.Millisecond, cancel)
			}

			rep, err := f.orch.Measure(ctx, params())
			tc.check(t, rep, err)

			assert.Equal(t, int32(1), f.created.Load())
			assert.Equal(t, int32(1), f.closes.Load())
			assert.Equal(t, 1, f.axis.Tidied())
		})
	}
}

func TestMeasure_TimeoutCancelsAndLogs(t *testing.T) {
	f := newFixture(t, engine.SimConfig{Hang: true}, 20*time.Millisecond)

	start := time.Now()
	rep, err := f.orch.Measure(context.Background(), params())
	require.NoError(t, err)

	assert.True(t, rep.TimedOut)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), f.cancels.Load())
	assert.Equal(t, int32(1), f.closes.Load())
	assert.True(t, f.logged("measurement duration exceeded 20ms"))
	assert.Empty(t, f.artifacts(t))
}

func TestMeasure_ConfigurationErrorBeforeHardware(t *testing.T) {
	f := newFixture(t, engine.SimConfig{}, time.Minute)
	p := params()
	p.Method = "Current Loop"

	_, err := f.orch.Measure(context.Background(), p)

	var cfgErr *measurement.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Zero(t, f.created.Load())
	assert.Zero(t, f.axis.Tidied())
}

// failingStart refuses to start.
type failingStart struct {
	engine.Engine
	closes *atomic.Int32
}

func (e failingStart) Start(*measurement.ControlSystem, measurement.Parameters) error {
	return errors.New("engine busy")
}

func (e failingStart) Close() error {
	e.closes.Add(1)
	return nil
}

func TestMeasure_StartFailureStillTearsDown(t *testing.T) {
	var closes atomic.Int32
	ax := axis.NewSim("Axis 1", []string{"Closed Loop"}, 0)
	dir := t.TempDir()
	o, err := New(ax, func() (engine.Engine, error) {
		return failingStart{Engine: engine.NewSim(engine.SimConfig{}), closes: &closes}, nil
	}, Config{Registry: registry, OutputDir: dir})
	require.NoError(t, err)

	_, err = o.Measure(context.Background(), params())
	assert.ErrorContains(t, err, "engine busy")
	assert.Equal(t, int32(1), closes.Load())
	assert.Equal(t, 1, ax.Tidied())

	files, err := filepath.Glob(filepath.Join(dir, "result_*.csv"))
	require.NoError(t, err)
	assert.Empty(t, files, "reserved artifact left behind")
}

// ---- motion during measurement ----

// stuckAxis never reports a terminated move, as if every leg ran out of time.
type stuckAxis struct {
	*axis.Sim
}

type stuckRequest struct{}

func (stuckRequest) WaitForTermination(time.Duration) (bool, error) { return false, nil }
func (stuckRequest) Termination() axis.Termination                  { return axis.Pending }

func (a stuckAxis) MoveAbsolute(float64, float64) (axis.Request, error) {
	return stuckRequest{}, nil
}

func TestMeasureWithMotion_LoopTimeoutDoesNotAffectMeasurement(t *testing.T) {
	ax := stuckAxis{axis.NewSim("Axis 1", []string{"Closed Loop"}, 0)}
	o, err := New(ax, engine.SimFactory(engine.SimConfig{}), Config{
		Registry:    registry,
		OutputDir:   t.TempDir(),
		MoveTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	rep, err := o.MeasureWithMotion(context.Background(), params(), BackAndForth{Enabled: true, Distance: 30, Velocity: 10})

	require.ErrorIs(t, err, timeout.ErrTimeout)
	var te *timeout.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 50*time.Millisecond, te.After)

	assert.Equal(t, bridge.Succeeded, rep.Outcome.Status)
	assert.FileExists(t, rep.Outcome.ResultPath)
}

func TestMeasureWithMotion_RequiresClosedLoop(t *testing.T) {
	f := newFixture(t, engine.SimConfig{}, time.Minute)
	p := params()
	p.Method = "Open Loop"

	_, err := f.orch.MeasureWithMotion(context.Background(), p, BackAndForth{Enabled: true, Distance: 30, Velocity: 10})

	var cfgErr *measurement.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "back_and_forth", cfgErr.Field)
	assert.Zero(t, f.created.Load())
}

// ---- run plan ----

// serialAxis fails the test when two calls reach the axis at once and
// records every call after the run returned.
type serialAxis struct {
	*axis.Sim
	busy     atomic.Int32
	overlaps atomic.Int32

	mu     sync.Mutex
	events []string
}

func (a *serialAxis) enter(name string) func() {
	if a.busy.Add(1) > 1 {
		a.overlaps.Add(1)
	}
	a.mu.Lock()
	a.events = append(a.events, name)
	a.mu.Unlock()
	return func() { a.busy.Add(-1) }
}

func (a *serialAxis) log() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

func (a *serialAxis) MoveAbsolute(pos, v float64) (axis.Request, error) {
	defer a.enter("move")()
	return a.Sim.MoveAbsolute(pos, v)
}

func (a *serialAxis) Stop(immediate bool) (axis.Request, error) {
	defer a.enter("stop")()
	return a.Sim.Stop(immediate)
}

func (a *serialAxis) Tidy() error {
	defer a.enter("tidy")()
	return a.Sim.Tidy()
}

func TestRun_MeasuresEveryPosition(t *testing.T) {
	f := newFixture(t, engine.SimConfig{}, time.Minute)

	reports, err := f.orch.Run(context.Background(), Plan{
		Parameters:       params(),
		Positions:        []float64{0, 50},
		PositionVelocity: 1000,
		BackAndForth:     BackAndForth{Enabled: true, Distance: 30, Velocity: 10},
	})
	require.NoError(t, err)

	require.Len(t, reports, 2)
	for _, rep := range reports {
		assert.Equal(t, bridge.Succeeded, rep.Outcome.Status)
	}
	assert.Len(t, f.artifacts(t), 2)
	assert.Equal(t, int32(2), f.closes.Load())
	assert.Equal(t, 2, f.axis.Tidied())

	require.NoError(t, f.orch.Shutdown())
	req, err := f.axis.MoveAbsolute(1, 1)
	require.NoError(t, err)
	assert.Error(t, axis.WaitForSuccess(req, time.Second), "axis still enabled after shutdown")
}

func TestRun_BackAndForthWithOpenLoopFailsBeforeMotion(t *testing.T) {
	f := newFixture(t, engine.SimConfig{}, time.Minute)
	p := params()
	p.Method = "Open Loop"

	_, err := f.orch.Run(context.Background(), Plan{
		Parameters:       p,
		Positions:        []float64{10},
		PositionVelocity: 1000,
		BackAndForth:     BackAndForth{Enabled: true, Distance: 30, Velocity: 10},
	})

	var cfgErr *measurement.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	pos, _ := f.axis.Position()
	assert.Zero(t, pos)
	assert.Zero(t, f.created.Load())
}

func TestRun_StopsAtFirstFailure(t *testing.T) {
	f := newFixture(t, engine.SimConfig{NoResult: true}, time.Minute)

	reports, err := f.orch.Run(context.Background(), Plan{
		Parameters:       params(),
		Positions:        []float64{0, 10, 20},
		PositionVelocity: 1000,
	})

	var fault *bridge.EngineFault
	require.ErrorAs(t, err, &fault)
	assert.Len(t, reports, 1)
	assert.Equal(t, int32(1), f.created.Load())
}

func TestRun_WithoutPositionsMeasuresInPlace(t *testing.T) {
	f := newFixture(t, engine.SimConfig{}, time.Minute)

	reports, err := f.orch.Run(context.Background(), Plan{Parameters: params()})
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}

// A measurement that completes at once races the loop's first leg. The
// loop must be at rest before the axis is stopped and no command may
// reach the axis once the run returned.
func TestRun_AxisAccessStaysSerialized(t *testing.T) {
	for i := 0; i < 20; i++ {
		sim := axis.NewSim("Axis 1", []string{"Closed Loop"}, 0.00001)
		ax := &serialAxis{Sim: sim}
		o, err := New(ax, engine.SimFactory(engine.SimConfig{}), Config{Registry: registry, OutputDir: t.TempDir()})
		require.NoError(t, err)

		_, err = o.Run(context.Background(), Plan{
			Parameters:       params(),
			Positions:        []float64{0, 5, 10},
			PositionVelocity: 1000,
			BackAndForth:     BackAndForth{Enabled: true, Distance: 2, Velocity: 1000},
		})
		require.NoError(t, err)

		events := ax.log()
		time.Sleep(5 * time.Millisecond)
		assert.Equal(t, events, ax.log(), "axis commanded after the run returned")
		assert.Zero(t, ax.overlaps.Load())

		// every stop is followed by the next positioning move or nothing
		for j, e := range events {
			if e == "stop" && j+1 < len(events) {
				assert.Contains(t, []string{"move", "tidy"}, events[j+1])
			}
		}
	}
}
