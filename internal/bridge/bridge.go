// internal/bridge/bridge.go
package bridge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tamzrod/frequency-response-automation/internal/engine"
	"github.com/tamzrod/frequency-response-automation/internal/logging"
	"github.com/tamzrod/frequency-response-automation/internal/measurement"
	"github.com/tamzrod/frequency-response-automation/internal/metrics"
	"github.com/tamzrod/frequency-response-automation/internal/sink"
)

// ErrCanceled is the error of a Canceled outcome.
var ErrCanceled = errors.New("measurement canceled")

// EngineFault reports an engine failure without a usable result.
type EngineFault struct {
	Reason string
	Cause  error // engine failure detail, may be nil
}

func (e *EngineFault) Error() string {
	if e.Cause != nil {
		return "engine fault: " + e.Reason + ": " + e.Cause.Error()
	}
	return "engine fault: " + e.Reason
}

func (e *EngineFault) Unwrap() error { return e.Cause }

// Status tags an Outcome.
type Status int

const (
	Succeeded Status = iota
	Faulted
	Canceled
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Faulted:
		return "faulted"
	case Canceled:
		return "canceled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the settled value of a Bridge.
type Outcome struct {
	Status Status
	Result *measurement.Result // Succeeded only

	// Warning carries non-fatal detail of a Succeeded outcome: a partial
	// engine failure and/or a failed save.
	Warning error

	// Err is nil for Succeeded, ErrCanceled for Canceled, *EngineFault for Faulted.
	Err error

	// ResultPath is the written artifact, empty if nothing was saved.
	ResultPath string
}

// Options configures a Bridge.
type Options struct {
	Dir     string // artifact directory, created on construction
	Sink    sink.Sink
	Now     func() time.Time
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

// Bridge turns the progress and completion notifications of one engine
// into a single outcome that settles exactly once.
type Bridge struct {
	sink    sink.Sink
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	path    string

	mu      sync.Mutex
	claimed bool
	outcome Outcome
	done    chan struct{}

	pending sync.WaitGroup
}

var _ engine.Handler = (*Bridge)(nil)

// New creates the artifact directory, reserves the artifact path and
// subscribes to eng.
func New(eng engine.Engine, opts Options) (*Bridge, error) {
	if eng == nil {
		return nil, errors.New("bridge: engine required")
	}
	if opts.Sink == nil {
		opts.Sink = sink.CSV{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("bridge: create output directory: %w", err)
	}

	path, err := reserveArtifact(opts.Dir, opts.Now())
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		sink:    opts.Sink,
		log:     opts.Logger.WithField("component", "bridge"),
		metrics: opts.Metrics,
		path:    path,
		done:    make(chan struct{}),
	}
	eng.Subscribe(b)
	return b, nil
}

// reserveArtifact creates an empty <dir>/result_<timestamp>.csv, suffixed
// with _N while that name is taken. Creation is exclusive, so concurrent
// bridges never share a path.
func reserveArtifact(dir string, now time.Time) (string, error) {
	stem := "result_" + now.Format("20060102_150405.000")
	path := filepath.Join(dir, stem+".csv")
	for n := 1; ; n++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return path, f.Close()
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("bridge: reserve artifact: %w", err)
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.csv", stem, n))
	}
}

// Path is the artifact path reserved at construction.
func (b *Bridge) Path() string { return b.path }

// Done is closed once the outcome settled.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Result returns the settled outcome and its error. Valid once Done is closed.
func (b *Bridge) Result() (Outcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outcome, b.outcome.Err
}

// Cancel settles the outcome as Canceled unless it is already settled or
// a completion is being processed. It reports whether it won.
func (b *Bridge) Cancel() bool {
	if !b.claim() {
		return false
	}
	b.settle(Outcome{Status: Canceled, Err: ErrCanceled})
	return true
}

// Wait blocks until every completion handed to the bridge is processed.
func (b *Bridge) Wait() { b.pending.Wait() }

// Release removes the reserved artifact unless a result was saved to it.
// Call it after Wait.
func (b *Bridge) Release() {
	b.mu.Lock()
	saved := b.outcome.ResultPath != ""
	b.mu.Unlock()
	if saved {
		return
	}
	if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		b.log.WithError(err).WithField("path", b.path).Warn("removing unused artifact failed")
	}
}

func (b *Bridge) OnProgress(p engine.Progress) {
	b.metrics.ProgressPoint(p.Err != nil)

	log := b.log.WithFields(logrus.Fields{"point": p.Index, "frequency_hz": p.Frequency})
	if p.Err != nil {
		log.WithError(p.Err).Warn("measurement point failed")
		return
	}
	log.Debug("measurement point done")
}

// OnCompleted hands the completion off the engine goroutine.
func (b *Bridge) OnCompleted(c engine.Completion) {
	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		b.complete(c)
	}()
}

func (b *Bridge) complete(c engine.Completion) {
	if !b.claim() {
		b.log.Debug("completion after outcome settled, ignored")
		return
	}

	switch {
	case c.Canceled:
		b.settle(Outcome{Status: Canceled, Err: ErrCanceled})

	case c.Result != nil:
		o := Outcome{Status: Succeeded, Result: c.Result, Warning: c.Failure, ResultPath: b.path}
		if c.Failure != nil {
			b.log.WithError(c.Failure).Warn("measurement partially failed, keeping result")
		}
		if err := b.sink.Save(c.Result, b.path); err != nil {
			b.log.WithError(err).WithField("path", b.path).Error("saving result failed")
			o.Warning = errors.Join(o.Warning, fmt.Errorf("save result: %w", err))
			o.ResultPath = ""
		} else {
			b.log.WithField("path", b.path).Info("result saved")
		}
		b.settle(o)

	default:
		b.settle(Outcome{
			Status: Faulted,
			Err:    &EngineFault{Reason: "measurement produced no result", Cause: c.Failure},
		})
	}
}

// claim reserves the single settlement. First caller wins.
func (b *Bridge) claim() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.claimed {
		return false
	}
	b.claimed = true
	return true
}

// settle is called once, by the claim winner.
func (b *Bridge) settle(o Outcome) {
	b.mu.Lock()
	b.outcome = o
	b.mu.Unlock()
	close(b.done)
}
