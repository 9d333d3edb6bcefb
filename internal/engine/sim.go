// internal/engine/sim.go
package engine

import (
	"errors"
	"math"
	"math/cmplx"
	"sync"
	"time"

	"github.com/tamzrod/frequency-response-automation/internal/measurement"
)

// SimConfig shapes an offline acquisition.
type SimConfig struct {
	// TimeScale multiplies the settling time spent per point. 0 runs flat out.
	TimeScale float64

	// Plant: second order low pass.
	NaturalHz float64
	Damping   float64

	// Failure injection.
	PointErrors map[int]error // keyed by point index
	Failure     error         // completion failure detail
	NoResult    bool          // complete without a result
	Hang        bool          // never complete unless canceled
}

// Sim produces a plant response offline, one point per settling time.
type Sim struct {
	cfg SimConfig

	mu       sync.Mutex
	dispatch dispatcher
	started  bool
	closed   bool

	cancelOnce sync.Once
	cancel     chan struct{}
	quit       chan struct{}
	wg         sync.WaitGroup
}

var _ Engine = (*Sim)(nil)

func NewSim(cfg SimConfig) *Sim {
	if cfg.NaturalHz <= 0 {
		cfg.NaturalHz = 350
	}
	if cfg.Damping <= 0 {
		cfg.Damping = 0.2
	}
	return &Sim{
		cfg:    cfg,
		cancel: make(chan struct{}),
		quit:   make(chan struct{}),
	}
}

// SimFactory creates a fresh simulated engine per measurement.
func SimFactory(cfg SimConfig) Factory {
	return func() (Engine, error) {
		return NewSim(cfg), nil
	}
}

func (s *Sim) Subscribe(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatch.handlers = append(s.dispatch.handlers, h)
}

func (s *Sim) Start(cs *measurement.ControlSystem, p measurement.Parameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("sim engine: start after close")
	}
	if s.started {
		return errors.New("sim engine: already started")
	}
	if cs == nil {
		return errors.New("sim engine: control system required")
	}
	s.started = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sweep(p)
	}()
	return nil
}

func (s *Sim) Cancel() error {
	s.cancelOnce.Do(func() { close(s.cancel) })
	return nil
}

// Close stops the sweep without a completion and waits for it.
func (s *Sim) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.quit)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Sim) sweep(p measurement.Parameters) {
	settle := time.Duration(float64(p.SettlingTime) * s.cfg.TimeScale)
	channels := channelCount(p)

	res := &measurement.Result{
		Channels: ChannelNames(channels),
		Spacing:  p.Spacing,
	}

	for i, f := range p.Frequencies() {
		if !s.wait(settle) {
			return
		}
		res.Samples = append(res.Samples, measurement.Sample{
			Frequency: f,
			Response:  s.response(f, p.ExcitationLimits, channels),
		})
		s.dispatch.progress(Progress{Index: i, Frequency: f, Err: s.cfg.PointErrors[i]})
	}

	if s.cfg.Hang && !s.wait(-1) {
		return
	}

	c := Completion{Failure: s.cfg.Failure, Result: res}
	if s.cfg.NoResult {
		c.Result = nil
	}
	s.dispatch.completed(c)
}

// wait sleeps d (forever if d < 0). It reports false once the sweep is over:
// on cancel it raises the canceled completion, on close nothing.
func (s *Sim) wait(d time.Duration) bool {
	var timeout <-chan time.Time
	if d >= 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-s.quit:
		return false
	case <-s.cancel:
		s.dispatch.completed(Completion{Canceled: true})
		return false
	case <-timeout:
		return true
	}
}

// response evaluates the plant at f for every channel. Channel k sees the
// plant output differentiated k times, scaled by its excitation limit.
func (s *Sim) response(f float64, limits []float64, channels int) []complex128 {
	wn := 2 * math.Pi * s.cfg.NaturalHz
	jw := complex(0, 2*math.Pi*f)
	h := complex(wn*wn, 0) / (jw*jw + complex(2*s.cfg.Damping*wn, 0)*jw + complex(wn*wn, 0))

	out := make([]complex128, channels)
	for k := range out {
		gain := 1.0
		if k < len(limits) && limits[k] > 0 {
			gain = limits[k]
		}
		out[k] = complex(gain, 0) * h * cmplx.Pow(jw/complex(wn, 0), complex(float64(k), 0))
	}
	return out
}
