// internal/axis/sim.go
package axis

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/tamzrod/frequency-response-automation/internal/measurement"
)

// Sim is a rather simplified offline axis.
// A move takes |distance| / |velocity| seconds, multiplied by TimeScale.
// A new command supersedes the move in flight.
type Sim struct {
	name      string
	methods   map[string]bool
	timeScale float64

	mu       sync.Mutex
	position float64
	powered  bool
	enabled  bool
	current  *simRequest
	tidied   int
	forced   []Termination
}

var _ Axis = (*Sim)(nil)

// NewSim creates a simulated axis supporting the named methods.
// A timeScale of 0 completes every move immediately.
func NewSim(name string, methods []string, timeScale float64) *Sim {
	s := &Sim{
		name:      name,
		methods:   make(map[string]bool, len(methods)),
		timeScale: timeScale,
	}
	for _, m := range methods {
		s.methods[m] = true
	}
	return s
}

func (s *Sim) Name() string { return s.name }

func (s *Sim) SupportsMethod(m measurement.Method) bool { return s.methods[m.Name] }

func (s *Sim) SwitchOn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.powered = true
	return nil
}

func (s *Sim) SwitchOff() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supersedeLocked()
	s.enabled = false
	s.powered = false
	return nil
}

func (s *Sim) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.powered {
		return errors.New("sim axis: enable: power section is off")
	}
	s.enabled = true
	return nil
}

func (s *Sim) Disable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supersedeLocked()
	s.enabled = false
	return nil
}

func (s *Sim) Tidy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tidied++
	return nil
}

// Tidied reports how often Tidy ran.
func (s *Sim) Tidied() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tidied
}

func (s *Sim) Position() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return s.current.positionAt(time.Now()), nil
	}
	return s.position, nil
}

func (s *Sim) MoveAbsolute(position, velocity float64) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveLocked(position, velocity), nil
}

func (s *Sim) MoveRelative(distance, velocity float64) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.position
	if s.current != nil {
		from = s.current.target
	}
	return s.moveLocked(from+distance, velocity), nil
}

func (s *Sim) Stop(immediate bool) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supersedeLocked()
	return terminated(Completed), nil
}

// ForceNext makes the next move terminate immediately with t, without moving.
// Calls queue up in order.
func (s *Sim) ForceNext(t Termination) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forced = append(s.forced, t)
}

func (s *Sim) moveLocked(target, velocity float64) Request {
	if !s.enabled || velocity == 0 || math.IsNaN(target) {
		return terminated(Rejected)
	}
	s.supersedeLocked()
	if len(s.forced) > 0 {
		t := s.forced[0]
		s.forced = s.forced[1:]
		return terminated(t)
	}

	d := time.Duration(math.Abs(target-s.position) / math.Abs(velocity) * s.timeScale * float64(time.Second))
	r := &simRequest{
		done:    make(chan struct{}),
		from:    s.position,
		target:  target,
		started: time.Now(),
		dur:     d,
	}
	s.current = r
	r.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.current != r {
			return
		}
		s.position = target
		s.current = nil
		r.finish(Completed)
	})
	return r
}

// supersedeLocked ends the move in flight where the axis currently is.
func (s *Sim) supersedeLocked() {
	r := s.current
	if r == nil {
		return
	}
	r.timer.Stop()
	s.position = r.positionAt(time.Now())
	s.current = nil
	r.finish(Superseded)
}

type simRequest struct {
	done    chan struct{}
	timer   *time.Timer
	from    float64
	target  float64
	started time.Time
	dur     time.Duration

	once sync.Once
	mu   sync.Mutex
	term Termination
}

func terminated(t Termination) *simRequest {
	r := &simRequest{done: make(chan struct{})}
	r.finish(t)
	return r
}

func (r *simRequest) finish(t Termination) {
	r.once.Do(func() {
		r.mu.Lock()
		r.term = t
		r.mu.Unlock()
		close(r.done)
	})
}

func (r *simRequest) positionAt(now time.Time) float64 {
	if r.dur <= 0 {
		return r.target
	}
	frac := float64(now.Sub(r.started)) / float64(r.dur)
	if frac >= 1 {
		return r.target
	}
	return r.from + (r.target-r.from)*frac
}

func (r *simRequest) Termination() Termination {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.term
}

func (r *simRequest) WaitForTermination(limit time.Duration) (bool, error) {
	t := time.NewTimer(limit)
	defer t.Stop()
	select {
	case <-r.done:
		return true, nil
	case <-t.C:
		return false, nil
	}
}
