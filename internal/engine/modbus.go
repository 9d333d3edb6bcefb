// internal/engine/modbus.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tamzrod/frequency-response-automation/internal/measurement"
	"github.com/tamzrod/frequency-response-automation/internal/modbus"
)

// maxReadQty is the Modbus limit for one holding register read.
const maxReadQty = 125

// ModbusConfig is the minimal runtime config of the on-drive engine.
type ModbusConfig struct {
	Base         uint16        // engine register base
	PollInterval time.Duration // status polling period
	// MaxReadErrors consecutive failed status reads end the measurement.
	MaxReadErrors int
}

// Modbus runs the sweep on the drive and follows it by polling the
// engine status block.
type Modbus struct {
	regs modbus.Registers
	cfg  ModbusConfig

	mu       sync.Mutex
	dispatch dispatcher
	started  bool
	closed   bool
	stop     context.CancelFunc
	wg       sync.WaitGroup

	// poller goroutine only
	freqs      []float64
	channels   int
	spacing    measurement.Spacing
	reported   int
	readErrors int
}

var _ Engine = (*Modbus)(nil)

// NewModbus validates cfg. Nothing is written until Start.
func NewModbus(regs modbus.Registers, cfg ModbusConfig) (*Modbus, error) {
	if regs == nil {
		return nil, errors.New("modbus engine: registers required")
	}
	if cfg.PollInterval <= 0 {
		return nil, errors.New("modbus engine: poll interval must be > 0")
	}
	if cfg.MaxReadErrors <= 0 {
		cfg.MaxReadErrors = 5
	}
	if _, err := modbus.Address(cfg.Base, 0, modbus.EngineSpan(0, 0)); err != nil {
		return nil, fmt.Errorf("modbus engine: engine base: %w", err)
	}
	return &Modbus{regs: regs, cfg: cfg}, nil
}

// ModbusFactory creates one engine per measurement over the shared registers.
func ModbusFactory(regs modbus.Registers, cfg ModbusConfig) Factory {
	return func() (Engine, error) {
		return NewModbus(regs, cfg)
	}
}

func (m *Modbus) Subscribe(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatch.handlers = append(m.dispatch.handlers, h)
}

func (m *Modbus) Start(cs *measurement.ControlSystem, p measurement.Parameters) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("modbus engine: start after close")
	}
	if m.started {
		return errors.New("modbus engine: already started")
	}

	block, err := parameterBlock(cs, p)
	if err != nil {
		return err
	}
	if _, err := modbus.Address(m.cfg.Base, 0, modbus.EngineSpan(p.Steps, channelCount(p))); err != nil {
		return &measurement.ConfigurationError{Field: "steps", Reason: err.Error()}
	}
	if err := m.regs.WriteRegisters(m.cfg.Base+modbus.EngineCommand, block); err != nil {
		return fmt.Errorf("modbus engine: write parameters: %w", err)
	}

	m.started = true
	m.freqs = p.Frequencies()
	m.channels = channelCount(p)
	m.spacing = p.Spacing

	ctx, stop := context.WithCancel(context.Background())
	m.stop = stop
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		modbus.Run(ctx, m.cfg.PollInterval, m.poll)
	}()
	return nil
}

func (m *Modbus) Cancel() error {
	m.mu.Lock()
	live := m.started && !m.closed
	m.mu.Unlock()
	if !live {
		return nil
	}
	if err := m.regs.WriteRegisters(m.cfg.Base+modbus.EngineCommand, []uint16{modbus.EngineCmdCancel}); err != nil {
		return fmt.Errorf("modbus engine: write cancel: %w", err)
	}
	return nil
}

// Close stops polling and waits for the poller goroutine.
// The sweep itself is not stopped: Cancel does that.
func (m *Modbus) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stop := m.stop
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	m.wg.Wait()
	return nil
}

// ---- POLLING ----

// poll reads the status block once. It returns true once the completion
// has been raised.
func (m *Modbus) poll() bool {
	st, err := m.regs.ReadHoldingRegisters(m.cfg.Base+modbus.EngineStatusOffset, modbus.EngineStatusBlockSize)
	if err != nil {
		m.readErrors++
		if m.readErrors >= m.cfg.MaxReadErrors {
			m.dispatch.completed(Completion{Failure: fmt.Errorf("modbus engine: read status: %w", err)})
			return true
		}
		return false
	}
	m.readErrors = 0

	done := int(st[modbus.EnginePointsDone])
	for m.reported < done {
		pr := Progress{Index: m.reported, Frequency: m.frequencyAt(m.reported)}
		// the point error register holds the code of the latest point
		if m.reported == done-1 && st[modbus.EngineLastPointError] != 0 {
			pr.Err = &PointError{Index: pr.Index, Frequency: pr.Frequency, Code: st[modbus.EngineLastPointError]}
		}
		m.dispatch.progress(pr)
		m.reported++
	}

	switch st[modbus.EngineState] {
	case modbus.EngineCanceled:
		m.dispatch.completed(Completion{Canceled: true})
		return true

	case modbus.EngineDone, modbus.EngineFailed:
		var c Completion
		if code := st[modbus.EngineFailureCode]; code != 0 || st[modbus.EngineState] == modbus.EngineFailed {
			c.Failure = &FailureError{Code: code}
		}
		if n := int(st[modbus.EngineResultPoints]); n > 0 {
			res, err := m.readResult(n)
			if err != nil {
				c.Failure = errors.Join(c.Failure, err)
			} else {
				c.Result = res
			}
		}
		m.dispatch.completed(c)
		return true
	}
	return false
}

func (m *Modbus) frequencyAt(i int) float64 {
	if i < len(m.freqs) {
		return m.freqs[i]
	}
	return math.NaN()
}

func (m *Modbus) readResult(points int) (*measurement.Result, error) {
	size := int(modbus.PointSize(m.channels))
	total := points * size
	if _, err := modbus.Address(m.cfg.Base, modbus.EngineResultOffset, total); err != nil {
		return nil, fmt.Errorf("modbus engine: %d result points: %w", points, err)
	}

	raw := make([]uint16, 0, total)
	for len(raw) < total {
		qty := total - len(raw)
		if qty > maxReadQty {
			qty = maxReadQty
		}
		addr, err := modbus.Address(m.cfg.Base, modbus.EngineResultOffset+len(raw), qty)
		if err != nil {
			return nil, fmt.Errorf("modbus engine: read result: %w", err)
		}
		regs, err := m.regs.ReadHoldingRegisters(addr, uint16(qty))
		if err != nil {
			return nil, fmt.Errorf("modbus engine: read result: %w", err)
		}
		raw = append(raw, regs...)
	}

	res := &measurement.Result{
		Channels: ChannelNames(m.channels),
		Spacing:  m.spacing,
		Samples:  make([]measurement.Sample, points),
	}
	for i := range res.Samples {
		pt := raw[i*size : (i+1)*size]
		s := measurement.Sample{
			Frequency: modbus.Float32(pt),
			Response:  make([]complex128, m.channels),
		}
		for ch := range s.Response {
			off := 2 + 4*ch
			s.Response[ch] = complex(modbus.Float32(pt[off:]), modbus.Float32(pt[off+2:]))
		}
		res.Samples[i] = s
	}
	return res, nil
}

// ---- PARAMETER BLOCK ----

func parameterBlock(cs *measurement.ControlSystem, p measurement.Parameters) ([]uint16, error) {
	if cs == nil {
		return nil, errors.New("modbus engine: control system required")
	}
	if len(p.ExcitationLimits) > modbus.EngineMaxChannels {
		return nil, &measurement.ConfigurationError{
			Field:  "excitation_limits",
			Reason: fmt.Sprintf("drive measures at most %d signals, got %d", modbus.EngineMaxChannels, len(p.ExcitationLimits)),
		}
	}
	if p.Steps > math.MaxUint16 {
		return nil, &measurement.ConfigurationError{Field: "steps", Reason: fmt.Sprintf("drive accepts at most %d steps", math.MaxUint16)}
	}

	settleMs := p.SettlingTime.Milliseconds()
	if settleMs > math.MaxUint16 {
		settleMs = math.MaxUint16
	}

	block := make([]uint16, modbus.EngineParamBlockSize)
	block[modbus.EngineCommand] = modbus.EngineCmdStart
	block[modbus.EngineMethod] = uint16(cs.Method.Capability)
	modbus.PutFloat32(block[modbus.EngineFrequencyMin:], p.FrequencyMin)
	modbus.PutFloat32(block[modbus.EngineFrequencyMax:], p.FrequencyMax)
	block[modbus.EngineSteps] = uint16(p.Steps)
	block[modbus.EngineSpacing] = uint16(p.Spacing)
	block[modbus.EngineSettlingMs] = uint16(settleMs)
	modbus.PutFloat32(block[modbus.EngineSamplingUs:], float64(cs.SamplingPeriod)/float64(time.Microsecond))
	block[modbus.EngineChannelCount] = uint16(channelCount(p))
	for i, l := range p.ExcitationLimits {
		modbus.PutFloat32(block[modbus.EngineLimitsStart+2*i:], l)
	}
	return block, nil
}
