// internal/axis/drive.go
package axis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tamzrod/frequency-response-automation/internal/measurement"
	"github.com/tamzrod/frequency-response-automation/internal/modbus"
)

// DriveConfig is the minimal runtime config of a Modbus drive.
type DriveConfig struct {
	Base           uint16        // axis register base
	PollInterval   time.Duration // status polling while waiting for termination
	CommandTimeout time.Duration // switch on/off, enable/disable, tidy
}

// Drive implements Axis over the drive's holding registers.
// Commands are sequenced: each write carries a fresh sequence number and
// the drive reports which sequence terminated last and how.
type Drive struct {
	regs modbus.Registers
	cfg  DriveConfig

	name         string
	capabilities uint16

	mu  sync.Mutex
	seq uint16
}

var _ Axis = (*Drive)(nil)

// NewDrive reads the drive identity and capability mask.
func NewDrive(regs modbus.Registers, cfg DriveConfig) (*Drive, error) {
	if regs == nil {
		return nil, errors.New("drive: registers required")
	}
	if cfg.PollInterval <= 0 {
		return nil, errors.New("drive: poll interval must be > 0")
	}
	if cfg.CommandTimeout <= 0 {
		return nil, errors.New("drive: command timeout must be > 0")
	}
	if _, err := modbus.Address(cfg.Base, 0, modbus.AxisSpan); err != nil {
		return nil, fmt.Errorf("drive: axis base: %w", err)
	}

	status, err := regs.ReadHoldingRegisters(cfg.Base, modbus.AxisStatusBlockSize)
	if err != nil {
		return nil, fmt.Errorf("drive: read status block: %w", err)
	}

	return &Drive{
		regs:         regs,
		cfg:          cfg,
		name:         modbus.DecodeName(status[modbus.AxisNameStart : modbus.AxisNameStart+modbus.AxisNameSlots]),
		capabilities: status[modbus.AxisCapabilities],
		// continue numbering after whatever the drive accepted last
		seq: status[modbus.AxisAcceptedSeq],
	}, nil
}

func (d *Drive) Name() string { return d.name }

func (d *Drive) SupportsMethod(m measurement.Method) bool {
	return m.Capability < 16 && d.capabilities&(1<<m.Capability) != 0
}

func (d *Drive) SwitchOn() error  { return d.run(modbus.CmdSwitchOn, "switch on") }
func (d *Drive) SwitchOff() error { return d.run(modbus.CmdSwitchOff, "switch off") }
func (d *Drive) Enable() error    { return d.run(modbus.CmdEnable, "enable") }
func (d *Drive) Disable() error   { return d.run(modbus.CmdDisable, "disable") }
func (d *Drive) Tidy() error      { return d.run(modbus.CmdTidy, "tidy") }

func (d *Drive) Position() (float64, error) {
	regs, err := d.regs.ReadHoldingRegisters(d.cfg.Base+modbus.AxisPosition, 2)
	if err != nil {
		return 0, fmt.Errorf("drive: read position: %w", err)
	}
	return modbus.Float32(regs), nil
}

func (d *Drive) MoveAbsolute(position, velocity float64) (Request, error) {
	return d.command(modbus.CmdMoveAbsolute, position, velocity)
}

func (d *Drive) MoveRelative(distance, velocity float64) (Request, error) {
	return d.command(modbus.CmdMoveRelative, distance, velocity)
}

func (d *Drive) Stop(immediate bool) (Request, error) {
	code := modbus.CmdStop
	if immediate {
		code = modbus.CmdStopImmediate
	}
	return d.command(code, 0, 0)
}

func (d *Drive) run(code uint16, what string) error {
	req, err := d.command(code, 0, 0)
	if err != nil {
		return err
	}
	if err := WaitForSuccess(req, d.cfg.CommandTimeout); err != nil {
		return fmt.Errorf("drive: %s: %w", what, err)
	}
	return nil
}

// command writes the full command block in one request.
func (d *Drive) command(code uint16, target, velocity float64) (*driveRequest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	if d.seq == 0 {
		d.seq = 1
	}

	block := make([]uint16, modbus.AxisCommandBlockSize)
	block[modbus.AxisCommandCode] = code
	block[modbus.AxisCommandSequence] = d.seq
	modbus.PutFloat32(block[modbus.AxisCommandTarget:], target)
	modbus.PutFloat32(block[modbus.AxisCommandVelocity:], velocity)

	if err := d.regs.WriteRegisters(d.cfg.Base+modbus.AxisCommandOffset, block); err != nil {
		return nil, fmt.Errorf("drive: write command %d: %w", code, err)
	}

	return &driveRequest{drive: d, seq: d.seq}, nil
}

type driveRequest struct {
	drive *Drive
	seq   uint16

	mu   sync.Mutex
	term Termination
}

func (r *driveRequest) Termination() Termination {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.term
}

func (r *driveRequest) WaitForTermination(limit time.Duration) (bool, error) {
	if r.Termination() != Pending {
		return true, nil
	}
	d := r.drive
	return modbus.Until(context.Background(), d.cfg.PollInterval, limit, func() (bool, error) {
		regs, err := d.regs.ReadHoldingRegisters(d.cfg.Base+modbus.AxisStatusWord, modbus.AxisAcceptedSeq+1)
		if err != nil {
			return false, err
		}
		status := regs[modbus.AxisStatusWord]
		last, code := regs[modbus.AxisLastSequence], regs[modbus.AxisTermination]
		accepted := regs[modbus.AxisAcceptedSeq]

		var term Termination
		switch {
		case last == r.seq && code != modbus.TermPending:
			term = decodeTermination(code)
		case seqAfter(accepted, r.seq):
			// reprogrammed before our termination was observed
			term = Superseded
		case status&modbus.StatusFault != 0:
			term = Other
		default:
			return false, nil
		}

		r.mu.Lock()
		r.term = term
		r.mu.Unlock()
		return true, nil
	})
}

func decodeTermination(code uint16) Termination {
	switch code {
	case modbus.TermCompleted:
		return Completed
	case modbus.TermSuperseded:
		return Superseded
	case modbus.TermRejected:
		return Rejected
	case modbus.TermTimedOut:
		return TimedOut
	default:
		return Other
	}
}

// seqAfter reports a > b under uint16 wraparound.
func seqAfter(a, b uint16) bool {
	return int16(a-b) > 0
}
