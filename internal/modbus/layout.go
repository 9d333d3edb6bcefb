// internal/modbus/layout.go
package modbus

import "fmt"

// Drive register layout.
// These values define the protocol and MUST NOT be configurable.
// Offsets are relative to the configured axis / engine base address.

// AddressSpace is the number of addressable holding registers.
const AddressSpace = 1 << 16

// ---- AXIS STATUS BLOCK (read) ----

const (
	AxisStatusWord      = 0 // bit flags, see StatusFault
	AxisLastSequence    = 1 // sequence of the last terminated request
	AxisTermination     = 2 // termination code of AxisLastSequence
	AxisAcceptedSeq     = 3 // sequence of the last accepted request
	AxisPosition        = 4 // float32, 2 registers
	AxisCapabilities    = 6 // supported measurement methods, one bit per method
	AxisNameStart       = 7
	AxisNameSlots       = 8
	AxisStatusBlockSize = AxisNameStart + AxisNameSlots
)

// StatusFault is set while the drive is faulted. A faulted drive
// terminates no further request.
const StatusFault uint16 = 1 << 3

// ---- AXIS COMMAND BLOCK (write) ----

const (
	AxisCommandOffset    = 32
	AxisCommandCode      = 0
	AxisCommandSequence  = 1
	AxisCommandTarget    = 2 // float32
	AxisCommandVelocity  = 4 // float32
	AxisCommandBlockSize = 6
)

const (
	CmdSwitchOn      uint16 = 1
	CmdSwitchOff     uint16 = 2
	CmdEnable        uint16 = 3
	CmdDisable       uint16 = 4
	CmdMoveAbsolute  uint16 = 5
	CmdMoveRelative  uint16 = 6
	CmdStop          uint16 = 7
	CmdStopImmediate uint16 = 8
	CmdTidy          uint16 = 9
)

// ---- TERMINATION CODES ----

const (
	TermPending    uint16 = 0
	TermCompleted  uint16 = 1
	TermSuperseded uint16 = 2
	TermRejected   uint16 = 3
	TermTimedOut   uint16 = 4
)

// ---- ENGINE PARAMETER BLOCK (write) ----

const (
	EngineCommand        = 0
	EngineMethod         = 1 // capability bit of the selected method
	EngineFrequencyMin   = 2 // float32
	EngineFrequencyMax   = 4 // float32
	EngineSteps          = 6
	EngineSpacing        = 7
	EngineSettlingMs     = 8
	EngineSamplingUs     = 9 // float32, microseconds
	EngineChannelCount   = 11
	EngineLimitsStart    = 12 // float32 per channel
	EngineMaxChannels    = 8
	EngineParamBlockSize = EngineLimitsStart + 2*EngineMaxChannels
)

const (
	EngineCmdStart  uint16 = 1
	EngineCmdCancel uint16 = 2
)

// ---- ENGINE STATUS BLOCK (read) ----

const (
	EngineStatusOffset    = 32
	EngineState           = 0
	EnginePointsDone      = 1
	EngineLastPointError  = 2
	EngineFailureCode     = 3
	EngineResultPoints    = 4
	EngineStatusBlockSize = 5
)

// Engine states. Zero is idle.
const (
	EngineRunning  uint16 = 1
	EngineDone     uint16 = 2
	EngineCanceled uint16 = 3
	EngineFailed   uint16 = 4
)

// ---- ENGINE RESULT BLOCK (read) ----

// Each point: frequency float32, then re/im float32 per channel.
const EngineResultOffset = 64

// PointSize is the register count of one result point.
func PointSize(channels int) uint16 {
	return uint16(2 + 4*channels)
}

// ---- ADDRESS RANGES ----

// AxisSpan is the register count an axis occupies from its base.
const AxisSpan = AxisCommandOffset + AxisCommandBlockSize

// EngineSpan is the register count an engine occupies from its base for a
// sweep of points over channels.
func EngineSpan(points, channels int) int {
	return EngineResultOffset + points*(2+4*channels)
}

// Address returns base+offset. It fails when the qty registers starting
// there do not fit the address space.
func Address(base uint16, offset, qty int) (uint16, error) {
	end := int(base) + offset + qty
	if offset < 0 || qty < 0 || end > AddressSpace {
		return 0, fmt.Errorf("modbus: %d registers at %d+%d exceed the address space", qty, base, offset)
	}
	return uint16(int(base) + offset), nil
}
