// Package modbustest provides an in-memory register bank for tests of
// the drive and engine adapters.
package modbustest

import (
	"fmt"
	"sync"
)

// Bank is a 64k holding-register space.
// OnWrite runs after every write, with the lock released, so a test can
// play the drive's side of the protocol.
type Bank struct {
	mu      sync.Mutex
	regs    [1 << 16]uint16
	OnWrite func(addr uint16, regs []uint16)

	readErr error
	writes  int
}

// FailReads makes every following read return err. nil restores reads.
func (b *Bank) FailReads(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readErr = err
}

func (b *Bank) ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.readErr != nil {
		return nil, b.readErr
	}
	if int(addr)+int(qty) > len(b.regs) {
		return nil, fmt.Errorf("bank: read %d+%d out of range", addr, qty)
	}
	out := make([]uint16, qty)
	copy(out, b.regs[addr:int(addr)+int(qty)])
	return out, nil
}

func (b *Bank) WriteRegisters(addr uint16, regs []uint16) error {
	b.mu.Lock()
	if int(addr)+len(regs) > len(b.regs) {
		b.mu.Unlock()
		return fmt.Errorf("bank: write %d+%d out of range", addr, len(regs))
	}
	copy(b.regs[addr:], regs)
	b.writes++
	hook := b.OnWrite
	b.mu.Unlock()

	if hook != nil {
		cp := append([]uint16(nil), regs...)
		hook(addr, cp)
	}
	return nil
}

// Set stores regs at addr without triggering OnWrite.
func (b *Bank) Set(addr uint16, regs ...uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	copy(b.regs[addr:], regs)
}

// Get returns qty registers at addr.
func (b *Bank) Get(addr, qty uint16) []uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]uint16, qty)
	copy(out, b.regs[addr:int(addr)+int(qty)])
	return out
}

// Writes reports how many write requests were served.
func (b *Bank) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}
