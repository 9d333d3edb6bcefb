// internal/modbus/codec_test.go
package modbus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFloat32_RoundTrip(t *testing.T) {
	regs := make([]uint16, 2)
	PutFloat32(regs, -15.25)

	if got := Float32(regs); got != -15.25 {
		t.Fatalf("expected -15.25, got %g", got)
	}
	if regs[0] == 0 {
		t.Fatalf("expected high word first, got %v", regs)
	}
}

func TestEncodeName_TruncatesAndSanitizes(t *testing.T) {
	regs := EncodeName("Axis\x01 1 with a very long name", 4)

	if len(regs) != 4 {
		t.Fatalf("expected 4 registers, got %d", len(regs))
	}
	if got := DecodeName(regs); got != "Axis? 1 " {
		t.Fatalf("unexpected name %q", got)
	}
}

func TestDecodeName_StopsAtNul(t *testing.T) {
	regs := EncodeName("Axis 1", AxisNameSlots)

	if got := DecodeName(regs); got != "Axis 1" {
		t.Fatalf("expected %q, got %q", "Axis 1", got)
	}
}

func TestPackRegisters_BigEndian(t *testing.T) {
	b := packRegisters([]uint16{0x0102, 0xA0B0})
	if b[0] != 0x01 || b[1] != 0x02 || b[2] != 0xA0 || b[3] != 0xB0 {
		t.Fatalf("unexpected bytes % x", b)
	}
	if got := unpackRegisters(b); got[0] != 0x0102 || got[1] != 0xA0B0 {
		t.Fatalf("unexpected registers %v", got)
	}
}

func TestUntil_DoneAfterTicks(t *testing.T) {
	calls := 0
	done, err := Until(context.Background(), time.Millisecond, time.Second, func() (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil || !done {
		t.Fatalf("expected done, got done=%v err=%v", done, err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 checks, got %d", calls)
	}
}

func TestUntil_Timeout(t *testing.T) {
	start := time.Now()
	done, err := Until(context.Background(), time.Millisecond, 20*time.Millisecond, func() (bool, error) {
		return false, nil
	})
	if err != nil || done {
		t.Fatalf("expected timeout, got done=%v err=%v", done, err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("returned before timeout")
	}
}

func TestUntil_CheckError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Until(context.Background(), time.Millisecond, time.Second, func() (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestAddress_WithinSpace(t *testing.T) {
	addr, err := Address(65000, EngineResultOffset, AddressSpace-65000-EngineResultOffset)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != 65000+EngineResultOffset {
		t.Fatalf("expected %d, got %d", 65000+EngineResultOffset, addr)
	}
}

func TestAddress_RejectsWrap(t *testing.T) {
	if _, err := Address(65480, EngineResultOffset, 42); err == nil {
		t.Fatalf("expected address space error, got nil")
	}
	if _, err := Address(65535, 0, 2); err == nil {
		t.Fatalf("expected address space error, got nil")
	}
}

func TestEngineSpan(t *testing.T) {
	if got := EngineSpan(3, 2); got != EngineResultOffset+3*int(PointSize(2)) {
		t.Fatalf("unexpected span %d", got)
	}
	if got := EngineSpan(0, 0); got != EngineResultOffset {
		t.Fatalf("expected %d, got %d", EngineResultOffset, got)
	}
}
