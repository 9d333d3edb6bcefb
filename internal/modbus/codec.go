// internal/modbus/codec.go
package modbus

import "math"

// PutFloat32 stores v into two registers, high word first.
func PutFloat32(dst []uint16, v float64) {
	bits := math.Float32bits(float32(v))
	dst[0] = uint16(bits >> 16)
	dst[1] = uint16(bits)
}

// Float32 reads a value stored by PutFloat32.
func Float32(src []uint16) float64 {
	bits := uint32(src[0])<<16 | uint32(src[1])
	return float64(math.Float32frombits(bits))
}

// EncodeName packs up to 2*slots ASCII characters into registers.
// Each register stores two ASCII bytes in big-endian order.
func EncodeName(name string, slots int) []uint16 {
	out := make([]uint16, slots)
	maxChars := 2 * slots

	b := []byte(name)
	if len(b) > maxChars {
		b = b[:maxChars]
	}

	// sanitize to printable ASCII
	for i := 0; i < len(b); i++ {
		if b[i] < 0x20 || b[i] > 0x7E {
			b[i] = '?'
		}
	}

	for i := 0; i < maxChars; i += 2 {
		var hi, lo byte
		if i < len(b) {
			hi = b[i]
		}
		if i+1 < len(b) {
			lo = b[i+1]
		}
		out[i/2] = uint16(hi)<<8 | uint16(lo)
	}

	return out
}

// DecodeName reverses EncodeName, stopping at the first NUL.
func DecodeName(regs []uint16) string {
	b := make([]byte, 0, 2*len(regs))
	for _, r := range regs {
		b = append(b, byte(r>>8), byte(r))
	}
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
