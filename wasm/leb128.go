package wasm

import (
	"bytes"
	"encoding/binary"

	wbin "github.com/wippyai/wasm-engine/wasm/internal/binary"
)

// LEB128 encoding utilities for the WebAssembly binary format. Decoding
// goes through the section reader in internal/binary.

// ErrOverflow is returned when a LEB128 value exceeds the maximum bit width
// or carries set bits past it in its final byte.
var ErrOverflow = wbin.ErrOverflow

// WriteLEB128u writes an unsigned LEB128 value
func WriteLEB128u(w *bytes.Buffer, v uint32) {
	WriteLEB128u64(w, uint64(v))
}

// WriteLEB128u64 writes an unsigned 64-bit LEB128 value
func WriteLEB128u64(w *bytes.Buffer, v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.WriteByte(b)
		if v == 0 {
			break
		}
	}
}

// WriteLEB128s writes a signed LEB128 value
func WriteLEB128s(w *bytes.Buffer, v int32) {
	WriteLEB128s64(w, int64(v))
}

// WriteLEB128s64 writes a signed 64-bit LEB128 value
func WriteLEB128s64(w *bytes.Buffer, v int64) {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			more = false
		} else {
			b |= 0x80
		}
		w.WriteByte(b)
	}
}

// WriteFloat32Bits writes raw float32 bits in little-endian order.
func WriteFloat32Bits(w *bytes.Buffer, bits uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], bits)
	w.Write(buf[:])
}

// WriteFloat64Bits writes raw float64 bits in little-endian order.
func WriteFloat64Bits(w *bytes.Buffer, bits uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], bits)
	w.Write(buf[:])
}
