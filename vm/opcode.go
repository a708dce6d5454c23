package vm

import (
	"encoding/binary"
	"fmt"

	"github.com/wippyai/wasm-engine/wasm"
)

// Opcode identifies a vm instruction.
//
// Opcodes below 0x100 are WebAssembly single-byte opcodes for numeric,
// variable, memory, table and reference instructions; they execute with
// their standard semantics. 0xFC00|n is the 0xFC-prefixed instruction n.
// Control flow and fused instructions of this format start at 0x1000.
type Opcode uint16

// Format-specific opcodes.
const (
	// OpConst pushes B.
	OpConst Opcode = 0x1000 + iota
	// OpDrop discards A values.
	OpDrop
	// OpBr jumps to A.
	OpBr
	// OpBrIf pops an i32 and jumps to A when it is non-zero.
	OpBrIf
	// OpBrIfNot pops an i32 and jumps to A when it is zero.
	OpBrIfNot
	// OpBrTable pops an index and executes entry min(index, A) of the
	// A+1 OpBr instructions that follow.
	OpBrTable
	// OpReturn returns the top A values to the caller.
	OpReturn
	// OpCall calls function A of the current instance.
	OpCall
	// OpCallIndirect pops an index into table B and calls the function
	// there after checking it has type A.
	OpCallIndirect
	// OpLabel marks a branch target in a Program. It never appears in
	// assembled code.
	OpLabel
	// OpLocalsBinary pushes the result of binary operator Flags applied to
	// locals A and B.
	OpLocalsBinary
)

// Instruction flags.
const (
	// FlagAdjust marks a branch that moves the top B&0xffffffff values down
	// to frame slot B>>32 before jumping.
	FlagAdjust uint16 = 1 << 0
)

// InstrSize is the encoded size of an Instr.
const InstrSize = 16

// Instr is one vm instruction. Encoded little-endian as
// op u16 | flags u16 | a u32 | b u64.
type Instr struct {
	B     uint64
	A     uint32
	Op    Opcode
	Flags uint16
}

// Wasm returns the opcode executing WebAssembly instruction op.
func Wasm(op byte) Opcode { return Opcode(op) }

// Misc returns the opcode executing the 0xFC-prefixed instruction sub.
func Misc(sub uint32) Opcode { return Opcode(0xFC00 | sub) }

// IsMisc reports whether op is a 0xFC-prefixed instruction and returns its
// sub-opcode.
func (op Opcode) IsMisc() (uint32, bool) {
	if op&0xFF00 == 0xFC00 {
		return uint32(op & 0xFF), true
	}
	return 0, false
}

// IsBranch reports whether the instruction's A operand is a jump target.
func (op Opcode) IsBranch() bool {
	return op == OpBr || op == OpBrIf || op == OpBrIfNot
}

// Terminates reports whether control never falls through to the next
// instruction.
func (op Opcode) Terminates() bool {
	return op == OpBr || op == OpBrTable || op == OpReturn || op == Wasm(wasm.OpUnreachable)
}

var formatNames = map[Opcode]string{
	OpConst:        "const",
	OpDrop:         "drop",
	OpBr:           "br",
	OpBrIf:         "br_if",
	OpBrIfNot:      "br_if_not",
	OpBrTable:      "br_table",
	OpReturn:       "return",
	OpCall:         "call",
	OpCallIndirect: "call_indirect",
	OpLabel:        "label",
	OpLocalsBinary: "locals_binary",
}

func (op Opcode) String() string {
	if name, ok := formatNames[op]; ok {
		return name
	}
	if sub, ok := op.IsMisc(); ok {
		return fmt.Sprintf("misc.%d", sub)
	}
	if op < 0x100 {
		return fmt.Sprintf("wasm.0x%02x", uint16(op))
	}
	return fmt.Sprintf("op(0x%04x)", uint16(op))
}

// Adjust packs the stack adjustment of a branch into an Instr B operand.
func Adjust(height, arity uint32) uint64 {
	return uint64(height)<<32 | uint64(arity)
}

// AdjustOf unpacks a branch stack adjustment.
func AdjustOf(b uint64) (height, arity uint32) {
	return uint32(b >> 32), uint32(b)
}

func (in Instr) String() string {
	switch {
	case in.Op.IsBranch() && in.Flags&FlagAdjust != 0:
		h, n := AdjustOf(in.B)
		return fmt.Sprintf("%s %d keep=%d at=%d", in.Op, in.A, n, h)
	case in.Op == OpConst:
		return fmt.Sprintf("const 0x%x", in.B)
	default:
		return fmt.Sprintf("%s %d %d", in.Op, in.A, in.B)
	}
}

// EncodeInstrs appends the encoded form of code to dst.
func EncodeInstrs(dst []byte, code []Instr) []byte {
	for _, in := range code {
		var buf [InstrSize]byte
		binary.LittleEndian.PutUint16(buf[0:], uint16(in.Op))
		binary.LittleEndian.PutUint16(buf[2:], in.Flags)
		binary.LittleEndian.PutUint32(buf[4:], in.A)
		binary.LittleEndian.PutUint64(buf[8:], in.B)
		dst = append(dst, buf[:]...)
	}
	return dst
}

// DecodeInstrs decodes encoded instructions.
func DecodeInstrs(data []byte) ([]Instr, error) {
	if len(data)%InstrSize != 0 {
		return nil, fmt.Errorf("code length %d is not a multiple of %d", len(data), InstrSize)
	}
	code := make([]Instr, len(data)/InstrSize)
	for i := range code {
		b := data[i*InstrSize:]
		code[i] = Instr{
			Op:    Opcode(binary.LittleEndian.Uint16(b[0:])),
			Flags: binary.LittleEndian.Uint16(b[2:]),
			A:     binary.LittleEndian.Uint32(b[4:]),
			B:     binary.LittleEndian.Uint64(b[8:]),
		}
	}
	return code, nil
}
