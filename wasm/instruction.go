package wasm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/wippyai/wasm-engine/wasm/internal/binary"
)

// Opcode constants are defined in constants.go

// ErrUnsupportedEncoding is returned by InstructionReader after it emitted an
// instruction whose immediates belong to a proposal outside the supported
// feature set (SIMD, threads, GC, exception handling). Decoding cannot resume
// past such an instruction.
var ErrUnsupportedEncoding = errors.New("unsupported instruction encoding")

// Instruction represents a decoded WebAssembly instruction
type Instruction struct {
	Imm    interface{}
	Offset uint32 // position of the opcode relative to the start of the body code
	Opcode byte
}

// BlockImm holds the block type for block, loop and if instructions.
type BlockImm struct {
	Type int32 // Block type: -64=void, -1=i32, -2=i64, -3=f32, -4=f64, >=0=type index
}

// BranchImm holds the label index for br and br_if instructions.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table instruction.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call instruction.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds type and table indices for call_indirect instruction.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// LocalImm holds the local index for local.get, local.set, local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the global index for global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// MemoryImm holds memory access parameters for load and store instructions.
type MemoryImm struct {
	Offset uint64
	Align  uint32
	MemIdx uint32
}

// MemoryIdxImm holds memory index for memory.size, memory.grow
type MemoryIdxImm struct {
	MemIdx uint32
}

// I32Imm holds the constant value for i32.const instruction.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant value for i64.const instruction.
type I64Imm struct {
	Value int64
}

// F32Imm holds the constant value for f32.const instruction.
// Bits are kept raw so NaN payloads survive a decode/encode round trip.
type F32Imm struct {
	Bits uint32
}

// Value returns the constant as a float.
func (i F32Imm) Value() float32 { return math.Float32frombits(i.Bits) }

// F64Imm holds the constant value for f64.const instruction.
type F64Imm struct {
	Bits uint64
}

// Value returns the constant as a float.
func (i F64Imm) Value() float64 { return math.Float64frombits(i.Bits) }

// MiscImm holds the sub-opcode and immediates for 0xFC prefix instructions
type MiscImm struct {
	Operands  []uint32
	SubOpcode uint32
}

// TableImm holds table index for table.get/table.set
type TableImm struct {
	TableIdx uint32
}

// RefNullImm holds the reference type for ref.null
type RefNullImm struct {
	Type ValType
}

// RefFuncImm holds the function index for ref.func
type RefFuncImm struct {
	FuncIdx uint32
}

// SelectTypeImm holds value types for typed select
type SelectTypeImm struct {
	Types []ValType
}

// PrefixImm holds the sub-opcode of an instruction from an unsupported
// proposal. Its remaining immediates are not decoded.
type PrefixImm struct {
	SubOpcode uint32
}

// GetCallTarget returns the call target if this is a call instruction
func (i Instruction) GetCallTarget() (uint32, bool) {
	if i.Opcode == OpCall {
		if imm, ok := i.Imm.(CallImm); ok {
			return imm.FuncIdx, true
		}
	}
	return 0, false
}

// IsIndirectCall returns true if this is a call_indirect instruction
func (i Instruction) IsIndirectCall() bool {
	return i.Opcode == OpCallIndirect
}

// IsUnsupported reports whether the instruction belongs to a proposal the
// engine decodes but never executes.
func (i Instruction) IsUnsupported() bool {
	switch i.Opcode {
	case OpPrefixSIMD, OpPrefixAtomic, OpPrefixGC, OpTry, OpThrow,
		OpReturnCall, OpReturnCallIndirect:
		return true
	}
	return false
}

// InstructionReader decodes instructions one at a time from a function body.
type InstructionReader struct {
	r       *binary.Reader
	stopped bool
}

// NewInstructionReader creates a reader over raw body code.
func NewInstructionReader(code []byte) *InstructionReader {
	return &InstructionReader{r: binary.NewReader(code)}
}

// Len returns the number of undecoded bytes.
func (ir *InstructionReader) Len() int {
	return ir.r.Len()
}

// Next decodes the next instruction. It returns io.EOF when the code is
// exhausted.
func (ir *InstructionReader) Next() (Instruction, error) {
	if ir.stopped {
		return Instruction{}, ErrUnsupportedEncoding
	}
	if ir.r.Len() == 0 {
		return Instruction{}, io.EOF
	}
	offset := uint32(ir.r.Position())
	instr, err := ir.decode()
	if err != nil {
		return Instruction{}, fmt.Errorf("instruction at offset %d: %w", offset, err)
	}
	instr.Offset = offset
	return instr, nil
}

func (ir *InstructionReader) decode() (Instruction, error) {
	r := ir.r
	op, err := r.ReadByte()
	if err != nil {
		return Instruction{}, err
	}
	instr := Instruction{Opcode: op}

	switch op {
	case OpBlock, OpLoop, OpIf:
		bt, err := r.ReadS64()
		if err != nil {
			return instr, err
		}
		if bt < math.MinInt32 || bt > math.MaxInt32 {
			return instr, fmt.Errorf("block type %d out of range", bt)
		}
		instr.Imm = BlockImm{Type: int32(bt)}

	case OpBr, OpBrIf:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = BranchImm{LabelIdx: idx}

	case OpBrTable:
		count, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		if int(count) > r.Len() {
			return instr, fmt.Errorf("br_table label count %d exceeds remaining code", count)
		}
		labels := make([]uint32, count)
		for i := range labels {
			labels[i], err = r.ReadU32()
			if err != nil {
				return instr, err
			}
		}
		def, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = BrTableImm{Labels: labels, Default: def}

	case OpCall, OpReturnCall:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = CallImm{FuncIdx: idx}

	case OpCallIndirect, OpReturnCallIndirect:
		typeIdx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		tableIdx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = CallIndirectImm{TypeIdx: typeIdx, TableIdx: tableIdx}

	case OpLocalGet, OpLocalSet, OpLocalTee:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = LocalImm{LocalIdx: idx}

	case OpGlobalGet, OpGlobalSet:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = GlobalImm{GlobalIdx: idx}

	case OpTableGet, OpTableSet:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = TableImm{TableIdx: idx}

	case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
		OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U,
		OpI32Store, OpI64Store, OpF32Store, OpF64Store,
		OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32:
		memImm, err := readMemArg(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = memImm

	case OpMemorySize, OpMemoryGrow:
		memIdx, err := r.ReadByte()
		if err != nil {
			return instr, err
		}
		instr.Imm = MemoryIdxImm{MemIdx: uint32(memIdx)}

	case OpI32Const:
		val, err := r.ReadS32()
		if err != nil {
			return instr, err
		}
		instr.Imm = I32Imm{Value: val}

	case OpI64Const:
		val, err := r.ReadS64()
		if err != nil {
			return instr, err
		}
		instr.Imm = I64Imm{Value: val}

	case OpF32Const:
		bits, err := r.ReadU32LE()
		if err != nil {
			return instr, err
		}
		instr.Imm = F32Imm{Bits: bits}

	case OpF64Const:
		bits, err := r.ReadU64LE()
		if err != nil {
			return instr, err
		}
		instr.Imm = F64Imm{Bits: bits}

	case OpRefNull:
		t, err := r.ReadByte()
		if err != nil {
			return instr, err
		}
		instr.Imm = RefNullImm{Type: ValType(t)}

	case OpRefFunc:
		funcIdx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = RefFuncImm{FuncIdx: funcIdx}

	case OpSelectType:
		count, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		if int(count) > r.Len() {
			return instr, fmt.Errorf("select type count %d exceeds remaining code", count)
		}
		types := make([]ValType, count)
		for i := range types {
			t, err := r.ReadByte()
			if err != nil {
				return instr, err
			}
			types[i] = ValType(t)
		}
		instr.Imm = SelectTypeImm{Types: types}

	// Instructions with no immediates - do nothing
	case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect, OpRefIsNull,
		OpI32Eqz, OpI32Eq, OpI32Ne, OpI32LtS, OpI32LtU, OpI32GtS, OpI32GtU,
		OpI32LeS, OpI32LeU, OpI32GeS, OpI32GeU,
		OpI64Eqz, OpI64Eq, OpI64Ne, OpI64LtS, OpI64LtU, OpI64GtS, OpI64GtU,
		OpI64LeS, OpI64LeU, OpI64GeS, OpI64GeU,
		OpF32Eq, OpF32Ne, OpF32Lt, OpF32Gt, OpF32Le, OpF32Ge,
		OpF64Eq, OpF64Ne, OpF64Lt, OpF64Gt, OpF64Le, OpF64Ge,
		OpI32Clz, OpI32Ctz, OpI32Popcnt, OpI32Add, OpI32Sub, OpI32Mul,
		OpI32DivS, OpI32DivU, OpI32RemS, OpI32RemU, OpI32And, OpI32Or, OpI32Xor,
		OpI32Shl, OpI32ShrS, OpI32ShrU, OpI32Rotl, OpI32Rotr,
		OpI64Clz, OpI64Ctz, OpI64Popcnt, OpI64Add, OpI64Sub, OpI64Mul,
		OpI64DivS, OpI64DivU, OpI64RemS, OpI64RemU, OpI64And, OpI64Or, OpI64Xor,
		OpI64Shl, OpI64ShrS, OpI64ShrU, OpI64Rotl, OpI64Rotr,
		OpF32Abs, OpF32Neg, OpF32Ceil, OpF32Floor, OpF32Trunc, OpF32Nearest, OpF32Sqrt,
		OpF32Add, OpF32Sub, OpF32Mul, OpF32Div, OpF32Min, OpF32Max, OpF32Copysign,
		OpF64Abs, OpF64Neg, OpF64Ceil, OpF64Floor, OpF64Trunc, OpF64Nearest, OpF64Sqrt,
		OpF64Add, OpF64Sub, OpF64Mul, OpF64Div, OpF64Min, OpF64Max, OpF64Copysign,
		OpI32WrapI64, OpI32TruncF32S, OpI32TruncF32U, OpI32TruncF64S, OpI32TruncF64U,
		OpI64ExtendI32S, OpI64ExtendI32U, OpI64TruncF32S, OpI64TruncF32U,
		OpI64TruncF64S, OpI64TruncF64U,
		OpF32ConvertI32S, OpF32ConvertI32U, OpF32ConvertI64S, OpF32ConvertI64U, OpF32DemoteF64,
		OpF64ConvertI32S, OpF64ConvertI32U, OpF64ConvertI64S, OpF64ConvertI64U, OpF64PromoteF32,
		OpI32ReinterpretF32, OpI64ReinterpretF64, OpF32ReinterpretI32, OpF64ReinterpretI64,
		OpI32Extend8S, OpI32Extend16S, OpI64Extend8S, OpI64Extend16S, OpI64Extend32S:
		// No immediate

	case OpPrefixMisc:
		imm, err := readMiscImm(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = imm

	case OpPrefixSIMD, OpPrefixAtomic, OpPrefixGC:
		subOp, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = PrefixImm{SubOpcode: subOp}
		ir.stopped = true

	case OpTry, OpThrow:
		ir.stopped = true

	default:
		return instr, fmt.Errorf("unknown opcode: 0x%02x", op)
	}

	return instr, nil
}

// miscOperandCounts gives the number of u32 immediates per 0xFC sub-opcode.
var miscOperandCounts = map[uint32]int{
	MiscI32TruncSatF32S: 0, MiscI32TruncSatF32U: 0,
	MiscI32TruncSatF64S: 0, MiscI32TruncSatF64U: 0,
	MiscI64TruncSatF32S: 0, MiscI64TruncSatF32U: 0,
	MiscI64TruncSatF64S: 0, MiscI64TruncSatF64U: 0,
	MiscMemoryInit: 2, // dataidx, memidx
	MiscDataDrop:   1,
	MiscMemoryCopy: 2, // dst mem, src mem
	MiscMemoryFill: 1,
	MiscTableInit:  2, // elemidx, tableidx
	MiscElemDrop:   1,
	MiscTableCopy:  2, // dst table, src table
	MiscTableGrow:  1,
	MiscTableSize:  1,
	MiscTableFill:  1,
}

func readMiscImm(r *binary.Reader) (MiscImm, error) {
	subOp, err := r.ReadU32()
	if err != nil {
		return MiscImm{}, err
	}
	n, ok := miscOperandCounts[subOp]
	if !ok {
		return MiscImm{}, fmt.Errorf("unknown 0xFC sub-opcode: 0x%02x", subOp)
	}
	imm := MiscImm{SubOpcode: subOp}
	if n > 0 {
		imm.Operands = make([]uint32, n)
		for i := range imm.Operands {
			imm.Operands[i], err = r.ReadU32()
			if err != nil {
				return MiscImm{}, err
			}
		}
	}
	return imm, nil
}

// DecodeInstructions decodes a sequence of instructions from raw bytes
func DecodeInstructions(code []byte) ([]Instruction, error) {
	ir := NewInstructionReader(code)
	// Pre-allocate based on estimation: roughly 2 bytes per instruction on average
	instrs := make([]Instruction, 0, len(code)/2)
	for {
		instr, err := ir.Next()
		if errors.Is(err, io.EOF) {
			return instrs, nil
		}
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, instr)
		if ir.stopped {
			return instrs, nil
		}
	}
}

// EncodeInstructionTo writes a single instruction to the provided buffer.
// This avoids allocations compared to EncodeInstructions for single instructions.
func EncodeInstructionTo(buf *bytes.Buffer, instr *Instruction) {
	buf.WriteByte(instr.Opcode)

	switch imm := instr.Imm.(type) {
	case BlockImm:
		WriteLEB128s(buf, imm.Type)
	case BranchImm:
		WriteLEB128u(buf, imm.LabelIdx)
	case BrTableImm:
		WriteLEB128u(buf, uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			WriteLEB128u(buf, l)
		}
		WriteLEB128u(buf, imm.Default)
	case CallImm:
		WriteLEB128u(buf, imm.FuncIdx)
	case CallIndirectImm:
		WriteLEB128u(buf, imm.TypeIdx)
		WriteLEB128u(buf, imm.TableIdx)
	case LocalImm:
		WriteLEB128u(buf, imm.LocalIdx)
	case GlobalImm:
		WriteLEB128u(buf, imm.GlobalIdx)
	case TableImm:
		WriteLEB128u(buf, imm.TableIdx)
	case MemoryImm:
		writeMemArg(buf, imm)
	case MemoryIdxImm:
		buf.WriteByte(byte(imm.MemIdx))
	case I32Imm:
		WriteLEB128s(buf, imm.Value)
	case I64Imm:
		WriteLEB128s64(buf, imm.Value)
	case F32Imm:
		WriteFloat32Bits(buf, imm.Bits)
	case F64Imm:
		WriteFloat64Bits(buf, imm.Bits)
	case RefNullImm:
		buf.WriteByte(byte(imm.Type))
	case RefFuncImm:
		WriteLEB128u(buf, imm.FuncIdx)
	case SelectTypeImm:
		WriteLEB128u(buf, uint32(len(imm.Types)))
		for _, t := range imm.Types {
			buf.WriteByte(byte(t))
		}
	case MiscImm:
		WriteLEB128u(buf, imm.SubOpcode)
		for _, op := range imm.Operands {
			WriteLEB128u(buf, op)
		}
	case PrefixImm:
		WriteLEB128u(buf, imm.SubOpcode)
	}
}

// EncodeInstructionsTo writes instructions to the provided buffer.
func EncodeInstructionsTo(buf *bytes.Buffer, instrs []Instruction) {
	for i := range instrs {
		EncodeInstructionTo(buf, &instrs[i])
	}
}

// EncodeInstructions encodes a sequence of instructions to bytes
func EncodeInstructions(instrs []Instruction) []byte {
	var buf bytes.Buffer
	EncodeInstructionsTo(&buf, instrs)
	return buf.Bytes()
}

// memArgMultiMemBit flags a memarg carrying an explicit memory index.
const memArgMultiMemBit = 0x40

// readMemArg reads a memarg with multi-memory support.
// If bit 6 of align is set, a separate memidx LEB128 follows.
func readMemArg(r *binary.Reader) (MemoryImm, error) {
	alignRaw, err := r.ReadU32()
	if err != nil {
		return MemoryImm{}, err
	}

	var memIdx uint32
	if alignRaw&memArgMultiMemBit != 0 {
		memIdx, err = r.ReadU32()
		if err != nil {
			return MemoryImm{}, err
		}
	}

	offset, err := r.ReadU32()
	if err != nil {
		return MemoryImm{}, err
	}

	return MemoryImm{
		Align:  alignRaw & ^uint32(memArgMultiMemBit),
		Offset: uint64(offset),
		MemIdx: memIdx,
	}, nil
}

// writeMemArg writes a memarg with multi-memory support.
func writeMemArg(buf *bytes.Buffer, imm MemoryImm) {
	alignRaw := imm.Align
	if imm.MemIdx != 0 {
		alignRaw |= memArgMultiMemBit
	}
	WriteLEB128u(buf, alignRaw)
	if imm.MemIdx != 0 {
		WriteLEB128u(buf, imm.MemIdx)
	}
	WriteLEB128u64(buf, imm.Offset)
}
