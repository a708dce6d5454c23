package wasm

import (
	"fmt"
	"math"

	"github.com/wippyai/wasm-engine/wasm/internal/binary"
)

// ConstKind identifies the single instruction of a constant expression.
type ConstKind uint8

const (
	ConstValue     ConstKind = iota // numeric constant, Value holds raw bits
	ConstGlobalGet                  // value of imported global Index
	ConstRefNull                    // null reference of Type
	ConstRefFunc                    // reference to function Index
)

// ConstExpr is a decoded constant expression: one instruction followed by
// end. Extended constant expressions are not supported.
type ConstExpr struct {
	Value uint64
	Index uint32
	Kind  ConstKind
	Type  ValType
}

// DecodeConstExpr decodes raw init expression bytes, including the
// trailing end opcode.
func DecodeConstExpr(expr []byte) (ConstExpr, error) {
	r := binary.NewReader(expr)
	op, err := r.ReadByte()
	if err != nil {
		return ConstExpr{}, fmt.Errorf("empty constant expression")
	}
	var c ConstExpr
	switch op {
	case OpI32Const:
		v, err := r.ReadS32()
		if err != nil {
			return ConstExpr{}, err
		}
		c = ConstExpr{Kind: ConstValue, Type: ValI32, Value: uint64(uint32(v))}
	case OpI64Const:
		v, err := r.ReadS64()
		if err != nil {
			return ConstExpr{}, err
		}
		c = ConstExpr{Kind: ConstValue, Type: ValI64, Value: uint64(v)}
	case OpF32Const:
		bits, err := r.ReadU32LE()
		if err != nil {
			return ConstExpr{}, err
		}
		c = ConstExpr{Kind: ConstValue, Type: ValF32, Value: uint64(bits)}
	case OpF64Const:
		bits, err := r.ReadU64LE()
		if err != nil {
			return ConstExpr{}, err
		}
		c = ConstExpr{Kind: ConstValue, Type: ValF64, Value: bits}
	case OpGlobalGet:
		idx, err := r.ReadU32()
		if err != nil {
			return ConstExpr{}, err
		}
		c = ConstExpr{Kind: ConstGlobalGet, Index: idx}
	case OpRefNull:
		t, err := r.ReadByte()
		if err != nil {
			return ConstExpr{}, err
		}
		if !ValType(t).IsRef() {
			return ConstExpr{}, fmt.Errorf("ref.null of non-reference type 0x%02x", t)
		}
		c = ConstExpr{Kind: ConstRefNull, Type: ValType(t)}
	case OpRefFunc:
		idx, err := r.ReadU32()
		if err != nil {
			return ConstExpr{}, err
		}
		c = ConstExpr{Kind: ConstRefFunc, Type: ValFuncRef, Index: idx}
	default:
		return ConstExpr{}, fmt.Errorf("opcode 0x%02x not allowed in constant expression", op)
	}
	end, err := r.ReadByte()
	if err != nil || end != OpEnd || r.Len() != 0 {
		return ConstExpr{}, fmt.Errorf("constant expression must be a single instruction followed by end")
	}
	return c, nil
}

// EncodeConstExpr is the inverse of DecodeConstExpr.
func EncodeConstExpr(c ConstExpr) []byte {
	var instr Instruction
	switch c.Kind {
	case ConstValue:
		switch c.Type {
		case ValI32:
			instr = Instruction{Opcode: OpI32Const, Imm: I32Imm{Value: int32(uint32(c.Value))}}
		case ValI64:
			instr = Instruction{Opcode: OpI64Const, Imm: I64Imm{Value: int64(c.Value)}}
		case ValF32:
			instr = Instruction{Opcode: OpF32Const, Imm: F32Imm{Bits: uint32(c.Value)}}
		default:
			instr = Instruction{Opcode: OpF64Const, Imm: F64Imm{Bits: c.Value}}
		}
	case ConstGlobalGet:
		instr = Instruction{Opcode: OpGlobalGet, Imm: GlobalImm{GlobalIdx: c.Index}}
	case ConstRefNull:
		instr = Instruction{Opcode: OpRefNull, Imm: RefNullImm{Type: c.Type}}
	case ConstRefFunc:
		instr = Instruction{Opcode: OpRefFunc, Imm: RefFuncImm{FuncIdx: c.Index}}
	}
	return EncodeInstructions([]Instruction{instr, {Opcode: OpEnd}})
}

// I32Const builds an i32.const constant expression.
func I32Const(v int32) []byte {
	return EncodeConstExpr(ConstExpr{Kind: ConstValue, Type: ValI32, Value: uint64(uint32(v))})
}

// I64Const builds an i64.const constant expression.
func I64Const(v int64) []byte {
	return EncodeConstExpr(ConstExpr{Kind: ConstValue, Type: ValI64, Value: uint64(v)})
}

// F32Const builds an f32.const constant expression.
func F32Const(v float32) []byte {
	return EncodeConstExpr(ConstExpr{Kind: ConstValue, Type: ValF32, Value: uint64(math.Float32bits(v))})
}

// F64Const builds an f64.const constant expression.
func F64Const(v float64) []byte {
	return EncodeConstExpr(ConstExpr{Kind: ConstValue, Type: ValF64, Value: math.Float64bits(v)})
}

// validateConstExpr checks that expr is a valid constant of type want.
// global.get may only refer to immutable imported globals.
func (m *Module) validateConstExpr(expr []byte, want ValType) error {
	c, err := DecodeConstExpr(expr)
	if err != nil {
		return err
	}
	got := c.Type
	switch c.Kind {
	case ConstGlobalGet:
		if int(c.Index) >= m.NumImportedGlobals() {
			return fmt.Errorf("constant expression reads non-imported global %d", c.Index)
		}
		gt, _ := m.GlobalTypeAt(c.Index)
		if gt.Mutable {
			return fmt.Errorf("constant expression reads mutable global %d", c.Index)
		}
		got = gt.ValType
	case ConstRefFunc:
		if int(c.Index) >= m.NumFuncs() {
			return fmt.Errorf("constant expression references unknown function %d", c.Index)
		}
	}
	if got != want {
		return fmt.Errorf("constant expression has type %s, expected %s", got, want)
	}
	return nil
}
