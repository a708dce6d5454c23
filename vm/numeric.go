package vm

import (
	"math"
	"math/bits"

	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/wasm"
)

// Class groups opcodes by their operand shape.
type Class uint8

const (
	ClassOther  Class = iota
	ClassUnary        // pops one value, pushes one
	ClassBinary       // pops two values, pushes one
)

// Class returns the operand shape of a numeric opcode.
func (op Opcode) Class() Class {
	if sub, ok := op.IsMisc(); ok {
		if sub <= wasm.MiscI64TruncSatF64U {
			return ClassUnary
		}
		return ClassOther
	}
	if op >= 0x100 {
		return ClassOther
	}
	switch b := byte(op); {
	case b == wasm.OpI32Eqz, b == wasm.OpI64Eqz:
		return ClassUnary
	case b >= wasm.OpI32Eq && b <= wasm.OpI32GeU,
		b >= wasm.OpI64Eq && b <= wasm.OpF64Ge,
		b >= wasm.OpI32Add && b <= wasm.OpI32Rotr,
		b >= wasm.OpI64Add && b <= wasm.OpI64Rotr,
		b >= wasm.OpF32Add && b <= wasm.OpF32Copysign,
		b >= wasm.OpF64Add && b <= wasm.OpF64Copysign:
		return ClassBinary
	case b >= wasm.OpI32Clz && b <= wasm.OpI32Popcnt,
		b >= wasm.OpI64Clz && b <= wasm.OpI64Popcnt,
		b >= wasm.OpF32Abs && b <= wasm.OpF32Sqrt,
		b >= wasm.OpF64Abs && b <= wasm.OpF64Sqrt,
		b >= wasm.OpI32WrapI64 && b <= wasm.OpI64Extend32S:
		return ClassUnary
	}
	return ClassOther
}

// CanTrap reports whether a numeric opcode may trap.
func (op Opcode) CanTrap() bool {
	if op >= 0x100 {
		return false
	}
	switch byte(op) {
	case wasm.OpI32DivS, wasm.OpI32DivU, wasm.OpI32RemS, wasm.OpI32RemU,
		wasm.OpI64DivS, wasm.OpI64DivU, wasm.OpI64RemS, wasm.OpI64RemU,
		wasm.OpI32TruncF32S, wasm.OpI32TruncF32U, wasm.OpI32TruncF64S, wasm.OpI32TruncF64U,
		wasm.OpI64TruncF32S, wasm.OpI64TruncF32U, wasm.OpI64TruncF64S, wasm.OpI64TruncF64U:
		return true
	}
	return false
}

const noTrap = errors.TrapUnknown

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func f32(x uint64) float32 { return math.Float32frombits(uint32(x)) }
func f64(x uint64) float64 { return math.Float64frombits(x) }
func u32(x float32) uint64 { return uint64(math.Float32bits(x)) }
func u64(x float64) uint64 { return math.Float64bits(x) }

// EvalBinary applies a binary numeric operator to raw operand bits. The
// returned trap code is zero on success.
func EvalBinary(op Opcode, x, y uint64) (uint64, errors.TrapCode) {
	a32, b32 := uint32(x), uint32(y)
	switch byte(op) {
	// i32 comparisons
	case wasm.OpI32Eq:
		return b2u(a32 == b32), noTrap
	case wasm.OpI32Ne:
		return b2u(a32 != b32), noTrap
	case wasm.OpI32LtS:
		return b2u(int32(a32) < int32(b32)), noTrap
	case wasm.OpI32LtU:
		return b2u(a32 < b32), noTrap
	case wasm.OpI32GtS:
		return b2u(int32(a32) > int32(b32)), noTrap
	case wasm.OpI32GtU:
		return b2u(a32 > b32), noTrap
	case wasm.OpI32LeS:
		return b2u(int32(a32) <= int32(b32)), noTrap
	case wasm.OpI32LeU:
		return b2u(a32 <= b32), noTrap
	case wasm.OpI32GeS:
		return b2u(int32(a32) >= int32(b32)), noTrap
	case wasm.OpI32GeU:
		return b2u(a32 >= b32), noTrap

	// i64 comparisons
	case wasm.OpI64Eq:
		return b2u(x == y), noTrap
	case wasm.OpI64Ne:
		return b2u(x != y), noTrap
	case wasm.OpI64LtS:
		return b2u(int64(x) < int64(y)), noTrap
	case wasm.OpI64LtU:
		return b2u(x < y), noTrap
	case wasm.OpI64GtS:
		return b2u(int64(x) > int64(y)), noTrap
	case wasm.OpI64GtU:
		return b2u(x > y), noTrap
	case wasm.OpI64LeS:
		return b2u(int64(x) <= int64(y)), noTrap
	case wasm.OpI64LeU:
		return b2u(x <= y), noTrap
	case wasm.OpI64GeS:
		return b2u(int64(x) >= int64(y)), noTrap
	case wasm.OpI64GeU:
		return b2u(x >= y), noTrap

	// float comparisons
	case wasm.OpF32Eq:
		return b2u(f32(x) == f32(y)), noTrap
	case wasm.OpF32Ne:
		return b2u(f32(x) != f32(y)), noTrap
	case wasm.OpF32Lt:
		return b2u(f32(x) < f32(y)), noTrap
	case wasm.OpF32Gt:
		return b2u(f32(x) > f32(y)), noTrap
	case wasm.OpF32Le:
		return b2u(f32(x) <= f32(y)), noTrap
	case wasm.OpF32Ge:
		return b2u(f32(x) >= f32(y)), noTrap
	case wasm.OpF64Eq:
		return b2u(f64(x) == f64(y)), noTrap
	case wasm.OpF64Ne:
		return b2u(f64(x) != f64(y)), noTrap
	case wasm.OpF64Lt:
		return b2u(f64(x) < f64(y)), noTrap
	case wasm.OpF64Gt:
		return b2u(f64(x) > f64(y)), noTrap
	case wasm.OpF64Le:
		return b2u(f64(x) <= f64(y)), noTrap
	case wasm.OpF64Ge:
		return b2u(f64(x) >= f64(y)), noTrap

	// i32 arithmetic
	case wasm.OpI32Add:
		return uint64(a32 + b32), noTrap
	case wasm.OpI32Sub:
		return uint64(a32 - b32), noTrap
	case wasm.OpI32Mul:
		return uint64(a32 * b32), noTrap
	case wasm.OpI32DivS:
		if b32 == 0 {
			return 0, errors.TrapIntegerDivideByZero
		}
		if int32(a32) == math.MinInt32 && int32(b32) == -1 {
			return 0, errors.TrapIntegerOverflow
		}
		return uint64(uint32(int32(a32) / int32(b32))), noTrap
	case wasm.OpI32DivU:
		if b32 == 0 {
			return 0, errors.TrapIntegerDivideByZero
		}
		return uint64(a32 / b32), noTrap
	case wasm.OpI32RemS:
		if b32 == 0 {
			return 0, errors.TrapIntegerDivideByZero
		}
		return uint64(uint32(int32(a32) % int32(b32))), noTrap
	case wasm.OpI32RemU:
		if b32 == 0 {
			return 0, errors.TrapIntegerDivideByZero
		}
		return uint64(a32 % b32), noTrap
	case wasm.OpI32And:
		return uint64(a32 & b32), noTrap
	case wasm.OpI32Or:
		return uint64(a32 | b32), noTrap
	case wasm.OpI32Xor:
		return uint64(a32 ^ b32), noTrap
	case wasm.OpI32Shl:
		return uint64(a32 << (b32 & 31)), noTrap
	case wasm.OpI32ShrS:
		return uint64(uint32(int32(a32) >> (b32 & 31))), noTrap
	case wasm.OpI32ShrU:
		return uint64(a32 >> (b32 & 31)), noTrap
	case wasm.OpI32Rotl:
		return uint64(bits.RotateLeft32(a32, int(b32&31))), noTrap
	case wasm.OpI32Rotr:
		return uint64(bits.RotateLeft32(a32, -int(b32&31))), noTrap

	// i64 arithmetic
	case wasm.OpI64Add:
		return x + y, noTrap
	case wasm.OpI64Sub:
		return x - y, noTrap
	case wasm.OpI64Mul:
		return x * y, noTrap
	case wasm.OpI64DivS:
		if y == 0 {
			return 0, errors.TrapIntegerDivideByZero
		}
		if int64(x) == math.MinInt64 && int64(y) == -1 {
			return 0, errors.TrapIntegerOverflow
		}
		return uint64(int64(x) / int64(y)), noTrap
	case wasm.OpI64DivU:
		if y == 0 {
			return 0, errors.TrapIntegerDivideByZero
		}
		return x / y, noTrap
	case wasm.OpI64RemS:
		if y == 0 {
			return 0, errors.TrapIntegerDivideByZero
		}
		return uint64(int64(x) % int64(y)), noTrap
	case wasm.OpI64RemU:
		if y == 0 {
			return 0, errors.TrapIntegerDivideByZero
		}
		return x % y, noTrap
	case wasm.OpI64And:
		return x & y, noTrap
	case wasm.OpI64Or:
		return x | y, noTrap
	case wasm.OpI64Xor:
		return x ^ y, noTrap
	case wasm.OpI64Shl:
		return x << (y & 63), noTrap
	case wasm.OpI64ShrS:
		return uint64(int64(x) >> (y & 63)), noTrap
	case wasm.OpI64ShrU:
		return x >> (y & 63), noTrap
	case wasm.OpI64Rotl:
		return bits.RotateLeft64(x, int(y&63)), noTrap
	case wasm.OpI64Rotr:
		return bits.RotateLeft64(x, -int(y&63)), noTrap

	// f32 arithmetic
	case wasm.OpF32Add:
		return u32(f32(x) + f32(y)), noTrap
	case wasm.OpF32Sub:
		return u32(f32(x) - f32(y)), noTrap
	case wasm.OpF32Mul:
		return u32(f32(x) * f32(y)), noTrap
	case wasm.OpF32Div:
		return u32(f32(x) / f32(y)), noTrap
	case wasm.OpF32Min:
		return u32(float32(math.Min(float64(f32(x)), float64(f32(y))))), noTrap
	case wasm.OpF32Max:
		return u32(float32(math.Max(float64(f32(x)), float64(f32(y))))), noTrap
	case wasm.OpF32Copysign:
		return uint64(a32&^(1<<31) | b32&(1<<31)), noTrap

	// f64 arithmetic
	case wasm.OpF64Add:
		return u64(f64(x) + f64(y)), noTrap
	case wasm.OpF64Sub:
		return u64(f64(x) - f64(y)), noTrap
	case wasm.OpF64Mul:
		return u64(f64(x) * f64(y)), noTrap
	case wasm.OpF64Div:
		return u64(f64(x) / f64(y)), noTrap
	case wasm.OpF64Min:
		return u64(math.Min(f64(x), f64(y))), noTrap
	case wasm.OpF64Max:
		return u64(math.Max(f64(x), f64(y))), noTrap
	case wasm.OpF64Copysign:
		return x&^(1<<63) | y&(1<<63), noTrap
	}
	panic("vm: not a binary operator: " + op.String())
}

// EvalUnary applies a unary numeric operator to raw operand bits. The
// returned trap code is zero on success.
func EvalUnary(op Opcode, x uint64) (uint64, errors.TrapCode) {
	if sub, ok := op.IsMisc(); ok {
		return evalSaturating(sub, x)
	}
	a32 := uint32(x)
	switch byte(op) {
	case wasm.OpI32Eqz:
		return b2u(a32 == 0), noTrap
	case wasm.OpI64Eqz:
		return b2u(x == 0), noTrap
	case wasm.OpI32Clz:
		return uint64(bits.LeadingZeros32(a32)), noTrap
	case wasm.OpI32Ctz:
		return uint64(bits.TrailingZeros32(a32)), noTrap
	case wasm.OpI32Popcnt:
		return uint64(bits.OnesCount32(a32)), noTrap
	case wasm.OpI64Clz:
		return uint64(bits.LeadingZeros64(x)), noTrap
	case wasm.OpI64Ctz:
		return uint64(bits.TrailingZeros64(x)), noTrap
	case wasm.OpI64Popcnt:
		return uint64(bits.OnesCount64(x)), noTrap

	case wasm.OpF32Abs:
		return uint64(a32 &^ (1 << 31)), noTrap
	case wasm.OpF32Neg:
		return uint64(a32 ^ (1 << 31)), noTrap
	case wasm.OpF32Ceil:
		return u32(float32(math.Ceil(float64(f32(x))))), noTrap
	case wasm.OpF32Floor:
		return u32(float32(math.Floor(float64(f32(x))))), noTrap
	case wasm.OpF32Trunc:
		return u32(float32(math.Trunc(float64(f32(x))))), noTrap
	case wasm.OpF32Nearest:
		return u32(float32(math.RoundToEven(float64(f32(x))))), noTrap
	case wasm.OpF32Sqrt:
		return u32(float32(math.Sqrt(float64(f32(x))))), noTrap
	case wasm.OpF64Abs:
		return x &^ (1 << 63), noTrap
	case wasm.OpF64Neg:
		return x ^ (1 << 63), noTrap
	case wasm.OpF64Ceil:
		return u64(math.Ceil(f64(x))), noTrap
	case wasm.OpF64Floor:
		return u64(math.Floor(f64(x))), noTrap
	case wasm.OpF64Trunc:
		return u64(math.Trunc(f64(x))), noTrap
	case wasm.OpF64Nearest:
		return u64(math.RoundToEven(f64(x))), noTrap
	case wasm.OpF64Sqrt:
		return u64(math.Sqrt(f64(x))), noTrap

	case wasm.OpI32WrapI64:
		return uint64(a32), noTrap
	case wasm.OpI32TruncF32S:
		return truncS32(float64(f32(x)))
	case wasm.OpI32TruncF32U:
		return truncU32(float64(f32(x)))
	case wasm.OpI32TruncF64S:
		return truncS32(f64(x))
	case wasm.OpI32TruncF64U:
		return truncU32(f64(x))
	case wasm.OpI64ExtendI32S:
		return uint64(int64(int32(a32))), noTrap
	case wasm.OpI64ExtendI32U:
		return uint64(a32), noTrap
	case wasm.OpI64TruncF32S:
		return truncS64(float64(f32(x)))
	case wasm.OpI64TruncF32U:
		return truncU64(float64(f32(x)))
	case wasm.OpI64TruncF64S:
		return truncS64(f64(x))
	case wasm.OpI64TruncF64U:
		return truncU64(f64(x))
	case wasm.OpF32ConvertI32S:
		return u32(float32(int32(a32))), noTrap
	case wasm.OpF32ConvertI32U:
		return u32(float32(a32)), noTrap
	case wasm.OpF32ConvertI64S:
		return u32(float32(int64(x))), noTrap
	case wasm.OpF32ConvertI64U:
		return u32(float32(x)), noTrap
	case wasm.OpF32DemoteF64:
		return u32(float32(f64(x))), noTrap
	case wasm.OpF64ConvertI32S:
		return u64(float64(int32(a32))), noTrap
	case wasm.OpF64ConvertI32U:
		return u64(float64(a32)), noTrap
	case wasm.OpF64ConvertI64S:
		return u64(float64(int64(x))), noTrap
	case wasm.OpF64ConvertI64U:
		return u64(float64(x)), noTrap
	case wasm.OpF64PromoteF32:
		return u64(float64(f32(x))), noTrap
	case wasm.OpI32ReinterpretF32, wasm.OpF32ReinterpretI32:
		return uint64(a32), noTrap
	case wasm.OpI64ReinterpretF64, wasm.OpF64ReinterpretI64:
		return x, noTrap

	case wasm.OpI32Extend8S:
		return uint64(uint32(int32(int8(a32)))), noTrap
	case wasm.OpI32Extend16S:
		return uint64(uint32(int32(int16(a32)))), noTrap
	case wasm.OpI64Extend8S:
		return uint64(int64(int8(x))), noTrap
	case wasm.OpI64Extend16S:
		return uint64(int64(int16(x))), noTrap
	case wasm.OpI64Extend32S:
		return uint64(int64(int32(x))), noTrap
	}
	panic("vm: not a unary operator: " + op.String())
}

func truncS32(f float64) (uint64, errors.TrapCode) {
	if math.IsNaN(f) {
		return 0, errors.TrapInvalidConversion
	}
	t := math.Trunc(f)
	if t < math.MinInt32 || t > math.MaxInt32 {
		return 0, errors.TrapIntegerOverflow
	}
	return uint64(uint32(int32(t))), noTrap
}

func truncU32(f float64) (uint64, errors.TrapCode) {
	if math.IsNaN(f) {
		return 0, errors.TrapInvalidConversion
	}
	t := math.Trunc(f)
	if t < 0 || t > math.MaxUint32 {
		return 0, errors.TrapIntegerOverflow
	}
	return uint64(uint32(t)), noTrap
}

func truncS64(f float64) (uint64, errors.TrapCode) {
	if math.IsNaN(f) {
		return 0, errors.TrapInvalidConversion
	}
	t := math.Trunc(f)
	if t < math.MinInt64 || t >= 9223372036854775808.0 {
		return 0, errors.TrapIntegerOverflow
	}
	return uint64(int64(t)), noTrap
}

func truncU64(f float64) (uint64, errors.TrapCode) {
	if math.IsNaN(f) {
		return 0, errors.TrapInvalidConversion
	}
	t := math.Trunc(f)
	if t < 0 || t >= 18446744073709551616.0 {
		return 0, errors.TrapIntegerOverflow
	}
	return uint64(t), noTrap
}

func evalSaturating(sub uint32, x uint64) (uint64, errors.TrapCode) {
	switch sub {
	case wasm.MiscI32TruncSatF32S:
		return satS32(float64(f32(x))), noTrap
	case wasm.MiscI32TruncSatF32U:
		return satU32(float64(f32(x))), noTrap
	case wasm.MiscI32TruncSatF64S:
		return satS32(f64(x)), noTrap
	case wasm.MiscI32TruncSatF64U:
		return satU32(f64(x)), noTrap
	case wasm.MiscI64TruncSatF32S:
		return satS64(float64(f32(x))), noTrap
	case wasm.MiscI64TruncSatF32U:
		return satU64(float64(f32(x))), noTrap
	case wasm.MiscI64TruncSatF64S:
		return satS64(f64(x)), noTrap
	case wasm.MiscI64TruncSatF64U:
		return satU64(f64(x)), noTrap
	}
	panic("vm: not a saturating conversion")
}

func satS32(f float64) uint64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f <= math.MinInt32:
		return 0x80000000
	case f >= math.MaxInt32:
		return math.MaxInt32
	}
	return uint64(uint32(int32(f)))
}

func satU32(f float64) uint64 {
	switch {
	case math.IsNaN(f), f <= 0:
		return 0
	case f >= math.MaxUint32:
		return math.MaxUint32
	}
	return uint64(uint32(f))
}

func satS64(f float64) uint64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f <= math.MinInt64:
		return 1 << 63
	case f >= 9223372036854775808.0:
		return math.MaxInt64
	}
	return uint64(int64(f))
}

func satU64(f float64) uint64 {
	switch {
	case math.IsNaN(f), f <= 0:
		return 0
	case f >= 18446744073709551616.0:
		return math.MaxUint64
	}
	return uint64(f)
}
