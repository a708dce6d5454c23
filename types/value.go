package types

import (
	"fmt"
	"math"
	"strconv"
)

// Value is a typed WebAssembly value. Numbers are stored as raw bits:
// i32 zero-extended, floats as their IEEE-754 representation. References
// are store-scoped handles where zero means null.
type Value struct {
	raw uint64
	typ Type
}

func ValueI32(v int32) Value     { return Value{typ: I32, raw: uint64(uint32(v))} }
func ValueI64(v int64) Value     { return Value{typ: I64, raw: uint64(v)} }
func ValueF32(v float32) Value   { return Value{typ: F32, raw: uint64(math.Float32bits(v))} }
func ValueF64(v float64) Value   { return Value{typ: F64, raw: math.Float64bits(v)} }
func NullRef(t Type) Value       { return Value{typ: t} }
func ValueFromRaw(t Type, raw uint64) Value {
	if t == I32 || t == F32 {
		raw = uint64(uint32(raw))
	}
	return Value{typ: t, raw: raw}
}

func (v Value) Type() Type     { return v.typ }
func (v Value) Raw() uint64    { return v.raw }
func (v Value) I32() int32     { return int32(uint32(v.raw)) }
func (v Value) I64() int64     { return int64(v.raw) }
func (v Value) F32() float32   { return math.Float32frombits(uint32(v.raw)) }
func (v Value) F64() float64   { return math.Float64frombits(v.raw) }
func (v Value) IsNull() bool   { return v.typ.IsRef() && v.raw == 0 }

func (v Value) String() string {
	switch v.typ {
	case I32:
		return fmt.Sprintf("i32:%d", v.I32())
	case I64:
		return fmt.Sprintf("i64:%d", v.I64())
	case F32:
		return fmt.Sprintf("f32:%g", v.F32())
	case F64:
		return fmt.Sprintf("f64:%g", v.F64())
	case FuncRef, ExternRef:
		if v.raw == 0 {
			return v.typ.String() + ":null"
		}
		return fmt.Sprintf("%s:#%d", v.typ, v.raw)
	default:
		return fmt.Sprintf("%s:0x%x", v.typ, v.raw)
	}
}

// ParseValue parses s as a value of kind t. Integers accept any base
// strconv understands and the full unsigned range, so "0xffffffff" and
// "-1" are the same i32.
func ParseValue(t Type, s string) (Value, error) {
	switch t {
	case I32:
		if n, err := strconv.ParseInt(s, 0, 32); err == nil {
			return ValueI32(int32(n)), nil
		}
		n, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return Value{}, fmt.Errorf("invalid i32 %q", s)
		}
		return ValueI32(int32(uint32(n))), nil
	case I64:
		if n, err := strconv.ParseInt(s, 0, 64); err == nil {
			return ValueI64(n), nil
		}
		n, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid i64 %q", s)
		}
		return ValueI64(int64(n)), nil
	case F32:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return Value{}, fmt.Errorf("invalid f32 %q", s)
		}
		return ValueF32(float32(f)), nil
	case F64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid f64 %q", s)
		}
		return ValueF64(f), nil
	}
	return Value{}, fmt.Errorf("cannot parse %s values", t)
}
