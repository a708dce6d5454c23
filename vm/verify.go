package vm

import (
	"fmt"

	"github.com/wippyai/wasm-engine/wasm"
)

// Bounds are the index space sizes code of one function may refer to.
type Bounds struct {
	Funcs    uint32
	Types    uint32
	Tables   uint32
	Memories uint32
	Globals  uint32
	Datas    uint32
	Elems    uint32
	Params   uint32
}

// Verify checks that every operand of f's code stays within bounds, that
// branches land inside the function and that execution cannot run past
// the last instruction. It makes code from untrusted bytes safe to run.
func (f *CompiledFunction) Verify(b Bounds) error {
	code, err := f.Instrs()
	if err != nil {
		return err
	}
	if len(code) == 0 {
		return fmt.Errorf("empty function")
	}
	if last := code[len(code)-1].Op; !last.Terminates() {
		return fmt.Errorf("function ends with %s", last)
	}
	slots := uint64(b.Params) + uint64(f.NumLocals)
	n := uint32(len(code))
	for pc, in := range code {
		bad := func(what string, v uint32) error {
			return fmt.Errorf("instruction %d (%s): %s %d out of range", pc, in.Op, what, v)
		}
		if in.Flags&^FlagAdjust != 0 && in.Op != OpLocalsBinary {
			return fmt.Errorf("instruction %d (%s): unknown flags 0x%x", pc, in.Op, in.Flags)
		}
		if in.Flags&FlagAdjust != 0 {
			if !in.Op.IsBranch() {
				return fmt.Errorf("instruction %d (%s): adjust on a non-branch", pc, in.Op)
			}
			h, arity := AdjustOf(in.B)
			if uint64(h)+uint64(arity) > slots+uint64(f.MaxStack) {
				return bad("stack slot", h+arity)
			}
		}
		switch op := in.Op; {
		case op.IsBranch():
			if in.A >= n {
				return bad("branch target", in.A)
			}
		case op == OpBrTable:
			if uint64(pc)+2+uint64(in.A) > uint64(n) {
				return bad("table size", in.A)
			}
			for _, e := range code[pc+1 : pc+2+int(in.A)] {
				if e.Op != OpBr {
					return fmt.Errorf("instruction %d: br_table entry is %s", pc, e.Op)
				}
			}
		case op == OpReturn, op == OpDrop:
			if uint64(in.A) > slots+uint64(f.MaxStack) {
				return bad("count", in.A)
			}
		case op == OpCall, op == Wasm(wasm.OpRefFunc):
			if in.A >= b.Funcs {
				return bad("function", in.A)
			}
		case op == OpCallIndirect:
			if in.A >= b.Types {
				return bad("type", in.A)
			}
			if in.B >= uint64(b.Tables) {
				return bad("table", uint32(in.B))
			}
		case op == OpLocalsBinary:
			if Opcode(in.Flags).Class() != ClassBinary {
				return fmt.Errorf("instruction %d: %s is not a binary operator", pc, Opcode(in.Flags))
			}
			if uint64(in.A) >= slots || uint64(in.B) >= slots {
				return bad("local", max(in.A, uint32(in.B)))
			}
		case op == OpConst:
		case op == OpLabel || op > OpLocalsBinary:
			return fmt.Errorf("instruction %d: invalid opcode %s", pc, op)
		default:
			if err := verifyWasm(in, slots, b); err != nil {
				return fmt.Errorf("instruction %d (%s): %w", pc, in.Op, err)
			}
		}
	}
	return nil
}

func verifyWasm(in Instr, slots uint64, b Bounds) error {
	check := func(what string, v, limit uint32) error {
		if v >= limit {
			return fmt.Errorf("%s %d out of range", what, v)
		}
		return nil
	}
	if sub, ok := in.Op.IsMisc(); ok {
		switch sub {
		case wasm.MiscMemoryInit:
			if err := check("memory", 0, b.Memories); err != nil {
				return err
			}
			return check("data segment", in.A, b.Datas)
		case wasm.MiscDataDrop:
			return check("data segment", in.A, b.Datas)
		case wasm.MiscMemoryCopy, wasm.MiscMemoryFill:
			return check("memory", 0, b.Memories)
		case wasm.MiscTableInit:
			if err := check("element segment", in.A, b.Elems); err != nil {
				return err
			}
			return check("table", uint32(in.B), b.Tables)
		case wasm.MiscElemDrop:
			return check("element segment", in.A, b.Elems)
		case wasm.MiscTableCopy:
			if err := check("table", in.A, b.Tables); err != nil {
				return err
			}
			return check("table", uint32(in.B), b.Tables)
		case wasm.MiscTableGrow, wasm.MiscTableSize, wasm.MiscTableFill:
			return check("table", in.A, b.Tables)
		}
		if sub <= wasm.MiscI64TruncSatF64U {
			return nil
		}
		return fmt.Errorf("unknown instruction")
	}
	if in.Op >= 0x100 {
		return fmt.Errorf("unknown instruction")
	}
	switch op := byte(in.Op); {
	case op == wasm.OpLocalGet, op == wasm.OpLocalSet, op == wasm.OpLocalTee:
		if uint64(in.A) >= slots {
			return fmt.Errorf("local %d out of range", in.A)
		}
	case op == wasm.OpGlobalGet, op == wasm.OpGlobalSet:
		return check("global", in.A, b.Globals)
	case op == wasm.OpTableGet, op == wasm.OpTableSet:
		return check("table", in.A, b.Tables)
	case op >= wasm.OpI32Load && op <= wasm.OpMemoryGrow:
		return check("memory", 0, b.Memories)
	case op == wasm.OpUnreachable, op == wasm.OpNop, op == wasm.OpSelect, op == wasm.OpRefIsNull:
	case in.Op.Class() == ClassOther:
		return fmt.Errorf("unknown instruction")
	}
	return nil
}
