package middleware

import (
	"fmt"

	"github.com/wippyai/wasm-engine/compiler"
	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/vm"
	"github.com/wippyai/wasm-engine/wasm"
)

// DenyList rejects function bodies containing any of a set of instructions.
// Instructions are named by vm opcode: vm.Wasm for single-byte opcodes and
// vm.Misc for 0xFC-prefixed ones.
type DenyList struct {
	name   string
	denied map[vm.Opcode]struct{}
}

// Deny returns a middleware rejecting the given instructions.
func Deny(ops ...vm.Opcode) *DenyList {
	d := &DenyList{name: "deny", denied: make(map[vm.Opcode]struct{}, len(ops))}
	for _, op := range ops {
		d.denied[op] = struct{}{}
	}
	return d
}

// DenyFloats rejects every instruction that produces or consumes a
// floating-point value, for deterministic execution across hosts.
func DenyFloats() *DenyList {
	var ops []vm.Opcode
	add := func(from, to byte) {
		for op := int(from); op <= int(to); op++ {
			ops = append(ops, vm.Wasm(byte(op)))
		}
	}
	add(wasm.OpF32Load, wasm.OpF64Load)
	add(wasm.OpF32Store, wasm.OpF64Store)
	add(wasm.OpF32Const, wasm.OpF64Const)
	add(wasm.OpF32Eq, wasm.OpF64Ge)
	add(wasm.OpF32Abs, wasm.OpF64Copysign)
	add(wasm.OpI32TruncF32S, wasm.OpI64ExtendI32S-1)
	add(wasm.OpI64ExtendI32U+1, wasm.OpF64ReinterpretI64)
	for sub := wasm.MiscI32TruncSatF32S; sub <= wasm.MiscI64TruncSatF64U; sub++ {
		ops = append(ops, vm.Misc(sub))
	}
	d := Deny(ops...)
	d.name = "deny-floats"
	return d
}

func (d *DenyList) Name() string { return d.name }

func (*DenyList) TransformModuleInfo(*wasm.Module) error { return nil }

func (d *DenyList) GenerateFunctionMiddleware(uint32) compiler.FunctionMiddleware { return d }

func (d *DenyList) Feed(ev compiler.Event, s *compiler.MiddlewareReaderState) error {
	op := eventOpcode(ev)
	if _, ok := d.denied[op]; ok {
		return &errors.MiddlewareError{
			Middleware: d.name,
			Message:    fmt.Sprintf("instruction %s at offset %d is not allowed", op, ev.Offset),
		}
	}
	s.Push(ev)
	return nil
}

func eventOpcode(ev compiler.Event) vm.Opcode {
	if ev.Opcode == wasm.OpPrefixMisc {
		if imm, ok := ev.Imm.(wasm.MiscImm); ok {
			return vm.Misc(imm.SubOpcode)
		}
	}
	return vm.Wasm(ev.Opcode)
}
