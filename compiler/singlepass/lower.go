package singlepass

import (
	"github.com/wippyai/wasm-engine/compiler"
	"github.com/wippyai/wasm-engine/vm"
	"github.com/wippyai/wasm-engine/wasm"
)

// Lowered is a function in label form, ready to be optimized or assembled.
type Lowered struct {
	Program    vm.Program
	TypeIndex  uint32
	NumLocals  uint32 // declared locals, excluding parameters
	MaxStack   uint32
	BodyOffset uint32
}

// Finish assembles the program into executable code.
func (l *Lowered) Finish() (*vm.CompiledFunction, error) {
	code, offsets, err := l.Program.Assemble()
	if err != nil {
		return nil, err
	}
	return vm.NewCompiledFunction(code, offsets, l.TypeIndex, l.NumLocals, l.MaxStack, l.BodyOffset)
}

type frameKind uint8

const (
	frameFunction frameKind = iota
	frameBlock
	frameLoop
	frameIf
)

type controlFrame struct {
	kind    frameKind
	height  int // operand height below the frame's parameters
	arity   int // values carried by a branch to this frame
	start   vm.Label
	end     vm.Label
	els     vm.Label
	hasElse bool
}

type lowerer struct {
	v      *compiler.FuncValidator
	m      *wasm.Module
	p      *vm.Program
	frames []*controlFrame
	locals int // parameters and declared locals
	offset uint32

	unreachable struct {
		on    bool
		depth int
	}
}

// Lower validates a function body and translates it into a vm program.
// The validator is stepped for every instruction, so its operand height
// is exact wherever code is emitted.
func Lower(info *compiler.ModuleInfo, fb *compiler.FunctionBody) (*Lowered, error) {
	v, err := compiler.NewFuncValidator(info, fb)
	if err != nil {
		return nil, err
	}
	out := &Lowered{
		TypeIndex:  info.Module.Funcs[fb.LocalIndex],
		NumLocals:  uint32(len(fb.Locals)),
		BodyOffset: fb.Offset,
	}
	c := &lowerer{v: v, m: info.Module, p: &out.Program, locals: fb.NumLocals()}
	c.frames = append(c.frames, &controlFrame{
		kind:  frameFunction,
		arity: len(fb.Type.Results),
		end:   c.p.NewLabel(),
	})
	for _, ev := range fb.Events {
		if err := c.step(ev); err != nil {
			return nil, err
		}
	}
	if err := v.Finish(); err != nil {
		return nil, err
	}
	out.MaxStack = uint32(v.MaxHeight())
	return out, nil
}

func (c *lowerer) emit(in vm.Instr) { c.p.Emit(c.offset, in) }

func (c *lowerer) top() *controlFrame { return c.frames[len(c.frames)-1] }

// branch emits a jump to the frame at relative depth. h is the operand
// height at the jump, after any condition has been popped.
func (c *lowerer) branch(op vm.Opcode, depth uint32, h int) {
	f := c.frames[len(c.frames)-1-int(depth)]
	target := f.end
	if f.kind == frameLoop {
		target = f.start
	}
	adjust := f.kind != frameFunction && h != f.height+f.arity
	c.p.Branch(c.offset, op, target, adjust, uint32(c.locals+f.height), uint32(f.arity))
}

func (c *lowerer) step(ev compiler.Event) error {
	h := c.v.Height()
	if err := c.v.Step(ev); err != nil {
		return err
	}
	c.offset = ev.Offset

	if c.unreachable.on {
		return c.stepUnreachable(ev)
	}

	switch op := ev.Opcode; op {
	case wasm.OpNop:

	case wasm.OpUnreachable:
		c.emit(vm.Instr{Op: vm.Opcode(wasm.OpUnreachable)})
		c.unreachable.on = true

	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
		params, results, _ := compiler.BlockType(c.m, ev.Imm.(wasm.BlockImm).Type)
		f := &controlFrame{kind: frameBlock, height: h - len(params), arity: len(results)}
		switch op {
		case wasm.OpLoop:
			f.kind = frameLoop
			f.arity = len(params)
			f.start = c.p.NewLabel()
			c.p.Bind(f.start, c.offset)
		case wasm.OpIf:
			f.kind = frameIf
			f.height--
			f.end = c.p.NewLabel()
			f.els = c.p.NewLabel()
			c.p.Branch(c.offset, vm.OpBrIfNot, f.els, false, 0, 0)
		default:
			f.end = c.p.NewLabel()
		}
		c.frames = append(c.frames, f)

	case wasm.OpElse:
		f := c.top()
		c.p.Branch(c.offset, vm.OpBr, f.end, false, 0, 0)
		c.p.Bind(f.els, c.offset)
		f.hasElse = true

	case wasm.OpEnd:
		c.endFrame()

	case wasm.OpBr:
		c.branch(vm.OpBr, ev.Imm.(wasm.BranchImm).LabelIdx, h)
		c.unreachable.on = true

	case wasm.OpBrIf:
		c.branch(vm.OpBrIf, ev.Imm.(wasm.BranchImm).LabelIdx, h-1)

	case wasm.OpBrTable:
		imm := ev.Imm.(wasm.BrTableImm)
		c.emit(vm.Instr{Op: vm.OpBrTable, A: uint32(len(imm.Labels))})
		for _, l := range imm.Labels {
			c.branch(vm.OpBr, l, h-1)
		}
		c.branch(vm.OpBr, imm.Default, h-1)
		c.unreachable.on = true

	case wasm.OpReturn:
		c.emit(vm.Instr{Op: vm.OpReturn, A: uint32(c.frames[0].arity)})
		c.unreachable.on = true

	case wasm.OpCall:
		c.emit(vm.Instr{Op: vm.OpCall, A: ev.Imm.(wasm.CallImm).FuncIdx})
	case wasm.OpCallIndirect:
		imm := ev.Imm.(wasm.CallIndirectImm)
		c.emit(vm.Instr{Op: vm.OpCallIndirect, A: imm.TypeIdx, B: uint64(imm.TableIdx)})

	case wasm.OpDrop:
		c.emit(vm.Instr{Op: vm.OpDrop, A: 1})
	case wasm.OpSelect, wasm.OpSelectType:
		c.emit(vm.Instr{Op: vm.Opcode(wasm.OpSelect)})

	case wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee:
		c.emit(vm.Instr{Op: vm.Opcode(op), A: ev.Imm.(wasm.LocalImm).LocalIdx})
	case wasm.OpGlobalGet, wasm.OpGlobalSet:
		c.emit(vm.Instr{Op: vm.Opcode(op), A: ev.Imm.(wasm.GlobalImm).GlobalIdx})
	case wasm.OpTableGet, wasm.OpTableSet:
		c.emit(vm.Instr{Op: vm.Opcode(op), A: ev.Imm.(wasm.TableImm).TableIdx})
	case wasm.OpMemorySize, wasm.OpMemoryGrow:
		c.emit(vm.Instr{Op: vm.Opcode(op)})

	case wasm.OpI32Const:
		c.emit(vm.Instr{Op: vm.OpConst, B: uint64(uint32(ev.Imm.(wasm.I32Imm).Value))})
	case wasm.OpI64Const:
		c.emit(vm.Instr{Op: vm.OpConst, B: uint64(ev.Imm.(wasm.I64Imm).Value)})
	case wasm.OpF32Const:
		c.emit(vm.Instr{Op: vm.OpConst, B: uint64(ev.Imm.(wasm.F32Imm).Bits)})
	case wasm.OpF64Const:
		c.emit(vm.Instr{Op: vm.OpConst, B: ev.Imm.(wasm.F64Imm).Bits})

	case wasm.OpRefNull:
		c.emit(vm.Instr{Op: vm.OpConst})
	case wasm.OpRefIsNull:
		c.emit(vm.Instr{Op: vm.Opcode(op)})
	case wasm.OpRefFunc:
		c.emit(vm.Instr{Op: vm.Opcode(op), A: ev.Imm.(wasm.RefFuncImm).FuncIdx})

	case wasm.OpPrefixMisc:
		c.emit(lowerMisc(ev.Imm.(wasm.MiscImm)))

	default:
		if _, ok := compiler.MemoryAccessOf(op); ok {
			// Offsets beyond 32 bits are rejected by validation.
			c.emit(vm.Instr{Op: vm.Opcode(op), A: uint32(ev.Imm.(wasm.MemoryImm).Offset)})
			break
		}
		c.emit(vm.Instr{Op: vm.Opcode(op)})
	}
	return nil
}

// stepUnreachable skips dead code, tracking only block nesting so the end
// or else that revives the current frame is found.
func (c *lowerer) stepUnreachable(ev compiler.Event) error {
	switch ev.Opcode {
	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
		c.unreachable.depth++
	case wasm.OpElse:
		if c.unreachable.depth > 0 {
			break
		}
		f := c.top()
		c.p.Bind(f.els, c.offset)
		f.hasElse = true
		c.unreachable.on = false
	case wasm.OpEnd:
		if c.unreachable.depth > 0 {
			c.unreachable.depth--
			break
		}
		c.unreachable.on = false
		c.endFrame()
	}
	return nil
}

func (c *lowerer) endFrame() {
	f := c.top()
	c.frames = c.frames[:len(c.frames)-1]
	switch f.kind {
	case frameFunction:
		c.p.Bind(f.end, c.offset)
		c.emit(vm.Instr{Op: vm.OpReturn, A: uint32(f.arity)})
	case frameIf:
		if !f.hasElse {
			c.p.Bind(f.els, c.offset)
		}
		c.p.Bind(f.end, c.offset)
	case frameBlock:
		c.p.Bind(f.end, c.offset)
	}
}

func lowerMisc(imm wasm.MiscImm) vm.Instr {
	in := vm.Instr{Op: 0xFC00 | vm.Opcode(imm.SubOpcode)}
	switch imm.SubOpcode {
	case wasm.MiscMemoryInit, wasm.MiscDataDrop, wasm.MiscElemDrop,
		wasm.MiscTableGrow, wasm.MiscTableSize, wasm.MiscTableFill:
		in.A = imm.Operands[0]
	case wasm.MiscTableInit, wasm.MiscTableCopy:
		in.A = imm.Operands[0]
		in.B = uint64(imm.Operands[1])
	}
	return in
}
