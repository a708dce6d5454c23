package vm

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/types"
	"github.com/wippyai/wasm-engine/wasm"
)

const initialStackSize = 1024

type frame struct {
	fn   *Function
	inst *Instance
	code []Instr
	pc   int
	base int
}

// trapSignal unwinds the interpreter to Invoke.
type trapSignal struct {
	cause error
	code  errors.TrapCode
}

// machine executes one top-level call. Host functions that call back into
// wasm start a new machine.
type machine struct {
	ctx      context.Context
	done     <-chan struct{}
	stack    []uint64
	frames   []frame
	sp       int
	maxDepth int
	// base is the depth of the machines suspended in host calls below
	// this one.
	base int
}

// Invoke calls f with raw argument bits and returns raw results. Traps are
// returned as *errors.RuntimeError carrying the wasm backtrace.
func Invoke(ctx context.Context, f *Function, args []uint64) (results []uint64, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	m := &machine{
		ctx:      ctx,
		done:     ctx.Done(),
		stack:    make([]uint64, max(initialStackSize, len(args)+f.typ.NumResults())),
		maxDepth: f.owner.maxCallDepth(),
		base:     f.owner.hostDepth(),
	}
	defer func() {
		if r := recover(); r != nil {
			err = m.recoverTrap(r)
			results = nil
		}
	}()

	copy(m.stack, args)
	m.sp = len(args)
	m.checkInterrupt()
	if f.host != nil {
		m.callHost(f, nil)
	} else {
		m.enter(f)
		m.run()
	}
	n := f.typ.NumResults()
	return append([]uint64(nil), m.stack[m.sp-n:m.sp]...), nil
}

func (m *machine) trap(code errors.TrapCode) {
	panic(trapSignal{code: code})
}

func (m *machine) recoverTrap(r any) error {
	rerr := &errors.RuntimeError{Frames: m.backtrace()}
	switch sig := r.(type) {
	case trapSignal:
		rerr.Trap = sig.code
		rerr.Cause = sig.cause
	case *errors.RuntimeError:
		sig.Frames = rerr.Frames
		return sig
	default:
		rerr.Trap = errors.TrapUnknown
		rerr.Message = fmt.Sprintf("panic: %v", r)
	}
	return rerr
}

func (m *machine) backtrace() []errors.FrameInfo {
	out := make([]errors.FrameInfo, 0, len(m.frames))
	for i := len(m.frames) - 1; i >= 0; i-- {
		fr := &m.frames[i]
		pc := fr.pc
		if i < len(m.frames)-1 {
			// Callers have already advanced past their call instruction.
			pc--
		}
		off := fr.fn.code.SourceOffset(pc)
		info := errors.FrameInfo{
			FuncIndex:    fr.fn.index,
			FuncOffset:   off,
			ModuleOffset: fr.fn.code.BodyOffset + off,
		}
		if fr.inst != nil {
			info.ModuleName = fr.inst.Name
			info.FuncName = fr.inst.Names.FuncName(fr.fn.index)
		}
		out = append(out, info)
	}
	return out
}

func (m *machine) checkInterrupt() {
	if m.done == nil {
		return
	}
	select {
	case <-m.done:
		panic(trapSignal{code: errors.TrapInterrupted, cause: m.ctx.Err()})
	default:
	}
}

func (m *machine) ensure(n int) {
	if n <= len(m.stack) {
		return
	}
	grown := make([]uint64, max(2*len(m.stack), n))
	copy(grown, m.stack[:m.sp])
	m.stack = grown
}

// enter pushes a frame for wasm function f whose arguments are on top of
// the stack.
func (m *machine) enter(f *Function) {
	if m.base+len(m.frames) >= m.maxDepth {
		m.trap(errors.TrapStackOverflow)
	}
	code, err := f.code.Instrs()
	if err != nil {
		panic(&errors.RuntimeError{Trap: errors.TrapUnknown, Message: "corrupt function code", Cause: err})
	}
	base := m.sp - f.typ.NumParams()
	locals := int(f.code.NumLocals)
	m.ensure(m.sp + locals + int(f.code.MaxStack))
	clear(m.stack[m.sp : m.sp+locals])
	m.sp += locals
	m.frames = append(m.frames, frame{fn: f, inst: f.inst, code: code, base: base})
	m.checkInterrupt()
}

func (m *machine) callHost(f *Function, inst *Instance) {
	np, nr := f.typ.NumParams(), f.typ.NumResults()
	args := make([]types.Value, np)
	for i := range args {
		args[i] = types.ValueFromRaw(f.typ.Param(i), m.stack[m.sp-np+i])
	}
	caller := &Caller{inst: inst, objects: f.owner}
	res, err := m.runHost(f, caller, args)
	if rt, ok := err.(*errors.RuntimeError); ok && rt.Trap == errors.TrapHost && rt.Cause != nil {
		err = rt.Cause
	}
	if err != nil {
		panic(trapSignal{code: errors.TrapHost, cause: err})
	}
	if len(res) != nr {
		panic(trapSignal{code: errors.TrapHost, cause: fmt.Errorf("host function returned %d values, expected %d", len(res), nr)})
	}
	m.sp -= np
	m.ensure(m.sp + nr)
	for i, r := range res {
		if want := f.typ.Result(i); r.Type() != want {
			panic(trapSignal{code: errors.TrapHost, cause: fmt.Errorf("host function result %d has type %s, expected %s", i, r.Type(), want)})
		}
		m.stack[m.sp] = r.Raw()
		m.sp++
	}
}

// runHost calls the host function of f with the machine's depth recorded
// in the registry, so wasm re-entered from the host keeps counting toward
// the same limit.
func (m *machine) runHost(f *Function, caller *Caller, args []types.Value) ([]types.Value, error) {
	o := f.owner
	if o == nil {
		return f.host(m.ctx, caller, args)
	}
	prev := o.depth
	o.depth = m.base + len(m.frames) + 1
	defer func() { o.depth = prev }()
	if o.depth > m.maxDepth {
		m.trap(errors.TrapStackOverflow)
	}
	return f.host(m.ctx, caller, args)
}

func (m *machine) invoke(f *Function, caller *Instance) {
	if f.host != nil {
		m.callHost(f, caller)
		return
	}
	m.enter(f)
}

// branch applies the stack adjustment of in and jumps to its target.
func (m *machine) branch(fr *frame, in *Instr) {
	if in.Flags&FlagAdjust != 0 {
		h, n := AdjustOf(in.B)
		dst := fr.base + int(h)
		copy(m.stack[dst:dst+int(n)], m.stack[m.sp-int(n):m.sp])
		m.sp = dst + int(n)
	}
	target := int(in.A)
	if target <= fr.pc {
		m.checkInterrupt()
	}
	fr.pc = target
}

// address returns the effective address of a size-byte access, trapping
// when it falls outside mem.
func (m *machine) address(mem *Memory, addr uint64, offset uint32, size uint64) uint64 {
	ea := uint64(uint32(addr)) + uint64(offset)
	if ea+size > uint64(len(mem.buf)) {
		m.trap(errors.TrapMemoryOutOfBounds)
	}
	return ea
}

func (m *machine) run() {
	entry := len(m.frames) - 1
	for {
		fr := &m.frames[len(m.frames)-1]
		in := &fr.code[fr.pc]
		s := m.stack

		switch in.Op {
		case OpConst:
			s[m.sp] = in.B
			m.sp++

		case OpDrop:
			m.sp -= int(in.A)

		case OpBr:
			m.branch(fr, in)
			continue

		case OpBrIf:
			m.sp--
			if uint32(s[m.sp]) != 0 {
				m.branch(fr, in)
				continue
			}

		case OpBrIfNot:
			m.sp--
			if uint32(s[m.sp]) == 0 {
				m.branch(fr, in)
				continue
			}

		case OpBrTable:
			m.sp--
			i := uint32(s[m.sp])
			if i > in.A {
				i = in.A
			}
			fr.pc += 1 + int(i)
			continue

		case OpReturn:
			n := int(in.A)
			copy(s[fr.base:fr.base+n], s[m.sp-n:m.sp])
			m.sp = fr.base + n
			m.frames = m.frames[:len(m.frames)-1]
			if len(m.frames) == entry {
				return
			}
			continue

		case OpCall:
			callee := fr.inst.Funcs[in.A]
			fr.pc++
			m.invoke(callee, fr.inst)
			continue

		case OpCallIndirect:
			m.sp--
			i := uint32(s[m.sp])
			h, ok := fr.inst.Tables[in.B].Element(i)
			if !ok {
				m.trap(errors.TrapTableOutOfBounds)
			}
			if h == 0 {
				m.trap(errors.TrapUninitializedElement)
			}
			callee := fr.inst.Objects.Function(h)
			if callee == nil {
				m.trap(errors.TrapUninitializedElement)
			}
			if !callee.typ.Equal(fr.inst.Types[in.A]) {
				m.trap(errors.TrapIndirectCallTypeMismatch)
			}
			fr.pc++
			m.invoke(callee, fr.inst)
			continue

		case OpLocalsBinary:
			r, code := EvalBinary(Opcode(in.Flags), s[fr.base+int(in.A)], s[fr.base+int(in.B)])
			if code != noTrap {
				m.trap(code)
			}
			s[m.sp] = r
			m.sp++

		case OpLabel:

		case Opcode(wasm.OpUnreachable):
			m.trap(errors.TrapUnreachable)

		case Opcode(wasm.OpNop):

		case Opcode(wasm.OpSelect):
			m.sp -= 2
			if uint32(s[m.sp+1]) == 0 {
				s[m.sp-1] = s[m.sp]
			}

		case Opcode(wasm.OpLocalGet):
			s[m.sp] = s[fr.base+int(in.A)]
			m.sp++
		case Opcode(wasm.OpLocalSet):
			m.sp--
			s[fr.base+int(in.A)] = s[m.sp]
		case Opcode(wasm.OpLocalTee):
			s[fr.base+int(in.A)] = s[m.sp-1]
		case Opcode(wasm.OpGlobalGet):
			s[m.sp] = fr.inst.Globals[in.A].val
			m.sp++
		case Opcode(wasm.OpGlobalSet):
			m.sp--
			fr.inst.Globals[in.A].val = s[m.sp]

		case Opcode(wasm.OpTableGet):
			h, ok := fr.inst.Tables[in.A].Element(uint32(s[m.sp-1]))
			if !ok {
				m.trap(errors.TrapTableOutOfBounds)
			}
			s[m.sp-1] = h
		case Opcode(wasm.OpTableSet):
			m.sp -= 2
			if !fr.inst.Tables[in.A].SetElement(uint32(s[m.sp]), s[m.sp+1]) {
				m.trap(errors.TrapTableOutOfBounds)
			}

		case Opcode(wasm.OpI32Load), Opcode(wasm.OpF32Load):
			mem := fr.inst.Memories[0]
			ea := m.address(mem, s[m.sp-1], in.A, 4)
			s[m.sp-1] = uint64(binary.LittleEndian.Uint32(mem.buf[ea:]))
		case Opcode(wasm.OpI64Load), Opcode(wasm.OpF64Load):
			mem := fr.inst.Memories[0]
			ea := m.address(mem, s[m.sp-1], in.A, 8)
			s[m.sp-1] = binary.LittleEndian.Uint64(mem.buf[ea:])
		case Opcode(wasm.OpI32Load8S):
			mem := fr.inst.Memories[0]
			ea := m.address(mem, s[m.sp-1], in.A, 1)
			s[m.sp-1] = uint64(uint32(int32(int8(mem.buf[ea]))))
		case Opcode(wasm.OpI32Load8U), Opcode(wasm.OpI64Load8U):
			mem := fr.inst.Memories[0]
			ea := m.address(mem, s[m.sp-1], in.A, 1)
			s[m.sp-1] = uint64(mem.buf[ea])
		case Opcode(wasm.OpI32Load16S):
			mem := fr.inst.Memories[0]
			ea := m.address(mem, s[m.sp-1], in.A, 2)
			s[m.sp-1] = uint64(uint32(int32(int16(binary.LittleEndian.Uint16(mem.buf[ea:])))))
		case Opcode(wasm.OpI32Load16U), Opcode(wasm.OpI64Load16U):
			mem := fr.inst.Memories[0]
			ea := m.address(mem, s[m.sp-1], in.A, 2)
			s[m.sp-1] = uint64(binary.LittleEndian.Uint16(mem.buf[ea:]))
		case Opcode(wasm.OpI64Load8S):
			mem := fr.inst.Memories[0]
			ea := m.address(mem, s[m.sp-1], in.A, 1)
			s[m.sp-1] = uint64(int64(int8(mem.buf[ea])))
		case Opcode(wasm.OpI64Load16S):
			mem := fr.inst.Memories[0]
			ea := m.address(mem, s[m.sp-1], in.A, 2)
			s[m.sp-1] = uint64(int64(int16(binary.LittleEndian.Uint16(mem.buf[ea:]))))
		case Opcode(wasm.OpI64Load32S):
			mem := fr.inst.Memories[0]
			ea := m.address(mem, s[m.sp-1], in.A, 4)
			s[m.sp-1] = uint64(int64(int32(binary.LittleEndian.Uint32(mem.buf[ea:]))))
		case Opcode(wasm.OpI64Load32U):
			mem := fr.inst.Memories[0]
			ea := m.address(mem, s[m.sp-1], in.A, 4)
			s[m.sp-1] = uint64(binary.LittleEndian.Uint32(mem.buf[ea:]))

		case Opcode(wasm.OpI32Store), Opcode(wasm.OpF32Store), Opcode(wasm.OpI64Store32):
			m.sp -= 2
			mem := fr.inst.Memories[0]
			ea := m.address(mem, s[m.sp], in.A, 4)
			binary.LittleEndian.PutUint32(mem.buf[ea:], uint32(s[m.sp+1]))
		case Opcode(wasm.OpI64Store), Opcode(wasm.OpF64Store):
			m.sp -= 2
			mem := fr.inst.Memories[0]
			ea := m.address(mem, s[m.sp], in.A, 8)
			binary.LittleEndian.PutUint64(mem.buf[ea:], s[m.sp+1])
		case Opcode(wasm.OpI32Store8), Opcode(wasm.OpI64Store8):
			m.sp -= 2
			mem := fr.inst.Memories[0]
			ea := m.address(mem, s[m.sp], in.A, 1)
			mem.buf[ea] = byte(s[m.sp+1])
		case Opcode(wasm.OpI32Store16), Opcode(wasm.OpI64Store16):
			m.sp -= 2
			mem := fr.inst.Memories[0]
			ea := m.address(mem, s[m.sp], in.A, 2)
			binary.LittleEndian.PutUint16(mem.buf[ea:], uint16(s[m.sp+1]))

		case Opcode(wasm.OpMemorySize):
			s[m.sp] = uint64(fr.inst.Memories[0].Size())
			m.sp++
		case Opcode(wasm.OpMemoryGrow):
			old, err := fr.inst.Memories[0].Grow(types.Pages(uint32(s[m.sp-1])))
			if err != nil {
				s[m.sp-1] = math.MaxUint32
			} else {
				s[m.sp-1] = uint64(old)
			}

		case Opcode(wasm.OpRefIsNull):
			s[m.sp-1] = b2u(s[m.sp-1] == 0)
		case Opcode(wasm.OpRefFunc):
			s[m.sp] = fr.inst.Funcs[in.A].handle
			m.sp++

		case 0xFC00 | Opcode(wasm.MiscMemoryInit):
			m.sp -= 3
			d, src, n := uint64(uint32(s[m.sp])), uint64(uint32(s[m.sp+1])), uint64(uint32(s[m.sp+2]))
			mem := fr.inst.Memories[0]
			data := fr.inst.Datas[in.A]
			if src+n > uint64(len(data)) || d+n > uint64(len(mem.buf)) {
				m.trap(errors.TrapMemoryOutOfBounds)
			}
			copy(mem.buf[d:d+n], data[src:src+n])
		case 0xFC00 | Opcode(wasm.MiscDataDrop):
			fr.inst.Datas[in.A] = nil
		case 0xFC00 | Opcode(wasm.MiscMemoryCopy):
			m.sp -= 3
			d, src, n := uint64(uint32(s[m.sp])), uint64(uint32(s[m.sp+1])), uint64(uint32(s[m.sp+2]))
			mem := fr.inst.Memories[0]
			if src+n > uint64(len(mem.buf)) || d+n > uint64(len(mem.buf)) {
				m.trap(errors.TrapMemoryOutOfBounds)
			}
			copy(mem.buf[d:d+n], mem.buf[src:src+n])
		case 0xFC00 | Opcode(wasm.MiscMemoryFill):
			m.sp -= 3
			d, val, n := uint64(uint32(s[m.sp])), byte(s[m.sp+1]), uint64(uint32(s[m.sp+2]))
			mem := fr.inst.Memories[0]
			if d+n > uint64(len(mem.buf)) {
				m.trap(errors.TrapMemoryOutOfBounds)
			}
			region := mem.buf[d : d+n]
			for i := range region {
				region[i] = val
			}
		case 0xFC00 | Opcode(wasm.MiscTableInit):
			m.sp -= 3
			d, src, n := uint64(uint32(s[m.sp])), uint64(uint32(s[m.sp+1])), uint64(uint32(s[m.sp+2]))
			t := fr.inst.Tables[in.B]
			elem := fr.inst.Elems[in.A]
			if src+n > uint64(len(elem)) || d+n > uint64(len(t.elems)) {
				m.trap(errors.TrapTableOutOfBounds)
			}
			copy(t.elems[d:d+n], elem[src:src+n])
		case 0xFC00 | Opcode(wasm.MiscElemDrop):
			fr.inst.Elems[in.A] = nil
		case 0xFC00 | Opcode(wasm.MiscTableCopy):
			m.sp -= 3
			d, src, n := uint64(uint32(s[m.sp])), uint64(uint32(s[m.sp+1])), uint64(uint32(s[m.sp+2]))
			dst, from := fr.inst.Tables[in.A], fr.inst.Tables[in.B]
			if src+n > uint64(len(from.elems)) || d+n > uint64(len(dst.elems)) {
				m.trap(errors.TrapTableOutOfBounds)
			}
			copy(dst.elems[d:d+n], from.elems[src:src+n])
		case 0xFC00 | Opcode(wasm.MiscTableGrow):
			m.sp--
			init, n := s[m.sp-1], uint32(s[m.sp])
			old, err := fr.inst.Tables[in.A].Grow(n, init)
			if err != nil {
				s[m.sp-1] = math.MaxUint32
			} else {
				s[m.sp-1] = uint64(old)
			}
		case 0xFC00 | Opcode(wasm.MiscTableSize):
			s[m.sp] = uint64(fr.inst.Tables[in.A].Size())
			m.sp++
		case 0xFC00 | Opcode(wasm.MiscTableFill):
			m.sp -= 3
			i, val, n := uint64(uint32(s[m.sp])), s[m.sp+1], uint64(uint32(s[m.sp+2]))
			t := fr.inst.Tables[in.A]
			if i+n > uint64(len(t.elems)) {
				m.trap(errors.TrapTableOutOfBounds)
			}
			region := t.elems[i : i+n]
			for j := range region {
				region[j] = val
			}

		default:
			switch in.Op.Class() {
			case ClassUnary:
				r, code := EvalUnary(in.Op, s[m.sp-1])
				if code != noTrap {
					m.trap(code)
				}
				s[m.sp-1] = r
			case ClassBinary:
				m.sp--
				r, code := EvalBinary(in.Op, s[m.sp-1], s[m.sp])
				if code != noTrap {
					m.trap(code)
				}
				s[m.sp-1] = r
			default:
				panic(&errors.RuntimeError{Trap: errors.TrapUnknown, Message: "invalid opcode " + in.Op.String()})
			}
		}
		fr.pc++
	}
}
