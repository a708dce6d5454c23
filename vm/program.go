package vm

import (
	"encoding/binary"
	"fmt"
	"sync"

	"fortio.org/safecast"
)

// Label is a symbolic branch target in a Program.
type Label uint32

// Program is a function body in label form: branch instructions carry a
// Label in A and OpLabel instructions mark where labels are bound.
// Backends build a Program, optimization passes rewrite it and Assemble
// resolves it into executable code.
type Program struct {
	Code    []Instr
	Offsets []uint32 // source offset of each instruction in the function body
	Labels  uint32
}

// NewLabel allocates an unbound label.
func (p *Program) NewLabel() Label {
	l := Label(p.Labels)
	p.Labels++
	return l
}

// Emit appends an instruction attributed to a source offset.
func (p *Program) Emit(offset uint32, in Instr) {
	p.Code = append(p.Code, in)
	p.Offsets = append(p.Offsets, offset)
}

// Bind places l at the current end of the program.
func (p *Program) Bind(l Label, offset uint32) {
	p.Emit(offset, Instr{Op: OpLabel, A: uint32(l)})
}

// Branch emits a branch to l. When adjust is true the top arity values are
// moved down to frame slot height before jumping.
func (p *Program) Branch(offset uint32, op Opcode, l Label, adjust bool, height, arity uint32) {
	in := Instr{Op: op, A: uint32(l)}
	if adjust {
		in.Flags |= FlagAdjust
		in.B = Adjust(height, arity)
	}
	p.Emit(offset, in)
}

// Assemble resolves labels to instruction indices and drops OpLabel
// markers.
func (p *Program) Assemble() ([]Instr, []uint32, error) {
	if len(p.Offsets) != len(p.Code) {
		return nil, nil, fmt.Errorf("program has %d instructions but %d offsets", len(p.Code), len(p.Offsets))
	}
	targets := make([]int, p.Labels)
	for i := range targets {
		targets[i] = -1
	}
	pc := 0
	for _, in := range p.Code {
		if in.Op == OpLabel {
			if in.A >= p.Labels {
				return nil, nil, fmt.Errorf("label %d out of range", in.A)
			}
			targets[in.A] = pc
			continue
		}
		pc++
	}

	code := make([]Instr, 0, pc)
	offsets := make([]uint32, 0, pc)
	for i, in := range p.Code {
		if in.Op == OpLabel {
			continue
		}
		if in.Op.IsBranch() {
			if in.A >= p.Labels || targets[in.A] < 0 {
				return nil, nil, fmt.Errorf("branch at %d to unbound label %d", i, in.A)
			}
			target, err := safecast.Conv[uint32](targets[in.A])
			if err != nil {
				return nil, nil, err
			}
			in.A = target
		}
		code = append(code, in)
		offsets = append(offsets, p.Offsets[i])
	}
	return code, offsets, nil
}

// CompiledFunction is the executable form of one module-defined function.
// Code and SourceMap may alias a deserialized artifact buffer.
type CompiledFunction struct {
	Code       []byte // encoded instructions
	SourceMap  []byte // little-endian u32 body offset per instruction
	TypeIndex  uint32
	NumLocals  uint32 // declared locals, excluding parameters
	MaxStack   uint32 // operand stack slots needed beyond locals
	BodyOffset uint32 // offset of the body's first instruction in the module binary

	once   sync.Once
	instrs []Instr
	err    error
}

// NewCompiledFunction encodes assembled code and its source offsets.
func NewCompiledFunction(code []Instr, offsets []uint32, typeIndex, numLocals, maxStack, bodyOffset uint32) (*CompiledFunction, error) {
	if len(code) != len(offsets) {
		return nil, fmt.Errorf("code has %d instructions but %d offsets", len(code), len(offsets))
	}
	if _, err := safecast.Conv[uint32](len(code) * InstrSize); err != nil {
		return nil, fmt.Errorf("function too large: %w", err)
	}
	sm := make([]byte, 4*len(offsets))
	for i, off := range offsets {
		binary.LittleEndian.PutUint32(sm[4*i:], off)
	}
	return &CompiledFunction{
		Code:       EncodeInstrs(make([]byte, 0, len(code)*InstrSize), code),
		SourceMap:  sm,
		TypeIndex:  typeIndex,
		NumLocals:  numLocals,
		MaxStack:   maxStack,
		BodyOffset: bodyOffset,
	}, nil
}

// Len returns the number of instructions.
func (f *CompiledFunction) Len() int {
	return len(f.Code) / InstrSize
}

// Instrs decodes the code once and caches the result.
func (f *CompiledFunction) Instrs() ([]Instr, error) {
	f.once.Do(func() {
		f.instrs, f.err = DecodeInstrs(f.Code)
		if f.err == nil && len(f.SourceMap) != 4*len(f.instrs) {
			f.err = fmt.Errorf("source map has %d bytes for %d instructions", len(f.SourceMap), len(f.instrs))
		}
	})
	return f.instrs, f.err
}

// SourceOffset returns the body offset of instruction pc.
func (f *CompiledFunction) SourceOffset(pc int) uint32 {
	if pc < 0 || 4*pc+4 > len(f.SourceMap) {
		return 0
	}
	return binary.LittleEndian.Uint32(f.SourceMap[4*pc:])
}
