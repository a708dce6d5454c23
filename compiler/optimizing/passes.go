package optimizing

import (
	"github.com/wippyai/wasm-engine/compiler"
	"github.com/wippyai/wasm-engine/vm"
	"github.com/wippyai/wasm-engine/wasm"
)

// maxThreadHops bounds how many unconditional branches jump threading
// follows from one source.
const maxThreadHops = 8

// maxRounds bounds the fixed-point iteration at OptSpeedAndSize.
const maxRounds = 4

// Each pass rewrites a program and reports whether it changed anything.
var passes = []func(p *vm.Program) bool{
	foldConstants,
	fuseLocals,
	fuseEqzBrIf,
	threadJumps,
	removeUnusedLabels,
	eliminateDeadCode,
	removeFallthroughBranches,
}

// Optimize rewrites p in place. OptNone leaves it untouched, OptSpeed runs
// every pass once and OptSpeedAndSize repeats them until nothing changes.
func Optimize(p *vm.Program, level compiler.OptLevel) {
	rounds := 0
	switch level {
	case compiler.OptSpeed:
		rounds = 1
	case compiler.OptSpeedAndSize:
		rounds = maxRounds
	}
	for r := 0; r < rounds; r++ {
		changed := false
		for _, run := range passes {
			if run(p) {
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

// rewriter accumulates the output of a pass that rewrites the code
// sequentially.
type rewriter struct {
	code    []vm.Instr
	offsets []uint32
}

func newRewriter(p *vm.Program) *rewriter {
	return &rewriter{
		code:    make([]vm.Instr, 0, len(p.Code)),
		offsets: make([]uint32, 0, len(p.Offsets)),
	}
}

func (w *rewriter) emit(in vm.Instr, offset uint32) {
	w.code = append(w.code, in)
	w.offsets = append(w.offsets, offset)
}

// last returns the i-th instruction from the end of the output.
func (w *rewriter) last(i int) (vm.Instr, bool) {
	n := len(w.code) - 1 - i
	if n < 0 {
		return vm.Instr{}, false
	}
	return w.code[n], true
}

func (w *rewriter) truncate(n int) {
	w.code = w.code[:len(w.code)-n]
	w.offsets = w.offsets[:len(w.offsets)-n]
}

func (w *rewriter) store(p *vm.Program) {
	p.Code = w.code
	p.Offsets = w.offsets
}

func isIntBinary(op vm.Opcode) bool {
	if op.Class() != vm.ClassBinary || op >= 0x100 {
		return false
	}
	b := byte(op)
	return b >= wasm.OpI32Eq && b <= wasm.OpI64GeU ||
		b >= wasm.OpI32Add && b <= wasm.OpI64Rotr
}

// foldConstants replaces non-trapping integer binary operators over two
// constants with their result. Results feed later folds in the same pass.
func foldConstants(p *vm.Program) bool {
	w := newRewriter(p)
	changed := false
	for i, in := range p.Code {
		x, okx := w.last(1)
		y, oky := w.last(0)
		if isIntBinary(in.Op) && !in.Op.CanTrap() && okx && oky && x.Op == vm.OpConst && y.Op == vm.OpConst {
			r, _ := vm.EvalBinary(in.Op, x.B, y.B)
			w.truncate(2)
			w.emit(vm.Instr{Op: vm.OpConst, B: r}, p.Offsets[i])
			changed = true
			continue
		}
		w.emit(in, p.Offsets[i])
	}
	w.store(p)
	return changed
}

// fuseLocals turns local.get a; local.get b; binop into one instruction.
func fuseLocals(p *vm.Program) bool {
	get := vm.Opcode(wasm.OpLocalGet)
	w := newRewriter(p)
	changed := false
	for i, in := range p.Code {
		x, okx := w.last(1)
		y, oky := w.last(0)
		if in.Op.Class() == vm.ClassBinary && in.Op < 0x100 && okx && oky && x.Op == get && y.Op == get {
			w.truncate(2)
			w.emit(vm.Instr{Op: vm.OpLocalsBinary, Flags: uint16(in.Op), A: x.A, B: uint64(y.A)}, p.Offsets[i])
			changed = true
			continue
		}
		w.emit(in, p.Offsets[i])
	}
	w.store(p)
	return changed
}

// fuseEqzBrIf turns i32.eqz; br_if into a branch on zero.
func fuseEqzBrIf(p *vm.Program) bool {
	w := newRewriter(p)
	changed := false
	for i, in := range p.Code {
		if prev, ok := w.last(0); ok && in.Op == vm.OpBrIf && prev.Op == vm.Opcode(wasm.OpI32Eqz) {
			w.truncate(1)
			in.Op = vm.OpBrIfNot
			w.emit(in, p.Offsets[i])
			changed = true
			continue
		}
		w.emit(in, p.Offsets[i])
	}
	w.store(p)
	return changed
}

// tableEntries marks the branches that are br_table entries. They must stay
// in place because the table indexes them by position.
func tableEntries(code []vm.Instr) []bool {
	entries := make([]bool, len(code))
	for i := 0; i < len(code); i++ {
		if code[i].Op != vm.OpBrTable {
			continue
		}
		for j := 1; j <= int(code[i].A)+1 && i+j < len(code); j++ {
			entries[i+j] = true
		}
		i += int(code[i].A) + 1
	}
	return entries
}

func labelPositions(p *vm.Program) []int {
	pos := make([]int, p.Labels)
	for i := range pos {
		pos[i] = -1
	}
	for i, in := range p.Code {
		if in.Op == vm.OpLabel && in.A < p.Labels {
			pos[in.A] = i
		}
	}
	return pos
}

// landing returns the first real instruction reached by jumping to l.
func landing(p *vm.Program, pos []int, l uint32) (int, bool) {
	if int(l) >= len(pos) || pos[l] < 0 {
		return 0, false
	}
	for i := pos[l]; i < len(p.Code); i++ {
		if p.Code[i].Op != vm.OpLabel {
			return i, true
		}
	}
	return 0, false
}

// threadJumps retargets branches whose destination is an unconditional
// branch without a stack adjustment.
func threadJumps(p *vm.Program) bool {
	pos := labelPositions(p)
	changed := false
	for i := range p.Code {
		in := &p.Code[i]
		if !in.Op.IsBranch() {
			continue
		}
		target := in.A
		for hop := 0; hop < maxThreadHops; hop++ {
			j, ok := landing(p, pos, target)
			if !ok {
				break
			}
			next := p.Code[j]
			if next.Op != vm.OpBr || next.Flags&vm.FlagAdjust != 0 || next.A == target {
				break
			}
			target = next.A
		}
		if target != in.A {
			in.A = target
			changed = true
		}
	}
	return changed
}

// removeUnusedLabels drops labels no branch refers to.
func removeUnusedLabels(p *vm.Program) bool {
	used := make([]bool, p.Labels)
	for _, in := range p.Code {
		if in.Op.IsBranch() && in.A < p.Labels {
			used[in.A] = true
		}
	}
	w := newRewriter(p)
	changed := false
	for i, in := range p.Code {
		if in.Op == vm.OpLabel && !used[in.A] {
			changed = true
			continue
		}
		w.emit(in, p.Offsets[i])
	}
	w.store(p)
	return changed
}

// eliminateDeadCode removes instructions between an unconditional control
// transfer and the next label.
func eliminateDeadCode(p *vm.Program) bool {
	w := newRewriter(p)
	changed := false
	dead := false
	for i := 0; i < len(p.Code); i++ {
		in := p.Code[i]
		if in.Op == vm.OpLabel {
			dead = false
		}
		if dead {
			changed = true
			continue
		}
		w.emit(in, p.Offsets[i])
		if in.Op == vm.OpBrTable {
			for j := 0; j <= int(in.A) && i+1 < len(p.Code); j++ {
				i++
				w.emit(p.Code[i], p.Offsets[i])
			}
			dead = true
			continue
		}
		if in.Op.Terminates() {
			dead = true
		}
	}
	w.store(p)
	return changed
}

// removeFallthroughBranches drops plain branches to a label that directly
// follows them.
func removeFallthroughBranches(p *vm.Program) bool {
	entries := tableEntries(p.Code)
	w := newRewriter(p)
	changed := false
	for i, in := range p.Code {
		if in.Op == vm.OpBr && in.Flags&vm.FlagAdjust == 0 && !entries[i] && fallsThrough(p.Code[i+1:], in.A) {
			changed = true
			continue
		}
		w.emit(in, p.Offsets[i])
	}
	w.store(p)
	return changed
}

func fallsThrough(rest []vm.Instr, l uint32) bool {
	for _, in := range rest {
		if in.Op != vm.OpLabel {
			return false
		}
		if in.A == l {
			return true
		}
	}
	return false
}
