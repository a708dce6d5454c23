package compiler

import (
	"fmt"
	"math"

	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/wasm"
)

// unknown is the type of a value popped from the polymorphic stack of
// unreachable code.
const unknown wasm.ValType = 0

type ctrlFrame struct {
	params      []wasm.ValType
	results     []wasm.ValType
	height      int
	opcode      byte // OpBlock, OpLoop, OpIf, OpElse, or OpEnd for the function frame
	unreachable bool
}

// labelTypes are the values a branch to the frame carries.
func (f *ctrlFrame) labelTypes() []wasm.ValType {
	if f.opcode == wasm.OpLoop {
		return f.params
	}
	return f.results
}

// FuncValidator type-checks the event stream of one function body. It is
// driven one event at a time so that backends can use it to track operand
// stack heights while lowering.
type FuncValidator struct {
	info   *ModuleInfo
	body   *FunctionBody
	vals   []wasm.ValType
	ctrls  []ctrlFrame
	offset uint32

	maxHeight int
	done      bool
}

// NewFuncValidator prepares validation of fb.
func NewFuncValidator(info *ModuleInfo, fb *FunctionBody) (*FuncValidator, error) {
	v := &FuncValidator{info: info, body: fb}
	if len(fb.Type.Results) > 1 {
		if err := v.require(FeatureMultiValue, "multiple results"); err != nil {
			return nil, err
		}
	}
	for _, ts := range [][]wasm.ValType{fb.Type.Params, fb.Type.Results, fb.Locals} {
		for _, t := range ts {
			if err := v.checkValType(t); err != nil {
				return nil, err
			}
		}
	}
	v.ctrls = append(v.ctrls, ctrlFrame{opcode: wasm.OpEnd, results: fb.Type.Results})
	return v, nil
}

// Height returns the current operand stack height, excluding locals.
func (v *FuncValidator) Height() int { return len(v.vals) }

// MaxHeight returns the largest operand stack height seen so far.
func (v *FuncValidator) MaxHeight() int { return v.maxHeight }

// Depth returns the number of open control frames, the function included.
func (v *FuncValidator) Depth() int { return len(v.ctrls) }

// Unreachable reports whether the current code is statically unreachable.
func (v *FuncValidator) Unreachable() bool {
	return len(v.ctrls) > 0 && v.ctrls[len(v.ctrls)-1].unreachable
}

// Done reports whether the final end of the function has been seen.
func (v *FuncValidator) Done() bool { return v.done }

// LabelArity returns the number of values a branch to relative depth l
// carries.
func (v *FuncValidator) LabelArity(l uint32) int {
	return len(v.ctrls[len(v.ctrls)-1-int(l)].labelTypes())
}

// Finish checks that the body ended properly.
func (v *FuncValidator) Finish() error {
	if !v.done {
		return v.errorf("function body must end with end opcode")
	}
	return nil
}

func (v *FuncValidator) errorf(format string, args ...any) error {
	return errors.FuncCompileError(errors.CompileValidation, int(v.body.Index), int(v.offset), fmt.Sprintf(format, args...))
}

func (v *FuncValidator) require(f Features, what string) error {
	if !v.info.Features.Has(f) {
		return v.errorf("%s requires the %s feature", what, f)
	}
	if f.Unsupported() != 0 {
		return errors.FuncCompileError(errors.CompileUnsupported, int(v.body.Index), int(v.offset),
			fmt.Sprintf("%s (%s) cannot be executed by this engine", what, f))
	}
	return nil
}

func (v *FuncValidator) checkValType(t wasm.ValType) error {
	switch t {
	case wasm.ValI32, wasm.ValI64, wasm.ValF32, wasm.ValF64:
		return nil
	case wasm.ValFuncRef, wasm.ValExtern:
		return v.require(FeatureReferenceTypes, "reference type "+t.String())
	case wasm.ValV128:
		return v.require(FeatureSIMD, "v128 value")
	}
	return v.errorf("invalid value type 0x%02x", byte(t))
}

func (v *FuncValidator) push(t wasm.ValType) {
	v.vals = append(v.vals, t)
	if len(v.vals) > v.maxHeight {
		v.maxHeight = len(v.vals)
	}
}

func (v *FuncValidator) pushVals(ts []wasm.ValType) {
	for _, t := range ts {
		v.push(t)
	}
}

func (v *FuncValidator) pop() (wasm.ValType, error) {
	f := &v.ctrls[len(v.ctrls)-1]
	if len(v.vals) == f.height {
		if f.unreachable {
			return unknown, nil
		}
		return unknown, v.errorf("type mismatch: operand stack underflow")
	}
	t := v.vals[len(v.vals)-1]
	v.vals = v.vals[:len(v.vals)-1]
	return t, nil
}

func (v *FuncValidator) popExpect(want wasm.ValType) (wasm.ValType, error) {
	got, err := v.pop()
	if err != nil {
		return unknown, err
	}
	if got != want && got != unknown && want != unknown {
		return unknown, v.errorf("type mismatch: expected %s, got %s", want, got)
	}
	if got == unknown {
		return want, nil
	}
	return got, nil
}

func (v *FuncValidator) popVals(ts []wasm.ValType) ([]wasm.ValType, error) {
	popped := make([]wasm.ValType, len(ts))
	for i := len(ts) - 1; i >= 0; i-- {
		t, err := v.popExpect(ts[i])
		if err != nil {
			return nil, err
		}
		popped[i] = t
	}
	return popped, nil
}

func (v *FuncValidator) pushCtrl(op byte, params, results []wasm.ValType) {
	v.ctrls = append(v.ctrls, ctrlFrame{
		opcode:  op,
		params:  params,
		results: results,
		height:  len(v.vals),
	})
	v.pushVals(params)
}

func (v *FuncValidator) popCtrl() (ctrlFrame, error) {
	f := v.ctrls[len(v.ctrls)-1]
	if _, err := v.popVals(f.results); err != nil {
		return f, err
	}
	if len(v.vals) != f.height {
		return f, v.errorf("type mismatch: %d values remaining at end of block", len(v.vals)-f.height)
	}
	v.ctrls = v.ctrls[:len(v.ctrls)-1]
	return f, nil
}

func (v *FuncValidator) setUnreachable() {
	f := &v.ctrls[len(v.ctrls)-1]
	v.vals = v.vals[:f.height]
	f.unreachable = true
}

func (v *FuncValidator) label(l uint32) (*ctrlFrame, error) {
	if int(l) >= len(v.ctrls) {
		return nil, v.errorf("unknown label %d", l)
	}
	return &v.ctrls[len(v.ctrls)-1-int(l)], nil
}

// BlockType resolves a block type immediate.
func BlockType(m *wasm.Module, bt int32) (params, results []wasm.ValType, ok bool) {
	switch bt {
	case wasm.BlockTypeVoid:
		return nil, nil, true
	case wasm.BlockTypeI32:
		return nil, []wasm.ValType{wasm.ValI32}, true
	case wasm.BlockTypeI64:
		return nil, []wasm.ValType{wasm.ValI64}, true
	case wasm.BlockTypeF32:
		return nil, []wasm.ValType{wasm.ValF32}, true
	case wasm.BlockTypeF64:
		return nil, []wasm.ValType{wasm.ValF64}, true
	case wasm.BlockTypeV128:
		return nil, []wasm.ValType{wasm.ValV128}, true
	case -16:
		return nil, []wasm.ValType{wasm.ValFuncRef}, true
	case -17:
		return nil, []wasm.ValType{wasm.ValExtern}, true
	}
	if bt < 0 || int(bt) >= len(m.Types) {
		return nil, nil, false
	}
	ft := &m.Types[bt]
	return ft.Params, ft.Results, true
}

func (v *FuncValidator) blockType(imm any) ([]wasm.ValType, []wasm.ValType, error) {
	bi, ok := imm.(wasm.BlockImm)
	if !ok {
		return nil, nil, v.errorf("missing block type")
	}
	params, results, ok := BlockType(v.info.Module, bi.Type)
	if !ok {
		return nil, nil, v.errorf("invalid block type %d", bi.Type)
	}
	if len(params) > 0 || len(results) > 1 {
		if err := v.require(FeatureMultiValue, "block with parameters or multiple results"); err != nil {
			return nil, nil, err
		}
	}
	for _, t := range append(params[:len(params):len(params)], results...) {
		if err := v.checkValType(t); err != nil {
			return nil, nil, err
		}
	}
	return params, results, nil
}

// Step validates one event.
func (v *FuncValidator) Step(ev Event) error {
	v.offset = ev.Offset
	if v.done {
		return v.errorf("operators remaining after end of function")
	}
	if ev.IsUnsupported() {
		return v.unsupported(ev)
	}

	switch op := ev.Opcode; op {
	case wasm.OpUnreachable:
		v.setUnreachable()
	case wasm.OpNop:

	case wasm.OpBlock, wasm.OpLoop:
		params, results, err := v.blockType(ev.Imm)
		if err != nil {
			return err
		}
		if _, err := v.popVals(params); err != nil {
			return err
		}
		v.pushCtrl(op, params, results)

	case wasm.OpIf:
		params, results, err := v.blockType(ev.Imm)
		if err != nil {
			return err
		}
		if _, err := v.popExpect(wasm.ValI32); err != nil {
			return err
		}
		if _, err := v.popVals(params); err != nil {
			return err
		}
		v.pushCtrl(op, params, results)

	case wasm.OpElse:
		if v.ctrls[len(v.ctrls)-1].opcode != wasm.OpIf {
			return v.errorf("else without matching if")
		}
		f, err := v.popCtrl()
		if err != nil {
			return err
		}
		v.pushCtrl(wasm.OpElse, f.params, f.results)

	case wasm.OpEnd:
		f, err := v.popCtrl()
		if err != nil {
			return err
		}
		if f.opcode == wasm.OpIf && !sameTypes(f.params, f.results) {
			return v.errorf("type mismatch: if without else must leave its parameters unchanged")
		}
		v.pushVals(f.results)
		if len(v.ctrls) == 0 {
			v.done = true
		}

	case wasm.OpBr:
		f, err := v.label(ev.Imm.(wasm.BranchImm).LabelIdx)
		if err != nil {
			return err
		}
		if _, err := v.popVals(f.labelTypes()); err != nil {
			return err
		}
		v.setUnreachable()

	case wasm.OpBrIf:
		if _, err := v.popExpect(wasm.ValI32); err != nil {
			return err
		}
		f, err := v.label(ev.Imm.(wasm.BranchImm).LabelIdx)
		if err != nil {
			return err
		}
		ts := f.labelTypes()
		popped, err := v.popVals(ts)
		if err != nil {
			return err
		}
		v.pushVals(popped)

	case wasm.OpBrTable:
		imm := ev.Imm.(wasm.BrTableImm)
		if _, err := v.popExpect(wasm.ValI32); err != nil {
			return err
		}
		def, err := v.label(imm.Default)
		if err != nil {
			return err
		}
		arity := len(def.labelTypes())
		for _, l := range imm.Labels {
			f, err := v.label(l)
			if err != nil {
				return err
			}
			if len(f.labelTypes()) != arity {
				return v.errorf("type mismatch: br_table targets have different arities")
			}
			popped, err := v.popVals(f.labelTypes())
			if err != nil {
				return err
			}
			v.pushVals(popped)
		}
		if _, err := v.popVals(def.labelTypes()); err != nil {
			return err
		}
		v.setUnreachable()

	case wasm.OpReturn:
		if _, err := v.popVals(v.ctrls[0].results); err != nil {
			return err
		}
		v.setUnreachable()

	case wasm.OpCall:
		idx := ev.Imm.(wasm.CallImm).FuncIdx
		if int(idx) >= len(v.info.FuncTypes) {
			return v.errorf("unknown function %d", idx)
		}
		ft := v.info.FuncTypes[idx]
		if _, err := v.popVals(ft.Params); err != nil {
			return err
		}
		v.pushVals(ft.Results)

	case wasm.OpCallIndirect:
		imm := ev.Imm.(wasm.CallIndirectImm)
		if imm.TableIdx != 0 {
			if err := v.require(FeatureReferenceTypes, "call_indirect on a non-zero table"); err != nil {
				return err
			}
		}
		if int(imm.TableIdx) >= len(v.info.Tables) {
			return v.errorf("unknown table %d", imm.TableIdx)
		}
		if v.info.Tables[imm.TableIdx].ElemType != wasm.ValFuncRef {
			return v.errorf("call_indirect on a table of %s", v.info.Tables[imm.TableIdx].ElemType)
		}
		if int(imm.TypeIdx) >= len(v.info.Module.Types) {
			return v.errorf("unknown type %d", imm.TypeIdx)
		}
		ft := &v.info.Module.Types[imm.TypeIdx]
		if _, err := v.popExpect(wasm.ValI32); err != nil {
			return err
		}
		if _, err := v.popVals(ft.Params); err != nil {
			return err
		}
		v.pushVals(ft.Results)

	case wasm.OpDrop:
		if _, err := v.pop(); err != nil {
			return err
		}

	case wasm.OpSelect:
		if _, err := v.popExpect(wasm.ValI32); err != nil {
			return err
		}
		t1, err := v.pop()
		if err != nil {
			return err
		}
		t2, err := v.pop()
		if err != nil {
			return err
		}
		if t1.IsRef() || t2.IsRef() {
			return v.errorf("type mismatch: untyped select on reference values")
		}
		if t1 != t2 && t1 != unknown && t2 != unknown {
			return v.errorf("type mismatch: select operands %s and %s", t2, t1)
		}
		if t1 == unknown {
			t1 = t2
		}
		v.push(t1)

	case wasm.OpSelectType:
		if err := v.require(FeatureReferenceTypes, "typed select"); err != nil {
			return err
		}
		ts := ev.Imm.(wasm.SelectTypeImm).Types
		if len(ts) != 1 {
			return v.errorf("typed select must have exactly one type")
		}
		if err := v.checkValType(ts[0]); err != nil {
			return err
		}
		if _, err := v.popExpect(wasm.ValI32); err != nil {
			return err
		}
		if _, err := v.popVals([]wasm.ValType{ts[0], ts[0]}); err != nil {
			return err
		}
		v.push(ts[0])

	case wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee:
		idx := ev.Imm.(wasm.LocalImm).LocalIdx
		t, ok := v.body.LocalType(idx)
		if !ok {
			return v.errorf("unknown local %d", idx)
		}
		switch op {
		case wasm.OpLocalGet:
			v.push(t)
		case wasm.OpLocalSet:
			if _, err := v.popExpect(t); err != nil {
				return err
			}
		default:
			if _, err := v.popExpect(t); err != nil {
				return err
			}
			v.push(t)
		}

	case wasm.OpGlobalGet, wasm.OpGlobalSet:
		idx := ev.Imm.(wasm.GlobalImm).GlobalIdx
		if int(idx) >= len(v.info.Globals) {
			return v.errorf("unknown global %d", idx)
		}
		g := v.info.Globals[idx]
		if op == wasm.OpGlobalGet {
			v.push(g.ValType)
			break
		}
		if !g.Mutable {
			return v.errorf("global.set on immutable global %d", idx)
		}
		if _, err := v.popExpect(g.ValType); err != nil {
			return err
		}

	case wasm.OpTableGet, wasm.OpTableSet:
		if err := v.require(FeatureReferenceTypes, "table.get or table.set"); err != nil {
			return err
		}
		t, err := v.table(ev.Imm.(wasm.TableImm).TableIdx)
		if err != nil {
			return err
		}
		if op == wasm.OpTableGet {
			if _, err := v.popExpect(wasm.ValI32); err != nil {
				return err
			}
			v.push(t.ElemType)
			break
		}
		if _, err := v.popVals([]wasm.ValType{wasm.ValI32, t.ElemType}); err != nil {
			return err
		}

	case wasm.OpMemorySize, wasm.OpMemoryGrow:
		if err := v.memory(ev.Imm.(wasm.MemoryIdxImm).MemIdx); err != nil {
			return err
		}
		if op == wasm.OpMemoryGrow {
			if _, err := v.popExpect(wasm.ValI32); err != nil {
				return err
			}
		}
		v.push(wasm.ValI32)

	case wasm.OpI32Const:
		v.push(wasm.ValI32)
	case wasm.OpI64Const:
		v.push(wasm.ValI64)
	case wasm.OpF32Const:
		v.push(wasm.ValF32)
	case wasm.OpF64Const:
		v.push(wasm.ValF64)

	case wasm.OpRefNull:
		if err := v.require(FeatureReferenceTypes, "ref.null"); err != nil {
			return err
		}
		t := ev.Imm.(wasm.RefNullImm).Type
		if !t.IsRef() {
			return v.errorf("ref.null of non-reference type 0x%02x", byte(t))
		}
		v.push(t)

	case wasm.OpRefIsNull:
		if err := v.require(FeatureReferenceTypes, "ref.is_null"); err != nil {
			return err
		}
		t, err := v.pop()
		if err != nil {
			return err
		}
		if t != unknown && !t.IsRef() {
			return v.errorf("type mismatch: ref.is_null on %s", t)
		}
		v.push(wasm.ValI32)

	case wasm.OpRefFunc:
		if err := v.require(FeatureReferenceTypes, "ref.func"); err != nil {
			return err
		}
		idx := ev.Imm.(wasm.RefFuncImm).FuncIdx
		if int(idx) >= len(v.info.FuncTypes) {
			return v.errorf("unknown function %d", idx)
		}
		if !v.info.isDeclared(idx) {
			return v.errorf("undeclared function reference %d", idx)
		}
		v.push(wasm.ValFuncRef)

	case wasm.OpPrefixMisc:
		return v.stepMisc(ev.Imm.(wasm.MiscImm))

	default:
		if acc, ok := MemoryAccessOf(op); ok {
			return v.stepMemory(ev, acc)
		}
		if sig, ok := numericSignature(op); ok {
			return v.stepNumeric(op, sig)
		}
		return v.errorf("unknown opcode 0x%02x", op)
	}
	return nil
}

func (v *FuncValidator) unsupported(ev Event) error {
	switch ev.Opcode {
	case wasm.OpPrefixSIMD:
		return v.require(FeatureSIMD, "SIMD instruction")
	case wasm.OpPrefixAtomic:
		return v.require(FeatureThreads, "atomic instruction")
	case wasm.OpPrefixGC:
		return v.require(FeatureGC, "GC instruction")
	case wasm.OpTry, wasm.OpThrow:
		return v.require(FeatureExceptionHandling, "exception handling instruction")
	case wasm.OpReturnCall, wasm.OpReturnCallIndirect:
		return v.require(FeatureTailCall, "tail call")
	}
	return v.errorf("unknown opcode 0x%02x", ev.Opcode)
}

func (v *FuncValidator) table(idx uint32) (wasm.TableType, error) {
	if int(idx) >= len(v.info.Tables) {
		return wasm.TableType{}, v.errorf("unknown table %d", idx)
	}
	return v.info.Tables[idx], nil
}

func (v *FuncValidator) memory(idx uint32) error {
	if idx != 0 {
		return v.require(FeatureMultiMemory, "memory index")
	}
	if v.info.NumMemories == 0 {
		return v.errorf("unknown memory 0")
	}
	return nil
}

// MemoryAccess describes a load or store instruction.
type MemoryAccess struct {
	Type  wasm.ValType
	Size  uint32 // bytes accessed
	Store bool
}

// MemoryAccessOf returns the access performed by a load or store opcode.
func MemoryAccessOf(op byte) (MemoryAccess, bool) {
	switch op {
	case wasm.OpI32Load:
		return MemoryAccess{wasm.ValI32, 4, false}, true
	case wasm.OpI64Load:
		return MemoryAccess{wasm.ValI64, 8, false}, true
	case wasm.OpF32Load:
		return MemoryAccess{wasm.ValF32, 4, false}, true
	case wasm.OpF64Load:
		return MemoryAccess{wasm.ValF64, 8, false}, true
	case wasm.OpI32Load8S, wasm.OpI32Load8U:
		return MemoryAccess{wasm.ValI32, 1, false}, true
	case wasm.OpI32Load16S, wasm.OpI32Load16U:
		return MemoryAccess{wasm.ValI32, 2, false}, true
	case wasm.OpI64Load8S, wasm.OpI64Load8U:
		return MemoryAccess{wasm.ValI64, 1, false}, true
	case wasm.OpI64Load16S, wasm.OpI64Load16U:
		return MemoryAccess{wasm.ValI64, 2, false}, true
	case wasm.OpI64Load32S, wasm.OpI64Load32U:
		return MemoryAccess{wasm.ValI64, 4, false}, true
	case wasm.OpI32Store:
		return MemoryAccess{wasm.ValI32, 4, true}, true
	case wasm.OpI64Store:
		return MemoryAccess{wasm.ValI64, 8, true}, true
	case wasm.OpF32Store:
		return MemoryAccess{wasm.ValF32, 4, true}, true
	case wasm.OpF64Store:
		return MemoryAccess{wasm.ValF64, 8, true}, true
	case wasm.OpI32Store8:
		return MemoryAccess{wasm.ValI32, 1, true}, true
	case wasm.OpI32Store16:
		return MemoryAccess{wasm.ValI32, 2, true}, true
	case wasm.OpI64Store8:
		return MemoryAccess{wasm.ValI64, 1, true}, true
	case wasm.OpI64Store16:
		return MemoryAccess{wasm.ValI64, 2, true}, true
	case wasm.OpI64Store32:
		return MemoryAccess{wasm.ValI64, 4, true}, true
	}
	return MemoryAccess{}, false
}

func (v *FuncValidator) stepMemory(ev Event, acc MemoryAccess) error {
	imm := ev.Imm.(wasm.MemoryImm)
	if err := v.memory(imm.MemIdx); err != nil {
		return err
	}
	if imm.Align >= 32 || uint64(1)<<imm.Align > uint64(acc.Size) {
		return v.errorf("alignment must not be larger than natural")
	}
	if imm.Offset > math.MaxUint32 {
		return v.errorf("memory offset %d out of range for a 32-bit memory", imm.Offset)
	}
	if acc.Store {
		_, err := v.popVals([]wasm.ValType{wasm.ValI32, acc.Type})
		return err
	}
	if _, err := v.popExpect(wasm.ValI32); err != nil {
		return err
	}
	v.push(acc.Type)
	return nil
}

type signature struct {
	in      [2]wasm.ValType
	nin     int
	out     wasm.ValType
	feature Features
}

func unop(in, out wasm.ValType) signature  { return signature{in: [2]wasm.ValType{in}, nin: 1, out: out} }
func binop(in, out wasm.ValType) signature { return signature{in: [2]wasm.ValType{in, in}, nin: 2, out: out} }

// numericSignature returns the operand and result types of a numeric
// instruction.
func numericSignature(op byte) (signature, bool) {
	i32, i64, f32, f64 := wasm.ValI32, wasm.ValI64, wasm.ValF32, wasm.ValF64
	switch {
	case op == wasm.OpI32Eqz:
		return unop(i32, i32), true
	case op >= wasm.OpI32Eq && op <= wasm.OpI32GeU:
		return binop(i32, i32), true
	case op == wasm.OpI64Eqz:
		return unop(i64, i32), true
	case op >= wasm.OpI64Eq && op <= wasm.OpI64GeU:
		return binop(i64, i32), true
	case op >= wasm.OpF32Eq && op <= wasm.OpF32Ge:
		return binop(f32, i32), true
	case op >= wasm.OpF64Eq && op <= wasm.OpF64Ge:
		return binop(f64, i32), true
	case op >= wasm.OpI32Clz && op <= wasm.OpI32Popcnt:
		return unop(i32, i32), true
	case op >= wasm.OpI32Add && op <= wasm.OpI32Rotr:
		return binop(i32, i32), true
	case op >= wasm.OpI64Clz && op <= wasm.OpI64Popcnt:
		return unop(i64, i64), true
	case op >= wasm.OpI64Add && op <= wasm.OpI64Rotr:
		return binop(i64, i64), true
	case op >= wasm.OpF32Abs && op <= wasm.OpF32Sqrt:
		return unop(f32, f32), true
	case op >= wasm.OpF32Add && op <= wasm.OpF32Copysign:
		return binop(f32, f32), true
	case op >= wasm.OpF64Abs && op <= wasm.OpF64Sqrt:
		return unop(f64, f64), true
	case op >= wasm.OpF64Add && op <= wasm.OpF64Copysign:
		return binop(f64, f64), true
	}

	switch op {
	case wasm.OpI32WrapI64:
		return unop(i64, i32), true
	case wasm.OpI32TruncF32S, wasm.OpI32TruncF32U:
		return unop(f32, i32), true
	case wasm.OpI32TruncF64S, wasm.OpI32TruncF64U:
		return unop(f64, i32), true
	case wasm.OpI64ExtendI32S, wasm.OpI64ExtendI32U:
		return unop(i32, i64), true
	case wasm.OpI64TruncF32S, wasm.OpI64TruncF32U:
		return unop(f32, i64), true
	case wasm.OpI64TruncF64S, wasm.OpI64TruncF64U:
		return unop(f64, i64), true
	case wasm.OpF32ConvertI32S, wasm.OpF32ConvertI32U:
		return unop(i32, f32), true
	case wasm.OpF32ConvertI64S, wasm.OpF32ConvertI64U:
		return unop(i64, f32), true
	case wasm.OpF32DemoteF64:
		return unop(f64, f32), true
	case wasm.OpF64ConvertI32S, wasm.OpF64ConvertI32U:
		return unop(i32, f64), true
	case wasm.OpF64ConvertI64S, wasm.OpF64ConvertI64U:
		return unop(i64, f64), true
	case wasm.OpF64PromoteF32:
		return unop(f32, f64), true
	case wasm.OpI32ReinterpretF32:
		return unop(f32, i32), true
	case wasm.OpI64ReinterpretF64:
		return unop(f64, i64), true
	case wasm.OpF32ReinterpretI32:
		return unop(i32, f32), true
	case wasm.OpF64ReinterpretI64:
		return unop(i64, f64), true
	case wasm.OpI32Extend8S, wasm.OpI32Extend16S:
		s := unop(i32, i32)
		s.feature = FeatureSignExtension
		return s, true
	case wasm.OpI64Extend8S, wasm.OpI64Extend16S, wasm.OpI64Extend32S:
		s := unop(i64, i64)
		s.feature = FeatureSignExtension
		return s, true
	}
	return signature{}, false
}

func (v *FuncValidator) stepNumeric(op byte, sig signature) error {
	if sig.feature != 0 {
		if err := v.require(sig.feature, fmt.Sprintf("opcode 0x%02x", op)); err != nil {
			return err
		}
	}
	if _, err := v.popVals(sig.in[:sig.nin]); err != nil {
		return err
	}
	v.push(sig.out)
	return nil
}

func (v *FuncValidator) stepMisc(imm wasm.MiscImm) error {
	i32 := wasm.ValI32
	switch sub := imm.SubOpcode; sub {
	case wasm.MiscI32TruncSatF32S, wasm.MiscI32TruncSatF32U,
		wasm.MiscI32TruncSatF64S, wasm.MiscI32TruncSatF64U,
		wasm.MiscI64TruncSatF32S, wasm.MiscI64TruncSatF32U,
		wasm.MiscI64TruncSatF64S, wasm.MiscI64TruncSatF64U:
		if err := v.require(FeatureSaturatingConversions, "saturating conversion"); err != nil {
			return err
		}
		in := wasm.ValF32
		if sub == wasm.MiscI32TruncSatF64S || sub == wasm.MiscI32TruncSatF64U ||
			sub == wasm.MiscI64TruncSatF64S || sub == wasm.MiscI64TruncSatF64U {
			in = wasm.ValF64
		}
		out := wasm.ValI32
		if sub >= wasm.MiscI64TruncSatF32S {
			out = wasm.ValI64
		}
		if _, err := v.popExpect(in); err != nil {
			return err
		}
		v.push(out)
		return nil

	case wasm.MiscMemoryInit:
		if err := v.require(FeatureBulkMemory, "memory.init"); err != nil {
			return err
		}
		if err := v.dataIndex(imm.Operands[0]); err != nil {
			return err
		}
		if err := v.memory(imm.Operands[1]); err != nil {
			return err
		}
		_, err := v.popVals([]wasm.ValType{i32, i32, i32})
		return err

	case wasm.MiscDataDrop:
		if err := v.require(FeatureBulkMemory, "data.drop"); err != nil {
			return err
		}
		return v.dataIndex(imm.Operands[0])

	case wasm.MiscMemoryCopy, wasm.MiscMemoryFill:
		if err := v.require(FeatureBulkMemory, "bulk memory instruction"); err != nil {
			return err
		}
		for _, m := range imm.Operands {
			if err := v.memory(m); err != nil {
				return err
			}
		}
		_, err := v.popVals([]wasm.ValType{i32, i32, i32})
		return err

	case wasm.MiscTableInit:
		if err := v.require(FeatureBulkMemory, "table.init"); err != nil {
			return err
		}
		elemIdx, tableIdx := imm.Operands[0], imm.Operands[1]
		if int(elemIdx) >= len(v.info.Module.Elements) {
			return v.errorf("unknown element segment %d", elemIdx)
		}
		t, err := v.table(tableIdx)
		if err != nil {
			return err
		}
		if et := v.info.Module.Elements[elemIdx].ElemType(); et != t.ElemType {
			return v.errorf("type mismatch: element segment of %s into table of %s", et, t.ElemType)
		}
		_, err = v.popVals([]wasm.ValType{i32, i32, i32})
		return err

	case wasm.MiscElemDrop:
		if err := v.require(FeatureBulkMemory, "elem.drop"); err != nil {
			return err
		}
		if int(imm.Operands[0]) >= len(v.info.Module.Elements) {
			return v.errorf("unknown element segment %d", imm.Operands[0])
		}
		return nil

	case wasm.MiscTableCopy:
		if err := v.require(FeatureBulkMemory, "table.copy"); err != nil {
			return err
		}
		dst, err := v.table(imm.Operands[0])
		if err != nil {
			return err
		}
		src, err := v.table(imm.Operands[1])
		if err != nil {
			return err
		}
		if dst.ElemType != src.ElemType {
			return v.errorf("type mismatch: table.copy from %s to %s", src.ElemType, dst.ElemType)
		}
		_, err = v.popVals([]wasm.ValType{i32, i32, i32})
		return err

	case wasm.MiscTableGrow, wasm.MiscTableSize, wasm.MiscTableFill:
		if err := v.require(FeatureReferenceTypes, "table instruction"); err != nil {
			return err
		}
		t, err := v.table(imm.Operands[0])
		if err != nil {
			return err
		}
		switch sub {
		case wasm.MiscTableGrow:
			if _, err := v.popVals([]wasm.ValType{t.ElemType, i32}); err != nil {
				return err
			}
			v.push(i32)
		case wasm.MiscTableSize:
			v.push(i32)
		default:
			_, err = v.popVals([]wasm.ValType{i32, t.ElemType, i32})
			return err
		}
		return nil
	}
	return v.errorf("unknown 0xFC sub-opcode %d", imm.SubOpcode)
}

func (v *FuncValidator) dataIndex(idx uint32) error {
	n, ok := v.info.DataCount()
	if !ok {
		return v.errorf("data count section required")
	}
	if idx >= n {
		return v.errorf("unknown data segment %d", idx)
	}
	return nil
}

func sameTypes(a, b []wasm.ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ValidateFunction type-checks a whole function body.
func ValidateFunction(info *ModuleInfo, fb *FunctionBody) error {
	v, err := NewFuncValidator(info, fb)
	if err != nil {
		return err
	}
	for _, ev := range fb.Events {
		if err := v.Step(ev); err != nil {
			return err
		}
	}
	return v.Finish()
}
