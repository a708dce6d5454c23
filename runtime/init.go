package runtime

import (
	"fmt"
	"strconv"

	"github.com/wippyai/wasm-engine/artifact"
	"github.com/wippyai/wasm-engine/engine"
	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/store"
	"github.com/wippyai/wasm-engine/types"
	"github.com/wippyai/wasm-engine/vm"
	"github.com/wippyai/wasm-engine/wasm"
)

// build creates the instance's index spaces: imports first, then the
// module's own definitions registered in s.
func build(a *artifact.Artifact, s *store.Store, t engine.Tunables, externs []store.Extern) (*vm.Instance, error) {
	m := a.Module()
	inst := &vm.Instance{
		Name:    a.Name(),
		Types:   a.Types(),
		Exports: make(map[string]vm.Export, len(m.Exports)),
		Names:   m.Names,
		Objects: s.Objects(),
	}
	for _, e := range externs {
		switch e := e.(type) {
		case *store.Function:
			inst.Funcs = append(inst.Funcs, e)
		case *store.Table:
			inst.Tables = append(inst.Tables, e)
		case *store.Memory:
			inst.Memories = append(inst.Memories, e)
		case *store.Global:
			inst.Globals = append(inst.Globals, e)
		}
	}

	for i, mt := range m.Memories {
		typ, err := artifact.MemoryType(mt)
		if err != nil {
			return nil, resourceError("memory", i, err)
		}
		mem, err := t.CreateMemory(typ)
		if err != nil {
			return nil, resourceError("memory", i, err)
		}
		inst.Memories = append(inst.Memories, s.AddMemory(mem))
	}
	for i, tt := range m.Tables {
		typ, err := artifact.TableType(tt)
		if err != nil {
			return nil, resourceError("table", i, err)
		}
		tab, err := t.CreateTable(typ)
		if err != nil {
			return nil, resourceError("table", i, err)
		}
		inst.Tables = append(inst.Tables, s.AddTable(tab))
	}

	imported := uint32(len(inst.Funcs))
	for i, code := range a.Functions() {
		ft := inst.Types[m.Funcs[i]]
		f := vm.NewWasmFunction(inst, imported+uint32(i), ft, code)
		inst.Funcs = append(inst.Funcs, s.AddFunction(f))
	}

	for i, g := range m.Globals {
		typ, err := artifact.GlobalType(g.Type)
		if err != nil {
			return nil, resourceError("global", i, err)
		}
		raw, err := evalConst(inst, g.Init)
		if err != nil {
			return nil, resourceError("global", i, err)
		}
		glob, err := t.CreateGlobal(typ, types.ValueFromRaw(typ.Type, raw))
		if err != nil {
			return nil, resourceError("global", i, err)
		}
		inst.Globals = append(inst.Globals, s.AddGlobal(glob))
	}

	for _, ex := range m.Exports {
		inst.Exports[ex.Name] = vm.Export{Kind: externKind(ex.Kind), Index: ex.Idx}
	}
	return inst, nil
}

func externKind(k byte) types.ExternKind {
	switch k {
	case wasm.KindTable:
		return types.ExternTable
	case wasm.KindMemory:
		return types.ExternMemory
	case wasm.KindGlobal:
		return types.ExternGlobal
	}
	return types.ExternFunction
}

func resourceError(entity string, index int, cause error) *errors.LinkError {
	return &errors.LinkError{
		Kind:  errors.LinkResource,
		Name:  entity + " " + strconv.Itoa(index),
		Index: -1,
		Cause: cause,
	}
}

// evalConst evaluates a constant expression against the globals and
// functions already present in inst.
func evalConst(inst *vm.Instance, expr []byte) (uint64, error) {
	c, err := wasm.DecodeConstExpr(expr)
	if err != nil {
		return 0, err
	}
	switch c.Kind {
	case wasm.ConstValue:
		return c.Value, nil
	case wasm.ConstGlobalGet:
		if int(c.Index) >= len(inst.Globals) {
			return 0, fmt.Errorf("global.get %d out of range", c.Index)
		}
		return inst.Globals[c.Index].Raw(), nil
	case wasm.ConstRefNull:
		return 0, nil
	case wasm.ConstRefFunc:
		if int(c.Index) >= len(inst.Funcs) {
			return 0, fmt.Errorf("ref.func %d out of range", c.Index)
		}
		return inst.Funcs[c.Index].Handle(), nil
	}
	return 0, fmt.Errorf("unknown constant expression kind %d", c.Kind)
}

// initSegments applies active element segments, then active data
// segments, and keeps passive ones for table.init and memory.init. Every
// active segment is bounds checked before any of them is written, so a
// segment that does not fit traps without touching imported tables or
// memories.
func initSegments(m *wasm.Module, inst *vm.Instance) error {
	type elemWrite struct {
		tab   *store.Table
		start uint32
		elems []uint64
	}
	type dataWrite struct {
		mem  *store.Memory
		off  uint32
		init []byte
	}
	var elemWrites []elemWrite
	var dataWrites []dataWrite

	inst.Elems = make([][]uint64, len(m.Elements))
	for i := range m.Elements {
		seg := &m.Elements[i]
		elems, err := elemHandles(inst, seg)
		if err != nil {
			return resourceError("element segment", i, err)
		}
		switch {
		case seg.IsPassive():
			inst.Elems[i] = elems
		case seg.IsDeclarative():
		default:
			off, err := evalConst(inst, seg.Offset)
			if err != nil {
				return resourceError("element segment", i, err)
			}
			tab := inst.Tables[seg.TableIdx]
			start := uint64(uint32(off))
			if start+uint64(len(elems)) > uint64(tab.Size()) {
				return segmentTrap(errors.TrapTableOutOfBounds, "element", i)
			}
			elemWrites = append(elemWrites, elemWrite{tab: tab, start: uint32(start), elems: elems})
		}
	}

	inst.Datas = make([][]byte, len(m.Data))
	for i := range m.Data {
		seg := &m.Data[i]
		if seg.IsPassive() {
			inst.Datas[i] = seg.Init
			continue
		}
		off, err := evalConst(inst, seg.Offset)
		if err != nil {
			return resourceError("data segment", i, err)
		}
		mem := inst.Memories[seg.MemIdx]
		if uint64(uint32(off))+uint64(len(seg.Init)) > mem.DataSize() {
			return segmentTrap(errors.TrapMemoryOutOfBounds, "data", i)
		}
		dataWrites = append(dataWrites, dataWrite{mem: mem, off: uint32(off), init: seg.Init})
	}

	for _, w := range elemWrites {
		for j, h := range w.elems {
			w.tab.SetElement(w.start+uint32(j), h)
		}
	}
	for _, w := range dataWrites {
		w.mem.Write(w.off, w.init)
	}
	return nil
}

func elemHandles(inst *vm.Instance, seg *wasm.Element) ([]uint64, error) {
	if seg.Exprs != nil {
		out := make([]uint64, len(seg.Exprs))
		for j, expr := range seg.Exprs {
			h, err := evalConst(inst, expr)
			if err != nil {
				return nil, err
			}
			out[j] = h
		}
		return out, nil
	}
	out := make([]uint64, len(seg.FuncIdxs))
	for j, idx := range seg.FuncIdxs {
		if int(idx) >= len(inst.Funcs) {
			return nil, fmt.Errorf("function %d out of range", idx)
		}
		out[j] = inst.Funcs[idx].Handle()
	}
	return out, nil
}

func segmentTrap(code errors.TrapCode, kind string, index int) *errors.RuntimeError {
	return &errors.RuntimeError{
		Trap:    code,
		Message: fmt.Sprintf("%s segment %d does not fit", kind, index),
	}
}
