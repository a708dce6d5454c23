package artifact

import (
	"fmt"

	"fortio.org/safecast"

	"github.com/wippyai/wasm-engine/types"
	"github.com/wippyai/wasm-engine/wasm"
)

// ValueType converts a binary value type.
func ValueType(v wasm.ValType) (types.Type, error) {
	switch v {
	case wasm.ValI32:
		return types.I32, nil
	case wasm.ValI64:
		return types.I64, nil
	case wasm.ValF32:
		return types.F32, nil
	case wasm.ValF64:
		return types.F64, nil
	case wasm.ValV128:
		return types.V128, nil
	case wasm.ValFuncRef:
		return types.FuncRef, nil
	case wasm.ValExtern:
		return types.ExternRef, nil
	}
	return 0, fmt.Errorf("unknown value type 0x%02x", byte(v))
}

func valueTypes(vs []wasm.ValType) ([]types.Type, error) {
	out := make([]types.Type, len(vs))
	for i, v := range vs {
		t, err := ValueType(v)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// FunctionType converts a binary function type.
func FunctionType(ft *wasm.FuncType) (*types.FunctionType, error) {
	params, err := valueTypes(ft.Params)
	if err != nil {
		return nil, err
	}
	results, err := valueTypes(ft.Results)
	if err != nil {
		return nil, err
	}
	return types.NewFunctionType(params, results), nil
}

func limits(l wasm.Limits) (minimum, maximum uint32, hasMax bool, err error) {
	if l.Memory64 {
		return 0, 0, false, fmt.Errorf("64-bit limits are not supported")
	}
	if minimum, err = safecast.Conv[uint32](l.Min); err != nil {
		return 0, 0, false, err
	}
	if l.Max != nil {
		if maximum, err = safecast.Conv[uint32](*l.Max); err != nil {
			return 0, 0, false, err
		}
		hasMax = true
	}
	return minimum, maximum, hasMax, nil
}

// MemoryType converts a binary memory type.
func MemoryType(mt wasm.MemoryType) (types.MemoryType, error) {
	minimum, maximum, hasMax, err := limits(mt.Limits)
	if err != nil {
		return types.MemoryType{}, fmt.Errorf("memory: %w", err)
	}
	return types.MemoryType{Min: minimum, Max: maximum, HasMax: hasMax, Shared: mt.Limits.Shared}, nil
}

// TableType converts a binary table type.
func TableType(tt wasm.TableType) (types.TableType, error) {
	elem, err := ValueType(tt.ElemType)
	if err != nil {
		return types.TableType{}, err
	}
	minimum, maximum, hasMax, err := limits(tt.Limits)
	if err != nil {
		return types.TableType{}, fmt.Errorf("table: %w", err)
	}
	return types.TableType{Element: elem, Min: minimum, Max: maximum, HasMax: hasMax}, nil
}

// GlobalType converts a binary global type.
func GlobalType(gt wasm.GlobalType) (types.GlobalType, error) {
	t, err := ValueType(gt.ValType)
	if err != nil {
		return types.GlobalType{}, err
	}
	return types.GlobalType{Type: t, Mutable: gt.Mutable}, nil
}

// importType converts the type of one import.
func importType(desc *wasm.ImportDesc, ft []*types.FunctionType) (types.ExternType, error) {
	switch desc.Kind {
	case wasm.KindFunc:
		if int(desc.TypeIdx) >= len(ft) {
			return nil, fmt.Errorf("type index %d out of range", desc.TypeIdx)
		}
		return ft[desc.TypeIdx], nil
	case wasm.KindMemory:
		return MemoryType(*desc.Memory)
	case wasm.KindTable:
		return TableType(*desc.Table)
	case wasm.KindGlobal:
		return GlobalType(*desc.Global)
	}
	return nil, fmt.Errorf("unknown import kind %d", desc.Kind)
}

// describe computes the converted signatures and the import and export
// types of a module.
func describe(m *wasm.Module) (fts []*types.FunctionType, imports []types.ImportType, exports []types.ExportType, err error) {
	fts = make([]*types.FunctionType, len(m.Types))
	for i := range m.Types {
		if fts[i], err = FunctionType(&m.Types[i]); err != nil {
			return nil, nil, nil, err
		}
	}

	var (
		funcs    []types.ExternType
		tables   []types.ExternType
		memories []types.ExternType
		globals  []types.ExternType
	)
	imports = make([]types.ImportType, len(m.Imports))
	for i := range m.Imports {
		imp := &m.Imports[i]
		t, err := importType(&imp.Desc, fts)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("import %s.%s: %w", imp.Module, imp.Name, err)
		}
		imports[i] = types.ImportType{Module: imp.Module, Name: imp.Name, Type: t}
		switch imp.Desc.Kind {
		case wasm.KindFunc:
			funcs = append(funcs, t)
		case wasm.KindTable:
			tables = append(tables, t)
		case wasm.KindMemory:
			memories = append(memories, t)
		case wasm.KindGlobal:
			globals = append(globals, t)
		}
	}
	for _, idx := range m.Funcs {
		if int(idx) >= len(fts) {
			return nil, nil, nil, fmt.Errorf("type index %d out of range", idx)
		}
		funcs = append(funcs, fts[idx])
	}
	for _, tt := range m.Tables {
		t, err := TableType(tt)
		if err != nil {
			return nil, nil, nil, err
		}
		tables = append(tables, t)
	}
	for _, mt := range m.Memories {
		t, err := MemoryType(mt)
		if err != nil {
			return nil, nil, nil, err
		}
		memories = append(memories, t)
	}
	for _, g := range m.Globals {
		t, err := GlobalType(g.Type)
		if err != nil {
			return nil, nil, nil, err
		}
		globals = append(globals, t)
	}

	exports = make([]types.ExportType, len(m.Exports))
	for i, e := range m.Exports {
		var space []types.ExternType
		switch e.Kind {
		case wasm.KindFunc:
			space = funcs
		case wasm.KindTable:
			space = tables
		case wasm.KindMemory:
			space = memories
		case wasm.KindGlobal:
			space = globals
		}
		if int(e.Idx) >= len(space) {
			return nil, nil, nil, fmt.Errorf("export %q: index %d out of range", e.Name, e.Idx)
		}
		exports[i] = types.ExportType{Name: e.Name, Type: space[e.Idx]}
	}
	return fts, imports, exports, nil
}
