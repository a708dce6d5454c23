package compiler

import (
	"github.com/wippyai/wasm-engine/wasm"
)

// ModuleInfo is the module metadata needed to validate and compile function
// bodies: every index space flattened with imports first.
type ModuleInfo struct {
	Module   *wasm.Module
	Features Features

	FuncTypes   []*wasm.FuncType // by function index
	Globals     []wasm.GlobalType
	Tables      []wasm.TableType
	NumMemories int
	NumImported int // imported functions

	// declared holds functions that ref.func may name: those referenced
	// from element segments, exports or global initializers.
	declared map[uint32]struct{}
}

// NewModuleInfo flattens the index spaces of a structurally valid module.
func NewModuleInfo(m *wasm.Module, features Features) *ModuleInfo {
	info := &ModuleInfo{
		Module:      m,
		Features:    features,
		NumMemories: m.NumMemories(),
		NumImported: m.NumImportedFuncs(),
		declared:    make(map[uint32]struct{}),
	}
	for _, imp := range m.Imports {
		switch imp.Desc.Kind {
		case wasm.KindFunc:
			info.FuncTypes = append(info.FuncTypes, &m.Types[imp.Desc.TypeIdx])
		case wasm.KindGlobal:
			info.Globals = append(info.Globals, *imp.Desc.Global)
		case wasm.KindTable:
			info.Tables = append(info.Tables, *imp.Desc.Table)
		}
	}
	for _, typeIdx := range m.Funcs {
		info.FuncTypes = append(info.FuncTypes, &m.Types[typeIdx])
	}
	for _, g := range m.Globals {
		info.Globals = append(info.Globals, g.Type)
		if c, err := wasm.DecodeConstExpr(g.Init); err == nil && c.Kind == wasm.ConstRefFunc {
			info.declared[c.Index] = struct{}{}
		}
	}
	info.Tables = append(info.Tables, m.Tables...)
	for _, e := range m.Exports {
		if e.Kind == wasm.KindFunc {
			info.declared[e.Idx] = struct{}{}
		}
	}
	for i := range m.Elements {
		for _, idx := range ElementFuncs(&m.Elements[i]) {
			info.declared[idx] = struct{}{}
		}
	}
	return info
}

// ElementFuncs returns the functions an element segment references.
func ElementFuncs(e *wasm.Element) []uint32 {
	if len(e.Exprs) == 0 {
		return e.FuncIdxs
	}
	var out []uint32
	for _, expr := range e.Exprs {
		if c, err := wasm.DecodeConstExpr(expr); err == nil && c.Kind == wasm.ConstRefFunc {
			out = append(out, c.Index)
		}
	}
	return out
}

// NumLocalFuncs returns the number of functions defined by the module.
func (info *ModuleInfo) NumLocalFuncs() int { return len(info.Module.Funcs) }

// DataCount returns the declared data segment count.
func (info *ModuleInfo) DataCount() (uint32, bool) {
	if info.Module.DataCount == nil {
		return 0, false
	}
	return *info.Module.DataCount, true
}

func (info *ModuleInfo) isDeclared(funcIdx uint32) bool {
	_, ok := info.declared[funcIdx]
	return ok
}
