// Package wasmtest builds WebAssembly modules in memory for tests.
package wasmtest

import (
	"math"

	"github.com/wippyai/wasm-engine/wasm"
)

// Value type shorthands.
const (
	I32     = wasm.ValI32
	I64     = wasm.ValI64
	F32     = wasm.ValF32
	F64     = wasm.ValF64
	FuncRef = wasm.ValFuncRef
	Extern  = wasm.ValExtern
)

// Types is a convenience for writing signatures inline.
func Types(ts ...wasm.ValType) []wasm.ValType { return ts }

// Builder assembles a module. Imports must be added before functions so
// that function indices returned by Func are final.
type Builder struct {
	m wasm.Module
}

// New returns an empty builder.
func New() *Builder { return &Builder{} }

// Type returns the index of the function type, adding it when new.
func (b *Builder) Type(params, results []wasm.ValType) uint32 {
	for i, t := range b.m.Types {
		if sameTypes(t.Params, params) && sameTypes(t.Results, results) {
			return uint32(i)
		}
	}
	b.m.Types = append(b.m.Types, wasm.FuncType{Params: params, Results: results})
	return uint32(len(b.m.Types) - 1)
}

// ImportFunc adds a function import and returns its function index.
func (b *Builder) ImportFunc(module, name string, params, results []wasm.ValType) uint32 {
	idx := uint32(b.m.NumImportedFuncs())
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module,
		Name:   name,
		Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: b.Type(params, results)},
	})
	return idx
}

// ImportMemory adds a memory import.
func (b *Builder) ImportMemory(module, name string, min uint64, max *uint64) {
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module,
		Name:   name,
		Desc:   wasm.ImportDesc{Kind: wasm.KindMemory, Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: min, Max: max}}},
	})
}

// ImportGlobal adds a global import and returns its global index.
func (b *Builder) ImportGlobal(module, name string, t wasm.ValType, mutable bool) uint32 {
	idx := uint32(b.numImported(wasm.KindGlobal))
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module,
		Name:   name,
		Desc:   wasm.ImportDesc{Kind: wasm.KindGlobal, Global: &wasm.GlobalType{ValType: t, Mutable: mutable}},
	})
	return idx
}

// ImportTable adds a table import.
func (b *Builder) ImportTable(module, name string, elem wasm.ValType, min uint64) {
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module,
		Name:   name,
		Desc:   wasm.ImportDesc{Kind: wasm.KindTable, Table: &wasm.TableType{ElemType: elem, Limits: wasm.Limits{Min: min}}},
	})
}

func (b *Builder) numImported(kind byte) int {
	n := 0
	for _, imp := range b.m.Imports {
		if imp.Desc.Kind == kind {
			n++
		}
	}
	return n
}

// Func adds a function whose body is code followed by end and returns its
// function index.
func (b *Builder) Func(params, results, locals []wasm.ValType, code ...wasm.Instruction) uint32 {
	idx := uint32(b.m.NumImportedFuncs() + len(b.m.Funcs))
	b.m.Funcs = append(b.m.Funcs, b.Type(params, results))
	body := wasm.FuncBody{Code: Code(code...)}
	for _, t := range locals {
		if n := len(body.Locals); n > 0 && body.Locals[n-1].ValType == t {
			body.Locals[n-1].Count++
			continue
		}
		body.Locals = append(body.Locals, wasm.LocalEntry{Count: 1, ValType: t})
	}
	b.m.Code = append(b.m.Code, body)
	return idx
}

// Export adds an export.
func (b *Builder) Export(name string, kind byte, idx uint32) {
	b.m.Exports = append(b.m.Exports, wasm.Export{Name: name, Kind: kind, Idx: idx})
}

// ExportFunc exports function idx.
func (b *Builder) ExportFunc(name string, idx uint32) { b.Export(name, wasm.KindFunc, idx) }

// Memory adds a memory and exports it as "memory".
func (b *Builder) Memory(min uint64, max *uint64) {
	b.m.Memories = append(b.m.Memories, wasm.MemoryType{Limits: wasm.Limits{Min: min, Max: max}})
	b.Export("memory", wasm.KindMemory, uint32(len(b.m.Memories)-1+b.numImported(wasm.KindMemory)))
}

// Table adds a table and returns its index.
func (b *Builder) Table(elem wasm.ValType, min uint64, max *uint64) uint32 {
	b.m.Tables = append(b.m.Tables, wasm.TableType{ElemType: elem, Limits: wasm.Limits{Min: min, Max: max}})
	return uint32(b.numImported(wasm.KindTable) + len(b.m.Tables) - 1)
}

// Global adds a global with a constant initializer and returns its index.
func (b *Builder) Global(t wasm.ValType, mutable bool, init []byte) uint32 {
	b.m.Globals = append(b.m.Globals, wasm.Global{Type: wasm.GlobalType{ValType: t, Mutable: mutable}, Init: init})
	return uint32(b.numImported(wasm.KindGlobal) + len(b.m.Globals) - 1)
}

// Data adds an active data segment for memory 0.
func (b *Builder) Data(offset int32, init []byte) {
	b.m.Data = append(b.m.Data, wasm.DataSegment{Offset: wasm.I32Const(offset), Init: init})
}

// PassiveData adds a passive data segment and the data count section.
func (b *Builder) PassiveData(init []byte) uint32 {
	b.m.Data = append(b.m.Data, wasm.DataSegment{Flags: 1, Init: init})
	n := uint32(len(b.m.Data))
	b.m.DataCount = &n
	return n - 1
}

// Elem adds an active element segment for table 0.
func (b *Builder) Elem(offset int32, funcs ...uint32) {
	b.m.Elements = append(b.m.Elements, wasm.Element{Offset: wasm.I32Const(offset), FuncIdxs: funcs})
}

// Start sets the start function.
func (b *Builder) Start(idx uint32) { b.m.Start = &idx }

// Names attaches a name section with function names.
func (b *Builder) Names(module string, funcs map[uint32]string) {
	b.m.Names = &wasm.NameSection{ModuleName: module, FuncNames: funcs}
}

// Module returns the module built so far.
func (b *Builder) Module() *wasm.Module { return &b.m }

// Bytes encodes the module.
func (b *Builder) Bytes() []byte { return b.m.Encode() }

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

// Code encodes instructions and appends the final end.
func Code(code ...wasm.Instruction) []byte {
	return wasm.EncodeInstructions(append(code, End()))
}

func Op(op byte) wasm.Instruction { return wasm.Instruction{Opcode: op} }
func End() wasm.Instruction       { return Op(wasm.OpEnd) }
func Else() wasm.Instruction      { return Op(wasm.OpElse) }
func Drop() wasm.Instruction      { return Op(wasm.OpDrop) }
func Return() wasm.Instruction    { return Op(wasm.OpReturn) }

func I32Const(v int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: v}}
}

func I64Const(v int64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: v}}
}

func F32Const(v float32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpF32Const, Imm: wasm.F32Imm{Bits: math.Float32bits(v)}}
}

func F64Const(v float64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpF64Const, Imm: wasm.F64Imm{Bits: math.Float64bits(v)}}
}

func LocalGet(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: i}}
}

func LocalSet(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: i}}
}

func LocalTee(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalTee, Imm: wasm.LocalImm{LocalIdx: i}}
}

func GlobalGet(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpGlobalGet, Imm: wasm.GlobalImm{GlobalIdx: i}}
}

func GlobalSet(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpGlobalSet, Imm: wasm.GlobalImm{GlobalIdx: i}}
}

func Call(f uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: f}}
}

func CallIndirect(typeIdx, table uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpCallIndirect, Imm: wasm.CallIndirectImm{TypeIdx: typeIdx, TableIdx: table}}
}

func Block(bt int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: bt}}
}

func Loop(bt int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: bt}}
}

func If(bt int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: bt}}
}

func Br(l uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: l}}
}

func BrIf(l uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBrIf, Imm: wasm.BranchImm{LabelIdx: l}}
}

func BrTable(def uint32, labels ...uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBrTable, Imm: wasm.BrTableImm{Labels: labels, Default: def}}
}

// Load builds a load or store with natural alignment.
func Load(op byte, offset uint64) wasm.Instruction {
	align := uint32(2)
	switch op {
	case wasm.OpI64Load, wasm.OpF64Load, wasm.OpI64Store, wasm.OpF64Store:
		align = 3
	case wasm.OpI32Load8S, wasm.OpI32Load8U, wasm.OpI64Load8S, wasm.OpI64Load8U,
		wasm.OpI32Store8, wasm.OpI64Store8:
		align = 0
	case wasm.OpI32Load16S, wasm.OpI32Load16U, wasm.OpI64Load16S, wasm.OpI64Load16U,
		wasm.OpI32Store16, wasm.OpI64Store16:
		align = 1
	}
	return wasm.Instruction{Opcode: op, Imm: wasm.MemoryImm{Offset: offset, Align: align}}
}

// Store is Load for store opcodes.
func Store(op byte, offset uint64) wasm.Instruction { return Load(op, offset) }

func MemoryGrow() wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpMemoryGrow, Imm: wasm.MemoryIdxImm{}}
}

func MemorySize() wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpMemorySize, Imm: wasm.MemoryIdxImm{}}
}

func Misc(sub uint32, operands ...uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: sub, Operands: operands}}
}

func RefNull(t wasm.ValType) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpRefNull, Imm: wasm.RefNullImm{Type: t}}
}

func RefFunc(f uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpRefFunc, Imm: wasm.RefFuncImm{FuncIdx: f}}
}

func TableGet(t uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpTableGet, Imm: wasm.TableImm{TableIdx: t}}
}

func TableSet(t uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpTableSet, Imm: wasm.TableImm{TableIdx: t}}
}

// AddBuilder starts the module importing env.add(i32, i32) -> i32 and
// exporting run() -> i32, which returns add(2, 3).
func AddBuilder() *Builder {
	b := New()
	add := b.ImportFunc("env", "add", Types(I32, I32), Types(I32))
	run := b.Func(nil, Types(I32), nil, I32Const(2), I32Const(3), Call(add))
	b.ExportFunc("run", run)
	return b
}

// AddModule encodes AddBuilder's module.
func AddModule() []byte { return AddBuilder().Bytes() }
