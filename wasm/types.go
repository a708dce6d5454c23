package wasm

// Module represents a parsed WebAssembly module
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // Type indices for declared functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FuncBody
	Data     []DataSegment

	// DataCount holds the count from the DataCount section (ID 12).
	// Required when data indices appear in code (bulk memory operations).
	DataCount *uint32

	CustomSections []CustomSection

	// Names is decoded from the "name" custom section when present.
	Names *NameSection
}

// FuncType represents a WebAssembly function signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// ValType represents a WebAssembly value type.
// See constants.go for ValI32, ValI64, ValF32, ValF64, etc.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return "unknown"
	}
}

// IsRef reports whether v is a reference type.
func (v ValType) IsRef() bool {
	return v == ValFuncRef || v == ValExtern
}

// Import represents an imported function, table, memory, or global.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc describes an imported item.
// Kind uses KindFunc, KindTable, KindMemory, or KindGlobal constants.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// TableType describes a table with element type and size limits.
type TableType struct {
	Limits   Limits
	ElemType ValType
}

// MemoryType describes a linear memory with size limits.
type MemoryType struct {
	Limits Limits
}

// Limits describes size constraints for tables and memories.
type Limits struct {
	Max      *uint64
	Min      uint64
	Shared   bool
	Memory64 bool
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global represents a global variable with type and initialization.
type Global struct {
	Type GlobalType
	Init []byte // Raw init expression bytes including the end opcode
}

// Export describes an exported item.
// Kind uses KindFunc, KindTable, KindMemory, or KindGlobal constants.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Element represents an element segment.
// Flags determine the format:
//   - 0: active, tableIdx=0, offset expr, vec(funcidx)
//   - 1: passive, elemkind, vec(funcidx)
//   - 2: active, tableIdx, offset expr, elemkind, vec(funcidx)
//   - 3: declarative, elemkind, vec(funcidx)
//   - 4: active, tableIdx=0, offset expr, vec(expr)
//   - 5: passive, reftype, vec(expr)
//   - 6: active, tableIdx, offset expr, reftype, vec(expr)
//   - 7: declarative, reftype, vec(expr)
type Element struct {
	Offset   []byte
	FuncIdxs []uint32
	Exprs    [][]byte
	Flags    uint32
	TableIdx uint32
	ElemKind byte
	Type     ValType // reftype for expression segments
}

// IsPassive reports whether the segment is passive.
func (e *Element) IsPassive() bool { return e.Flags&0x03 == 0x01 }

// IsDeclarative reports whether the segment is declarative.
func (e *Element) IsDeclarative() bool { return e.Flags&0x03 == 0x03 }

// IsActive reports whether the segment is applied at instantiation.
func (e *Element) IsActive() bool { return e.Flags&0x01 == 0 }

// ElemType returns the reference type of the segment's elements.
func (e *Element) ElemType() ValType {
	if e.Flags&0x04 != 0 && e.Flags&0x03 != 0 {
		return e.Type
	}
	return ValFuncRef
}

// Len returns the number of elements in the segment.
func (e *Element) Len() int {
	if e.Flags&0x04 != 0 {
		return len(e.Exprs)
	}
	return len(e.FuncIdxs)
}

// FuncBody represents a function's local declarations and bytecode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte // Raw code bytes including end opcode
	// Offset is the position of Code[0] within the module binary. It is zero
	// for bodies built in memory.
	Offset uint32
}

// NumLocals returns the total number of declared locals.
func (b *FuncBody) NumLocals() uint64 {
	var n uint64
	for _, l := range b.Locals {
		n += uint64(l.Count)
	}
	return n
}

// LocalEntry represents a group of local variables with the same type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// DataSegment represents a data segment.
// Flags determine the format:
//   - 0: active, memIdx=0, offset expr, vec(byte)
//   - 1: passive, vec(byte)
//   - 2: active, memIdx, offset expr, vec(byte)
type DataSegment struct {
	Offset []byte
	Init   []byte
	Flags  uint32
	MemIdx uint32
}

// IsPassive reports whether the segment is passive.
func (d *DataSegment) IsPassive() bool { return d.Flags == 1 }

// CustomSection holds a named custom section's data.
type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs returns the number of imported functions
func (m *Module) NumImportedFuncs() int {
	return m.countImports(KindFunc)
}

// NumImportedGlobals returns the number of imported globals
func (m *Module) NumImportedGlobals() int {
	return m.countImports(KindGlobal)
}

// NumImportedTables returns the number of imported tables
func (m *Module) NumImportedTables() int {
	return m.countImports(KindTable)
}

// NumImportedMemories returns the number of imported memories
func (m *Module) NumImportedMemories() int {
	return m.countImports(KindMemory)
}

func (m *Module) countImports(kind byte) int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == kind {
			count++
		}
	}
	return count
}

// NumFuncs returns the size of the function index space.
func (m *Module) NumFuncs() int { return m.NumImportedFuncs() + len(m.Funcs) }

// NumGlobals returns the size of the global index space.
func (m *Module) NumGlobals() int { return m.NumImportedGlobals() + len(m.Globals) }

// NumTables returns the size of the table index space.
func (m *Module) NumTables() int { return m.NumImportedTables() + len(m.Tables) }

// NumMemories returns the size of the memory index space.
func (m *Module) NumMemories() int { return m.NumImportedMemories() + len(m.Memories) }

// GetFuncType returns the type of a function by its index
func (m *Module) GetFuncType(funcIdx uint32) *FuncType {
	numImported := uint32(m.NumImportedFuncs())
	if funcIdx < numImported {
		for i, imp := range m.Imports {
			if imp.Desc.Kind == KindFunc {
				if funcIdx == 0 {
					return m.typeAt(m.Imports[i].Desc.TypeIdx)
				}
				funcIdx--
			}
		}
	}
	localIdx := funcIdx - numImported
	if int(localIdx) >= len(m.Funcs) {
		return nil
	}
	return m.typeAt(m.Funcs[localIdx])
}

func (m *Module) typeAt(typeIdx uint32) *FuncType {
	if int(typeIdx) >= len(m.Types) {
		return nil
	}
	return &m.Types[typeIdx]
}

// GlobalTypeAt returns the type of a global by its index in the global index space.
func (m *Module) GlobalTypeAt(idx uint32) (GlobalType, bool) {
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindGlobal {
			continue
		}
		if idx == 0 {
			return *imp.Desc.Global, true
		}
		idx--
	}
	if int(idx) < len(m.Globals) {
		return m.Globals[idx].Type, true
	}
	return GlobalType{}, false
}

// TableTypeAt returns the type of a table by its index in the table index space.
func (m *Module) TableTypeAt(idx uint32) (TableType, bool) {
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindTable {
			continue
		}
		if idx == 0 {
			return *imp.Desc.Table, true
		}
		idx--
	}
	if int(idx) < len(m.Tables) {
		return m.Tables[idx], true
	}
	return TableType{}, false
}

// AddType adds a function type and returns its index, reusing existing if equal
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if typesEqual(t, ft) {
			return uint32(i)
		}
	}
	idx := uint32(len(m.Types))
	m.Types = append(m.Types, ft)
	return idx
}

// AddGlobal appends a module-defined global and returns its index in the
// global index space.
func (m *Module) AddGlobal(g Global) uint32 {
	idx := uint32(m.NumGlobals())
	m.Globals = append(m.Globals, g)
	return idx
}

func typesEqual(a, b FuncType) bool {
	if len(a.Params) != len(b.Params) || len(a.Results) != len(b.Results) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			return false
		}
	}
	return true
}
