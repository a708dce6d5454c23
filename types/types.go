package types

import (
	"strings"
)

// Type is a WebAssembly value kind.
type Type uint8

const (
	I32 Type = iota + 1
	I64
	F32
	F64
	V128
	FuncRef
	ExternRef
)

func (t Type) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case V128:
		return "v128"
	case FuncRef:
		return "funcref"
	case ExternRef:
		return "externref"
	default:
		return "unknown"
	}
}

// IsRef reports whether t is a reference kind.
func (t Type) IsRef() bool {
	return t == FuncRef || t == ExternRef
}

// IsNum reports whether t is a scalar numeric kind.
func (t Type) IsNum() bool {
	return t >= I32 && t <= F64
}

// Valid reports whether t is one of the defined kinds.
func (t Type) Valid() bool {
	return t >= I32 && t <= ExternRef
}

// ExternKind tags the variant of an ExternType.
type ExternKind uint8

const (
	ExternFunction ExternKind = iota
	ExternTable
	ExternMemory
	ExternGlobal
)

func (k ExternKind) String() string {
	switch k {
	case ExternFunction:
		return "function"
	case ExternTable:
		return "table"
	case ExternMemory:
		return "memory"
	case ExternGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// ExternType is the type of an importable or exportable entity. It is one of
// *FunctionType, MemoryType, TableType or GlobalType.
type ExternType interface {
	Kind() ExternKind
	String() string
	externType()
}

// FunctionType is an immutable function signature.
type FunctionType struct {
	params  []Type
	results []Type
}

// NewFunctionType creates a signature. The input slices are copied.
func NewFunctionType(params, results []Type) *FunctionType {
	ft := &FunctionType{}
	if len(params) > 0 {
		ft.params = append([]Type(nil), params...)
	}
	if len(results) > 0 {
		ft.results = append([]Type(nil), results...)
	}
	return ft
}

func (*FunctionType) Kind() ExternKind { return ExternFunction }
func (*FunctionType) externType()      {}

// Params returns a copy of the parameter types.
func (ft *FunctionType) Params() []Type {
	if ft == nil {
		return nil
	}
	return append([]Type(nil), ft.params...)
}

// Results returns a copy of the result types.
func (ft *FunctionType) Results() []Type {
	if ft == nil {
		return nil
	}
	return append([]Type(nil), ft.results...)
}

func (ft *FunctionType) NumParams() int {
	if ft == nil {
		return 0
	}
	return len(ft.params)
}

func (ft *FunctionType) NumResults() int {
	if ft == nil {
		return 0
	}
	return len(ft.results)
}

func (ft *FunctionType) Param(i int) Type  { return ft.params[i] }
func (ft *FunctionType) Result(i int) Type { return ft.results[i] }

// Equal reports whether both signatures have the same parameters and results.
func (ft *FunctionType) Equal(other *FunctionType) bool {
	if ft == nil || other == nil {
		return ft == other
	}
	return typesEqual(ft.params, other.params) && typesEqual(ft.results, other.results)
}

// String renders the signature as "func(i32, i32) -> (i32)". A nil type
// renders as the empty signature.
func (ft *FunctionType) String() string {
	var b strings.Builder
	b.WriteString("func")
	writeTypeList(&b, ft.Params())
	b.WriteString(" -> ")
	writeTypeList(&b, ft.Results())
	return b.String()
}

func writeTypeList(b *strings.Builder, ts []Type) {
	b.WriteByte('(')
	for i, t := range ts {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.String())
	}
	b.WriteByte(')')
}

func typesEqual(a, b []Type) bool {
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

// MemoryType describes a linear memory in pages.
type MemoryType struct {
	Min    uint32
	Max    uint32 // valid only when HasMax
	HasMax bool
	Shared bool
}

func (MemoryType) Kind() ExternKind { return ExternMemory }
func (MemoryType) externType()      {}

func (m MemoryType) String() string {
	s := "memory" + limitsString(m.Min, m.Max, m.HasMax)
	if m.Shared {
		s += " shared"
	}
	return s
}

// Validate checks the ordering invariant and the engine ceiling.
func (m MemoryType) Validate(maxPages uint32) error {
	return validateLimits("memory", m.Min, m.Max, m.HasMax, maxPages)
}

// TableType describes a table of references.
type TableType struct {
	Element Type
	Min     uint32
	Max     uint32 // valid only when HasMax
	HasMax  bool
}

func (TableType) Kind() ExternKind { return ExternTable }
func (TableType) externType()      {}

func (t TableType) String() string {
	return "table" + limitsString(t.Min, t.Max, t.HasMax) + " " + t.Element.String()
}

// Validate checks the ordering invariant and that the element is a reference kind.
func (t TableType) Validate(maxElements uint32) error {
	if !t.Element.IsRef() {
		return &LimitsError{Entity: "table", Detail: "element type " + t.Element.String() + " is not a reference type"}
	}
	return validateLimits("table", t.Min, t.Max, t.HasMax, maxElements)
}

// GlobalType describes a global variable.
type GlobalType struct {
	Type    Type
	Mutable bool
}

func (GlobalType) Kind() ExternKind { return ExternGlobal }
func (GlobalType) externType()      {}

func (g GlobalType) String() string {
	if g.Mutable {
		return "global mut " + g.Type.String()
	}
	return "global " + g.Type.String()
}

// ImportType names an entity a module requires.
type ImportType struct {
	Type   ExternType
	Module string
	Name   string
}

// ExportType names an entity a module provides.
type ExportType struct {
	Type ExternType
	Name string
}
