package vm

// DefaultMaxCallDepth bounds nested wasm calls when no limit is configured.
const DefaultMaxCallDepth = 10000

// Objects is the registry of runtime objects owned by one store. Function
// and extern reference handles are registry positions plus one, so zero
// stays the null reference.
type Objects struct {
	memories  []*Memory
	tables    []*Table
	globals   []*Global
	functions []*Function
	externs   []any

	// MaxCallDepth bounds nested wasm calls started from this registry,
	// counted across host functions that call back into wasm.
	MaxCallDepth int

	// depth is the call depth at the innermost host call in progress.
	depth int
}

// NewObjects creates an empty registry.
func NewObjects() *Objects {
	return &Objects{MaxCallDepth: DefaultMaxCallDepth}
}

// Mark is a registry position returned by Checkpoint.
type Mark struct {
	memories, tables, globals, functions, externs int
}

// Checkpoint records the current registry position.
func (o *Objects) Checkpoint() Mark {
	return Mark{
		memories:  len(o.memories),
		tables:    len(o.tables),
		globals:   len(o.globals),
		functions: len(o.functions),
		externs:   len(o.externs),
	}
}

// Rollback releases every object added after mark.
func (o *Objects) Rollback(mark Mark) {
	for _, m := range o.memories[mark.memories:] {
		m.owner = nil
	}
	for _, t := range o.tables[mark.tables:] {
		t.owner = nil
	}
	for _, g := range o.globals[mark.globals:] {
		g.owner = nil
	}
	for _, f := range o.functions[mark.functions:] {
		f.owner = nil
		f.handle = 0
	}
	clear(o.memories[mark.memories:])
	clear(o.tables[mark.tables:])
	clear(o.globals[mark.globals:])
	clear(o.functions[mark.functions:])
	clear(o.externs[mark.externs:])
	o.memories = o.memories[:mark.memories]
	o.tables = o.tables[:mark.tables]
	o.globals = o.globals[:mark.globals]
	o.functions = o.functions[:mark.functions]
	o.externs = o.externs[:mark.externs]
}

// Counts reports how many objects of each kind are registered.
type Counts struct {
	Memories  int
	Tables    int
	Globals   int
	Functions int
	Externs   int
}

func (o *Objects) Counts() Counts {
	return Counts{
		Memories:  len(o.memories),
		Tables:    len(o.tables),
		Globals:   len(o.globals),
		Functions: len(o.functions),
		Externs:   len(o.externs),
	}
}

func (o *Objects) AddMemory(m *Memory) *Memory {
	m.owner = o
	o.memories = append(o.memories, m)
	return m
}

func (o *Objects) AddTable(t *Table) *Table {
	t.owner = o
	o.tables = append(o.tables, t)
	return t
}

func (o *Objects) AddGlobal(g *Global) *Global {
	g.owner = o
	o.globals = append(o.globals, g)
	return g
}

// AddFunction registers f and assigns its reference handle.
func (o *Objects) AddFunction(f *Function) *Function {
	f.owner = o
	o.functions = append(o.functions, f)
	f.handle = uint64(len(o.functions))
	return f
}

// Function resolves a function reference handle.
func (o *Objects) Function(h uint64) *Function {
	if h == 0 || h > uint64(len(o.functions)) {
		return nil
	}
	return o.functions[h-1]
}

// AddExtern registers a host value and returns its extern reference handle.
func (o *Objects) AddExtern(v any) uint64 {
	o.externs = append(o.externs, v)
	return uint64(len(o.externs))
}

// Extern resolves an extern reference handle.
func (o *Objects) Extern(h uint64) (any, bool) {
	if h == 0 || h > uint64(len(o.externs)) {
		return nil, false
	}
	return o.externs[h-1], true
}

func (o *Objects) hostDepth() int {
	if o == nil {
		return 0
	}
	return o.depth
}

func (o *Objects) maxCallDepth() int {
	if o == nil || o.MaxCallDepth <= 0 {
		return DefaultMaxCallDepth
	}
	return o.MaxCallDepth
}
