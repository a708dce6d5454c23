package store

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/types"
	"github.com/wippyai/wasm-engine/vm"
)

// Runtime objects are implemented by the vm package.
type (
	Memory   = vm.Memory
	Table    = vm.Table
	Global   = vm.Global
	Function = vm.Function
	Caller   = vm.Caller
	HostFunc = vm.HostFunc
)

// Extern is a runtime object that can satisfy an import: a *Function,
// *Memory, *Table or *Global.
type Extern interface {
	Owner() *vm.Objects
}

// ExternTypeOf returns the type of an extern, or nil for an unknown
// implementation.
func ExternTypeOf(e Extern) types.ExternType {
	switch e := e.(type) {
	case *Function:
		return e.Type()
	case *Memory:
		return e.Type()
	case *Table:
		return e.Type()
	case *Global:
		return e.Type()
	}
	return nil
}

// Store owns every runtime object created in it. Instances hold handles
// into a store; objects of different stores never mix.
//
// Store is not safe for concurrent use.
type Store struct {
	id      uuid.UUID
	objects *vm.Objects
	logger  *zap.Logger
	envs    []any
}

// Option configures a Store.
type Option func(*Store)

// WithMaxCallDepth bounds nested wasm calls made in the store.
func WithMaxCallDepth(n int) Option {
	return func(s *Store) { s.objects.MaxCallDepth = n }
}

// WithLogger overrides the package logger for this store.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		id:      uuid.New(),
		objects: vm.NewObjects(),
		logger:  Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.Stringer("store", s.id))
	s.logger.Debug("store created", zap.Int("max_call_depth", s.objects.MaxCallDepth))
	return s
}

func (s *Store) ID() uuid.UUID { return s.id }

// Objects returns the store's object registry.
func (s *Store) Objects() *vm.Objects { return s.objects }

// Logger returns the store's logger, tagged with its ID.
func (s *Store) Logger() *zap.Logger { return s.logger }

// Owns reports whether e was created in or registered with s.
func (s *Store) Owns(e Extern) bool {
	return e != nil && e.Owner() == s.objects
}

// AddMemory registers a memory created outside the store, typically by
// engine tunables.
func (s *Store) AddMemory(m *Memory) *Memory {
	m.SetLogger(s.logger)
	return s.objects.AddMemory(m)
}

func (s *Store) AddTable(t *Table) *Table { return s.objects.AddTable(t) }

func (s *Store) AddGlobal(g *Global) *Global { return s.objects.AddGlobal(g) }

func (s *Store) AddFunction(f *Function) *Function { return s.objects.AddFunction(f) }

// Checkpoint records the store's current contents so a failed
// instantiation can release what it allocated.
func (s *Store) Checkpoint() vm.Mark { return s.objects.Checkpoint() }

// Rollback releases every object registered after mark.
func (s *Store) Rollback(mark vm.Mark) {
	before := s.objects.Counts()
	s.objects.Rollback(mark)
	after := s.objects.Counts()
	s.logger.Debug("store rolled back",
		zap.Int("functions", before.Functions-after.Functions),
		zap.Int("memories", before.Memories-after.Memories),
		zap.Int("tables", before.Tables-after.Tables),
		zap.Int("globals", before.Globals-after.Globals))
}

// Stats reports the number of objects owned by a store.
type Stats struct {
	vm.Counts
	Envs int
}

func (s *Store) Stats() Stats {
	return Stats{Counts: s.objects.Counts(), Envs: len(s.envs)}
}

// NewMemory creates a memory owned by s, bounded by the default page
// ceiling.
func NewMemory(s *Store, typ types.MemoryType) (*Memory, error) {
	m, err := vm.NewMemory(typ, uint32(types.MaxPages), typ.Min)
	if err != nil {
		return nil, err
	}
	return s.AddMemory(m), nil
}

// NewTable creates a table owned by s with every element set to init.
func NewTable(s *Store, typ types.TableType, init types.Value) (*Table, error) {
	if init.Type() != typ.Element {
		return nil, errors.TypeMismatch(errors.PhaseRuntime, []string{"table", "init"}, typ.Element.String(), init.Type().String())
	}
	t, err := vm.NewTable(typ, types.MaxTableElements, init.Raw())
	if err != nil {
		return nil, err
	}
	return s.AddTable(t), nil
}

// NewGlobal creates a global owned by s.
func NewGlobal(s *Store, typ types.GlobalType, init types.Value) (*Global, error) {
	g, err := vm.NewGlobal(typ, init)
	if err != nil {
		return nil, err
	}
	return s.AddGlobal(g), nil
}

// NewHostFunction creates a function of type ft implemented by fn. The
// argument slice passed to fn holds one value per parameter; fn must
// return one value per result. A returned error traps the caller.
func NewHostFunction(s *Store, ft *types.FunctionType, fn HostFunc) *Function {
	return s.AddFunction(vm.NewHostFunction(ft, fn))
}
