package runtime

import (
	"context"
	stderrors "errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-engine/artifact"
	"github.com/wippyai/wasm-engine/engine"
	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/internal/metrics"
	"github.com/wippyai/wasm-engine/linker"
	"github.com/wippyai/wasm-engine/store"
	"github.com/wippyai/wasm-engine/types"
	"github.com/wippyai/wasm-engine/vm"
)

// State is a step in an instance's lifecycle.
type State uint8

const (
	StateUnlinked State = iota
	StateLinked
	StateRunning
	StateReady
	StateTrapped
)

func (s State) String() string {
	switch s {
	case StateUnlinked:
		return "unlinked"
	case StateLinked:
		return "linked"
	case StateRunning:
		return "running"
	case StateReady:
		return "ready"
	case StateTrapped:
		return "trapped"
	}
	return "unknown"
}

// Instance is an instantiated module living in a store.
//
// Instance is not safe for concurrent use; it shares its store's rules.
type Instance struct {
	id      uuid.UUID
	art     *artifact.Artifact
	store   *store.Store
	vm      *vm.Instance
	logger  *zap.Logger
	metrics *metrics.Metrics
	state   State
	depth   int
}

// Instantiate links a against r, allocates its memories, tables, globals
// and functions in s, initializes its segments and runs its start
// function.
//
// Link failures and segment traps leave s as it was. When the start
// function traps, the instance is returned in the Trapped state together
// with the RuntimeError; its allocations stay in s.
func Instantiate(ctx context.Context, e *engine.Engine, a *artifact.Artifact, s *store.Store, r linker.Resolver) (inst *Instance, err error) {
	inst = &Instance{
		id:      uuid.New(),
		art:     a,
		store:   s,
		metrics: e.Metrics(),
	}
	inst.logger = Logger().With(
		zap.Stringer("instance", inst.id),
		zap.Stringer("store", s.ID()),
		zap.String("module", a.Name()))
	mt := inst.metrics
	defer func() {
		mt.Instantiations.WithLabelValues(metrics.Result(err)).Inc()
	}()

	externs, err := linker.Link(a, s, r)
	if err != nil {
		return nil, err
	}
	inst.state = StateLinked

	mark := s.Checkpoint()
	inst.vm, err = build(a, s, e.Tunables(), externs)
	if err != nil {
		s.Rollback(mark)
		return nil, err
	}
	if err := initSegments(a.Module(), inst.vm); err != nil {
		s.Rollback(mark)
		inst.trapped(err)
		return nil, err
	}

	if start := a.Module().Start; start != nil {
		inst.logger.Debug("running start function", zap.Uint32("func", *start))
		if _, err := inst.call(ctx, inst.vm.Funcs[*start], nil); err != nil {
			return inst, err
		}
	}
	inst.state = StateReady
	inst.logger.Debug("instantiated",
		zap.Int("imports", len(externs)),
		zap.Int("functions", len(inst.vm.Funcs)),
		zap.Int("memories", len(inst.vm.Memories)))
	return inst, nil
}

// ID identifies the instance in logs.
func (i *Instance) ID() uuid.UUID { return i.id }

func (i *Instance) Name() string { return i.art.Name() }

func (i *Instance) State() State { return i.state }

func (i *Instance) Artifact() *artifact.Artifact { return i.art }

func (i *Instance) Store() *store.Store { return i.store }

// Exports lists the instance's exports in declaration order.
func (i *Instance) Exports() []types.ExportType { return i.art.Exports() }

// ExportedFunction returns the named function export, or nil.
func (i *Instance) ExportedFunction(name string) *store.Function {
	return i.vm.ExportedFunction(name)
}

func (i *Instance) ExportedMemory(name string) *store.Memory {
	return i.vm.ExportedMemory(name)
}

func (i *Instance) ExportedGlobal(name string) *store.Global {
	return i.vm.ExportedGlobal(name)
}

func (i *Instance) ExportedTable(name string) *store.Table {
	return i.vm.ExportedTable(name)
}

// Memory returns the instance's default memory, or nil.
func (i *Instance) Memory() *store.Memory { return i.vm.Memory() }

// Extern returns the named export of any kind.
func (i *Instance) Extern(name string) (store.Extern, bool) {
	ex, ok := i.vm.Exports[name]
	if !ok {
		return nil, false
	}
	switch ex.Kind {
	case types.ExternFunction:
		return i.vm.Funcs[ex.Index], true
	case types.ExternTable:
		return i.vm.Tables[ex.Index], true
	case types.ExternMemory:
		return i.vm.Memories[ex.Index], true
	case types.ExternGlobal:
		return i.vm.Globals[ex.Index], true
	}
	return nil, false
}

// Namespace returns the instance's exports for registration as another
// module's imports.
func (i *Instance) Namespace() linker.Namespace {
	ns := make(linker.Namespace, len(i.vm.Exports))
	for name := range i.vm.Exports {
		if e, ok := i.Extern(name); ok {
			ns[name] = e
		}
	}
	return ns
}

// Call invokes the named function export. A trap moves the instance to
// the Trapped state; later calls are still allowed and exports remain
// readable.
func (i *Instance) Call(ctx context.Context, name string, args ...types.Value) ([]types.Value, error) {
	f := i.vm.ExportedFunction(name)
	if f == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "function export", name)
	}
	return i.call(ctx, f, args)
}

func (i *Instance) call(ctx context.Context, f *store.Function, args []types.Value) ([]types.Value, error) {
	if i.state == StateUnlinked {
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidState).
			Detail("instance is %s", i.state).
			Build()
	}
	prev := i.state
	i.state = StateRunning
	i.depth++
	res, err := f.Call(ctx, args...)
	i.depth--
	i.metrics.Calls.Inc()

	if err != nil {
		if !i.trapped(err) {
			// argument errors reject the call before it starts
			i.state = prev
		}
		return nil, err
	}
	if i.depth == 0 {
		i.state = StateReady
	}
	return res, nil
}

// trapped records err if it is a trap and reports whether it was.
func (i *Instance) trapped(err error) bool {
	var rerr *errors.RuntimeError
	if !stderrors.As(err, &rerr) {
		return false
	}
	i.state = StateTrapped
	i.metrics.Traps.WithLabelValues(rerr.Trap.String()).Inc()
	fields := []zap.Field{zap.Stringer("trap", rerr.Trap)}
	if len(rerr.Frames) > 0 {
		frames := make([]string, len(rerr.Frames))
		for j, fr := range rerr.Frames {
			frames[j] = fr.String()
		}
		fields = append(fields, zap.Strings("frames", frames))
	}
	if rerr.Cause != nil {
		fields = append(fields, zap.NamedError("cause", rerr.Cause))
	}
	i.logger.Debug("trap", fields...)
	return true
}
