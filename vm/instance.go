package vm

import (
	"context"
	"fmt"
	"strconv"

	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/types"
	"github.com/wippyai/wasm-engine/wasm"
)

// HostFunc implements a function provided by the embedder. Returning an
// error traps the calling wasm code.
type HostFunc func(ctx context.Context, caller *Caller, args []types.Value) ([]types.Value, error)

// Function is a wasm or host function.
type Function struct {
	owner  *Objects
	typ    *types.FunctionType
	inst   *Instance
	code   *CompiledFunction
	host   HostFunc
	index  uint32
	handle uint64
}

// NewHostFunction wraps fn as a function of type ft.
func NewHostFunction(ft *types.FunctionType, fn HostFunc) *Function {
	return &Function{typ: ft, host: fn}
}

// NewWasmFunction binds compiled code to the instance defining it. index
// is the function's position in the module's function index space.
func NewWasmFunction(inst *Instance, index uint32, ft *types.FunctionType, code *CompiledFunction) *Function {
	return &Function{typ: ft, inst: inst, code: code, index: index}
}

func (f *Function) Type() *types.FunctionType { return f.typ }

// Owner returns the registry the function belongs to, or nil.
func (f *Function) Owner() *Objects { return f.owner }

// Handle returns the function's reference handle, zero when unregistered.
func (f *Function) Handle() uint64 { return f.handle }

func (f *Function) IsHost() bool { return f.host != nil }

// Index returns the position in the defining module's function index space.
func (f *Function) Index() uint32 { return f.index }

// Instance returns the defining instance, nil for host functions.
func (f *Function) Instance() *Instance { return f.inst }

// Call invokes the function with typed arguments.
func (f *Function) Call(ctx context.Context, args ...types.Value) ([]types.Value, error) {
	if len(args) != f.typ.NumParams() {
		return nil, errors.InvalidInput(errors.PhaseRuntime, fmt.Sprintf("expected %d arguments, got %d", f.typ.NumParams(), len(args)))
	}
	raw := make([]uint64, len(args))
	for i, a := range args {
		if want := f.typ.Param(i); a.Type() != want {
			return nil, errors.TypeMismatch(errors.PhaseRuntime, []string{"argument", strconv.Itoa(i)}, want.String(), a.Type().String())
		}
		raw[i] = a.Raw()
	}
	res, err := Invoke(ctx, f, raw)
	if err != nil {
		return nil, err
	}
	out := make([]types.Value, len(res))
	for i, r := range res {
		out[i] = types.ValueFromRaw(f.typ.Result(i), r)
	}
	return out, nil
}

// Export locates an export in an instance's index spaces.
type Export struct {
	Kind  types.ExternKind
	Index uint32
}

// Instance is the runtime state of one instantiated module: its index
// spaces, including imported entities, and its remaining segments.
type Instance struct {
	Name     string
	Types    []*types.FunctionType
	Funcs    []*Function
	Tables   []*Table
	Memories []*Memory
	Globals  []*Global
	Datas    [][]byte   // nil once dropped
	Elems    [][]uint64 // resolved handles, nil once dropped
	Exports  map[string]Export
	Names    *wasm.NameSection
	Objects  *Objects
}

// Memory returns the instance's memory or nil.
func (inst *Instance) Memory() *Memory {
	if inst == nil || len(inst.Memories) == 0 {
		return nil
	}
	return inst.Memories[0]
}

// ExportedFunction looks up a function export.
func (inst *Instance) ExportedFunction(name string) *Function {
	e, ok := inst.Exports[name]
	if !ok || e.Kind != types.ExternFunction {
		return nil
	}
	return inst.Funcs[e.Index]
}

// ExportedMemory looks up a memory export.
func (inst *Instance) ExportedMemory(name string) *Memory {
	e, ok := inst.Exports[name]
	if !ok || e.Kind != types.ExternMemory {
		return nil
	}
	return inst.Memories[e.Index]
}

// ExportedGlobal looks up a global export.
func (inst *Instance) ExportedGlobal(name string) *Global {
	e, ok := inst.Exports[name]
	if !ok || e.Kind != types.ExternGlobal {
		return nil
	}
	return inst.Globals[e.Index]
}

// ExportedTable looks up a table export.
func (inst *Instance) ExportedTable(name string) *Table {
	e, ok := inst.Exports[name]
	if !ok || e.Kind != types.ExternTable {
		return nil
	}
	return inst.Tables[e.Index]
}

// Caller gives a host function access to the instance that called it.
type Caller struct {
	inst    *Instance
	objects *Objects
}

// Instance returns the calling instance, nil when the host function was
// invoked directly by the embedder.
func (c *Caller) Instance() *Instance { return c.inst }

// Memory returns the calling instance's memory, or nil.
func (c *Caller) Memory() *Memory {
	if c.inst == nil {
		return nil
	}
	return c.inst.Memory()
}

// Objects returns the registry of the store the call runs in.
func (c *Caller) Objects() *Objects { return c.objects }
