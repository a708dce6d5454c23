package middleware

import (
	"fmt"
	"sync"

	"github.com/wippyai/wasm-engine/compiler"
	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/store"
	"github.com/wippyai/wasm-engine/types"
	"github.com/wippyai/wasm-engine/wasm"
)

// Export names of the metering globals.
const (
	RemainingPointsExport = "wasmer_metering_remaining_points"
	PointsExhaustedExport = "wasmer_metering_points_exhausted"
)

// CostFunc returns the gas charged for executing one instruction.
type CostFunc func(ev compiler.Event) uint64

// UniformCost charges the same amount for every instruction.
func UniformCost(c uint64) CostFunc {
	return func(compiler.Event) uint64 { return c }
}

// Metering injects gas accounting into every function. Each basic block is
// charged its accumulated cost before control leaves it; when the remaining
// points do not cover the charge, the exhausted flag is set and execution
// traps with unreachable.
type Metering struct {
	initial uint64
	cost    CostFunc

	mu        sync.Mutex
	remaining uint32 // global index
	exhausted uint32
	bound     bool
}

// NewMetering returns a metering middleware starting every instance with
// initialLimit points.
func NewMetering(initialLimit uint64, cost CostFunc) *Metering {
	if cost == nil {
		cost = UniformCost(1)
	}
	return &Metering{initial: initialLimit, cost: cost}
}

func (*Metering) Name() string { return "metering" }

// Fork returns an unbound copy with the same limit and cost function.
func (m *Metering) Fork() compiler.ModuleMiddleware {
	return NewMetering(m.initial, m.cost)
}

// TransformModuleInfo adds the two metering globals and exports them.
func (m *Metering) TransformModuleInfo(mod *wasm.Module) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bound {
		return fmt.Errorf("already bound to a module; fork it for each compilation")
	}
	for _, e := range mod.Exports {
		if e.Name == RemainingPointsExport || e.Name == PointsExhaustedExport {
			return fmt.Errorf("module already exports %q", e.Name)
		}
	}
	m.remaining = mod.AddGlobal(wasm.Global{
		Type: wasm.GlobalType{ValType: wasm.ValI64, Mutable: true},
		Init: wasm.I64Const(int64(m.initial)),
	})
	m.exhausted = mod.AddGlobal(wasm.Global{
		Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
		Init: wasm.I32Const(0),
	})
	mod.Exports = append(mod.Exports,
		wasm.Export{Name: RemainingPointsExport, Kind: wasm.KindGlobal, Idx: m.remaining},
		wasm.Export{Name: PointsExhaustedExport, Kind: wasm.KindGlobal, Idx: m.exhausted})
	m.bound = true
	return nil
}

func (m *Metering) GenerateFunctionMiddleware(uint32) compiler.FunctionMiddleware {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &functionMetering{
		cost:      m.cost,
		remaining: m.remaining,
		exhausted: m.exhausted,
	}
}

type functionMetering struct {
	cost        CostFunc
	accumulated uint64
	remaining   uint32
	exhausted   uint32
}

// endsBlock reports whether control may leave the current basic block at op.
func endsBlock(op byte) bool {
	switch op {
	case wasm.OpLoop, wasm.OpEnd, wasm.OpIf, wasm.OpElse,
		wasm.OpBr, wasm.OpBrIf, wasm.OpBrTable,
		wasm.OpCall, wasm.OpCallIndirect, wasm.OpReturn, wasm.OpUnreachable:
		return true
	}
	return false
}

func (f *functionMetering) Feed(ev compiler.Event, s *compiler.MiddlewareReaderState) error {
	f.accumulated += f.cost(ev)
	if endsBlock(ev.Opcode) && f.accumulated > 0 {
		s.PushAll(f.charge(ev.Offset)...)
		f.accumulated = 0
	}
	s.Push(ev)
	return nil
}

func (f *functionMetering) charge(offset uint32) []compiler.Event {
	ev := func(op byte, imm any) compiler.Event {
		return compiler.Event{Opcode: op, Imm: imm, Offset: offset}
	}
	remaining := wasm.GlobalImm{GlobalIdx: f.remaining}
	cost := wasm.I64Imm{Value: int64(f.accumulated)}
	return []compiler.Event{
		ev(wasm.OpGlobalGet, remaining),
		ev(wasm.OpI64Const, cost),
		ev(wasm.OpI64LtU, nil),
		ev(wasm.OpIf, wasm.BlockImm{Type: wasm.BlockTypeVoid}),
		ev(wasm.OpI32Const, wasm.I32Imm{Value: 1}),
		ev(wasm.OpGlobalSet, wasm.GlobalImm{GlobalIdx: f.exhausted}),
		ev(wasm.OpUnreachable, nil),
		ev(wasm.OpEnd, nil),
		ev(wasm.OpGlobalGet, remaining),
		ev(wasm.OpI64Const, cost),
		ev(wasm.OpI64Sub, nil),
		ev(wasm.OpGlobalSet, remaining),
	}
}

// GlobalExporter is an instance exposing its exported globals.
type GlobalExporter interface {
	ExportedGlobal(name string) *store.Global
}

// Points is the metering state of an instance.
type Points struct {
	Remaining uint64
	Exhausted bool
}

// GetRemainingPoints reads the metering globals of an instance compiled
// with Metering.
func GetRemainingPoints(inst GlobalExporter) (Points, error) {
	remaining, exhausted, err := meteringGlobals(inst)
	if err != nil {
		return Points{}, err
	}
	if exhausted.Get().I32() != 0 {
		return Points{Exhausted: true}, nil
	}
	return Points{Remaining: remaining.Get().Raw()}, nil
}

// SetRemainingPoints resets the instance's points and clears the exhausted
// flag.
func SetRemainingPoints(inst GlobalExporter, points uint64) error {
	remaining, exhausted, err := meteringGlobals(inst)
	if err != nil {
		return err
	}
	if err := remaining.Set(types.ValueI64(int64(points))); err != nil {
		return err
	}
	return exhausted.Set(types.ValueI32(0))
}

func meteringGlobals(inst GlobalExporter) (remaining, exhausted *store.Global, err error) {
	remaining = inst.ExportedGlobal(RemainingPointsExport)
	exhausted = inst.ExportedGlobal(PointsExhaustedExport)
	if remaining == nil || exhausted == nil {
		return nil, nil, errors.NotFound(errors.PhaseRuntime, "global", RemainingPointsExport)
	}
	return remaining, exhausted, nil
}
