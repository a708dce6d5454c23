package runtime_test

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	dto "github.com/prometheus/client_model/go"

	"github.com/wippyai/wasm-engine/engine"
	"github.com/wippyai/wasm-engine/errors"
	. "github.com/wippyai/wasm-engine/internal/wasmtest"
	"github.com/wippyai/wasm-engine/runtime"
	"github.com/wippyai/wasm-engine/store"
	"github.com/wippyai/wasm-engine/types"
	"github.com/wippyai/wasm-engine/wasm"
)

func newRuntime(t *testing.T, cfg engine.Config) *runtime.Runtime {
	t.Helper()
	e, err := engine.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return runtime.New(e)
}

func instantiate(t *testing.T, rt *runtime.Runtime, b *Builder) *runtime.Instance {
	t.Helper()
	mod, err := rt.Load(context.Background(), b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	inst, err := mod.Instantiate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return inst
}

func call(t *testing.T, inst *runtime.Instance, name string, args ...types.Value) []types.Value {
	t.Helper()
	res, err := inst.Call(context.Background(), name, args...)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return res
}

func trapOf(err error) errors.TrapCode {
	var rerr *errors.RuntimeError
	if !stderrors.As(err, &rerr) {
		return errors.TrapUnknown
	}
	return rerr.Trap
}

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func TestInstantiate_EnvAdd(t *testing.T) {
	rt := newRuntime(t, engine.Config{})
	if err := rt.RegisterFunc("env", "add", func(a, b int32) int32 { return a + b }); err != nil {
		t.Fatal(err)
	}
	inst := instantiate(t, rt, AddBuilder())
	if inst.State() != runtime.StateReady {
		t.Errorf("state = %s, want ready", inst.State())
	}
	res := call(t, inst, "run")
	if len(res) != 1 || res[0].I32() != 5 {
		t.Fatalf("run() = %v, want [5]", res)
	}
	if inst.State() != runtime.StateReady {
		t.Errorf("state after call = %s, want ready", inst.State())
	}
}

func TestCall_TrapIsolation(t *testing.T) {
	one := uint64(1)
	b := New()
	b.Memory(1, &one)
	put := b.Func(Types(I32, I32), nil, nil, LocalGet(0), LocalGet(1), Store(wasm.OpI32Store, 0))
	get := b.Func(Types(I32), Types(I32), nil, LocalGet(0), Load(wasm.OpI32Load, 0))
	b.ExportFunc("put", put)
	b.ExportFunc("get", get)

	rt := newRuntime(t, engine.Config{})
	inst := instantiate(t, rt, b)
	traps := rt.Engine().Metrics().Traps.WithLabelValues(errors.TrapMemoryOutOfBounds.String())
	before := counterValue(t, traps)

	_, err := inst.Call(context.Background(), "put", types.ValueI32(65533), types.ValueI32(-1))
	if trapOf(err) != errors.TrapMemoryOutOfBounds {
		t.Fatalf("got %v, want memory out of bounds", err)
	}
	if inst.State() != runtime.StateTrapped {
		t.Errorf("state = %s, want trapped", inst.State())
	}
	if got := counterValue(t, traps) - before; got != 1 {
		t.Errorf("trap counter moved by %v, want 1", got)
	}

	mem := inst.ExportedMemory("memory")
	if mem == nil {
		t.Fatal("memory export not readable after trap")
	}
	if mem.Size() != 1 {
		t.Errorf("memory size = %d pages, want 1", mem.Size())
	}
	tail, _ := mem.Read(65532, 4)
	if diff := cmp.Diff([]byte{0, 0, 0, 0}, tail); diff != "" {
		t.Errorf("trapping store wrote memory (-want +got):\n%s", diff)
	}

	call(t, inst, "put", types.ValueI32(8), types.ValueI32(7))
	if res := call(t, inst, "get", types.ValueI32(8)); res[0].I32() != 7 {
		t.Errorf("get(8) = %d, want 7", res[0].I32())
	}
	if inst.State() != runtime.StateReady {
		t.Errorf("state after fresh call = %s, want ready", inst.State())
	}
}

func TestInstantiate_LinkFailureLeavesStore(t *testing.T) {
	b := AddBuilder()
	b.Memory(1, nil)
	b.Global(I32, true, wasm.I32Const(1))
	b.Table(FuncRef, 2, nil)

	rt := newRuntime(t, engine.Config{})
	mod, err := rt.Load(context.Background(), b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	failed := rt.Engine().Metrics().Instantiations.WithLabelValues("error")
	failedBefore := counterValue(t, failed)
	before := rt.Store().Stats()
	inst, err := mod.Instantiate(context.Background())
	if !stderrors.Is(err, errors.ErrUnknownImport) {
		t.Fatalf("got %v, want unknown import", err)
	}
	if inst != nil {
		t.Error("instance returned alongside a link error")
	}
	if got := counterValue(t, failed) - failedBefore; got != 1 {
		t.Errorf("failed instantiations counted %v times, want 1", got)
	}
	if diff := cmp.Diff(before, rt.Store().Stats()); diff != "" {
		t.Errorf("store changed (-before +after):\n%s", diff)
	}
}

func TestInstantiate_SegmentTrapRollsBack(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *Builder)
		trap  errors.TrapCode
	}{
		{
			name: "data past the end",
			build: func(b *Builder) {
				b.Memory(1, nil)
				b.Data(65535, []byte{1, 2})
			},
			trap: errors.TrapMemoryOutOfBounds,
		},
		{
			name: "element past the end",
			build: func(b *Builder) {
				f := b.Func(nil, nil, nil)
				b.Table(FuncRef, 1, nil)
				b.Elem(1, f)
			},
			trap: errors.TrapTableOutOfBounds,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New()
			tt.build(b)
			rt := newRuntime(t, engine.Config{})
			mod, err := rt.Load(context.Background(), b.Bytes())
			if err != nil {
				t.Fatal(err)
			}
			before := rt.Store().Stats()
			_, err = mod.Instantiate(context.Background())
			if trapOf(err) != tt.trap {
				t.Fatalf("got %v, want %s", err, tt.trap)
			}
			if diff := cmp.Diff(before, rt.Store().Stats()); diff != "" {
				t.Errorf("store changed (-before +after):\n%s", diff)
			}
		})
	}
}

// A module whose data segment does not fit must not leave its functions in
// a table it imported; the registry slots it would have used get reused.
func TestInstantiate_SegmentTrapLeavesImportedTable(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, engine.Config{})

	owner := New()
	owner.Table(FuncRef, 2, nil)
	owner.Export("tab", wasm.KindTable, 0)
	typ := owner.Type(nil, Types(I32))
	dispatch := owner.Func(Types(I32), Types(I32), nil, LocalGet(0), CallIndirect(typ, 0))
	owner.ExportFunc("dispatch", dispatch)
	shared := instantiate(t, rt, owner)
	rt.Define("shared", "tab", shared.ExportedTable("tab"))

	broken := New()
	broken.ImportTable("shared", "tab", FuncRef, 2)
	one := broken.Func(nil, Types(I32), nil, I32Const(1))
	broken.Elem(0, one)
	broken.Memory(1, nil)
	broken.Data(65535, []byte{1, 2})
	mod, err := rt.Load(ctx, broken.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	before := rt.Store().Stats()
	if _, err := mod.Instantiate(ctx); trapOf(err) != errors.TrapMemoryOutOfBounds {
		t.Fatalf("got %v, want memory out of bounds", err)
	}
	if diff := cmp.Diff(before, rt.Store().Stats()); diff != "" {
		t.Errorf("store changed (-before +after):\n%s", diff)
	}

	_, err = shared.Call(ctx, "dispatch", types.ValueI32(0))
	if trapOf(err) != errors.TrapUninitializedElement {
		t.Fatalf("dispatch(0) after failed init: got %v, want uninitialized element", err)
	}

	next := New()
	next.Func(nil, Types(I32), nil, I32Const(7))
	next.ExportFunc("seven", 0)
	instantiate(t, rt, next)
	_, err = shared.Call(ctx, "dispatch", types.ValueI32(0))
	if trapOf(err) != errors.TrapUninitializedElement {
		t.Errorf("dispatch(0) after reuse: got %v, want uninitialized element", err)
	}
}

func TestInstantiate_Segments(t *testing.T) {
	b := New()
	b.Memory(1, nil)
	b.Data(16, []byte("hello"))
	answer := b.Func(nil, Types(I32), nil, I32Const(42))
	b.Table(FuncRef, 2, nil)
	b.Elem(1, answer)
	typ := b.Type(nil, Types(I32))
	dispatch := b.Func(Types(I32), Types(I32), nil, LocalGet(0), CallIndirect(typ, 0))
	b.ExportFunc("dispatch", dispatch)

	inst := instantiate(t, newRuntime(t, engine.Config{}), b)
	if got, _ := inst.Memory().Read(16, 5); string(got) != "hello" {
		t.Errorf("data segment = %q, want hello", got)
	}
	if res := call(t, inst, "dispatch", types.ValueI32(1)); res[0].I32() != 42 {
		t.Errorf("dispatch(1) = %d, want 42", res[0].I32())
	}
	_, err := inst.Call(context.Background(), "dispatch", types.ValueI32(0))
	if trapOf(err) != errors.TrapUninitializedElement {
		t.Errorf("dispatch(0): got %v, want uninitialized element", err)
	}
	_, err = inst.Call(context.Background(), "dispatch", types.ValueI32(2))
	if trapOf(err) != errors.TrapTableOutOfBounds {
		t.Errorf("dispatch(2): got %v, want table out of bounds", err)
	}
}

func TestInstantiate_Globals(t *testing.T) {
	b := New()
	base := b.ImportGlobal("env", "base", I64, false)
	derived := b.Global(I64, false, wasm.EncodeConstExpr(wasm.ConstExpr{Kind: wasm.ConstGlobalGet, Index: base}))
	b.Export("derived", wasm.KindGlobal, derived)

	rt := newRuntime(t, engine.Config{})
	g, err := store.NewGlobal(rt.Store(), types.GlobalType{Type: types.I64}, types.ValueI64(-9))
	if err != nil {
		t.Fatal(err)
	}
	rt.Define("env", "base", g)
	inst := instantiate(t, rt, b)
	got := inst.ExportedGlobal("derived")
	if got == nil || got.Get().I64() != -9 {
		t.Fatalf("derived = %v, want -9", got)
	}
	if err := got.Set(types.ValueI64(1)); err == nil {
		t.Error("Set on an immutable global succeeded")
	}
}

func TestInstantiate_StartTrap(t *testing.T) {
	b := New()
	start := b.Func(nil, nil, nil, Op(wasm.OpUnreachable))
	ok := b.Func(nil, Types(I32), nil, I32Const(1))
	b.Start(start)
	b.ExportFunc("ok", ok)

	rt := newRuntime(t, engine.Config{})
	mod, err := rt.Load(context.Background(), b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	inst, err := mod.Instantiate(context.Background())
	if trapOf(err) != errors.TrapUnreachable {
		t.Fatalf("got %v, want unreachable", err)
	}
	if inst == nil || inst.State() != runtime.StateTrapped {
		t.Fatal("start trap did not return a trapped instance")
	}
	if res := call(t, inst, "ok"); res[0].I32() != 1 {
		t.Errorf("ok() = %d", res[0].I32())
	}
}

func TestCall_Traps(t *testing.T) {
	errDenied := stderrors.New("denied")
	tests := []struct {
		name  string
		cfg   engine.Config
		build func(b *Builder)
		ctx   func() context.Context
		trap  errors.TrapCode
	}{
		{
			name: "host error",
			build: func(b *Builder) {
				deny := b.ImportFunc("host", "deny", nil, nil)
				b.ExportFunc("f", b.Func(nil, nil, nil, Call(deny)))
			},
			trap: errors.TrapHost,
		},
		{
			name: "recursion",
			cfg:  engine.Config{MaxCallDepth: 64},
			build: func(b *Builder) {
				b.ExportFunc("f", b.Func(nil, nil, nil, Call(0)))
			},
			trap: errors.TrapStackOverflow,
		},
		{
			name: "cancelled loop",
			build: func(b *Builder) {
				b.ExportFunc("f", b.Func(nil, nil, nil, Loop(wasm.BlockTypeVoid), Br(0), End()))
			},
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			trap: errors.TrapInterrupted,
		},
		{
			name: "divide by zero",
			build: func(b *Builder) {
				b.ExportFunc("f", b.Func(nil, nil, nil, I32Const(1), I32Const(0), Op(wasm.OpI32DivU), Drop()))
			},
			trap: errors.TrapIntegerDivideByZero,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newRuntime(t, tt.cfg)
			if err := rt.RegisterFunc("host", "deny", func() error { return errDenied }); err != nil {
				t.Fatal(err)
			}
			b := New()
			tt.build(b)
			inst := instantiate(t, rt, b)
			ctx := context.Background()
			if tt.ctx != nil {
				ctx = tt.ctx()
			}
			_, err := inst.Call(ctx, "f")
			if trapOf(err) != tt.trap {
				t.Fatalf("got %v, want %s", err, tt.trap)
			}
			if tt.trap == errors.TrapHost && !stderrors.Is(err, errDenied) {
				t.Errorf("host error not wrapped: %v", err)
			}
			if inst.State() != runtime.StateTrapped {
				t.Errorf("state = %s, want trapped", inst.State())
			}
		})
	}
}

func TestCall_Errors(t *testing.T) {
	rt := newRuntime(t, engine.Config{})
	b := New()
	b.ExportFunc("id", b.Func(Types(I32), Types(I32), nil, LocalGet(0)))
	inst := instantiate(t, rt, b)

	if _, err := inst.Call(context.Background(), "missing"); err == nil {
		t.Error("call of a missing export succeeded")
	}
	if _, err := inst.Call(context.Background(), "id", types.ValueI64(1)); err == nil {
		t.Error("call with a mistyped argument succeeded")
	}
	if inst.State() != runtime.StateReady {
		t.Errorf("rejected calls changed state to %s", inst.State())
	}
}

type mathHost struct{ calls int }

func (*mathHost) Namespace() string { return "math" }

func (h *mathHost) AddInts(a, b int32) int32 {
	h.calls++
	return a + b
}

func TestRuntime_RegisterHost(t *testing.T) {
	rt := newRuntime(t, engine.Config{})
	h := &mathHost{}
	if err := rt.RegisterHost(h); err != nil {
		t.Fatal(err)
	}
	b := New()
	add := b.ImportFunc("math", "add-ints", Types(I32, I32), Types(I32))
	b.ExportFunc("run", b.Func(nil, Types(I32), nil, I32Const(20), I32Const(22), Call(add)))
	inst := instantiate(t, rt, b)
	if res := call(t, inst, "run"); res[0].I32() != 42 {
		t.Errorf("run() = %d, want 42", res[0].I32())
	}
	if h.calls != 1 {
		t.Errorf("host called %d times, want 1", h.calls)
	}
}

func TestInstance_Namespace(t *testing.T) {
	rt := newRuntime(t, engine.Config{})

	lib := New()
	lib.Memory(1, nil)
	lib.ExportFunc("double", lib.Func(Types(I32), Types(I32), nil, LocalGet(0), LocalGet(0), Op(wasm.OpI32Add)))
	libInst := instantiate(t, rt, lib)
	rt.Imports().Register("lib", libInst.Namespace())

	app := New()
	double := app.ImportFunc("lib", "double", Types(I32), Types(I32))
	app.ImportMemory("lib", "memory", 1, nil)
	app.ExportFunc("run", app.Func(nil, Types(I32), nil,
		I32Const(0), I32Const(21), Call(double), Store(wasm.OpI32Store, 0),
		I32Const(0), Load(wasm.OpI32Load, 0)))
	appInst := instantiate(t, rt, app)

	if res := call(t, appInst, "run"); res[0].I32() != 42 {
		t.Errorf("run() = %d, want 42", res[0].I32())
	}
	if v, _ := libInst.Memory().ReadUint32Le(0); v != 42 {
		t.Errorf("shared memory holds %d, want 42", v)
	}
}
