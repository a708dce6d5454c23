// Package runtime instantiates compiled modules and calls their exports.
//
// # Quick Start
//
//	e, err := engine.New(engine.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	rt := runtime.New(e)
//
//	// Host functions are plain Go functions
//	rt.RegisterFunc("env", "add", func(a, b int32) int32 { return a + b })
//
//	mod, err := rt.Load(ctx, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	inst, err := mod.Instantiate(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	results, err := inst.Call(ctx, "run")
//
// # Instantiation
//
// Instantiate links imports, then allocates memories, tables, functions
// and globals in the store through the engine's tunables. Element
// segments are written before data segments; an active segment that does
// not fit traps. A failed link or segment leaves the store unchanged. The
// start function runs last.
//
// # Lifecycle
//
//	Unlinked -> Linked -> Running (start) -> Ready
//	Ready -> Running (call) -> Ready
//	any -> Trapped
//
// A trapped instance accepts new calls. Memory written before the trap
// keeps its contents and exports stay readable.
//
// # Host Functions
//
// HostFunction maps Go signatures onto wasm ones:
//
//	Go Kind           Wasm Type
//	───────────────────────────
//	int32/uint32      i32
//	int64/uint64      i64
//	float32           f32
//	float64           f64
//
// A leading context.Context and *store.Caller are passed through. A
// trailing error result traps the caller. Host structs implementing Host
// register every exported method under their namespace.
//
// # Thread Safety
//
// Runtime, Module and Instance follow their store: none of them is safe
// for concurrent use. Use one store per goroutine.
package runtime
