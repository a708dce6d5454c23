// Package wasmengine is a WebAssembly execution engine: it compiles module
// binaries into serializable artifacts and runs them inside a store that
// owns every runtime object.
//
// # Architecture Overview
//
//	wasmengine/          Compile, Instantiate and Run for one-shot use
//	├── types/           value kinds, extern types, compatibility
//	├── wasm/            binary format decoding and encoding
//	├── compiler/        validation, middleware pipeline, backend registry
//	│   ├── singlepass/  fast reference backend
//	│   ├── optimizing/  backend with IR optimization passes
//	│   └── wazerocheck/ cross-validation with wazero
//	├── middleware/      metering, opcode deny lists, call counting
//	├── vm/              portable code format and interpreter
//	├── artifact/        compiled modules and their serialized form
//	├── engine/          configuration, targets, tunables, compilation
//	├── linker/          import resolution and type checks
//	├── store/           memories, tables, globals, functions
//	├── runtime/         instances, host functions, calls
//	├── cache/           in-memory and on-disk artifact cache
//	├── config/          configuration files and environment
//	└── errors/          error taxonomy
//
// # Quick Start
//
//	s := wasmengine.NewStore()
//	add, _ := store.NewHostFunction(s, addType, func(_ context.Context, _ *store.Caller, args []types.Value) ([]types.Value, error) {
//	    return []types.Value{types.ValueI32(args[0].I32() + args[1].I32())}, nil
//	})
//	imports := linker.NewImports()
//	imports.Define("env", "add", add)
//
//	res, err := wasmengine.Instantiate(ctx, wasmBytes, s, imports)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	out, err := res.Instance.Call(ctx, "run")
//
// Long-lived programs should create an engine.Engine and a runtime.Runtime
// instead, which register Go functions by reflection and reuse one store.
//
// # Errors
//
// Every failure is one of the types in package errors: CompileError,
// MiddlewareError, DeserializeError, SerializeError, LinkError,
// MemoryError or RuntimeError. Match them with errors.Is and errors.As.
package wasmengine
