// Package errors provides the error taxonomy of the wasm engine.
//
// Every failure the pipeline can report has its own type:
//
//	CompileError      validation or backend lowering failed
//	MiddlewareError   a middleware stage rejected a function body
//	DeserializeError  an artifact could not be loaded
//	SerializeError    an artifact is internally inconsistent
//	LinkError         an import was missing or had an incompatible type
//	MemoryError       a memory or table could not grow or be allocated
//	RuntimeError      executing code trapped
//
// All of them implement Unwrap and match by kind with errors.Is:
//
//	if errors.Is(err, errors.ErrUnknownImport) { ... }
//	if errors.Is(err, &errors.RuntimeError{Trap: errors.TrapUnreachable}) { ... }
//
// The general Error type with its Builder covers API misuse and other
// conditions outside that taxonomy:
//
//	err := errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
//		Path("run").
//		Detail("expected %d arguments, got %d", 2, 1).
//		Build()
package errors
