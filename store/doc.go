// Package store owns the runtime objects of WebAssembly instances.
//
// A Store holds every Memory, Table, Global and Function created in it,
// together with host state (FunctionEnv) and host values referenced through
// externref. Instances and imports refer to objects by handle; mixing
// objects of different stores is rejected at link time.
//
// Failed instantiations release what they allocated with Checkpoint and
// Rollback, so a store never retains objects of an instance that did not
// come into existence.
//
// # Host Functions
//
//	add := store.NewHostFunction(s, types.NewFunctionType(
//		[]types.Type{types.I32, types.I32}, []types.Type{types.I32}),
//		func(ctx context.Context, c *store.Caller, args []types.Value) ([]types.Value, error) {
//			return []types.Value{types.ValueI32(args[0].I32() + args[1].I32())}, nil
//		})
//
// Returning an error from a host function traps the calling wasm code with
// TrapHost; the error is available as the trap's cause.
package store
