// Package types defines the WebAssembly type system used across the engine:
// value kinds, function/memory/table/global types, import and export
// descriptors, and the structural compatibility relation the linker uses to
// decide whether an entity may satisfy an import.
//
//	add := types.NewFunctionType([]types.Type{types.I32, types.I32}, []types.Type{types.I32})
//	ok := types.IsCompatible(declared, add)
package types
