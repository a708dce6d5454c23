// Package engine compiles WebAssembly modules into artifacts and loads
// serialized artifacts.
//
// # Architecture
//
// An Engine is an immutable configuration: the compiler backend, the
// target, enabled features, the middleware chain and resource limits.
//
//	Engine.Compile      bytes -> *artifact.Artifact
//	Engine.Serialize    artifact -> bytes
//	Engine.Deserialize  bytes -> artifact, validated
//
// # Compilation
//
//  1. Optionally validate the binary with wazero (Config.StrictValidation)
//  2. Parse and structurally validate the module
//  3. Check memory and table minimums against the configured ceilings
//  4. Fork the middleware chain and transform the module, then every body
//  5. Compile the bodies with the backend, in parallel
//  6. Assemble the artifact with the engine header
//
// The same bytes with the same configuration always produce the same
// artifact, whatever the parallelism.
//
// # Compatibility
//
// Artifacts carry a header: target triple, backend name and version,
// feature set and required CPU features. Deserialize refuses artifacts
// whose header does not match the engine, before any code is decoded.
//
// # Tunables
//
// Tunables allocate the memories, tables and globals a module defines.
// BaseTunables reserves memory capacity up front (Static) or grows on
// demand (Dynamic), and clamps unbounded memories to the engine ceiling.
package engine
