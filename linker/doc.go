// Package linker resolves a module's imports against runtime objects.
//
// # Main Types
//
//   - Resolver: maps (module, name) to an extern
//   - NamedResolverChain: tries resolvers in order, first hit wins
//   - Imports: namespaced resolver built with Define and Register
//
// # Import Resolution
//
// Link walks an artifact's imports in declaration order. Each import must
// resolve, belong to the instantiating store, and have a compatible type.
// The first failure aborts with a LinkError before anything is allocated.
//
// # Versioned Namespaces
//
// Module names may carry a version suffix ("env@1.2.0"). A request for a
// versioned module that has no exact registration falls back to the
// highest compatible version registered under the same base name.
//
// # Thread Safety
//
// Imports and NamedResolverChain are safe for concurrent use. The externs
// they return belong to a Store and follow its rules.
//
// # Example
//
//	imports := linker.NewImports()
//	imports.Define("env", "add", store.NewHostFunction(s, addType, add))
//	externs, err := linker.Link(art, s, imports)
package linker
