// Package compiler turns validated module bodies into vm code.
//
// Compilation of one module proceeds in stages:
//
//	ReadFunction        decode a body into an event stream
//	Chain.Transform*    run the middleware chain over the module and each body
//	FuncValidator       type-check the (transformed) events
//	Backend.Compile     lower the events into vm.CompiledFunction values
//
// Backends register themselves by name in init functions. The engine
// selects one with Lookup and imports the backend packages it ships with.
//
// Functions are independent once the module metadata is fixed, so backends
// compile them concurrently with CompileEach. Results are placed by index
// and the output does not depend on scheduling.
package compiler
