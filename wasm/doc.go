// Package wasm parses, validates and encodes WebAssembly binary modules.
//
// The accepted feature set is the 1.0 core plus multi-value, sign
// extension, non-trapping float-to-int conversion, bulk memory and
// reference types. Encodings of other proposals are recognized so that
// they can be reported precisely: GC type forms fail with
// ErrUnsupportedType, and SIMD, atomic and exception-handling
// instructions decode to an Instruction for which IsUnsupported reports
// true.
//
// # Parsing
//
//	data, _ := os.ReadFile("module.wasm")
//	module, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// ParseModuleValidate also runs the structural checks of Validate.
// Function bodies are type-checked later by the compiler.
//
// # Encoding
//
//	encoded := module.Encode()
//
// Re-parsing an encoded module yields an equivalent Module.
//
// # Instructions
//
// InstructionReader decodes a function body one instruction at a time;
// each Instruction carries its byte offset from the start of the body.
//
//	ir := wasm.NewInstructionReader(body.Code)
//	for {
//	    instr, err := ir.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
//
// # Constant expressions
//
// Global initializers and segment offsets are kept as raw bytes.
// DecodeConstExpr turns them into a ConstExpr; I32Const and friends build
// them.
package wasm
