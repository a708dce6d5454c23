// Package vm implements the executable function format and the runtime
// objects that compiled code operates on.
//
// # Code Format
//
// A compiled function is a flat sequence of 16-byte instructions:
//
//	op u16 | flags u16 | a u32 | b u64    (little-endian)
//
// Opcodes below 0x100 are WebAssembly single-byte opcodes and execute with
// their standard semantics; A carries the immediate (local, global or table
// index, memory offset). 0xFC00|n is the 0xFC-prefixed instruction n.
// Opcodes from 0x1000 cover constants, branches, calls and fused forms.
//
// Backends produce a Program whose branches target Labels. Program.Assemble
// resolves labels into instruction indices, and NewCompiledFunction encodes
// the result with a source map giving the wasm body offset of every
// instruction.
//
// # Frames
//
// Parameters and locals occupy the first slots of a frame, followed by the
// operand stack. A call leaves its arguments in place as the callee's
// parameters and the callee's results replace them. A branch that leaves a
// block with extra operands carries FlagAdjust: B packs the frame slot and
// count of values to move down before jumping.
//
// # Objects
//
// Memories, tables, globals and functions belong to an Objects registry, one
// per store. Function and extern references are registry handles where zero
// is null, so tables and globals hold plain uint64 values.
//
// # Traps
//
// Invoke runs a function to completion. A trap aborts the whole call and is
// returned as *errors.RuntimeError with the wasm backtrace, innermost frame
// first. Cancelling the context traps with TrapInterrupted at the next
// function entry or backward branch.
package vm
