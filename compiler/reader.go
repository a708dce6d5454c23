package compiler

import (
	stderrors "errors"
	"fmt"
	"io"

	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/wasm"
)

// MaxLocals bounds the number of locals, parameters included, a function
// may declare.
const MaxLocals = 50000

// Event is one instruction of a function body together with its offset
// from the start of the body code.
type Event = wasm.Instruction

// FunctionBody is a decoded function body.
type FunctionBody struct {
	Type       *wasm.FuncType
	Locals     []wasm.ValType // declared locals, excluding parameters
	Events     []Event
	Index      uint32 // in the function index space
	LocalIndex uint32 // among module-defined functions
	Offset     uint32 // of the body code in the module binary
}

// ReadFunction decodes the body of module-defined function localIndex into
// an event stream. Decoding stops after an instruction of an unsupported
// proposal, leaving it as the last event for the validator to reject.
func ReadFunction(info *ModuleInfo, localIndex uint32) (*FunctionBody, error) {
	m := info.Module
	if int(localIndex) >= len(m.Code) {
		return nil, errors.NewCompileError(errors.CompileValidation,
			fmt.Sprintf("function %d has no body", localIndex), nil)
	}
	body := &m.Code[localIndex]
	index := uint32(info.NumImported) + localIndex
	fb := &FunctionBody{
		Type:       info.FuncTypes[index],
		Index:      index,
		LocalIndex: localIndex,
		Offset:     body.Offset,
	}

	total := uint64(len(fb.Type.Params)) + body.NumLocals()
	if total > MaxLocals {
		return nil, errors.FuncCompileError(errors.CompileResource, int(index), -1,
			fmt.Sprintf("%d locals exceed the limit of %d", total, MaxLocals))
	}
	fb.Locals = make([]wasm.ValType, 0, body.NumLocals())
	for _, l := range body.Locals {
		for range l.Count {
			fb.Locals = append(fb.Locals, l.ValType)
		}
	}

	ir := wasm.NewInstructionReader(body.Code)
	fb.Events = make([]Event, 0, len(body.Code)/2)
	for {
		ev, err := ir.Next()
		if stderrors.Is(err, io.EOF) || stderrors.Is(err, wasm.ErrUnsupportedEncoding) {
			break
		}
		if err != nil {
			return nil, &errors.CompileError{
				Kind:      errors.CompileValidation,
				FuncIndex: int(index),
				Offset:    -1,
				Detail:    "malformed function body",
				Cause:     err,
			}
		}
		fb.Events = append(fb.Events, ev)
	}
	return fb, nil
}

// NumLocals returns the number of parameters and declared locals.
func (fb *FunctionBody) NumLocals() int {
	return len(fb.Type.Params) + len(fb.Locals)
}

// LocalType returns the type of local i, parameters first.
func (fb *FunctionBody) LocalType(i uint32) (wasm.ValType, bool) {
	np := uint32(len(fb.Type.Params))
	switch {
	case i < np:
		return fb.Type.Params[i], true
	case int(i-np) < len(fb.Locals):
		return fb.Locals[i-np], true
	}
	return 0, false
}
