package errors

import (
	"fmt"
	"strings"
)

// TrapCode identifies why executing code trapped.
type TrapCode uint8

const (
	TrapUnknown TrapCode = iota
	TrapUnreachable
	TrapMemoryOutOfBounds
	TrapTableOutOfBounds
	TrapIndirectCallTypeMismatch
	TrapUninitializedElement
	TrapIntegerOverflow
	TrapIntegerDivideByZero
	TrapInvalidConversion
	TrapStackOverflow
	TrapHost        // returned by a host function
	TrapInterrupted // the call's context was cancelled
)

var trapMessages = [...]string{
	TrapUnknown:                  "unknown trap",
	TrapUnreachable:              "unreachable",
	TrapMemoryOutOfBounds:        "out of bounds memory access",
	TrapTableOutOfBounds:         "out of bounds table access",
	TrapIndirectCallTypeMismatch: "indirect call type mismatch",
	TrapUninitializedElement:     "uninitialized element",
	TrapIntegerOverflow:          "integer overflow",
	TrapIntegerDivideByZero:      "integer divide by zero",
	TrapInvalidConversion:        "invalid conversion to integer",
	TrapStackOverflow:            "call stack exhausted",
	TrapHost:                     "host trap",
	TrapInterrupted:              "interrupted",
}

func (c TrapCode) String() string {
	if int(c) < len(trapMessages) {
		return trapMessages[c]
	}
	return fmt.Sprintf("trap(%d)", uint8(c))
}

// FrameInfo describes one frame of the wasm call stack at the time of a trap.
type FrameInfo struct {
	ModuleName string
	FuncName   string
	FuncIndex  uint32
	// FuncOffset is the byte offset of the trapping instruction from the
	// start of the function body; ModuleOffset is relative to the module binary.
	FuncOffset   uint32
	ModuleOffset uint32
}

func (f FrameInfo) String() string {
	name := f.FuncName
	if name == "" {
		name = fmt.Sprintf("<func %d>", f.FuncIndex)
	}
	if f.ModuleName != "" {
		name = f.ModuleName + "!" + name
	}
	return fmt.Sprintf("%s @ 0x%x", name, f.ModuleOffset)
}

// RuntimeError is a trap raised while executing code. It is fatal to the
// call in flight but not to the instance.
type RuntimeError struct {
	Cause   error // set for TrapHost
	Message string
	Frames  []FrameInfo
	Trap    TrapCode
}

// NewTrap creates a RuntimeError with the given code and no frames.
func NewTrap(code TrapCode) *RuntimeError {
	return &RuntimeError{Trap: code}
}

// UserTrap wraps a host error into a trap. Host functions return it (or any
// error) to abort the current call.
func UserTrap(err error) *RuntimeError {
	return &RuntimeError{Trap: TrapHost, Cause: err}
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString("[runtime] ")
	b.WriteString(e.Trap.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	if len(e.Frames) > 0 {
		b.WriteString("\nwasm backtrace:")
		for i, f := range e.Frames {
			fmt.Fprintf(&b, "\n  %d: %s", i, f.String())
		}
	}
	return b.String()
}

func (e *RuntimeError) Unwrap() error { return e.Cause }

// Is matches another *RuntimeError with the same trap code; TrapUnknown in
// the target matches any runtime error.
func (e *RuntimeError) Is(target error) bool {
	t, ok := target.(*RuntimeError)
	return ok && (t.Trap == TrapUnknown || t.Trap == e.Trap)
}
