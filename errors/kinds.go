package errors

import (
	"fmt"
	"strings"
)

// CompileErrorKind categorizes a CompileError.
type CompileErrorKind string

const (
	CompileValidation  CompileErrorKind = "validation"  // module failed decoding or validation
	CompileUnsupported CompileErrorKind = "unsupported" // valid input the backend cannot lower
	CompileCodegen     CompileErrorKind = "codegen"     // backend failed to emit code
	CompileResource    CompileErrorKind = "resource"    // an implementation limit was exceeded
)

// CompileError reports a module that cannot be compiled by the selected
// backend. It is permanent for a (module, backend) pair.
type CompileError struct {
	Cause     error
	Kind      CompileErrorKind
	Backend   string
	Detail    string
	FuncIndex int // -1 for module-level failures
	Offset    int // byte offset within the function body, -1 when unknown
}

// NewCompileError creates a module-level compile error.
func NewCompileError(kind CompileErrorKind, detail string, cause error) *CompileError {
	return &CompileError{Kind: kind, Detail: detail, Cause: cause, FuncIndex: -1, Offset: -1}
}

// FuncCompileError creates a compile error attributed to a function.
func FuncCompileError(kind CompileErrorKind, funcIndex, offset int, detail string) *CompileError {
	return &CompileError{Kind: kind, Detail: detail, FuncIndex: funcIndex, Offset: offset}
}

func (e *CompileError) Error() string {
	var b strings.Builder
	b.WriteString("[compile] ")
	b.WriteString(string(e.Kind))
	if e.Backend != "" {
		b.WriteString(" (backend ")
		b.WriteString(e.Backend)
		b.WriteByte(')')
	}
	if e.FuncIndex >= 0 {
		fmt.Fprintf(&b, " in function %d", e.FuncIndex)
		if e.Offset >= 0 {
			fmt.Fprintf(&b, " at offset %d", e.Offset)
		}
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

func (e *CompileError) Unwrap() error { return e.Cause }

// Is matches another *CompileError with the same kind; an empty target
// kind matches any compile error.
func (e *CompileError) Is(target error) bool {
	t, ok := target.(*CompileError)
	return ok && (t.Kind == "" || t.Kind == e.Kind)
}

// MiddlewareError reports a failure in a middleware stage.
type MiddlewareError struct {
	Cause      error
	Middleware string
	Message    string
	FuncIndex  int
}

func (e *MiddlewareError) Error() string {
	var b strings.Builder
	b.WriteString("[middleware] ")
	if e.Middleware != "" {
		b.WriteString(e.Middleware)
		b.WriteString(" ")
	}
	fmt.Fprintf(&b, "failed in function %d", e.FuncIndex)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

func (e *MiddlewareError) Unwrap() error { return e.Cause }

func (e *MiddlewareError) Is(target error) bool {
	_, ok := target.(*MiddlewareError)
	return ok
}

// DeserializeReason categorizes a DeserializeError.
type DeserializeReason string

const (
	DeserializeCorrupt      DeserializeReason = "corrupt"      // malformed or truncated bytes
	DeserializeVersion      DeserializeReason = "version"      // unknown format version
	DeserializeIncompatible DeserializeReason = "incompatible" // header does not match the loading engine
	DeserializeIO           DeserializeReason = "io"           // reading the bytes failed
)

// DeserializeError reports an artifact that cannot be loaded. The byte
// buffer is unusable; the caller must recompile from the source module.
type DeserializeError struct {
	Cause  error
	Reason DeserializeReason
	Detail string
}

func (e *DeserializeError) Error() string {
	var b strings.Builder
	b.WriteString("[deserialize] ")
	b.WriteString(string(e.Reason))
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

func (e *DeserializeError) Unwrap() error { return e.Cause }

func (e *DeserializeError) Is(target error) bool {
	t, ok := target.(*DeserializeError)
	return ok && (t.Reason == "" || t.Reason == e.Reason)
}

// SerializeError reports an internally inconsistent artifact.
type SerializeError struct {
	Cause  error
	Detail string
}

func (e *SerializeError) Error() string {
	if e.Cause != nil {
		return "[serialize] " + e.Detail + " (caused by: " + e.Cause.Error() + ")"
	}
	return "[serialize] " + e.Detail
}

func (e *SerializeError) Unwrap() error { return e.Cause }

func (e *SerializeError) Is(target error) bool {
	_, ok := target.(*SerializeError)
	return ok
}

// LinkErrorKind categorizes a LinkError.
type LinkErrorKind string

const (
	LinkUnknownImport    LinkErrorKind = "unknown_import"
	LinkIncompatibleType LinkErrorKind = "incompatible_type"
	LinkWrongStore       LinkErrorKind = "wrong_store"
	LinkResource         LinkErrorKind = "resource" // allocating a runtime object failed
)

// LinkError reports an import that could not be satisfied.
type LinkError struct {
	Cause    error
	Kind     LinkErrorKind
	Module   string
	Name     string
	Expected string
	Actual   string
	Index    int // position in the import sequence
}

func (e *LinkError) Error() string {
	var b strings.Builder
	b.WriteString("[linking] ")
	b.WriteString(string(e.Kind))
	if e.Module != "" || e.Name != "" {
		fmt.Fprintf(&b, " %s.%s", e.Module, e.Name)
	}
	if e.Index >= 0 {
		fmt.Fprintf(&b, " (import %d)", e.Index)
	}
	if e.Expected != "" || e.Actual != "" {
		fmt.Fprintf(&b, ": expected %s, got %s", e.Expected, e.Actual)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

func (e *LinkError) Unwrap() error { return e.Cause }

func (e *LinkError) Is(target error) bool {
	t, ok := target.(*LinkError)
	return ok && (t.Kind == "" || t.Kind == e.Kind)
}

// MemoryErrorKind categorizes a MemoryError.
type MemoryErrorKind string

const (
	MemoryCouldNotGrow   MemoryErrorKind = "could_not_grow"
	MemoryInvalidLimits  MemoryErrorKind = "invalid_limits"  // minimum above maximum
	MemoryCeilingReached MemoryErrorKind = "ceiling_reached" // type exceeds the engine ceiling
	MemoryAllocation     MemoryErrorKind = "allocation"
)

// MemoryError reports a failed growth or allocation of a memory or table.
// The object it refers to is left unchanged.
type MemoryError struct {
	Kind      MemoryErrorKind
	Resource  string // "memory" or "table"
	Current   uint64
	Attempted uint64
	Max       uint64
}

func (e *MemoryError) Error() string {
	resource := e.Resource
	if resource == "" {
		resource = "memory"
	}
	switch e.Kind {
	case MemoryCouldNotGrow:
		return fmt.Sprintf("[memory] %s could not grow from %d to %d (max %d)", resource, e.Current, e.Attempted, e.Max)
	case MemoryInvalidLimits:
		return fmt.Sprintf("[memory] %s minimum %d exceeds maximum %d", resource, e.Attempted, e.Max)
	case MemoryCeilingReached:
		return fmt.Sprintf("[memory] %s size %d exceeds engine ceiling %d", resource, e.Attempted, e.Max)
	default:
		return fmt.Sprintf("[memory] %s %s", resource, e.Kind)
	}
}

func (e *MemoryError) Is(target error) bool {
	t, ok := target.(*MemoryError)
	return ok && (t.Kind == "" || t.Kind == e.Kind)
}

// Sentinels for errors.Is matching by kind.
var (
	ErrCompile          = &CompileError{}
	ErrUnsupported      = &CompileError{Kind: CompileUnsupported}
	ErrValidation       = &CompileError{Kind: CompileValidation}
	ErrMiddleware       = &MiddlewareError{}
	ErrDeserialize      = &DeserializeError{}
	ErrIncompatible     = &DeserializeError{Reason: DeserializeIncompatible}
	ErrSerialize        = &SerializeError{}
	ErrLink             = &LinkError{}
	ErrUnknownImport    = &LinkError{Kind: LinkUnknownImport}
	ErrIncompatibleType = &LinkError{Kind: LinkIncompatibleType}
	ErrMemory           = &MemoryError{}
	ErrCouldNotGrow     = &MemoryError{Kind: MemoryCouldNotGrow}
	ErrRuntime          = &RuntimeError{}
)
