package artifact

import (
	"fmt"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/types"
	"github.com/wippyai/wasm-engine/vm"
	"github.com/wippyai/wasm-engine/wasm"
)

// Header identifies the engine configuration an artifact was compiled for.
// An artifact only loads into an engine with an equal header, except that
// the loading host may support more CPU features than were required.
type Header struct {
	Triple         string
	Backend        string
	BackendVersion string
	Features       uint64
	CPUFeatures    uint64
}

func (h Header) String() string {
	return fmt.Sprintf("%s %s (%s) features=0x%x cpu=0x%x", h.Triple, h.Backend, h.BackendVersion, h.Features, h.CPUFeatures)
}

// Check reports whether an artifact with header h may run on an engine
// described by host.
func (h Header) Check(host Header) error {
	var mismatch []string
	if h.Triple != host.Triple {
		mismatch = append(mismatch, fmt.Sprintf("target %s, engine %s", h.Triple, host.Triple))
	}
	if h.Backend != host.Backend || h.BackendVersion != host.BackendVersion {
		mismatch = append(mismatch, fmt.Sprintf("backend %s, engine %s", h.BackendVersion, host.BackendVersion))
	}
	if h.Features != host.Features {
		mismatch = append(mismatch, fmt.Sprintf("features 0x%x, engine 0x%x", h.Features, host.Features))
	}
	if missing := h.CPUFeatures &^ host.CPUFeatures; missing != 0 {
		mismatch = append(mismatch, fmt.Sprintf("missing cpu features 0x%x", missing))
	}
	if len(mismatch) == 0 {
		return nil
	}
	return &errors.DeserializeError{
		Reason: errors.DeserializeIncompatible,
		Detail: strings.Join(mismatch, "; "),
	}
}

// Artifact is a compiled module: the module metadata needed to instantiate
// it and the code of every module-defined function. It is immutable once
// built and may be instantiated any number of times.
type Artifact struct {
	Header      Header
	Middlewares []string

	module    *wasm.Module
	functions []*vm.CompiledFunction
	types     []*types.FunctionType
	imports   []types.ImportType
	exports   []types.ExportType

	digestOnce sync.Once
	digest     digest.Digest
	digestErr  error
}

// stubBody replaces function bodies in artifact metadata; the compiled code
// is authoritative.
var stubBody = []byte{wasm.OpUnreachable, wasm.OpEnd}

// New assembles an artifact from a compiled module. m must be the module as
// transformed by the middleware chain; its function bodies are not kept.
func New(h Header, m *wasm.Module, functions []*vm.CompiledFunction, middlewares []string) (*Artifact, error) {
	if len(functions) != len(m.Funcs) {
		return nil, &errors.SerializeError{Detail: fmt.Sprintf("%d compiled functions for %d declared", len(functions), len(m.Funcs))}
	}
	meta := *m
	meta.CustomSections = nil
	meta.Code = make([]wasm.FuncBody, len(m.Code))
	for i := range m.Code {
		meta.Code[i] = wasm.FuncBody{Code: stubBody, Offset: m.Code[i].Offset}
	}
	return newArtifact(h, &meta, functions, middlewares)
}

func newArtifact(h Header, m *wasm.Module, functions []*vm.CompiledFunction, middlewares []string) (*Artifact, error) {
	fts, imports, exports, err := describe(m)
	if err != nil {
		return nil, &errors.SerializeError{Detail: "describing module", Cause: err}
	}
	return &Artifact{
		Header:      h,
		Middlewares: middlewares,
		module:      m,
		functions:   functions,
		types:       fts,
		imports:     imports,
		exports:     exports,
	}, nil
}

// Name returns the module name from the name section, or "".
func (a *Artifact) Name() string {
	if a.module.Names == nil {
		return ""
	}
	return a.module.Names.ModuleName
}

// Module returns the module metadata. Function bodies are placeholders.
// The result must not be modified.
func (a *Artifact) Module() *wasm.Module { return a.module }

// Functions returns the compiled code by local function index.
func (a *Artifact) Functions() []*vm.CompiledFunction { return a.functions }

// Types returns the module's signatures by type index.
func (a *Artifact) Types() []*types.FunctionType { return a.types }

// Imports returns the imports in declaration order.
func (a *Artifact) Imports() []types.ImportType { return a.imports }

// Exports returns the exports in declaration order.
func (a *Artifact) Exports() []types.ExportType { return a.exports }

// FuncName returns the debug name of function idx, or "".
func (a *Artifact) FuncName(idx uint32) string { return a.module.Names.FuncName(idx) }

// Bounds returns the index space sizes of the module.
func (a *Artifact) Bounds() vm.Bounds {
	m := a.module
	return vm.Bounds{
		Funcs:    uint32(m.NumFuncs()),
		Types:    uint32(len(m.Types)),
		Tables:   uint32(m.NumTables()),
		Memories: uint32(m.NumMemories()),
		Globals:  uint32(m.NumGlobals()),
		Datas:    uint32(len(m.Data)),
		Elems:    uint32(len(m.Elements)),
	}
}

// Digest returns the content digest of the serialized artifact.
func (a *Artifact) Digest() (digest.Digest, error) {
	a.digestOnce.Do(func() {
		var b []byte
		b, a.digestErr = Serialize(a)
		if a.digestErr == nil {
			a.digest = digest.FromBytes(b)
		}
	})
	return a.digest, a.digestErr
}
