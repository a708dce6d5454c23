package runtime

import (
	"context"

	"github.com/wippyai/wasm-engine/artifact"
	"github.com/wippyai/wasm-engine/engine"
	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/linker"
	"github.com/wippyai/wasm-engine/store"
)

// Runtime pairs an engine with one store and the host imports defined in
// it. It is the convenient way to load and run modules that share a
// store.
//
// Runtime is not safe for concurrent use.
type Runtime struct {
	engine  *engine.Engine
	store   *store.Store
	imports *linker.Imports
}

// New creates a runtime with a fresh store. The store's call depth limit
// comes from the engine configuration unless opts override it.
func New(e *engine.Engine, opts ...store.Option) *Runtime {
	opts = append([]store.Option{store.WithMaxCallDepth(e.Config().MaxCallDepth)}, opts...)
	return &Runtime{
		engine:  e,
		store:   store.New(opts...),
		imports: linker.NewImports(),
	}
}

func (r *Runtime) Engine() *engine.Engine { return r.engine }

func (r *Runtime) Store() *store.Store { return r.store }

// Imports returns the runtime's import object.
func (r *Runtime) Imports() *linker.Imports { return r.imports }

// Define binds an extern created in the runtime's store.
func (r *Runtime) Define(module, name string, e store.Extern) {
	r.imports.Define(module, name, e)
}

// RegisterFunc defines a Go function as module.name. See HostFunction for
// the accepted signatures.
func (r *Runtime) RegisterFunc(module, name string, fn any) error {
	if module == "" {
		return errors.InvalidInput(errors.PhaseHost, "module name cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, "function name cannot be empty")
	}
	ft, hf, err := HostFunction(fn)
	if err != nil {
		return errors.Wrap(errors.PhaseHost, errors.KindInvalidInput, err, module+"."+name)
	}
	r.imports.Define(module, name, store.NewHostFunction(r.store, ft, hf))
	return nil
}

// RegisterHost defines every function h provides under h.Namespace().
func (r *Runtime) RegisterHost(h Host) error {
	ns := h.Namespace()
	if ns == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}
	for name, fn := range hostFuncs(h) {
		if err := r.RegisterFunc(ns, name, fn); err != nil {
			return err
		}
	}
	return nil
}

// Load compiles wasmBytes with the runtime's engine.
func (r *Runtime) Load(ctx context.Context, wasmBytes []byte) (*Module, error) {
	a, err := r.engine.Compile(ctx, wasmBytes)
	if err != nil {
		return nil, err
	}
	return r.LoadArtifact(a), nil
}

// LoadArtifact wraps an already compiled or deserialized artifact.
func (r *Runtime) LoadArtifact(a *artifact.Artifact) *Module {
	return &Module{runtime: r, artifact: a}
}
