// Package singlepass is the baseline compiler backend. It validates and
// lowers each function in one pass over its instructions, without
// optimization.
package singlepass

import (
	"context"

	"github.com/wippyai/wasm-engine/compiler"
	"github.com/wippyai/wasm-engine/vm"
)

// Name is the registry name of this backend.
const Name = "singlepass"

// version changes whenever the produced code changes.
const version = "singlepass/1"

func init() {
	compiler.Register(Name, func(compiler.BackendConfig) (compiler.Backend, error) {
		return New(), nil
	})
}

// Backend compiles functions with Lower.
type Backend struct{}

// New returns the single-pass backend.
func New() *Backend { return &Backend{} }

func (*Backend) Name() string    { return Name }
func (*Backend) Version() string { return version }

// Compile lowers every body of in concurrently.
func (*Backend) Compile(ctx context.Context, in *compiler.CompileInput) ([]*vm.CompiledFunction, error) {
	return compiler.CompileEach(ctx, in, func(_ context.Context, fb *compiler.FunctionBody) (*vm.CompiledFunction, error) {
		l, err := Lower(in.Module, fb)
		if err != nil {
			return nil, err
		}
		return l.Finish()
	})
}
