// Package optimizing is a backend that lowers functions like singlepass and
// then rewrites the code with local optimization passes.
package optimizing

import (
	"context"

	"github.com/wippyai/wasm-engine/compiler"
	"github.com/wippyai/wasm-engine/compiler/singlepass"
	"github.com/wippyai/wasm-engine/vm"
)

// Name is the registry name of this backend.
const Name = "optimizing"

func init() {
	compiler.Register(Name, func(cfg compiler.BackendConfig) (compiler.Backend, error) {
		return New(cfg.OptLevel), nil
	})
}

// Backend compiles with singlepass lowering followed by Optimize.
type Backend struct {
	level compiler.OptLevel
}

// New returns an optimizing backend at the given level.
func New(level compiler.OptLevel) *Backend { return &Backend{level: level} }

func (b *Backend) Name() string { return Name }

// Version includes the optimization level: code produced at different
// levels differs.
func (b *Backend) Version() string { return "optimizing/1/" + b.level.String() }

func (b *Backend) Compile(ctx context.Context, in *compiler.CompileInput) ([]*vm.CompiledFunction, error) {
	return compiler.CompileEach(ctx, in, func(_ context.Context, fb *compiler.FunctionBody) (*vm.CompiledFunction, error) {
		l, err := singlepass.Lower(in.Module, fb)
		if err != nil {
			return nil, err
		}
		Optimize(&l.Program, b.level)
		return l.Finish()
	})
}
