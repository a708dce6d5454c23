package wasmengine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-engine/artifact"
	"github.com/wippyai/wasm-engine/engine"
	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/linker"
	"github.com/wippyai/wasm-engine/runtime"
	"github.com/wippyai/wasm-engine/store"
	"github.com/wippyai/wasm-engine/types"
)

// MainExport is the function Run invokes.
const MainExport = "main"

var defaultEngine = sync.OnceValues(func() (*engine.Engine, error) {
	return engine.New(engine.Config{})
})

// DefaultEngine returns the engine used by Compile and Instantiate, built
// from the zero Config on first use.
func DefaultEngine() (*engine.Engine, error) { return defaultEngine() }

// Compile compiles a module binary with the default engine.
func Compile(ctx context.Context, wasmBytes []byte) (*artifact.Artifact, error) {
	e, err := defaultEngine()
	if err != nil {
		return nil, err
	}
	return e.Compile(ctx, wasmBytes)
}

// CompileWithConfig compiles a module binary with an engine built from cfg.
func CompileWithConfig(ctx context.Context, wasmBytes []byte, cfg engine.Config) (*artifact.Artifact, error) {
	e, err := engine.New(cfg)
	if err != nil {
		return nil, err
	}
	return e.Compile(ctx, wasmBytes)
}

// Result pairs a compiled module with one instance of it.
type Result struct {
	Artifact *artifact.Artifact
	Instance *runtime.Instance
}

// Instantiate compiles wasmBytes with the default engine and instantiates
// it in s, resolving imports through r. Externs offered by r must belong
// to s. A nil s gets a fresh store, which only suits modules without
// imports.
func Instantiate(ctx context.Context, wasmBytes []byte, s *store.Store, r linker.Resolver) (*Result, error) {
	e, err := defaultEngine()
	if err != nil {
		return nil, err
	}
	Logger().Debug("compiling module", zap.Int("size", len(wasmBytes)))
	a, err := e.Compile(ctx, wasmBytes)
	if err != nil {
		return nil, err
	}
	if s == nil {
		s = NewStore()
	}
	Logger().Debug("instantiating", zap.String("module", a.Name()))
	inst, err := runtime.Instantiate(ctx, e, a, s, r)
	if err != nil {
		return nil, err
	}
	return &Result{Artifact: a, Instance: inst}, nil
}

// NewStore returns a store sized for the default engine.
func NewStore() *store.Store {
	depth := 0
	if e, err := defaultEngine(); err == nil {
		depth = e.Config().MaxCallDepth
	}
	return store.New(store.WithMaxCallDepth(depth))
}

// Run calls the instance's main export with args converted to its
// parameter types and returns its results.
func Run(ctx context.Context, inst *runtime.Instance, args ...string) ([]types.Value, error) {
	f := inst.ExportedFunction(MainExport)
	if f == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "export", MainExport)
	}
	vals, err := ParseArgs(f.Type(), args)
	if err != nil {
		return nil, err
	}
	return inst.Call(ctx, MainExport, vals...)
}

// ParseArgs converts command-line arguments to the parameters of ft.
func ParseArgs(ft *types.FunctionType, args []string) ([]types.Value, error) {
	params := ft.Params()
	if len(args) != len(params) {
		return nil, errors.InvalidInput(errors.PhaseRuntime,
			fmt.Sprintf("%s takes %d arguments, got %d", ft, len(params), len(args)))
	}
	vals := make([]types.Value, len(args))
	for i, arg := range args {
		v, err := types.ParseValue(params[i], arg)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err,
				fmt.Sprintf("argument %d", i))
		}
		vals[i] = v
	}
	return vals, nil
}
