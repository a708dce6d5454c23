package compiler

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/vm"
)

// OptLevel selects how much work a backend spends improving code.
type OptLevel uint8

const (
	OptNone OptLevel = iota
	OptSpeed
	OptSpeedAndSize
)

func (l OptLevel) String() string {
	switch l {
	case OptNone:
		return "none"
	case OptSpeed:
		return "speed"
	case OptSpeedAndSize:
		return "speed_and_size"
	}
	return fmt.Sprintf("OptLevel(%d)", uint8(l))
}

// ParseOptLevel parses the names produced by OptLevel.String.
func ParseOptLevel(s string) (OptLevel, bool) {
	for l := OptNone; l <= OptSpeedAndSize; l++ {
		if l.String() == s {
			return l, true
		}
	}
	return 0, false
}

// BackendConfig is passed to backend factories.
type BackendConfig struct {
	OptLevel OptLevel
}

// CompileInput is everything a backend needs to compile a module's functions.
type CompileInput struct {
	Module      *ModuleInfo
	Bodies      []*FunctionBody // module-defined functions in index order
	Features    Features
	Parallelism int // zero uses GOMAXPROCS
}

// Backend translates validated function bodies into executable code.
// Compile returns one function per body, in the same order. Backends must be
// deterministic: identical input yields identical code.
type Backend interface {
	Name() string
	// Version identifies the code the backend produces. Artifacts are only
	// loaded by a backend reporting the same version.
	Version() string
	Compile(ctx context.Context, in *CompileInput) ([]*vm.CompiledFunction, error)
}

// Validator checks a whole module binary independently of the engine's own
// validation.
type Validator interface {
	Name() string
	Validate(ctx context.Context, wasmBytes []byte, features Features) error
}

// Factory creates a backend.
type Factory func(BackendConfig) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend available by name. It panics on duplicates.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("compiler: backend registered twice: " + name)
	}
	registry[name] = f
}

// Lookup creates the named backend.
func Lookup(name string, cfg BackendConfig) (Backend, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.New(errors.PhaseCompile, errors.KindNotFound).
			Path("backend", name).
			Detail("no backend named %q (available: %v)", name, Names()).
			Build()
	}
	return f(cfg)
}

// Names lists registered backends in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CompileEach runs fn for every body on a bounded worker group and places
// results by index, so the output does not depend on scheduling. The first
// error cancels remaining work.
func CompileEach(ctx context.Context, in *CompileInput, fn func(ctx context.Context, fb *FunctionBody) (*vm.CompiledFunction, error)) ([]*vm.CompiledFunction, error) {
	out := make([]*vm.CompiledFunction, len(in.Bodies))
	limit := in.Parallelism
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, fb := range in.Bodies {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cf, err := fn(ctx, fb)
			if err != nil {
				return err
			}
			out[i] = cf
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
