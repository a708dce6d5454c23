package engine

import (
	"fmt"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-engine/compiler"
	"github.com/wippyai/wasm-engine/compiler/singlepass"
	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/types"
	"github.com/wippyai/wasm-engine/vm"
)

// Config configures an Engine. Zero fields take the defaults documented on
// each field. The engine keeps a copy; later changes have no effect.
type Config struct {
	// Backend names a registered compiler backend. Default "singlepass".
	Backend  string
	OptLevel compiler.OptLevel
	// Target defaults to the host.
	Target Target
	// Features defaults to compiler.DefaultFeatures.
	Features compiler.Features
	// Middlewares transform every module before code generation.
	Middlewares compiler.Chain

	// MaxMemoryPages is the ceiling for any memory. Default types.MaxPages.
	MaxMemoryPages   types.Pages
	MaxTableElements uint32
	// MaxCallDepth bounds nested calls. Default 10000.
	MaxCallDepth int
	// Parallelism bounds concurrent function compilation. Default
	// GOMAXPROCS.
	Parallelism int
	MemoryStyle MemoryStyle
	StaticBound types.Pages
	// Tunables overrides the allocation policy derived from the fields
	// above.
	Tunables Tunables

	// StrictValidation additionally validates modules with wazero.
	StrictValidation bool

	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.Backend == "" {
		c.Backend = singlepass.Name
	}
	if c.Target.Triple == "" {
		host := HostTarget()
		c.Target.Triple = host.Triple
		if c.Target.CPUFeatures == 0 {
			c.Target.CPUFeatures = host.CPUFeatures
		}
	}
	if c.Features == 0 {
		c.Features = compiler.DefaultFeatures
	}
	if c.MaxMemoryPages == 0 {
		c.MaxMemoryPages = types.MaxPages
	}
	if c.MaxTableElements == 0 {
		c.MaxTableElements = types.MaxTableElements
	}
	if c.MaxCallDepth == 0 {
		c.MaxCallDepth = vm.DefaultMaxCallDepth
	}
	if c.Parallelism == 0 {
		c.Parallelism = runtime.GOMAXPROCS(0)
	}
	if c.StaticBound == 0 {
		c.StaticBound = DefaultStaticBound
	}
	if c.Logger == nil {
		c.Logger = Logger()
	}
	return c
}

func (c Config) validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).Detail(format, args...).Build()
	}
	switch {
	case c.MaxMemoryPages > types.MaxPages:
		return invalid("max memory pages %d exceeds %d", c.MaxMemoryPages, types.MaxPages)
	case c.MaxCallDepth < 0:
		return invalid("negative max call depth %d", c.MaxCallDepth)
	case c.Parallelism < 0:
		return invalid("negative parallelism %d", c.Parallelism)
	case c.OptLevel > compiler.OptSpeedAndSize:
		return invalid("unknown optimization level %d", c.OptLevel)
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("backend=%s opt=%s target=%s cpu=%s features=%s",
		c.Backend, c.OptLevel, c.Target.Triple, c.Target.CPUFeatures, c.Features)
}
