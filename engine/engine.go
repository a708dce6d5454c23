package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasm-engine/artifact"
	"github.com/wippyai/wasm-engine/compiler"
	_ "github.com/wippyai/wasm-engine/compiler/optimizing" // registers the backend
	"github.com/wippyai/wasm-engine/compiler/wazerocheck"
	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/internal/metrics"
	"github.com/wippyai/wasm-engine/types"
	"github.com/wippyai/wasm-engine/wasm"
)

// Engine compiles modules into artifacts and loads serialized artifacts.
// It is immutable after New and safe for concurrent use.
type Engine struct {
	cfg       Config
	backend   compiler.Backend
	validator compiler.Validator
	tunables  Tunables
	header    artifact.Header
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// New creates an engine from cfg.
func New(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	backend, err := compiler.Lookup(cfg.Backend, compiler.BackendConfig{OptLevel: cfg.OptLevel})
	if err != nil {
		return nil, err
	}
	m, err := metrics.New(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	e := &Engine{
		cfg:      cfg,
		backend:  backend,
		tunables: cfg.Tunables,
		metrics:  m,
		header: artifact.Header{
			Triple:         cfg.Target.Triple,
			Backend:        backend.Name(),
			BackendVersion: backend.Version(),
			Features:       uint64(cfg.Features),
			CPUFeatures:    uint64(cfg.Target.CPUFeatures),
		},
	}
	if e.tunables == nil {
		e.tunables = NewTunables(cfg)
	}
	if cfg.StrictValidation {
		e.validator = wazerocheck.New(uint32(cfg.MaxMemoryPages))
	}
	e.logger = cfg.Logger.With(zap.String("backend", backend.Name()))
	e.logger.Debug("engine created", zap.Stringer("config", cfg))
	return e, nil
}

// Config returns the engine's configuration with defaults applied.
func (e *Engine) Config() Config { return e.cfg }

// Header returns the header artifacts compiled by e carry, and that
// artifacts must match to be loaded by e.
func (e *Engine) Header() artifact.Header { return e.header }

// loadHeader is the engine's header with the CPU features of the running
// machine, which must cover those an artifact requires.
func (e *Engine) loadHeader() artifact.Header {
	h := e.header
	h.CPUFeatures = uint64(HostTarget().CPUFeatures)
	return h
}

func (e *Engine) Tunables() Tunables { return e.tunables }

func (e *Engine) Logger() *zap.Logger { return e.logger }

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Compile validates and compiles a module binary:
// parse, structural validation, middleware transformation, function
// validation and code generation.
func (e *Engine) Compile(ctx context.Context, wasmBytes []byte) (*artifact.Artifact, error) {
	start := time.Now()
	a, funcs, err := e.compile(ctx, wasmBytes)
	elapsed := time.Since(start)
	e.metrics.ObserveCompile(e.backend.Name(), funcs, elapsed, err)
	if err != nil {
		e.logger.Debug("compile failed", zap.Error(err), zap.Duration("duration", elapsed))
		return nil, err
	}
	e.logger.Info("module compiled",
		zap.String("module", a.Name()),
		zap.Int("functions", funcs),
		zap.Duration("duration", elapsed))
	return a, nil
}

func (e *Engine) compile(ctx context.Context, wasmBytes []byte) (*artifact.Artifact, int, error) {
	if e.validator != nil {
		if err := e.validator.Validate(ctx, wasmBytes, e.cfg.Features); err != nil {
			return nil, 0, err
		}
	}
	m, err := wasm.ParseModule(wasmBytes)
	if err != nil {
		return nil, 0, errors.NewCompileError(errors.CompileValidation, "decoding module", err)
	}
	if err := m.Validate(); err != nil {
		return nil, 0, errors.NewCompileError(errors.CompileValidation, "validating module", err)
	}
	if err := e.checkLimits(m); err != nil {
		return nil, 0, err
	}

	chain := e.cfg.Middlewares.Fork()
	if err := chain.TransformModule(m); err != nil {
		return nil, 0, err
	}
	info := compiler.NewModuleInfo(m, e.cfg.Features)
	bodies, err := e.readBodies(ctx, info, chain)
	if err != nil {
		return nil, 0, err
	}

	fns, err := e.backend.Compile(ctx, &compiler.CompileInput{
		Module:      info,
		Bodies:      bodies,
		Features:    e.cfg.Features,
		Parallelism: e.cfg.Parallelism,
	})
	if err != nil {
		var ce *errors.CompileError
		if stderrors.As(err, &ce) && ce.Backend == "" {
			ce.Backend = e.backend.Name()
		}
		return nil, 0, err
	}
	a, err := artifact.New(e.header, m, fns, chain.Names())
	if err != nil {
		return nil, 0, err
	}
	return a, len(fns), nil
}

// readBodies decodes and transforms every function body concurrently.
func (e *Engine) readBodies(ctx context.Context, info *compiler.ModuleInfo, chain compiler.Chain) ([]*compiler.FunctionBody, error) {
	bodies := make([]*compiler.FunctionBody, info.NumLocalFuncs())
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.cfg.Parallelism)
	for i := range bodies {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fb, err := compiler.ReadFunction(info, uint32(i))
			if err != nil {
				return err
			}
			if err := chain.TransformFunction(fb); err != nil {
				return err
			}
			bodies[i] = fb
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return bodies, nil
}

// checkLimits rejects memories and tables the engine could never allocate.
func (e *Engine) checkLimits(m *wasm.Module) error {
	check := func(what string, err error) error {
		if err == nil {
			return nil
		}
		return errors.NewCompileError(errors.CompileResource, what, err)
	}
	memories := append([]wasm.MemoryType(nil), m.Memories...)
	for _, imp := range m.Imports {
		if imp.Desc.Kind == wasm.KindMemory {
			memories = append(memories, *imp.Desc.Memory)
		}
	}
	for _, mt := range memories {
		t, err := artifact.MemoryType(mt)
		if err != nil {
			return errors.NewCompileError(errors.CompileUnsupported, "memory type", err)
		}
		if t.Min > uint32(e.cfg.MaxMemoryPages) {
			return check("memory", fmt.Errorf("minimum %d pages exceeds the engine ceiling of %d", t.Min, e.cfg.MaxMemoryPages))
		}
		if err := t.Validate(uint32(types.MaxPages)); err != nil {
			return errors.NewCompileError(errors.CompileValidation, "memory type", err)
		}
	}
	for _, tt := range m.Tables {
		t, err := artifact.TableType(tt)
		if err != nil {
			return errors.NewCompileError(errors.CompileUnsupported, "table type", err)
		}
		if t.Min > e.cfg.MaxTableElements {
			return check("table", fmt.Errorf("minimum %d elements exceeds the engine ceiling of %d", t.Min, e.cfg.MaxTableElements))
		}
	}
	return nil
}

// Serialize encodes an artifact.
func (e *Engine) Serialize(a *artifact.Artifact) ([]byte, error) {
	return artifact.Serialize(a)
}

// Deserialize loads an artifact from untrusted bytes.
func (e *Engine) Deserialize(data []byte) (*artifact.Artifact, error) {
	return e.load("checked", data, artifact.Deserialize)
}

// DeserializeUnchecked loads an artifact from trusted bytes without
// validation. The artifact aliases data.
func (e *Engine) DeserializeUnchecked(data []byte) (*artifact.Artifact, error) {
	return e.load("unchecked", data, artifact.DeserializeUnchecked)
}

// DeserializeFile reads and loads an artifact with full validation.
func (e *Engine) DeserializeFile(path string) (*artifact.Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.DeserializeError{Reason: errors.DeserializeIO, Detail: path, Cause: err}
	}
	return e.Deserialize(data)
}

func (e *Engine) load(mode string, data []byte, fn func([]byte, artifact.Header) (*artifact.Artifact, error)) (*artifact.Artifact, error) {
	a, err := fn(data, e.loadHeader())
	e.metrics.Deserializations.WithLabelValues(mode, metrics.Result(err)).Inc()
	if err != nil {
		e.logger.Warn("artifact rejected", zap.String("mode", mode), zap.Error(err))
		return nil, err
	}
	return a, nil
}
