package runtime

import (
	"context"

	"github.com/wippyai/wasm-engine/artifact"
	"github.com/wippyai/wasm-engine/linker"
	"github.com/wippyai/wasm-engine/types"
)

// Module is an artifact loaded into a Runtime.
type Module struct {
	runtime  *Runtime
	artifact *artifact.Artifact
}

func (m *Module) Artifact() *artifact.Artifact { return m.artifact }

func (m *Module) Name() string { return m.artifact.Name() }

func (m *Module) Imports() []types.ImportType { return m.artifact.Imports() }

func (m *Module) Exports() []types.ExportType { return m.artifact.Exports() }

// Instantiate links the module against the runtime's imports.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	return m.InstantiateWith(ctx, nil)
}

// InstantiateWith consults r before the runtime's imports.
func (m *Module) InstantiateWith(ctx context.Context, r linker.Resolver) (*Instance, error) {
	var res linker.Resolver = m.runtime.imports
	if r != nil {
		res = linker.Chain(r, m.runtime.imports)
	}
	return Instantiate(ctx, m.runtime.engine, m.artifact, m.runtime.store, res)
}
