package linker

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-engine/artifact"
	"github.com/wippyai/wasm-engine/store"
	"github.com/wippyai/wasm-engine/types"
)

// Link resolves every import of a against r, in declaration order. The
// result holds one extern per import. Link allocates nothing; on failure
// it returns the first LinkError and no externs.
func Link(a *artifact.Artifact, s *store.Store, r Resolver) ([]store.Extern, error) {
	imports := a.Imports()
	externs := make([]store.Extern, len(imports))
	for i, imp := range imports {
		e, err := resolveImport(i, imp, s, r)
		if err != nil {
			Logger().Debug("link failed", zap.Stringer("store", s.ID()), zap.Error(err))
			return nil, err
		}
		externs[i] = e
	}
	if len(imports) > 0 {
		Logger().Debug("linked imports",
			zap.String("module", a.Name()),
			zap.Stringer("store", s.ID()),
			zap.Int("imports", len(imports)))
	}
	return externs, nil
}

func resolveImport(i int, imp types.ImportType, s *store.Store, r Resolver) (store.Extern, error) {
	if r == nil {
		return nil, unknownImport(i, imp)
	}
	e, ok := r.Resolve(imp.Module, imp.Name)
	if !ok || e == nil {
		return nil, unknownImport(i, imp)
	}
	actual := store.ExternTypeOf(e)
	if actual == nil || actual.Kind() != imp.Type.Kind() || !types.IsCompatible(imp.Type, actual) {
		return nil, incompatibleType(i, imp, actual)
	}
	if !s.Owns(e) {
		return nil, wrongStore(i, imp)
	}
	return e, nil
}
