package linker

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/types"
)

func linkError(kind errors.LinkErrorKind, index int, imp types.ImportType) *errors.LinkError {
	return &errors.LinkError{
		Kind:     kind,
		Module:   imp.Module,
		Name:     imp.Name,
		Index:    index,
		Expected: imp.Type.String(),
	}
}

func unknownImport(index int, imp types.ImportType) *errors.LinkError {
	return linkError(errors.LinkUnknownImport, index, imp)
}

func incompatibleType(index int, imp types.ImportType, actual types.ExternType) *errors.LinkError {
	e := linkError(errors.LinkIncompatibleType, index, imp)
	if actual != nil {
		e.Actual = actual.String()
	} else {
		e.Actual = "unknown extern"
	}
	return e
}

func wrongStore(index int, imp types.ImportType) *errors.LinkError {
	e := linkError(errors.LinkWrongStore, index, imp)
	e.Actual = "extern of another store"
	return e
}

func zapModule(m string) zap.Field   { return zap.String("module", m) }
func zapName(n string) zap.Field     { return zap.String("name", n) }
func zapResolved(m string) zap.Field { return zap.String("resolved", m) }
