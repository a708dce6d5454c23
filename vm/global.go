package vm

import (
	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/types"
)

// Global is a global variable.
type Global struct {
	owner *Objects
	typ   types.GlobalType
	val   uint64
}

// NewGlobal creates a global holding init.
func NewGlobal(typ types.GlobalType, init types.Value) (*Global, error) {
	if init.Type() != typ.Type {
		return nil, errors.TypeMismatch(errors.PhaseRuntime, []string{"global"}, typ.Type.String(), init.Type().String())
	}
	return &Global{typ: typ, val: init.Raw()}, nil
}

// Owner returns the registry the global belongs to, or nil.
func (g *Global) Owner() *Objects { return g.owner }

func (g *Global) Type() types.GlobalType { return g.typ }

// Get returns the current value.
func (g *Global) Get() types.Value {
	return types.ValueFromRaw(g.typ.Type, g.val)
}

// Set replaces the value of a mutable global.
func (g *Global) Set(v types.Value) error {
	if !g.typ.Mutable {
		return errors.New(errors.PhaseRuntime, errors.KindImmutable).
			Path("global").
			Detail("cannot set immutable %s", g.typ).
			Build()
	}
	if v.Type() != g.typ.Type {
		return errors.TypeMismatch(errors.PhaseRuntime, []string{"global"}, g.typ.Type.String(), v.Type().String())
	}
	g.val = v.Raw()
	return nil
}

// Raw returns the value bits.
func (g *Global) Raw() uint64 { return g.val }

// SetRaw replaces the value bits without checks.
func (g *Global) SetRaw(v uint64) { g.val = v }
