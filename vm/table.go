package vm

import (
	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/types"
)

// Table is a growable vector of references. Elements are store handles;
// zero is the null reference.
type Table struct {
	owner *Objects
	elems []uint64
	typ   types.TableType
	max   uint32
}

// NewTable allocates typ.Min elements set to init. ceiling bounds the size
// when the type has no maximum, or a larger one.
func NewTable(typ types.TableType, ceiling uint32, init uint64) (*Table, error) {
	if typ.HasMax && typ.Min > typ.Max {
		return nil, &errors.MemoryError{Kind: errors.MemoryInvalidLimits, Resource: "table", Attempted: uint64(typ.Min), Max: uint64(typ.Max)}
	}
	if typ.Min > ceiling {
		return nil, &errors.MemoryError{Kind: errors.MemoryCeilingReached, Resource: "table", Attempted: uint64(typ.Min), Max: uint64(ceiling)}
	}
	maxElems := ceiling
	if typ.HasMax && typ.Max < maxElems {
		maxElems = typ.Max
	}
	t := &Table{elems: make([]uint64, typ.Min), typ: typ, max: maxElems}
	if init != 0 {
		for i := range t.elems {
			t.elems[i] = init
		}
	}
	return t, nil
}

// Owner returns the registry the table belongs to, or nil.
func (t *Table) Owner() *Objects { return t.owner }

// Type returns the table type with the current size as minimum.
func (t *Table) Type() types.TableType {
	tt := t.typ
	tt.Min = t.Size()
	return tt
}

// Size returns the number of elements.
func (t *Table) Size() uint32 { return uint32(len(t.elems)) }

// Grow appends delta elements set to init and returns the previous size.
// On failure the table is unchanged.
func (t *Table) Grow(delta uint32, init uint64) (uint32, error) {
	old := t.Size()
	next := uint64(old) + uint64(delta)
	if next > uint64(t.max) {
		return old, &errors.MemoryError{
			Kind:      errors.MemoryCouldNotGrow,
			Resource:  "table",
			Current:   uint64(old),
			Attempted: next,
			Max:       uint64(t.max),
		}
	}
	for i := uint32(0); i < delta; i++ {
		t.elems = append(t.elems, init)
	}
	return old, nil
}

// Element returns the raw handle at i.
func (t *Table) Element(i uint32) (uint64, bool) {
	if i >= t.Size() {
		return 0, false
	}
	return t.elems[i], true
}

// SetElement stores a raw handle at i.
func (t *Table) SetElement(i uint32, h uint64) bool {
	if i >= t.Size() {
		return false
	}
	t.elems[i] = h
	return true
}

// Get returns element i as a reference value.
func (t *Table) Get(i uint32) (types.Value, error) {
	h, ok := t.Element(i)
	if !ok {
		return types.Value{}, errors.OutOfBounds(errors.PhaseRuntime, []string{"table"}, int(i), int(t.Size()))
	}
	return types.ValueFromRaw(t.typ.Element, h), nil
}

// Set stores a reference value at i.
func (t *Table) Set(i uint32, v types.Value) error {
	if v.Type() != t.typ.Element {
		return errors.TypeMismatch(errors.PhaseRuntime, []string{"table"}, t.typ.Element.String(), v.Type().String())
	}
	if !t.SetElement(i, v.Raw()) {
		return errors.OutOfBounds(errors.PhaseRuntime, []string{"table"}, int(i), int(t.Size()))
	}
	return nil
}
