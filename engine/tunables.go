package engine

import (
	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/store"
	"github.com/wippyai/wasm-engine/types"
	"github.com/wippyai/wasm-engine/vm"
)

// Tunables allocates the memories, tables and globals a module defines.
// Objects returned are not yet owned by a store.
type Tunables interface {
	CreateMemory(typ types.MemoryType) (*store.Memory, error)
	CreateTable(typ types.TableType) (*store.Table, error)
	CreateGlobal(typ types.GlobalType, init types.Value) (*store.Global, error)
}

// MemoryStyle selects how linear memory capacity is reserved.
type MemoryStyle uint8

const (
	// Dynamic allocates the current size and reallocates on growth.
	Dynamic MemoryStyle = iota
	// Static reserves capacity for the maximum size, up to a bound, so
	// growth within it never moves the buffer.
	Static
)

func (s MemoryStyle) String() string {
	if s == Static {
		return "static"
	}
	return "dynamic"
}

// ParseMemoryStyle parses "static" or "dynamic".
func ParseMemoryStyle(s string) (MemoryStyle, bool) {
	switch s {
	case "static":
		return Static, true
	case "dynamic":
		return Dynamic, true
	}
	return 0, false
}

// DefaultStaticBound is the reservation for memories without a maximum
// under the Static style.
const DefaultStaticBound types.Pages = 16384 // 1 GiB

// BaseTunables is the default Tunables implementation.
type BaseTunables struct {
	Style       MemoryStyle
	StaticBound types.Pages
	// MaxPages is the engine ceiling for memories. Unbounded memories are
	// clamped to it.
	MaxPages types.Pages
	// MaxTableElements is the ceiling for tables.
	MaxTableElements uint32
}

// NewTunables derives tunables from a configuration.
func NewTunables(cfg Config) *BaseTunables {
	return &BaseTunables{
		Style:            cfg.MemoryStyle,
		StaticBound:      cfg.StaticBound,
		MaxPages:         cfg.MaxMemoryPages,
		MaxTableElements: cfg.MaxTableElements,
	}
}

func (t *BaseTunables) ceiling() uint32 {
	if t.MaxPages == 0 || t.MaxPages > types.MaxPages {
		return uint32(types.MaxPages)
	}
	return uint32(t.MaxPages)
}

// CreateMemory allocates a memory of at least typ.Min pages.
func (t *BaseTunables) CreateMemory(typ types.MemoryType) (*store.Memory, error) {
	if typ.Shared {
		return nil, errors.Unsupported(errors.PhaseMemory, "shared memory")
	}
	ceiling := t.ceiling()
	reserve := typ.Min
	if t.Style == Static {
		bound := uint32(t.StaticBound)
		if bound == 0 {
			bound = uint32(DefaultStaticBound)
		}
		reserve = min(bound, ceiling)
		if typ.HasMax {
			reserve = min(reserve, typ.Max)
		}
	}
	return vm.NewMemory(typ, ceiling, reserve)
}

// CreateTable allocates a table of null references.
func (t *BaseTunables) CreateTable(typ types.TableType) (*store.Table, error) {
	ceiling := t.MaxTableElements
	if ceiling == 0 {
		ceiling = types.MaxTableElements
	}
	return vm.NewTable(typ, ceiling, 0)
}

// CreateGlobal allocates a global holding init.
func (t *BaseTunables) CreateGlobal(typ types.GlobalType, init types.Value) (*store.Global, error) {
	return vm.NewGlobal(typ, init)
}
