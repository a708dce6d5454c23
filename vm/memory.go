package vm

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/types"
)

// Memory is a linear memory. Its size only grows.
type Memory struct {
	owner  *Objects
	logger *zap.Logger
	buf    []byte
	typ    types.MemoryType
	max    uint32 // effective maximum in pages
}

// NewMemory allocates typ.Min zeroed pages. ceiling bounds the size when
// the type has no maximum, or a larger one. reserve pages of capacity are
// allocated up front so that growth within them does not move the buffer.
func NewMemory(typ types.MemoryType, ceiling, reserve uint32) (*Memory, error) {
	if typ.HasMax && typ.Min > typ.Max {
		return nil, &errors.MemoryError{Kind: errors.MemoryInvalidLimits, Attempted: uint64(typ.Min), Max: uint64(typ.Max)}
	}
	if typ.Min > ceiling {
		return nil, &errors.MemoryError{Kind: errors.MemoryCeilingReached, Attempted: uint64(typ.Min), Max: uint64(ceiling)}
	}
	maxPages := ceiling
	if typ.HasMax && typ.Max < maxPages {
		maxPages = typ.Max
	}
	reserve = min(max(reserve, typ.Min), maxPages)
	size := types.Pages(typ.Min).Bytes()
	return &Memory{
		buf: make([]byte, size, types.Pages(reserve).Bytes()),
		typ: typ,
		max: maxPages,
	}, nil
}

// SetLogger attaches a logger used to report failed growth.
func (m *Memory) SetLogger(l *zap.Logger) { m.logger = l }

// Owner returns the registry the memory belongs to, or nil.
func (m *Memory) Owner() *Objects { return m.owner }

// Type returns the memory type with the current size as minimum.
func (m *Memory) Type() types.MemoryType {
	t := m.typ
	t.Min = uint32(m.Size())
	return t
}

// Size returns the current size in pages.
func (m *Memory) Size() types.Pages {
	return types.Bytes(len(m.buf)).Pages()
}

// MaxPages returns the size the memory can grow to.
func (m *Memory) MaxPages() types.Pages { return types.Pages(m.max) }

// DataSize returns the current size in bytes.
func (m *Memory) DataSize() uint64 { return uint64(len(m.buf)) }

// Data returns the backing buffer. It is invalidated by Grow.
func (m *Memory) Data() []byte { return m.buf }

// Grow adds delta pages and returns the previous size. On failure the
// memory is unchanged.
func (m *Memory) Grow(delta types.Pages) (types.Pages, error) {
	old := m.Size()
	if delta == 0 {
		return old, nil
	}
	next, ok := old.Add(delta)
	if !ok || uint32(next) > m.max {
		err := &errors.MemoryError{
			Kind:      errors.MemoryCouldNotGrow,
			Resource:  "memory",
			Current:   uint64(old),
			Attempted: uint64(old) + uint64(delta),
			Max:       uint64(m.max),
		}
		if m.logger != nil {
			m.logger.Debug("memory grow failed",
				zap.Uint32("pages", uint32(old)),
				zap.Uint32("delta", uint32(delta)),
				zap.Uint32("max", m.max))
		}
		return old, err
	}
	size := int(next.Bytes())
	if size <= cap(m.buf) {
		// Capacity beyond len is never written, so it is still zero.
		m.buf = m.buf[:size]
	} else {
		buf := make([]byte, size)
		copy(buf, m.buf)
		m.buf = buf
	}
	return old, nil
}

func (m *Memory) inBounds(offset, n uint64) bool {
	return offset+n >= offset && offset+n <= uint64(len(m.buf))
}

// Read returns a view of n bytes at offset, or false when out of bounds.
func (m *Memory) Read(offset, n uint32) ([]byte, bool) {
	if !m.inBounds(uint64(offset), uint64(n)) {
		return nil, false
	}
	return m.buf[offset : offset+n : offset+n], true
}

// Write copies p to offset, or returns false when it does not fit.
func (m *Memory) Write(offset uint32, p []byte) bool {
	if !m.inBounds(uint64(offset), uint64(len(p))) {
		return false
	}
	copy(m.buf[offset:], p)
	return true
}

func (m *Memory) ReadUint32Le(offset uint32) (uint32, bool) {
	if !m.inBounds(uint64(offset), 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.buf[offset:]), true
}

func (m *Memory) WriteUint32Le(offset, v uint32) bool {
	if !m.inBounds(uint64(offset), 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.buf[offset:], v)
	return true
}

func (m *Memory) ReadUint64Le(offset uint32) (uint64, bool) {
	if !m.inBounds(uint64(offset), 8) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.buf[offset:]), true
}

func (m *Memory) WriteUint64Le(offset uint32, v uint64) bool {
	if !m.inBounds(uint64(offset), 8) {
		return false
	}
	binary.LittleEndian.PutUint64(m.buf[offset:], v)
	return true
}
