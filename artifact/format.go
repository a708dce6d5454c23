package artifact

import (
	"encoding/binary"
	"fmt"
	"math"

	"fortio.org/safecast"
)

// Serialized layout, all integers little-endian, all offsets absolute:
//
//	magic "WASMU\0" | version u16
//	header: triple | backend | backend version   (u16 length + bytes each)
//	        features u64 | cpu features u64
//	section count u32 | count × (id u32, offset u32, length u32)
//	sections
//
// Sections appear once each, in id order.
const (
	Magic         = "WASMU\x00"
	FormatVersion = 1
)

// Section ids.
const (
	sectionModule      uint32 = 1 // module metadata as a WebAssembly binary
	sectionFunctions   uint32 = 2 // one functionRecordSize record per function
	sectionCode        uint32 = 3 // code and source maps referenced by records
	sectionNames       uint32 = 4 // module and function names
	sectionMiddlewares uint32 = 5 // names of the middlewares applied
	numSections               = 5
)

const (
	sectionEntrySize   = 12
	functionRecordSize = 32 // type, locals, max stack, body offset, code off/len, map off/len
)

var sectionLabels = [...]string{
	sectionModule:      "module",
	sectionFunctions:   "functions",
	sectionCode:        "code",
	sectionNames:       "names",
	sectionMiddlewares: "middlewares",
}

type section struct {
	id, offset, length uint32
}

// writer appends little-endian values and records the first size error.
type writer struct {
	buf []byte
	err error
}

func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

// n converts a length or offset, recording an overflow.
func (w *writer) n(v int) uint32 {
	u, err := safecast.Conv[uint32](v)
	if err != nil && w.err == nil {
		w.err = err
	}
	return u
}

func (w *writer) str16(s string) {
	if len(s) > math.MaxUint16 {
		if w.err == nil {
			w.err = fmt.Errorf("string of %d bytes exceeds the u16 length limit", len(s))
		}
		return
	}
	w.u16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) str32(s string) {
	w.u32(w.n(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) pos() uint32 { return w.n(len(w.buf)) }

// patch32 overwrites a u32 written earlier.
func (w *writer) patch32(at, v uint32) {
	binary.LittleEndian.PutUint32(w.buf[at:], v)
}

// reader decodes little-endian values and fails on truncation.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf(format, args...)
	}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.buf)-r.off {
		r.fail("truncated at offset %d: need %d bytes", r.off, n)
		return nil
	}
	b := r.buf[r.off : r.off+n : r.off+n]
	r.off += n
	return b
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *reader) str16() string { return string(r.take(int(r.u16()))) }

func (r *reader) bytes32() []byte { return r.take(int(r.u32())) }

// slice returns buf[off:off+n] or records an error.
func (r *reader) slice(off, n uint32) []byte {
	end := uint64(off) + uint64(n)
	if end > uint64(len(r.buf)) {
		r.fail("range %d+%d exceeds buffer of %d bytes", off, n, len(r.buf))
		return nil
	}
	return r.buf[off:end:end]
}
