package artifact

import (
	"fmt"
	"maps"
	"slices"

	"github.com/wippyai/wasm-engine/errors"
)

// Serialize encodes an artifact. The output depends only on the artifact's
// contents, so equal compilations produce equal bytes.
func Serialize(a *Artifact) ([]byte, error) {
	for i, f := range a.functions {
		if int(f.TypeIndex) >= len(a.types) {
			return nil, &errors.SerializeError{Detail: fmt.Sprintf("function %d has type %d of %d", i, f.TypeIndex, len(a.types))}
		}
	}

	w := &writer{buf: make([]byte, 0, 4096)}
	w.buf = append(w.buf, Magic...)
	w.u16(FormatVersion)
	w.str16(a.Header.Triple)
	w.str16(a.Header.Backend)
	w.str16(a.Header.BackendVersion)
	w.u64(a.Header.Features)
	w.u64(a.Header.CPUFeatures)

	w.u32(numSections)
	table := w.pos()
	for range numSections {
		w.u32(0)
		w.u32(0)
		w.u32(0)
	}
	sections := make([]section, 0, numSections)
	begin := func(id uint32) { sections = append(sections, section{id: id, offset: w.pos()}) }
	end := func() {
		s := &sections[len(sections)-1]
		s.length = w.pos() - s.offset
	}

	begin(sectionModule)
	meta := *a.module
	meta.Names = nil
	w.buf = append(w.buf, meta.Encode()...)
	end()

	begin(sectionFunctions)
	w.u32(w.n(len(a.functions)))
	code := w.n(len(w.buf) + len(a.functions)*functionRecordSize)
	for _, f := range a.functions {
		w.u32(f.TypeIndex)
		w.u32(f.NumLocals)
		w.u32(f.MaxStack)
		w.u32(f.BodyOffset)
		w.u32(code)
		w.u32(w.n(len(f.Code)))
		code += w.n(len(f.Code))
		w.u32(code)
		w.u32(w.n(len(f.SourceMap)))
		code += w.n(len(f.SourceMap))
	}
	end()

	begin(sectionCode)
	for _, f := range a.functions {
		w.buf = append(w.buf, f.Code...)
		w.buf = append(w.buf, f.SourceMap...)
	}
	end()

	begin(sectionNames)
	var names map[uint32]string
	if a.module.Names != nil {
		w.str32(a.module.Names.ModuleName)
		names = a.module.Names.FuncNames
	} else {
		w.str32("")
	}
	w.u32(w.n(len(names)))
	for _, idx := range slices.Sorted(maps.Keys(names)) {
		w.u32(idx)
		w.str32(names[idx])
	}
	end()

	begin(sectionMiddlewares)
	w.u32(w.n(len(a.Middlewares)))
	for _, name := range a.Middlewares {
		w.str32(name)
	}
	end()

	if w.err != nil {
		return nil, &errors.SerializeError{Detail: "artifact too large", Cause: w.err}
	}
	for i, s := range sections {
		at := table + uint32(i)*sectionEntrySize
		w.patch32(at, s.id)
		w.patch32(at+4, s.offset)
		w.patch32(at+8, s.length)
	}
	return w.buf, nil
}
