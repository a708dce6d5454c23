package artifact

import (
	"bytes"
	"fmt"
	"unicode/utf8"
	"unsafe"

	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/vm"
	"github.com/wippyai/wasm-engine/wasm"
)

func corrupt(detail string, cause error) error {
	return &errors.DeserializeError{Reason: errors.DeserializeCorrupt, Detail: detail, Cause: cause}
}

// Deserialize loads an artifact from untrusted bytes. Every offset, length
// and index is validated and the code of every function is verified before
// the artifact is returned. The input is copied.
func Deserialize(data []byte, expect Header) (*Artifact, error) {
	return load(bytes.Clone(data), expect, true)
}

// DeserializeUnchecked loads an artifact produced by Serialize without
// validating it. Function code and names alias data, which must stay
// unmodified for the artifact's lifetime. The header is still checked
// against expect. Use it only for bytes this process or a trusted cache
// wrote.
func DeserializeUnchecked(data []byte, expect Header) (*Artifact, error) {
	return load(data, expect, false)
}

// ReadHeader decodes the format version and header without checking them
// against an engine.
func ReadHeader(data []byte) (Header, uint16, error) {
	r := &reader{buf: data}
	h, version := readHeader(r)
	if r.err != nil {
		return Header{}, 0, corrupt("reading header", r.err)
	}
	return h, version, nil
}

func readHeader(r *reader) (Header, uint16) {
	magic := r.take(len(Magic))
	if r.err == nil && string(magic) != Magic {
		r.fail("bad magic %q", magic)
		return Header{}, 0
	}
	version := r.u16()
	if version != FormatVersion {
		return Header{}, version
	}
	h := Header{
		Triple:         r.str16(),
		Backend:        r.str16(),
		BackendVersion: r.str16(),
		Features:       r.u64(),
		CPUFeatures:    r.u64(),
	}
	return h, version
}

func load(data []byte, expect Header, checked bool) (*Artifact, error) {
	r := &reader{buf: data}
	h, version := readHeader(r)
	if r.err != nil {
		return nil, corrupt("reading header", r.err)
	}
	if version != FormatVersion {
		return nil, &errors.DeserializeError{
			Reason: errors.DeserializeVersion,
			Detail: fmt.Sprintf("format version %d, supported %d", version, FormatVersion),
		}
	}
	if err := h.Check(expect); err != nil {
		return nil, err
	}

	sections, err := readSections(r, checked)
	if err != nil {
		return nil, err
	}

	moduleBytes := r.slice(sections[sectionModule].offset, sections[sectionModule].length)
	parse := wasm.ParseModule
	if checked {
		parse = wasm.ParseModuleValidate
	}
	m, err := parse(moduleBytes)
	if err != nil {
		return nil, corrupt("module metadata", err)
	}

	str := func(b []byte) string { return string(b) }
	if !checked {
		str = func(b []byte) string {
			if len(b) == 0 {
				return ""
			}
			return unsafe.String(&b[0], len(b))
		}
	}

	functions, err := readFunctions(r, sections, m, checked)
	if err != nil {
		return nil, err
	}
	names, err := readNames(r, sections[sectionNames], str, checked)
	if err != nil {
		return nil, err
	}
	m.Names = names

	mr := r.sub(sections[sectionMiddlewares])
	var middlewares []string
	for n := mr.u32(); n > 0 && mr.err == nil; n-- {
		middlewares = append(middlewares, str(mr.bytes32()))
	}
	if mr.err != nil {
		return nil, corrupt("middlewares section", mr.err)
	}

	a, err := newArtifact(h, m, functions, middlewares)
	if err != nil {
		return nil, corrupt("module metadata", err)
	}
	if checked {
		bounds := a.Bounds()
		for i, f := range functions {
			bounds.Params = uint32(a.types[f.TypeIndex].NumParams())
			if err := f.Verify(bounds); err != nil {
				return nil, corrupt(fmt.Sprintf("function %d", i), err)
			}
		}
	}
	return a, nil
}

// readSections decodes the section table, indexed by section id.
func readSections(r *reader, checked bool) ([numSections + 1]section, error) {
	var out [numSections + 1]section
	if n := r.u32(); r.err == nil && n != numSections {
		r.fail("%d sections, expected %d", n, numSections)
	}
	end := uint64(0)
	for i := uint32(1); i <= numSections && r.err == nil; i++ {
		s := section{id: r.u32(), offset: r.u32(), length: r.u32()}
		if r.err != nil {
			break
		}
		if s.id != i {
			r.fail("section %d has id %d", i, s.id)
			break
		}
		if uint64(s.offset)+uint64(s.length) > uint64(len(r.buf)) {
			r.fail("%s section exceeds the buffer", sectionLabels[s.id])
			break
		}
		if checked && uint64(s.offset) < end {
			r.fail("%s section overlaps its predecessor", sectionLabels[s.id])
			break
		}
		end = uint64(s.offset) + uint64(s.length)
		out[i] = s
	}
	if r.err != nil {
		return out, corrupt("section table", r.err)
	}
	if checked && out[sectionModule].offset < uint32(r.off) {
		return out, corrupt("section table", fmt.Errorf("sections overlap the header"))
	}
	return out, nil
}

// sub returns a reader over one section.
func (r *reader) sub(s section) *reader {
	return &reader{buf: r.slice(s.offset, s.length)}
}

func readFunctions(r *reader, sections [numSections + 1]section, m *wasm.Module, checked bool) ([]*vm.CompiledFunction, error) {
	fr := r.sub(sections[sectionFunctions])
	n := fr.u32()
	if fr.err == nil && uint64(n)*functionRecordSize+4 != uint64(len(fr.buf)) {
		fr.fail("%d records in %d bytes", n, len(fr.buf))
	}
	if fr.err == nil && int(n) != len(m.Funcs) {
		fr.fail("%d functions, module declares %d", n, len(m.Funcs))
	}
	if fr.err != nil {
		return nil, corrupt("functions section", fr.err)
	}

	code := sections[sectionCode]
	inCode := func(off, length uint32) bool {
		return off >= code.offset && uint64(off)+uint64(length) <= uint64(code.offset)+uint64(code.length)
	}
	out := make([]*vm.CompiledFunction, n)
	for i := range out {
		f := &vm.CompiledFunction{
			TypeIndex:  fr.u32(),
			NumLocals:  fr.u32(),
			MaxStack:   fr.u32(),
			BodyOffset: fr.u32(),
		}
		codeOff, codeLen := fr.u32(), fr.u32()
		mapOff, mapLen := fr.u32(), fr.u32()
		if checked {
			switch {
			case f.TypeIndex != m.Funcs[i]:
				fr.fail("function %d has type %d, module declares %d", i, f.TypeIndex, m.Funcs[i])
			case !inCode(codeOff, codeLen) || !inCode(mapOff, mapLen):
				fr.fail("function %d code lies outside the code section", i)
			}
		}
		f.Code = r.slice(codeOff, codeLen)
		f.SourceMap = r.slice(mapOff, mapLen)
		if fr.err != nil || r.err != nil {
			return nil, corrupt("functions section", firstErr(fr.err, r.err))
		}
		out[i] = f
	}
	return out, nil
}

func readNames(r *reader, s section, str func([]byte) string, checked bool) (*wasm.NameSection, error) {
	nr := r.sub(s)
	valid := func(b []byte) []byte {
		if checked && nr.err == nil && !utf8.Valid(b) {
			nr.fail("name is not valid UTF-8")
		}
		return b
	}
	moduleName := str(valid(nr.bytes32()))
	n := nr.u32()
	var funcs map[uint32]string
	if n > 0 && nr.err == nil {
		funcs = make(map[uint32]string, min(int(n), len(nr.buf)/8))
	}
	for i := uint32(0); i < n && nr.err == nil; i++ {
		idx := nr.u32()
		funcs[idx] = str(valid(nr.bytes32()))
	}
	if nr.err == nil && nr.off != len(nr.buf) {
		nr.fail("%d trailing bytes", len(nr.buf)-nr.off)
	}
	if nr.err != nil {
		return nil, corrupt("names section", nr.err)
	}
	if moduleName == "" && funcs == nil {
		return nil, nil
	}
	return &wasm.NameSection{ModuleName: moduleName, FuncNames: funcs}, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
