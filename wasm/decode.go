package wasm

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/wippyai/wasm-engine/wasm/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic    = errors.New("invalid wasm magic number")
	ErrInvalidVersion  = errors.New("invalid wasm version")
	ErrUnsupportedType = errors.New("unsupported type form")
)

// ParseModule parses a WebAssembly binary module
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	// Check magic number
	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}

	// Check version
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}

	// Track section ordering using canonical order, not section IDs
	// WASM order: Type(1), Import(2), Function(3), Table(4), Memory(5),
	// Global(6), Export(7), Start(8), Element(9), DataCount(12), Code(10), Data(11)
	var lastSectionOrder int

	// Parse sections
	for {
		sectionID, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, r.WrapError("section header", err)
		}

		// Validate section ordering (custom sections can appear anywhere)
		if sectionID != SectionCustom {
			order := sectionOrder(sectionID)
			if order == 0 {
				return nil, fmt.Errorf("unknown section ID: 0x%02x", sectionID)
			}
			if order <= lastSectionOrder {
				return nil, fmt.Errorf("section %d appears out of order", sectionID)
			}
			lastSectionOrder = order
		}

		sectionSize, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}

		base := r.Offset()
		sectionData, err := r.ReadBytes(int(sectionSize))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}

		sr := binary.NewReaderAt(sectionData, base)
		name, parse := sectionParser(sectionID)
		if err := parse(sr, m); err != nil {
			return nil, fmt.Errorf("%s section: %w", name, sr.WrapError(name, err))
		}
		if sectionID != SectionCustom && sr.Len() != 0 {
			return nil, fmt.Errorf("%s section: %d trailing bytes", name, sr.Len())
		}
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, fmt.Errorf("function and code section have inconsistent lengths: %d != %d",
			len(m.Funcs), len(m.Code))
	}

	for _, cs := range m.CustomSections {
		if cs.Name != "name" {
			continue
		}
		// Malformed name sections are ignored; they only feed diagnostics.
		if names, err := ParseNameSection(cs.Data); err == nil {
			m.Names = names
		}
	}

	return m, nil
}

type sectionParseFunc func(*binary.Reader, *Module) error

func sectionParser(id byte) (string, sectionParseFunc) {
	switch id {
	case SectionCustom:
		return "custom", parseCustomSection
	case SectionType:
		return "type", parseTypeSection
	case SectionImport:
		return "import", parseImportSection
	case SectionFunction:
		return "function", parseFunctionSection
	case SectionTable:
		return "table", parseTableSection
	case SectionMemory:
		return "memory", parseMemorySection
	case SectionGlobal:
		return "global", parseGlobalSection
	case SectionExport:
		return "export", parseExportSection
	case SectionStart:
		return "start", parseStartSection
	case SectionElement:
		return "element", parseElementSection
	case SectionCode:
		return "code", parseCodeSection
	case SectionData:
		return "data", parseDataSection
	default:
		return "data count", parseDataCountSection
	}
}

// sectionOrder returns the canonical ordering for a section ID, or 0 for
// unknown IDs. Binary order differs from IDs because DataCount precedes Code.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionGlobal:
		return 6
	case SectionExport:
		return 7
	case SectionStart:
		return 8
	case SectionElement:
		return 9
	case SectionDataCount:
		return 10
	case SectionCode:
		return 11
	case SectionData:
		return 12
	default:
		return 0
	}
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	rest, err := r.ReadRemaining()
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{
		Name: name,
		Data: rest,
	})
	return nil
}

// readCount reads a vector length and rejects counts that could not fit in
// the remaining bytes, each element taking at least minSize bytes.
func readCount(r *binary.Reader, minSize int) (uint32, error) {
	count, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if uint64(count)*uint64(minSize) > uint64(r.Len()) {
		return 0, fmt.Errorf("vector length %d exceeds section size", count)
	}
	return count, nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r, 3)
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("read type form at index %d: %w", i, err)
		}
		if form != FuncTypeByte {
			// rec/sub/struct/array forms belong to the GC proposal
			return fmt.Errorf("type %d: %w 0x%02x", i, ErrUnsupportedType, form)
		}
		ft, err := readFuncType(r)
		if err != nil {
			return err
		}
		m.Types[i] = ft
	}
	return nil
}

func readFuncType(r *binary.Reader) (FuncType, error) {
	params, err := readValTypes(r)
	if err != nil {
		return FuncType{}, err
	}
	results, err := readValTypes(r)
	if err != nil {
		return FuncType{}, err
	}
	return FuncType{Params: params, Results: results}, nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	count, err := readCount(r, 1)
	if err != nil {
		return nil, err
	}
	out := make([]ValType, count)
	for i := range out {
		out[i], err = readValType(r)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readValType(r *binary.Reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch ValType(b) {
	case ValI32, ValI64, ValF32, ValF64, ValV128, ValFuncRef, ValExtern:
		return ValType(b), nil
	default:
		return 0, fmt.Errorf("invalid value type 0x%02x", b)
	}
}

func readRefType(r *binary.Reader) (ValType, error) {
	t, err := readValType(r)
	if err != nil {
		return 0, err
	}
	if !t.IsRef() {
		return 0, fmt.Errorf("expected reference type, got %s", t)
	}
	return t, nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r, 4)
	if err != nil {
		return err
	}
	m.Imports = make([]Import, count)
	for i := uint32(0); i < count; i++ {
		module, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}

		imp := Import{Module: module, Name: name, Desc: ImportDesc{Kind: kind}}

		switch kind {
		case KindFunc:
			imp.Desc.TypeIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
		case KindTable:
			table, err := readTableType(r)
			if err != nil {
				return err
			}
			imp.Desc.Table = &table
		case KindMemory:
			memory, err := readMemoryType(r)
			if err != nil {
				return err
			}
			imp.Desc.Memory = &memory
		case KindGlobal:
			global, err := readGlobalType(r)
			if err != nil {
				return err
			}
			imp.Desc.Global = &global
		default:
			return fmt.Errorf("unknown import kind: %d", kind)
		}

		m.Imports[i] = imp
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r, 1)
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := uint32(0); i < count; i++ {
		m.Funcs[i], err = r.ReadU32()
		if err != nil {
			return err
		}
	}
	return nil
}

func parseTableSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r, 2)
	if err != nil {
		return err
	}
	m.Tables = make([]TableType, count)
	for i := uint32(0); i < count; i++ {
		m.Tables[i], err = readTableType(r)
		if err != nil {
			return err
		}
	}
	return nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := readCount(r, 2)
	if err != nil {
		return err
	}
	m.Memories = make([]MemoryType, count)
	for i := uint32(0); i < count; i++ {
		m.Memories[i], err = readMemoryType(r)
		if err != nil {
			return err
		}
	}
	return nil
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r, 3)
	if err != nil {
		return err
	}
	m.Globals = make([]Global, count)
	for i := uint32(0); i < count; i++ {
		globalType, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readInitExpr(r)
		if err != nil {
			return err
		}
		m.Globals[i] = Global{
			Type: globalType,
			Init: init,
		}
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r, 3)
	if err != nil {
		return err
	}
	m.Exports = make([]Export, count)
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindGlobal {
			return fmt.Errorf("invalid export kind: 0x%02x", kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Exports[i] = Export{Name: name, Kind: kind, Idx: idx}
	}
	return nil
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r, 2)
	if err != nil {
		return err
	}
	m.Elements = make([]Element, count)
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 7 {
			return fmt.Errorf("invalid element segment flags: %d", flags)
		}

		elem := Element{Flags: flags, Type: ValFuncRef}

		// Bit 0: passive/declarative (no table index or offset)
		// Bit 1: explicit table index (active) or declarative (non-active)
		// Bit 2: expressions instead of function indices
		hasTableIdx := flags&0x02 != 0 && flags&0x01 == 0
		hasOffset := flags&0x01 == 0
		usesExprs := flags&0x04 != 0

		if hasTableIdx {
			elem.TableIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
		}

		if hasOffset {
			elem.Offset, err = readInitExpr(r)
			if err != nil {
				return err
			}
		}

		// Flags 1, 2, 3: elemkind follows (must be 0x00 for funcref)
		// Flags 5, 6, 7: reftype follows
		if flags&0x03 != 0 {
			if usesExprs {
				elem.Type, err = readRefType(r)
				if err != nil {
					return err
				}
			} else {
				elem.ElemKind, err = r.ReadByte()
				if err != nil {
					return err
				}
				if elem.ElemKind != 0x00 {
					return fmt.Errorf("invalid element kind 0x%02x", elem.ElemKind)
				}
			}
		}

		// Read the vector of indices or expressions
		vecCount, err := readCount(r, 1)
		if err != nil {
			return err
		}

		if usesExprs {
			elem.Exprs = make([][]byte, vecCount)
			for j := uint32(0); j < vecCount; j++ {
				elem.Exprs[j], err = readInitExpr(r)
				if err != nil {
					return err
				}
			}
		} else {
			elem.FuncIdxs = make([]uint32, vecCount)
			for j := uint32(0); j < vecCount; j++ {
				elem.FuncIdxs[j], err = r.ReadU32()
				if err != nil {
					return err
				}
			}
		}

		m.Elements[i] = elem
	}
	return nil
}

// maxLocals bounds the declared locals of one function.
const maxLocals = 50000

func parseCodeSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r, 2)
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, count)
	for i := uint32(0); i < count; i++ {
		bodySize, err := r.ReadU32()
		if err != nil {
			return err
		}
		bodyStart := r.Offset()
		bodyData, err := r.ReadBytes(int(bodySize))
		if err != nil {
			return err
		}

		br := binary.NewReaderAt(bodyData, bodyStart)

		localCount, err := readCount(br, 2)
		if err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
		var locals []LocalEntry
		var total uint64
		for j := uint32(0); j < localCount; j++ {
			n, err := br.ReadU32()
			if err != nil {
				return err
			}
			t, err := readValType(br)
			if err != nil {
				return fmt.Errorf("function %d: %w", i, err)
			}
			total += uint64(n)
			if total > maxLocals {
				return fmt.Errorf("function %d: too many locals", i)
			}
			locals = append(locals, LocalEntry{Count: n, ValType: t})
		}

		codeStart := br.Offset()
		code, err := br.ReadRemaining()
		if err != nil {
			return err
		}
		if len(code) == 0 || code[len(code)-1] != OpEnd {
			return fmt.Errorf("function %d: body does not end with end opcode", i)
		}

		m.Code[i] = FuncBody{Locals: locals, Code: code, Offset: uint32(codeStart)}
	}
	return nil
}

func parseDataSection(r *binary.Reader, m *Module) error {
	count, err := readCount(r, 2)
	if err != nil {
		return err
	}
	m.Data = make([]DataSegment, count)
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 2 {
			return fmt.Errorf("invalid data segment flags: %d", flags)
		}

		seg := DataSegment{Flags: flags}

		// flags=0: active, memIdx=0, offset, data
		// flags=1: passive, data only
		// flags=2: active, memIdx, offset, data
		if flags == 2 {
			seg.MemIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
		}

		if flags != 1 {
			seg.Offset, err = readInitExpr(r)
			if err != nil {
				return err
			}
		}

		initLen, err := r.ReadU32()
		if err != nil {
			return err
		}
		seg.Init, err = r.ReadBytes(int(initLen))
		if err != nil {
			return err
		}

		m.Data[i] = seg
	}
	return nil
}

func parseDataCountSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.DataCount = &count
	return nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags&^(LimitsHasMax|LimitsShared|LimitsMemory64) != 0 {
		return Limits{}, fmt.Errorf("invalid limits flags 0x%02x", flags)
	}

	memory64 := flags&LimitsMemory64 != 0
	l := Limits{
		Shared:   flags&LimitsShared != 0,
		Memory64: memory64,
	}

	if memory64 {
		l.Min, err = r.ReadU64()
		if err != nil {
			return Limits{}, err
		}
		if flags&LimitsHasMax != 0 {
			maxVal, err := r.ReadU64()
			if err != nil {
				return Limits{}, err
			}
			l.Max = &maxVal
		}
	} else {
		minVal, err := r.ReadU32()
		if err != nil {
			return Limits{}, err
		}
		l.Min = uint64(minVal)
		if flags&LimitsHasMax != 0 {
			maxVal, err := r.ReadU32()
			if err != nil {
				return Limits{}, err
			}
			max64 := uint64(maxVal)
			l.Max = &max64
		}
	}

	// Validate min <= max
	if l.Max != nil && l.Min > *l.Max {
		return Limits{}, fmt.Errorf("limits min (%d) exceeds max (%d)", l.Min, *l.Max)
	}

	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	elemType, err := readRefType(r)
	if err != nil {
		return TableType{}, err
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	if limits.Shared || limits.Memory64 {
		return TableType{}, fmt.Errorf("invalid table limits flags")
	}
	return TableType{ElemType: elemType, Limits: limits}, nil
}

func readMemoryType(r *binary.Reader) (MemoryType, error) {
	limits, err := readLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	return MemoryType{Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	valType, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid mutability 0x%02x", mut)
	}
	return GlobalType{ValType: valType, Mutable: mut == 1}, nil
}

// readInitExpr copies a constant expression including its end opcode.
func readInitExpr(r *binary.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
		if b == OpEnd {
			break
		}
		if err := copyInitExprImmediate(r, &buf, b); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func copyInitExprImmediate(r *binary.Reader, buf *bytes.Buffer, opcode byte) error {
	switch opcode {
	case OpI32Const, OpI64Const, OpGlobalGet, OpRefFunc:
		return copyLEB128(r, buf)
	case OpF32Const:
		return copyBytes(r, buf, 4)
	case OpF64Const:
		return copyBytes(r, buf, 8)
	case OpRefNull:
		return copyBytes(r, buf, 1)
	default:
		return fmt.Errorf("opcode 0x%02x not allowed in constant expression", opcode)
	}
}

func copyLEB128(r *binary.Reader, buf *bytes.Buffer) error {
	for i := 0; ; i++ {
		if i == 10 {
			return ErrOverflow
		}
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		buf.WriteByte(b)
		if b&0x80 == 0 {
			break
		}
	}
	return nil
}

func copyBytes(r *binary.Reader, buf *bytes.Buffer, n int) error {
	data, err := r.ReadBytes(n)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}
