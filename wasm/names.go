package wasm

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/wippyai/wasm-engine/wasm/internal/binary"
)

// Name section subsection IDs.
const (
	nameSubsectionModule   byte = 0
	nameSubsectionFunction byte = 1
)

// NameSection holds the debug names carried in the "name" custom section.
type NameSection struct {
	FuncNames  map[uint32]string
	ModuleName string
}

// FuncName returns the debug name of a function, or "" when absent.
func (n *NameSection) FuncName(idx uint32) string {
	if n == nil {
		return ""
	}
	return n.FuncNames[idx]
}

// ParseNameSection decodes the payload of a "name" custom section.
// Unknown subsections (local names and later additions) are skipped.
func ParseNameSection(data []byte) (*NameSection, error) {
	r := binary.NewReader(data)
	ns := &NameSection{FuncNames: make(map[uint32]string)}
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, err
		}
		sr := binary.NewReader(payload)
		switch id {
		case nameSubsectionModule:
			ns.ModuleName, err = sr.ReadName()
			if err != nil {
				return nil, fmt.Errorf("module name: %w", err)
			}
		case nameSubsectionFunction:
			count, err := sr.ReadU32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < count; i++ {
				idx, err := sr.ReadU32()
				if err != nil {
					return nil, err
				}
				name, err := sr.ReadName()
				if err != nil {
					return nil, fmt.Errorf("function %d name: %w", idx, err)
				}
				ns.FuncNames[idx] = name
			}
		}
	}
	return ns, nil
}

// Encode serializes the section payload. Function names are written in
// ascending index order.
func (n *NameSection) Encode() []byte {
	var out bytes.Buffer
	if n.ModuleName != "" {
		var sub bytes.Buffer
		writeName(&sub, n.ModuleName)
		out.WriteByte(nameSubsectionModule)
		WriteLEB128u(&out, uint32(sub.Len()))
		out.Write(sub.Bytes())
	}
	if len(n.FuncNames) > 0 {
		idxs := make([]uint32, 0, len(n.FuncNames))
		for idx := range n.FuncNames {
			idxs = append(idxs, idx)
		}
		sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })

		var sub bytes.Buffer
		WriteLEB128u(&sub, uint32(len(idxs)))
		for _, idx := range idxs {
			WriteLEB128u(&sub, idx)
			writeName(&sub, n.FuncNames[idx])
		}
		out.WriteByte(nameSubsectionFunction)
		WriteLEB128u(&out, uint32(sub.Len()))
		out.Write(sub.Bytes())
	}
	return out.Bytes()
}

func writeName(buf *bytes.Buffer, s string) {
	WriteLEB128u(buf, uint32(len(s)))
	buf.WriteString(s)
}
