package wasm_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/wippyai/wasm-engine/wasm"
)

var header = []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

func module(sections ...[]byte) []byte {
	out := append([]byte{}, header...)
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}

func section(id byte, payload ...byte) []byte {
	return append([]byte{id, byte(len(payload))}, payload...)
}

func TestParseModule_Header(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"bad magic", []byte{0x00, 0x61, 0x73, 0x6E, 0x01, 0x00, 0x00, 0x00}, wasm.ErrInvalidMagic},
		{"bad version", []byte{0x00, 0x61, 0x73, 0x6D, 0x02, 0x00, 0x00, 0x00}, wasm.ErrInvalidVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wasm.ParseModule(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := wasm.ParseModule(header[:6]); err == nil {
		t.Error("truncated header should fail")
	}
}

func TestParseModule_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr string
	}{
		{
			name:    "unknown section",
			data:    module(section(0x0E)),
			wantErr: "unknown section",
		},
		{
			name:    "out of order",
			data:    module(section(wasm.SectionFunction, 0), section(wasm.SectionType, 0)),
			wantErr: "out of order",
		},
		{
			name:    "duplicate section",
			data:    module(section(wasm.SectionType, 0), section(wasm.SectionType, 0)),
			wantErr: "out of order",
		},
		{
			name:    "section size past end",
			data:    append(append([]byte{}, header...), wasm.SectionType, 10, 0),
			wantErr: "section data",
		},
		{
			name:    "trailing bytes in section",
			data:    module(section(wasm.SectionType, 0, 0xFF)),
			wantErr: "trailing bytes",
		},
		{
			name:    "invalid value type",
			data:    module(section(wasm.SectionType, 1, 0x60, 1, 0x55, 0)),
			wantErr: "invalid value type",
		},
		{
			name: "funcs without code",
			data: module(
				section(wasm.SectionType, 1, 0x60, 0, 0),
				section(wasm.SectionFunction, 1, 0),
			),
			wantErr: "inconsistent lengths",
		},
		{
			name: "body missing end",
			data: module(
				section(wasm.SectionType, 1, 0x60, 0, 0),
				section(wasm.SectionFunction, 1, 0),
				section(wasm.SectionCode, 1, 2, 0, wasm.OpNop),
			),
			wantErr: "end opcode",
		},
		{
			name:    "limits min above max",
			data:    module(section(wasm.SectionMemory, 1, 0x01, 2, 1)),
			wantErr: "exceeds max",
		},
		{
			name:    "vector longer than section",
			data:    module(section(wasm.SectionType, 100)),
			wantErr: "exceeds section size",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wasm.ParseModule(tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseModule_GCTypeRejected(t *testing.T) {
	// struct type form
	data := module(section(wasm.SectionType, 1, 0x5F, 0, 0))
	_, err := wasm.ParseModule(data)
	if !errors.Is(err, wasm.ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestParseModule_DataCountBeforeCode(t *testing.T) {
	data := module(
		section(wasm.SectionType, 1, 0x60, 0, 0),
		section(wasm.SectionFunction, 1, 0),
		section(wasm.SectionMemory, 1, 0x00, 1),
		section(wasm.SectionDataCount, 1),
		section(wasm.SectionCode, 1, 2, 0, wasm.OpEnd),
		section(wasm.SectionData, 1, 0x01, 2, 'h', 'i'),
	)
	m, err := wasm.ParseModuleValidate(data)
	if err != nil {
		t.Fatalf("ParseModuleValidate: %v", err)
	}
	if m.DataCount == nil || *m.DataCount != 1 {
		t.Fatalf("data count = %v", m.DataCount)
	}
	if !m.Data[0].IsPassive() {
		t.Error("segment should be passive")
	}
}

func TestParseModule_BodyOffset(t *testing.T) {
	data := module(
		section(wasm.SectionType, 1, 0x60, 0, 0),
		section(wasm.SectionFunction, 2, 0, 0),
		section(wasm.SectionCode, 2, 2, 0, wasm.OpEnd, 3, 0, wasm.OpNop, wasm.OpEnd),
	)
	m, err := wasm.ParseModule(data)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	// header(8) + type(2+4) + func(2+3) + code header(2) + count(1) + size(1) + locals(1)
	if got := m.Code[0].Offset; got != 24 {
		t.Errorf("body 0 offset = %d, want 24", got)
	}
	if got := m.Code[1].Offset; got != 27 {
		t.Errorf("body 1 offset = %d, want 27", got)
	}
	if data[m.Code[1].Offset] != wasm.OpNop {
		t.Errorf("body 1 offset does not point at its first instruction")
	}
}
