package vm

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/wasm-engine/wasm"
)

func TestProgramAssemble(t *testing.T) {
	var p Program
	top, out := p.NewLabel(), p.NewLabel()
	p.Bind(top, 0)
	p.Emit(1, Instr{Op: Opcode(wasm.OpLocalGet), A: 0})
	p.Branch(2, OpBrIf, out, false, 0, 0)
	p.Branch(3, OpBr, top, true, 4, 1)
	p.Bind(out, 4)
	p.Emit(4, Instr{Op: OpReturn})

	code, offsets, err := p.Assemble()
	if err != nil {
		t.Fatal(err)
	}
	want := []Instr{
		{Op: Opcode(wasm.OpLocalGet)},
		{Op: OpBrIf, A: 3},
		{Op: OpBr, A: 0, Flags: FlagAdjust, B: Adjust(4, 1)},
		{Op: OpReturn},
	}
	if diff := cmp.Diff(want, code); diff != "" {
		t.Errorf("code mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint32{1, 2, 3, 4}, offsets); diff != "" {
		t.Errorf("offsets mismatch (-want +got):\n%s", diff)
	}
}

func TestProgramAssemble_UnboundLabel(t *testing.T) {
	var p Program
	l := p.NewLabel()
	p.Branch(0, OpBr, l, false, 0, 0)
	if _, _, err := p.Assemble(); err == nil {
		t.Fatal("expected error for unbound label")
	}
}

func TestCompiledFunction(t *testing.T) {
	code := []Instr{
		{Op: OpConst, B: 0xdead_beef_cafe},
		{Op: OpBr, A: 2, Flags: FlagAdjust, B: Adjust(1, 2)},
		{Op: OpReturn, A: 1},
	}
	cf, err := NewCompiledFunction(code, []uint32{5, 9, 12}, 3, 2, 4, 100)
	if err != nil {
		t.Fatal(err)
	}
	if cf.Len() != 3 || len(cf.Code) != 3*InstrSize {
		t.Fatalf("len = %d, code bytes = %d", cf.Len(), len(cf.Code))
	}

	// A copy sharing the encoded bytes decodes independently.
	clone := &CompiledFunction{Code: cf.Code, SourceMap: cf.SourceMap}
	got, err := clone.Instrs()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(code, got); diff != "" {
		t.Errorf("decoded mismatch (-want +got):\n%s", diff)
	}
	if off := clone.SourceOffset(1); off != 9 {
		t.Errorf("source offset = %d, want 9", off)
	}
	if off := clone.SourceOffset(7); off != 0 {
		t.Errorf("out of range source offset = %d, want 0", off)
	}

	bad := &CompiledFunction{Code: cf.Code, SourceMap: cf.SourceMap[:4]}
	if _, err := bad.Instrs(); err == nil {
		t.Error("expected source map length error")
	}
	truncated := &CompiledFunction{Code: cf.Code[:20]}
	if _, err := truncated.Instrs(); err == nil {
		t.Error("expected truncated code error")
	}
}
