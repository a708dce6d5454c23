package singlepass_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/wasm-engine/compiler"
	"github.com/wippyai/wasm-engine/compiler/singlepass"
	. "github.com/wippyai/wasm-engine/internal/wasmtest"
	"github.com/wippyai/wasm-engine/vm"
	"github.com/wippyai/wasm-engine/wasm"
)

func lower(t *testing.T, b *Builder, local uint32) *singlepass.Lowered {
	t.Helper()
	info := compiler.NewModuleInfo(b.Module(), compiler.DefaultFeatures)
	fb, err := compiler.ReadFunction(info, local)
	if err != nil {
		t.Fatal(err)
	}
	l, err := singlepass.Lower(info, fb)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func label(l uint32) vm.Instr { return vm.Instr{Op: vm.OpLabel, A: l} }

func TestLower(t *testing.T) {
	wop := func(op byte, a uint32) vm.Instr { return vm.Instr{Op: vm.Opcode(op), A: a} }
	tests := []struct {
		name     string
		params   []wasm.ValType
		results  []wasm.ValType
		locals   []wasm.ValType
		code     []wasm.Instruction
		want     []vm.Instr
		maxStack uint32
	}{
		{
			name:    "add",
			params:  Types(I32, I32),
			results: Types(I32),
			code:    []wasm.Instruction{LocalGet(0), LocalGet(1), Op(wasm.OpI32Add)},
			want: []vm.Instr{
				wop(wasm.OpLocalGet, 0),
				wop(wasm.OpLocalGet, 1),
				wop(wasm.OpI32Add, 0),
				label(0),
				{Op: vm.OpReturn, A: 1},
			},
			maxStack: 2,
		},
		{
			name:    "branch drops extra operands",
			results: Types(I32),
			code: []wasm.Instruction{
				Block(wasm.BlockTypeI32), I32Const(1), I32Const(2), Br(0), End(),
			},
			want: []vm.Instr{
				{Op: vm.OpConst, B: 1},
				{Op: vm.OpConst, B: 2},
				{Op: vm.OpBr, A: 1, Flags: vm.FlagAdjust, B: vm.Adjust(0, 1)},
				label(1),
				label(0),
				{Op: vm.OpReturn, A: 1},
			},
			maxStack: 2,
		},
		{
			name:    "adjust accounts for locals",
			params:  Types(I32),
			results: Types(I32),
			locals:  Types(I64),
			code: []wasm.Instruction{
				I32Const(9), Block(wasm.BlockTypeI32), I32Const(1), I32Const(2), Br(0), End(), Op(wasm.OpI32Add),
			},
			want: []vm.Instr{
				{Op: vm.OpConst, B: 9},
				{Op: vm.OpConst, B: 1},
				{Op: vm.OpConst, B: 2},
				{Op: vm.OpBr, A: 1, Flags: vm.FlagAdjust, B: vm.Adjust(3, 1)},
				label(1),
				wop(wasm.OpI32Add, 0),
				label(0),
				{Op: vm.OpReturn, A: 1},
			},
			maxStack: 3,
		},
		{
			name:   "loop branches backwards",
			params: Types(I32),
			code: []wasm.Instruction{
				Loop(wasm.BlockTypeVoid), LocalGet(0), BrIf(0), End(),
			},
			want: []vm.Instr{
				label(1),
				wop(wasm.OpLocalGet, 0),
				{Op: vm.OpBrIf, A: 1},
				label(0),
				{Op: vm.OpReturn},
			},
			maxStack: 1,
		},
		{
			name:    "if else",
			params:  Types(I32),
			results: Types(I32),
			code: []wasm.Instruction{
				LocalGet(0), If(wasm.BlockTypeI32), I32Const(1), Else(), I32Const(2), End(),
			},
			want: []vm.Instr{
				wop(wasm.OpLocalGet, 0),
				{Op: vm.OpBrIfNot, A: 2},
				{Op: vm.OpConst, B: 1},
				{Op: vm.OpBr, A: 1},
				label(2),
				{Op: vm.OpConst, B: 2},
				label(1),
				label(0),
				{Op: vm.OpReturn, A: 1},
			},
			maxStack: 1,
		},
		{
			name:    "dead code is skipped",
			results: Types(I32),
			code: []wasm.Instruction{
				I32Const(1), Return(), Block(wasm.BlockTypeVoid), I32Const(2), Drop(), End(), Op(wasm.OpI32Eqz),
			},
			want: []vm.Instr{
				{Op: vm.OpConst, B: 1},
				{Op: vm.OpReturn, A: 1},
				label(0),
				{Op: vm.OpReturn, A: 1},
			},
			maxStack: 1,
		},
		{
			name:   "br_table entries",
			params: Types(I32),
			code: []wasm.Instruction{
				Block(wasm.BlockTypeVoid), LocalGet(0), BrTable(1, 0), End(),
			},
			want: []vm.Instr{
				wop(wasm.OpLocalGet, 0),
				{Op: vm.OpBrTable, A: 1},
				{Op: vm.OpBr, A: 1},
				{Op: vm.OpBr, A: 0},
				label(1),
				label(0),
				{Op: vm.OpReturn},
			},
			maxStack: 1,
		},
		{
			name:    "memory offset and negative constant",
			params:  Types(I32),
			results: Types(I32),
			code: []wasm.Instruction{
				LocalGet(0), Load(wasm.OpI32Load, 16), I32Const(-1), Op(wasm.OpI32Xor),
			},
			want: []vm.Instr{
				wop(wasm.OpLocalGet, 0),
				wop(wasm.OpI32Load, 16),
				{Op: vm.OpConst, B: 0xFFFFFFFF},
				wop(wasm.OpI32Xor, 0),
				label(0),
				{Op: vm.OpReturn, A: 1},
			},
			maxStack: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New()
			one := uint64(1)
			b.Memory(1, &one)
			b.Func(tt.params, tt.results, tt.locals, tt.code...)
			l := lower(t, b, 0)
			if diff := cmp.Diff(tt.want, l.Program.Code); diff != "" {
				t.Errorf("code mismatch (-want +got):\n%s", diff)
			}
			if l.MaxStack != tt.maxStack {
				t.Errorf("MaxStack = %d, want %d", l.MaxStack, tt.maxStack)
			}
			if len(l.Program.Offsets) != len(l.Program.Code) {
				t.Errorf("%d offsets for %d instructions", len(l.Program.Offsets), len(l.Program.Code))
			}
			if _, err := l.Finish(); err != nil {
				t.Errorf("Finish: %v", err)
			}
		})
	}
}

func TestBackend_Compile(t *testing.T) {
	b := New()
	add := b.Func(Types(I32, I32), Types(I32), nil, LocalGet(0), LocalGet(1), Op(wasm.OpI32Add))
	b.Func(nil, Types(I32), nil, I32Const(2), I32Const(3), Call(add))
	b.Func(nil, nil, nil, Op(wasm.OpNop))
	m := b.Module()
	info := compiler.NewModuleInfo(m, compiler.DefaultFeatures)
	in := &compiler.CompileInput{Module: info, Features: compiler.DefaultFeatures, Parallelism: 2}
	for i := range m.Code {
		fb, err := compiler.ReadFunction(info, uint32(i))
		if err != nil {
			t.Fatal(err)
		}
		in.Bodies = append(in.Bodies, fb)
	}

	backend, err := compiler.Lookup(singlepass.Name, compiler.BackendConfig{})
	if err != nil {
		t.Fatal(err)
	}
	fns, err := backend.Compile(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if len(fns) != 3 {
		t.Fatalf("got %d functions, want 3", len(fns))
	}
	for i, f := range fns {
		if f.TypeIndex != m.Funcs[i] {
			t.Errorf("function %d: TypeIndex = %d, want %d", i, f.TypeIndex, m.Funcs[i])
		}
	}
}

func TestBackend_CompileError(t *testing.T) {
	b := New()
	b.Func(nil, Types(I32), nil, I64Const(1))
	m := b.Module()
	info := compiler.NewModuleInfo(m, compiler.DefaultFeatures)
	fb, err := compiler.ReadFunction(info, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, err = singlepass.New().Compile(context.Background(), &compiler.CompileInput{Module: info, Bodies: []*compiler.FunctionBody{fb}})
	if err == nil {
		t.Fatal("expected a validation error")
	}
}
