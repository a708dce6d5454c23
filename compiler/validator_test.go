package compiler_test

import (
	stderrors "errors"
	"testing"

	"github.com/wippyai/wasm-engine/compiler"
	"github.com/wippyai/wasm-engine/errors"
	. "github.com/wippyai/wasm-engine/internal/wasmtest"
	"github.com/wippyai/wasm-engine/wasm"
)

func validateAll(t *testing.T, b *Builder, features compiler.Features) error {
	t.Helper()
	m := b.Module()
	info := compiler.NewModuleInfo(m, features)
	for i := range m.Code {
		fb, err := compiler.ReadFunction(info, uint32(i))
		if err != nil {
			return err
		}
		if err := compiler.ValidateFunction(info, fb); err != nil {
			return err
		}
	}
	return nil
}

var (
	validation  = &errors.CompileError{Kind: errors.CompileValidation}
	unsupported = &errors.CompileError{Kind: errors.CompileUnsupported}
)

func TestValidateFunction(t *testing.T) {
	one := uint64(1)
	tests := []struct {
		name     string
		build    func(b *Builder)
		features compiler.Features
		want     error // nil, validation or unsupported
	}{
		{
			name: "add",
			build: func(b *Builder) {
				b.Func(Types(I32, I32), Types(I32), nil, LocalGet(0), LocalGet(1), Op(wasm.OpI32Add))
			},
		},
		{
			name: "operand type mismatch",
			build: func(b *Builder) {
				b.Func(nil, Types(I32), nil, I32Const(1), I64Const(2), Op(wasm.OpI32Add))
			},
			want: validation,
		},
		{
			name: "stack underflow",
			build: func(b *Builder) {
				b.Func(nil, Types(I32), nil, Op(wasm.OpI32Add))
			},
			want: validation,
		},
		{
			name: "values left at end",
			build: func(b *Builder) {
				b.Func(nil, nil, nil, I32Const(1))
			},
			want: validation,
		},
		{
			name: "unreachable is polymorphic",
			build: func(b *Builder) {
				b.Func(nil, Types(I32), nil, Op(wasm.OpUnreachable), Op(wasm.OpI32Add))
			},
		},
		{
			name: "branch arity",
			build: func(b *Builder) {
				b.Func(nil, Types(I32), nil, Block(wasm.BlockTypeI32), Br(0), End())
			},
			want: validation,
		},
		{
			name: "branch carries block result",
			build: func(b *Builder) {
				b.Func(nil, Types(I32), nil, Block(wasm.BlockTypeI32), I32Const(7), Br(0), End())
			},
		},
		{
			name: "unknown label",
			build: func(b *Builder) {
				b.Func(nil, nil, nil, Br(1))
			},
			want: validation,
		},
		{
			name: "br_table arities differ",
			build: func(b *Builder) {
				b.Func(nil, Types(I32), nil,
					Block(wasm.BlockTypeVoid),
					I32Const(1), I32Const(0), BrTable(1, 0),
					End(),
					I32Const(0))
			},
			want: validation,
		},
		{
			name: "if without else changes types",
			build: func(b *Builder) {
				b.Func(nil, Types(I32), nil, I32Const(1), If(wasm.BlockTypeI32), I32Const(2), End())
			},
			want: validation,
		},
		{
			name: "if with else",
			build: func(b *Builder) {
				b.Func(Types(I32), Types(I32), nil,
					LocalGet(0), If(wasm.BlockTypeI32), I32Const(1), Else(), I32Const(2), End())
			},
		},
		{
			name: "unknown local",
			build: func(b *Builder) {
				b.Func(Types(I32), nil, Types(I64), LocalGet(2), Drop())
			},
			want: validation,
		},
		{
			name: "immutable global",
			build: func(b *Builder) {
				g := b.Global(I32, false, wasm.I32Const(0))
				b.Func(nil, nil, nil, I32Const(1), GlobalSet(g))
			},
			want: validation,
		},
		{
			name: "load without memory",
			build: func(b *Builder) {
				b.Func(nil, Types(I32), nil, I32Const(0), Load(wasm.OpI32Load, 0))
			},
			want: validation,
		},
		{
			name: "alignment larger than natural",
			build: func(b *Builder) {
				b.Memory(1, &one)
				b.Func(nil, Types(I32), nil, I32Const(0),
					wasm.Instruction{Opcode: wasm.OpI32Load8U, Imm: wasm.MemoryImm{Align: 1}})
			},
			want: validation,
		},
		{
			name: "store",
			build: func(b *Builder) {
				b.Memory(1, &one)
				b.Func(nil, nil, nil, I32Const(0), I64Const(1), Store(wasm.OpI64Store, 8))
			},
		},
		{
			name: "sign extension enabled",
			build: func(b *Builder) {
				b.Func(nil, Types(I32), nil, I32Const(200), Op(wasm.OpI32Extend8S))
			},
		},
		{
			name: "sign extension disabled",
			build: func(b *Builder) {
				b.Func(nil, Types(I32), nil, I32Const(200), Op(wasm.OpI32Extend8S))
			},
			features: compiler.DefaultFeatures.Without(compiler.FeatureSignExtension),
			want:     validation,
		},
		{
			name: "multi-value block disabled",
			build: func(b *Builder) {
				typ := b.Type(Types(I32), Types(I32))
				b.Func(nil, Types(I32), nil, I32Const(1), Block(int32(typ)), End())
			},
			features: compiler.DefaultFeatures.Without(compiler.FeatureMultiValue),
			want:     validation,
		},
		{
			name: "multi-value block",
			build: func(b *Builder) {
				typ := b.Type(Types(I32), Types(I32))
				b.Func(nil, Types(I32), nil, I32Const(1), Block(int32(typ)), End())
			},
		},
		{
			name: "memory.init needs data count",
			build: func(b *Builder) {
				b.Memory(1, &one)
				b.Func(nil, nil, nil, I32Const(0), I32Const(0), I32Const(0), Misc(wasm.MiscMemoryInit, 0, 0))
			},
			want: validation,
		},
		{
			name: "memory.init",
			build: func(b *Builder) {
				b.Memory(1, &one)
				seg := b.PassiveData([]byte("hi"))
				b.Func(nil, nil, nil, I32Const(0), I32Const(0), I32Const(2), Misc(wasm.MiscMemoryInit, seg, 0))
			},
		},
		{
			name: "undeclared function reference",
			build: func(b *Builder) {
				b.Func(nil, Types(FuncRef), nil, RefFunc(0))
			},
			want: validation,
		},
		{
			name: "declared function reference",
			build: func(b *Builder) {
				f := b.Func(nil, Types(FuncRef), nil, RefFunc(0))
				b.ExportFunc("f", f)
			},
		},
		{
			name: "reference types disabled",
			build: func(b *Builder) {
				b.Func(nil, Types(Extern), nil, RefNull(Extern))
			},
			features: compiler.DefaultFeatures.Without(compiler.FeatureReferenceTypes),
			want:     validation,
		},
		{
			name: "simd disabled",
			build: func(b *Builder) {
				b.Func(nil, nil, nil, wasm.Instruction{Opcode: wasm.OpPrefixSIMD, Imm: wasm.PrefixImm{SubOpcode: 12}})
			},
			want: validation,
		},
		{
			name: "simd enabled but unsupported",
			build: func(b *Builder) {
				b.Func(nil, nil, nil, wasm.Instruction{Opcode: wasm.OpPrefixSIMD, Imm: wasm.PrefixImm{SubOpcode: 12}})
			},
			features: compiler.DefaultFeatures.With(compiler.FeatureSIMD),
			want:     unsupported,
		},
		{
			name: "call_indirect on externref table",
			build: func(b *Builder) {
				b.Table(Extern, 1, nil)
				typ := b.Type(nil, nil)
				b.Func(nil, nil, nil, I32Const(0), CallIndirect(typ, 0))
			},
			want: validation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New()
			tt.build(b)
			features := tt.features
			if features == 0 {
				features = compiler.DefaultFeatures
			}
			err := validateAll(t, b, features)
			switch {
			case tt.want == nil && err != nil:
				t.Fatalf("unexpected error: %v", err)
			case tt.want != nil && !stderrors.Is(err, tt.want):
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFuncValidator_Heights(t *testing.T) {
	b := New()
	b.Func(Types(I32), Types(I32), nil,
		LocalGet(0), I32Const(1), I32Const(2), Op(wasm.OpI32Add), Op(wasm.OpI32Add))
	m := b.Module()
	info := compiler.NewModuleInfo(m, compiler.DefaultFeatures)
	fb, err := compiler.ReadFunction(info, 0)
	if err != nil {
		t.Fatal(err)
	}
	v, err := compiler.NewFuncValidator(info, fb)
	if err != nil {
		t.Fatal(err)
	}
	var heights []int
	for _, ev := range fb.Events {
		if err := v.Step(ev); err != nil {
			t.Fatal(err)
		}
		heights = append(heights, v.Height())
	}
	want := []int{1, 2, 3, 2, 1, 1}
	if len(heights) != len(want) {
		t.Fatalf("got %d events, want %d", len(heights), len(want))
	}
	for i := range want {
		if heights[i] != want[i] {
			t.Errorf("height after event %d = %d, want %d", i, heights[i], want[i])
		}
	}
	if v.MaxHeight() != 3 {
		t.Errorf("MaxHeight = %d, want 3", v.MaxHeight())
	}
	if err := v.Finish(); err != nil {
		t.Error(err)
	}
	if !v.Done() {
		t.Error("validator not done after final end")
	}
}

func TestValidateFunction_ErrorLocation(t *testing.T) {
	b := New()
	b.ImportFunc("env", "f", nil, nil)
	b.Func(nil, nil, nil, Op(wasm.OpNop), Op(wasm.OpI32Add))
	err := validateAll(t, b, compiler.DefaultFeatures)
	var ce *errors.CompileError
	if !stderrors.As(err, &ce) {
		t.Fatalf("got %v, want CompileError", err)
	}
	if ce.FuncIndex != 1 {
		t.Errorf("FuncIndex = %d, want 1", ce.FuncIndex)
	}
	if ce.Offset != 1 {
		t.Errorf("Offset = %d, want 1", ce.Offset)
	}
}
