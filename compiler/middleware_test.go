package compiler_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/wasm-engine/compiler"
	"github.com/wippyai/wasm-engine/errors"
	. "github.com/wippyai/wasm-engine/internal/wasmtest"
	"github.com/wippyai/wasm-engine/wasm"
)

// funcMiddleware adapts a function to both middleware interfaces.
type funcMiddleware struct {
	name   string
	feed   func(ev compiler.Event, s *compiler.MiddlewareReaderState) error
	module func(m *wasm.Module) error
}

func (f *funcMiddleware) Name() string { return f.name }

func (f *funcMiddleware) TransformModuleInfo(m *wasm.Module) error {
	if f.module == nil {
		return nil
	}
	return f.module(m)
}

func (f *funcMiddleware) GenerateFunctionMiddleware(uint32) compiler.FunctionMiddleware {
	return f
}

func (f *funcMiddleware) Feed(ev compiler.Event, s *compiler.MiddlewareReaderState) error {
	return f.feed(ev, s)
}

func readBody(t *testing.T, b *Builder) *compiler.FunctionBody {
	t.Helper()
	info := compiler.NewModuleInfo(b.Module(), compiler.DefaultFeatures)
	fb, err := compiler.ReadFunction(info, 0)
	if err != nil {
		t.Fatal(err)
	}
	return fb
}

func opcodes(evs []compiler.Event) []byte {
	out := make([]byte, len(evs))
	for i, ev := range evs {
		out[i] = ev.Opcode
	}
	return out
}

func TestChain_TransformFunction(t *testing.T) {
	b := New()
	b.Func(nil, Types(I32), nil, I32Const(1), I32Const(2), Op(wasm.OpI32Add))

	// add -> sub, then every i32.const gets a nop, then the first nop is
	// dropped. Each stage sees the output of the one before it.
	rewrite := &funcMiddleware{name: "rewrite", feed: func(ev compiler.Event, s *compiler.MiddlewareReaderState) error {
		if ev.Opcode == wasm.OpI32Add {
			ev.Opcode = wasm.OpI32Sub
		}
		s.Push(ev)
		return nil
	}}
	inject := &funcMiddleware{name: "inject", feed: func(ev compiler.Event, s *compiler.MiddlewareReaderState) error {
		s.Push(ev)
		if ev.Opcode == wasm.OpI32Const {
			s.Push(compiler.Event{Opcode: wasm.OpNop, Offset: ev.Offset})
		}
		return nil
	}}
	dropped := false
	dropNops := &funcMiddleware{name: "drop", feed: func(ev compiler.Event, s *compiler.MiddlewareReaderState) error {
		if ev.Opcode == wasm.OpNop && !dropped {
			dropped = true
			return nil
		}
		s.Push(ev)
		return nil
	}}

	fb := readBody(t, b)
	chain := compiler.Chain{rewrite, inject, dropNops}
	if err := chain.TransformFunction(fb); err != nil {
		t.Fatal(err)
	}
	want := []byte{wasm.OpI32Const, wasm.OpI32Const, wasm.OpNop, wasm.OpI32Sub, wasm.OpEnd}
	if diff := cmp.Diff(want, opcodes(fb.Events)); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"rewrite", "inject", "drop"}, chain.Names()); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
}

func TestChain_Errors(t *testing.T) {
	b := New()
	b.ImportFunc("env", "f", nil, nil)
	b.Func(nil, nil, nil, Op(wasm.OpNop))

	fail := &funcMiddleware{
		name: "deny",
		feed: func(ev compiler.Event, s *compiler.MiddlewareReaderState) error {
			return fmt.Errorf("opcode 0x%02x denied", ev.Opcode)
		},
		module: func(*wasm.Module) error { return fmt.Errorf("no") },
	}
	chain := compiler.Chain{fail}

	err := chain.TransformFunction(readBody(t, b))
	var me *errors.MiddlewareError
	if !stderrors.As(err, &me) {
		t.Fatalf("got %v, want MiddlewareError", err)
	}
	if me.Middleware != "deny" || me.FuncIndex != 1 {
		t.Errorf("got middleware %q in function %d, want deny in 1", me.Middleware, me.FuncIndex)
	}

	err = chain.TransformModule(b.Module())
	if !stderrors.As(err, &me) || me.FuncIndex != -1 {
		t.Errorf("module transform: got %v, want module-level MiddlewareError", err)
	}
}

func TestChain_Empty(t *testing.T) {
	b := New()
	b.Func(nil, nil, nil, Op(wasm.OpNop))
	fb := readBody(t, b)
	before := opcodes(fb.Events)
	if err := compiler.Chain(nil).TransformFunction(fb); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(before, opcodes(fb.Events)); diff != "" {
		t.Errorf("empty chain changed events (-want +got):\n%s", diff)
	}
}
