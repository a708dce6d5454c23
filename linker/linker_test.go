package linker_test

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/wasm-engine/artifact"
	"github.com/wippyai/wasm-engine/engine"
	"github.com/wippyai/wasm-engine/errors"
	. "github.com/wippyai/wasm-engine/internal/wasmtest"
	"github.com/wippyai/wasm-engine/linker"
	"github.com/wippyai/wasm-engine/store"
	"github.com/wippyai/wasm-engine/types"
)

func compile(t *testing.T, b *Builder) *artifact.Artifact {
	t.Helper()
	e, err := engine.New(engine.Config{})
	if err != nil {
		t.Fatal(err)
	}
	a, err := e.Compile(context.Background(), b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	return a
}

var (
	addType = types.NewFunctionType([]types.Type{types.I32, types.I32}, []types.Type{types.I32})
	subType = types.NewFunctionType([]types.Type{types.I64}, []types.Type{types.I64})
)

func hostAdd(s *store.Store) *store.Function {
	return store.NewHostFunction(s, addType, func(_ context.Context, _ *store.Caller, args []types.Value) ([]types.Value, error) {
		return []types.Value{types.ValueI32(args[0].I32() + args[1].I32())}, nil
	})
}

func TestLink(t *testing.T) {
	a := compile(t, AddBuilder())

	tests := []struct {
		name string
		r    func(s *store.Store) linker.Resolver
		want error
	}{
		{
			name: "resolved",
			r: func(s *store.Store) linker.Resolver {
				im := linker.NewImports()
				im.Define("env", "add", hostAdd(s))
				return im
			},
		},
		{
			name: "missing",
			r: func(*store.Store) linker.Resolver {
				return linker.NewImports()
			},
			want: errors.ErrUnknownImport,
		},
		{
			name: "nil resolver",
			r:    func(*store.Store) linker.Resolver { return nil },
			want: errors.ErrUnknownImport,
		},
		{
			name: "wrong signature",
			r: func(s *store.Store) linker.Resolver {
				im := linker.NewImports()
				im.Define("env", "add", store.NewHostFunction(s, subType, nil))
				return im
			},
			want: errors.ErrIncompatibleType,
		},
		{
			name: "wrong kind",
			r: func(s *store.Store) linker.Resolver {
				g, err := store.NewGlobal(s, types.GlobalType{Type: types.I32}, types.ValueI32(0))
				if err != nil {
					t.Fatal(err)
				}
				return linker.Namespace{"add": g}
			},
			want: errors.ErrIncompatibleType,
		},
		{
			name: "other store",
			r: func(*store.Store) linker.Resolver {
				return linker.Namespace{"add": hostAdd(store.New())}
			},
			want: &errors.LinkError{Kind: errors.LinkWrongStore},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.New()
			r := tt.r(s)
			before := s.Stats()
			externs, err := linker.Link(a, s, r)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Link: %v", err)
				}
				if len(externs) != 1 {
					t.Fatalf("got %d externs, want 1", len(externs))
				}
				return
			}
			if !stderrors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if externs != nil {
				t.Error("externs returned alongside an error")
			}
			if diff := cmp.Diff(before, s.Stats()); diff != "" {
				t.Errorf("store changed by a failed link (-before +after):\n%s", diff)
			}
		})
	}
}

func TestLink_ErrorDetail(t *testing.T) {
	b := New()
	b.ImportFunc("env", "ok", nil, nil)
	b.ImportGlobal("env", "g", I64, true)
	a := compile(t, b)

	s := store.New()
	im := linker.NewImports()
	im.Define("env", "ok", store.NewHostFunction(s, types.NewFunctionType(nil, nil), nil))
	g, err := store.NewGlobal(s, types.GlobalType{Type: types.I64}, types.ValueI64(0))
	if err != nil {
		t.Fatal(err)
	}
	im.Define("env", "g", g)

	_, err = linker.Link(a, s, im)
	var le *errors.LinkError
	if !stderrors.As(err, &le) {
		t.Fatalf("got %v, want LinkError", err)
	}
	want := &errors.LinkError{
		Kind:     errors.LinkIncompatibleType,
		Module:   "env",
		Name:     "g",
		Index:    1,
		Expected: types.GlobalType{Type: types.I64, Mutable: true}.String(),
		Actual:   types.GlobalType{Type: types.I64}.String(),
	}
	if diff := cmp.Diff(want, le); diff != "" {
		t.Errorf("LinkError mismatch (-want +got):\n%s", diff)
	}
}

func TestLink_MemoryCompatibility(t *testing.T) {
	two := uint64(2)
	b := New()
	b.ImportMemory("env", "mem", 1, &two)
	a := compile(t, b)

	tests := []struct {
		name string
		typ  types.MemoryType
		ok   bool
	}{
		{"same", types.MemoryType{Min: 1, Max: 2, HasMax: true}, true},
		{"larger minimum", types.MemoryType{Min: 2, Max: 2, HasMax: true}, true},
		{"smaller maximum", types.MemoryType{Min: 1, Max: 1, HasMax: true}, true},
		{"unbounded", types.MemoryType{Min: 1}, false},
		{"larger maximum", types.MemoryType{Min: 1, Max: 3, HasMax: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.New()
			m, err := store.NewMemory(s, tt.typ)
			if err != nil {
				t.Fatal(err)
			}
			_, err = linker.Link(a, s, linker.Namespace{"mem": m})
			if tt.ok && err != nil {
				t.Fatalf("Link: %v", err)
			}
			if !tt.ok && !stderrors.Is(err, errors.ErrIncompatibleType) {
				t.Fatalf("got %v, want incompatible type", err)
			}
		})
	}
}

func TestNamedResolverChain(t *testing.T) {
	s := store.New()
	first, second := hostAdd(s), hostAdd(s)
	a := linker.Namespace{"add": first}
	b := linker.Namespace{"add": second, "other": second}

	c := linker.Chain(a, b)
	if got, _ := c.Resolve("env", "add"); got != first {
		t.Error("chain did not prefer the first resolver")
	}
	if got, _ := c.Resolve("env", "other"); got != second {
		t.Error("chain did not fall through to the second resolver")
	}
	if _, ok := c.Resolve("env", "missing"); ok {
		t.Error("resolved a missing name")
	}

	front := c.ChainFront(linker.Namespace{"add": second})
	if got, _ := front.Resolve("env", "add"); got != second {
		t.Error("ChainFront resolver not consulted first")
	}
	if c.Len() != 2 || front.Len() != 3 {
		t.Errorf("lengths = %d, %d; want 2, 3", c.Len(), front.Len())
	}
	back := c.ChainBack(linker.ResolverFunc(func(string, string) (store.Extern, bool) { return first, true }))
	if got, _ := back.Resolve("env", "missing"); got != first {
		t.Error("ChainBack resolver not consulted last")
	}
}

func TestImports_Versions(t *testing.T) {
	s := store.New()
	v10, v12, v20 := hostAdd(s), hostAdd(s), hostAdd(s)
	im := linker.NewImports()
	im.Define("math@1.0.0", "add", v10)
	im.Register("math@1.2.0", linker.Namespace{"add": v12})
	im.Define("math@2.0.0", "add", v20)

	tests := []struct {
		module string
		want   store.Extern
	}{
		{"math@1.0.0", v10},
		{"math@1.1", v12},
		{"math@1", v12},
		{"math@2.0", v20},
		{"math@3", nil},
		{"math", nil},
	}
	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			got, ok := im.Resolve(tt.module, "add")
			if ok != (tt.want != nil) || got != tt.want {
				t.Errorf("Resolve(%q) = %v, %v", tt.module, got, ok)
			}
		})
	}
	if diff := cmp.Diff([]string{"math@1.0.0", "math@1.2.0", "math@2.0.0"}, im.Modules()); diff != "" {
		t.Errorf("Modules (-want +got):\n%s", diff)
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want linker.Version
		ok   bool
	}{
		{"1", linker.Version{Major: 1}, true},
		{"0.2", linker.Version{Minor: 2}, true},
		{"1.2.3", linker.Version{Major: 1, Minor: 2, Patch: 3}, true},
		{"", linker.Version{}, false},
		{"1..2", linker.Version{}, false},
		{"1.2.3.4", linker.Version{}, false},
		{"v1", linker.Version{}, false},
		{"+1", linker.Version{}, false},
		{"4294967296", linker.Version{}, false},
	}
	for _, tt := range tests {
		got, ok := linker.ParseVersion(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseVersion(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
	if !(linker.Version{Major: 1, Minor: 3}).Compatible(linker.Version{Major: 1, Minor: 2, Patch: 9}) {
		t.Error("1.3.0 should serve 1.2.9")
	}
	if (linker.Version{Major: 1, Minor: 2}).Compatible(linker.Version{Major: 1, Minor: 2, Patch: 1}) {
		t.Error("1.2.0 should not serve 1.2.1")
	}
}
