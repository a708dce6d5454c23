package runtime

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/wasm-engine/store"
	"github.com/wippyai/wasm-engine/types"
)

type fd uint32

func TestHostFunction_Signatures(t *testing.T) {
	tests := []struct {
		name string
		fn   any
		want string
		err  bool
	}{
		{name: "plain", fn: func(a, b int32) int32 { return a + b }, want: "func(i32, i32) -> (i32)"},
		{name: "context and caller", fn: func(context.Context, *store.Caller, uint64) {}, want: "func(i64) -> ()"},
		{name: "floats and error", fn: func(float32, float64) (float64, error) { return 0, nil }, want: "func(f32, f64) -> (f64)"},
		{name: "named kind", fn: func(fd) fd { return 0 }, want: "func(i32) -> (i32)"},
		{name: "string parameter", fn: func(string) {}, err: true},
		{name: "bool result", fn: func() bool { return true }, err: true},
		{name: "variadic", fn: func(...int32) {}, err: true},
		{name: "not a function", fn: 42, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft, _, err := HostFunction(tt.fn)
			if tt.err {
				if err == nil {
					t.Fatalf("HostFunction accepted %T", tt.fn)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := ft.String(); got != tt.want {
				t.Errorf("type = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestHostFunction_Call(t *testing.T) {
	type key struct{}
	var seen any
	_, hf, err := HostFunction(func(ctx context.Context, a uint32, b int64, c float32) (uint32, int64, float32) {
		seen = ctx.Value(key{})
		return a + 1, b * 2, c / 2
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.WithValue(context.Background(), key{}, "yes")
	res, err := hf(ctx, nil, []types.Value{types.ValueI32(-1), types.ValueI64(-4), types.ValueF32(3)})
	if err != nil {
		t.Fatal(err)
	}
	if seen != "yes" {
		t.Error("context not passed through")
	}
	got := []uint64{res[0].Raw(), uint64(res[1].I64()), uint64(res[2].F32())}
	if diff := cmp.Diff([]uint64{0, ^uint64(7), 1}, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}

	boom := stderrors.New("boom")
	_, hf, err = HostFunction(func() (int32, error) { return 0, boom })
	if err != nil {
		t.Fatal(err)
	}
	if _, err := hf(context.Background(), nil, nil); !stderrors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
}

func TestToKebabCase(t *testing.T) {
	tests := map[string]string{
		"Add":          "add",
		"AddInts":      "add-ints",
		"GetHTTPURL":   "get-http-url",
		"HTTPServer":   "http-server",
		"GetHTTPS":     "get-https",
		"ParseJSONAPI": "parse-json-api",
		"IOError":      "io-error",
		"GetABCValue":  "get-abc-value",
		"readAll":      "read-all",
		"ReadV2":       "read-v2",
		"X":            "x",
		"":             "",
	}
	for in, want := range tests {
		if got := toKebabCase(in); got != want {
			t.Errorf("toKebabCase(%q) = %q, want %q", in, got, want)
		}
	}
}
