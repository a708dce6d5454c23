package engine_test

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/tetratelabs/wazero"
	"pgregory.net/rapid"

	"github.com/wippyai/wasm-engine/compiler/optimizing"
	"github.com/wippyai/wasm-engine/compiler/singlepass"
	"github.com/wippyai/wasm-engine/engine"
	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/runtime"
	"github.com/wippyai/wasm-engine/types"
)

// Both backends agree with wazero on results and traps of random integer
// expressions.
func TestDifferential_Wazero(t *testing.T) {
	ctx := context.Background()
	ref := wazero.NewRuntime(ctx)
	t.Cleanup(func() { ref.Close(ctx) })

	for _, backend := range []string{singlepass.Name, optimizing.Name} {
		t.Run(backend, func(t *testing.T) {
			rt := runtime.New(newEngine(t, engine.Config{Backend: backend}))
			rapid.Check(t, func(t *rapid.T) {
				wasmBytes := drawModule(t)

				mod, err := rt.Load(ctx, wasmBytes)
				if err != nil {
					t.Fatal(err)
				}
				inst, err := mod.Instantiate(ctx)
				if err != nil {
					t.Fatal(err)
				}
				want, err := ref.Instantiate(ctx, wasmBytes)
				if err != nil {
					t.Fatal(err)
				}
				defer want.Close(ctx)

				for _, exp := range inst.Exports() {
					x := rapid.Int32().Draw(t, exp.Name+".x")
					y := rapid.Int32().Draw(t, exp.Name+".y")

					got, gotErr := inst.Call(ctx, exp.Name, types.ValueI32(x), types.ValueI32(y))
					res, refErr := want.ExportedFunction(exp.Name).Call(ctx, uint64(uint32(x)), uint64(uint32(y)))

					if refErr != nil {
						var re *errors.RuntimeError
						if !stderrors.As(gotErr, &re) {
							t.Fatalf("%s(%d, %d): wazero trapped with %q, got %v", exp.Name, x, y, refErr, gotErr)
						}
						if !strings.Contains(refErr.Error(), re.Trap.String()) {
							t.Fatalf("%s(%d, %d): trap %q, wazero %q", exp.Name, x, y, re.Trap, refErr)
						}
						continue
					}
					if gotErr != nil {
						t.Fatalf("%s(%d, %d): %v, wazero returned %d", exp.Name, x, y, gotErr, int32(res[0]))
					}
					if got[0].I32() != int32(uint32(res[0])) {
						t.Fatalf("%s(%d, %d) = %d, wazero %d", exp.Name, x, y, got[0].I32(), int32(uint32(res[0])))
					}
				}
			})
		})
	}
}
