package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wippyai/wasm-engine/engine"
	. "github.com/wippyai/wasm-engine/internal/wasmtest"
	"github.com/wippyai/wasm-engine/middleware"
	"github.com/wippyai/wasm-engine/wasm"
)

// doubler imports wasmrun.print-i32 and exports main(x) which prints and
// returns 2x.
func doubler() []byte {
	b := New()
	printI32 := b.ImportFunc("wasmrun", "print-i32", Types(I32), nil)
	b.ExportFunc("main", b.Func(Types(I32), Types(I32), nil,
		LocalGet(0), I32Const(2), Op(wasm.OpI32Mul), LocalTee(0),
		Call(printI32),
		LocalGet(0)))
	return b.Bytes()
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append([]string{"--color", "off", "--log-level", "error"}, args...))
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("wasmrun %s: %v", strings.Join(args, " "), err)
	}
	return out.String()
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doubler.wasm")
	if err := os.WriteFile(path, doubler(), 0o644); err != nil {
		t.Fatal(err)
	}
	got := execute(t, "run", path, "--", "21")
	if want := "42\ni32:42\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}

	// compiled artifacts run the same way
	artifactPath := filepath.Join(dir, "doubler.wasmu")
	execute(t, "compile", path, "-o", artifactPath)
	if got := execute(t, "run", artifactPath, "--", "5"); got != "10\ni32:10\n" {
		t.Errorf("artifact output = %q", got)
	}
}

func TestInspectCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "add.wasm")
	if err := os.WriteFile(path, AddModule(), 0o644); err != nil {
		t.Fatal(err)
	}
	got := execute(t, "inspect", path)
	for _, want := range []string{"Imports (1)", "env.add func(i32, i32) -> (i32)", "Exports (1)", "run func() -> (i32)"} {
		if !strings.Contains(got, want) {
			t.Errorf("inspect output lacks %q:\n%s", want, got)
		}
	}
}

func TestDescribe_Plain(t *testing.T) {
	e, err := engine.New(engine.Config{})
	if err != nil {
		t.Fatal(err)
	}
	a, err := e.Compile(context.Background(), AddModule())
	if err != nil {
		t.Fatal(err)
	}
	got := describe("add.wasm", a, false)
	if strings.Contains(got, "\x1b[") {
		t.Errorf("plain output contains escape sequences:\n%q", got)
	}
	if !strings.Contains(got, "Functions (1)") {
		t.Errorf("missing function list:\n%s", got)
	}
}

func TestDenyLists(t *testing.T) {
	mws, err := denyLists([]string{"floats", "0x40", "16"})
	if err != nil {
		t.Fatal(err)
	}
	if len(mws) != 2 {
		t.Fatalf("got %d middlewares, want 2", len(mws))
	}
	if mws[0].Name() != "deny-floats" || mws[1].Name() != "deny" {
		t.Errorf("names %q, %q", mws[0].Name(), mws[1].Name())
	}
	if _, ok := mws[1].(*middleware.DenyList); !ok {
		t.Errorf("got %T", mws[1])
	}
	if _, err := denyLists([]string{"memory.grow"}); err == nil {
		t.Error("accepted an opcode name")
	}
	if _, err := denyLists([]string{"256"}); err == nil {
		t.Error("accepted an opcode out of byte range")
	}
}
