package artifact_test

import (
	"bytes"
	"context"
	"encoding/binary"
	stderrors "errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	"github.com/wippyai/wasm-engine/artifact"
	"github.com/wippyai/wasm-engine/compiler"
	"github.com/wippyai/wasm-engine/compiler/singlepass"
	"github.com/wippyai/wasm-engine/errors"
	. "github.com/wippyai/wasm-engine/internal/wasmtest"
	"github.com/wippyai/wasm-engine/wasm"
)

var header = artifact.Header{
	Triple:         "x86_64-linux",
	Backend:        singlepass.Name,
	BackendVersion: singlepass.New().Version(),
	Features:       uint64(compiler.DefaultFeatures),
	CPUFeatures:    0b101,
}

func compile(t testing.TB, b *Builder) *artifact.Artifact {
	t.Helper()
	m := b.Module()
	info := compiler.NewModuleInfo(m, compiler.DefaultFeatures)
	in := &compiler.CompileInput{Module: info, Features: compiler.DefaultFeatures}
	for i := range m.Code {
		fb, err := compiler.ReadFunction(info, uint32(i))
		if err != nil {
			t.Fatal(err)
		}
		in.Bodies = append(in.Bodies, fb)
	}
	fns, err := singlepass.New().Compile(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	a, err := artifact.New(header, m, fns, []string{"metering"})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func sample() *Builder {
	b := AddBuilder()
	one := uint64(1)
	b.Memory(1, &one)
	b.Data(0, []byte("hello"))
	g := b.Global(I64, true, wasm.I64Const(7))
	b.Export("counter", wasm.KindGlobal, g)
	f := b.Func(Types(I32), Types(I32), Types(I64),
		LocalGet(0), Load(wasm.OpI32Load8U, 0))
	b.ExportFunc("peek", f)
	b.Names("sample", map[uint32]string{f: "peek"})
	return b
}

func serialize(t testing.TB, a *artifact.Artifact) []byte {
	t.Helper()
	data, err := artifact.Serialize(a)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestRoundTrip(t *testing.T) {
	a := compile(t, sample())
	data := serialize(t, a)

	loaders := map[string]func([]byte, artifact.Header) (*artifact.Artifact, error){
		"checked":   artifact.Deserialize,
		"unchecked": artifact.DeserializeUnchecked,
	}
	for name, load := range loaders {
		t.Run(name, func(t *testing.T) {
			got, err := load(data, header)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(serialize(t, got), data) {
				t.Error("re-serialized artifact differs")
			}
			if got.Name() != "sample" {
				t.Errorf("Name = %q, want sample", got.Name())
			}
			if diff := cmp.Diff([]string{"metering"}, got.Middlewares); diff != "" {
				t.Errorf("middlewares (-want +got):\n%s", diff)
			}
			if len(got.Imports()) != 1 || got.Imports()[0].Name != "add" {
				t.Errorf("imports = %v", got.Imports())
			}
			var exports []string
			for _, e := range got.Exports() {
				exports = append(exports, e.Name+":"+e.Type.String())
			}
			var want []string
			for _, e := range a.Exports() {
				want = append(want, e.Name+":"+e.Type.String())
			}
			if diff := cmp.Diff(want, exports); diff != "" {
				t.Errorf("exports (-want +got):\n%s", diff)
			}
			peek := got.Module().NumImportedFuncs() + 1
			if got.FuncName(uint32(peek)) != "peek" {
				t.Errorf("FuncName(%d) = %q", peek, got.FuncName(uint32(peek)))
			}
		})
	}
}

func TestDeserialize_Aliasing(t *testing.T) {
	data := serialize(t, compile(t, sample()))
	checked, err := artifact.Deserialize(data, header)
	if err != nil {
		t.Fatal(err)
	}
	unchecked, err := artifact.DeserializeUnchecked(data, header)
	if err != nil {
		t.Fatal(err)
	}
	code := checked.Functions()[0].Code
	at := bytes.Index(data, code)
	if at < 0 {
		t.Fatal("function code not found in serialized bytes")
	}
	before := code[0]
	data[at] ^= 0xFF
	if checked.Functions()[0].Code[0] != before {
		t.Error("checked artifact aliases its input")
	}
	if unchecked.Functions()[0].Code[0] == before {
		t.Error("unchecked artifact copied its input")
	}

	seg := unchecked.Module().Data[0].Init
	data[bytes.Index(data, []byte("hello"))] = 'j'
	if string(seg) != "jello" {
		t.Errorf("unchecked data segment = %q, not a view of its input", seg)
	}
	if got := string(checked.Module().Data[0].Init); got != "hello" {
		t.Errorf("checked data segment = %q, want a copy", got)
	}
}

func TestDeserialize_Header(t *testing.T) {
	data := serialize(t, compile(t, sample()))
	tests := []struct {
		name   string
		host   func(h artifact.Header) artifact.Header
		reason errors.DeserializeReason
	}{
		{"same", func(h artifact.Header) artifact.Header { return h }, ""},
		{"more cpu features", func(h artifact.Header) artifact.Header { h.CPUFeatures |= 0b10; return h }, ""},
		{"missing cpu feature", func(h artifact.Header) artifact.Header { h.CPUFeatures = 0b1; return h }, errors.DeserializeIncompatible},
		{"triple", func(h artifact.Header) artifact.Header { h.Triple = "aarch64-darwin"; return h }, errors.DeserializeIncompatible},
		{"backend", func(h artifact.Header) artifact.Header { h.Backend = "optimizing"; return h }, errors.DeserializeIncompatible},
		{"backend version", func(h artifact.Header) artifact.Header { h.BackendVersion += "+1"; return h }, errors.DeserializeIncompatible},
		{"features", func(h artifact.Header) artifact.Header {
			h.Features = uint64(compiler.DefaultFeatures.Without(compiler.FeatureBulkMemory))
			return h
		}, errors.DeserializeIncompatible},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := tt.host(header)
			for _, load := range []func([]byte, artifact.Header) (*artifact.Artifact, error){
				artifact.Deserialize, artifact.DeserializeUnchecked,
			} {
				_, err := load(data, host)
				switch {
				case tt.reason == "" && err != nil:
					t.Fatalf("unexpected error: %v", err)
				case tt.reason != "" && !stderrors.Is(err, &errors.DeserializeError{Reason: tt.reason}):
					t.Fatalf("got %v, want %s", err, tt.reason)
				}
			}
		})
	}
}

func TestDeserialize_Version(t *testing.T) {
	data := serialize(t, compile(t, sample()))
	data[len(artifact.Magic)]++
	_, err := artifact.Deserialize(data, header)
	if !stderrors.Is(err, &errors.DeserializeError{Reason: errors.DeserializeVersion}) {
		t.Fatalf("got %v, want version error", err)
	}
}

func TestDeserialize_Truncated(t *testing.T) {
	data := serialize(t, compile(t, sample()))
	for n := range len(data) {
		_, err := artifact.Deserialize(data[:n], header)
		if !stderrors.Is(err, &errors.DeserializeError{Reason: errors.DeserializeCorrupt}) {
			t.Fatalf("truncated to %d bytes: got %v, want corrupt", n, err)
		}
	}
}

func TestDeserialize_SectionTable(t *testing.T) {
	data := serialize(t, compile(t, sample()))
	table := len(artifact.Magic) + 2 +
		2 + len(header.Triple) + 2 + len(header.Backend) + 2 + len(header.BackendVersion) +
		16 + 4
	entry := func(id int) int { return table + (id-1)*12 }

	tests := []struct {
		name   string
		mutate func(buf []byte)
		want   string
	}{
		{
			name:   "code length past the end",
			mutate: func(buf []byte) { binary.LittleEndian.PutUint32(buf[entry(3)+8:], math.MaxUint32) },
			want:   "code section exceeds the buffer",
		},
		{
			name: "names over code",
			mutate: func(buf []byte) {
				copy(buf[entry(4)+4:entry(4)+8], buf[entry(3)+4:entry(3)+8])
			},
			want: "names section overlaps its predecessor",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := bytes.Clone(data)
			tt.mutate(buf)
			_, err := artifact.Deserialize(buf, header)
			if !stderrors.Is(err, &errors.DeserializeError{Reason: errors.DeserializeCorrupt}) {
				t.Fatalf("got %v, want corrupt", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("%q does not mention %q", err, tt.want)
			}
		})
	}
}

// Flipping bytes never crashes the checked loader; whatever it accepts
// passes code verification.
func TestDeserialize_Mutations(t *testing.T) {
	a := compile(t, sample())
	data := serialize(t, a)
	rapid.Check(t, func(t *rapid.T) {
		buf := bytes.Clone(data)
		flips := rapid.IntRange(1, 8).Draw(t, "flips")
		for range flips {
			i := rapid.IntRange(0, len(buf)-1).Draw(t, "at")
			buf[i] ^= rapid.Byte().Draw(t, "mask")
		}
		got, err := artifact.Deserialize(buf, header)
		if err != nil {
			if !stderrors.Is(err, errors.ErrDeserialize) {
				t.Fatalf("error is not a DeserializeError: %v", err)
			}
			return
		}
		bounds := got.Bounds()
		for i, f := range got.Functions() {
			bounds.Params = uint32(got.Types()[f.TypeIndex].NumParams())
			if err := f.Verify(bounds); err != nil {
				t.Fatalf("accepted function %d fails verification: %v", i, err)
			}
		}
	})
}

func TestDigest(t *testing.T) {
	d1, err := compile(t, sample()).Digest()
	if err != nil {
		t.Fatal(err)
	}
	d2, err := compile(t, sample()).Digest()
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Errorf("equal compilations have digests %s and %s", d1, d2)
	}
	if err := d1.Validate(); err != nil {
		t.Error(err)
	}
	d3, err := compile(t, AddBuilder()).Digest()
	if err != nil {
		t.Fatal(err)
	}
	if d3 == d1 {
		t.Error("different modules share a digest")
	}
}

func TestNew_FunctionCount(t *testing.T) {
	b := sample()
	_, err := artifact.New(header, b.Module(), nil, nil)
	if !stderrors.Is(err, errors.ErrSerialize) {
		t.Fatalf("got %v, want SerializeError", err)
	}
}
