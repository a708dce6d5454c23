package cache

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	dto "github.com/prometheus/client_model/go"
	"go.etcd.io/bbolt"

	"github.com/wippyai/wasm-engine/compiler"
	"github.com/wippyai/wasm-engine/compiler/optimizing"
	"github.com/wippyai/wasm-engine/engine"
	. "github.com/wippyai/wasm-engine/internal/wasmtest"
	"github.com/wippyai/wasm-engine/wasm"
)

func newEngine(t *testing.T, cfg engine.Config) *engine.Engine {
	t.Helper()
	e, err := engine.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func open(t *testing.T, e *engine.Engine, opts Options) *Cache {
	t.Helper()
	c, err := Open(e, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func lookups(t *testing.T, c *Cache, tier, result string) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.metrics.CacheLookups.WithLabelValues(tier, result).Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func TestCache_MemoryTier(t *testing.T) {
	c := open(t, newEngine(t, engine.Config{}), Options{Size: 2})
	ctx := context.Background()

	first, err := c.Compile(ctx, AddModule())
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Compile(ctx, AddModule())
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("second compile did not reuse the cached artifact")
	}
	if got := lookups(t, c, "memory", "hit"); got != 1 {
		t.Errorf("memory hits = %v, want 1", got)
	}
	if entries, _ := c.Entries(); entries != nil {
		t.Errorf("memory-only cache listed disk entries: %v", entries)
	}

	// distinct modules evict the oldest entry
	for i := range int32(3) {
		b := New()
		b.ExportFunc("run", b.Func(nil, Types(I32), nil, I32Const(i)))
		if _, err := c.Compile(ctx, b.Bytes()); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
	if _, ok := c.Get(c.Key(AddModule())); ok {
		t.Error("evicted artifact still cached")
	}
}

func TestCache_DiskTier(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	c, err := Open(newEngine(t, engine.Config{}), Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	a, err := c.Compile(ctx, AddModule())
	if err != nil {
		t.Fatal(err)
	}
	want, err := a.Digest()
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	c = open(t, newEngine(t, engine.Config{}), Options{Dir: dir})
	key := c.Key(AddModule())
	got, ok := c.Get(key)
	if !ok {
		t.Fatal("artifact not found on disk")
	}
	if d, _ := got.Digest(); d != want {
		t.Errorf("digest = %s, want %s", d, want)
	}
	if lookups(t, c, "disk", "hit") != 1 {
		t.Error("disk hit not counted")
	}

	entries, err := c.Entries()
	if err != nil {
		t.Fatal(err)
	}
	wantEntry := Entry{
		Schema:    entrySchema,
		Key:       key.String(),
		Module:    a.Name(),
		Header:    a.Header.String(),
		Digest:    want.String(),
		Functions: len(a.Functions()),
		Hits:      1,
	}
	ignore := cmpopts.IgnoreFields(Entry{}, "Size", "Created", "LastUsed")
	if diff := cmp.Diff([]Entry{wantEntry}, entries, ignore, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("entries (-want +got):\n%s", diff)
	}
	if entries[0].Size == 0 || entries[0].LastUsed.Before(entries[0].Created) {
		t.Errorf("entry size %d, created %v, last used %v", entries[0].Size, entries[0].Created, entries[0].LastUsed)
	}
}

func TestCache_StaleEntry(t *testing.T) {
	c := open(t, newEngine(t, engine.Config{}), Options{Dir: t.TempDir()})
	key := c.Key(AddModule())
	err := c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(artifactsBucket).Put([]byte(key), []byte("not an artifact"))
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(key); ok {
		t.Fatal("corrupt entry loaded")
	}
	err = c.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(artifactsBucket).Get([]byte(key)) != nil {
			t.Error("corrupt entry kept on disk")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// the next compile repopulates the entry
	if _, err := c.Compile(context.Background(), AddModule()); err != nil {
		t.Fatal(err)
	}
	entries, err := c.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("%d entries after recompiling, want 1", len(entries))
	}
}

func TestCache_KeyCoversConfiguration(t *testing.T) {
	wasmBytes := AddModule()
	base := open(t, newEngine(t, engine.Config{}), Options{}).Key(wasmBytes)
	tests := []struct {
		name string
		cfg  engine.Config
	}{
		{name: "backend", cfg: engine.Config{Backend: optimizing.Name}},
		{name: "features", cfg: engine.Config{Features: compiler.DefaultFeatures.Without(compiler.FeatureBulkMemory)}},
		{name: "middleware", cfg: engine.Config{Middlewares: compiler.Chain{namedMiddleware("audit")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := open(t, newEngine(t, tt.cfg), Options{}).Key(wasmBytes)
			if key == base {
				t.Errorf("key %s did not change", key)
			}
			if err := key.Validate(); err != nil {
				t.Error(err)
			}
		})
	}
	if again := open(t, newEngine(t, engine.Config{}), Options{}).Key(wasmBytes); again != base {
		t.Errorf("equal engines derived %s and %s", base, again)
	}
}

func TestCache_RemoveAndPurge(t *testing.T) {
	c := open(t, newEngine(t, engine.Config{}), Options{Dir: t.TempDir()})
	if _, err := c.Compile(context.Background(), AddModule()); err != nil {
		t.Fatal(err)
	}
	key := c.Key(AddModule())
	if err := c.Remove(key); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(key); ok {
		t.Error("removed artifact still cached")
	}

	if _, err := c.Compile(context.Background(), AddModule()); err != nil {
		t.Fatal(err)
	}
	if err := c.Purge(); err != nil {
		t.Fatal(err)
	}
	entries, err := c.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 || c.Len() != 0 {
		t.Errorf("after Purge: %d entries, %d in memory", len(entries), c.Len())
	}
}

func TestUnmarshalEntry_Schema(t *testing.T) {
	e := Entry{Schema: entrySchema + 1, Key: "sha256:00"}
	data, err := e.marshal()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := unmarshalEntry(data); err == nil {
		t.Error("accepted an entry from a newer schema")
	}
}

type namedMiddleware string

func (m namedMiddleware) Name() string { return string(m) }

func (m namedMiddleware) TransformModuleInfo(*wasm.Module) error { return nil }

func (m namedMiddleware) GenerateFunctionMiddleware(uint32) compiler.FunctionMiddleware {
	return passthrough{}
}

type passthrough struct{}

func (passthrough) Feed(ev compiler.Event, state *compiler.MiddlewareReaderState) error {
	state.Push(ev)
	return nil
}
