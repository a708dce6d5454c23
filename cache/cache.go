package cache

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	digest "github.com/opencontainers/go-digest"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-engine/artifact"
	"github.com/wippyai/wasm-engine/engine"
	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/internal/metrics"
)

const (
	// DefaultSize is the in-memory tier capacity in artifacts.
	DefaultSize = 64
	dbFile      = "artifacts.db"
)

var (
	artifactsBucket = []byte("artifacts")
	entriesBucket   = []byte("entries")
)

// Options configures a Cache.
type Options struct {
	// Dir holds the on-disk tier. Empty disables it.
	Dir string
	// Size bounds the in-memory tier. Default DefaultSize.
	Size int
}

// Cache stores compiled artifacts for one engine in two tiers: an LRU of
// live artifacts and a bbolt database of serialized ones. Keys cover the
// module bytes, the engine header and the middleware chain, so an engine
// with a different configuration never sees another's entries.
//
// Cache is safe for concurrent use.
type Cache struct {
	engine  *engine.Engine
	mem     *lru.Cache[digest.Digest, *artifact.Artifact]
	db      *bbolt.DB
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Open creates a cache for e.
func Open(e *engine.Engine, opts Options) (*Cache, error) {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	mem, err := lru.New[digest.Digest, *artifact.Artifact](opts.Size)
	if err != nil {
		return nil, err
	}
	c := &Cache{
		engine:  e,
		mem:     mem,
		metrics: e.Metrics(),
		logger:  e.Logger().With(zap.String("component", "cache")),
	}
	if opts.Dir == "" {
		return c, nil
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	path := filepath.Join(opts.Dir, dbFile)
	c.db, err = bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening cache database %s: %w", path, err)
	}
	err = c.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{artifactsBucket, entriesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.db.Close()
		return nil, fmt.Errorf("initializing cache database: %w", err)
	}
	c.logger.Debug("cache opened", zap.String("path", path), zap.Int("size", opts.Size))
	return c, nil
}

// Close releases the on-disk tier.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Key derives the cache key of wasmBytes for the cache's engine.
func (c *Cache) Key(wasmBytes []byte) digest.Digest {
	d := digest.Canonical.Digester()
	h := d.Hash()
	fmt.Fprintf(h, "%s\x00", c.engine.Header())
	for _, name := range c.engine.Config().Middlewares.Names() {
		fmt.Fprintf(h, "%s\x00", name)
	}
	h.Write(wasmBytes)
	return d.Digest()
}

// Compile returns the cached artifact for wasmBytes, compiling and storing
// it on a miss.
func (c *Cache) Compile(ctx context.Context, wasmBytes []byte) (*artifact.Artifact, error) {
	key := c.Key(wasmBytes)
	if a, ok := c.Get(key); ok {
		return a, nil
	}
	a, err := c.engine.Compile(ctx, wasmBytes)
	if err != nil {
		return nil, err
	}
	if err := c.Put(key, a); err != nil {
		c.logger.Warn("caching artifact failed", zap.Stringer("key", key), zap.Error(err))
	}
	return a, nil
}

// Get looks key up in memory, then on disk. A disk entry that no longer
// loads is removed and reported as a miss.
func (c *Cache) Get(key digest.Digest) (*artifact.Artifact, bool) {
	if a, ok := c.mem.Get(key); ok {
		c.lookup("memory", true, key)
		return a, true
	}
	c.lookup("memory", false, key)
	if c.db == nil {
		return nil, false
	}

	var data []byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		// bbolt values are only valid inside the transaction
		data = bytes.Clone(tx.Bucket(artifactsBucket).Get([]byte(key)))
		return nil
	})
	if err != nil || data == nil {
		c.lookup("disk", false, key)
		return nil, false
	}
	a, err := c.engine.Deserialize(data)
	if err != nil {
		c.lookup("disk", false, key)
		var de *errors.DeserializeError
		if stderrors.As(err, &de) {
			c.logger.Info("dropping stale cache entry", zap.Stringer("key", key), zap.String("reason", string(de.Reason)))
			_ = c.Remove(key)
		}
		return nil, false
	}
	c.lookup("disk", true, key)
	_ = c.touch(key)
	c.mem.Add(key, a)
	return a, true
}

// Put stores a under key in both tiers.
func (c *Cache) Put(key digest.Digest, a *artifact.Artifact) error {
	c.mem.Add(key, a)
	if c.db == nil {
		return nil
	}
	data, err := c.engine.Serialize(a)
	if err != nil {
		return err
	}
	entry := newEntry(key, a, len(data))
	meta, err := entry.marshal()
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(artifactsBucket).Put([]byte(key), data); err != nil {
			return err
		}
		return tx.Bucket(entriesBucket).Put([]byte(key), meta)
	})
}

// Remove deletes key from both tiers.
func (c *Cache) Remove(key digest.Digest) error {
	c.mem.Remove(key)
	if c.db == nil {
		return nil
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(artifactsBucket).Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket(entriesBucket).Delete([]byte(key))
	})
}

// Purge empties both tiers.
func (c *Cache) Purge() error {
	c.mem.Purge()
	if c.db == nil {
		return nil
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{artifactsBucket, entriesBucket} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

// Len returns the number of artifacts in the in-memory tier.
func (c *Cache) Len() int { return c.mem.Len() }

// Entries lists the on-disk entries in key order.
func (c *Cache) Entries() ([]Entry, error) {
	if c.db == nil {
		return nil, nil
	}
	var out []Entry
	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(entriesBucket).ForEach(func(k, v []byte) error {
			e, err := unmarshalEntry(v)
			if err != nil {
				return fmt.Errorf("entry %s: %w", k, err)
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

func (c *Cache) touch(key digest.Digest) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		e, err := unmarshalEntry(v)
		if err != nil {
			return err
		}
		e.Hits++
		e.LastUsed = time.Now().UTC()
		meta, err := e.marshal()
		if err != nil {
			return err
		}
		return b.Put([]byte(key), meta)
	})
}

func (c *Cache) lookup(tier string, hit bool, key digest.Digest) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.metrics.CacheLookups.WithLabelValues(tier, result).Inc()
	c.logger.Debug("cache lookup", zap.String("tier", tier), zap.String("result", result), zap.Stringer("key", key))
}
