package cache

import (
	"fmt"
	"time"

	digest "github.com/opencontainers/go-digest"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wippyai/wasm-engine/artifact"
)

// entrySchema is bumped whenever Entry changes incompatibly.
const entrySchema uint16 = 1

// Entry describes one artifact in the on-disk tier.
type Entry struct {
	Schema      uint16    `msgpack:"schema"`
	Key         string    `msgpack:"key"`
	Module      string    `msgpack:"module"`
	Header      string    `msgpack:"header"`
	Middlewares []string  `msgpack:"middlewares"`
	Digest      string    `msgpack:"digest"`
	Size        int       `msgpack:"size"`
	Functions   int       `msgpack:"functions"`
	Created     time.Time `msgpack:"created"`
	LastUsed    time.Time `msgpack:"last_used"`
	Hits        uint64    `msgpack:"hits"`
}

func newEntry(key digest.Digest, a *artifact.Artifact, size int) Entry {
	now := time.Now().UTC()
	e := Entry{
		Schema:      entrySchema,
		Key:         key.String(),
		Module:      a.Name(),
		Header:      a.Header.String(),
		Middlewares: a.Middlewares,
		Size:        size,
		Functions:   len(a.Functions()),
		Created:     now,
		LastUsed:    now,
	}
	if d, err := a.Digest(); err == nil {
		e.Digest = d.String()
	}
	return e
}

func (e Entry) marshal() ([]byte, error) {
	return msgpack.Marshal(&e)
}

func unmarshalEntry(data []byte) (Entry, error) {
	var e Entry
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return Entry{}, err
	}
	if e.Schema != entrySchema {
		return Entry{}, fmt.Errorf("entry schema %d, want %d", e.Schema, entrySchema)
	}
	return e, nil
}
