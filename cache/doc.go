// Package cache keeps compiled artifacts so a module is compiled once per
// engine configuration.
//
// The memory tier is an LRU of live artifacts. The optional disk tier is
// a bbolt database holding serialized artifacts next to msgpack entry
// records (module name, header, size, hit count). Disk entries are loaded
// with full validation; an entry the engine rejects, for example after an
// upgrade changed the backend version, is deleted and recompiled.
package cache
