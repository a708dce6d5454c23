package linker

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/wippyai/wasm-engine/store"
)

// Version is the semantic version suffix of a module name.
type Version struct {
	Major uint32
	Minor uint32
	Patch uint32
}

// ParseVersion parses "1", "1.2" or "1.2.3".
func ParseVersion(s string) (Version, bool) {
	if s == "" {
		return Version{}, false
	}
	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		return Version{}, false
	}
	var v Version
	for i, p := range parts {
		if p == "" || p[0] == '+' || p[0] == '-' {
			return Version{}, false
		}
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return Version{}, false
		}
		switch i {
		case 0:
			v.Major = uint32(n)
		case 1:
			v.Minor = uint32(n)
		case 2:
			v.Patch = uint32(n)
		}
	}
	return v, true
}

// Compatible reports whether v can serve a request for want: same major,
// and not older than want.
func (v Version) Compatible(want Version) bool {
	if v.Major != want.Major {
		return false
	}
	if v.Minor != want.Minor {
		return v.Minor > want.Minor
	}
	return v.Patch >= want.Patch
}

func (v Version) less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// String returns the version as "major.minor.patch".
func (v Version) String() string {
	return strconv.FormatUint(uint64(v.Major), 10) + "." +
		strconv.FormatUint(uint64(v.Minor), 10) + "." +
		strconv.FormatUint(uint64(v.Patch), 10)
}

// parseNameVersion splits "env@1.2" into its base name and version. A
// suffix that is not a version stays part of the name.
func parseNameVersion(module string) (string, *Version) {
	at := strings.LastIndexByte(module, '@')
	if at < 0 {
		return module, nil
	}
	v, ok := ParseVersion(module[at+1:])
	if !ok {
		return module, nil
	}
	return module[:at], &v
}

// Namespace maps field names to externs within one import module.
type Namespace map[string]store.Extern

// Resolve looks up name, ignoring module.
func (ns Namespace) Resolve(_, name string) (store.Extern, bool) {
	e, ok := ns[name]
	return e, ok
}

// Names returns the defined field names in sorted order.
func (ns Namespace) Names() []string {
	return slices.Sorted(maps.Keys(ns))
}

type versioned struct {
	version Version
	module  string
}

// Imports is a resolver keyed by module and field name.
type Imports struct {
	modules  map[string]Namespace
	versions map[string][]versioned // base name -> versioned registrations
	mu       sync.RWMutex
}

// NewImports creates an empty import object.
func NewImports() *Imports {
	return &Imports{
		modules:  make(map[string]Namespace),
		versions: make(map[string][]versioned),
	}
}

// Define binds module.name to e, replacing any earlier definition.
func (im *Imports) Define(module, name string, e store.Extern) {
	im.mu.Lock()
	defer im.mu.Unlock()
	ns, ok := im.modules[module]
	if !ok {
		ns = make(Namespace)
		im.add(module, ns)
	}
	ns[name] = e
}

// Register binds a whole namespace under module. Fields already defined
// under module are replaced by those in ns.
func (im *Imports) Register(module string, ns Namespace) {
	im.mu.Lock()
	defer im.mu.Unlock()
	dst, ok := im.modules[module]
	if !ok {
		dst = make(Namespace, len(ns))
		im.add(module, dst)
	}
	maps.Copy(dst, ns)
}

func (im *Imports) add(module string, ns Namespace) {
	im.modules[module] = ns
	base, v := parseNameVersion(module)
	if v == nil {
		return
	}
	im.versions[base] = append(im.versions[base], versioned{version: *v, module: module})
	slices.SortFunc(im.versions[base], func(a, b versioned) int {
		switch {
		case a.version.less(b.version):
			return 1
		case b.version.less(a.version):
			return -1
		}
		return 0
	})
}

// Contains reports whether module.name is defined exactly.
func (im *Imports) Contains(module, name string) bool {
	im.mu.RLock()
	defer im.mu.RUnlock()
	_, ok := im.modules[module][name]
	return ok
}

// Modules returns the registered module names in sorted order.
func (im *Imports) Modules() []string {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return slices.Sorted(maps.Keys(im.modules))
}

// Resolve implements Resolver. An exact module match is preferred; a
// versioned request otherwise falls back to the highest compatible
// registration of the same base name.
func (im *Imports) Resolve(module, name string) (store.Extern, bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()
	if ns, ok := im.modules[module]; ok {
		if e, ok := ns[name]; ok {
			return e, true
		}
	}
	base, want := parseNameVersion(module)
	if want == nil {
		return nil, false
	}
	for _, cand := range im.versions[base] {
		if !cand.version.Compatible(*want) {
			continue
		}
		if e, ok := im.modules[cand.module][name]; ok {
			Logger().Debug("resolved versioned import",
				zapModule(module), zapName(name), zapResolved(cand.module))
			return e, true
		}
	}
	return nil, false
}
