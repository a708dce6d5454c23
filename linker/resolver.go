package linker

import (
	"slices"

	"github.com/wippyai/wasm-engine/store"
)

// Resolver finds the extern satisfying an import.
type Resolver interface {
	Resolve(module, name string) (store.Extern, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(module, name string) (store.Extern, bool)

func (f ResolverFunc) Resolve(module, name string) (store.Extern, bool) {
	return f(module, name)
}

// NamedResolverChain tries its resolvers in order. The first hit wins.
type NamedResolverChain struct {
	resolvers []Resolver
}

// NewNamedResolverChain creates a chain over rs. Nil resolvers are skipped.
func NewNamedResolverChain(rs ...Resolver) *NamedResolverChain {
	c := &NamedResolverChain{}
	for _, r := range rs {
		if r != nil {
			c.resolvers = append(c.resolvers, r)
		}
	}
	return c
}

// Chain returns a chain consulting a before b.
func Chain(a, b Resolver) *NamedResolverChain {
	return NewNamedResolverChain(a, b)
}

// ChainBack returns a new chain consulting r after the existing resolvers.
func (c *NamedResolverChain) ChainBack(r Resolver) *NamedResolverChain {
	return NewNamedResolverChain(append(slices.Clone(c.resolvers), r)...)
}

// ChainFront returns a new chain consulting r before the existing resolvers.
func (c *NamedResolverChain) ChainFront(r Resolver) *NamedResolverChain {
	return NewNamedResolverChain(append([]Resolver{r}, c.resolvers...)...)
}

// Len returns the number of resolvers in the chain.
func (c *NamedResolverChain) Len() int { return len(c.resolvers) }

func (c *NamedResolverChain) Resolve(module, name string) (store.Extern, bool) {
	for _, r := range c.resolvers {
		if e, ok := r.Resolve(module, name); ok && e != nil {
			return e, true
		}
	}
	return nil, false
}
