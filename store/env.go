package store

import (
	"context"

	"github.com/wippyai/wasm-engine/types"
	"github.com/wippyai/wasm-engine/vm"
)

// FunctionEnv is host state shared by the host functions it is passed to.
// The store keeps it alive for its own lifetime.
type FunctionEnv[T any] struct {
	store *Store
	data  *T
}

// NewFunctionEnv stores data in s.
func NewFunctionEnv[T any](s *Store, data T) *FunctionEnv[T] {
	env := &FunctionEnv[T]{store: s, data: &data}
	s.envs = append(s.envs, env)
	return env
}

// Data returns a pointer to the environment's value.
func (e *FunctionEnv[T]) Data() *T { return e.data }

func (e *FunctionEnv[T]) Store() *Store { return e.store }

// HostFuncWithEnv is a host function receiving its environment.
type HostFuncWithEnv[T any] func(ctx context.Context, env *FunctionEnv[T], caller *Caller, args []types.Value) ([]types.Value, error)

// NewHostFunctionWithEnv creates a host function bound to env.
func NewHostFunctionWithEnv[T any](s *Store, env *FunctionEnv[T], ft *types.FunctionType, fn HostFuncWithEnv[T]) *Function {
	return NewHostFunction(s, ft, func(ctx context.Context, caller *Caller, args []types.Value) ([]types.Value, error) {
		return fn(ctx, env, caller, args)
	})
}

// NewExternRef wraps a host value as an externref owned by s. A nil v
// yields the null reference.
func NewExternRef(s *Store, v any) types.Value {
	if v == nil {
		return types.NullRef(types.ExternRef)
	}
	return types.ValueFromRaw(types.ExternRef, s.objects.AddExtern(v))
}

// ExternRefValue returns the host value behind an externref created in
// the store reachable from objects.
func ExternRefValue(objects *vm.Objects, ref types.Value) (any, bool) {
	if ref.Type() != types.ExternRef || ref.IsNull() {
		return nil, false
	}
	return objects.Extern(ref.Raw())
}
