package compiler

import (
	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/wasm"
)

// ModuleMiddleware transforms a module before compilation. It is asked once
// per module to amend module metadata and then once per function body for
// a fresh FunctionMiddleware, so per-function state is never shared.
type ModuleMiddleware interface {
	// Name identifies the middleware in errors and artifact metadata.
	Name() string
	// TransformModuleInfo may add types, globals or exports to m. It runs
	// before any function is transformed.
	TransformModuleInfo(m *wasm.Module) error
	// GenerateFunctionMiddleware returns the stage for one function body.
	// It may be called concurrently for different functions.
	GenerateFunctionMiddleware(localFuncIndex uint32) FunctionMiddleware
}

// FunctionMiddleware transforms the event stream of one function body.
type FunctionMiddleware interface {
	// Feed receives one event. Pushing it to state passes it through;
	// pushing nothing drops it; pushing other events rewrites or injects.
	Feed(ev Event, state *MiddlewareReaderState) error
}

// MiddlewareReaderState collects the events a stage emits for the next one.
type MiddlewareReaderState struct {
	out []Event
}

// Push emits an event to the next stage.
func (s *MiddlewareReaderState) Push(ev Event) {
	s.out = append(s.out, ev)
}

// PushAll emits events in order.
func (s *MiddlewareReaderState) PushAll(evs ...Event) {
	s.out = append(s.out, evs...)
}

// Chain is an ordered list of middlewares. Each stage sees the output of
// the previous one.
type Chain []ModuleMiddleware

// Names returns the middleware names in order.
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, mw := range c {
		names[i] = mw.Name()
	}
	return names
}

// TransformModule lets every middleware amend m.
func (c Chain) TransformModule(m *wasm.Module) error {
	for _, mw := range c {
		if err := mw.TransformModuleInfo(m); err != nil {
			return &errors.MiddlewareError{
				Middleware: mw.Name(),
				FuncIndex:  -1,
				Message:    "transforming module info",
				Cause:      err,
			}
		}
	}
	return nil
}

// TransformFunction runs fb's events through every stage and replaces them
// with the result.
func (c Chain) TransformFunction(fb *FunctionBody) error {
	if len(c) == 0 {
		return nil
	}
	events := fb.Events
	for _, mw := range c {
		fm := mw.GenerateFunctionMiddleware(fb.LocalIndex)
		state := &MiddlewareReaderState{out: make([]Event, 0, len(events))}
		for _, ev := range events {
			if err := fm.Feed(ev, state); err != nil {
				return middlewareError(mw, fb, err)
			}
		}
		events = state.out
	}
	fb.Events = events
	return nil
}

func middlewareError(mw ModuleMiddleware, fb *FunctionBody, err error) error {
	if me, ok := err.(*errors.MiddlewareError); ok {
		if me.Middleware == "" {
			me.Middleware = mw.Name()
		}
		me.FuncIndex = int(fb.Index)
		return me
	}
	return &errors.MiddlewareError{
		Middleware: mw.Name(),
		FuncIndex:  int(fb.Index),
		Message:    err.Error(),
		Cause:      err,
	}
}

// Forker is implemented by middlewares that keep per-module state. Fork
// returns a copy for one compilation so a single configured middleware can
// serve concurrent compiles.
type Forker interface {
	Fork() ModuleMiddleware
}

// Fork returns a chain for one compilation, forking every middleware that
// implements Forker.
func (c Chain) Fork() Chain {
	if len(c) == 0 {
		return nil
	}
	out := make(Chain, len(c))
	for i, mw := range c {
		if f, ok := mw.(Forker); ok {
			out[i] = f.Fork()
		} else {
			out[i] = mw
		}
	}
	return out
}
