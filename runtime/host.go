package runtime

import (
	"context"
	"reflect"
	"strings"
	"unicode"

	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/store"
	"github.com/wippyai/wasm-engine/types"
)

// Host is a struct-based host module. Its exported methods, except
// Namespace, become host functions named in kebab-case (AddInts -> add-ints).
type Host interface {
	// Namespace returns the import module name, e.g. "env".
	Namespace() string
}

// ExplicitRegistrar lets a Host choose its function names instead of the
// kebab-case conversion.
type ExplicitRegistrar interface {
	Register() map[string]any
}

var (
	contextType = reflect.TypeFor[context.Context]()
	callerType  = reflect.TypeFor[*store.Caller]()
	errorType   = reflect.TypeFor[error]()
)

// HostFunction derives a wasm signature from a Go function and adapts it
// to store.HostFunc.
//
// Parameters may start with a context.Context and then a *store.Caller.
// The remaining parameters and the results must have kind int32, uint32,
// int64, uint64, float32 or float64. A trailing error result traps the
// caller when non-nil.
func HostFunction(fn any) (*types.FunctionType, store.HostFunc, error) {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return nil, nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Value(fn).
			Detail("handler must be a function").
			Build()
	}
	rt := rv.Type()
	if rt.IsVariadic() {
		return nil, nil, errors.Unsupported(errors.PhaseHost, "variadic host function")
	}

	first := 0
	withCtx := first < rt.NumIn() && rt.In(first) == contextType
	if withCtx {
		first++
	}
	withCaller := first < rt.NumIn() && rt.In(first) == callerType
	if withCaller {
		first++
	}

	params := make([]types.Type, 0, rt.NumIn()-first)
	for j := first; j < rt.NumIn(); j++ {
		t, ok := valueType(rt.In(j))
		if !ok {
			return nil, nil, errors.Unsupported(errors.PhaseHost, "parameter type "+rt.In(j).String())
		}
		params = append(params, t)
	}
	nout := rt.NumOut()
	withErr := nout > 0 && rt.Out(nout-1) == errorType
	if withErr {
		nout--
	}
	results := make([]types.Type, 0, nout)
	for j := range nout {
		t, ok := valueType(rt.Out(j))
		if !ok {
			return nil, nil, errors.Unsupported(errors.PhaseHost, "result type "+rt.Out(j).String())
		}
		results = append(results, t)
	}

	hf := func(ctx context.Context, caller *store.Caller, args []types.Value) ([]types.Value, error) {
		in := make([]reflect.Value, 0, rt.NumIn())
		if withCtx {
			in = append(in, reflect.ValueOf(&ctx).Elem())
		}
		if withCaller {
			in = append(in, reflect.ValueOf(caller))
		}
		for j, a := range args {
			in = append(in, fromValue(a, rt.In(first+j)))
		}
		out := rv.Call(in)
		if withErr {
			if e := out[len(out)-1]; !e.IsNil() {
				return nil, e.Interface().(error)
			}
			out = out[:len(out)-1]
		}
		res := make([]types.Value, len(out))
		for j, o := range out {
			res[j] = toValue(o)
		}
		return res, nil
	}
	return types.NewFunctionType(params, results), hf, nil
}

func valueType(t reflect.Type) (types.Type, bool) {
	switch t.Kind() {
	case reflect.Int32, reflect.Uint32:
		return types.I32, true
	case reflect.Int64, reflect.Uint64:
		return types.I64, true
	case reflect.Float32:
		return types.F32, true
	case reflect.Float64:
		return types.F64, true
	}
	return 0, false
}

func fromValue(v types.Value, t reflect.Type) reflect.Value {
	out := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Int32:
		out.SetInt(int64(v.I32()))
	case reflect.Uint32:
		out.SetUint(uint64(uint32(v.Raw())))
	case reflect.Int64:
		out.SetInt(v.I64())
	case reflect.Uint64:
		out.SetUint(v.Raw())
	case reflect.Float32:
		out.SetFloat(float64(v.F32()))
	case reflect.Float64:
		out.SetFloat(v.F64())
	}
	return out
}

func toValue(v reflect.Value) types.Value {
	switch v.Kind() {
	case reflect.Int32:
		return types.ValueI32(int32(v.Int()))
	case reflect.Uint32:
		return types.ValueI32(int32(uint32(v.Uint())))
	case reflect.Int64:
		return types.ValueI64(v.Int())
	case reflect.Uint64:
		return types.ValueI64(int64(v.Uint()))
	case reflect.Float32:
		return types.ValueF32(float32(v.Float()))
	}
	return types.ValueF64(v.Float())
}

// hostFuncs lists the functions a Host provides, keyed by import name.
func hostFuncs(h Host) map[string]any {
	if er, ok := h.(ExplicitRegistrar); ok {
		return er.Register()
	}
	rv := reflect.ValueOf(h)
	rt := rv.Type()
	funcs := make(map[string]any, rt.NumMethod())
	for i := range rt.NumMethod() {
		method := rt.Method(i)
		if !method.IsExported() || method.Name == "Namespace" {
			continue
		}
		funcs[toKebabCase(method.Name)] = rv.Method(i).Interface()
	}
	return funcs
}

// initialisms split runs of capitals into words. A run that does not
// start with one stays a single word.
var initialisms = []string{
	"API", "ASCII", "CPU", "CSS", "DNS", "EOF", "GUID", "HTML", "HTTP", "HTTPS",
	"ID", "IO", "IP", "JSON", "OS", "RPC", "SQL", "TCP", "TLS", "TTL", "UDP",
	"UI", "UID", "URI", "URL", "UTF", "UUID", "VM", "WASI", "XML",
}

// toKebabCase converts PascalCase to kebab-case, keeping acronyms
// together: GetHTTPURL -> get-http-url.
func toKebabCase(s string) string {
	runes := []rune(s)
	var words []string
	for i := 0; i < len(runes); {
		end := i + 1
		if !unicode.IsUpper(runes[i]) {
			for end < len(runes) && !unicode.IsUpper(runes[end]) {
				end++
			}
			words = append(words, string(runes[i:end]))
			i = end
			continue
		}
		for end < len(runes) && unicode.IsUpper(runes[end]) {
			end++
		}
		// the last capital before a lowercase letter starts the next word
		if end > i+1 && end < len(runes) && unicode.IsLower(runes[end]) {
			end--
		}
		if end == i+1 {
			for end < len(runes) && !unicode.IsUpper(runes[end]) {
				end++
			}
			words = append(words, string(runes[i:end]))
		} else {
			words = append(words, splitAcronyms(string(runes[i:end]))...)
		}
		i = end
	}
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return strings.Join(words, "-")
}

// splitAcronyms splits a run of capitals at the longest known initialism
// prefix, repeatedly.
func splitAcronyms(run string) []string {
	var out []string
	for run != "" {
		n := 0
		for _, w := range initialisms {
			if len(w) > n && strings.HasPrefix(run, w) {
				n = len(w)
			}
		}
		if n == 0 {
			return append(out, run)
		}
		out = append(out, run[:n])
		run = run[n:]
	}
	return out
}
