// Package metrics defines the Prometheus collectors shared by the engine,
// cache and runtime packages.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wasmengine"

// Metrics groups every collector. The zero registry case keeps collectors
// usable but unexported.
type Metrics struct {
	Compilations      *prometheus.CounterVec   // backend, result
	CompileDuration   *prometheus.HistogramVec // backend
	CompiledFunctions *prometheus.CounterVec   // backend
	Deserializations  *prometheus.CounterVec   // mode, result
	CacheLookups      *prometheus.CounterVec   // tier, result
	Instantiations    *prometheus.CounterVec   // result
	Calls             prometheus.Counter
	Traps             *prometheus.CounterVec // trap
}

// New creates the collectors and registers them with reg when it is not
// nil. Engines sharing a registry share collectors.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Compilations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "compilations_total",
			Help: "Module compilations by backend and result.",
		}, []string{"backend", "result"}),
		CompileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "engine", Name: "compile_duration_seconds",
			Help:    "Time to compile a module.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"backend"}),
		CompiledFunctions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "compiled_functions_total",
			Help: "Function bodies compiled.",
		}, []string{"backend"}),
		Deserializations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "deserializations_total",
			Help: "Artifact loads by mode (checked, unchecked) and result.",
		}, []string{"mode", "result"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "lookups_total",
			Help: "Artifact cache lookups by tier (memory, disk) and result (hit, miss).",
		}, []string{"tier", "result"}),
		Instantiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "runtime", Name: "instantiations_total",
			Help: "Instantiations by result.",
		}, []string{"result"}),
		Calls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "runtime", Name: "calls_total",
			Help: "Exported function calls.",
		}),
		Traps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "runtime", Name: "traps_total",
			Help: "Calls that trapped, by trap code.",
		}, []string{"trap"}),
	}
	if reg == nil {
		return m, nil
	}
	var err error
	set := func(f func() error) {
		if err == nil {
			err = f()
		}
	}
	set(func() (e error) { m.Compilations, e = register(reg, m.Compilations); return })
	set(func() (e error) { m.CompileDuration, e = register(reg, m.CompileDuration); return })
	set(func() (e error) { m.CompiledFunctions, e = register(reg, m.CompiledFunctions); return })
	set(func() (e error) { m.Deserializations, e = register(reg, m.Deserializations); return })
	set(func() (e error) { m.CacheLookups, e = register(reg, m.CacheLookups); return })
	set(func() (e error) { m.Instantiations, e = register(reg, m.Instantiations); return })
	set(func() (e error) { m.Calls, e = register(reg, m.Calls); return })
	set(func() (e error) { m.Traps, e = register(reg, m.Traps); return })
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg. When an identical collector is already
// registered, by another engine on the same registry, that one is returned.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return c, err
}

// Collectors returns every collector in m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Compilations, m.CompileDuration, m.CompiledFunctions, m.Deserializations,
		m.CacheLookups, m.Instantiations, m.Calls, m.Traps,
	}
}

// Unregistered returns collectors that are not exported anywhere.
func Unregistered() *Metrics {
	m, _ := New(nil)
	return m
}

// Result labels an operation outcome.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveCompile records one compilation.
func (m *Metrics) ObserveCompile(backend string, funcs int, d time.Duration, err error) {
	m.Compilations.WithLabelValues(backend, Result(err)).Inc()
	if err == nil {
		m.CompileDuration.WithLabelValues(backend).Observe(d.Seconds())
		m.CompiledFunctions.WithLabelValues(backend).Add(float64(funcs))
	}
}
