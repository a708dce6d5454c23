package compiler

import "strings"

// Features is a set of WebAssembly proposals. It is recorded in artifact
// headers: an artifact only loads into an engine with the same features.
type Features uint64

const (
	FeatureMultiValue Features = 1 << iota
	FeatureSignExtension
	FeatureSaturatingConversions
	FeatureBulkMemory
	FeatureReferenceTypes
	FeatureSIMD
	FeatureThreads
	FeatureTailCall
	FeatureExceptionHandling
	FeatureGC
	FeatureMemory64
	FeatureMultiMemory
)

// SupportedFeatures can be executed by this engine's backends. Enabling
// anything else makes modules using it fail with an Unsupported error
// rather than a validation error.
const SupportedFeatures = FeatureMultiValue | FeatureSignExtension |
	FeatureSaturatingConversions | FeatureBulkMemory | FeatureReferenceTypes

// DefaultFeatures is the WebAssembly 2.0 subset enabled by default.
const DefaultFeatures = SupportedFeatures

var featureNames = []struct {
	f    Features
	name string
}{
	{FeatureMultiValue, "multi-value"},
	{FeatureSignExtension, "sign-extension"},
	{FeatureSaturatingConversions, "saturating-conversions"},
	{FeatureBulkMemory, "bulk-memory"},
	{FeatureReferenceTypes, "reference-types"},
	{FeatureSIMD, "simd"},
	{FeatureThreads, "threads"},
	{FeatureTailCall, "tail-call"},
	{FeatureExceptionHandling, "exception-handling"},
	{FeatureGC, "gc"},
	{FeatureMemory64, "memory64"},
	{FeatureMultiMemory, "multi-memory"},
}

// Has reports whether every feature in f2 is enabled.
func (f Features) Has(f2 Features) bool { return f&f2 == f2 }

// With returns f with f2 enabled.
func (f Features) With(f2 Features) Features { return f | f2 }

// Without returns f with f2 disabled.
func (f Features) Without(f2 Features) Features { return f &^ f2 }

// Unsupported returns the enabled features no backend can execute.
func (f Features) Unsupported() Features { return f &^ SupportedFeatures }

// ParseFeature returns the feature with the given name.
func ParseFeature(name string) (Features, bool) {
	for _, fn := range featureNames {
		if fn.name == name {
			return fn.f, true
		}
	}
	return 0, false
}

func (f Features) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for _, fn := range featureNames {
		if f.Has(fn.f) {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, ",")
}
