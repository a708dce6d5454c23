package compiler

import "testing"

func TestFeatures(t *testing.T) {
	f := DefaultFeatures
	if !f.Has(FeatureMultiValue | FeatureBulkMemory) {
		t.Errorf("%s lacks multi-value or bulk memory", f)
	}
	if f.Has(FeatureSIMD) {
		t.Error("SIMD enabled by default")
	}
	if got := f.With(FeatureSIMD).Unsupported(); got != FeatureSIMD {
		t.Errorf("Unsupported = %s, want simd", got)
	}
	if got := f.Without(FeatureSignExtension); got.Has(FeatureSignExtension) {
		t.Error("Without kept the feature")
	}
	if Features(0).String() != "none" {
		t.Errorf("zero features = %q", Features(0).String())
	}
}

func TestParseFeature(t *testing.T) {
	for _, fn := range featureNames {
		got, ok := ParseFeature(fn.name)
		if !ok || got != fn.f {
			t.Errorf("ParseFeature(%q) = %v, %v", fn.name, got, ok)
		}
	}
	if _, ok := ParseFeature("nope"); ok {
		t.Error("unknown feature parsed")
	}
}

func TestParseOptLevel(t *testing.T) {
	for _, l := range []OptLevel{OptNone, OptSpeed, OptSpeedAndSize} {
		got, ok := ParseOptLevel(l.String())
		if !ok || got != l {
			t.Errorf("ParseOptLevel(%q) = %v, %v", l.String(), got, ok)
		}
	}
}
