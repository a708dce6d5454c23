// Package wazerocheck validates modules with wazero as an independent
// second opinion on the engine's own validation.
package wazerocheck

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-engine/compiler"
	"github.com/wippyai/wasm-engine/errors"
)

// Name identifies this validator.
const Name = "wazero"

// Validator compiles modules with wazero's interpreter configuration and
// discards the result.
type Validator struct {
	memoryLimitPages uint32
}

// New returns a validator. A zero memoryLimitPages keeps wazero's default.
func New(memoryLimitPages uint32) *Validator {
	return &Validator{memoryLimitPages: memoryLimitPages}
}

func (*Validator) Name() string { return Name }

// CoreFeatures maps engine features to wazero's feature set.
func CoreFeatures(f compiler.Features) api.CoreFeatures {
	cf := api.CoreFeaturesV1
	set := []struct {
		engine compiler.Features
		wazero api.CoreFeatures
	}{
		{compiler.FeatureMultiValue, api.CoreFeatureMultiValue},
		{compiler.FeatureSignExtension, api.CoreFeatureSignExtensionOps},
		{compiler.FeatureSaturatingConversions, api.CoreFeatureNonTrappingFloatToIntConversion},
		{compiler.FeatureBulkMemory, api.CoreFeatureBulkMemoryOperations},
		{compiler.FeatureReferenceTypes, api.CoreFeatureReferenceTypes},
		{compiler.FeatureSIMD, api.CoreFeatureSIMD},
	}
	for _, s := range set {
		if f.Has(s.engine) {
			cf = cf.SetEnabled(s.wazero, true)
		}
	}
	return cf
}

// Validate reports whether wazero accepts wasmBytes under features.
func (v *Validator) Validate(ctx context.Context, wasmBytes []byte, features compiler.Features) error {
	cfg := wazero.NewRuntimeConfigInterpreter().WithCoreFeatures(CoreFeatures(features))
	if v.memoryLimitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(v.memoryLimitPages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, cfg)
	defer r.Close(ctx)

	cm, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		return errors.NewCompileError(errors.CompileValidation, "wazero: "+err.Error(), err)
	}
	return cm.Close(ctx)
}
