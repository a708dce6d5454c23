package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-engine/artifact"
)

// load returns the artifact in path: serialized artifacts are loaded with
// full validation, module binaries are compiled through the cache.
func load(ctx context.Context, path string) (*artifact.Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if bytes.HasPrefix(data, []byte(artifact.Magic)) {
		env.logger.Debug("loading artifact", zap.String("path", path))
		return env.engine.Deserialize(data)
	}
	env.logger.Debug("compiling module", zap.String("path", path), zap.Int("size", len(data)))
	return env.cache.Compile(ctx, data)
}
