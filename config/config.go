// Package config loads engine configuration from a file, WASMENGINE_*
// environment variables and defaults, in that order of precedence after
// explicitly set values.
package config

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-engine/cache"
	"github.com/wippyai/wasm-engine/compiler"
	"github.com/wippyai/wasm-engine/compiler/singlepass"
	"github.com/wippyai/wasm-engine/engine"
	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/types"
	"github.com/wippyai/wasm-engine/vm"
)

// EnvPrefix prefixes environment overrides: max_call_depth is read from
// WASMENGINE_MAX_CALL_DEPTH and cache.dir from WASMENGINE_CACHE_DIR.
const EnvPrefix = "WASMENGINE"

// Config mirrors the configuration file.
type Config struct {
	Backend  string `mapstructure:"backend"`
	OptLevel string `mapstructure:"opt_level"`
	Target   struct {
		Triple      string   `mapstructure:"triple"`
		CPUFeatures []string `mapstructure:"cpu_features"`
	} `mapstructure:"target"`
	// Features replaces the default feature set when not empty.
	Features         []string `mapstructure:"features"`
	MaxMemoryPages   uint32   `mapstructure:"max_memory_pages"`
	MaxTableElements uint32   `mapstructure:"max_table_elements"`
	MaxCallDepth     int      `mapstructure:"max_call_depth"`
	Parallelism      int      `mapstructure:"parallelism"`
	MemoryStyle      string   `mapstructure:"memory_style"`
	StaticBound      uint32   `mapstructure:"static_bound"`
	StrictValidation bool     `mapstructure:"strict_validation"`
	Cache            struct {
		Dir  string `mapstructure:"dir"`
		Size int    `mapstructure:"size"`
	} `mapstructure:"cache"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// New returns a viper instance with defaults and environment overrides
// set up. Callers may bind flags to it before calling FromViper.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", singlepass.Name)
	v.SetDefault("opt_level", compiler.OptNone.String())
	v.SetDefault("target.triple", "")
	v.SetDefault("target.cpu_features", []string{})
	v.SetDefault("features", []string{})
	v.SetDefault("max_memory_pages", uint32(types.MaxPages))
	v.SetDefault("max_table_elements", uint32(types.MaxTableElements))
	v.SetDefault("max_call_depth", vm.DefaultMaxCallDepth)
	v.SetDefault("parallelism", 0)
	v.SetDefault("memory_style", engine.Dynamic.String())
	v.SetDefault("static_bound", uint32(engine.DefaultStaticBound))
	v.SetDefault("strict_validation", false)

	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.size", cache.DefaultSize)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads the file at path. An empty path searches for wasmengine.yaml
// (or .toml, .json) in the working directory and $HOME/.config/wasmengine;
// finding none leaves the defaults in place.
func Load(path string) (*Config, error) {
	v := New()
	if err := ReadFile(v, path); err != nil {
		return nil, err
	}
	return FromViper(v)
}

// ReadFile reads the configuration file into v. See Load.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("wasmengine")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/wasmengine")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && stderrors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	return nil
}

// FromViper decodes the settings held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &c, nil
}

func invalid(format string, args ...any) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).Detail(format, args...).Build()
}

// Engine converts c into an engine configuration. Unknown names are
// reported rather than ignored.
func (c *Config) Engine() (engine.Config, error) {
	opt, ok := compiler.ParseOptLevel(c.OptLevel)
	if !ok {
		return engine.Config{}, invalid("unknown optimization level %q", c.OptLevel)
	}
	style, ok := engine.ParseMemoryStyle(c.MemoryStyle)
	if !ok {
		return engine.Config{}, invalid("unknown memory style %q", c.MemoryStyle)
	}
	cfg := engine.Config{
		Backend:          c.Backend,
		OptLevel:         opt,
		Target:           engine.Target{Triple: c.Target.Triple},
		MaxMemoryPages:   types.Pages(c.MaxMemoryPages),
		MaxTableElements: c.MaxTableElements,
		MaxCallDepth:     c.MaxCallDepth,
		Parallelism:      c.Parallelism,
		MemoryStyle:      style,
		StaticBound:      types.Pages(c.StaticBound),
		StrictValidation: c.StrictValidation,
	}
	for _, name := range c.Target.CPUFeatures {
		f, ok := engine.ParseCPUFeature(name)
		if !ok {
			return engine.Config{}, invalid("unknown cpu feature %q", name)
		}
		cfg.Target.CPUFeatures |= f
	}
	for _, name := range c.Features {
		f, ok := compiler.ParseFeature(name)
		if !ok {
			return engine.Config{}, invalid("unknown feature %q", name)
		}
		cfg.Features |= f
	}
	return cfg, nil
}

// CacheOptions returns the artifact cache settings.
func (c *Config) CacheOptions() cache.Options {
	return cache.Options{Dir: c.Cache.Dir, Size: c.Cache.Size}
}

// Logger builds a zap logger at the configured level. Format "json" selects
// the production encoder; anything else the console encoder.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, invalid("log level: %v", err)
	}
	zc := zap.NewDevelopmentConfig()
	if c.Log.Format == "json" {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
