// Command wasmrun compiles, inspects and runs WebAssembly modules.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-engine/cache"
	"github.com/wippyai/wasm-engine/compiler"
	"github.com/wippyai/wasm-engine/config"
	"github.com/wippyai/wasm-engine/engine"
	"github.com/wippyai/wasm-engine/middleware"
	"github.com/wippyai/wasm-engine/vm"
)

var rootCmd = &cobra.Command{
	Use:           "wasmrun",
	Short:         "Compile, inspect and run WebAssembly modules",
	Long:          `wasmrun compiles WebAssembly modules into artifacts, caches them and runs their exports.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// env is shared by all subcommands; PersistentPreRunE fills it.
var env struct {
	v      *viper.Viper
	logger *zap.Logger
	engine *engine.Engine
	cache  *cache.Cache
}

func init() {
	v := config.New()
	env.v = v

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "configuration file (default: wasmengine.yaml in . or ~/.config/wasmengine)")
	flags.String("backend", "", "compiler backend (singlepass|optimizing)")
	flags.String("opt-level", "", "optimization level (none|speed|speed_and_size)")
	flags.String("cache-dir", "", "directory of the on-disk artifact cache")
	flags.Bool("strict", false, "also validate modules with wazero")
	flags.String("log-level", "", "log level (debug|info|warn|error)")
	flags.String("color", "auto", "colorize output (auto|on|off)")
	flags.Uint64("metering", 0, "charge one point per instruction, trapping after this many")
	flags.StringSlice("deny", nil, "reject modules using these opcodes (floats, or opcode numbers)")
	for key, flag := range map[string]string{
		"backend":           "backend",
		"opt_level":         "opt-level",
		"cache.dir":         "cache-dir",
		"strict_validation": "strict",
		"log.level":         "log-level",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rootCmd.PersistentPreRunE = setup
	rootCmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		_ = env.logger.Sync()
		return env.cache.Close()
	}

	rootCmd.AddCommand(compileCmd, runCmd, inspectCmd, interactiveCmd, cacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle(os.Stderr).Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	if err := config.ReadFile(env.v, path); err != nil {
		return err
	}
	c, err := config.FromViper(env.v)
	if err != nil {
		return err
	}
	if env.logger, err = c.Logger(); err != nil {
		return err
	}
	cfg, err := c.Engine()
	if err != nil {
		return err
	}
	cfg.Logger = env.logger
	if cfg.Middlewares, err = middlewares(cmd); err != nil {
		return err
	}
	if env.engine, err = engine.New(cfg); err != nil {
		return err
	}
	env.cache, err = cache.Open(env.engine, c.CacheOptions())
	return err
}

func middlewares(cmd *cobra.Command) (compiler.Chain, error) {
	var chain compiler.Chain
	deny, _ := cmd.Flags().GetStringSlice("deny")
	if len(deny) > 0 {
		dl, err := denyLists(deny)
		if err != nil {
			return nil, err
		}
		chain = append(chain, dl...)
	}
	// metering goes last so it charges for what the other stages emit
	if limit, _ := cmd.Flags().GetUint64("metering"); limit > 0 {
		chain = append(chain, middleware.NewMetering(limit, middleware.UniformCost(1)))
	}
	return chain, nil
}

// denyLists maps --deny values to middlewares. "floats" selects every
// floating-point instruction; numbers name single-byte opcodes.
func denyLists(names []string) ([]compiler.ModuleMiddleware, error) {
	var out []compiler.ModuleMiddleware
	var ops []vm.Opcode
	for _, name := range names {
		if name == "floats" {
			out = append(out, middleware.DenyFloats())
			continue
		}
		op, err := strconv.ParseUint(name, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("--deny %q: want \"floats\" or an opcode number", name)
		}
		ops = append(ops, vm.Wasm(byte(op)))
	}
	if len(ops) > 0 {
		out = append(out, middleware.Deny(ops...))
	}
	return out, nil
}
