package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	wasmengine "github.com/wippyai/wasm-engine"
	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/middleware"
	"github.com/wippyai/wasm-engine/runtime"
	"github.com/wippyai/wasm-engine/store"
)

var runCmd = &cobra.Command{
	Use:   "run <file> [-- args...]",
	Short: "Instantiate a module or artifact and call one of its exports",
	Long: `Run instantiates the module and calls the export named by --invoke with the
remaining arguments, converted to the export's parameter types.

The module may import these functions from the "wasmrun" namespace:

  print-i32(i32)  print-i64(i64)  print-f64(f64)  print(ptr i32, len i32)`,
	Args: cobra.MinimumNArgs(1),
	RunE: runModule,
}

func init() {
	runCmd.Flags().String("invoke", wasmengine.MainExport, "export to call")
}

func runModule(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	inst, err := instantiate(cmd, args[0], cmd.OutOrStdout())
	if err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("invoke")
	f := inst.ExportedFunction(name)
	if f == nil {
		return errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	vals, err := wasmengine.ParseArgs(f.Type(), args[1:])
	if err != nil {
		return err
	}

	res, err := inst.Call(ctx, name, vals...)
	if err != nil {
		return err
	}
	out := make([]string, len(res))
	for i, v := range res {
		out[i] = v.String()
	}
	if len(out) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), styled(os.Stdout, resultStyle).Render(strings.Join(out, " ")))
	}
	if p, err := middleware.GetRemainingPoints(inst); err == nil {
		env.logger.Info("metering", zap.Uint64("remaining", p.Remaining), zap.Bool("exhausted", p.Exhausted))
	}
	return nil
}

// instantiate loads path into a fresh runtime with the wasmrun host
// functions writing to w.
func instantiate(cmd *cobra.Command, path string, w io.Writer) (*runtime.Instance, error) {
	a, err := load(cmd.Context(), path)
	if err != nil {
		return nil, err
	}
	rt := runtime.New(env.engine, store.WithLogger(env.logger))
	if err := rt.RegisterHost(&printHost{w: w}); err != nil {
		return nil, err
	}
	return rt.LoadArtifact(a).Instantiate(cmd.Context())
}

// printHost is the "wasmrun" host module.
type printHost struct {
	w io.Writer
}

func (*printHost) Namespace() string { return "wasmrun" }

func (h *printHost) PrintI32(v int32) { fmt.Fprintln(h.w, v) }

func (h *printHost) PrintI64(v int64) { fmt.Fprintln(h.w, v) }

func (h *printHost) PrintF64(v float64) { fmt.Fprintln(h.w, v) }

// Print writes len bytes of the caller's memory starting at ptr.
func (h *printHost) Print(c *store.Caller, ptr, n uint32) error {
	mem := c.Memory()
	if mem == nil {
		return fmt.Errorf("print: module has no memory")
	}
	data, ok := mem.Read(ptr, n)
	if !ok {
		return fmt.Errorf("print: range [%d, %d) outside memory", ptr, uint64(ptr)+uint64(n))
	}
	_, err := h.w.Write(data)
	return err
}
