package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var compileCmd = &cobra.Command{
	Use:   "compile <in.wasm>",
	Short: "Compile a module into a serialized artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  compileModule,
}

func init() {
	compileCmd.Flags().StringP("output", "o", "", "artifact path (default: input with a .wasmu extension)")
}

func compileModule(cmd *cobra.Command, args []string) error {
	a, err := load(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	data, err := env.engine.Serialize(a)
	if err != nil {
		return err
	}
	out, _ := cmd.Flags().GetString("output")
	if out == "" {
		out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".wasmu"
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	d, err := a.Digest()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d bytes, %d functions)\n", out, d, len(data), len(a.Functions()))
	return nil
}
