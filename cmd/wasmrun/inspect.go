package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-engine/artifact"
	"github.com/wippyai/wasm-engine/types"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show the header, imports, exports and functions of a module or artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), describe(args[0], a, colored(os.Stdout)))
		return nil
	},
}

func describe(path string, a *artifact.Artifact, color bool) string {
	style := func(s lipgloss.Style) lipgloss.Style {
		if color {
			return s
		}
		return lipgloss.NewStyle()
	}
	var b strings.Builder
	b.WriteString(style(titleStyle).Render(path))
	if name := a.Name(); name != "" {
		b.WriteString(" " + name)
	}
	b.WriteString("\n\n")

	section := func(title string, n int) {
		fmt.Fprintf(&b, "%s (%d)\n", style(headingStyle).Render(title), n)
	}

	section("Header", 1)
	fmt.Fprintf(&b, "  %s\n", a.Header)
	if d, err := a.Digest(); err == nil {
		fmt.Fprintf(&b, "  digest %s\n", d)
	}
	if len(a.Middlewares) > 0 {
		fmt.Fprintf(&b, "  middlewares %s\n", strings.Join(a.Middlewares, ", "))
	}

	imports := a.Imports()
	section("\nImports", len(imports))
	imported := 0
	for _, imp := range imports {
		if imp.Type.Kind() == types.ExternFunction {
			imported++
		}
		fmt.Fprintf(&b, "  %s.%s %s\n", imp.Module, style(funcStyle).Render(imp.Name), style(typeStyle).Render(fmt.Sprint(imp.Type)))
	}

	exports := a.Exports()
	section("\nExports", len(exports))
	for _, exp := range exports {
		fmt.Fprintf(&b, "  %s %s\n", style(funcStyle).Render(exp.Name), style(typeStyle).Render(fmt.Sprint(exp.Type)))
	}

	funcs := a.Functions()
	fts := a.Types()
	section("\nFunctions", len(funcs))
	for i, f := range funcs {
		idx := uint32(imported + i)
		name := a.FuncName(idx)
		if name == "" {
			name = fmt.Sprintf("func[%d]", idx)
		}
		var sig string
		if int(f.TypeIndex) < len(fts) {
			sig = fts[f.TypeIndex].String()
		}
		fmt.Fprintf(&b, "  %s %s locals=%d stack=%d code=%dB\n",
			style(funcStyle).Render(name), style(typeStyle).Render(sig), f.NumLocals, f.MaxStack, len(f.Code))
	}
	return b.String()
}
