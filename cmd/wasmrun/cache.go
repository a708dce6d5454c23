package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the on-disk artifact cache",
}

var cacheListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List cached artifacts",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		entries, err := env.cache.Entries()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tMODULE\tSIZE\tFUNCS\tHITS\tLAST USED")
		for _, e := range entries {
			module := e.Module
			if module == "" {
				module = "-"
			}
			fmt.Fprintf(w, "%.19s\t%s\t%d\t%d\t%d\t%s\n",
				e.Key, module, e.Size, e.Functions, e.Hits, e.LastUsed.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove every cached artifact",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		return env.cache.Purge()
	},
}

func init() {
	cacheCmd.AddCommand(cacheListCmd, cachePurgeCmd)
}
