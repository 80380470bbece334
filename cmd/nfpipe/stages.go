// File: cmd/nfpipe/stages.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-nf/stages"
)

func newStagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "List the stage types a topology may name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			apps := stages.Apps()
			out := cmd.OutOrStdout()
			for _, typ := range stages.Default().Types() {
				if chain, ok := apps[typ]; ok {
					fmt.Fprintf(out, "%-14s %s\n", typ, strings.Join(chain, " -> "))
					continue
				}
				fmt.Fprintln(out, typ)
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nfpipe %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
