// File: cmd/nfpipe/validate.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-nf/stages"
)

func newValidateCommand(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and topology without starting anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			spec, err := cfg.ResolveTopology()
			if err != nil {
				return err
			}
			if err := spec.CheckTypes(stages.Default()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "configuration ok: %d layers, %d instances, driver on core %d, workers on %v\n",
				len(spec), spec.Instances(), cfg.PrimaryCore(), cfg.WorkerCores())
			fmt.Fprint(out, spec.String())
			return nil
		},
	}
}
