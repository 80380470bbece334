// File: cmd/nfpipe/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// nfpipe loads a pipeline configuration and runs it to completion.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-nf/api"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes.
const (
	exitFailure = 1
	exitConfig  = 2
)

type globalFlags struct {
	config   string
	logLevel string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "nfpipe",
		Short: "Run packet-processing pipelines on dedicated cores",
		Long: `nfpipe builds a layered pipeline of network-function stages, pins one
worker per stage instance to a core, feeds it from a file, memory-mapped or
live input and reports per-stage statistics when the run ends.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.config, "config", "c", "", "configuration file (.yaml, .yml or .toml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newRunCommand(flags),
		newValidateCommand(flags),
		newStagesCommand(),
		newVersionCommand(),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "nfpipe:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, api.ErrConfig), errors.Is(err, api.ErrUnknownStage), errors.Is(err, api.ErrInvalidArgument):
		return exitConfig
	default:
		return exitFailure
	}
}
