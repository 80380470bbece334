// File: cmd/nfpipe/run.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/momentics/hioload-nf/config"
	"github.com/momentics/hioload-nf/facade"
)

type runFlags struct {
	duration   time.Duration
	listen     string
	reportJSON string
	quiet      bool
}

func newRunCommand(global *globalFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build the pipeline and run it until the input is exhausted or a signal arrives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPipeline(ctx, cmd, global, flags)
		},
	}
	cmd.Flags().DurationVar(&flags.duration, "duration", 0, "stop after this long (overrides run.duration)")
	cmd.Flags().StringVar(&flags.listen, "listen", "", "serve the admin endpoint on this address")
	cmd.Flags().StringVar(&flags.reportJSON, "report-json", "", "write the final report as JSON to this file (- for stdout)")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "do not print the statistics table")
	return cmd
}

func runPipeline(ctx context.Context, cmd *cobra.Command, global *globalFlags, flags *runFlags) error {
	cfg, err := loadConfig(global)
	if err != nil {
		return err
	}
	if flags.duration > 0 {
		cfg.Run.Duration = config.Duration(flags.duration)
	}
	if flags.listen != "" {
		cfg.Stats.Listen = flags.listen
	}
	if flags.quiet {
		cfg.Stats.Print = false
	}

	rt, err := facade.New(cfg, facade.WithStatsOutput(cmd.OutOrStdout()))
	if err != nil {
		return err
	}
	rep, err := rt.Run(ctx)
	if err != nil {
		return err
	}
	if flags.reportJSON != "" {
		if err := writeReport(cmd.OutOrStdout(), flags.reportJSON, rep); err != nil {
			return err
		}
	}
	if !rep.Conserved() {
		return fmt.Errorf("buffer accounting mismatch: injected %d, accounted %d, leaked %d",
			rep.Injected, rep.Accounted(), rep.Leaked)
	}
	return nil
}

func writeReport(stdout io.Writer, path string, rep facade.Report) error {
	data, err := sonic.ConfigStd.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')
	if path == "-" {
		_, err = stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
