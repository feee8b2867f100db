package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andrej220/rdist/internal/lg"
	"github.com/andrej220/rdist/pkg/executor"
	"github.com/andrej220/rdist/pkg/report"
	"github.com/andrej220/rdist/pkg/worker"
)

// newWorkerCmd serves the wire protocol on stdin and stdout. It is started
// by rdist run, locally or over ssh; logs go to stderr.
func newWorkerCmd(a *app) *cobra.Command {
	var boxing, noCapture bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve items over stdin/stdout (started by rdist run)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := a.logger("rdist-worker")
			defer func() { _ = logger.Sync() }()

			exe, err := os.Executable()
			if err != nil {
				return &exitError{code: report.ExitCrashed, err: fmt.Errorf("locate rdist binary: %w", err)}
			}
			strategy, err := executor.New(executor.Options{
				Boxing:     boxing,
				NoCapture:  noCapture,
				BoxCommand: []string{exe, "box"},
			})
			if err != nil {
				return usageError(err)
			}
			ctx := lg.Attach(cmd.Context(), logger)
			if err := worker.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), strategy); err != nil {
				logger.Error("worker stopped", lg.Err(err))
				return &exitError{code: report.ExitCrashed, err: err}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&boxing, "boxing", false, "run every item in a separate child process")
	cmd.Flags().BoolVar(&noCapture, "nocapture", false, "do not capture output")
	return cmd
}

// newBoxCmd is the child side of boxing: one item on stdin, one outcome on
// stdout.
func newBoxCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:    "box",
		Short:  "Run one item read from stdin (started by boxing)",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			strategy := &executor.Plain{Exec: executor.NewShellExecutor()}
			if err := executor.ServeBox(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), strategy); err != nil {
				return &exitError{code: report.ExitCrashed, err: err}
			}
			return nil
		},
	}
}
