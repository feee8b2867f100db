package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andrej220/rdist/internal/lg"
	"github.com/andrej220/rdist/pkg/collect"
	"github.com/andrej220/rdist/pkg/config"
	"github.com/andrej220/rdist/pkg/executor"
	"github.com/andrej220/rdist/pkg/session"
)

func newLocalCmd(a *app) *cobra.Command {
	f := &sessionFlags{}
	cmd := &cobra.Command{
		Use:   "local [suite.yaml]",
		Short: "Run a suite in this process",
		Example: `  rdist local suite.yaml
  rdist local --boxing -k "network -slow" suite.yaml
  rdist local --apigen shell --apigen-output calls.json suite.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd, f, args)
			if err != nil {
				return err
			}
			return a.execSession(cmd.Context(), cfg, f.loopOnChange, a.runLocal)
		},
	}
	f.register(cmd, false)
	return cmd
}

func (a *app) runLocal(ctx context.Context, cfg config.Config, logger lg.Logger) (session.Result, error) {
	usage := func(err error) (session.Result, error) {
		return session.Result{ExitCode: session.ExitUsage}, err
	}
	suite, err := collect.LoadSuite(cfg.Suite)
	if err != nil {
		return usage(err)
	}
	exe, err := os.Executable()
	if err != nil {
		return usage(fmt.Errorf("locate rdist binary: %w", err))
	}
	strategy, err := executor.New(executor.Options{
		Boxing:     cfg.Boxing,
		NoCapture:  cfg.NoCapture,
		Apigen:     cfg.Apigen,
		BoxCommand: boxCommand(cfg, exe),
	})
	if err != nil {
		return usage(err)
	}
	logger.Debug("local session", lg.String("strategy", executor.Resolve(executor.Options{
		Boxing:    cfg.Boxing,
		NoCapture: cfg.NoCapture,
		Apigen:    cfg.Apigen,
	}).String()))

	rep, closeReporter, err := a.reporter(ctx, session.VariantLocal, cfg, logger)
	if err != nil {
		return usage(err)
	}
	defer closeReporter()

	l := &session.Local{
		Strategy:      strategy,
		Roots:         suite.Nodes(),
		Keyword:       cfg.Keyword,
		ExitFirst:     cfg.ExitFirst,
		Reporter:      rep,
		Log:           logger,
		SummaryFile:   cfg.SummaryFile,
		DocsGenerator: cfg.Apigen,
		DocsFile:      cfg.ApigenOutput,
	}
	return l.Run(ctx)
}
