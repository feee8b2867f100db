package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/andrej220/rdist/internal/lg"
	"github.com/andrej220/rdist/pkg/eventbus"
	"github.com/andrej220/rdist/pkg/report"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		cfg       eventbus.KafkaConfig
		sessionID string
		verbose   bool
	)
	cmd := &cobra.Command{
		Use:     "watch",
		Short:   "Render the events of a session forwarded to Kafka",
		Example: `  rdist watch --brokers kafka:9092 --topic rdist-events --session 5c1f...`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := a.logger("rdist-watch")
			defer func() { _ = logger.Sync() }()
			ctx := lg.Attach(cmd.Context(), logger)

			consumer := eventbus.NewEventConsumer(cfg)
			defer func() { _ = consumer.Close() }()

			rep := report.NewLocalReporter(cmd.OutOrStdout(), verbose)
			err := eventbus.Replay(ctx, consumer, sessionID, rep)
			switch {
			case errors.Is(err, context.Canceled):
				return &exitError{code: report.ExitInterrupted}
			case err != nil:
				return &exitError{code: report.ExitCrashed, err: err}
			}
			if code := rep.ExitCode(); code != report.ExitOK {
				return &exitError{code: code}
			}
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringSliceVar(&cfg.Brokers, "brokers", nil, "Kafka brokers")
	fs.StringVar(&cfg.Topic, "topic", "rdist-events", "topic the events are forwarded to")
	fs.StringVar(&cfg.GroupID, "group", "", "consumer group (empty reads the whole topic)")
	fs.StringVar(&sessionID, "session", "", "only show this session")
	fs.BoolVarP(&verbose, "verbose", "v", false, "one line per item")
	_ = cmd.MarkFlagRequired("brokers")
	return cmd
}
