package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/andrej220/rdist/internal/lg"
	"github.com/andrej220/rdist/pkg/config"
	"github.com/andrej220/rdist/pkg/report"
	"github.com/andrej220/rdist/pkg/session"
)

const Version = "0.3.0"

// app carries the global flags and the process streams every subcommand
// writes to.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	mongo      config.MongoConfig
	debug      bool
	logFormat  string
}

// exitError ends the process with code. err is printed when set.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error {
	return &exitError{code: session.ExitUsage, err: err}
}

// exitFor turns a session result into the command's error. Item failures
// were already rendered by the reporter, so only the code is kept.
func exitFor(res session.Result, err error) error {
	code := session.Exit(res, err)
	switch code {
	case report.ExitOK:
		return nil
	case report.ExitFailures:
		err = nil
	}
	return &exitError{code: code, err: err}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "rdist",
		Short: "Run a suite of items locally or distributed over worker hosts",
		Long: `rdist collects the items of a suite file and runs them, either in this
process (rdist local) or spread over local, in-process and ssh worker hosts
(rdist run). Results are rendered on the console, and can be forwarded to
Kafka or Redis and watched from elsewhere (rdist watch).`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (yaml)")
	pf.StringVar(&a.mongo.URI, "mongo-uri", "", "load the config from MongoDB instead of a file")
	pf.StringVar(&a.mongo.DBName, "mongo-db", "rdist", "MongoDB database of the config document")
	pf.StringVar(&a.mongo.CollName, "mongo-coll", "configs", "MongoDB collection of the config document")
	pf.StringVar(&a.mongo.ID, "mongo-id", "default", "id of the config document")
	pf.BoolVar(&a.debug, "debug", false, "enable debug logging")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: json or console")

	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(
		newRunCmd(a),
		newLocalCmd(a),
		newWorkerCmd(a),
		newBoxCmd(a),
		newWatchCmd(a),
	)
	return root
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return report.ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(stderr, "rdist:", ee.err)
		}
		return ee.code
	}
	// flag and argument errors from cobra
	fmt.Fprintln(stderr, "rdist:", err)
	return session.ExitUsage
}

// logger builds a logger from the global flags alone, for the commands that
// run without a session config.
func (a *app) logger(service string) lg.Logger {
	format := a.logFormat
	if format == "" {
		format = "json"
	}
	return lg.New(&lg.Config{ServiceName: service, Debug: a.debug, Format: format})
}
