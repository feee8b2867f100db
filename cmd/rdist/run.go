package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andrej220/rdist/internal/lg"
	"github.com/andrej220/rdist/internal/serverutil"
	"github.com/andrej220/rdist/pkg/collect"
	"github.com/andrej220/rdist/pkg/config"
	"github.com/andrej220/rdist/pkg/config/filestore"
	"github.com/andrej220/rdist/pkg/eventbus"
	"github.com/andrej220/rdist/pkg/executor"
	"github.com/andrej220/rdist/pkg/hostmanage"
	"github.com/andrej220/rdist/pkg/report"
	"github.com/andrej220/rdist/pkg/session"
	"github.com/andrej220/rdist/pkg/transport"
)

type sessionFunc func(ctx context.Context, cfg config.Config, logger lg.Logger) (session.Result, error)

func newRunCmd(a *app) *cobra.Command {
	f := &sessionFlags{}
	cmd := &cobra.Command{
		Use:   "run [suite.yaml]",
		Short: "Run a suite distributed over worker hosts",
		Example: `  # two local worker processes
  rdist run --hosts localhost,localhost suite.yaml

  # ssh hosts, code pushed with rsync first
  rdist run --hosts ci@build1:/srv/rdist,ci@build2:2222:/srv/rdist --sync-source . suite.yaml

  # stop at the first failure and forward events to Kafka
  rdist run -x --hosts inproc --kafka-brokers kafka:9092 --kafka-topic rdist-events suite.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd, f, args)
			if err != nil {
				return err
			}
			return a.execSession(cmd.Context(), cfg, f.loopOnChange, a.runDistributed)
		},
	}
	f.register(cmd, true)
	return cmd
}

// execSession runs fn once, or again after every change to the suite file
// when looping.
func (a *app) execSession(ctx context.Context, cfg config.Config, loop bool, fn sessionFunc) error {
	logger := lg.New(&cfg.Log)
	defer func() { _ = logger.Sync() }()
	ctx = lg.Attach(ctx, logger)

	if !loop {
		return exitFor(fn(ctx, cfg, logger))
	}

	changed := make(chan struct{}, 1)
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		err := filestore.New(cfg.Suite).Watch(watchCtx, func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
		if err != nil && watchCtx.Err() == nil {
			logger.Error("watching the suite failed", lg.String("suite", cfg.Suite), lg.Err(err))
		}
	}()

	for {
		res, err := fn(ctx, cfg, logger)
		if ctx.Err() != nil || session.Exit(res, err) == session.ExitUsage {
			return exitFor(res, err)
		}
		fmt.Fprintf(a.stdout, "## waiting for changes to %s\n", cfg.Suite)
		select {
		case <-ctx.Done():
			return exitFor(res, err)
		case <-changed:
		}
	}
}

func (a *app) runDistributed(ctx context.Context, cfg config.Config, logger lg.Logger) (session.Result, error) {
	usage := func(err error) (session.Result, error) {
		return session.Result{ExitCode: session.ExitUsage}, err
	}
	suite, err := collect.LoadSuite(cfg.Suite)
	if err != nil {
		return usage(err)
	}
	specs, err := cfg.HostSpecs()
	if err != nil {
		return usage(err)
	}
	dialer, err := a.dialer(cfg, specs, logger)
	if err != nil {
		return usage(err)
	}
	rep, closeReporter, err := a.reporter(ctx, session.VariantDistributed, cfg, logger)
	if err != nil {
		return usage(err)
	}
	defer closeReporter()

	d := &session.Distributed{
		Hosts:       hostmanage.New(specs, dialer, logger),
		Roots:       suite.Nodes(),
		Keyword:     cfg.Keyword,
		ExitFirst:   cfg.ExitFirst,
		Reporter:    rep,
		Log:         logger,
		SummaryFile: cfg.SummaryFile,
	}
	res, err := d.Run(ctx)
	logger.Info("session done", lg.String("session", res.SessionID), lg.String("result", res.String()))
	return res, err
}

// workerArgs are the strategy flags every worker is started with.
func workerArgs(cfg config.Config) []string {
	var args []string
	if cfg.Boxing {
		args = append(args, "--boxing")
	}
	if cfg.NoCapture {
		args = append(args, "--nocapture")
	}
	return args
}

func boxCommand(cfg config.Config, exe string) []string {
	if len(cfg.BoxCommand) > 0 {
		return cfg.BoxCommand
	}
	return []string{exe, "box"}
}

// dialer routes localhost specs to worker subprocesses of this binary,
// inproc specs to in-memory workers and everything else to ssh. The ssh
// dialer is only built when a remote host is configured.
func (a *app) dialer(cfg config.Config, specs []transport.HostSpec, logger lg.Logger) (transport.Dialer, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate rdist binary: %w", err)
	}
	strategy, err := executor.New(executor.Options{
		Boxing:     cfg.Boxing,
		NoCapture:  cfg.NoCapture,
		BoxCommand: boxCommand(cfg, exe),
	})
	if err != nil {
		return nil, err
	}
	router := transport.Router{
		Local: transport.LocalDialer{
			Command: append([]string{exe, "worker"}, workerArgs(cfg)...),
			Stderr:  a.stderr,
		},
		InProc: transport.PipeDialer{
			Strategy: func(transport.HostSpec) executor.Strategy { return strategy },
		},
	}

	remote := false
	for _, s := range specs {
		if !s.IsLocal() && !s.IsInProc() {
			remote = true
		}
	}
	if !remote {
		return router, nil
	}
	var syncer transport.Syncer
	if cfg.SyncSource != "" {
		syncer = transport.RsyncSyncer{Source: cfg.SyncSource}
	}
	ssh, err := transport.NewSSHDialer(transport.SSHConfig{
		KeyPath:       cfg.SSH.KeyPath,
		Password:      cfg.SSH.Password,
		Timeout:       cfg.SSH.Timeout,
		WorkerCommand: strings.Join(append([]string{cfg.WorkerCommand}, workerArgs(cfg)...), " "),
	}, transport.DefaultResilience(), syncer, logger)
	if err != nil {
		return nil, err
	}
	router.Remote = ssh
	return router, nil
}

// reporter builds the session reporter with its forwarding sinks and the
// live results server. The returned func releases all of them.
func (a *app) reporter(ctx context.Context, v session.Variant, cfg config.Config, logger lg.Logger) (report.Reporter, func(), error) {
	var cleanup []func()
	release := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	pub, err := publisher(ctx, cfg, logger)
	if err != nil {
		return nil, release, err
	}
	var fwd *report.Forwarder
	if pub != nil {
		fwd = report.NewForwarder(pub, "", logger)
		cleanup = append(cleanup, func() {
			if err := fwd.Close(); err != nil {
				logger.Warn("closing event forwarding failed", lg.Err(err))
			}
		})
	}

	var web *report.WebReporter
	if cfg.StartServer {
		web = report.NewWebReporter()
		cleanup = append(cleanup, a.serve(ctx, web, cfg.ServerPort, logger))
	}

	rep, err := session.SelectReporter(v, session.ReporterOptions{
		StartServer: cfg.StartServer,
		Override:    cfg.Reporter,
		Out:         a.stdout,
		Verbose:     cfg.Verbose,
		Forwarder:   fwd,
		Web:         web,
	})
	if err != nil {
		release()
		return nil, func() {}, err
	}
	return rep, release, nil
}

// publisher combines the configured forwarding sinks. It returns nil when
// none is configured.
func publisher(ctx context.Context, cfg config.Config, logger lg.Logger) (report.Publisher, error) {
	var pubs eventbus.Fanout
	if len(cfg.Kafka.Brokers) > 0 {
		pubs = append(pubs, eventbus.NewKafkaPublisher(eventbus.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, logger))
	}
	if cfg.Redis.Addr != "" {
		r, err := eventbus.NewRedisPublisher(ctx, cfg.Redis.Addr, cfg.Redis.Channel)
		if err != nil {
			_ = pubs.Close()
			return nil, err
		}
		pubs = append(pubs, r)
	}
	switch len(pubs) {
	case 0:
		return nil, nil
	case 1:
		return pubs[0], nil
	}
	return pubs, nil
}

// serve runs the live results server until the returned func is called.
func (a *app) serve(ctx context.Context, web *report.WebReporter, port int, logger lg.Logger) func() {
	scfg := serverutil.DefaultServerConfig()
	scfg.Port = strconv.Itoa(port)
	srv := serverutil.NewEventApp(web, scfg)

	srvCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := serverutil.RunServer(srvCtx, srv, scfg); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("live results server failed", lg.Err(err))
		}
	}()
	logger.Info("serving live results", lg.String("url", "http://localhost:"+scfg.Port+"/events"))
	return func() {
		cancel()
		<-done
	}
}
