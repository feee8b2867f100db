package main

import (
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/andrej220/rdist/pkg/config"
)

// sessionFlags are the config keys that can be overridden on the command
// line. Only flags that were set override the loaded config.
type sessionFlags struct {
	hosts         []string
	keyword       string
	exitFirst     bool
	boxing        bool
	noCapture     bool
	apigen        string
	apigenOutput  string
	reporter      string
	verbose       bool
	startServer   bool
	serverPort    int
	workerCommand string
	remoteDir     string
	syncSource    string
	summaryFile   string
	kafkaBrokers  []string
	kafkaTopic    string
	redisAddr     string
	redisChannel  string
	sshKey        string
	loopOnChange  bool
}

func (f *sessionFlags) register(cmd *cobra.Command, distributed bool) {
	fs := cmd.Flags()
	fs.StringVarP(&f.keyword, "keyword", "k", "", "only run items matching the expression (terms, -term to exclude)")
	fs.BoolVarP(&f.exitFirst, "exitfirst", "x", false, "stop after the first failure")
	fs.BoolVar(&f.boxing, "boxing", false, "run every item in a separate child process")
	fs.BoolVarP(&f.noCapture, "nocapture", "s", false, "do not capture output (disables boxing)")
	fs.StringVar(&f.reporter, "reporter", "", "reporter: local, remote or web")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "one line per item")
	fs.BoolVar(&f.startServer, "startserver", false, "serve live results over http (implies --reporter web)")
	fs.IntVar(&f.serverPort, "server-port", config.DefaultServerPort, "port of the live results server")
	fs.StringVar(&f.summaryFile, "summary-file", "", "write a JSON run summary to this file")
	fs.StringSliceVar(&f.kafkaBrokers, "kafka-brokers", nil, "forward events to these Kafka brokers")
	fs.StringVar(&f.kafkaTopic, "kafka-topic", "", "Kafka topic for forwarded events")
	fs.StringVar(&f.redisAddr, "redis-addr", "", "forward events to this Redis server (host:port)")
	fs.StringVar(&f.redisChannel, "redis-channel", "", "Redis channel prefix for forwarded events")
	fs.BoolVarP(&f.loopOnChange, "looponchange", "f", false, "rerun whenever the suite file changes")
	if distributed {
		fs.StringSliceVar(&f.hosts, "hosts", nil, "worker hosts: [ssh://][user@]host[:port][:dir], localhost or inproc")
		fs.StringVar(&f.workerCommand, "worker-command", config.DefaultWorkerCommand, "command that starts a worker on ssh hosts")
		fs.StringVar(&f.remoteDir, "remote-dir", "", "working directory on ssh hosts without their own")
		fs.StringVar(&f.syncSource, "sync-source", "", "rsync this directory to every ssh host before it starts")
		fs.StringVar(&f.sshKey, "ssh-key", "", "private key for ssh hosts")
		return
	}
	fs.StringVar(&f.apigen, "apigen", "", "record item calls and write documentation under this generator name")
	fs.StringVar(&f.apigenOutput, "apigen-output", "", "file the documentation is written to")
}

func (f *sessionFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fs := cmd.Flags()
	set := func(name string, fn func()) {
		if fs.Lookup(name) != nil && fs.Changed(name) {
			fn()
		}
	}
	set("hosts", func() { cfg.Hosts = f.hosts })
	set("keyword", func() { cfg.Keyword = f.keyword })
	set("exitfirst", func() { cfg.ExitFirst = f.exitFirst })
	set("boxing", func() { cfg.Boxing = f.boxing })
	set("nocapture", func() { cfg.NoCapture = f.noCapture })
	set("apigen", func() { cfg.Apigen = f.apigen })
	set("apigen-output", func() { cfg.ApigenOutput = f.apigenOutput })
	set("reporter", func() { cfg.Reporter = f.reporter })
	set("verbose", func() { cfg.Verbose = f.verbose })
	set("startserver", func() { cfg.StartServer = f.startServer })
	set("server-port", func() { cfg.ServerPort = f.serverPort })
	set("worker-command", func() { cfg.WorkerCommand = f.workerCommand })
	set("remote-dir", func() { cfg.RemoteDir = f.remoteDir })
	set("sync-source", func() { cfg.SyncSource = f.syncSource })
	set("summary-file", func() { cfg.SummaryFile = f.summaryFile })
	set("kafka-brokers", func() { cfg.Kafka.Brokers = f.kafkaBrokers })
	set("kafka-topic", func() { cfg.Kafka.Topic = f.kafkaTopic })
	set("redis-addr", func() { cfg.Redis.Addr = f.redisAddr })
	set("redis-channel", func() { cfg.Redis.Channel = f.redisChannel })
	set("ssh-key", func() { cfg.SSH.KeyPath = f.sshKey })
}

// loadConfig reads the config from MongoDB or a file when one is given,
// applies the flags and the positional suite argument, then validates.
func (a *app) loadConfig(cmd *cobra.Command, f *sessionFlags, args []string) (config.Config, error) {
	cfg := config.Default()

	var (
		store config.Store
		err   error
	)
	switch {
	case a.mongo.URI != "":
		store, err = config.NewStore(config.MongoStore, &a.mongo)
	case a.configPath != "":
		store, err = config.NewStore(config.FileStore, &config.FileConfig{Path: a.configPath})
	}
	if err != nil {
		return cfg, usageError(err)
	}
	if store != nil {
		cfg, err = config.Load(store)
		if c, ok := store.(io.Closer); ok {
			_ = c.Close()
		}
		if err != nil {
			return cfg, usageError(err)
		}
	}

	f.apply(cmd, &cfg)
	if len(args) == 1 {
		cfg.Suite = args[0]
	}
	if a.debug {
		cfg.Log.Debug = true
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	cfg.Fix()
	if cfg.Suite == "" {
		return cfg, usageError(errors.New("no suite given; pass a suite file or set suite in the config"))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, usageError(err)
	}
	return cfg, nil
}
