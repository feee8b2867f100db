package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"

	"github.com/andrej220/rdist/internal/lg"
)

// SSHConfig carries credentials and the command that starts a worker on
// the remote side.
type SSHConfig struct {
	KeyPath       string
	Password      string
	Timeout       time.Duration
	WorkerCommand string
}

// ResilienceConfig bundles the retry and circuit-breaker policy used when
// bringing up a host.
type ResilienceConfig struct {
	BackoffSettings        *backoff.ExponentialBackOff
	CircuitBreakerSettings gobreaker.Settings
}

func DefaultResilience() ResilienceConfig {
	return ResilienceConfig{
		BackoffSettings: &backoff.ExponentialBackOff{
			InitialInterval:     500 * time.Millisecond,
			MaxInterval:         5 * time.Second,
			MaxElapsedTime:      30 * time.Second,
			Multiplier:          1.5,
			RandomizationFactor: 0.5,
			Stop:                backoff.Stop,
			Clock:               backoff.SystemClock,
		},
		CircuitBreakerSettings: gobreaker.Settings{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		},
	}
}

// Syncer pushes the working tree to a host before its worker starts.
type Syncer interface {
	Sync(ctx context.Context, spec HostSpec) error
}

// SSHDialer starts a worker over an SSH session and speaks the wire
// protocol on the session's stdin and stdout.
type SSHDialer struct {
	client     *ssh.ClientConfig
	command    string
	resilience ResilienceConfig
	syncer     Syncer
	log        lg.Logger
}

func NewSSHDialer(cfg SSHConfig, res ResilienceConfig, syncer Syncer, logger lg.Logger) (*SSHDialer, error) {
	var auth []ssh.AuthMethod
	if cfg.KeyPath != "" {
		m, err := publicKeyAuth(cfg.KeyPath)
		if err != nil {
			return nil, err
		}
		auth = append(auth, m)
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("ssh: no key_path or password configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	command := cfg.WorkerCommand
	if command == "" {
		command = "rdist worker"
	}
	if logger == nil {
		logger = lg.Discard
	}
	return &SSHDialer{
		client: &ssh.ClientConfig{
			Auth:            auth,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         timeout,
			BannerCallback:  func(message string) error { return nil }, //ignore banner
		},
		command:    command,
		resilience: res,
		syncer:     syncer,
		log:        logger,
	}, nil
}

func (d *SSHDialer) Dial(ctx context.Context, spec HostSpec) (Channel, error) {
	client, err := d.connect(ctx, spec)
	if err != nil {
		return nil, err
	}
	if d.syncer != nil {
		if err := d.syncer.Sync(ctx, spec); err != nil {
			client.Close()
			return nil, fmt.Errorf("sync %s: %w", spec, err)
		}
	}

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("new session on %s: %w", spec, err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	sess.Stderr = &logWriter{log: d.log.With(lg.String("host", spec.String()))}

	if err := sess.Start(d.remoteCommand(spec)); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("start worker on %s: %w", spec, err)
	}

	kill := func() {
		_ = sess.Signal(ssh.SIGKILL)
		sess.Close()
		client.Close()
	}
	release := func() error {
		stdin.Close()
		err := sess.Wait()
		sess.Close()
		client.Close()
		var missing *ssh.ExitMissingError
		if errors.As(err, &missing) || errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	ch := newStreamChannel(spec.String(), stdout, stdin, kill, release)
	if err := ch.awaitReady(ctx); err != nil {
		ch.Kill()
		ch.Close()
		return nil, err
	}
	return ch, nil
}

// connect dials with exponential backoff. A per-host breaker stops the
// retries once the host has failed often enough.
func (d *SSHDialer) connect(ctx context.Context, spec HostSpec) (*ssh.Client, error) {
	cfg := *d.client
	cfg.User = spec.User
	if cfg.User == "" {
		cfg.User = os.Getenv("USER")
	}
	cbs := d.resilience.CircuitBreakerSettings
	cbs.Name = "ssh-" + spec.Host
	cb := gobreaker.NewCircuitBreaker(cbs)

	var client *ssh.Client
	operation := func() error {
		res, err := cb.Execute(func() (any, error) {
			return ssh.Dial("tcp", spec.Address(), &cfg)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		client = res.(*ssh.Client)
		return nil
	}

	var b backoff.BackOff = backoff.NewExponentialBackOff()
	if d.resilience.BackoffSettings != nil {
		eb := *d.resilience.BackoffSettings
		eb.Reset()
		b = &eb
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", spec.Address(), err)
	}
	return client, nil
}

func (d *SSHDialer) remoteCommand(spec HostSpec) string {
	if spec.Dir == "" {
		return d.command
	}
	dir := shellQuote(spec.Dir)
	return fmt.Sprintf("mkdir -p %s && cd %s && exec %s", dir, dir, d.command)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func publicKeyAuth(privateKeyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

// logWriter forwards remote stderr lines to the logger.
type logWriter struct {
	log lg.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.log.Debug("worker stderr", lg.String("line", line))
		}
	}
	return len(p), nil
}
