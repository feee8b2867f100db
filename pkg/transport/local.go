package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
)

// LocalDialer runs the worker as a child process on this machine.
type LocalDialer struct {
	Command []string
	Stderr  io.Writer
}

func (d LocalDialer) Dial(ctx context.Context, spec HostSpec) (Channel, error) {
	if len(d.Command) == 0 {
		return nil, fmt.Errorf("local dialer: no worker command")
	}
	cmd := exec.Command(d.Command[0], d.Command[1:]...)
	if spec.Dir != "" {
		if err := os.MkdirAll(spec.Dir, 0o755); err != nil {
			return nil, err
		}
		cmd.Dir = spec.Dir
	}
	cmd.Stderr = d.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker for %s: %w", spec, err)
	}

	var killed atomic.Bool
	kill := func() {
		killed.Store(true)
		_ = cmd.Process.Kill()
	}
	release := func() error {
		stdin.Close()
		err := cmd.Wait()
		if killed.Load() {
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
