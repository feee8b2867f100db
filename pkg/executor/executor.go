package executor

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// Executor knows how to run a script and return its output as string slices.
type Executor interface {
	Run(ctx context.Context, script string) (stdoutLines, stderrLines []string, err error)
}

// ShellExecutor runs scripts through a POSIX shell.
type ShellExecutor struct {
	Shell string
	Dir   string
	Env   []string
}

func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{Shell: "/bin/sh"}
}

func (e *ShellExecutor) Run(ctx context.Context, script string) ([]string, []string, error) {
	shell := e.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", script)
	cmd.Dir = e.Dir
	if len(e.Env) > 0 {
		cmd.Env = append(cmd.Environ(), e.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return splitLines(stdout.Bytes()), splitLines(stderr.Bytes()), err
}

func splitLines(b []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(b))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	return lines
}
