// Package executor runs single items locally under a chosen isolation mode.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/andrej220/rdist/pkg/item"
	"github.com/andrej220/rdist/pkg/report"
)

// Strategy runs one item and returns its outcome. Sub-events produced while
// the item runs go to sink, which may be nil.
type Strategy interface {
	Run(ctx context.Context, it item.Item, sink report.Emitter) item.Outcome
}

type Kind int

const (
	KindPlain Kind = iota
	KindIsolated
	KindInstrumented
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindIsolated:
		return "isolated"
	case KindInstrumented:
		return "instrumented"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var ErrUnknownStrategy = errors.New("unknown execution strategy")

// Options is the part of the configuration that decides the strategy.
type Options struct {
	Boxing     bool
	NoCapture  bool
	Apigen     string
	BoxCommand []string
	Exec       Executor
}

// Resolve picks the strategy kind. Documentation mode wins over boxing;
// boxing needs output capture.
func Resolve(o Options) Kind {
	switch {
	case o.Apigen != "":
		return KindInstrumented
	case o.Boxing && !o.NoCapture:
		return KindIsolated
	}
	return KindPlain
}

// New builds the strategy chosen by Resolve.
func New(o Options) (Strategy, error) {
	ex := o.Exec
	if ex == nil {
		ex = NewShellExecutor()
	}
	switch kind := Resolve(o); kind {
	case KindPlain:
		return &Plain{Exec: ex}, nil
	case KindIsolated:
		if len(o.BoxCommand) == 0 {
			return nil, fmt.Errorf("isolated strategy: box command is required")
		}
		return &Isolated{Command: o.BoxCommand}, nil
	case KindInstrumented:
		return NewInstrumented(&Plain{Exec: ex}), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, kind)
	}
}

// Plain runs the item in the calling process with no isolation. A panic in
// the executor is not recovered here.
type Plain struct {
	Exec Executor
}

func (p *Plain) Run(ctx context.Context, it item.Item, _ report.Emitter) item.Outcome {
	start := time.Now()
	stdout, stderr, err := p.Exec.Run(ctx, it.Script)
	o := classify(it.ID, err)
	o.Stdout, o.Stderr = stdout, stderr
	o.Duration = time.Since(start)
	return o
}

// classify maps a script error to an outcome kind.
func classify(id string, err error) item.Outcome {
	if err == nil {
		return item.Pass(id)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == item.SkipExitCode {
			return item.Skip(id, "script requested skip")
		}
		if exitErr.ExitCode() < 0 {
			// terminated by a signal
			return item.Crash(id, exitErr.String())
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return item.Crash(id, "aborted: "+err.Error())
	}
	return item.Fail(id, err.Error())
}
