// Package session composes hosts, dispatch and reporting into one run and
// guarantees it ends in exactly one terminal state.
package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/andrej220/rdist/internal/lg"
	"github.com/andrej220/rdist/pkg/hostmanage"
	"github.com/andrej220/rdist/pkg/item"
	"github.com/andrej220/rdist/pkg/master"
	"github.com/andrej220/rdist/pkg/persistence"
	"github.com/andrej220/rdist/pkg/report"
)

type State string

const (
	StateStarting    State = "starting"
	StateDispatching State = "dispatching"
	StateFinished    State = "finished"
	StateInterrupted State = "interrupted"
	StateCrashed     State = "crashed"
)

var (
	ErrInterrupted = errors.New("session interrupted")
	ErrCrashed     = errors.New("session crashed")
)

// PanicError carries a panic recovered at the session boundary.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Result is the terminal value of a session.
type Result struct {
	SessionID string              `json:"session_id"`
	State     State               `json:"state"`
	ExitCode  int                 `json:"exit_code"`
	Counts    report.Counts       `json:"counts"`
	Dispatch  master.Summary      `json:"dispatch"`
	Nodes     []report.NodeStatus `json:"nodes,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Hosts is the host lifecycle the distributed session drives.
type Hosts interface {
	Names() []string
	InitHosts(ctx context.Context, em report.Emitter) ([]*hostmanage.Node, error)
	KillChannels(nodes []*hostmanage.Node)
	TeardownHosts(ctx context.Context, em report.Emitter, nodes []*hostmanage.Node, exitfirst bool) []report.NodeStatus
}

// run holds what both session variants share: the event stream, the
// state and the single terminal transition.
type run struct {
	id     string
	state  State
	stream *report.Stream
	tally  *report.Tally
	log    lg.Logger
	res    Result
}

func newRun(rep report.Reporter, exitFirst bool, logger lg.Logger) *run {
	if logger == nil {
		logger = lg.Discard
	}
	id := uuid.NewString()
	tally := &report.Tally{}
	return &run{
		id:     id,
		state:  StateStarting,
		stream: report.NewStream(report.Multi{tally, rep}, exitFirst),
		tally:  tally,
		log:    logger.With(lg.String("session", id)),
		res:    Result{SessionID: id},
	}
}

func (r *run) enter(s State) {
	r.log.Debug("session state", lg.String("from", string(r.state)), lg.String("to", string(s)))
	r.state = s
}

// finish emits the terminal event matching err and closes the stream.
// Terminal events go last: the stream drops anything emitted after them.
func (r *run) finish(err error) (Result, error) {
	if err == nil {
		err = r.reporterErr()
	}
	switch {
	case err == nil:
		r.enter(StateFinished)
		r.stream.Emit(report.TestFinished{Failed: r.stream.Failed()})
	case errors.Is(err, ErrInterrupted):
		r.enter(StateInterrupted)
		r.stream.Emit(report.InterruptedExecution{})
	default:
		r.enter(StateCrashed)
		r.stream.Emit(report.CrashedExecution{Details: err.Error()})
		if !errors.Is(err, ErrCrashed) {
			err = fmt.Errorf("%w: %w", ErrCrashed, err)
		}
	}
	r.res.ExitCode = r.stream.Close()
	if err == nil {
		// the reporter can still break while rendering the terminal event
		if err = r.reporterErr(); err != nil {
			r.enter(StateCrashed)
		}
	}
	r.res.State = r.state
	r.res.Counts = r.tally.Counts()
	if err != nil {
		r.res.Error = err.Error()
		r.log.Warn("session ended", lg.String("state", string(r.state)), lg.Err(err))
	} else {
		r.log.Info("session ended", lg.String("state", string(r.state)), lg.Int("exit", r.res.ExitCode))
	}
	return r.res, err
}

// reporterErr wraps a reporter panic recorded by the stream as a crash.
func (r *run) reporterErr() error {
	if err := r.stream.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCrashed, err)
	}
	return nil
}

// classify maps an error out of the dispatching phase to a session error.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	return err
}

func recovered(v any) error {
	return fmt.Errorf("%w: %w", ErrCrashed, &PanicError{Value: v, Stack: debug.Stack()})
}

// reportCollectError turns an untraversable collection node into an event.
func reportCollectError(em report.Emitter) item.ErrorFunc {
	return func(node string, err error) {
		if skip, ok := item.IsSkip(err); ok {
			em.Emit(report.SkippedTryiter{Item: item.Item{ID: node}, Reason: skip.Reason})
			return
		}
		em.Emit(report.FailedTryiter{Item: item.Item{ID: node}, Details: err.Error(), Collect: true})
	}
}

func writeSummary(path string, res Result, logger lg.Logger) {
	if path == "" {
		return
	}
	if err := persistence.WriteJSON(res, path); err != nil {
		logger.Error("write run summary", lg.String("file", path), lg.Err(err))
	}
}
