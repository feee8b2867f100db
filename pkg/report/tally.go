package report

import (
	"sync"

	"github.com/andrej220/rdist/pkg/item"
)

// Exit codes of a session.
const (
	ExitOK          = 0
	ExitFailures    = 1
	ExitInterrupted = 2
	ExitCrashed     = 3
)

type Counts struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Crashed int `json:"crashed"`
	Lost    int `json:"lost"`
}

func (c Counts) Failures() int { return c.Failed + c.Crashed + c.Lost }

func (c Counts) Total() int { return c.Passed + c.Failures() + c.Skipped }

// Tally aggregates counts from the event stream and derives the exit code.
// It is embedded by the concrete reporters.
type Tally struct {
	mu          sync.Mutex
	counts      Counts
	interrupted bool
	crashed     bool
}

func (t *Tally) Count(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e := ev.(type) {
	case ReceivedItemOutcome:
		switch e.Outcome.Kind {
		case item.Passed:
			t.counts.Passed++
		case item.Skipped:
			t.counts.Skipped++
		case item.Crashed:
			t.counts.Crashed++
		default:
			t.counts.Failed++
		}
	case SkippedTryiter:
		t.counts.Skipped++
	case FailedTryiter:
		t.counts.Lost++
	case InterruptedExecution:
		t.interrupted = true
	case CrashedExecution:
		t.crashed = true
	}
}

// Report lets a bare Tally sit in a Multi next to a rendering reporter.
func (t *Tally) Report(ev Event) { t.Count(ev) }

func (t *Tally) Counts() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts
}

// ExitCode maps the terminal state to a process exit status.
func (t *Tally) ExitCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.crashed:
		return ExitCrashed
	case t.interrupted:
		return ExitInterrupted
	case t.counts.Failures() > 0:
		return ExitFailures
	}
	return ExitOK
}
