// Package item holds the unit of schedulable work, its outcome, and the
// generator that walks a collection tree into a lazy sequence of items.
package item

import (
	"errors"
	"fmt"
	"time"
)

// Item identifies one unit of work plus the keyword tags used for filtering.
// Items are immutable once generated.
type Item struct {
	ID       string   `json:"id" yaml:"id"`
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Script   string   `json:"script,omitempty" yaml:"script,omitempty"`
}

func (it Item) String() string { return it.ID }

type Kind string

const (
	Passed  Kind = "passed"
	Failed  Kind = "failed"
	Skipped Kind = "skipped"
	Crashed Kind = "crashed"
)

// SkipExitCode is the process exit status that marks a script as skipped.
const SkipExitCode = 77

// Outcome is the result of executing one Item.
type Outcome struct {
	ItemID   string        `json:"item_id"`
	Kind     Kind          `json:"kind"`
	Details  string        `json:"details,omitempty"` // failure details or skip reason
	Stdout   []string      `json:"stdout,omitempty"`
	Stderr   []string      `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
}

func Pass(id string) Outcome { return Outcome{ItemID: id, Kind: Passed} }

func Fail(id string, details string) Outcome {
	return Outcome{ItemID: id, Kind: Failed, Details: details}
}

func Skip(id string, reason string) Outcome {
	return Outcome{ItemID: id, Kind: Skipped, Details: reason}
}

func Crash(id string, details string) Outcome {
	return Outcome{ItemID: id, Kind: Crashed, Details: details}
}

func (o Outcome) Passed() bool  { return o.Kind == Passed }
func (o Outcome) Skipped() bool { return o.Kind == Skipped }

// IsFailure reports a failing, non-skipped outcome.
func (o Outcome) IsFailure() bool { return o.Kind == Failed || o.Kind == Crashed }

func (o Outcome) Validate() error {
	switch o.Kind {
	case Passed, Failed, Skipped, Crashed:
	default:
		return fmt.Errorf("outcome %q: unknown kind %q", o.ItemID, o.Kind)
	}
	if o.ItemID == "" {
		return errors.New("outcome without item id")
	}
	return nil
}

// SkipError marks a collection node that was deliberately not traversed.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return "skipped: " + e.Reason }

// IsSkip reports whether err carries a SkipError.
func IsSkip(err error) (*SkipError, bool) {
	var se *SkipError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
