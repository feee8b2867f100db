// Package report defines the session event stream and the reporters that
// consume it.
package report

import (
	"github.com/andrej220/rdist/pkg/item"
)

type Kind string

const (
	KindTestStarted          Kind = "test_started"
	KindHostReady            Kind = "host_ready"
	KindHostFailed           Kind = "host_failed"
	KindRsyncFinished        Kind = "rsync_finished"
	KindItemStart            Kind = "item_start"
	KindReceivedItemOutcome  Kind = "received_item_outcome"
	KindSkippedTryiter       Kind = "skipped_tryiter"
	KindFailedTryiter        Kind = "failed_tryiter"
	KindNodes                Kind = "nodes"
	KindTestFinished         Kind = "test_finished"
	KindInterruptedExecution Kind = "interrupted_execution"
	KindCrashedExecution     Kind = "crashed_execution"
)

// Event is a closed set of session notifications.
type Event interface {
	Kind() Kind
	event()
}

type TestStarted struct {
	SessionID string   `json:"session_id"`
	Hosts     []string `json:"hosts"`
}

// HostReady is emitted once per host that finished bring-up.
type HostReady struct {
	Host string `json:"host"`
}

type HostFailed struct {
	Host string `json:"host"`
	Err  string `json:"error"`
}

// RsyncFinished marks the end of remote bring-up.
type RsyncFinished struct{}

type ItemStart struct {
	Item item.Item `json:"item"`
	Host string    `json:"host"`
}

type ReceivedItemOutcome struct {
	Outcome item.Outcome `json:"outcome"`
	Host    string       `json:"host"`
}

// SkippedTryiter reports an item or collection node that was not tried.
type SkippedTryiter struct {
	Item   item.Item `json:"item"`
	Reason string    `json:"reason"`
}

// FailedTryiter reports an item or collection node that could not be tried
// or whose outcome was lost. Collect marks a collection node that could not
// be walked; it counts against the exit code but never triggers exitfirst.
type FailedTryiter struct {
	Item    item.Item `json:"item"`
	Details string    `json:"details"`
	Host    string    `json:"host,omitempty"`
	Collect bool      `json:"collect,omitempty"`
}

type NodeStatus struct {
	Host   string `json:"host"`
	Status string `json:"status"`
	Items  int    `json:"items"`
	Err    string `json:"error,omitempty"`
}

type Nodes struct {
	Statuses []NodeStatus `json:"statuses"`
}

type TestFinished struct {
	Failed bool `json:"failed"`
}

type InterruptedExecution struct{}

type CrashedExecution struct {
	Details string `json:"details"`
}

func (TestStarted) Kind() Kind          { return KindTestStarted }
func (HostReady) Kind() Kind            { return KindHostReady }
func (HostFailed) Kind() Kind           { return KindHostFailed }
func (RsyncFinished) Kind() Kind        { return KindRsyncFinished }
func (ItemStart) Kind() Kind            { return KindItemStart }
func (ReceivedItemOutcome) Kind() Kind  { return KindReceivedItemOutcome }
func (SkippedTryiter) Kind() Kind       { return KindSkippedTryiter }
func (FailedTryiter) Kind() Kind        { return KindFailedTryiter }
func (Nodes) Kind() Kind                { return KindNodes }
func (TestFinished) Kind() Kind         { return KindTestFinished }
func (InterruptedExecution) Kind() Kind { return KindInterruptedExecution }
func (CrashedExecution) Kind() Kind     { return KindCrashedExecution }

func (TestStarted) event()          {}
func (HostReady) event()            {}
func (HostFailed) event()           {}
func (RsyncFinished) event()        {}
func (ItemStart) event()            {}
func (ReceivedItemOutcome) event()  {}
func (SkippedTryiter) event()       {}
func (FailedTryiter) event()        {}
func (Nodes) event()                {}
func (TestFinished) event()         {}
func (InterruptedExecution) event() {}
func (CrashedExecution) event()     {}

// IsTerminal reports whether ev ends a session.
func IsTerminal(ev Event) bool {
	switch ev.Kind() {
	case KindTestFinished, KindInterruptedExecution, KindCrashedExecution:
		return true
	}
	return false
}

// IsFailure reports whether ev carries a failing, non-skipped result of a
// dispatched item. Items lost with their node count; collection errors do
// not.
func IsFailure(ev Event) bool {
	switch e := ev.(type) {
	case ReceivedItemOutcome:
		return e.Outcome.IsFailure()
	case FailedTryiter:
		return !e.Collect
	}
	return false
}
