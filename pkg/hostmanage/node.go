package hostmanage

import (
	"github.com/andrej220/rdist/pkg/item"
	"github.com/andrej220/rdist/pkg/transport"
)

type Status string

const (
	StatusIdle Status = "idle"
	StatusBusy Status = "busy"
	StatusDead Status = "dead"
)

// Node pairs a host with its live channel. Its status is only mutated by
// the goroutine that owns the node set: the manager during bring-up and
// teardown, the dispatch loop in between.
type Node struct {
	Name    string
	Spec    transport.HostSpec
	Channel transport.Channel

	status   Status
	items    int
	inFlight *item.Item
	flightID string
	err      error
}

func NewNode(name string, spec transport.HostSpec, ch transport.Channel) *Node {
	return &Node{Name: name, Spec: spec, Channel: ch, status: StatusIdle}
}

func (n *Node) Status() Status { return n.status }

// Items is the number of items handed to the node so far.
func (n *Node) Items() int { return n.items }

func (n *Node) Err() error { return n.err }

func (n *Node) Idle() bool { return n.status == StatusIdle }

func (n *Node) Usable() bool { return n.status != StatusDead }

// Assign marks the node busy with it, sent under correlation id.
func (n *Node) Assign(it item.Item, id string) {
	n.inFlight = &it
	n.flightID = id
	n.items++
	n.status = StatusBusy
}

// InFlight returns the item the node is working on, if any.
func (n *Node) InFlight() (item.Item, string, bool) {
	if n.inFlight == nil {
		return item.Item{}, "", false
	}
	return *n.inFlight, n.flightID, true
}

// Complete clears the in-flight item and makes the node idle again.
func (n *Node) Complete() {
	n.inFlight = nil
	n.flightID = ""
	if n.status == StatusBusy {
		n.status = StatusIdle
	}
}

// MarkDead excludes the node from further dispatch.
func (n *Node) MarkDead(err error) {
	n.inFlight = nil
	n.flightID = ""
	n.status = StatusDead
	if n.err == nil {
		n.err = err
	}
}
