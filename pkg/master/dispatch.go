// Package master schedules items onto worker nodes and turns their
// answers into events.
package master

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/andrej220/rdist/internal/lg"
	"github.com/andrej220/rdist/pkg/hostmanage"
	"github.com/andrej220/rdist/pkg/item"
	"github.com/andrej220/rdist/pkg/report"
	"github.com/andrej220/rdist/pkg/wire"
)

// ErrNoNodes is returned when work remains but no worker node is usable.
var ErrNoNodes = errors.New("no usable worker nodes left")

// Summary describes how a dispatch run ended.
type Summary struct {
	Dispatched int  `json:"dispatched"`
	Completed  int  `json:"completed"`
	Lost       int  `json:"lost"`
	Stopped    bool `json:"stopped"`
}

type arrival struct {
	node int
	msg  wire.Message
	err  error
}

type loop struct {
	ctx   context.Context
	nodes []*hostmanage.Node
	em    report.Emitter
	log   lg.Logger
	sum   Summary
	next  int
}

// Dispatch hands items to idle nodes until the sequence is exhausted or
// stop reports true, and waits for every in-flight item. Node state is
// only touched from the calling goroutine; one receiver goroutine per node
// forwards that node's messages into a shared inbox.
//
// When ctx ends, in-flight items are reported as aborted and ctx.Err() is
// returned. ErrNoNodes is returned when work remains but every node is
// dead.
func Dispatch(ctx context.Context, nodes []*hostmanage.Node, items iter.Seq[item.Item], stop func() bool, em report.Emitter) (Summary, error) {
	if stop == nil {
		stop = item.Never
	}
	l := &loop{ctx: ctx, nodes: nodes, em: em, log: lg.FromContext(ctx)}

	pull, cancelPull := iter.Pull(items)
	defer cancelPull()

	rctx, cancel := context.WithCancel(ctx)
	inbox := make(chan arrival)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()
	for i, n := range nodes {
		if !n.Usable() {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			receive(rctx, i, n, inbox)
		}()
	}

	exhausted := false
	for {
		if err := ctx.Err(); err != nil {
			l.abort(err)
			return l.sum, err
		}
		for !exhausted {
			if stop() {
				l.sum.Stopped = true
				break
			}
			n := l.pickIdle()
			if n == nil {
				break
			}
			it, ok := pull()
			if !ok {
				exhausted = true
				break
			}
			l.assign(n, it)
		}

		if l.busy() == 0 {
			if exhausted || l.sum.Stopped {
				return l.sum, nil
			}
			if l.usable() == 0 {
				return l.sum, l.noNodes(pull)
			}
			continue
		}

		select {
		case a := <-inbox:
			l.handle(a)
		case <-ctx.Done():
			l.abort(ctx.Err())
			return l.sum, ctx.Err()
		}
	}
}

func receive(ctx context.Context, idx int, n *hostmanage.Node, inbox chan<- arrival) {
	for {
		m, err := n.Channel.Receive(ctx)
		select {
		case inbox <- arrival{node: idx, msg: m, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// pickIdle walks the nodes round-robin starting after the last pick.
func (l *loop) pickIdle() *hostmanage.Node {
	for k := range l.nodes {
		i := (l.next + k) % len(l.nodes)
		if l.nodes[i].Idle() {
			l.next = i + 1
			return l.nodes[i]
		}
	}
	return nil
}

func (l *loop) busy() int {
	c := 0
	for _, n := range l.nodes {
		if n.Status() == hostmanage.StatusBusy {
			c++
		}
	}
	return c
}

func (l *loop) usable() int {
	c := 0
	for _, n := range l.nodes {
		if n.Usable() {
			c++
		}
	}
	return c
}

func (l *loop) assign(n *hostmanage.Node, it item.Item) {
	id, err := n.Channel.Send(l.ctx, it)
	if err != nil {
		l.log.Warn("send failed, dropping node", lg.String("host", n.Name), lg.String("item", it.ID), lg.Err(err))
		n.MarkDead(err)
		l.sum.Lost++
		l.em.Emit(report.FailedTryiter{Item: it, Details: fmt.Sprintf("could not send to %s: %v", n.Name, err), Host: n.Name})
		return
	}
	n.Assign(it, id)
	l.sum.Dispatched++
	l.em.Emit(report.ItemStart{Item: it, Host: n.Name})
}

func (l *loop) handle(a arrival) {
	n := l.nodes[a.node]
	if a.err != nil {
		if l.ctx.Err() != nil || !n.Usable() {
			return
		}
		if it, _, ok := n.InFlight(); ok {
			l.sum.Lost++
			l.em.Emit(report.FailedTryiter{Item: it, Details: fmt.Sprintf("node %s went down: %v", n.Name, a.err), Host: n.Name})
		}
		l.log.Warn("node went down", lg.String("host", n.Name), lg.Err(a.err))
		n.MarkDead(a.err)
		return
	}
	if a.msg.Type != wire.TypeOutcome {
		l.log.Debug("status from node", lg.String("host", n.Name), lg.String("status", a.msg.Status))
		return
	}
	it, id, ok := n.InFlight()
	if !ok {
		l.log.Warn("outcome from idle node ignored", lg.String("host", n.Name), lg.String("id", a.msg.ID))
		return
	}
	if id != a.msg.ID {
		l.log.Warn("outcome id mismatch", lg.String("host", n.Name), lg.String("want", id), lg.String("got", a.msg.ID))
	}
	o := *a.msg.Outcome
	o.ItemID = it.ID
	n.Complete()
	l.sum.Completed++
	l.em.Emit(report.ReceivedItemOutcome{Outcome: o, Host: n.Name})
}

// abort reports every in-flight item as lost.
func (l *loop) abort(cause error) {
	for _, n := range l.nodes {
		if it, _, ok := n.InFlight(); ok {
			l.sum.Lost++
			l.em.Emit(report.FailedTryiter{Item: it, Details: fmt.Sprintf("aborted: %v", cause), Host: n.Name})
			n.Complete()
		}
	}
}

// noNodes checks whether work is left once every node died. The item
// pulled to find out is reported as not tried.
func (l *loop) noNodes(pull func() (item.Item, bool)) error {
	it, ok := pull()
	if !ok {
		return nil
	}
	l.sum.Lost++
	l.em.Emit(report.FailedTryiter{Item: it, Details: ErrNoNodes.Error()})
	return ErrNoNodes
}
