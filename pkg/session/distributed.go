package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrej220/rdist/internal/lg"
	"github.com/andrej220/rdist/pkg/hostmanage"
	"github.com/andrej220/rdist/pkg/item"
	"github.com/andrej220/rdist/pkg/master"
	"github.com/andrej220/rdist/pkg/report"
)

// HostHint is shown when a distributed run is started without hosts.
const HostHint = `no hosts given; pass one or more host specs, for example:
  --hosts localhost,localhost            two local worker processes
  --hosts alice@build1:2222:/srv/work    ssh with user, port and remote dir
  --hosts inproc                         in-process worker`

var ErrNoHostsGiven = errors.New(HostHint)

// Distributed runs the items of a collection on remote worker nodes.
type Distributed struct {
	Hosts       Hosts
	Roots       []item.Node
	Keyword     string
	ExitFirst   bool
	Reporter    report.Reporter
	Log         lg.Logger
	SummaryFile string
}

// Run walks starting → dispatching → finished|interrupted|crashed. Host
// teardown happens exactly once on every path that brought hosts up, and
// before the terminal event.
func (d *Distributed) Run(ctx context.Context) (res Result, err error) {
	if d.Hosts == nil || len(d.Hosts.Names()) == 0 {
		return Result{State: StateStarting, ExitCode: ExitUsage}, ErrNoHostsGiven
	}
	r := newRun(d.Reporter, d.ExitFirst, d.Log)
	ctx = lg.Attach(ctx, r.log)

	var nodes []*hostmanage.Node
	tornDown := false
	teardown := func(abort bool) {
		if tornDown {
			return
		}
		tornDown = true
		if abort {
			d.Hosts.KillChannels(nodes)
		}
		r.res.Nodes = d.Hosts.TeardownHosts(context.WithoutCancel(ctx), r.stream, nodes, abort || d.ExitFirst)
	}
	defer func() {
		if v := recover(); v != nil {
			teardown(true)
			res, err = r.finish(recovered(v))
		}
		writeSummary(d.SummaryFile, res, r.log)
	}()

	r.stream.Emit(report.TestStarted{SessionID: r.id, Hosts: d.Hosts.Names()})
	nodes, err = d.Hosts.InitHosts(ctx, r.stream)
	if err != nil {
		teardown(true)
		return r.finish(classify(ctx, err))
	}
	r.stream.Emit(report.RsyncFinished{})

	r.enter(StateDispatching)
	items := item.Generate(d.Roots, d.Keyword, r.stream.ShouldStop, reportCollectError(r.stream))
	r.res.Dispatch, err = master.Dispatch(ctx, nodes, items, r.stream.ShouldStop, r.stream)
	err = classify(ctx, err)
	if err == nil {
		err = r.reporterErr()
	}
	if err != nil {
		teardown(true)
		return r.finish(err)
	}
	teardown(false)
	return r.finish(nil)
}

// Exit maps a session error to the process exit code.
func Exit(res Result, err error) int {
	switch {
	case errors.Is(err, ErrNoHostsGiven):
		return ExitUsage
	case errors.Is(err, ErrInterrupted):
		return report.ExitInterrupted
	case err != nil && res.ExitCode == report.ExitOK:
		return report.ExitCrashed
	}
	return res.ExitCode
}

// ExitUsage is returned for configuration errors found before a session
// starts.
const ExitUsage = 4

func (r Result) String() string {
	return fmt.Sprintf("%s: %d passed, %d failed, %d skipped (exit %d)",
		r.State, r.Counts.Passed, r.Counts.Failures(), r.Counts.Skipped, r.ExitCode)
}
