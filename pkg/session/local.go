package session

import (
	"context"

	"github.com/andrej220/rdist/internal/lg"
	"github.com/andrej220/rdist/pkg/executor"
	"github.com/andrej220/rdist/pkg/item"
	"github.com/andrej220/rdist/pkg/report"
)

// LocalHost names the executor of a local session in events.
const LocalHost = "local"

// Local runs the items of a collection in this process with one strategy.
type Local struct {
	Strategy    executor.Strategy
	Roots       []item.Node
	Keyword     string
	ExitFirst   bool
	Reporter    report.Reporter
	Log         lg.Logger
	SummaryFile string
	// DocsGenerator and DocsFile are used when Strategy is instrumented.
	DocsGenerator string
	DocsFile      string
}

func (l *Local) Run(ctx context.Context) (res Result, err error) {
	r := newRun(l.Reporter, l.ExitFirst, l.Log)
	ctx = lg.Attach(ctx, r.log)
	defer func() {
		if v := recover(); v != nil {
			res, err = r.finish(recovered(v))
		}
		writeSummary(l.SummaryFile, res, r.log)
	}()

	r.stream.Emit(report.TestStarted{SessionID: r.id})
	r.enter(StateDispatching)
	for it := range item.Generate(l.Roots, l.Keyword, r.stream.ShouldStop, reportCollectError(r.stream)) {
		if ctx.Err() != nil {
			break
		}
		r.stream.Emit(report.ItemStart{Item: it, Host: LocalHost})
		r.res.Dispatch.Dispatched++
		o := l.Strategy.Run(ctx, it, r.stream)
		o.ItemID = it.ID
		r.res.Dispatch.Completed++
		r.stream.Emit(report.ReceivedItemOutcome{Outcome: o, Host: LocalHost})
	}
	if err := classify(ctx, ctx.Err()); err != nil {
		return r.finish(err)
	}
	r.res.Dispatch.Stopped = r.stream.ShouldStop()

	if ins, ok := l.Strategy.(*executor.Instrumented); ok && l.DocsFile != "" {
		if err := ins.WriteDocs(l.DocsGenerator, l.DocsFile); err != nil {
			return r.finish(err)
		}
		r.log.Info("documentation written", lg.String("file", l.DocsFile), lg.Int("calls", len(ins.Records())))
	}
	return r.finish(nil)
}
