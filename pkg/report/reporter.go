package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/andrej220/rdist/pkg/item"
)

// Reporter consumes events in emission order.
type Reporter interface {
	Report(ev Event)
	ExitCode() int
}

// LocalReporter renders events directly to an output sink.
type LocalReporter struct {
	Tally
	out      io.Writer
	verbose  bool
	started  time.Time
	hist     *hdrhistogram.Histogram
	failures []string
}

func NewLocalReporter(out io.Writer, verbose bool) *LocalReporter {
	return &LocalReporter{
		out:     out,
		verbose: verbose,
		// microseconds, up to one hour
		hist: hdrhistogram.New(1, int64(time.Hour/time.Microsecond), 3),
	}
}

func (r *LocalReporter) Report(ev Event) {
	r.Count(ev)
	switch e := ev.(type) {
	case TestStarted:
		r.started = time.Now()
		r.printf("session %s: %d host(s): %s\n", e.SessionID, len(e.Hosts), strings.Join(e.Hosts, ", "))
	case HostReady:
		r.printf("host %s ready\n", e.Host)
	case HostFailed:
		r.printf("host %s failed: %s\n", e.Host, e.Err)
	case RsyncFinished:
		if r.verbose {
			r.printf("bring-up finished\n")
		}
	case ItemStart:
		if r.verbose {
			r.printf("START    %s [%s]\n", e.Item.ID, e.Host)
		}
	case ReceivedItemOutcome:
		o := e.Outcome
		d := o.Duration.Microseconds()
		if d < 1 {
			d = 1
		}
		_ = r.hist.RecordValue(d)
		r.printf("%-8s %s [%s] %s\n", strings.ToUpper(string(o.Kind)), o.ItemID, e.Host, o.Duration.Round(time.Millisecond))
		if o.IsFailure() {
			r.failures = append(r.failures, failureText(o.ItemID, e.Host, o.Details, o.Stderr))
		}
	case SkippedTryiter:
		r.printf("SKIPPED  %s: %s\n", e.Item.ID, e.Reason)
	case FailedTryiter:
		r.printf("ERROR    %s: %s\n", e.Item.ID, e.Details)
		r.failures = append(r.failures, failureText(e.Item.ID, e.Host, e.Details, nil))
	case Nodes:
		for _, s := range e.Statuses {
			line := fmt.Sprintf("node %s: %s, %d item(s)", s.Host, s.Status, s.Items)
			if s.Err != "" {
				line += " (" + s.Err + ")"
			}
			r.printf("%s\n", line)
		}
	case TestFinished:
		r.summary()
	case InterruptedExecution:
		r.printf("!! interrupted\n")
		r.summary()
	case CrashedExecution:
		r.printf("!! crashed: %s\n", e.Details)
	}
}

func (r *LocalReporter) summary() {
	for _, f := range r.failures {
		r.printf("%s", f)
	}
	c := r.Counts()
	elapsed := time.Duration(0)
	if !r.started.IsZero() {
		elapsed = time.Since(r.started).Round(time.Millisecond)
	}
	r.printf("== %d passed, %d failed, %d crashed, %d skipped, %d lost in %s ==\n",
		c.Passed, c.Failed, c.Crashed, c.Skipped, c.Lost, elapsed)
	if r.hist.TotalCount() > 0 {
		r.printf("durations: p50 %s  p95 %s  max %s\n",
			micros(r.hist.ValueAtQuantile(50)), micros(r.hist.ValueAtQuantile(95)), micros(r.hist.Max()))
	}
}

func (r *LocalReporter) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

func micros(v int64) time.Duration {
	return (time.Duration(v) * time.Microsecond).Round(time.Millisecond)
}

func failureText(id, host, details string, stderr []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "---- %s", id)
	if host != "" {
		fmt.Fprintf(&b, " [%s]", host)
	}
	b.WriteString(" ----\n")
	if details != "" {
		b.WriteString(details)
		b.WriteString("\n")
	}
	for _, line := range stderr {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// RemoteReporter aggregates per host and forwards every event to a
// Publisher. Console output is kept compact: one mark per outcome.
type RemoteReporter struct {
	Tally
	out     io.Writer
	forward *Forwarder
	perHost map[string]*Counts
}

func NewRemoteReporter(out io.Writer, forward *Forwarder) *RemoteReporter {
	return &RemoteReporter{out: out, forward: forward, perHost: make(map[string]*Counts)}
}

func (r *RemoteReporter) Report(ev Event) {
	r.Count(ev)
	if r.forward != nil {
		r.forward.Forward(ev)
	}
	switch e := ev.(type) {
	case TestStarted:
		fmt.Fprintf(r.out, "session %s on %s\n", e.SessionID, strings.Join(e.Hosts, ", "))
	case HostFailed:
		fmt.Fprintf(r.out, "\nhost %s failed: %s\n", e.Host, e.Err)
	case ReceivedItemOutcome:
		c := r.host(e.Host)
		mark := "."
		switch e.Outcome.Kind {
		case item.Failed:
			c.Failed++
			mark = "F"
		case item.Crashed:
			c.Crashed++
			mark = "C"
		case item.Skipped:
			c.Skipped++
			mark = "s"
		default:
			c.Passed++
		}
		fmt.Fprint(r.out, mark)
	case SkippedTryiter:
		fmt.Fprint(r.out, "s")
	case FailedTryiter:
		r.host(e.Host).Lost++
		fmt.Fprint(r.out, "E")
	case TestFinished, InterruptedExecution, CrashedExecution:
		fmt.Fprintln(r.out)
		hosts := make([]string, 0, len(r.perHost))
		for h := range r.perHost {
			hosts = append(hosts, h)
		}
		sort.Strings(hosts)
		for _, h := range hosts {
			c := r.perHost[h]
			fmt.Fprintf(r.out, "%s: %d passed, %d failed, %d crashed, %d skipped, %d lost\n",
				h, c.Passed, c.Failed, c.Crashed, c.Skipped, c.Lost)
		}
		total := r.Counts()
		fmt.Fprintf(r.out, "== %d passed, %d failed, %d skipped (%s) ==\n",
			total.Passed, total.Failures(), total.Skipped, ev.Kind())
	}
}

func (r *RemoteReporter) host(h string) *Counts {
	if h == "" {
		h = "?"
	}
	c, ok := r.perHost[h]
	if !ok {
		c = &Counts{}
		r.perHost[h] = c
	}
	return c
}

// Multi fans every event out to several reporters. The exit code is taken
// from the first one.
type Multi []Reporter

func (m Multi) Report(ev Event) {
	for _, r := range m {
		r.Report(ev)
	}
}

func (m Multi) ExitCode() int {
	if len(m) == 0 {
		return ExitOK
	}
	return m[0].ExitCode()
}
