package session

import (
	"fmt"
	"io"

	"github.com/andrej220/rdist/pkg/report"
)

type Variant int

const (
	VariantDistributed Variant = iota
	VariantLocal
)

// Reporter names accepted by the reporter override.
const (
	ReporterLocal  = "local"
	ReporterRemote = "remote"
	ReporterWeb    = "web"
)

type ReporterOptions struct {
	// Explicit wins over every other option.
	Explicit    report.Reporter
	StartServer bool
	Override    string
	Out         io.Writer
	Verbose     bool
	Forwarder   *report.Forwarder
	Web         *report.WebReporter
}

// SelectReporter picks the reporter for a session: an explicit reporter,
// then the web reporter when a server is started, then the override, then
// the variant default.
func SelectReporter(v Variant, o ReporterOptions) (report.Reporter, error) {
	if o.Explicit != nil {
		return o.Explicit, nil
	}
	name := o.Override
	if o.StartServer {
		name = ReporterWeb
	}
	if name == "" {
		name = ReporterRemote
		if v == VariantLocal {
			name = ReporterLocal
		}
	}
	switch name {
	case ReporterLocal:
		return report.NewLocalReporter(o.Out, o.Verbose), nil
	case ReporterRemote:
		return report.NewRemoteReporter(o.Out, o.Forwarder), nil
	case ReporterWeb:
		web := o.Web
		if web == nil {
			web = report.NewWebReporter()
		}
		// the console still gets the local rendering
		return report.Multi{web, report.NewLocalReporter(o.Out, o.Verbose)}, nil
	}
	return nil, fmt.Errorf("unknown reporter %q", name)
}
