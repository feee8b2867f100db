// Package hostmanage owns the lifecycle of worker nodes: bring-up, abort
// and orderly teardown.
package hostmanage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/andrej220/rdist/internal/lg"
	"github.com/andrej220/rdist/pkg/report"
	"github.com/andrej220/rdist/pkg/transport"
	"github.com/andrej220/rdist/pkg/workerpool"
)

// ErrNoHosts is returned by InitHosts when no host came up.
var ErrNoHosts = errors.New("no host could be initialized")

const (
	defaultParallel        = 8
	defaultShutdownTimeout = 30 * time.Second
)

// Final statuses reported in the Nodes event.
const (
	FinalClosed  = "closed"
	FinalAborted = "aborted"
	FinalDead    = "dead"
)

// ParseHosts parses every raw host and rejects an empty list.
func ParseHosts(raw []string) ([]transport.HostSpec, error) {
	if len(raw) == 0 {
		return nil, errors.New("no hosts given")
	}
	specs := make([]transport.HostSpec, 0, len(raw))
	for _, r := range raw {
		s, err := transport.ParseHostSpec(r)
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return specs, nil
}

type Manager struct {
	specs           []transport.HostSpec
	dialer          transport.Dialer
	log             lg.Logger
	Parallel        int
	ShutdownTimeout time.Duration
}

func New(specs []transport.HostSpec, dialer transport.Dialer, logger lg.Logger) *Manager {
	if logger == nil {
		logger = lg.Discard
	}
	return &Manager{
		specs:           specs,
		dialer:          dialer,
		log:             logger,
		Parallel:        defaultParallel,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

// Names returns one unique node name per host spec. Repeated specs get a
// numeric suffix.
func (m *Manager) Names() []string {
	seen := make(map[string]int, len(m.specs))
	names := make([]string, len(m.specs))
	for i, s := range m.specs {
		base := s.String()
		seen[base]++
		if seen[base] > 1 {
			names[i] = base + "#" + strconv.Itoa(seen[base])
		} else {
			names[i] = base
		}
	}
	return names
}

// InitHosts brings every host up concurrently. Hosts that fail are
// reported and left out; the call only fails when none came up or ctx
// ended. Nodes that did come up are returned in either case so the caller
// can tear them down.
func (m *Manager) InitHosts(ctx context.Context, em report.Emitter) ([]*Node, error) {
	names := m.Names()
	slots := make([]*Node, len(m.specs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(m.Parallel, 1))
	for i, spec := range m.specs {
		g.Go(func() error {
			logger := m.log.With(lg.String("host", names[i]))
			ch, err := m.dialer.Dial(gctx, spec)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("host bring-up failed", lg.Err(err))
				em.Emit(report.HostFailed{Host: names[i], Err: err.Error()})
				return nil
			}
			logger.Info("host ready")
			slots[i] = NewNode(names[i], spec, ch)
			em.Emit(report.HostReady{Host: names[i]})
			return nil
		})
	}
	err := g.Wait()

	nodes := make([]*Node, 0, len(slots))
	for _, n := range slots {
		if n != nil {
			nodes = append(nodes, n)
		}
	}
	if err != nil {
		return nodes, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w (%d tried)", ErrNoHosts, len(m.specs))
	}
	return nodes, nil
}

// KillChannels tells every channel to abort without waiting.
func (m *Manager) KillChannels(nodes []*Node) {
	for _, n := range nodes {
		if n.Channel != nil {
			n.Channel.Kill()
		}
	}
}

// TeardownHosts closes every node and emits a single Nodes event with the
// final status of each. With exitfirst the workers are aborted instead of
// asked to finish. Errors are logged, never returned.
func (m *Manager) TeardownHosts(ctx context.Context, em report.Emitter, nodes []*Node, exitfirst bool) []report.NodeStatus {
	statuses := make([]report.NodeStatus, len(nodes))
	pool := workerpool.NewPool[int](max(m.Parallel, 1))
	for i, n := range nodes {
		pool.Submit(workerpool.Job[int]{
			Payload: i,
			Ctx:     lg.Attach(ctx, m.log.With(lg.String("host", n.Name))),
			Fn: func(ctx context.Context, i int) error {
				statuses[i] = m.closeNode(ctx, n, exitfirst)
				return nil
			},
		})
	}
	pool.Wait()
	em.Emit(report.Nodes{Statuses: statuses})
	return statuses
}

func (m *Manager) closeNode(ctx context.Context, n *Node, exitfirst bool) report.NodeStatus {
	st := report.NodeStatus{Host: n.Name, Items: n.Items()}
	logger := lg.FromContext(ctx)
	switch {
	case n.Status() == StatusDead:
		st.Status = FinalDead
		if n.Err() != nil {
			st.Err = n.Err().Error()
		}
	case exitfirst:
		n.Channel.Kill()
		st.Status = FinalAborted
	default:
		sctx, cancel := context.WithTimeout(ctx, m.ShutdownTimeout)
		err := n.Channel.Shutdown(sctx)
		cancel()
		if err != nil {
			logger.Warn("graceful shutdown failed, killing worker", lg.Err(err))
			n.Channel.Kill()
			st.Status = FinalAborted
			st.Err = err.Error()
		} else {
			st.Status = FinalClosed
		}
	}
	if n.Channel != nil {
		if err := n.Channel.Close(); err != nil {
			logger.Debug("close channel", lg.Err(err))
		}
	}
	return st
}
