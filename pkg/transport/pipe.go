package transport

import (
	"context"
	"fmt"
	"io"

	"github.com/andrej220/rdist/pkg/executor"
	"github.com/andrej220/rdist/pkg/worker"
)

// PipeDialer serves each host with an in-process worker connected by
// pipes. A worker that panics breaks its pipes the way a dying process
// would.
type PipeDialer struct {
	Strategy func(spec HostSpec) executor.Strategy
	// Refuse, when set, fails bring-up for the hosts it returns an error for.
	Refuse func(spec HostSpec) error
}

func (d PipeDialer) Dial(ctx context.Context, spec HostSpec) (Channel, error) {
	if d.Refuse != nil {
		if err := d.Refuse(spec); err != nil {
			return nil, err
		}
	}
	toWorkerR, toWorkerW := io.Pipe()
	fromWorkerR, fromWorkerW := io.Pipe()

	wctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("worker panic: %v", r)
			}
			fromWorkerW.CloseWithError(err)
			toWorkerR.CloseWithError(err)
			done <- err
		}()
		err = worker.Serve(wctx, toWorkerR, fromWorkerW, d.Strategy(spec))
	}()

	kill := func() {
		toWorkerW.CloseWithError(ErrClosed)
		fromWorkerR.CloseWithError(ErrClosed)
		cancel()
	}
	release := func() error {
		toWorkerW.Close()
		fromWorkerR.Close()
		cancel()
		<-done
		return nil
	}
	ch := newStreamChannel(spec.String(), fromWorkerR, toWorkerW, kill, release)
	if err := ch.awaitReady(ctx); err != nil {
		ch.Kill()
		ch.Close()
		return nil, err
	}
	return ch, nil
}
