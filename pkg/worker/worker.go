// Package worker is the remote end of a channel: it receives items from the
// master, runs them one at a time and answers with outcomes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/andrej220/rdist/internal/lg"
	"github.com/andrej220/rdist/pkg/executor"
	"github.com/andrej220/rdist/pkg/wire"
)

// Serve speaks the wire protocol on r/w until the master sends shutdown or
// closes the stream. Items are run strictly in arrival order.
func Serve(ctx context.Context, r io.Reader, w io.Writer, s executor.Strategy) error {
	logger := lg.FromContext(ctx)
	conn := wire.NewConn(r, w)
	if err := conn.Write(wire.StatusMessage(wire.StatusReady)); err != nil {
		return err
	}
	served := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := conn.Read()
		if errors.Is(err, io.EOF) {
			logger.Debug("master closed the stream", lg.Int("served", served))
			return nil
		}
		if err != nil {
			return fmt.Errorf("read from master: %w", err)
		}
		switch msg.Type {
		case wire.TypeItem:
			it := *msg.Item
			logger.Debug("running item", lg.String("item", it.ID))
			o := s.Run(ctx, it, nil)
			o.ItemID = it.ID
			if err := conn.Write(wire.OutcomeMessage(msg.ID, o)); err != nil {
				return err
			}
			served++
		case wire.TypeShutdown:
			logger.Debug("shutdown requested", lg.Int("served", served))
			return conn.Write(wire.StatusMessage(wire.StatusBye))
		default:
			logger.Warn("ignoring unexpected message", lg.String("type", string(msg.Type)))
		}
	}
}
