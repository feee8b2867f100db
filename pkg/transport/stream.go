package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/andrej220/rdist/pkg/item"
	"github.com/andrej220/rdist/pkg/wire"
)

type received struct {
	msg wire.Message
	err error
}

// streamChannel implements Channel over any byte stream pair. A reader
// goroutine moves decoded messages into inbox so that Receive can honour
// context cancellation.
type streamChannel struct {
	host    string
	conn    *wire.Conn
	inbox   chan received
	closed  chan struct{}
	kill    func()
	release func() error

	once     sync.Once
	closeErr error
	killOnce sync.Once
}

func newStreamChannel(host string, r io.Reader, w io.Writer, kill func(), release func() error) *streamChannel {
	c := &streamChannel{
		host:    host,
		conn:    wire.NewConn(r, w),
		inbox:   make(chan received, 16),
		closed:  make(chan struct{}),
		kill:    kill,
		release: release,
	}
	go c.read()
	return c
}

func (c *streamChannel) read() {
	for {
		msg, err := c.conn.Read()
		select {
		case c.inbox <- received{msg, err}:
		case <-c.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *streamChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *streamChannel) Send(ctx context.Context, it item.Item) (string, error) {
	if c.isClosed() {
		return "", ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m := wire.ItemMessage(it)
	if err := c.conn.Write(m); err != nil {
		return "", fmt.Errorf("send %s to %s: %w", it.ID, c.host, err)
	}
	return m.ID, nil
}

func (c *streamChannel) Receive(ctx context.Context) (wire.Message, error) {
	select {
	case r := <-c.inbox:
		if errors.Is(r.err, io.EOF) {
			return wire.Message{}, fmt.Errorf("%s: worker went away: %w", c.host, ErrClosed)
		}
		return r.msg, r.err
	case <-c.closed:
		return wire.Message{}, ErrClosed
	case <-ctx.Done():
		return wire.Message{}, ctx.Err()
	}
}

// awaitReady consumes messages until the worker announces itself.
func (c *streamChannel) awaitReady(ctx context.Context) error {
	for {
		m, err := c.Receive(ctx)
		if err != nil {
			return fmt.Errorf("waiting for worker on %s: %w", c.host, err)
		}
		if m.Type == wire.TypeStatus && m.Status == wire.StatusReady {
			return nil
		}
	}
}

func (c *streamChannel) Shutdown(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	if err := c.conn.Write(wire.ShutdownMessage()); err != nil {
		return err
	}
	for {
		m, err := c.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				// worker exited right after its last write
				return nil
			}
			return err
		}
		if m.Type == wire.TypeStatus && m.Status == wire.StatusBye {
			return nil
		}
	}
}

func (c *streamChannel) Kill() {
	c.killOnce.Do(func() {
		if c.kill != nil {
			c.kill()
		}
	})
}

func (c *streamChannel) Close() error {
	c.once.Do(func() {
		close(c.closed)
		if c.release != nil {
			c.closeErr = c.release()
		}
	})
	return c.closeErr
}
