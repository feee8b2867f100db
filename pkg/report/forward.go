package report

import (
	"context"
	"time"

	"github.com/andrej220/rdist/internal/lg"
)

// Publisher delivers serialized events to an external display.
type Publisher interface {
	Publish(ctx context.Context, key, payload []byte) error
	Close() error
}

// Forwarder numbers events and hands them to a Publisher. Delivery errors
// are logged; forwarding never affects the session. Without a session id
// the key is taken from the TestStarted event.
type Forwarder struct {
	pub     Publisher
	key     []byte
	seq     int64
	timeout time.Duration
	logger  lg.Logger
}

func NewForwarder(pub Publisher, sessionID string, logger lg.Logger) *Forwarder {
	if logger == nil {
		logger = lg.Discard
	}
	return &Forwarder{pub: pub, key: []byte(sessionID), timeout: 5 * time.Second, logger: logger}
}

func (f *Forwarder) Forward(ev Event) {
	if s, ok := ev.(TestStarted); ok && len(f.key) == 0 {
		f.key = []byte(s.SessionID)
	}
	f.seq++
	env, err := Wrap(f.seq, ev)
	if err != nil {
		f.logger.Error("cannot wrap event", lg.String("kind", string(ev.Kind())), lg.Err(err))
		return
	}
	payload, err := Encode(env)
	if err != nil {
		f.logger.Error("cannot encode event", lg.String("kind", string(ev.Kind())), lg.Err(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	if err := f.pub.Publish(ctx, f.key, payload); err != nil {
		f.logger.Warn("event forwarding failed", lg.Int("seq", int(f.seq)), lg.Err(err))
	}
}

func (f *Forwarder) Close() error {
	return f.pub.Close()
}
