// Package transport turns a host specification into a live channel to a
// worker process.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/andrej220/rdist/pkg/item"
	"github.com/andrej220/rdist/pkg/wire"
)

var ErrClosed = errors.New("channel closed")

// Channel is an ordered, reliable link to one worker process.
type Channel interface {
	// Send hands an item to the worker and returns the correlation id the
	// outcome will carry.
	Send(ctx context.Context, it item.Item) (string, error)
	// Receive returns the next outcome or status message.
	Receive(ctx context.Context) (wire.Message, error)
	// Shutdown asks the worker to finish and waits until it says goodbye.
	Shutdown(ctx context.Context) error
	// Kill aborts the worker without waiting.
	Kill()
	// Close releases the channel. It is safe to call repeatedly and on a
	// broken channel.
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, spec HostSpec) (Channel, error)
}

const DefaultSSHPort = 22

// HostSpec describes one target host: [user@]host[:port][:dir].
type HostSpec struct {
	Raw  string `json:"raw"`
	User string `json:"user,omitempty"`
	Host string `json:"host"`
	Port int    `json:"port,omitempty"`
	Dir  string `json:"dir,omitempty"`
}

func ParseHostSpec(raw string) (HostSpec, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "ssh://")
	spec := HostSpec{Raw: strings.TrimSpace(raw)}
	if s == "" {
		return spec, errors.New("empty host spec")
	}
	if user, rest, ok := strings.Cut(s, "@"); ok {
		if user == "" {
			return spec, fmt.Errorf("host spec %q: empty user", raw)
		}
		spec.User, s = user, rest
	}
	parts := strings.SplitN(s, ":", 3)
	spec.Host = parts[0]
	if spec.Host == "" {
		return spec, fmt.Errorf("host spec %q: empty host", raw)
	}
	rest := parts[1:]
	if len(rest) > 0 && rest[0] != "" && isDigits(rest[0]) {
		port, err := strconv.Atoi(rest[0])
		if err != nil || port <= 0 || port > 65535 {
			return spec, fmt.Errorf("host spec %q: bad port %q", raw, rest[0])
		}
		spec.Port = port
		rest = rest[1:]
	}
	spec.Dir = strings.Join(rest, ":")
	return spec, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func (h HostSpec) String() string {
	if h.Raw != "" {
		return h.Raw
	}
	return h.Host
}

// Address is the host:port to dial.
func (h HostSpec) Address() string {
	port := h.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(h.Host, strconv.Itoa(port))
}

// IsLocal reports a spec that should run as a local subprocess.
func (h HostSpec) IsLocal() bool {
	return h.User == "" && h.Port == 0 && (h.Host == "localhost" || h.Host == "127.0.0.1")
}

// IsInProc reports a spec served by an in-process worker.
func (h HostSpec) IsInProc() bool {
	return h.Host == "inproc"
}

// Router picks a dialer by the shape of the host spec.
type Router struct {
	Local  Dialer
	Remote Dialer
	InProc Dialer
}

func (r Router) Dial(ctx context.Context, spec HostSpec) (Channel, error) {
	var d Dialer
	switch {
	case spec.IsInProc():
		d = r.InProc
	case spec.IsLocal():
		d = r.Local
	default:
		d = r.Remote
	}
	if d == nil {
		return nil, fmt.Errorf("no dialer for host %s", spec)
	}
	return d.Dial(ctx, spec)
}
