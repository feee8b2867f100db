// Package wire is the line-delimited JSON protocol spoken between the master
// and a worker process.
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/andrej220/rdist/pkg/item"
)

type Type string

const (
	TypeItem     Type = "item"     // master -> worker
	TypeShutdown Type = "shutdown" // master -> worker
	TypeOutcome  Type = "outcome"  // worker -> master
	TypeStatus   Type = "status"   // worker -> master
)

// Worker status values.
const (
	StatusReady = "ready"
	StatusBye   = "bye"
)

type Message struct {
	Type    Type          `json:"type"`
	ID      string        `json:"id,omitempty"`
	Item    *item.Item    `json:"item,omitempty"`
	Outcome *item.Outcome `json:"outcome,omitempty"`
	Status  string        `json:"status,omitempty"`
}

func ItemMessage(it item.Item) Message {
	return Message{Type: TypeItem, ID: uuid.NewString(), Item: &it}
}

// OutcomeMessage answers the item message with correlation id id.
func OutcomeMessage(id string, o item.Outcome) Message {
	return Message{Type: TypeOutcome, ID: id, Outcome: &o}
}

func StatusMessage(status string) Message {
	return Message{Type: TypeStatus, Status: status}
}

func ShutdownMessage() Message {
	return Message{Type: TypeShutdown}
}

func (m Message) Validate() error {
	switch m.Type {
	case TypeItem:
		if m.Item == nil {
			return errors.New("item message without item")
		}
	case TypeOutcome:
		if m.Outcome == nil {
			return errors.New("outcome message without outcome")
		}
		return m.Outcome.Validate()
	case TypeStatus, TypeShutdown:
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

// Conn reads and writes messages over a byte stream. Writes are serialized;
// reads must come from a single goroutine.
type Conn struct {
	r  *bufio.Reader
	w  io.Writer
	mu sync.Mutex
}

func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{r: bufio.NewReader(r), w: w}
}

func (c *Conn) Write(m Message) error {
	data, err := sonic.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Type, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", m.Type, err)
	}
	return nil
}

// Read returns the next message. io.EOF means the peer closed the stream
// cleanly between messages.
func (c *Conn) Read() (Message, error) {
	for {
		line, err := c.r.ReadBytes('\n')
		if len(line) == 0 || (len(line) == 1 && line[0] == '\n') {
			if err != nil {
				return Message{}, err
			}
			continue
		}
		var m Message
		if uerr := sonic.Unmarshal(line, &m); uerr != nil {
			return Message{}, fmt.Errorf("decode message: %w", uerr)
		}
		if verr := m.Validate(); verr != nil {
			return Message{}, verr
		}
		return m, nil
	}
}
