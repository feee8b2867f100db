package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// Envelope is the serialized form of an event, used by forwarding
// reporters and the web reporter.
type Envelope struct {
	Seq     int64           `json:"seq"`
	Kind    Kind            `json:"kind"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

func Wrap(seq int64, ev Event) (Envelope, error) {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", ev.Kind(), err)
	}
	return Envelope{Seq: seq, Kind: ev.Kind(), Time: time.Now().UTC(), Payload: payload}, nil
}

func Encode(env Envelope) ([]byte, error) {
	return sonic.Marshal(env)
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, nil
}

// Unwrap restores the typed event carried by env.
func Unwrap(env Envelope) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch env.Kind {
	case KindTestStarted:
		ev, err = decodeAs[TestStarted](env.Payload)
	case KindHostReady:
		ev, err = decodeAs[HostReady](env.Payload)
	case KindHostFailed:
		ev, err = decodeAs[HostFailed](env.Payload)
	case KindRsyncFinished:
		ev = RsyncFinished{}
	case KindItemStart:
		ev, err = decodeAs[ItemStart](env.Payload)
	case KindReceivedItemOutcome:
		ev, err = decodeAs[ReceivedItemOutcome](env.Payload)
	case KindSkippedTryiter:
		ev, err = decodeAs[SkippedTryiter](env.Payload)
	case KindFailedTryiter:
		ev, err = decodeAs[FailedTryiter](env.Payload)
	case KindNodes:
		ev, err = decodeAs[Nodes](env.Payload)
	case KindTestFinished:
		ev, err = decodeAs[TestFinished](env.Payload)
	case KindInterruptedExecution:
		ev = InterruptedExecution{}
	case KindCrashedExecution:
		ev, err = decodeAs[CrashedExecution](env.Payload)
	default:
		return nil, fmt.Errorf("unknown event kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
	}
	return ev, nil
}

func decodeAs[T Event](payload []byte) (T, error) {
	var v T
	err := sonic.Unmarshal(payload, &v)
	return v, err
}
