package eventbus

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"

	"github.com/andrej220/rdist/internal/lg"
	"github.com/andrej220/rdist/pkg/report"
)

var ErrDecode = errors.New("decode message")

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads and decodes messages of one type, committing each after
// it was decoded.
type Consumer[T any] struct {
	reader messageReader
	decode func([]byte) (T, error)
}

func NewConsumer[T any](cfg KafkaConfig, decode func([]byte) (T, error)) *Consumer[T] {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
	})
	return newConsumer(r, decode)
}

func newConsumer[T any](r messageReader, decode func([]byte) (T, error)) *Consumer[T] {
	if decode == nil {
		decode = func(b []byte) (T, error) {
			var v T
			err := sonic.Unmarshal(b, &v)
			return v, err
		}
	}
	return &Consumer[T]{reader: r, decode: decode}
}

// Read returns the next payload together with the message key.
func (c *Consumer[T]) Read(ctx context.Context) (T, []byte, error) {
	var zero T

	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return zero, nil, err
	}

	payload, err := c.decode(msg.Value)
	if err != nil {
		return zero, msg.Key, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return zero, msg.Key, err
	}

	return payload, msg.Key, nil
}

func (c *Consumer[T]) Close() error {
	return c.reader.Close()
}

// NewEventConsumer reads forwarded event envelopes.
func NewEventConsumer(cfg KafkaConfig) *Consumer[report.Envelope] {
	return NewConsumer(cfg, report.DecodeEnvelope)
}

// Replay feeds forwarded events into rep until a terminal event arrives or
// ctx ends. With a session id only that session's events are shown.
// Undecodable messages are logged and skipped.
func Replay(ctx context.Context, c *Consumer[report.Envelope], session string, rep report.Reporter) error {
	logger := lg.FromContext(ctx)
	for {
		env, key, err := c.Read(ctx)
		if errors.Is(err, ErrDecode) {
			logger.Warn("skipping undecodable event", lg.Err(err))
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if session != "" && string(key) != session {
			continue
		}
		ev, err := report.Unwrap(env)
		if err != nil {
			logger.Warn("skipping unknown event", lg.String("kind", string(env.Kind)), lg.Err(err))
			continue
		}
		rep.Report(ev)
		if report.IsTerminal(ev) {
			return nil
		}
	}
}
