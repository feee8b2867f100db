// Package eventbus carries forwarded session events over Kafka and Redis.
package eventbus

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/andrej220/rdist/internal/lg"
	"github.com/andrej220/rdist/pkg/report"
)

var _ report.Publisher = (*KafkaPublisher)(nil)

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// KafkaPublisher writes one message per event, keyed by session id so a
// session's events stay on one partition and in order.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	lg     lg.Logger
}

func NewKafkaPublisher(cfg KafkaConfig, logger lg.Logger) *KafkaPublisher {
	return newKafkaPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		Async:                  false,
		AllowAutoTopicCreation: true,
	}, cfg.Topic, logger)
}

func newKafkaPublisher(w messageWriter, topic string, logger lg.Logger) *KafkaPublisher {
	if logger == nil {
		logger = lg.Discard
	}
	return &KafkaPublisher{writer: w, topic: topic, lg: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key, payload []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: payload,
		Time:  time.Now(),
	})
	if errors.Is(err, kafka.UnknownTopicOrPartition) {
		p.lg.Error("Kafka topic does not exist",
			lg.String("topic", p.topic),
			lg.String("action", "Create the topic manually or enable auto-creation"))
	}
	return err
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Fanout publishes to several sinks and joins their errors.
type Fanout []report.Publisher

func (f Fanout) Publish(ctx context.Context, key, payload []byte) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, key, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
