package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/edison-alpha/backendmome/internal/config"
	"github.com/edison-alpha/backendmome/internal/types"
)

// Publisher forwards persisted notifications to downstream consumers
type Publisher interface {
	Publish(ctx context.Context, n *types.Notification) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes notifications to a Kafka topic keyed by recipient,
// so one recipient's notifications stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a publisher for cfg's brokers and topic
func NewKafkaPublisher(cfg config.NotificationConfig) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaPublisher{writer: writer}
}

// Publish sends n as a JSON message
func (p *KafkaPublisher) Publish(ctx context.Context, n *types.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.Recipient),
		Value: data,
		Time:  n.CreatedAt,
		Headers: []kafka.Header{
			{Key: "category", Value: []byte(n.Category)},
			{Key: "idempotency-key", Value: []byte(n.IdempotencyKey)},
		},
	})
}

// Close flushes pending messages and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// DisabledPublisher is used when no brokers are configured
type DisabledPublisher struct{}

func (DisabledPublisher) Publish(context.Context, *types.Notification) error { return nil }

func (DisabledPublisher) Close() error { return nil }

// NewPublisher returns a Kafka publisher, or a disabled one when cfg has no brokers
func NewPublisher(cfg config.NotificationConfig) Publisher {
	if !cfg.Enabled() {
		return DisabledPublisher{}
	}
	return NewKafkaPublisher(cfg)
}
