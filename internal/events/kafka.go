package events

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes events to one topic, keyed by date so a date's events
// stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// Publish sends one message per call and returns without waiting for a batch.
const (
	kafkaBatchSize    = 1
	kafkaBatchTimeout = 10 * time.Millisecond
)

// NewKafkaPublisher returns a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	if topic == "" {
		return nil, errors.New("kafka publisher requires a topic")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			BatchSize:              kafkaBatchSize,
			BatchTimeout:           kafkaBatchTimeout,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

// Publish writes payload with key as the partition key.
func (publisher *KafkaPublisher) Publish(ctx context.Context, eventType string, payload []byte, key string) error {
	return publisher.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   payload,
		Time:    time.Now().UTC(),
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(eventType)}},
	})
}

// Close flushes and closes the writer.
func (publisher *KafkaPublisher) Close() error {
	return publisher.writer.Close()
}
