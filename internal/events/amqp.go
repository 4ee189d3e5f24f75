package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher sends events to a durable RabbitMQ queue on the default exchange.
type AMQPPublisher struct {
	mutex   sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

// NewAMQPPublisher dials url and declares queue.
func NewAMQPPublisher(url string, queue string) (*AMQPPublisher, error) {
	if queue == "" {
		return nil, errors.New("amqp publisher requires a queue name")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}
	return &AMQPPublisher{conn: conn, channel: channel, queue: queue}, nil
}

// Publish sends payload as a persistent message. eventType becomes the AMQP type
// and key the correlation id.
func (publisher *AMQPPublisher) Publish(ctx context.Context, eventType string, payload []byte, key string) error {
	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()
	return publisher.channel.PublishWithContext(ctx, "", publisher.queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		Type:          eventType,
		CorrelationId: key,
		Body:          payload,
	})
}

// Close releases the channel and connection.
func (publisher *AMQPPublisher) Close() error {
	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()
	return errors.Join(publisher.channel.Close(), publisher.conn.Close())
}
