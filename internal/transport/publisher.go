// Package transport emits routing events to the external messaging layer.
// The engine only decides who handles a conversation; delivering messages to
// the customer is someone else's job, so this package is publish-only.
package transport

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"conversation-router/internal/assignment"
	"conversation-router/internal/common/errors"
	"conversation-router/internal/common/logging"
)

// Publisher sends routing events as JSON to a durable AMQP queue.
type Publisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logger  logging.Logger
}

// NewPublisher connects to RabbitMQ and declares the routing event queue.
func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.ConnectionError("failed to connect to RabbitMQ", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.ConnectionError("failed to open RabbitMQ channel", err)
	}

	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, errors.InternalError("failed to declare queue "+queue, err)
	}

	return &Publisher{
		conn:    conn,
		channel: channel,
		queue:   queue,
		logger:  logging.GetGlobalLogger(),
	}, nil
}

// PublishRoutingEvent delivers one routing event to the queue.
func (p *Publisher) PublishRoutingEvent(event *assignment.RoutingEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return errors.InternalError("failed to encode routing event", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.Publish("", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    event.ConversationID,
		Body:         body,
	})
	if err != nil {
		return errors.ConnectionError("failed to publish routing event", err)
	}

	p.logger.Debug("routing event published",
		logging.String("queue", p.queue),
		logging.String("conversation_id", event.ConversationID),
	)
	return nil
}

// Close shuts down the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Health reports whether the connection is still open.
func (p *Publisher) Health() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		return errors.ConnectionError("RabbitMQ connection is closed", nil)
	}
	return nil
}

// NoopPublisher discards routing events. Used when no transport is
// configured, e.g. in tests or single-process deployments.
type NoopPublisher struct{}

// PublishRoutingEvent drops the event.
func (NoopPublisher) PublishRoutingEvent(*assignment.RoutingEvent) error { return nil }
