package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends JSON events to durable RabbitMQ queues.  The connection
// is dialled on first use and dropped after any failure so the next publish
// redials.  Errors are logged and returned; callers on the reservation path
// never roll back state because a notification could not be sent.
type Publisher struct {
	url string
	log *slog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	declared map[string]bool
}

// NewPublisher returns a publisher for the broker at url.
func NewPublisher(url string, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{url: url, log: log, declared: map[string]bool{}}
}

// Publish marshals event and sends it to the named queue as a persistent
// message with a fresh message id.
func (p *Publisher) Publish(ctx context.Context, queueName string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		p.log.Error("rabbitmq: marshal event failed", "queue", queueName, "err", err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		p.log.Warn("rabbitmq: channel unavailable", "queue", queueName, "err", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	if !p.declared[queueName] {
		if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
			p.reset()
			p.log.Warn("rabbitmq: queue declare failed", "queue", queueName, "err", err)
			return err
		}
		p.declared[queueName] = true
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queueName, false, false, pub); err != nil {
		p.reset()
		p.log.Warn("rabbitmq: publish failed", "queue", queueName, "err", err)
		return err
	}
	return nil
}

// Close drops the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("dial: %w", err)
		}
		p.conn = conn
		p.declared = map[string]bool{}
	}
	ch, err := p.conn.Channel()
	if err != nil {
		p.reset()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	return ch, nil
}

func (p *Publisher) reset() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn = nil
}
