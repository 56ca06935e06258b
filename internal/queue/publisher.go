package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"amexing.org/internal/auth"
)

// Publisher fans audit entries out to RabbitMQ. Messages are persistent and
// the queue is durable, so entries survive broker restarts. The publisher is
// deliberately failure-tolerant: callers treat errors as operational noise.
type Publisher struct {
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ auth.AuditPublisher = (*Publisher)(nil)

// NewPublisher dials the broker and declares the audit queue. The returned
// publisher owns the connection; call Close on shutdown.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(AuditQueueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}
	return &Publisher{conn: conn, ch: ch}, nil
}

// PublishAudit sends one audit entry to the audit queue.
func (p *Publisher) PublishAudit(ctx context.Context, entry *auth.AuditEntry) error {
	body, err := json.Marshal(EventFromEntry(entry))
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	// amqp channels are not safe for concurrent publish.
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.ch.PublishWithContext(ctx,
		"",             // default exchange
		AuditQueueName, // routing key = queue name
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
