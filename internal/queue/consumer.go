package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"amexing.org/internal/obs"
)

// Handler processes one decoded audit event. Returning an error rejects the
// delivery without requeueing it.
type Handler func(ctx context.Context, ev AuditEvent) error

// StartConsumer connects to the broker and consumes the audit queue until
// ctx is cancelled. It runs a reconnect loop with capped exponential backoff
// so a broker restart does not take the consumer down with it.
func StartConsumer(ctx context.Context, url string, handle Handler) error {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			obs.LogEvent("audit.consumer.dial_failed", map[string]any{
				"error":   err.Error(),
				"backoff": backoff.String(),
			})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := consumeLoop(ctx, conn, handle); err != nil {
			_ = conn.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			obs.LogEvent("audit.consumer.loop_ended", map[string]any{"error": err.Error()})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, handle Handler) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if _, err := ch.QueueDeclare(AuditQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(AuditQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			var ev AuditEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				obs.LogEvent("audit.consumer.bad_payload", map[string]any{"error": err.Error()})
				_ = d.Nack(false, false)
				continue
			}
			if err := handle(ctx, ev); err != nil {
				obs.LogEvent("audit.consumer.handle_failed", map[string]any{
					"action": ev.Action,
					"error":  err.Error(),
				})
				// Reject without requeue to avoid tight redelivery loops.
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}
