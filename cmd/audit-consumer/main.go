// The audit-consumer drains the auth.audit queue. With a database configured
// it appends entries into audit_entries, which lets satellite services
// publish audit events without a direct database connection; without one it
// emits structured log lines.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"amexing.org/internal/auth"
	"amexing.org/internal/obs"
	"amexing.org/internal/queue"
	"amexing.org/internal/store/pg"
)

func main() {
	_ = godotenv.Load()
	obs.Init()

	url := os.Getenv("AMEXING_AMQP_URL")
	if url == "" {
		log.Fatal("missing AMEXING_AMQP_URL")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handle := logHandler
	if dsn := os.Getenv("AMEXING_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		handle = storeHandler(store)
	} else {
		log.Print("no AMEXING_PG_DSN set, logging audit events instead of storing them")
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		cancel()
	}()

	log.Printf("consuming %s", queue.AuditQueueName)
	if err := queue.StartConsumer(ctx, url, handle); err != nil && ctx.Err() == nil {
		log.Fatalf("consumer: %v", err)
	}
}

func storeHandler(store *pg.Store) queue.Handler {
	return func(ctx context.Context, ev queue.AuditEvent) error {
		occurredAt, err := time.Parse(time.RFC3339Nano, ev.OccurredAt)
		if err != nil {
			occurredAt = time.Now().UTC()
		}
		err = store.Audit(ctx).Append(ctx, &auth.AuditEntry{
			ID:         ev.ID,
			UserID:     ev.UserID,
			Action:     ev.Action,
			Permission: ev.Permission,
			Result:     ev.Result,
			OccurredAt: occurredAt,
			Metadata:   ev.Metadata,
		})
		// At-least-once delivery: a duplicate id means the entry already
		// landed, ack and move on.
		if errors.Is(err, auth.ErrConflict) {
			return nil
		}
		return err
	}
}

func logHandler(ctx context.Context, ev queue.AuditEvent) error {
	obs.LogEvent("audit.entry", map[string]any{
		"id":          ev.ID,
		"user_id":     ev.UserID,
		"action":      ev.Action,
		"permission":  ev.Permission,
		"result":      ev.Result,
		"occurred_at": ev.OccurredAt,
	})
	return nil
}
