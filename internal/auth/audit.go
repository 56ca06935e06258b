package auth

import (
	"context"
	"sync"
	"time"

	"amexing.org/internal/ids"
	"amexing.org/internal/obs"
)

// AuditPublisher fans audit entries out to an external transport (message
// broker). Publish failures are operational noise, never request failures.
type AuditPublisher interface {
	PublishAudit(ctx context.Context, entry *AuditEntry) error
}

// AuditLogger appends one immutable record per authorization-relevant
// decision. Record never blocks the request path: entries go through a
// buffered channel drained by a background worker, and a write failure is
// reported operationally without affecting the original decision, which was
// already made by the resolver.
type AuditLogger struct {
	store     AuditStore
	publisher AuditPublisher
	now       func() time.Time

	entries chan *AuditEntry
	done    chan struct{}
	once    sync.Once
}

// AuditOption configures AuditLogger behavior.
type AuditOption func(*AuditLogger)

// WithAuditPublisher adds a broker fan-out alongside the durable store write.
func WithAuditPublisher(p AuditPublisher) AuditOption {
	return func(l *AuditLogger) { l.publisher = p }
}

// WithAuditBuffer overrides the channel capacity (default 256).
func WithAuditBuffer(n int) AuditOption {
	return func(l *AuditLogger) {
		if n > 0 {
			l.entries = make(chan *AuditEntry, n)
		}
	}
}

// WithAuditClock overrides the time source (useful for tests).
func WithAuditClock(fn func() time.Time) AuditOption {
	return func(l *AuditLogger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewAuditLogger constructs the logger and starts its worker.
func NewAuditLogger(store AuditStore, opts ...AuditOption) *AuditLogger {
	l := &AuditLogger{
		store:   store,
		now:     time.Now,
		entries: make(chan *AuditEntry, 256),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.run()
	return l
}

// Record enqueues one entry. When the buffer is full the entry is dropped,
// counted and logged; the caller is never blocked or failed.
func (l *AuditLogger) Record(ctx context.Context, entry *AuditEntry) {
	if entry == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = l.now().UTC()
	}
	select {
	case l.entries <- entry:
	default:
		obs.AuditEventsDropped.Inc()
		obs.LogEvent("audit.entry.dropped", map[string]any{
			"user_id": entry.UserID,
			"action":  entry.Action,
		})
	}
}

// Close stops the worker after draining queued entries.
func (l *AuditLogger) Close() {
	l.once.Do(func() {
		close(l.entries)
		<-l.done
	})
}

func (l *AuditLogger) run() {
	defer close(l.done)
	for entry := range l.entries {
		l.write(entry)
	}
}

func (l *AuditLogger) write(entry *AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.store.Append(ctx, entry); err != nil {
		obs.AuditWriteFailures.Inc()
		obs.LogEvent("audit.append.failed", map[string]any{
			"user_id": entry.UserID,
			"action":  entry.Action,
			"error":   err.Error(),
		})
	}
	if l.publisher != nil {
		if err := l.publisher.PublishAudit(ctx, entry); err != nil {
			obs.LogEvent("audit.publish.failed", map[string]any{
				"action": entry.Action,
				"error":  err.Error(),
			})
		}
	}
}
