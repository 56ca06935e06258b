package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestAuditLoggerFlushesOnClose(t *testing.T) {
	store := NewMemoryStore()
	logger := NewAuditLogger(store.Audit(context.Background()))

	for i := 0; i < 10; i++ {
		logger.Record(context.Background(), &AuditEntry{
			UserID: "user-1",
			Action: ActionPermissionCheck,
			Result: "allow",
		})
	}
	logger.Close()

	entries := store.AuditEntries()
	if len(entries) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.ID == "" {
			t.Fatal("entry id must be assigned")
		}
		if e.OccurredAt.IsZero() {
			t.Fatal("entry timestamp must be assigned")
		}
	}
}

func TestAuditLoggerSurvivesStoreFailures(t *testing.T) {
	logger := NewAuditLogger(failingAuditStore{})
	// Record must not block or panic even though every write fails.
	for i := 0; i < 5; i++ {
		logger.Record(context.Background(), &AuditEntry{UserID: "u", Action: ActionTokenIssued, Result: "allow"})
	}
	logger.Close()
}

func TestAuditLoggerFansOutToPublisher(t *testing.T) {
	store := NewMemoryStore()
	pub := &capturePublisher{}
	logger := NewAuditLogger(store.Audit(context.Background()), WithAuditPublisher(pub))

	logger.Record(context.Background(), &AuditEntry{UserID: "u", Action: ActionDelegationGranted, Result: "allow"})
	logger.Close()

	if got := pub.count(); got != 1 {
		t.Fatalf("expected 1 published entry, got %d", got)
	}
	if len(store.AuditEntries()) != 1 {
		t.Fatal("store write must happen alongside the publish")
	}
}

func TestAuditLoggerCloseIsIdempotent(t *testing.T) {
	logger := NewAuditLogger(NewMemoryStore().Audit(context.Background()))
	logger.Close()
	logger.Close()
}

type failingAuditStore struct{}

func (failingAuditStore) Append(context.Context, *AuditEntry) error {
	return errors.New("store down")
}

type capturePublisher struct {
	mu      sync.Mutex
	entries []*AuditEntry
}

func (p *capturePublisher) PublishAudit(_ context.Context, entry *AuditEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
