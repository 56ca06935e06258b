// Package queue moves audit entries over a message broker so downstream
// consumers (SIEM forwarders, alerting) can react without querying the
// primary database.
package queue

import (
	"time"

	"amexing.org/internal/auth"
)

// AuditQueueName is the durable queue audit events are published to.
const AuditQueueName = "auth.audit"

// AuditEvent is the wire form of an audit entry. Timestamps are RFC 3339 in
// UTC so consumers in any language can parse them.
type AuditEvent struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Action     string            `json:"action"`
	Permission string            `json:"permission,omitempty"`
	Result     string            `json:"result"`
	OccurredAt string            `json:"occurred_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// EventFromEntry converts a stored audit entry into its broker payload.
func EventFromEntry(entry *auth.AuditEntry) AuditEvent {
	return AuditEvent{
		ID:         entry.ID,
		UserID:     entry.UserID,
		Action:     entry.Action,
		Permission: entry.Permission,
		Result:     entry.Result,
		OccurredAt: entry.OccurredAt.UTC().Format(time.RFC3339Nano),
		Metadata:   entry.Metadata,
	}
}
