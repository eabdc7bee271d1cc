package audit

import (
	"context"
	"time"
)

// Record is one request-lifecycle event: enqueued, resolved, abandoned,
// shortcut by a stored rule.
type Record struct {
	ID        string    `json:"id"`
	Session   string    `json:"session"`
	RequestID string    `json:"request_id"`
	Type      string    `json:"type"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	EventEnqueued    = "enqueued"
	EventResolved    = "resolved"
	EventAbandoned   = "abandoned"
	EventRuleApplied = "rule_applied"
	EventPurged      = "purged"
)

// Store persists the request audit trail.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Recent(ctx context.Context, session string, limit int) ([]Record, error)
	Close() error
}
