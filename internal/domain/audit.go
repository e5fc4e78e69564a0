package domain

import "time"

// AuditEntry is an append-only ledger row owned exclusively by the Audit
// Consumer. Never mutated after insert.
type AuditEntry struct {
	ID        string
	UserID    string
	TaskID    string
	EventType EventType
	EventData []byte // opaque JSON snapshot of data.task_data
	Timestamp time.Time
}

// ListAuditParams is the validated input to the Audit Consumer's read side
// (GET /audit).
type ListAuditParams struct {
	UserID    string
	TaskID    *string
	EventType *EventType
	Limit     int
	Offset    int
}

// DefaultAuditLimit and MaxAuditLimit bound the /audit read endpoint.
const (
	DefaultAuditLimit = 50
	MaxAuditLimit     = 200
)
