package domain

import "time"

// ProcessedEvent is the per-consumer idempotency record. Each consumer owns
// its own table; a unique constraint on EventID makes duplicate inserts fail
// cleanly and identify duplicates.
type ProcessedEvent struct {
	EventID     string
	ProcessedAt time.Time
}

// DeadLetterMessage captures a message a consumer could not apply after
// exhausting retries. The original envelope is preserved verbatim for
// operator review.
type DeadLetterMessage struct {
	ID         string
	Topic      string
	Group      string
	EventID    string
	Envelope   []byte
	Reason     string
	Attempts   int
	FailedAt   time.Time
	Resolved   bool
	ResolvedBy *string
	Resolution *string // "retried" or "discarded"
}
