// Package audit is the Audit Consumer: it subscribes to task-events,
// records an append-only ledger entry per lifecycle event, and exposes a
// read-only HTTP surface over that ledger.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskmesh/taskmesh/internal/domain"
)

// Store is the Audit Consumer's persistence port.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-migrated pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InsertIfNew records entry and marks eventID processed in one transaction,
// unless eventID was already processed, in which case it returns
// (false, nil): the caller (the consumer Handler) treats that as a
// duplicate delivery and acks without reapplying any effect.
func (s *Store) InsertIfNew(ctx context.Context, eventID string, entry domain.AuditEntry) (inserted bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin audit insert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_events (event_id, processed_at) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, eventID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark event processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_entries (id, user_id, task_id, event_type, event_data, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.UserID, entry.TaskID, string(entry.EventType), entry.EventData, entry.Timestamp)
	if err != nil {
		return false, fmt.Errorf("insert audit entry: %w", err)
	}

	return true, tx.Commit(ctx)
}

// ListAuditEntries returns entries matching p, newest first.
func (s *Store) ListAuditEntries(ctx context.Context, p domain.ListAuditParams) ([]*domain.AuditEntry, error) {
	query := `
		SELECT id, user_id, task_id, event_type, event_data, timestamp
		FROM audit_entries WHERE user_id = $1
	`
	args := []any{p.UserID}

	if p.TaskID != nil {
		args = append(args, *p.TaskID)
		query += fmt.Sprintf(" AND task_id = $%d", len(args))
	}
	if p.EventType != nil {
		args = append(args, string(*p.EventType))
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}

	args = append(args, p.Limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))
	args = append(args, p.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var eventType string
		if err := rows.Scan(&e.ID, &e.UserID, &e.TaskID, &eventType, &e.EventData, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.EventType = domain.EventType(eventType)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// DeadLetter implements consumer.DeadLetterSink.
func (s *Store) DeadLetter(ctx context.Context, msg domain.DeadLetterMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dead_letter_messages (id, topic, group_name, event_id, envelope, reason, attempts, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, msg.ID, msg.Topic, msg.Group, msg.EventID, msg.Envelope, msg.Reason, msg.Attempts, msg.FailedAt)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}
