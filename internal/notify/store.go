// Package notify is the Notification Consumer: it subscribes to reminders,
// delivers each fired reminder through a pluggable Sink, and dedups on the
// envelope's event id so a redelivered scheduler callback never notifies
// twice.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/events"
)

// Store is the Notification Consumer's persistence port.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-migrated pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// AlreadyProcessed reports whether eventID has already been recorded, so the
// caller can skip resending the notification on bus-level redelivery.
func (s *Store) AlreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check event processed: %w", err)
	}
	return exists, nil
}

// RecordIfNew marks eventID processed and logs the sent notification in one
// transaction, unless eventID was already processed (false, nil): the
// caller treats that as a duplicate delivery.
func (s *Store) RecordIfNew(ctx context.Context, eventID, sinkName string, data events.ReminderFireData) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin notify record tx: %w", err)
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
		INSERT INTO notifications_sent (reminder_id, task_id, user_id, sink, sent_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (reminder_id) DO NOTHING
	`, data.ReminderID, data.TaskID, data.UserID, sinkName, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("record notification sent: %w", err)
	}

	return true, tx.Commit(ctx)
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
