// Package regen is the Recurring Regenerator: it watches completed-task
// events, and for every recurring task creates the next occurrence through
// the Task API's own HTTP surface rather than writing to its tables
// directly, so task creation always goes through the one place that
// enforces task invariants.
package regen

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskmesh/taskmesh/internal/domain"
)

// Store is the Recurring Regenerator's persistence port: dedup bookkeeping
// and its own dead letter table.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// AlreadyProcessed reports whether eventID has already produced a successor
// task, so the caller can skip calling the Task API again on redelivery.
func (s *Store) AlreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check event processed: %w", err)
	}
	return exists, nil
}

// RecordIfNew marks eventID processed and logs which new task it produced,
// unless eventID was already processed (false, nil). The caller runs it
// after the Task API call; the check that skips that call on redelivery is
// AlreadyProcessed.
func (s *Store) RecordIfNew(ctx context.Context, eventID, sourceTaskID, newTaskID string, nextDueAt time.Time) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin regen record tx: %w", err)
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
		INSERT INTO regenerated_tasks (source_task_id, new_task_id, next_due_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_task_id) DO NOTHING
	`, sourceTaskID, newTaskID, nextDueAt, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("record regenerated task: %w", err)
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
