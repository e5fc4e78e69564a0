// Package deadletter is the Task API's admin view onto every consumer's
// dead_letter_messages table. Ground: the teacher's
// ListDeadLetterJobs/RetryDeadLetterJob/DiscardDeadLetterJob, generalized
// from generation jobs to bus deliveries and from one table to several
// (each consumer keeps its dead letters in its own schema).
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskmesh/taskmesh/internal/bus"
	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/events"
)

// Store reads and resolves dead letters in one consumer's
// dead_letter_messages table.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// List returns unresolved dead letters, oldest first.
func (s *Store) List(ctx context.Context, limit int) ([]*domain.DeadLetterMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, topic, group_name, event_id, envelope, reason, attempts, failed_at, resolved, resolved_by, resolution
		FROM dead_letter_messages
		WHERE resolved = false
		ORDER BY failed_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []*domain.DeadLetterMessage
	for rows.Next() {
		var m domain.DeadLetterMessage
		if err := rows.Scan(&m.ID, &m.Topic, &m.Group, &m.EventID, &m.Envelope, &m.Reason, &m.Attempts, &m.FailedAt, &m.Resolved, &m.ResolvedBy, &m.Resolution); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Retry republishes the dead letter's original envelope to b on its
// original topic, then marks the row resolved as "retried". The consumer's
// own dedup (processed_events) keeps this safe even if the envelope was
// partially applied before it was dead-lettered.
func (s *Store) Retry(ctx context.Context, b bus.Bus, id, reviewedBy string) error {
	var topic string
	var raw []byte
	var resolved bool
	err := s.pool.QueryRow(ctx, `SELECT topic, envelope, resolved FROM dead_letter_messages WHERE id = $1`, id).Scan(&topic, &raw, &resolved)
	if err != nil {
		return fmt.Errorf("load dead letter %s: %w", id, err)
	}
	if resolved {
		return fmt.Errorf("dead letter %s already resolved", id)
	}

	var env events.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("unmarshal dead letter envelope: %w", err)
	}
	if err := b.Publish(ctx, topic, env); err != nil {
		return fmt.Errorf("republish dead letter %s: %w", id, err)
	}

	return s.resolve(ctx, id, reviewedBy, "retried")
}

// Discard marks a dead letter resolved without replaying it, for messages
// an operator has decided should never be reapplied.
func (s *Store) Discard(ctx context.Context, id, reviewedBy string) error {
	return s.resolve(ctx, id, reviewedBy, "discarded")
}

func (s *Store) resolve(ctx context.Context, id, reviewedBy, resolution string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE dead_letter_messages SET resolved = true, resolved_by = $2, resolution = $3
		WHERE id = $1 AND resolved = false
	`, id, reviewedBy, resolution)
	if err != nil {
		return fmt.Errorf("resolve dead letter %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dead letter %s not found or already resolved", id)
	}
	return nil
}
