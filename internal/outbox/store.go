// Package outbox is the dispatcher half of the outbox pattern: every
// taskapi.Store mutation commits its OutboxEvent rows in the same
// transaction as the domain change (internal/postgres/taskdb), and this
// package's Dispatcher turns those committed-but-unpublished rows into
// bus.Bus publishes on a background poll loop that runs inside the Task API
// process, apart from request handling.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Row is one unpublished outbox entry, claimed for dispatch.
type Row struct {
	EventID      string
	Topic        string
	Type         string
	PartitionKey string
	Envelope     []byte // the event's Data payload, already marshaled JSON
	CreatedAt    time.Time
	Attempts     int
}

// Store is the dispatcher's persistence port.
type Store interface {
	// Claim locks up to batchSize due, not-yet-published, not-dead-lettered
	// rows and returns them for out-of-transaction delivery.
	Claim(ctx context.Context, batchSize int) ([]Row, error)
	MarkPublished(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID string, nextAttemptAt time.Time, reason string) error
	MarkDeadLettered(ctx context.Context, eventID string, reason string) error
	CountBacklog(ctx context.Context) (int, error)
}

// PostgresStore implements Store against the Task API's outbox table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-migrated pool (internal/postgres/taskdb's
// migrations own the outbox table's schema).
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Claim(ctx context.Context, batchSize int) ([]Row, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT event_id, topic, type, partition_key, envelope, created_at, attempts
		FROM outbox
		WHERE published_at IS NULL AND dead_lettered = false AND next_attempt_at <= now()
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, batchSize)
	if err != nil {
		return nil, fmt.Errorf("query outbox backlog: %w", err)
	}

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.EventID, &r.Topic, &r.Type, &r.PartitionKey, &r.Envelope, &r.CreatedAt, &r.Attempts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		out = append(out, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, r := range out {
		if _, err := tx.Exec(ctx, `
			UPDATE outbox SET next_attempt_at = now() + interval '1 minute' WHERE event_id = $1
		`, r.EventID); err != nil {
			return nil, fmt.Errorf("mark outbox row claimed: %w", err)
		}
	}

	return out, tx.Commit(ctx)
}

func (s *PostgresStore) MarkPublished(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET published_at = now() WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("mark outbox row published: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, eventID string, nextAttemptAt time.Time, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox SET attempts = attempts + 1, next_attempt_at = $2, last_reason = $3
		WHERE event_id = $1
	`, eventID, nextAttemptAt, reason)
	if err != nil {
		return fmt.Errorf("mark outbox row failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkDeadLettered(ctx context.Context, eventID string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox SET dead_lettered = true, attempts = attempts + 1, last_reason = $2
		WHERE event_id = $1
	`, eventID, reason)
	if err != nil {
		return fmt.Errorf("dead-letter outbox row: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountBacklog(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM outbox WHERE published_at IS NULL AND dead_lettered = false
	`).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("count outbox backlog: %w", err)
	}
	return n, nil
}
