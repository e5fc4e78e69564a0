// Package scheduler is the embedded durable one-shot timer capability
// described in the Task API's Scheduler port: a scheduled_jobs table plus
// a claim-and-callback worker loop, standing in for an external scheduling
// service while living in the same process and database as the Task API.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskmesh/taskmesh/internal/taskapi"
)

// Scheduler persists scheduled jobs in the Task API's own schema (the
// scheduled_jobs table lives alongside tasks/reminders/outbox, created by
// internal/postgres/taskdb's migrations).
type Scheduler struct {
	pool *pgxpool.Pool
}

// New wraps an already-migrated pool.
func New(pool *pgxpool.Pool) *Scheduler {
	return &Scheduler{pool: pool}
}

// Schedule persists a durable job that fires at (or shortly after) at.
func (s *Scheduler) Schedule(ctx context.Context, at time.Time, callbackURL string, payload taskapi.ReminderPayload) (string, error) {
	handle := uuid.NewString()
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal scheduler payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO scheduled_jobs (handle, run_at, callback_url, payload)
		VALUES ($1, $2, $3, $4)
	`, handle, at, callbackURL, data)
	if err != nil {
		return "", fmt.Errorf("insert scheduled job: %w", err)
	}
	return handle, nil
}

// Cancel marks a job done so the worker loop never fires it. A no-op if
// the job already fired or never existed.
func (s *Scheduler) Cancel(ctx context.Context, handle string) error {
	_, err := s.pool.Exec(ctx, `UPDATE scheduled_jobs SET done = true WHERE handle = $1`, handle)
	if err != nil {
		return fmt.Errorf("cancel scheduled job: %w", err)
	}
	return nil
}
