// Package taskdb is the Task API's Postgres-backed taskapi.Store
// implementation: tasks, reminders, and the outbox all live in one schema
// so every mutation commits atomically with its outbox event.
package taskdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/taskapi"
)

// Store implements taskapi.Store against a Postgres pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-migrated pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func insertOutbox(ctx context.Context, tx pgx.Tx, ev taskapi.OutboxEvent) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal outbox event data: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox (event_id, topic, type, partition_key, envelope, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.EventID, ev.Topic, ev.Type, ev.PartitionKey, data, ev.Time)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// CreateTask inserts t and its outbox events in one transaction.
func (s *Store) CreateTask(ctx context.Context, t *domain.Task, events []taskapi.OutboxEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create task tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO tasks (id, user_id, title, description, completed, priority, tags, due_at,
			is_recurring, recurrence_rule, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, t.ID, t.UserID, t.Title, t.Description, t.Completed, priorityValue(t.Priority), t.Tags, t.DueAt,
		t.IsRecurring, recurrenceValue(t.RecurrenceRule), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	for _, ev := range events {
		if err := insertOutbox(ctx, tx, ev); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// GetTask loads a task owned by userID. A task owned by a different user is
// reported as not found, matching domain.ErrNotFound's cross-user-404 intent.
func (s *Store) GetTask(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, title, description, completed, priority, tags, due_at,
			is_recurring, recurrence_rule, created_at, updated_at
		FROM tasks WHERE id = $1 AND user_id = $2
	`, taskID, userID)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks applies p's filters and sort server-side.
func (s *Store) ListTasks(ctx context.Context, p domain.ListTasksParams) ([]*domain.Task, error) {
	query, args := buildListQuery(p)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTask persists t under optimistic concurrency: the write only
// applies if the row's updated_at still matches prevUpdatedAt, otherwise a
// concurrent writer got there first and the caller sees domain.ErrConflict.
func (s *Store) UpdateTask(ctx context.Context, t *domain.Task, prevUpdatedAt time.Time, ev taskapi.OutboxEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update task tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET title = $1, description = $2, completed = $3, priority = $4, tags = $5,
			due_at = $6, is_recurring = $7, recurrence_rule = $8, updated_at = $9
		WHERE id = $10 AND user_id = $11 AND updated_at = $12
	`, t.Title, t.Description, t.Completed, priorityValue(t.Priority), t.Tags, t.DueAt,
		t.IsRecurring, recurrenceValue(t.RecurrenceRule), t.UpdatedAt, t.ID, t.UserID, prevUpdatedAt)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		exists, err := s.taskExists(ctx, tx, t.ID, t.UserID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}

	if err := insertOutbox(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) taskExists(ctx context.Context, tx pgx.Tx, taskID, userID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = $1 AND user_id = $2)`, taskID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check task exists: %w", err)
	}
	return exists, nil
}

// DeleteTask removes the task (cascading to its reminders via FK) and
// inserts ev, all atomically. It returns the reminders that were cascaded
// away so the caller can cancel their scheduler handles.
func (s *Store) DeleteTask(ctx context.Context, userID, taskID string, ev taskapi.OutboxEvent) ([]*domain.Reminder, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin delete task tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, task_id, user_id, remind_at, created_at, scheduler_handle
		FROM reminders WHERE task_id = $1
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list reminders for delete: %w", err)
	}
	var reminders []*domain.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM tasks WHERE id = $1 AND user_id = $2`, taskID, userID)
	if err != nil {
		return nil, fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrNotFound
	}

	if err := insertOutbox(ctx, tx, ev); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit delete task: %w", err)
	}
	return reminders, nil
}

// CreateReminder inserts r. The scheduler job backing it is already
// persisted by the time this is called (the service schedules first).
func (s *Store) CreateReminder(ctx context.Context, r *domain.Reminder) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reminders (id, task_id, user_id, remind_at, created_at, scheduler_handle)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.TaskID, r.UserID, r.RemindAt, r.CreatedAt, r.SchedulerHandle)
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

// ListReminders returns taskID's reminders.
func (s *Store) ListReminders(ctx context.Context, userID, taskID string) ([]*domain.Reminder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, user_id, remind_at, created_at, scheduler_handle
		FROM reminders WHERE task_id = $1 AND user_id = $2
		ORDER BY remind_at ASC
	`, taskID, userID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	var out []*domain.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteReminder removes the row and returns it so the caller can cancel
// its scheduler handle.
func (s *Store) DeleteReminder(ctx context.Context, userID, taskID, reminderID string) (*domain.Reminder, error) {
	row := s.pool.QueryRow(ctx, `
		DELETE FROM reminders WHERE id = $1 AND task_id = $2 AND user_id = $3
		RETURNING id, task_id, user_id, remind_at, created_at, scheduler_handle
	`, reminderID, taskID, userID)
	r, err := scanReminder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete reminder: %w", err)
	}
	return r, nil
}

// FireReminder deletes the reminder row and inserts the reminder-fire
// outbox event under a single row lock, so a redelivered scheduler
// callback finds nothing on its second attempt and silently no-ops.
func (s *Store) FireReminder(ctx context.Context, reminderID string, now time.Time, build func(r *domain.Reminder, t *domain.Task) taskapi.OutboxEvent) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin fire reminder tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, task_id, user_id, remind_at, created_at, scheduler_handle
		FROM reminders WHERE id = $1
		FOR UPDATE
	`, reminderID)
	r, err := scanReminder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load reminder for fire: %w", err)
	}

	taskRow := tx.QueryRow(ctx, `
		SELECT id, user_id, title, description, completed, priority, tags, due_at,
			is_recurring, recurrence_rule, created_at, updated_at
		FROM tasks WHERE id = $1
	`, r.TaskID)
	t, err := scanTask(taskRow)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load task for fire: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM reminders WHERE id = $1`, reminderID); err != nil {
		return false, fmt.Errorf("delete fired reminder: %w", err)
	}

	ev := build(r, t)
	if err := insertOutbox(ctx, tx, ev); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit fire reminder: %w", err)
	}
	return true, nil
}

func priorityValue(p *domain.Priority) *string {
	if p == nil {
		return nil
	}
	s := string(*p)
	return &s
}

func recurrenceValue(r *domain.RecurrenceRule) *string {
	if r == nil {
		return nil
	}
	s := string(*r)
	return &s
}
