// Package taskapi implements the sole writer of Task and Reminder rows: the
// application service behind the HTTP front door, independent of both the
// transport (handlers.go, router.go) and the storage engine
// (internal/postgres/taskdb).
package taskapi

import (
	"context"
	"time"

	"github.com/taskmesh/taskmesh/internal/domain"
)

// OutboxEvent is a bus envelope queued for publication in the same
// transaction as the store mutation that produced it. Store implementations
// insert it into their outbox table; the dispatcher (internal/outbox) turns
// rows into Bus.Publish calls asynchronously.
type OutboxEvent struct {
	EventID      string
	Topic        string
	Type         string
	PartitionKey string
	Time         time.Time
	Data         any
}

// Store is the Task API's persistence port: every method that mutates a
// Task or Reminder commits its outbox event(s) in the same transaction as
// the row change, so a crash between commit and publish is impossible by
// construction.
type Store interface {
	CreateTask(ctx context.Context, t *domain.Task, events []OutboxEvent) error
	GetTask(ctx context.Context, userID, taskID string) (*domain.Task, error)
	ListTasks(ctx context.Context, p domain.ListTasksParams) ([]*domain.Task, error)

	// UpdateTask persists t (already mutated and validated by the caller)
	// and the accompanying outbox event atomically. It re-fetches nothing:
	// callers load-mutate-save under optimistic concurrency via UpdatedAt.
	UpdateTask(ctx context.Context, t *domain.Task, prevUpdatedAt time.Time, ev OutboxEvent) error

	// DeleteTask removes the task and all of its reminders and inserts ev,
	// atomically. It returns the deleted reminders so the caller can cancel
	// their scheduler handles outside the transaction (best-effort, not
	// part of the atomic unit: Cancel is an external RPC).
	DeleteTask(ctx context.Context, userID, taskID string, ev OutboxEvent) ([]*domain.Reminder, error)

	CreateReminder(ctx context.Context, r *domain.Reminder) error
	ListReminders(ctx context.Context, userID, taskID string) ([]*domain.Reminder, error)

	// DeleteReminder removes the row and returns it so the caller can
	// cancel its scheduler handle.
	DeleteReminder(ctx context.Context, userID, taskID, reminderID string) (*domain.Reminder, error)

	// FireReminder is called from OnSchedulerFire. It loads the reminder and
	// its task, deletes the reminder row, and inserts the reminder-fire
	// outbox event, all under a single row lock so a redelivered scheduler
	// callback finds nothing on its second attempt. fired is false (no
	// error) when the reminder or its task no longer exists: the caller
	// treats that as a silent success, per the race described in §4.1.
	FireReminder(ctx context.Context, reminderID string, now time.Time, build func(r *domain.Reminder, t *domain.Task) OutboxEvent) (fired bool, err error)
}
