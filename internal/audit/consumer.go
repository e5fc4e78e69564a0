package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taskmesh/taskmesh/internal/bus"
	"github.com/taskmesh/taskmesh/internal/consumer"
	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/events"
)

// taskSnapshot decodes only the fields this consumer needs out of a task
// lifecycle event's opaque task_data payload.
type taskSnapshot struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

// entryInserter is the slice of Store that HandleTaskEvent needs, narrowed
// so the handler can be unit tested against an in-memory fake.
type entryInserter interface {
	InsertIfNew(ctx context.Context, eventID string, entry domain.AuditEntry) (bool, error)
}

// HandleTaskEvent builds the consumer.Handler for the task-events topic: one
// audit_entries row per lifecycle event, deduplicated on the envelope's id.
func HandleTaskEvent(store entryInserter) consumer.Handler {
	return func(ctx context.Context, env events.Envelope) error {
		var data events.TaskLifecycleData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("unmarshal task lifecycle data: %w", err)
		}
		var snap taskSnapshot
		if err := json.Unmarshal(data.TaskData, &snap); err != nil {
			return fmt.Errorf("unmarshal task snapshot: %w", err)
		}

		entry := domain.AuditEntry{
			ID:        env.ID,
			UserID:    snap.UserID,
			TaskID:    snap.ID,
			EventType: domain.EventType(data.EventType),
			EventData: data.TaskData,
			Timestamp: env.Time,
		}

		inserted, err := store.InsertIfNew(ctx, env.ID, entry)
		if err != nil {
			return bus.Transient(err)
		}
		if !inserted {
			return bus.ErrDuplicate
		}
		return nil
	}
}
