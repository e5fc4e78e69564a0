package regen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/taskmesh/taskmesh/internal/bus"
	"github.com/taskmesh/taskmesh/internal/consumer"
	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/events"
	"github.com/taskmesh/taskmesh/internal/recur"
)

// taskSnapshot is the subset of a completed Task's post-mutation snapshot
// this consumer needs to decide whether, and how, to regenerate it.
type taskSnapshot struct {
	ID             string                 `json:"id"`
	UserID         string                 `json:"user_id"`
	Title          string                 `json:"title"`
	Description    string                 `json:"description"`
	Completed      bool                   `json:"completed"`
	Priority       *domain.Priority       `json:"priority,omitempty"`
	Tags           []string               `json:"tags"`
	DueAt          *time.Time             `json:"due_at,omitempty"`
	IsRecurring    bool                   `json:"is_recurring"`
	RecurrenceRule *domain.RecurrenceRule `json:"recurrence_rule,omitempty"`
}

type regenStore interface {
	AlreadyProcessed(ctx context.Context, eventID string) (bool, error)
	RecordIfNew(ctx context.Context, eventID, sourceTaskID, newTaskID string, nextDueAt time.Time) (bool, error)
}

type taskCreator interface {
	CreateTask(ctx context.Context, userID string, fields domain.NewTaskFields) (*domain.Task, error)
}

// HandleTaskCompleted builds the consumer.Handler for task-events. It only
// acts on completed events whose snapshot shows a recurring task that is now
// completed (a toggle back to pending is ignored); every other event type is
// acked as a no-op so the same subscription can ride the full topic without
// a second filtering layer upstream. Dedup is checked before the Task API is
// called, so a bus-level redelivery of the same envelope id never creates a
// second successor task; the store record is only written after the call
// succeeds, matching "ack only after the effect and the dedup row commit".
func HandleTaskCompleted(store regenStore, client taskCreator) consumer.Handler {
	return func(ctx context.Context, env events.Envelope) error {
		var data events.TaskLifecycleData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("unmarshal task lifecycle data: %w", err)
		}
		if domain.EventType(data.EventType) != domain.EventCompleted {
			return nil
		}

		var snap taskSnapshot
		if err := json.Unmarshal(data.TaskData, &snap); err != nil {
			return fmt.Errorf("unmarshal task snapshot: %w", err)
		}
		if !snap.Completed || !snap.IsRecurring || snap.RecurrenceRule == nil {
			return nil // toggled back to pending, or not recurring
		}

		already, err := store.AlreadyProcessed(ctx, env.ID)
		if err != nil {
			return bus.Transient(err)
		}
		if already {
			return bus.ErrDuplicate
		}

		from := time.Now().UTC()
		if snap.DueAt != nil {
			from = *snap.DueAt
		}
		next := recur.NextOccurrence(from, *snap.RecurrenceRule)

		fields := domain.NewTaskFields{
			Title:       snap.Title,
			Description: snap.Description,
			Tags:        snap.Tags,
			DueAt:       &next,
			IsRecurring: true,
		}
		if snap.Priority != nil {
			p := string(*snap.Priority)
			fields.Priority = &p
		}
		rule := string(*snap.RecurrenceRule)
		fields.RecurrenceRule = &rule

		created, err := client.CreateTask(ctx, snap.UserID, fields)
		if err != nil {
			if errors.Is(err, ErrTaskAPIRejected) {
				return err // poison: the Task API will never accept this payload
			}
			return bus.Transient(err)
		}

		if _, err := store.RecordIfNew(ctx, env.ID, snap.ID, created.ID, next); err != nil {
			return bus.Transient(err)
		}
		return nil
	}
}
