package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taskmesh/taskmesh/internal/bus"
	"github.com/taskmesh/taskmesh/internal/consumer"
	"github.com/taskmesh/taskmesh/internal/events"
)

// recorder is the slice of Store HandleReminderFire needs, narrowed so the
// handler can be unit tested against an in-memory fake.
type recorder interface {
	AlreadyProcessed(ctx context.Context, eventID string) (bool, error)
	RecordIfNew(ctx context.Context, eventID, sinkName string, data events.ReminderFireData) (bool, error)
}

// HandleReminderFire builds the consumer.Handler for the reminders topic.
// Dedup is checked before the sink runs, so a bus-level redelivery of the
// same envelope id never notifies twice; the store record is only written
// after the sink succeeds, matching "ack only after the effect and the
// dedup row commit".
func HandleReminderFire(store recorder, sink Sink, sinkName string) consumer.Handler {
	return func(ctx context.Context, env events.Envelope) error {
		var data events.ReminderFireData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("unmarshal reminder fire data: %w", err)
		}

		already, err := store.AlreadyProcessed(ctx, env.ID)
		if err != nil {
			return bus.Transient(err)
		}
		if already {
			return bus.ErrDuplicate
		}

		if err := sink.Send(ctx, data); err != nil {
			return bus.Transient(err)
		}

		if _, err := store.RecordIfNew(ctx, env.ID, sinkName, data); err != nil {
			return bus.Transient(err)
		}
		return nil
	}
}
