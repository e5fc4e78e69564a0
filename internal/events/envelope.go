// Package events defines the CloudEvents-style envelope and fixed topic set
// shared by every producer and consumer in the system. It has no dependency
// on the bus transport or on any consumer's business logic.
package events

import (
	"encoding/json"
	"time"
)

// Topic names are fixed across the whole system.
const (
	TopicTaskEvents  = "task-events"
	TopicReminders   = "reminders"
	TopicTaskUpdates = "task-updates" // reserved, no consumer in this scope
)

// CloudEvents type strings carried on the envelope's Type field.
const (
	TypeTaskLifecycle = "com.todo.task.lifecycle"
	TypeReminderFire  = "com.todo.reminder.trigger"
	TypeTaskUpdate    = "com.todo.task.update"
)

// SourceApp identifies the producer application on every envelope this
// service emits.
const SourceApp = "task-api"

// Envelope is the CloudEvents-style message carried on every topic.
// PartitionKey pins ordering: every envelope in this system is partitioned by
// user_id.
type Envelope struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	PartitionKey    string          `json:"partitionkey"`
	Data            json.RawMessage `json:"data"`
}

// New builds an Envelope with the fixed CloudEvents framing fields populated.
// data is marshaled to JSON; callers pass a concrete payload struct.
func New(id, typ string, partitionKey string, at time.Time, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		SpecVersion:     "1.0",
		ID:              id,
		Type:            typ,
		Source:          SourceApp,
		Time:            at,
		DataContentType: "application/json",
		PartitionKey:    partitionKey,
		Data:            raw,
	}, nil
}

// TaskLifecycleData is the data payload for TypeTaskLifecycle envelopes.
// TaskData is an opaque post-mutation snapshot; consumers that only need a
// few fields should decode loosely and ignore the rest, so new Task fields
// never break old consumers.
type TaskLifecycleData struct {
	EventType string          `json:"event_type"`
	TaskData  json.RawMessage `json:"task_data"`
}

// ReminderFireData is the data payload for TypeReminderFire envelopes.
type ReminderFireData struct {
	ReminderID string    `json:"reminder_id"`
	TaskID     string    `json:"task_id"`
	UserID     string    `json:"user_id"`
	Title      string    `json:"title"`
	DueAt      *time.Time `json:"due_at,omitempty"`
	RemindAt   time.Time `json:"remind_at"`
	Timestamp  time.Time `json:"timestamp"`
}

// TaskUpdateData is the minimal data payload for TypeTaskUpdate envelopes.
// The topic is reserved; no consumer subscribes to it yet.
type TaskUpdateData struct {
	TaskID     string    `json:"task_id"`
	UserID     string    `json:"user_id"`
	ChangeType string    `json:"change_type"`
	Timestamp  time.Time `json:"timestamp"`
}
