package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/bus"
	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/events"
)

type fakeInserter struct {
	entries map[string]domain.AuditEntry
}

func newFakeInserter() *fakeInserter { return &fakeInserter{entries: map[string]domain.AuditEntry{}} }

func (f *fakeInserter) InsertIfNew(ctx context.Context, eventID string, entry domain.AuditEntry) (bool, error) {
	if _, ok := f.entries[eventID]; ok {
		return false, nil
	}
	f.entries[eventID] = entry
	return true, nil
}

func buildTaskLifecycleEnvelope(t *testing.T, eventID, userID, taskID string, eventType domain.EventType) events.Envelope {
	t.Helper()
	task := domain.Task{ID: taskID, UserID: userID, Title: "Buy milk", Tags: []string{}}
	snapshot, err := json.Marshal(task)
	require.NoError(t, err)
	data, err := json.Marshal(events.TaskLifecycleData{EventType: string(eventType), TaskData: snapshot})
	require.NoError(t, err)
	return events.Envelope{ID: eventID, Type: events.TypeTaskLifecycle, PartitionKey: userID, Time: time.Now().UTC(), Data: data}
}

func TestHandleTaskEvent_InsertsEntry(t *testing.T) {
	store := newFakeInserter()
	handler := HandleTaskEvent(store)

	env := buildTaskLifecycleEnvelope(t, "e1", "alice", "t1", domain.EventCreated)
	require.NoError(t, handler(context.Background(), env))

	require.Len(t, store.entries, 1)
	require.Equal(t, "alice", store.entries["e1"].UserID)
	require.Equal(t, domain.EventCreated, store.entries["e1"].EventType)
}

func TestHandleTaskEvent_DuplicateIsAcked(t *testing.T) {
	store := newFakeInserter()
	handler := HandleTaskEvent(store)
	env := buildTaskLifecycleEnvelope(t, "e1", "alice", "t1", domain.EventCreated)

	require.NoError(t, handler(context.Background(), env))
	err := handler(context.Background(), env)
	require.True(t, bus.IsDuplicate(err))
}
