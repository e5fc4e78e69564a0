package notify

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/bus"
	"github.com/taskmesh/taskmesh/internal/events"
)

type fakeRecorder struct {
	processed map[string]bool
}

func newFakeRecorder() *fakeRecorder { return &fakeRecorder{processed: map[string]bool{}} }

func (f *fakeRecorder) AlreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	return f.processed[eventID], nil
}

func (f *fakeRecorder) RecordIfNew(ctx context.Context, eventID, sinkName string, data events.ReminderFireData) (bool, error) {
	if f.processed[eventID] {
		return false, nil
	}
	f.processed[eventID] = true
	return true, nil
}

type countingSink struct {
	calls atomic.Int32
	err   error
}

func (s *countingSink) Send(ctx context.Context, data events.ReminderFireData) error {
	s.calls.Add(1)
	return s.err
}

func buildReminderEnvelope(t *testing.T, eventID, reminderID string) events.Envelope {
	t.Helper()
	data, err := json.Marshal(events.ReminderFireData{ReminderID: reminderID, TaskID: "t1", UserID: "alice", Title: "Buy milk", RemindAt: time.Now(), Timestamp: time.Now()})
	require.NoError(t, err)
	return events.Envelope{ID: eventID, Type: events.TypeReminderFire, PartitionKey: "alice", Time: time.Now().UTC(), Data: data}
}

func TestHandleReminderFire_SendsOnce(t *testing.T) {
	store := newFakeRecorder()
	sink := &countingSink{}
	handler := HandleReminderFire(store, sink, "log")

	env := buildReminderEnvelope(t, "e1", "r1")
	require.NoError(t, handler(context.Background(), env))
	require.Equal(t, int32(1), sink.calls.Load())
}

func TestHandleReminderFire_BusRedeliverySkipsSink(t *testing.T) {
	store := newFakeRecorder()
	sink := &countingSink{}
	handler := HandleReminderFire(store, sink, "log")

	env := buildReminderEnvelope(t, "e1", "r1")
	require.NoError(t, handler(context.Background(), env))

	// Same envelope id redelivered by the bus: the sink must not fire again.
	err := handler(context.Background(), env)
	require.True(t, bus.IsDuplicate(err))
	require.Equal(t, int32(1), sink.calls.Load())
}

func TestHandleReminderFire_SinkFailureIsRetryable(t *testing.T) {
	store := newFakeRecorder()
	sink := &countingSink{err: assertError{}}
	handler := HandleReminderFire(store, sink, "log")

	env := buildReminderEnvelope(t, "e1", "r1")
	err := handler(context.Background(), env)
	require.True(t, bus.IsRetryable(err))
	require.False(t, store.processed["e1"]) // not recorded: the effect never succeeded
}

type assertError struct{}

func (assertError) Error() string { return "sink unavailable" }
