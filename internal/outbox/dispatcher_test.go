package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/bus"
	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/events"
)

type fakeRow struct {
	row        Row
	published  bool
	deadLetter bool
}

type fakeStore struct {
	mu   sync.Mutex
	rows map[string]*fakeRow
	fail map[string]bool // event IDs that should fail to publish
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]*fakeRow), fail: make(map[string]bool)}
}

func (s *fakeStore) add(r Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[r.EventID] = &fakeRow{row: r}
}

func (s *fakeStore) Claim(ctx context.Context, batchSize int) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Row
	for _, fr := range s.rows {
		if fr.published || fr.deadLetter {
			continue
		}
		if len(out) >= batchSize {
			break
		}
		out = append(out, fr.row)
	}
	return out, nil
}

func (s *fakeStore) MarkPublished(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[eventID].published = true
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, eventID string, nextAttemptAt time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fr := s.rows[eventID]
	fr.row.Attempts++
	return nil
}

func (s *fakeStore) MarkDeadLettered(ctx context.Context, eventID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[eventID].deadLetter = true
	return nil
}

func (s *fakeStore) CountBacklog(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, fr := range s.rows {
		if !fr.published && !fr.deadLetter {
			n++
		}
	}
	return n, nil
}

// failingBus wraps a MemoryBus and fails publishes for a set of partition
// keys until told to stop failing, so tests can exercise retry/dead-letter.
type failingBus struct {
	*bus.MemoryBus
	mu   sync.Mutex
	fail map[string]bool
}

func (b *failingBus) Publish(ctx context.Context, topic string, env events.Envelope) error {
	b.mu.Lock()
	shouldFail := b.fail[env.PartitionKey]
	b.mu.Unlock()
	if shouldFail {
		return errors.New("downstream unavailable")
	}
	return b.MemoryBus.Publish(ctx, topic, env)
}

func TestDispatcher_PublishesClaimedRow(t *testing.T) {
	store := newFakeStore()
	store.add(Row{EventID: "e1", Topic: events.TopicTaskEvents, Type: events.TypeTaskLifecycle, PartitionKey: "alice", Envelope: []byte(`{}`), CreatedAt: time.Now()})

	b := bus.NewMemoryBus()
	d := NewDispatcher(store, b, config.OutboxConfig{BatchSize: 10, RetryCap: 3})

	d.poll(context.Background())

	require.True(t, store.rows["e1"].published)
}

func TestDispatcher_RetriesOnFailureThenDeadLetters(t *testing.T) {
	store := newFakeStore()
	store.add(Row{EventID: "e1", Topic: events.TopicTaskEvents, Type: events.TypeTaskLifecycle, PartitionKey: "alice", Envelope: []byte(`{}`), CreatedAt: time.Now()})

	fb := &failingBus{MemoryBus: bus.NewMemoryBus(), fail: map[string]bool{"alice": true}}
	d := NewDispatcher(store, fb, config.OutboxConfig{BatchSize: 10, RetryCap: 3})

	d.poll(context.Background())
	require.False(t, store.rows["e1"].published)
	require.False(t, store.rows["e1"].deadLetter)
	require.Equal(t, 1, store.rows["e1"].row.Attempts)

	d.poll(context.Background())
	require.Equal(t, 2, store.rows["e1"].row.Attempts)

	d.poll(context.Background())
	require.True(t, store.rows["e1"].deadLetter)
}

func TestDispatcher_HighWaterMarkDoesNotBlockDispatch(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 5; i++ {
		store.add(Row{EventID: string(rune('a' + i)), Topic: events.TopicTaskEvents, Type: events.TypeTaskLifecycle, PartitionKey: "alice", Envelope: []byte(`{}`), CreatedAt: time.Now()})
	}

	b := bus.NewMemoryBus()
	d := NewDispatcher(store, b, config.OutboxConfig{BatchSize: 10, RetryCap: 3, HighWaterMark: 1})

	d.poll(context.Background())

	for _, fr := range store.rows {
		require.True(t, fr.published)
	}
}
