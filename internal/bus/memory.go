package bus

import (
	"context"
	"sync"

	"github.com/taskmesh/taskmesh/internal/events"
)

// record is one published envelope plus, per group, whether it is currently
// claimed and by whom.
type record struct {
	env      events.Envelope
	attempts map[string]int // group -> delivery attempt count
	inFlight map[string]bool
}

// MemoryBus is an in-memory Bus for unit tests. It preserves publish order
// per (topic, partition key) within a group and serializes delivery of a
// partition: a message is not handed out to a group while an earlier
// message for the same partition key in that group is still unacked,
// mirroring the ordering guarantee the durable bus provides.
type MemoryBus struct {
	mu      sync.Mutex
	topics  map[string][]*record // topic -> ordered records
}

// NewMemoryBus builds an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{topics: make(map[string][]*record)}
}

// Publish appends env to topic. Never blocks.
func (b *MemoryBus) Publish(_ context.Context, topic string, env events.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[topic] = append(b.topics[topic], &record{
		env:      env,
		attempts: make(map[string]int),
		inFlight: make(map[string]bool),
	})
	return nil
}

// Subscribe returns a Subscription for group against topic.
func (b *MemoryBus) Subscribe(topic, group string) Subscription {
	return &memorySubscription{bus: b, topic: topic, group: group}
}

type memorySubscription struct {
	bus   *MemoryBus
	topic string
	group string
}

// Next scans records in publish order and returns the first one not yet
// claimed by this group and not blocked by an in-flight earlier message on
// the same partition key.
func (s *memorySubscription) Next(ctx context.Context) (Delivery, error) {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	blockedPartitions := make(map[string]bool)
	for _, r := range s.bus.topics[s.topic] {
		if r.inFlight[s.group] {
			blockedPartitions[r.env.PartitionKey] = true
			continue
		}
		if r.delivered(s.group) {
			continue
		}
		if blockedPartitions[r.env.PartitionKey] {
			continue
		}

		r.inFlight[s.group] = true
		r.attempts[s.group]++
		rec := r
		return Delivery{
			Envelope: rec.env,
			Attempts: rec.attempts[s.group],
			ack: func(ctx context.Context) error {
				s.bus.mu.Lock()
				defer s.bus.mu.Unlock()
				rec.inFlight[s.group] = false
				rec.attempts[s.group] = -1 // sentinel: acked, never redeliver
				return nil
			},
			nack: func(ctx context.Context, reason string) error {
				s.bus.mu.Lock()
				defer s.bus.mu.Unlock()
				rec.inFlight[s.group] = false
				return nil
			},
		}, nil
	}
	return Delivery{}, ErrNoMessage
}

// delivered reports whether this group has already acked r (sentinel -1).
func (r *record) delivered(group string) bool {
	return r.attempts[group] < 0
}
