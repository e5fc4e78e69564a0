// Package bus defines the publish/subscribe contract every producer and
// consumer in the system talks to, plus two implementations: an in-memory
// bus for tests and a durable Postgres-backed bus for real deployments.
package bus

import (
	"context"
	"errors"

	"github.com/taskmesh/taskmesh/internal/events"
)

// ErrNoMessage is returned by Subscription.Next when no message is
// currently available; callers should back off and poll again.
var ErrNoMessage = errors.New("no message available")

// Bus publishes envelopes to topics and lets consumer groups subscribe to
// them independently, with at-least-once delivery and ordering preserved
// per (topic, group, partition key).
type Bus interface {
	// Publish appends env to topic. Publish never blocks on consumer lag:
	// a slow or stalled consumer group does not back-pressure the producer.
	Publish(ctx context.Context, topic string, env events.Envelope) error

	// Subscribe returns a handle a single consumer group uses to pull
	// messages from topic. Multiple processes may call Subscribe with the
	// same (topic, group) to run the group at higher concurrency; each
	// message in the group is still delivered to exactly one claimant at a
	// time (ordering is still enforced per partition key).
	Subscribe(topic, group string) Subscription
}

// Delivery is one message handed to a consumer group, together with the
// bookkeeping needed to Ack or Nack it.
type Delivery struct {
	Envelope events.Envelope
	Attempts int

	ack  func(ctx context.Context) error
	nack func(ctx context.Context, reason string) error
}

// Ack commits the delivery as successfully processed. It must only be
// called after the consumer's local effect (and its ProcessedEvent record)
// has been committed, never before.
func (d Delivery) Ack(ctx context.Context) error { return d.ack(ctx) }

// Nack releases the delivery for redelivery, recording reason for
// diagnostics. A Transient error from the handler should always be
// followed by Nack; a Poison error should still Ack after dead-lettering
// (the bus does not redeliver poisoned messages).
func (d Delivery) Nack(ctx context.Context, reason string) error { return d.nack(ctx, reason) }

// Subscription is a single consumer group's claim queue against a topic.
type Subscription interface {
	// Next claims the next available message for this group, or returns
	// ErrNoMessage if the queue is currently empty. It never blocks.
	Next(ctx context.Context) (Delivery, error)
}
