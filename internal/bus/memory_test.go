package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/events"
)

func envelope(t *testing.T, id, partitionKey string) events.Envelope {
	t.Helper()
	env, err := events.New(id, events.TypeTaskLifecycle, partitionKey, time.Now(), map[string]string{"k": "v"})
	require.NoError(t, err)
	return env
}

func TestMemoryBus_PublishSubscribeAck(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, events.TopicTaskEvents, envelope(t, "e1", "u1")))

	sub := b.Subscribe(events.TopicTaskEvents, "audit")
	d, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "e1", d.Envelope.ID)

	require.NoError(t, d.Ack(ctx))

	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestMemoryBus_IndependentGroups(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, events.TopicTaskEvents, envelope(t, "e1", "u1")))

	auditSub := b.Subscribe(events.TopicTaskEvents, "audit")
	recurSub := b.Subscribe(events.TopicTaskEvents, "recurring")

	d1, err := auditSub.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, d1.Ack(ctx))

	d2, err := recurSub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "e1", d2.Envelope.ID)
}

func TestMemoryBus_NackRedelivers(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, events.TopicTaskEvents, envelope(t, "e1", "u1")))

	sub := b.Subscribe(events.TopicTaskEvents, "audit")
	d, err := sub.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Nack(ctx, "transient failure"))

	d2, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "e1", d2.Envelope.ID)
	assert.Equal(t, 2, d2.Attempts)
}

func TestMemoryBus_PartitionOrderingBlocksLaterMessageWhileEarlierInFlight(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, events.TopicTaskEvents, envelope(t, "e1", "u1")))
	require.NoError(t, b.Publish(ctx, events.TopicTaskEvents, envelope(t, "e2", "u1")))

	sub := b.Subscribe(events.TopicTaskEvents, "audit")
	d1, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "e1", d1.Envelope.ID)

	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, ErrNoMessage, "e2 must wait until e1 is acked, same partition key")

	require.NoError(t, d1.Ack(ctx))

	d2, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "e2", d2.Envelope.ID)
}

func TestMemoryBus_DifferentPartitionsDeliverConcurrently(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, events.TopicTaskEvents, envelope(t, "e1", "u1")))
	require.NoError(t, b.Publish(ctx, events.TopicTaskEvents, envelope(t, "e2", "u2")))

	sub := b.Subscribe(events.TopicTaskEvents, "audit")
	d1, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "e1", d1.Envelope.ID)

	d2, err := sub.Next(ctx)
	require.NoError(t, err, "different partition key should not be blocked")
	assert.Equal(t, "e2", d2.Envelope.ID)
}
