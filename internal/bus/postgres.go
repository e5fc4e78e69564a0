package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskmesh/taskmesh/internal/events"
)

// PostgresBus is the durable Bus backing production deployments: every
// publish appends a row to bus_messages and fans out a pending delivery
// row per registered consumer group, so a consumer group that subscribes
// after messages were published still sees everything.
type PostgresBus struct {
	pool *pgxpool.Pool
}

// NewPostgresBus wraps an already-migrated pool.
func NewPostgresBus(pool *pgxpool.Pool) *PostgresBus {
	return &PostgresBus{pool: pool}
}

// Publish inserts env and fans it out to every group already registered
// against topic.
func (b *PostgresBus) Publish(ctx context.Context, topic string, env events.Envelope) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin publish tx: %w", err)
	}
	defer tx.Rollback(ctx)

	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	var sequence int64
	err = tx.QueryRow(ctx, `
		INSERT INTO bus_messages (id, topic, partition_key, envelope)
		VALUES ($1, $2, $3, $4)
		RETURNING sequence
	`, env.ID, topic, env.PartitionKey, raw).Scan(&sequence)
	if err != nil {
		return fmt.Errorf("insert bus message: %w", err)
	}

	rows, err := tx.Query(ctx, `SELECT group_name FROM bus_groups WHERE topic = $1`, topic)
	if err != nil {
		return fmt.Errorf("list registered groups: %w", err)
	}
	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			rows.Close()
			return fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate groups: %w", err)
	}

	for _, g := range groups {
		_, err := tx.Exec(ctx, `
			INSERT INTO bus_deliveries (message_id, topic, group_name, partition_key, sequence)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (message_id, group_name) DO NOTHING
		`, env.ID, topic, g, env.PartitionKey, sequence)
		if err != nil {
			return fmt.Errorf("insert delivery for group %s: %w", g, err)
		}
	}

	return tx.Commit(ctx)
}

// Subscribe returns a handle for pulling topic as group. It touches no
// rows itself: each Next call first registers the group (idempotent) and
// backfills delivery rows for messages published before registration.
func (b *PostgresBus) Subscribe(topic, group string) Subscription {
	return &postgresSubscription{pool: b.pool, topic: topic, group: group}
}

type postgresSubscription struct {
	pool  *pgxpool.Pool
	topic string
	group string
}

// ensureRegistered registers (topic, group) and backfills any messages
// published before the group first subscribed. Safe to call on every Next:
// both statements are idempotent.
func (s *postgresSubscription) ensureRegistered(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bus_groups (topic, group_name) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, s.topic, s.group)
	if err != nil {
		return fmt.Errorf("register group: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO bus_deliveries (message_id, topic, group_name, partition_key, sequence)
		SELECT id, topic, $2, partition_key, sequence FROM bus_messages
		WHERE topic = $1
		ON CONFLICT (message_id, group_name) DO NOTHING
	`, s.topic, s.group)
	if err != nil {
		return fmt.Errorf("backfill deliveries: %w", err)
	}
	return nil
}

// Next claims the earliest unacked, unclaimed delivery for this group whose
// partition key has no earlier unacked delivery still in flight, enforcing
// per-partition-key ordering across concurrent claimants via row locking.
func (s *postgresSubscription) Next(ctx context.Context) (Delivery, error) {
	if err := s.ensureRegistered(ctx); err != nil {
		return Delivery{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Delivery{}, fmt.Errorf("begin claim tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback(ctx)
		}
	}()

	var (
		messageID string
		attempts  int
		raw       []byte
	)
	err = tx.QueryRow(ctx, `
		SELECT bd.message_id, bd.attempts + 1, bm.envelope
		FROM bus_deliveries bd
		JOIN bus_messages bm ON bm.id = bd.message_id
		WHERE bd.topic = $1 AND bd.group_name = $2
		  AND bd.status = 'pending' AND bd.available_at <= now()
		  AND NOT EXISTS (
			SELECT 1 FROM bus_deliveries blocker
			WHERE blocker.topic = bd.topic AND blocker.group_name = bd.group_name
			  AND blocker.partition_key = bd.partition_key
			  AND blocker.sequence < bd.sequence
			  AND blocker.status <> 'acked'
		  )
		ORDER BY bd.sequence ASC
		FOR UPDATE OF bd SKIP LOCKED
		LIMIT 1
	`, s.topic, s.group).Scan(&messageID, &attempts, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Delivery{}, ErrNoMessage
	}
	if err != nil {
		return Delivery{}, fmt.Errorf("claim delivery: %w", err)
	}

	var env events.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Delivery{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE bus_deliveries SET status = 'in_flight', attempts = $3
		WHERE message_id = $1 AND group_name = $2
	`, messageID, s.group, attempts)
	if err != nil {
		return Delivery{}, fmt.Errorf("mark in flight: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Delivery{}, fmt.Errorf("commit claim: %w", err)
	}
	committed = true

	pool := s.pool
	group := s.group
	return Delivery{
		Envelope: env,
		Attempts: attempts,
		ack: func(ctx context.Context) error {
			_, err := pool.Exec(ctx, `
				UPDATE bus_deliveries SET status = 'acked'
				WHERE message_id = $1 AND group_name = $2
			`, messageID, group)
			return err
		},
		nack: func(ctx context.Context, reason string) error {
			_, err := pool.Exec(ctx, `
				UPDATE bus_deliveries SET status = 'pending', last_reason = $3
				WHERE message_id = $1 AND group_name = $2
			`, messageID, group, reason)
			return err
		},
	}, nil
}
