package regen

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/pg"
)

func setupRegenStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TASKMESH_TEST_REGEN_DB_DSN")
	if dsn == "" {
		t.Skip("skipping regen store test: set TASKMESH_TEST_REGEN_DB_DSN to run")
	}

	ctx := context.Background()
	db, err := pg.Open(ctx, pg.PoolConfig{DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, pg.Migrate(db, Migrations, "migrations"))
	require.NoError(t, db.Close())

	pool, err := pg.OpenPool(ctx, dsn, 0, 0, 0, 0)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, "TRUNCATE dead_letter_messages, regenerated_tasks, processed_events")
	require.NoError(t, err)

	return New(pool)
}

func TestStore_RecordIfNew_DedupsByEventID(t *testing.T) {
	s := setupRegenStore(t)
	ctx := context.Background()
	due := time.Now().UTC().Add(24 * time.Hour)

	inserted, err := s.RecordIfNew(ctx, "e1", "t1", "t2", due)
	require.NoError(t, err)
	require.True(t, inserted)

	insertedAgain, err := s.RecordIfNew(ctx, "e1", "t1", "t2", due)
	require.NoError(t, err)
	require.False(t, insertedAgain)
}

func TestStore_DeadLetter(t *testing.T) {
	s := setupRegenStore(t)
	ctx := context.Background()

	msg := domain.DeadLetterMessage{ID: uuid.NewString(), Topic: "task-events", Group: "regen", EventID: "e1", Envelope: json.RawMessage(`{}`), Reason: "boom", Attempts: 3, FailedAt: time.Now().UTC()}
	require.NoError(t, s.DeadLetter(ctx, msg))
}
