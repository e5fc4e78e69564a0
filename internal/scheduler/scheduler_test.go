package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/pg"
	"github.com/taskmesh/taskmesh/internal/postgres/taskdb"
	"github.com/taskmesh/taskmesh/internal/taskapi"
)

func setupScheduler(t *testing.T) *Scheduler {
	t.Helper()
	dsn := os.Getenv("TASKMESH_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("skipping scheduler test: set TASKMESH_TEST_DB_DSN to run")
	}

	ctx := context.Background()
	db, err := pg.Open(ctx, pg.PoolConfig{DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, pg.Migrate(db, taskdb.Migrations, "migrations"))
	require.NoError(t, db.Close())

	pool, err := pg.OpenPool(ctx, dsn, 0, 0, 0, 0)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, "TRUNCATE scheduled_jobs")
	require.NoError(t, err)

	return New(pool)
}

func TestScheduler_ScheduleAndCancel(t *testing.T) {
	s := setupScheduler(t)
	ctx := context.Background()

	handle, err := s.Schedule(ctx, time.Now().Add(time.Hour), "http://example.invalid/callback", taskapi.ReminderPayload{ReminderID: "r1"})
	require.NoError(t, err)
	require.NotEmpty(t, handle)

	require.NoError(t, s.Cancel(ctx, handle))

	var done bool
	require.NoError(t, s.pool.QueryRow(ctx, "SELECT done FROM scheduled_jobs WHERE handle = $1", handle).Scan(&done))
	require.True(t, done)
}

func TestWorker_FiresDueJobAgainstCallback(t *testing.T) {
	s := setupScheduler(t)
	ctx := context.Background()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := s.Schedule(ctx, time.Now().Add(-time.Second), server.URL, taskapi.ReminderPayload{ReminderID: "r1"})
	require.NoError(t, err)

	w := NewWorker(s.pool, config.SchedulerConfig{
		PollInterval: 200 * time.Millisecond, BatchSize: 10,
		AvailabilityTimeout: time.Minute, CallbackTimeout: 2 * time.Second, MaxAttempts: 3,
	})
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}
