package taskdb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/pg"
	"github.com/taskmesh/taskmesh/internal/taskapi"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TASKMESH_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("skipping taskdb test: set TASKMESH_TEST_DB_DSN to run")
	}

	ctx := context.Background()
	db, err := pg.Open(ctx, pg.PoolConfig{DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, pg.Migrate(db, Migrations, "migrations"))
	require.NoError(t, db.Close())

	pool, err := pg.OpenPool(ctx, dsn, 0, 0, 0, 0)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, "TRUNCATE scheduled_jobs, outbox, reminders, tasks")
	require.NoError(t, err)

	return New(pool)
}

func newStoreTask(userID, title string, now time.Time) *domain.Task {
	return &domain.Task{
		ID: uuid.NewString(), UserID: userID, Title: title,
		Tags: []string{}, CreatedAt: now, UpdatedAt: now,
	}
}

func TestStore_CreateAndGetTask(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	task := newStoreTask("alice", "Buy milk", now)
	require.NoError(t, s.CreateTask(ctx, task, nil))

	got, err := s.GetTask(ctx, "alice", task.ID)
	require.NoError(t, err)
	require.Equal(t, "Buy milk", got.Title)

	_, err = s.GetTask(ctx, "bob", task.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_UpdateTask_OptimisticConcurrency(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	task := newStoreTask("alice", "Original", now)
	require.NoError(t, s.CreateTask(ctx, task, nil))

	task.Title = "Updated"
	newNow := now.Add(time.Minute)
	task.UpdatedAt = newNow
	require.NoError(t, s.UpdateTask(ctx, task, now, taskapi.OutboxEvent{
		EventID: uuid.NewString(), Topic: "task-events", Type: "x", PartitionKey: "alice", Time: newNow, Data: map[string]string{},
	}))

	// A second writer using the stale prevUpdatedAt loses the race.
	task.Title = "Conflicting"
	err := s.UpdateTask(ctx, task, now, taskapi.OutboxEvent{
		EventID: uuid.NewString(), Topic: "task-events", Type: "x", PartitionKey: "alice", Time: newNow, Data: map[string]string{},
	})
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestStore_DeleteTask_CascadesReminders(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	task := newStoreTask("alice", "With reminder", now)
	require.NoError(t, s.CreateTask(ctx, task, nil))

	rem := &domain.Reminder{ID: uuid.NewString(), TaskID: task.ID, UserID: "alice", RemindAt: now.Add(time.Hour), CreatedAt: now, SchedulerHandle: "h1"}
	require.NoError(t, s.CreateReminder(ctx, rem))

	removed, err := s.DeleteTask(ctx, "alice", task.ID, taskapi.OutboxEvent{
		EventID: uuid.NewString(), Topic: "task-events", Type: "x", PartitionKey: "alice", Time: now, Data: map[string]string{},
	})
	require.NoError(t, err)
	require.Len(t, removed, 1)
	require.Equal(t, "h1", removed[0].SchedulerHandle)

	_, err = s.GetTask(ctx, "alice", task.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_FireReminder_IsIdempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	task := newStoreTask("alice", "Fire me", now)
	require.NoError(t, s.CreateTask(ctx, task, nil))
	rem := &domain.Reminder{ID: uuid.NewString(), TaskID: task.ID, UserID: "alice", RemindAt: now.Add(time.Hour), CreatedAt: now, SchedulerHandle: "h1"}
	require.NoError(t, s.CreateReminder(ctx, rem))

	build := func(r *domain.Reminder, t *domain.Task) taskapi.OutboxEvent {
		return taskapi.OutboxEvent{EventID: uuid.NewString(), Topic: "reminders", Type: "x", PartitionKey: t.UserID, Time: now, Data: map[string]string{}}
	}

	fired, err := s.FireReminder(ctx, rem.ID, now, build)
	require.NoError(t, err)
	require.True(t, fired)

	// Redelivered callback finds nothing the second time.
	firedAgain, err := s.FireReminder(ctx, rem.ID, now, build)
	require.NoError(t, err)
	require.False(t, firedAgain)
}

func TestStore_ListTasks_FiltersByStatusAndPriority(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	high := domain.PriorityHigh
	pending := newStoreTask("alice", "Pending high", now)
	pending.Priority = &high
	require.NoError(t, s.CreateTask(ctx, pending, nil))

	done := newStoreTask("alice", "Done", now)
	done.Completed = true
	require.NoError(t, s.CreateTask(ctx, done, nil))

	results, err := s.ListTasks(ctx, domain.ListTasksParams{
		UserID: "alice", Status: domain.StatusFilterPending, Priority: &high,
		SortBy: domain.SortByCreatedAt, SortOrder: domain.SortAsc,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "Pending high", results[0].Title)
}

func taskTitles(tasks []*domain.Task) []string {
	titles := make([]string, len(tasks))
	for i, t := range tasks {
		titles[i] = t.Title
	}
	return titles
}

// TestStore_ListTasks_SortsByPriorityRankNotAlphabetically catches the bug
// where ORDER BY priority sorted the raw text column (critical, high, low,
// medium) instead of severity rank (critical > high > medium > low > none).
func TestStore_ListTasks_SortsByPriorityRankNotAlphabetically(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	low, medium, high, critical := domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh, domain.PriorityCritical
	for _, tc := range []struct {
		title    string
		priority *domain.Priority
	}{
		{"low one", &low}, {"critical one", &critical}, {"medium one", &medium}, {"high one", &high},
	} {
		task := newStoreTask("alice", tc.title, now)
		task.Priority = tc.priority
		require.NoError(t, s.CreateTask(ctx, task, nil))
		now = now.Add(time.Millisecond)
	}

	results, err := s.ListTasks(ctx, domain.ListTasksParams{
		UserID: "alice", Status: domain.StatusFilterAll,
		SortBy: domain.SortByPriority, SortOrder: domain.SortDesc,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"critical one", "high one", "medium one", "low one"}, taskTitles(results))
}

// TestStore_ListTasks_DueAtSortsNullsLastRegardlessOfDirection covers the
// §8 boundary case: due=today, due=tomorrow, due=null, sorted ascending (and
// descending) must always leave the null due_at last.
func TestStore_ListTasks_DueAtSortsNullsLastRegardlessOfDirection(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	today := now
	tomorrow := now.Add(24 * time.Hour)

	noDue := newStoreTask("alice", "no due date", now)
	require.NoError(t, s.CreateTask(ctx, noDue, nil))

	dueTomorrow := newStoreTask("alice", "due tomorrow", now.Add(time.Millisecond))
	dueTomorrow.DueAt = &tomorrow
	require.NoError(t, s.CreateTask(ctx, dueTomorrow, nil))

	dueToday := newStoreTask("alice", "due today", now.Add(2*time.Millisecond))
	dueToday.DueAt = &today
	require.NoError(t, s.CreateTask(ctx, dueToday, nil))

	asc, err := s.ListTasks(ctx, domain.ListTasksParams{
		UserID: "alice", Status: domain.StatusFilterAll,
		SortBy: domain.SortByDueAt, SortOrder: domain.SortAsc,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"due today", "due tomorrow", "no due date"}, taskTitles(asc))

	desc, err := s.ListTasks(ctx, domain.ListTasksParams{
		UserID: "alice", Status: domain.StatusFilterAll,
		SortBy: domain.SortByDueAt, SortOrder: domain.SortDesc,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"due tomorrow", "due today", "no due date"}, taskTitles(desc))
}
