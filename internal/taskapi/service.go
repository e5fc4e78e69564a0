package taskapi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/events"
)

// Clock abstracts time.Now so tests can control "now" precisely, notably
// for the strictly-future remind_at check and for sort tiebreaks.
type Clock func() time.Time

// Service is the Task API application service: the sole writer of Task and
// Reminder rows. It holds no mutable state of its own; everything it needs
// to recover from a crash lives in Store.
type Service struct {
	store           Store
	scheduler       Scheduler
	now             Clock
	reminderBaseURL string
}

// New builds a Service. reminderCallbackBaseURL is combined with the fixed
// internal callback path to build the URL handed to Scheduler.Schedule.
func New(store Store, scheduler Scheduler, reminderCallbackBaseURL string, now Clock) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, scheduler: scheduler, now: now, reminderBaseURL: reminderCallbackBaseURL}
}

const reminderCallbackPath = "/internal/jobs/reminder-trigger"

func newEventID() string { return uuid.NewString() }

func taskLifecycleEvent(t *domain.Task, eventType domain.EventType, at time.Time) (OutboxEvent, error) {
	snapshot, err := json.Marshal(t)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("marshal task snapshot: %w", err)
	}
	data := events.TaskLifecycleData{EventType: string(eventType), TaskData: snapshot}
	return OutboxEvent{
		EventID:      newEventID(),
		Topic:        events.TopicTaskEvents,
		Type:         events.TypeTaskLifecycle,
		PartitionKey: t.UserID,
		Time:         at,
		Data:         data,
	}, nil
}

func taskUpdateEvent(t *domain.Task, changeType string, at time.Time) OutboxEvent {
	return OutboxEvent{
		EventID:      newEventID(),
		Topic:        events.TopicTaskUpdates,
		Type:         events.TypeTaskUpdate,
		PartitionKey: t.UserID,
		Time:         at,
		Data: events.TaskUpdateData{
			TaskID:     t.ID,
			UserID:     t.UserID,
			ChangeType: changeType,
			Timestamp:  at,
		},
	}
}

// CreateTask validates fields, persists the task, and emits
// task-events:created and task-updates:created atomically with the insert.
func (s *Service) CreateTask(ctx context.Context, userID string, fields domain.NewTaskFields) (*domain.Task, error) {
	t, err := domain.NewTask(fields)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	t.ID = uuid.NewString()
	t.UserID = userID
	t.CreatedAt = now
	t.UpdatedAt = now

	lifecycle, err := taskLifecycleEvent(t, domain.EventCreated, now)
	if err != nil {
		return nil, err
	}
	update := taskUpdateEvent(t, "created", now)

	if err := s.store.CreateTask(ctx, t, []OutboxEvent{lifecycle, update}); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTask returns the task iff owned by userID.
func (s *Service) GetTask(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	return s.store.GetTask(ctx, userID, taskID)
}

// ListTasks returns userID's tasks matching p, filtered/sorted server-side.
func (s *Service) ListTasks(ctx context.Context, p domain.ListTasksParams) ([]*domain.Task, error) {
	return s.store.ListTasks(ctx, p)
}

// UpdateTask applies a field-mask patch, re-validates invariants, and emits
// task-events:updated atomically with the write. Only attributes change;
// the task's lifecycle state is untouched.
func (s *Service) UpdateTask(ctx context.Context, params domain.UpdateTaskParams) (*domain.Task, error) {
	t, err := s.store.GetTask(ctx, params.UserID, params.TaskID)
	if err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	prevUpdatedAt := t.UpdatedAt
	if err := params.Apply(t); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	t.UpdatedAt = now

	ev, err := taskLifecycleEvent(t, domain.EventUpdated, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateTask(ctx, t, prevUpdatedAt, ev); err != nil {
		return nil, err
	}
	return t, nil
}

// ToggleComplete flips t.Completed and emits task-events:completed
// regardless of direction (toggling back to pending still emits one event,
// just not one the Recurring Regenerator acts on).
func (s *Service) ToggleComplete(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	t, err := s.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	prevUpdatedAt := t.UpdatedAt
	t.Completed = !t.Completed
	now := s.now().UTC()
	t.UpdatedAt = now

	ev, err := taskLifecycleEvent(t, domain.EventCompleted, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateTask(ctx, t, prevUpdatedAt, ev); err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteTask removes the task, cascades to its reminders (row + scheduler
// handle), and emits task-events:deleted. The DB-side cascade is atomic;
// cancelling each scheduler handle happens afterward and is best-effort, so
// a scheduler outage never blocks the delete.
func (s *Service) DeleteTask(ctx context.Context, userID, taskID string) error {
	t, err := s.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	ev, err := taskLifecycleEvent(t, domain.EventDeleted, now)
	if err != nil {
		return err
	}

	reminders, err := s.store.DeleteTask(ctx, userID, taskID, ev)
	if err != nil {
		return err
	}
	for _, r := range reminders {
		if r.SchedulerHandle == "" {
			continue
		}
		_ = s.scheduler.Cancel(ctx, r.SchedulerHandle)
	}
	return nil
}

// CreateReminder schedules remindAt with the Scheduler before persisting the
// row, then inserts the row with the returned handle. If the insert fails,
// the scheduler job is cancelled as a compensating action so the two sides
// never diverge for long: "succeed or fail together" from §4.1.
func (s *Service) CreateReminder(ctx context.Context, userID, taskID string, remindAt time.Time) (*domain.Reminder, error) {
	// GetTask both authorizes (ownership) and confirms existence.
	if _, err := s.store.GetTask(ctx, userID, taskID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := domain.ValidateRemindAt(remindAt, now); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	callbackURL := s.reminderBaseURL + reminderCallbackPath
	handle, err := s.scheduler.Schedule(ctx, remindAt, callbackURL, ReminderPayload{
		ReminderID: id,
		TaskID:     taskID,
		UserID:     userID,
	})
	if err != nil {
		return nil, domain.ErrUnavailable
	}

	r := &domain.Reminder{
		ID:              id,
		TaskID:          taskID,
		UserID:          userID,
		RemindAt:        remindAt,
		CreatedAt:       now,
		SchedulerHandle: handle,
	}
	if err := s.store.CreateReminder(ctx, r); err != nil {
		_ = s.scheduler.Cancel(ctx, handle)
		return nil, err
	}
	return r, nil
}

// ListReminders returns taskID's reminders iff owned by userID.
func (s *Service) ListReminders(ctx context.Context, userID, taskID string) ([]*domain.Reminder, error) {
	if _, err := s.store.GetTask(ctx, userID, taskID); err != nil {
		return nil, err
	}
	return s.store.ListReminders(ctx, userID, taskID)
}

// DeleteReminder cancels the scheduler handle and removes the row,
// atomically at the DB side; the Cancel call is best-effort and happens
// after the row is gone so a scheduler outage never blocks the delete.
func (s *Service) DeleteReminder(ctx context.Context, userID, taskID, reminderID string) error {
	r, err := s.store.DeleteReminder(ctx, userID, taskID, reminderID)
	if err != nil {
		return err
	}
	if r.SchedulerHandle != "" {
		_ = s.scheduler.Cancel(ctx, r.SchedulerHandle)
	}
	return nil
}

// OnSchedulerFire is invoked by the internal callback route when a
// scheduler job fires. A missing reminder or task (raced by a delete) is a
// silent success, not an error: the scheduler may also redeliver the
// callback, which FireReminder's row lock absorbs by finding nothing on the
// second attempt.
func (s *Service) OnSchedulerFire(ctx context.Context, payload ReminderPayload) error {
	now := s.now().UTC()
	_, err := s.store.FireReminder(ctx, payload.ReminderID, now, func(r *domain.Reminder, t *domain.Task) OutboxEvent {
		data := events.ReminderFireData{
			ReminderID: r.ID,
			TaskID:     t.ID,
			UserID:     t.UserID,
			Title:      t.Title,
			DueAt:      t.DueAt,
			RemindAt:   r.RemindAt,
			Timestamp:  now,
		}
		return OutboxEvent{
			EventID:      newEventID(),
			Topic:        events.TopicReminders,
			Type:         events.TypeReminderFire,
			PartitionKey: t.UserID,
			Time:         now,
			Data:         data,
		}
	})
	return err
}
