package taskapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/domain"
)

// fakeStore is an in-memory Store good enough to exercise the HTTP layer
// end to end without a database.
type fakeStore struct {
	mu        sync.Mutex
	tasks     map[string]*domain.Task
	reminders map[string]*domain.Reminder
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string]*domain.Task{}, reminders: map[string]*domain.Reminder{}}
}

func (s *fakeStore) CreateTask(ctx context.Context, t *domain.Task, events []OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *fakeStore) GetTask(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.UserID != userID {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// ListTasks applies p's filters and sort the same way the Postgres store's
// SQL does, so a test exercising this fake actually exercises §4.1's listing
// algorithm instead of just user-id scoping.
func (s *fakeStore) ListTasks(ctx context.Context, p domain.ListTasksParams) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Task
	for _, t := range s.tasks {
		if t.UserID != p.UserID || !matchesListFilters(t, p) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sortListedTasks(out, p.SortBy, p.SortOrder)
	return out, nil
}

func matchesListFilters(t *domain.Task, p domain.ListTasksParams) bool {
	switch p.Status {
	case domain.StatusFilterPending:
		if t.Completed {
			return false
		}
	case domain.StatusFilterCompleted:
		if !t.Completed {
			return false
		}
	}
	if p.Priority != nil && (t.Priority == nil || *t.Priority != *p.Priority) {
		return false
	}
	for _, want := range p.Tags {
		if !hasTag(t.Tags, want) {
			return false
		}
	}
	if p.DueBefore != nil && (t.DueAt == nil || !t.DueAt.Before(*p.DueBefore)) {
		return false
	}
	if p.DueAfter != nil && (t.DueAt == nil || !t.DueAt.After(*p.DueAfter)) {
		return false
	}
	if p.Search != "" {
		needle := strings.ToLower(p.Search)
		if !strings.Contains(strings.ToLower(t.Title), needle) &&
			!strings.Contains(strings.ToLower(t.Description), needle) &&
			!tagsContain(t.Tags, needle) {
			return false
		}
	}
	return true
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}

func tagsContain(tags []string, needle string) bool {
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// sortListedTasks orders tasks the way ORDER BY does in buildListQuery:
// priority sorts by rank (critical > high > medium > low > none) rather than
// text, due_at always pushes a nil value to the end regardless of direction,
// and every sort falls back to created_at DESC to break ties.
func sortListedTasks(tasks []*domain.Task, by domain.SortField, order domain.SortOrder) {
	sort.SliceStable(tasks, func(i, j int) bool {
		less, equal := lessListed(tasks[i], tasks[j], by, order)
		if !equal {
			return less
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}

func lessListed(a, b *domain.Task, by domain.SortField, order domain.SortOrder) (less, equal bool) {
	switch by {
	case domain.SortByDueAt:
		return lessDueAt(a.DueAt, b.DueAt, order)
	case domain.SortByPriority:
		ra, rb := domain.Rank(a.Priority), domain.Rank(b.Priority)
		if ra == rb {
			return false, true
		}
		if order == domain.SortDesc {
			return ra > rb, false
		}
		return ra < rb, false
	case domain.SortByTitle:
		if a.Title == b.Title {
			return false, true
		}
		if order == domain.SortDesc {
			return a.Title > b.Title, false
		}
		return a.Title < b.Title, false
	default:
		if a.CreatedAt.Equal(b.CreatedAt) {
			return false, true
		}
		if order == domain.SortDesc {
			return a.CreatedAt.After(b.CreatedAt), false
		}
		return a.CreatedAt.Before(b.CreatedAt), false
	}
}

// lessDueAt sorts a nil due_at to the end regardless of order: "no due date"
// is the absence of a date, not an earliest or latest one.
func lessDueAt(a, b *time.Time, order domain.SortOrder) (less, equal bool) {
	if a == nil && b == nil {
		return false, true
	}
	if a == nil {
		return false, false
	}
	if b == nil {
		return true, false
	}
	if a.Equal(*b) {
		return false, true
	}
	if order == domain.SortDesc {
		return a.After(*b), false
	}
	return a.Before(*b), false
}

func (s *fakeStore) UpdateTask(ctx context.Context, t *domain.Task, prevUpdatedAt time.Time, ev OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.tasks[t.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if !existing.UpdatedAt.Equal(prevUpdatedAt) {
		return domain.ErrConflict
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *fakeStore) DeleteTask(ctx context.Context, userID, taskID string, ev OutboxEvent) ([]*domain.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.UserID != userID {
		return nil, domain.ErrNotFound
	}
	delete(s.tasks, taskID)
	var removed []*domain.Reminder
	for id, r := range s.reminders {
		if r.TaskID == taskID {
			removed = append(removed, r)
			delete(s.reminders, id)
		}
	}
	return removed, nil
}

func (s *fakeStore) CreateReminder(ctx context.Context, r *domain.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.reminders[r.ID] = &cp
	return nil
}

func (s *fakeStore) ListReminders(ctx context.Context, userID, taskID string) ([]*domain.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Reminder
	for _, r := range s.reminders {
		if r.UserID == userID && r.TaskID == taskID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteReminder(ctx context.Context, userID, taskID, reminderID string) (*domain.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[reminderID]
	if !ok || r.UserID != userID || r.TaskID != taskID {
		return nil, domain.ErrNotFound
	}
	delete(s.reminders, reminderID)
	cp := *r
	return &cp, nil
}

func (s *fakeStore) FireReminder(ctx context.Context, reminderID string, now time.Time, build func(r *domain.Reminder, t *domain.Task) OutboxEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[reminderID]
	if !ok {
		return false, nil
	}
	t, ok := s.tasks[r.TaskID]
	if !ok {
		return false, nil
	}
	build(r, t)
	delete(s.reminders, reminderID)
	return true, nil
}

// fakeScheduler records Schedule/Cancel calls and always succeeds.
type fakeScheduler struct {
	mu       sync.Mutex
	canceled []string
}

func (f *fakeScheduler) Schedule(ctx context.Context, at time.Time, callbackURL string, payload ReminderPayload) (string, error) {
	return uuid.NewString(), nil
}

func (f *fakeScheduler) Cancel(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, handle)
	return nil
}

// fakeValidator treats the token string itself as the user id, so tests can
// authenticate as any user without minting real JWTs.
type fakeValidator struct{}

func (fakeValidator) Validate(token string) (string, error) {
	if token == "" || token == "invalid" {
		return "", domain.ErrUnauthenticated
	}
	return token, nil
}

func newTestRouter() (http.Handler, *fakeStore) {
	store := newFakeStore()
	svc := New(store, &fakeScheduler{}, "http://taskapi.internal", func() time.Time {
		return time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	})
	h := NewHandlers(svc)
	return NewRouter(h, fakeValidator{}, 0), store
}

func authedRequest(method, path, user string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+user)
	return req
}

func TestCreateAndGetTask(t *testing.T) {
	router, _ := newTestRouter()

	rec := httptest.NewRecorder()
	req := authedRequest(http.MethodPost, "/api/alice/tasks", "alice", map[string]any{
		"title": "Buy milk",
	})
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created domain.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "Buy milk", created.Title)
	assert.Equal(t, "alice", created.UserID)

	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, authedRequest(http.MethodGet, "/api/alice/tasks/"+created.ID, "alice", nil))
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestGetTask_CrossUserReturnsNotFound(t *testing.T) {
	router, _ := newTestRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/alice/tasks", "alice", map[string]any{"title": "secret"}))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, authedRequest(http.MethodGet, "/api/bob/tasks/"+created.ID, "bob", nil))
	assert.Equal(t, http.StatusNotFound, rec2.Code)
}

func TestRequireAuth_MismatchedUserIsForbidden(t *testing.T) {
	router, _ := newTestRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/alice/tasks", "bob", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAuth_MissingTokenIsUnauthorized(t *testing.T) {
	router, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/alice/tasks", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpdateTask_PartialPatch(t *testing.T) {
	router, _ := newTestRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/alice/tasks", "alice", map[string]any{
		"title":       "Original",
		"description": "before",
	}))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, authedRequest(http.MethodPut, "/api/alice/tasks/"+created.ID, "alice", map[string]any{
		"title": "Updated",
	}))
	require.Equal(t, http.StatusOK, rec2.Code)

	var updated domain.Task
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &updated))
	assert.Equal(t, "Updated", updated.Title)
	assert.Equal(t, "before", updated.Description) // untouched by the mask
}

func TestToggleComplete(t *testing.T) {
	router, _ := newTestRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/alice/tasks", "alice", map[string]any{"title": "x"}))
	var created domain.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, authedRequest(http.MethodPatch, "/api/alice/tasks/"+created.ID+"/complete", "alice", nil))
	require.Equal(t, http.StatusOK, rec2.Code)
	var toggled domain.Task
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &toggled))
	assert.True(t, toggled.Completed)
}

func TestCreateReminder_PastTimeRejected(t *testing.T) {
	router, _ := newTestRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/alice/tasks", "alice", map[string]any{"title": "x"}))
	var created domain.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, authedRequest(http.MethodPost, "/api/alice/tasks/"+created.ID+"/reminders", "alice", map[string]any{
		"remind_at": "2020-01-01T00:00:00Z",
	}))
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestCreateReminder_FutureTimeSucceeds(t *testing.T) {
	router, _ := newTestRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/alice/tasks", "alice", map[string]any{"title": "x"}))
	var created domain.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, authedRequest(http.MethodPost, "/api/alice/tasks/"+created.ID+"/reminders", "alice", map[string]any{
		"remind_at": "2026-08-01T00:00:00Z",
	}))
	require.Equal(t, http.StatusCreated, rec2.Code)
}

func TestReminderTrigger_UnknownReminderIsSilentSuccess(t *testing.T) {
	router, _ := newTestRouter()

	rec := httptest.NewRecorder()
	body, _ := json.Marshal(ReminderPayload{ReminderID: "missing", TaskID: "missing", UserID: "alice"})
	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/reminder-trigger", bytes.NewReader(body))
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func listTaskTitles(t *testing.T, router http.Handler, query string) []string {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/alice/tasks"+query, "alice", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []domain.Task
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tasks))
	titles := make([]string, len(tasks))
	for i, task := range tasks {
		titles[i] = task.Title
	}
	return titles
}

func TestListTasks_SortsByPriorityRankNotAlphabetically(t *testing.T) {
	router, _ := newTestRouter()
	for _, tc := range []struct {
		title    string
		priority string
	}{
		{"low one", "low"}, {"critical one", "critical"}, {"medium one", "medium"}, {"high one", "high"},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/alice/tasks", "alice", map[string]any{
			"title": tc.title, "priority": tc.priority,
		}))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	// Alphabetically this would be critical, high, low, medium; by rank it
	// must be critical, high, medium, low.
	titles := listTaskTitles(t, router, "?sort_by=priority&order=desc")
	require.Equal(t, []string{"critical one", "high one", "medium one", "low one"}, titles)
}

func TestListTasks_DueAtSortsNullsLastRegardlessOfDirection(t *testing.T) {
	router, _ := newTestRouter()
	today := "2026-07-31T09:00:00Z"
	tomorrow := "2026-08-01T09:00:00Z"

	for _, tc := range []struct {
		title string
		dueAt *string
	}{
		{"due tomorrow", &tomorrow},
		{"no due date", nil},
		{"due today", &today},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/alice/tasks", "alice", map[string]any{
			"title": tc.title, "due_at": tc.dueAt,
		}))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	asc := listTaskTitles(t, router, "?sort_by=due_at&order=asc")
	require.Equal(t, []string{"due today", "due tomorrow", "no due date"}, asc)

	desc := listTaskTitles(t, router, "?sort_by=due_at&order=desc")
	require.Equal(t, []string{"due tomorrow", "due today", "no due date"}, desc)
}
