package taskapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/httpx"
)

// Handlers wires the application Service to chi routes. It holds no state
// beyond the service itself.
type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers { return &Handlers{svc: svc} }

type createTaskRequest struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Priority       *string  `json:"priority"`
	Tags           []string `json:"tags"`
	DueAt          *string  `json:"due_at"`
	IsRecurring    bool     `json:"is_recurring"`
	RecurrenceRule *string  `json:"recurrence_rule"`
}

// CreateTask handles POST /api/{user_id}/tasks.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid JSON body"})
		return
	}
	fields, err := parseCreateTaskFields(req)
	if err != nil {
		httpx.Error(w, err)
		return
	}

	t, err := h.svc.CreateTask(r.Context(), authedUser(r), fields)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func parseCreateTaskFields(req createTaskRequest) (domain.NewTaskFields, error) {
	f := domain.NewTaskFields{
		Title:          req.Title,
		Description:    req.Description,
		Priority:       req.Priority,
		Tags:           req.Tags,
		IsRecurring:    req.IsRecurring,
		RecurrenceRule: req.RecurrenceRule,
	}
	if req.DueAt != nil && *req.DueAt != "" {
		t, err := time.Parse(time.RFC3339, *req.DueAt)
		if err != nil {
			return f, domain.ErrInvalidTimestamp
		}
		f.DueAt = &t
	}
	return f, nil
}

// ListTasks handles GET /api/{user_id}/tasks.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	p, err := parseListTasksParams(r, authedUser(r))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	tasks, err := h.svc.ListTasks(r.Context(), p)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tasks)
}

func parseListTasksParams(r *http.Request, userID string) (domain.ListTasksParams, error) {
	q := r.URL.Query()
	p := domain.ListTasksParams{UserID: userID, Search: q.Get("search")}

	status, err := domain.NewStatusFilter(q.Get("status"))
	if err != nil {
		return p, err
	}
	p.Status = status

	if v := q.Get("priority"); v != "" {
		pr, err := domain.NewPriority(v)
		if err != nil {
			return p, err
		}
		p.Priority = &pr
	}
	if v := q.Get("tags"); v != "" {
		p.Tags = strings.Split(v, ",")
	}
	if v := q.Get("due_before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return p, domain.ErrInvalidTimestamp
		}
		p.DueBefore = &t
	}
	if v := q.Get("due_after"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return p, domain.ErrInvalidTimestamp
		}
		p.DueAfter = &t
	}

	sortBy, err := domain.NewSortField(q.Get("sort_by"))
	if err != nil {
		return p, err
	}
	p.SortBy = sortBy

	order, err := domain.NewSortOrder(q.Get("order"))
	if err != nil {
		return p, err
	}
	p.SortOrder = order

	return p, nil
}

// GetTask handles GET /api/{user_id}/tasks/{id}.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.GetTask(r.Context(), authedUser(r), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

// UpdateTask handles PUT /api/{user_id}/tasks/{id} with a field-mask patch:
// only JSON keys present in the body are changed.
func (h *Handlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	raw := map[string]json.RawMessage{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		httpx.JSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid JSON body"})
		return
	}

	params, err := parseUpdateTaskParams(raw, authedUser(r), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, err)
		return
	}

	t, err := h.svc.UpdateTask(r.Context(), params)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func parseUpdateTaskParams(raw map[string]json.RawMessage, userID, taskID string) (domain.UpdateTaskParams, error) {
	p := domain.UpdateTaskParams{UserID: userID, TaskID: taskID}

	if v, ok := raw["title"]; ok {
		p.Mask = append(p.Mask, "title")
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return p, domain.ErrTitleRequired
		}
		p.Title = &s
	}
	if v, ok := raw["description"]; ok {
		p.Mask = append(p.Mask, "description")
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return p, domain.ErrDescriptionLong
		}
		p.Description = &s
	}
	if v, ok := raw["priority"]; ok {
		p.Mask = append(p.Mask, "priority")
		if string(v) != "null" {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return p, domain.ErrInvalidPriority
			}
			p.Priority = &s
		}
	}
	if v, ok := raw["tags"]; ok {
		p.Mask = append(p.Mask, "tags")
		var tags []string
		if err := json.Unmarshal(v, &tags); err != nil {
			return p, domain.ErrInvalidFieldType
		}
		p.Tags = tags
	}
	if v, ok := raw["due_at"]; ok {
		p.Mask = append(p.Mask, "due_at")
		if string(v) == "null" {
			p.ClearDueAt = true
		} else {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return p, domain.ErrInvalidTimestamp
			}
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return p, domain.ErrInvalidTimestamp
			}
			p.DueAt = &t
		}
	}
	if v, ok := raw["is_recurring"]; ok {
		p.Mask = append(p.Mask, "is_recurring")
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			return p, domain.ErrInvalidFieldType
		}
		p.IsRecurring = &b
	}
	if v, ok := raw["recurrence_rule"]; ok {
		p.Mask = append(p.Mask, "recurrence_rule")
		if string(v) != "null" {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return p, domain.ErrInvalidRecurrenceRule
			}
			p.RecurrenceRule = &s
		}
	}

	return p, nil
}

// ToggleComplete handles PATCH /api/{user_id}/tasks/{id}/complete.
func (h *Handlers) ToggleComplete(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.ToggleComplete(r.Context(), authedUser(r), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

// DeleteTask handles DELETE /api/{user_id}/tasks/{id}.
func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTask(r.Context(), authedUser(r), chi.URLParam(r, "id")); err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type createReminderRequest struct {
	RemindAt string `json:"remind_at"`
}

// CreateReminder handles POST /api/{user_id}/tasks/{id}/reminders.
func (h *Handlers) CreateReminder(w http.ResponseWriter, r *http.Request) {
	var req createReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid JSON body"})
		return
	}
	remindAt, err := time.Parse(time.RFC3339, req.RemindAt)
	if err != nil {
		httpx.JSON(w, http.StatusBadRequest, map[string]string{"detail": "remind_at must be an RFC3339 timestamp"})
		return
	}

	rem, err := h.svc.CreateReminder(r.Context(), authedUser(r), chi.URLParam(r, "id"), remindAt)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rem)
}

// ListReminders handles GET /api/{user_id}/tasks/{id}/reminders.
func (h *Handlers) ListReminders(w http.ResponseWriter, r *http.Request) {
	reminders, err := h.svc.ListReminders(r.Context(), authedUser(r), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, reminders)
}

// DeleteReminder handles DELETE /api/{user_id}/tasks/{id}/reminders/{rid}.
func (h *Handlers) DeleteReminder(w http.ResponseWriter, r *http.Request) {
	err := h.svc.DeleteReminder(r.Context(), authedUser(r), chi.URLParam(r, "id"), chi.URLParam(r, "rid"))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ReminderTrigger handles the internal scheduler callback
// POST /internal/jobs/reminder-trigger. It is reachable only within the
// service mesh (no bearer-token gate), per §6.
func (h *Handlers) ReminderTrigger(w http.ResponseWriter, r *http.Request) {
	var payload ReminderPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpx.JSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid JSON body"})
		return
	}
	if err := h.svc.OnSchedulerFire(r.Context(), payload); err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
