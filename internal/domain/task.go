package domain

import "time"

// Task is the aggregate root owned exclusively by the Task API.
type Task struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	Priority    *Priority  `json:"priority,omitempty"`
	Tags        []string   `json:"tags"`
	DueAt       *time.Time `json:"due_at,omitempty"`

	IsRecurring    bool            `json:"is_recurring"`
	RecurrenceRule *RecurrenceRule `json:"recurrence_rule,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State derives the task's lifecycle state. Deleted tasks have no row, so
// this only ever returns pending or completed for a loaded Task.
func (t *Task) State() TaskState {
	if t.Completed {
		return TaskStateCompleted
	}
	return TaskStatePending
}

// ValidateRecurrence enforces the invariant is_recurring <-> recurrence_rule
// present.
func ValidateRecurrence(isRecurring bool, rule *RecurrenceRule) error {
	if isRecurring != (rule != nil) {
		return ErrRecurrenceMismatch
	}
	return nil
}

// NewTaskFields is the validated input to CreateTask. Construction through
// NewTask guarantees every invariant holds before a Task exists.
type NewTaskFields struct {
	Title          string
	Description    string
	Priority       *string
	Tags           []string
	DueAt          *time.Time
	IsRecurring    bool
	RecurrenceRule *string
}

// NewTask validates fields and builds a Task ready for persistence. Callers
// still must assign ID/UserID/CreatedAt/UpdatedAt.
func NewTask(f NewTaskFields) (*Task, error) {
	title, err := NewTitle(f.Title)
	if err != nil {
		return nil, err
	}
	desc, err := NewDescription(f.Description)
	if err != nil {
		return nil, err
	}

	var priority *Priority
	if f.Priority != nil && *f.Priority != "" {
		p, err := NewPriority(*f.Priority)
		if err != nil {
			return nil, err
		}
		priority = &p
	}

	var rule *RecurrenceRule
	if f.RecurrenceRule != nil && *f.RecurrenceRule != "" {
		r, err := NewRecurrenceRule(*f.RecurrenceRule)
		if err != nil {
			return nil, err
		}
		rule = &r
	}
	if err := ValidateRecurrence(f.IsRecurring, rule); err != nil {
		return nil, err
	}

	return &Task{
		Title:          title.String(),
		Description:    desc.String(),
		Priority:       priority,
		Tags:           NewTagSet(f.Tags).Slice(),
		DueAt:          f.DueAt,
		IsRecurring:    f.IsRecurring,
		RecurrenceRule: rule,
	}, nil
}

// UpdateTaskParams is a field-mask patch for UpdateTask. Only fields present
// in Mask are applied; the rest of the task is untouched.
type UpdateTaskParams struct {
	TaskID string
	UserID string
	Mask   []string

	Title          *string
	Description    *string
	Priority       *string // empty string clears priority
	Tags           []string
	DueAt          *time.Time // nil pointer clears due_at when in mask
	ClearDueAt     bool
	IsRecurring    *bool
	RecurrenceRule *string // empty string clears recurrence rule
}

var updateTaskValidFields = map[string]struct{}{
	"title":           {},
	"description":     {},
	"priority":        {},
	"tags":            {},
	"due_at":          {},
	"is_recurring":    {},
	"recurrence_rule": {},
}

// Validate checks the update mask names only known fields and is non-empty.
func (p UpdateTaskParams) Validate() error {
	if len(p.Mask) == 0 {
		return ErrEmptyUpdateMask
	}
	for _, f := range p.Mask {
		if _, ok := updateTaskValidFields[f]; !ok {
			return ErrUnknownField
		}
	}
	return nil
}

// Apply merges the patch onto t in place, validating the result. Invariants
// (title length, recurrence pairing) are re-checked post-merge.
func (p UpdateTaskParams) Apply(t *Task) error {
	mask := make(map[string]bool, len(p.Mask))
	for _, f := range p.Mask {
		mask[f] = true
	}

	if mask["title"] && p.Title != nil {
		title, err := NewTitle(*p.Title)
		if err != nil {
			return err
		}
		t.Title = title.String()
	}
	if mask["description"] && p.Description != nil {
		desc, err := NewDescription(*p.Description)
		if err != nil {
			return err
		}
		t.Description = desc.String()
	}
	if mask["priority"] {
		if p.Priority == nil || *p.Priority == "" {
			t.Priority = nil
		} else {
			pr, err := NewPriority(*p.Priority)
			if err != nil {
				return err
			}
			t.Priority = &pr
		}
	}
	if mask["tags"] {
		t.Tags = NewTagSet(p.Tags).Slice()
	}
	if mask["due_at"] {
		if p.ClearDueAt {
			t.DueAt = nil
		} else {
			t.DueAt = p.DueAt
		}
	}
	if mask["is_recurring"] && p.IsRecurring != nil {
		t.IsRecurring = *p.IsRecurring
	}
	if mask["recurrence_rule"] {
		if p.RecurrenceRule == nil || *p.RecurrenceRule == "" {
			t.RecurrenceRule = nil
		} else {
			r, err := NewRecurrenceRule(*p.RecurrenceRule)
			if err != nil {
				return err
			}
			t.RecurrenceRule = &r
		}
	}

	return ValidateRecurrence(t.IsRecurring, t.RecurrenceRule)
}

// ListTasksParams is the validated input to ListTasks.
type ListTasksParams struct {
	UserID string

	Status    StatusFilter
	Priority  *Priority
	Tags      []string // AND semantics: task must have every tag
	DueBefore *time.Time
	DueAfter  *time.Time
	Search    string // case-insensitive substring over title/description/tags

	SortBy    SortField
	SortOrder SortOrder
}
