package domain

import "strings"

// Priority is a validated task priority. Value object - immutable string enum.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// priorityRank orders priorities for sorting: critical > high > medium > low > none.
// None (absent priority) is not in this map; Rank gives it 0, below low.
var priorityRank = map[Priority]int{
	PriorityCritical: 4,
	PriorityHigh:     3,
	PriorityMedium:   2,
	PriorityLow:      1,
}

// Rank returns the sort rank of a priority; 0 for "no priority", the lowest
// rank (last on a descending sort, first on an ascending one).
func Rank(p *Priority) int {
	if p == nil {
		return 0
	}
	return priorityRank[*p]
}

// NewPriority validates and normalizes a priority string.
func NewPriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return p, nil
	default:
		return "", ErrInvalidPriority
	}
}

// RecurrenceRule is a validated recurrence cadence. Value object - immutable string enum.
type RecurrenceRule string

const (
	RecurrenceDaily   RecurrenceRule = "daily"
	RecurrenceWeekly  RecurrenceRule = "weekly"
	RecurrenceMonthly RecurrenceRule = "monthly"
)

// NewRecurrenceRule validates and normalizes a recurrence rule string.
func NewRecurrenceRule(s string) (RecurrenceRule, error) {
	r := RecurrenceRule(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return r, nil
	default:
		return "", ErrInvalidRecurrenceRule
	}
}

// TaskState is the derived lifecycle state of a task (§4.1 state machine).
// It is never stored directly: pending/completed derive from the completed
// field, deleted is the absence of a row.
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateCompleted TaskState = "completed"
	TaskStateDeleted   TaskState = "deleted"
)

// SortField enumerates the fields ListTasks may sort on.
type SortField string

const (
	SortByCreatedAt SortField = "created_at"
	SortByDueAt     SortField = "due_at"
	SortByPriority  SortField = "priority"
	SortByTitle     SortField = "title"
)

// NewSortField validates a sort field, defaulting to created_at when empty.
func NewSortField(s string) (SortField, error) {
	if s == "" {
		return SortByCreatedAt, nil
	}
	f := SortField(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case SortByCreatedAt, SortByDueAt, SortByPriority, SortByTitle:
		return f, nil
	default:
		return "", ErrInvalidSortField
	}
}

// SortOrder is ascending or descending.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// NewSortOrder validates a sort order, defaulting to asc when empty.
func NewSortOrder(s string) (SortOrder, error) {
	if s == "" {
		return SortAsc, nil
	}
	o := SortOrder(strings.ToLower(strings.TrimSpace(s)))
	switch o {
	case SortAsc, SortDesc:
		return o, nil
	default:
		return "", ErrInvalidSortOrder
	}
}

// StatusFilter narrows ListTasks to pending, completed, or all tasks.
type StatusFilter string

const (
	StatusFilterPending   StatusFilter = "pending"
	StatusFilterCompleted StatusFilter = "completed"
	StatusFilterAll       StatusFilter = "all"
)

// NewStatusFilter validates a status filter, defaulting to all when empty.
func NewStatusFilter(s string) (StatusFilter, error) {
	if s == "" {
		return StatusFilterAll, nil
	}
	f := StatusFilter(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case StatusFilterPending, StatusFilterCompleted, StatusFilterAll:
		return f, nil
	default:
		return "", ErrInvalidStatus
	}
}

// EventType enumerates the task lifecycle event types carried on task-events.
type EventType string

const (
	EventCreated   EventType = "created"
	EventUpdated   EventType = "updated"
	EventCompleted EventType = "completed"
	EventDeleted   EventType = "deleted"
)
