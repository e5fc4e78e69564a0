package taskdb

import (
	"fmt"
	"strings"

	"github.com/taskmesh/taskmesh/internal/domain"
)

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t        domain.Task
		priority *string
		rule     *string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed, &priority, &t.Tags, &t.DueAt,
		&t.IsRecurring, &rule, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if priority != nil {
		p := domain.Priority(*priority)
		t.Priority = &p
	}
	if rule != nil {
		r := domain.RecurrenceRule(*rule)
		t.RecurrenceRule = &r
	}
	return &t, nil
}

func scanReminder(row rowScanner) (*domain.Reminder, error) {
	var r domain.Reminder
	err := row.Scan(&r.ID, &r.TaskID, &r.UserID, &r.RemindAt, &r.CreatedAt, &r.SchedulerHandle)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// buildListQuery builds the ListTasks SELECT with p's filters applied as
// positional parameters, and its sort/order appended safely (SortField and
// SortOrder are closed enums validated before reaching here, never raw
// user input interpolated into SQL).
func buildListQuery(p domain.ListTasksParams) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where = append(where, fmt.Sprintf("user_id = %s", arg(p.UserID)))

	switch p.Status {
	case domain.StatusFilterPending:
		where = append(where, "completed = false")
	case domain.StatusFilterCompleted:
		where = append(where, "completed = true")
	}

	if p.Priority != nil {
		where = append(where, fmt.Sprintf("priority = %s", arg(string(*p.Priority))))
	}
	if len(p.Tags) > 0 {
		where = append(where, fmt.Sprintf("tags @> %s", arg(p.Tags)))
	}
	if p.DueBefore != nil {
		where = append(where, fmt.Sprintf("due_at < %s", arg(*p.DueBefore)))
	}
	if p.DueAfter != nil {
		where = append(where, fmt.Sprintf("due_at > %s", arg(*p.DueAfter)))
	}
	if p.Search != "" {
		needle := arg("%" + strings.ToLower(p.Search) + "%")
		where = append(where, fmt.Sprintf(
			"(LOWER(title) LIKE %s OR LOWER(description) LIKE %s OR EXISTS (SELECT 1 FROM unnest(tags) tag WHERE LOWER(tag) LIKE %s))",
			needle, needle, needle))
	}

	query := `
		SELECT id, user_id, title, description, completed, priority, tags, due_at,
			is_recurring, recurrence_rule, created_at, updated_at
		FROM tasks
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY ` + orderBy(p.SortBy, p.SortOrder) + `, created_at DESC`

	return query, args
}

// priorityRankSQL ranks priority the way domain.Rank does in Go: critical >
// high > medium > low > none. An absent priority ranks 0, below low, so it
// sorts first on ASC and last on DESC, as with Rank.
const priorityRankSQL = `CASE priority
		WHEN 'critical' THEN 4
		WHEN 'high' THEN 3
		WHEN 'medium' THEN 2
		WHEN 'low' THEN 1
		ELSE 0
	END`

// orderBy renders the primary ORDER BY clause for f/o. priority sorts by rank
// rather than the raw text column (alphabetical order doesn't match
// critical > high > medium > low), and due_at always pushes NULLs to the end
// regardless of direction, since "no due date" isn't an earliest or latest
// date, it's the absence of one.
func orderBy(f domain.SortField, o domain.SortOrder) string {
	dir := sortDirection(o)
	switch f {
	case domain.SortByDueAt:
		return "due_at " + dir + " NULLS LAST"
	case domain.SortByPriority:
		return priorityRankSQL + " " + dir
	case domain.SortByTitle:
		return "title " + dir
	default:
		return "created_at " + dir
	}
}

func sortDirection(o domain.SortOrder) string {
	if o == domain.SortDesc {
		return "DESC"
	}
	return "ASC"
}
