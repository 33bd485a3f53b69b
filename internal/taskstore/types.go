package taskstore

import "time"

// Task is a single to-do item owned by exactly one user.
type Task struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	Priority    string     `json:"priority,omitempty"`
	Category    string     `json:"category,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Status string

const (
	StatusAll       Status = "all"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

type DueWindow string

const (
	DueAny      DueWindow = ""
	DueToday    DueWindow = "today"
	DueTomorrow DueWindow = "tomorrow"
	DueThisWeek DueWindow = "this_week"
	DueOverdue  DueWindow = "overdue"
	DueNone     DueWindow = "no_due_date"
)

// Filter narrows a listing. Zero value lists everything, newest first.
type Filter struct {
	Status   Status
	Priority string
	Category string
	Due      DueWindow
}

// Patch carries the mutable task fields for an update; nil fields are left
// untouched.
type Patch struct {
	Title       *string
	Description *string
	Completed   *bool
	Priority    *string
	Category    *string
	DueDate     *time.Time
	ClearDue    bool
}

// Matches reports whether the task passes the filter, evaluated at now.
// Shared by the in-memory store and by tests asserting Postgres-equivalent
// semantics.
func (f Filter) Matches(t Task, now time.Time) bool {
	switch f.Status {
	case StatusActive:
		if t.Completed {
			return false
		}
	case StatusCompleted:
		if !t.Completed {
			return false
		}
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}

	switch f.Due {
	case DueAny:
		return true
	case DueNone:
		return t.DueDate == nil
	}
	if t.DueDate == nil {
		return false
	}
	due := t.DueDate.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch f.Due {
	case DueToday:
		return !due.Before(dayStart) && due.Before(dayStart.AddDate(0, 0, 1))
	case DueTomorrow:
		start := dayStart.AddDate(0, 0, 1)
		return !due.Before(start) && due.Before(start.AddDate(0, 0, 1))
	case DueThisWeek:
		return !due.Before(dayStart) && due.Before(dayStart.AddDate(0, 0, 7))
	case DueOverdue:
		return due.Before(now) && !t.Completed
	}
	return true
}
