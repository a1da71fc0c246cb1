package domain

import (
	"strings"
	"time"
)

// Priority is the canonical task priority.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"

	// DefaultPriority is assigned when a task is created without one.
	DefaultPriority = PriorityLow
)

// ParsePriority normalises client input to a canonical priority. Matching is
// case-insensitive and ignores surrounding whitespace. An empty value is
// reported with ok=false and no error so callers can apply their own default.
func ParsePriority(raw string) (p Priority, ok bool, err error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", false, nil
	}
	switch strings.ToLower(v) {
	case "low":
		return PriorityLow, true, nil
	case "medium":
		return PriorityMedium, true, nil
	case "high":
		return PriorityHigh, true, nil
	}
	return "", false, &ValidationError{Field: "priority", Message: "priority must be one of Low, Medium, High"}
}

// Valid reports whether p is one of the canonical priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task represents a single item on a user's list.
type Task struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"userId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    Priority  `json:"priority"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewTaskInput carries the client controlled fields of a create request.
type NewTaskInput struct {
	Title       string
	Description string
	Priority    string
}

// NewTask validates in and builds the task the store will persist. The id,
// owner and creation time always come from the caller, never from input.
func NewTask(id, ownerID string, in NewTaskInput, now time.Time) (Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Task{}, &ValidationError{Field: "title", Message: "Title is required"}
	}
	priority, ok, err := ParsePriority(in.Priority)
	if err != nil {
		return Task{}, err
	}
	if !ok {
		priority = DefaultPriority
	}
	return Task{
		ID:          id,
		OwnerID:     ownerID,
		Title:       title,
		Description: in.Description,
		Priority:    priority,
		Completed:   false,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}, nil
}

// Patch lists the mutable fields of a task. Nil fields are left unchanged.
type Patch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	Completed   *bool     `json:"completed,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil && p.Completed == nil
}

// Validate checks the patch values without touching a task.
func (p Patch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return &ValidationError{Field: "title", Message: "Title cannot be empty"}
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return &ValidationError{Field: "priority", Message: "priority must be one of Low, Medium, High"}
	}
	return nil
}

// Apply returns a copy of t with the patch applied. Identity fields are never
// modified.
func (t Task) Apply(p Patch) (Task, error) {
	if err := p.Validate(); err != nil {
		return t, err
	}
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	return t, nil
}

// Touched returns t marked as modified at now. The modification time never
// moves back past the creation time.
func (t Task) Touched(now time.Time) Task {
	now = now.UTC()
	if now.Before(t.CreatedAt) {
		now = t.CreatedAt
	}
	t.UpdatedAt = now
	return t
}

// Status returns the persisted representation of the completion flag.
func (t Task) Status() Status {
	return StatusFor(t.Completed)
}

// Status is the enumerated form of task completion used at storage and wire
// boundaries.
type Status string

const (
	StatusComplete   Status = "complete"
	StatusIncomplete Status = "incomplete"
)

// StatusFor maps the canonical completion flag to its status string.
func StatusFor(completed bool) Status {
	if completed {
		return StatusComplete
	}
	return StatusIncomplete
}

// ParseStatus maps a status string back to the completion flag.
func ParseStatus(raw string) (completed bool, err error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusComplete:
		return true, nil
	case StatusIncomplete:
		return false, nil
	}
	return false, &ValidationError{Field: "status", Message: "status must be complete or incomplete"}
}

// StatusFilter narrows a task listing by completion.
type StatusFilter int

const (
	FilterAll StatusFilter = iota
	FilterComplete
	FilterIncomplete
)

// ParseStatusFilter never fails: unknown values select every task.
func ParseStatusFilter(raw string) StatusFilter {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusComplete:
		return FilterComplete
	case StatusIncomplete:
		return FilterIncomplete
	}
	return FilterAll
}

// Match reports whether t passes the filter.
func (f StatusFilter) Match(t Task) bool {
	switch f {
	case FilterComplete:
		return t.Completed
	case FilterIncomplete:
		return !t.Completed
	}
	return true
}

// String returns the query value for the filter, empty for FilterAll.
func (f StatusFilter) String() string {
	switch f {
	case FilterComplete:
		return string(StatusComplete)
	case FilterIncomplete:
		return string(StatusIncomplete)
	}
	return ""
}
