package domain

// Event types emitted after a task mutation succeeds.
const (
	TaskCreated = "task-created"
	TaskUpdated = "task-updated"
	TaskDeleted = "task-deleted"
)

// TaskEvent describes a confirmed change to a task.
type TaskEvent struct {
	// ID is unique per event so consumers can discard duplicates.
	ID        string `json:"id"`
	Type      string `json:"type"`
	TaskID    string `json:"taskId"`
	Task      *Task  `json:"task,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// EventEnvelope wraps an event with the user it belongs to.
type EventEnvelope struct {
	UserID string    `json:"userId"`
	Event  TaskEvent `json:"event"`
}
