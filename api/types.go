package api

import (
	"context"

	"task-tracker/auth"
	"task-tracker/domain"
)

// TaskStore abstracts owner scoped task persistence for handlers.
type TaskStore interface {
	ListTasks(ctx context.Context, ownerID string, f domain.StatusFilter) ([]domain.Task, error)
	GetTask(ctx context.Context, ownerID, id string) (domain.Task, error)
	CreateTask(ctx context.Context, ownerID string, in domain.NewTaskInput) (domain.Task, error)
	UpdateTask(ctx context.Context, ownerID, id string, patch domain.Patch) (domain.Task, error)
	DeleteTask(ctx context.Context, ownerID, id string) error
	Ping(ctx context.Context) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Accounts is the authentication collaborator behind /api/auth.
type Accounts interface {
	Register(ctx context.Context, email, password string) (auth.Session, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
	CurrentUser(ctx context.Context, userID string) (domain.User, error)
}

// Deduper makes task creation idempotent per client supplied key.
type Deduper interface {
	// Claim records the key as in progress. When the key was already known it
	// returns claimed=false and the id of the task it produced, or the
	// pending marker while that request is still running.
	Claim(ctx context.Context, userID, key string) (existing string, claimed bool, err error)
	// Complete binds the key to the created task.
	Complete(ctx context.Context, userID, key, taskID string) error
	// Release forgets the key so the client may retry after a failure.
	Release(ctx context.Context, userID, key string) error
}

// EventPublisher delivers task events to downstream consumers.
type EventPublisher interface {
	PublishEvents(ctx context.Context, userID string, events []domain.TaskEvent) error
}
