package api

import (
	"time"

	"task-tracker/auth"
	"task-tracker/domain"
)

const maxBodySize = 64 * 1024 // 64 KiB

const headerIdempotencyKey = "Idempotency-Key"

// taskResponse is the wire form of a task. Completion is sent both as the
// canonical boolean and as the status string older clients filter on.
type taskResponse struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Priority    domain.Priority `json:"priority"`
	Completed   bool            `json:"completed"`
	Status      domain.Status   `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	UserID      string          `json:"userId"`
}

func toTaskResponse(t domain.Task) taskResponse {
	return taskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    t.Priority,
		Completed:   t.Completed,
		Status:      t.Status(),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		UserID:      t.OwnerID,
	}
}

func toTaskResponses(tasks []domain.Task) []taskResponse {
	out := make([]taskResponse, len(tasks))
	for i, t := range tasks {
		out[i] = toTaskResponse(t)
	}
	return out
}

// POST /api/tasks request body. Other fields are ignored.
type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

func (r createTaskRequest) input() domain.NewTaskInput {
	return domain.NewTaskInput{Title: r.Title, Description: r.Description, Priority: r.Priority}
}

// PATCH /api/tasks/:id request body. Only these fields can change a task;
// anything else the client sends (id, userId, createdAt, updatedAt, ...) is ignored.
type patchTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Priority    *string `json:"priority"`
	Completed   *bool   `json:"completed"`
	Status      *string `json:"status"`
}

func (r patchTaskRequest) patch() (domain.Patch, error) {
	p := domain.Patch{Title: r.Title, Description: r.Description}
	if r.Priority != nil {
		priority, ok, err := domain.ParsePriority(*r.Priority)
		if err != nil {
			return domain.Patch{}, err
		}
		if ok {
			p.Priority = &priority
		}
	}
	if r.Completed != nil {
		completed := *r.Completed
		p.Completed = &completed
	}
	if r.Status != nil {
		completed, err := domain.ParseStatus(*r.Status)
		if err != nil {
			return domain.Patch{}, err
		}
		if p.Completed != nil && *p.Completed != completed {
			return domain.Patch{}, &domain.ValidationError{Field: "status", Message: "status contradicts completed"}
		}
		p.Completed = &completed
	}
	if err := p.Validate(); err != nil {
		return domain.Patch{}, err
	}
	return p, nil
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserResponse(u domain.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
}

type sessionResponse struct {
	User  userResponse `json:"user"`
	Token string       `json:"token"`
}

func toSessionResponse(s auth.Session) sessionResponse {
	return sessionResponse{User: toUserResponse(s.User), Token: s.Token}
}

type meResponse struct {
	User userResponse `json:"user"`
}

// messageResponse carries every error body and the delete confirmation.
type messageResponse struct {
	Message string `json:"message"`
}
