package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"task-tracker/domain"
)

const maxUpdateAttempts = 3

// Storage keeps tasks and users in Azure Table Storage.
type Storage struct {
	taskTable *aztables.Client
	userTable *aztables.Client
	src       sources
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, usersTable string) (*Storage, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Second * 30,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Storage{
		taskTable: svc.NewClient(tasksTable),
		userTable: svc.NewClient(usersTable),
		src:       defaultSources(),
	}, nil
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// Ping issues the smallest possible query against the tasks table.
func (s *Storage) Ping(ctx context.Context) error {
	top := int32(1)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Top: &top})
	if !pager.More() {
		return nil
	}
	_, err := pager.NextPage(ctx)
	return err
}

// ListTasks returns the owner's tasks, newest first.
func (s *Storage) ListTasks(ctx context.Context, ownerID string, f domain.StatusFilter) ([]domain.Task, error) {
	filter := "PartitionKey eq " + quoteFilter(ownerID)
	if f != domain.FilterAll {
		filter += " and Status eq " + quoteFilter(f.String())
	}
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			task, err := decodeTask(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
	}
	sortNewestFirst(tasks)
	return tasks, nil
}

func (s *Storage) getTask(ctx context.Context, ownerID, id string) (domain.Task, azcore.ETag, error) {
	if ownerID == "" || id == "" {
		return domain.Task{}, "", domain.ErrNotFound
	}
	resp, err := s.taskTable.GetEntity(ctx, ownerID, id, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return domain.Task{}, "", domain.ErrNotFound
		}
		return domain.Task{}, "", err
	}
	task, err := decodeTask(resp.Value)
	if err != nil {
		return domain.Task{}, "", err
	}
	return task, resp.ETag, nil
}

// GetTask loads a single task owned by ownerID.
func (s *Storage) GetTask(ctx context.Context, ownerID, id string) (domain.Task, error) {
	task, _, err := s.getTask(ctx, ownerID, id)
	return task, err
}

// CreateTask validates the input and inserts a new task for ownerID.
func (s *Storage) CreateTask(ctx context.Context, ownerID string, in domain.NewTaskInput) (domain.Task, error) {
	task, err := domain.NewTask(s.src.newID(), ownerID, in, s.src.now())
	if err != nil {
		return domain.Task{}, err
	}
	// Round-trip through the table precision so the returned value matches
	// what later reads produce.
	task.CreatedAt = task.CreatedAt.Truncate(100 * time.Nanosecond)
	payload, err := encodeTask(task)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// UpdateTask merges patch into the stored task. The write is conditional on
// the ETag that was read, and retried when another writer got there first.
func (s *Storage) UpdateTask(ctx context.Context, ownerID, id string, patch domain.Patch) (domain.Task, error) {
	if err := patch.Validate(); err != nil {
		return domain.Task{}, err
	}
	for attempt := 0; ; attempt++ {
		current, etag, err := s.getTask(ctx, ownerID, id)
		if err != nil {
			return domain.Task{}, err
		}
		if patch.Empty() {
			return current, nil
		}
		updated, err := current.Apply(patch)
		if err != nil {
			return domain.Task{}, err
		}
		updated = updated.Touched(s.src.now())
		payload, err := encodeTask(updated)
		if err != nil {
			return domain.Task{}, err
		}
		_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
		switch {
		case err == nil:
			return updated, nil
		case statusCode(err) == http.StatusNotFound:
			return domain.Task{}, domain.ErrNotFound
		case statusCode(err) == http.StatusPreconditionFailed && attempt+1 < maxUpdateAttempts:
			continue
		default:
			return domain.Task{}, fmt.Errorf("update task: %w", err)
		}
	}
}

// DeleteTask removes the task. Deleting twice reports ErrNotFound.
func (s *Storage) DeleteTask(ctx context.Context, ownerID, id string) error {
	if ownerID == "" || id == "" {
		return domain.ErrNotFound
	}
	et := azcore.ETagAny
	_, err := s.taskTable.DeleteEntity(ctx, ownerID, id, &aztables.DeleteEntityOptions{IfMatch: &et})
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return domain.ErrNotFound
		}
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// CreateUser inserts u. A taken email reports ErrConflict.
func (s *Storage) CreateUser(ctx context.Context, u domain.User) error {
	payload, err := encodeUser(u)
	if err != nil {
		return err
	}
	if _, err := s.userTable.AddEntity(ctx, payload, nil); err != nil {
		if statusCode(err) == http.StatusConflict {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UserByEmail looks a user up by normalised email.
func (s *Storage) UserByEmail(ctx context.Context, email string) (domain.User, error) {
	key := userKey(email)
	resp, err := s.userTable.GetEntity(ctx, key, key, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, err
	}
	return decodeUser(resp.Value)
}

// UserByID scans the users table for the given id.
func (s *Storage) UserByID(ctx context.Context, id string) (domain.User, error) {
	filter := "ID eq " + quoteFilter(id)
	top := int32(1)
	pager := s.userTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Top: &top})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return domain.User{}, err
		}
		if len(resp.Entities) > 0 {
			return decodeUser(resp.Entities[0])
		}
	}
	return domain.User{}, domain.ErrNotFound
}
