package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"task-tracker/domain"
)

type backend interface {
	ListTasks(ctx context.Context, ownerID string, f domain.StatusFilter) ([]domain.Task, error)
	GetTask(ctx context.Context, ownerID, id string) (domain.Task, error)
	CreateTask(ctx context.Context, ownerID string, in domain.NewTaskInput) (domain.Task, error)
	UpdateTask(ctx context.Context, ownerID, id string, patch domain.Patch) (domain.Task, error)
	DeleteTask(ctx context.Context, ownerID, id string) error
	Ping(ctx context.Context) error
}

// Cache wraps a task backend with a Redis read-through cache of each owner's
// full list. Filters are applied to the cached list. Entries are keyed by a
// per-owner version that every mutation increments, so a list read from the
// backend before a mutation can never be served after it.
type Cache struct {
	base   backend
	redis  *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// CacheOption customises a Cache.
type CacheOption func(*Cache)

// WithCacheLogger sets the logger used for Redis failures.
func WithCacheLogger(logger *log.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration, opts ...CacheOption) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	c := &Cache{base: base, redis: client, ttl: ttl, logger: log.StandardLogger()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.base.Ping(ctx)
}

func (c *Cache) ListTasks(ctx context.Context, ownerID string, f domain.StatusFilter) ([]domain.Task, error) {
	version, cacheable := c.version(ctx, ownerID)
	if cacheable {
		if tasks, ok := c.loadTasks(ctx, ownerID, version); ok {
			return filterTasks(tasks, f), nil
		}
	}

	tasks, err := c.base.ListTasks(ctx, ownerID, domain.FilterAll)
	if err != nil {
		return nil, err
	}

	if cacheable {
		c.storeTasks(ctx, ownerID, version, tasks)
	}
	return filterTasks(tasks, f), nil
}

func (c *Cache) GetTask(ctx context.Context, ownerID, id string) (domain.Task, error) {
	return c.base.GetTask(ctx, ownerID, id)
}

func (c *Cache) CreateTask(ctx context.Context, ownerID string, in domain.NewTaskInput) (domain.Task, error) {
	task, err := c.base.CreateTask(ctx, ownerID, in)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, ownerID)
	return task, nil
}

func (c *Cache) UpdateTask(ctx context.Context, ownerID, id string, patch domain.Patch) (domain.Task, error) {
	task, err := c.base.UpdateTask(ctx, ownerID, id, patch)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, ownerID)
	return task, nil
}

func (c *Cache) DeleteTask(ctx context.Context, ownerID, id string) error {
	if err := c.base.DeleteTask(ctx, ownerID, id); err != nil {
		return err
	}
	c.evict(ctx, ownerID)
	return nil
}

// version returns the owner's current list version. A missing counter is
// version 0; any other Redis failure disables caching for the call.
func (c *Cache) version(ctx context.Context, ownerID string) (int64, bool) {
	if c.redis == nil || c.ttl == 0 {
		return 0, false
	}
	v, err := c.redis.Get(ctx, tasksVersionKey(ownerID)).Int64()
	switch {
	case err == nil:
		return v, true
	case errors.Is(err, redis.Nil):
		return 0, true
	default:
		c.logger.WithError(err).WithField("owner_id", ownerID).Warn("tasks cache: read version failed; bypassing cache")
		return 0, false
	}
}

func (c *Cache) loadTasks(ctx context.Context, ownerID string, version int64) ([]domain.Task, bool) {
	key := tasksCacheKey(ownerID, version)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("owner_id", ownerID).Warn("tasks cache: read failed")
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		c.logger.WithError(err).WithField("owner_id", ownerID).Warn("tasks cache: dropping corrupt entry")
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return tasks, true
}

// storeTasks caches a backend snapshot under the version read before the
// backend call. A mutation in between has already moved the version on, so
// the snapshot lands on a key no reader uses and expires with the TTL.
func (c *Cache) storeTasks(ctx context.Context, ownerID string, version int64, tasks []domain.Task) {
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, tasksCacheKey(ownerID, version), data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("owner_id", ownerID).Warn("tasks cache: write failed")
	}
}

func (c *Cache) evict(ctx context.Context, ownerID string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Incr(ctx, tasksVersionKey(ownerID)).Err(); err != nil {
		c.logger.WithError(err).WithField("owner_id", ownerID).Error("tasks cache: eviction failed; list may be stale until it expires")
	}
}

// The version counter never expires; reusing a number could revive a stale
// entry.
func tasksVersionKey(ownerID string) string {
	return "tasks:ver:" + ownerID
}

func tasksCacheKey(ownerID string, version int64) string {
	return "tasks:" + ownerID + ":" + strconv.FormatInt(version, 10)
}
