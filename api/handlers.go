package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"task-tracker/domain"
)

const (
	routeTasks = "/api/tasks"
	routeTask  = "/api/tasks/:id"

	healthTimeout = 2 * time.Second
)

// Deps are the collaborators the routes are wired to. Accounts, Deduper and
// Events are optional.
type Deps struct {
	Tasks    TaskStore
	Auth     Authenticator
	Accounts Accounts
	Deduper  Deduper
	Events   *EventDispatcher
	Logger   *log.Logger

	// AuthRateLimit is the per client request rate allowed on the
	// credential endpoints. Zero disables throttling.
	AuthRateLimit float64
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Tasks == nil || d.Auth == nil || d.Logger == nil {
		panic("api.Register: task store, authenticator and logger are required")
	}
	e.GET(routeTasks, listTasks(d))
	e.POST(routeTasks, createTask(d))
	e.GET(routeTask, getTask(d))
	e.PATCH(routeTask, patchTask(d))
	e.DELETE(routeTask, deleteTask(d))
	e.GET("/healthz", healthz(d.Tasks, d.Logger))

	if d.Accounts != nil {
		registerAuthRoutes(e, d)
	}
}

func healthz(store TaskStore, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			logger.WithError(err).Warn("health check failed")
			return c.JSON(http.StatusServiceUnavailable, messageResponse{Message: "Storage unavailable"})
		}
		return c.NoContent(http.StatusOK)
	}
}

func startTaskRequest(c echo.Context, logger *log.Logger, route, op string) (*taskRequestMetrics, context.Context) {
	metrics, ctx := newTaskRequestMetrics(c.Request().Context(), logger, route, op)
	c.SetRequest(c.Request().WithContext(ctx))
	return metrics, ctx
}

// authenticate resolves the caller before any store access.
func authenticate(c echo.Context, auth Authenticator, metrics *taskRequestMetrics) (string, bool) {
	start := time.Now()
	userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if metrics != nil {
		metrics.ObserveAuth(time.Since(start))
	}
	if err != nil {
		if metrics != nil {
			metrics.Fail("auth", err)
		}
		return "", false
	}
	return userID, true
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, messageResponse{Message: "Unauthorized"})
}

func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	return dec.Decode(v)
}

func invalidBody(c echo.Context, metrics *taskRequestMetrics, err error) error {
	metrics.Fail("decode", err)
	return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
}

// statusForError maps domain errors onto HTTP statuses. Unexpected errors get
// a generic message; the detail is only logged.
func statusForError(err error) (int, string) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Message
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Task not found"
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid email or password"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "Conflict"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func writeTaskError(c echo.Context, metrics *taskRequestMetrics, stage string, err error) error {
	status, msg := statusForError(err)
	if status >= http.StatusInternalServerError {
		metrics.Fail(stage, err)
	} else {
		metrics.Fail(stage, nil)
	}
	return c.JSON(status, messageResponse{Message: msg})
}

func listTasks(d Deps) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := startTaskRequest(c, d.Logger, routeTasks, "list")
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		userID, ok := authenticate(c, d.Auth, metrics)
		if !ok {
			return unauthorized(c)
		}
		filter := domain.ParseStatusFilter(c.QueryParam("status"))

		start := time.Now()
		tasks, storeErr := d.Tasks.ListTasks(ctx, userID, filter)
		metrics.ObserveStore(time.Since(start))
		if storeErr != nil {
			return writeTaskError(c, metrics, "storage", storeErr)
		}
		metrics.SetTasksReturned(len(tasks))
		return c.JSON(http.StatusOK, toTaskResponses(tasks))
	}
}

func getTask(d Deps) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := startTaskRequest(c, d.Logger, routeTask, "get")
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		userID, ok := authenticate(c, d.Auth, metrics)
		if !ok {
			return unauthorized(c)
		}

		start := time.Now()
		task, storeErr := d.Tasks.GetTask(ctx, userID, c.Param("id"))
		metrics.ObserveStore(time.Since(start))
		if storeErr != nil {
			return writeTaskError(c, metrics, "storage", storeErr)
		}
		metrics.SetTasksReturned(1)
		return c.JSON(http.StatusOK, toTaskResponse(task))
	}
}

func createTask(d Deps) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := startTaskRequest(c, d.Logger, routeTasks, "create")
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		userID, ok := authenticate(c, d.Auth, metrics)
		if !ok {
			return unauthorized(c)
		}

		var req createTaskRequest
		if decodeErr := decodeBody(c, &req); decodeErr != nil {
			return invalidBody(c, metrics, decodeErr)
		}

		key := ""
		if d.Deduper != nil {
			key = strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
		}
		if key != "" {
			existing, claimed, claimErr := d.Deduper.Claim(ctx, userID, key)
			switch {
			case claimErr != nil:
				d.Logger.WithError(claimErr).WithField("user", userID).Warn("idempotency claim failed; creating without it")
				key = ""
			case !claimed && existing == pendingIdempotency:
				metrics.SetErrorStage("idempotency")
				return c.JSON(http.StatusConflict, messageResponse{Message: "A request with this Idempotency-Key is still in progress"})
			case !claimed:
				return replayCreate(ctx, c, d, metrics, userID, existing)
			}
		}

		start := time.Now()
		task, storeErr := d.Tasks.CreateTask(ctx, userID, req.input())
		metrics.ObserveStore(time.Since(start))
		if storeErr != nil {
			if key != "" {
				if relErr := d.Deduper.Release(context.WithoutCancel(ctx), userID, key); relErr != nil {
					d.Logger.WithError(relErr).WithField("user", userID).Error("idempotency release failed")
				}
			}
			return writeTaskError(c, metrics, "storage", storeErr)
		}
		if key != "" {
			if compErr := d.Deduper.Complete(context.WithoutCancel(ctx), userID, key, task.ID); compErr != nil {
				d.Logger.WithError(compErr).WithField("user", userID).Error("idempotency complete failed")
			}
		}

		d.Events.Emit(userID, domain.TaskCreated, task.ID, &task)
		metrics.SetTasksReturned(1)
		return c.JSON(http.StatusCreated, toTaskResponse(task))
	}
}

// replayCreate answers a repeated create with the task the first request made.
func replayCreate(ctx context.Context, c echo.Context, d Deps, metrics *taskRequestMetrics, userID, taskID string) error {
	start := time.Now()
	task, err := d.Tasks.GetTask(ctx, userID, taskID)
	metrics.ObserveStore(time.Since(start))
	if errors.Is(err, domain.ErrNotFound) {
		metrics.SetErrorStage("idempotency")
		return c.JSON(http.StatusConflict, messageResponse{Message: "Idempotency-Key was already used"})
	}
	if err != nil {
		return writeTaskError(c, metrics, "storage", err)
	}
	metrics.SetTasksReturned(1)
	return c.JSON(http.StatusCreated, toTaskResponse(task))
}

func patchTask(d Deps) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := startTaskRequest(c, d.Logger, routeTask, "update")
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		userID, ok := authenticate(c, d.Auth, metrics)
		if !ok {
			return unauthorized(c)
		}

		var req patchTaskRequest
		if decodeErr := decodeBody(c, &req); decodeErr != nil {
			return invalidBody(c, metrics, decodeErr)
		}
		patch, patchErr := req.patch()
		if patchErr != nil {
			return writeTaskError(c, metrics, "validate", patchErr)
		}

		start := time.Now()
		task, storeErr := d.Tasks.UpdateTask(ctx, userID, c.Param("id"), patch)
		metrics.ObserveStore(time.Since(start))
		if storeErr != nil {
			return writeTaskError(c, metrics, "storage", storeErr)
		}

		if !patch.Empty() {
			d.Events.Emit(userID, domain.TaskUpdated, task.ID, &task)
		}
		metrics.SetTasksReturned(1)
		return c.JSON(http.StatusOK, toTaskResponse(task))
	}
}

func deleteTask(d Deps) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := startTaskRequest(c, d.Logger, routeTask, "delete")
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		userID, ok := authenticate(c, d.Auth, metrics)
		if !ok {
			return unauthorized(c)
		}

		id := c.Param("id")
		start := time.Now()
		storeErr := d.Tasks.DeleteTask(ctx, userID, id)
		metrics.ObserveStore(time.Since(start))
		if storeErr != nil {
			return writeTaskError(c, metrics, "storage", storeErr)
		}

		d.Events.Emit(userID, domain.TaskDeleted, id, nil)
		return c.JSON(http.StatusOK, messageResponse{Message: "Task deleted"})
	}
}
