// Package client talks to the task API and keeps an optimistic local view of
// a user's tasks.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"task-tracker/domain"
)

const (
	defaultTimeout  = 15 * time.Second
	maxResponseSize = 1 << 20
)

// API is the subset of the task API the reconciler depends on.
type API interface {
	List(ctx context.Context, filter domain.StatusFilter) ([]domain.Task, error)
	Create(ctx context.Context, in domain.NewTaskInput, idempotencyKey string) (domain.Task, error)
	Update(ctx context.Context, id string, patch domain.Patch) (domain.Task, error)
	Delete(ctx context.Context, id string) error
}

// Session mirrors the register and login responses.
type Session struct {
	User  domain.User `json:"user"`
	Token string      `json:"token"`
}

// HTTPClient calls the task API over HTTP with a bearer token.
type HTTPClient struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// Option customises an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.http = hc }
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *HTTPClient) { c.token = token }
}

// NewHTTPClient creates a client for the API rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token, e.g. after login.
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *HTTPClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type createBody struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

type credentialsBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type meBody struct {
	User domain.User `json:"user"`
}

type messageBody struct {
	Message string `json:"message"`
}

// Register creates an account and stores the returned token.
func (c *HTTPClient) Register(ctx context.Context, email, password string) (Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", credentialsBody{Email: email, Password: password}, nil, &s); err != nil {
		return Session{}, err
	}
	c.SetToken(s.Token)
	return s, nil
}

// Login exchanges credentials for a token and stores it.
func (c *HTTPClient) Login(ctx context.Context, email, password string) (Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", credentialsBody{Email: email, Password: password}, nil, &s); err != nil {
		return Session{}, err
	}
	c.SetToken(s.Token)
	return s, nil
}

// Me returns the account behind the current token.
func (c *HTTPClient) Me(ctx context.Context) (domain.User, error) {
	var out meBody
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, nil, &out); err != nil {
		return domain.User{}, err
	}
	return out.User, nil
}

// List fetches the caller's tasks, newest first.
func (c *HTTPClient) List(ctx context.Context, filter domain.StatusFilter) ([]domain.Task, error) {
	path := "/api/tasks"
	if s := filter.String(); s != "" {
		path += "?status=" + url.QueryEscape(s)
	}
	tasks := make([]domain.Task, 0)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Get fetches a single task.
func (c *HTTPClient) Get(ctx context.Context, id string) (domain.Task, error) {
	var t domain.Task
	if err := c.do(ctx, http.MethodGet, taskPath(id), nil, nil, &t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Create adds a task. A non-empty idempotencyKey lets the caller retry safely.
func (c *HTTPClient) Create(ctx context.Context, in domain.NewTaskInput, idempotencyKey string) (domain.Task, error) {
	var headers http.Header
	if idempotencyKey != "" {
		headers = http.Header{"Idempotency-Key": []string{idempotencyKey}}
	}
	var t domain.Task
	body := createBody{Title: in.Title, Description: in.Description, Priority: in.Priority}
	if err := c.do(ctx, http.MethodPost, "/api/tasks", body, headers, &t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Update sends the patch and returns the task as stored by the server.
func (c *HTTPClient) Update(ctx context.Context, id string, patch domain.Patch) (domain.Task, error) {
	var t domain.Task
	if err := c.do(ctx, http.MethodPatch, taskPath(id), patch, nil, &t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Delete removes a task.
func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, taskPath(id), nil, nil, nil)
}

func taskPath(id string) string {
	return "/api/tasks/" + url.PathEscape(id)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, headers http.Header, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header[k] = v
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.TransientNetworkError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &domain.TransientNetworkError{Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(payload) == 0 {
			return nil
		}
		if err := sonic.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return statusError(resp.StatusCode, payload)
}

// statusError maps an API failure onto the domain error taxonomy.
func statusError(status int, payload []byte) error {
	var msg messageBody
	_ = sonic.Unmarshal(payload, &msg)
	if msg.Message == "" {
		msg.Message = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized:
		if msg.Message == "Invalid email or password" {
			return domain.ErrInvalidCredentials
		}
		return domain.ErrUnauthorized
	case status == http.StatusNotFound:
		return domain.ErrNotFound
	case status == http.StatusBadRequest:
		return &domain.ValidationError{Message: msg.Message}
	case status == http.StatusConflict:
		return fmt.Errorf("%s: %w", msg.Message, domain.ErrConflict)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return &domain.TransientNetworkError{Err: fmt.Errorf("server returned %d: %s", status, msg.Message)}
	default:
		return fmt.Errorf("unexpected status %d: %s", status, msg.Message)
	}
}

// IsTransient reports whether err is a network or server side failure.
func IsTransient(err error) bool {
	var te *domain.TransientNetworkError
	return errors.As(err, &te)
}
