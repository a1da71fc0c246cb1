package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"task-tracker/domain"
)

var (
	// ErrMutationInFlight rejects a second change to a task whose previous
	// change has not been answered yet.
	ErrMutationInFlight = errors.New("a change to this task is already in progress")
	// ErrNotCached is returned for ids missing from the local list.
	ErrNotCached = errors.New("task is not in the local list")
)

// MutationError reports a failed mutation. The local list has already been
// restored when it is returned.
type MutationError struct {
	Op     string
	TaskID string
	Err    error
}

func (e *MutationError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("%s task: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s task %s: %v", e.Op, e.TaskID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// Notice is a user facing message about a failed operation.
type Notice struct {
	Op      string
	TaskID  string
	Message string
	Err     error
}

// ReconcilerOption customises a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithRemovalDelay waits d after hiding a task before the delete is sent.
func WithRemovalDelay(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.removalDelay = d }
}

// OnError registers a callback for failure notices. It is called without
// any lock held.
func OnError(fn func(Notice)) ReconcilerOption {
	return func(r *Reconciler) { r.onNotice = fn }
}

// Reconciler applies task mutations to a local list and reconciles them with
// the API. At most one mutation per task id is outstanding; further attempts
// fail with ErrMutationInFlight rather than queueing.
type Reconciler struct {
	api          API
	removalDelay time.Duration
	onNotice     func(Notice)
	newKey       func() string

	mu       sync.Mutex
	cache    taskCache
	filter   domain.StatusFilter
	inFlight map[string]struct{}
	// gen counts local mutation steps; touched holds the gen of the last
	// step per task id. Both only matter while a Refresh is outstanding.
	gen        uint64
	touched    map[string]uint64
	refreshing int
}

// NewReconciler creates a Reconciler with an empty list.
func NewReconciler(api API, opts ...ReconcilerOption) *Reconciler {
	if api == nil {
		panic("client.NewReconciler: api is nil")
	}
	r := &Reconciler{
		api:      api,
		newKey:   uuid.NewString,
		inFlight: map[string]struct{}{},
		touched:  map[string]uint64{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tasks returns the visible list, newest first.
func (r *Reconciler) Tasks() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.visible()
}

// Entry returns the cached entry for id, including hidden ones.
func (r *Reconciler) Entry(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.get(id)
}

// Filter returns the filter of the last successful Refresh.
func (r *Reconciler) Filter() domain.StatusFilter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter
}

// Refresh replaces the list with the server's view. Entries mutated locally
// since the fetch started, or still in flight, keep their local state; a
// task removed locally in that window stays removed.
func (r *Reconciler) Refresh(ctx context.Context, filter domain.StatusFilter) error {
	r.mu.Lock()
	since := r.gen
	r.refreshing++
	r.mu.Unlock()

	tasks, err := r.api.List(ctx, filter)
	if err != nil {
		r.mu.Lock()
		r.endRefresh()
		r.mu.Unlock()
		r.notify(Notice{Op: "refresh", Message: noticeMessage("refresh", err), Err: err})
		return fmt.Errorf("refresh tasks: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.endRefresh()

	changed := func(id string) bool {
		_, busy := r.inFlight[id]
		return busy || r.touched[id] > since
	}
	// keep reports whether the local entry for a changed id survives.
	keep := func(id string) (Entry, bool) {
		local, ok := r.cache.get(id)
		if !ok {
			return Entry{}, false
		}
		if _, busy := r.inFlight[id]; busy {
			return local, true
		}
		return local, filter.Match(local.Task)
	}

	next := taskCache{entries: make([]Entry, 0, len(tasks))}
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		seen[t.ID] = struct{}{}
		if !changed(t.ID) {
			next.entries = append(next.entries, Entry{Task: t})
			continue
		}
		if local, ok := keep(t.ID); ok {
			next.entries = append(next.entries, local)
		}
	}
	for _, local := range r.cache.entries {
		id := local.Task.ID
		if _, ok := seen[id]; ok || !changed(id) {
			continue
		}
		if e, ok := keep(id); ok {
			next.insertByAge(e)
		}
	}
	r.cache = next
	r.filter = filter
	return nil
}

// endRefresh forgets mutation stamps once no Refresh can still need them.
// Callers hold r.mu.
func (r *Reconciler) endRefresh() {
	r.refreshing--
	if r.refreshing == 0 {
		clear(r.touched)
	}
}

// touch stamps id with a fresh mutation generation. Callers hold r.mu.
func (r *Reconciler) touch(id string) {
	r.gen++
	if r.refreshing > 0 {
		r.touched[id] = r.gen
	}
}

// begin marks id as in flight and applies mark to its entry.
func (r *Reconciler) begin(id string, mark func(*Entry)) (prev Entry, pos int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inFlight[id]; busy {
		return Entry{}, -1, ErrMutationInFlight
	}
	pos = r.cache.index(id)
	if pos < 0 {
		return Entry{}, -1, ErrNotCached
	}
	prev = r.cache.entries[pos]
	next := prev
	next.IsProcessing = true
	mark(&next)
	r.cache.entries[pos] = next
	r.inFlight[id] = struct{}{}
	r.touch(id)
	return prev, pos, nil
}

// confirm stores the server's task and drops it when it no longer matches
// the current filter. Callers hold r.mu.
func (r *Reconciler) confirm(task domain.Task) {
	if !r.filter.Match(task) {
		r.cache.remove(task.ID)
		return
	}
	r.cache.put(Entry{Task: task, State: StateConfirmed})
}

// Toggle flips completion optimistically and rolls back on failure.
func (r *Reconciler) Toggle(ctx context.Context, id string) (domain.Task, error) {
	prev, _, err := r.begin(id, func(e *Entry) {
		e.Task.Completed = !e.Task.Completed
		e.State = StateOptimistic
	})
	if err != nil {
		return domain.Task{}, err
	}

	completed := !prev.Task.Completed
	task, err := r.api.Update(context.WithoutCancel(ctx), id, domain.Patch{Completed: &completed})

	r.mu.Lock()
	delete(r.inFlight, id)
	r.touch(id)
	if err != nil {
		restored := prev
		restored.IsProcessing = false
		restored.State = StateRolledBack
		r.cache.put(restored)
		r.mu.Unlock()
		return domain.Task{}, r.fail("toggle", id, err)
	}
	r.confirm(task)
	r.mu.Unlock()
	return task, nil
}

// Edit sends patch and updates the list only once the server accepts it.
func (r *Reconciler) Edit(ctx context.Context, id string, patch domain.Patch) (domain.Task, error) {
	if err := patch.Validate(); err != nil {
		return domain.Task{}, err
	}
	prev, _, err := r.begin(id, func(*Entry) {})
	if err != nil {
		return domain.Task{}, err
	}

	task, err := r.api.Update(context.WithoutCancel(ctx), id, patch)

	r.mu.Lock()
	delete(r.inFlight, id)
	r.touch(id)
	if err != nil {
		prev.IsProcessing = false
		r.cache.put(prev)
		r.mu.Unlock()
		return domain.Task{}, r.fail("edit", id, err)
	}
	r.confirm(task)
	r.mu.Unlock()
	return task, nil
}

// Delete hides the task, sends the delete and restores the task at its
// original position when the server refuses.
func (r *Reconciler) Delete(ctx context.Context, id string) error {
	prev, pos, err := r.begin(id, func(e *Entry) {
		e.IsPendingRemoval = true
		e.State = StateOptimistic
	})
	if err != nil {
		return err
	}

	if r.removalDelay > 0 {
		t := time.NewTimer(r.removalDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			r.mu.Lock()
			delete(r.inFlight, id)
			r.touch(id)
			prev.IsProcessing = false
			r.restore(prev, pos)
			r.mu.Unlock()
			return ctx.Err()
		}
	}

	err = r.api.Delete(context.WithoutCancel(ctx), id)

	r.mu.Lock()
	delete(r.inFlight, id)
	r.touch(id)
	if err != nil {
		restored := prev
		restored.IsProcessing = false
		restored.State = StateRolledBack
		r.restore(restored, pos)
		r.mu.Unlock()
		return r.fail("delete", id, err)
	}
	r.cache.remove(id)
	r.mu.Unlock()
	return nil
}

// restore puts e back, at pos when a refresh has dropped it meanwhile.
// Callers hold r.mu.
func (r *Reconciler) restore(e Entry, pos int) {
	if r.cache.put(e) {
		return
	}
	r.cache.insertAt(pos, e)
}

// Create adds a task once the server has stored it. The same idempotency
// key is never reused across calls.
func (r *Reconciler) Create(ctx context.Context, in domain.NewTaskInput) (domain.Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return domain.Task{}, &domain.ValidationError{Field: "title", Message: "Title is required"}
	}
	task, err := r.api.Create(context.WithoutCancel(ctx), in, r.newKey())
	if err != nil {
		return domain.Task{}, r.fail("create", "", err)
	}

	r.mu.Lock()
	if r.filter.Match(task) && r.cache.index(task.ID) < 0 {
		r.cache.insertAt(0, Entry{Task: task, State: StateConfirmed})
	}
	r.touch(task.ID)
	r.mu.Unlock()
	return task, nil
}

func (r *Reconciler) notify(n Notice) {
	if r.onNotice != nil {
		r.onNotice(n)
	}
}

func (r *Reconciler) fail(op, id string, err error) error {
	r.notify(Notice{Op: op, TaskID: id, Message: noticeMessage(op, err), Err: err})
	return &MutationError{Op: op, TaskID: id, Err: err}
}

func noticeMessage(op string, err error) string {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Message
	case errors.Is(err, domain.ErrUnauthorized):
		return "Your session has expired. Please log in again."
	case errors.Is(err, domain.ErrNotFound):
		return "That task no longer exists."
	case IsTransient(err):
		if op == "refresh" {
			return "Could not reach the server."
		}
		return "Could not reach the server. Your change was undone."
	default:
		return fmt.Sprintf("Could not %s the task.", op)
	}
}
