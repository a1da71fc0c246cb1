package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"task-tracker/domain"
	"task-tracker/storage/migrations"
)

func openTempStore(t *testing.T) *SQLite {
	t.Helper()

	store, err := OpenSQLite(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

// fixedSources yields sequential ids and a clock advancing one second per call.
func fixedSources() sources {
	base := time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC)
	var n int
	var ids int
	return sources{
		now: func() time.Time {
			n++
			return base.Add(time.Duration(n) * time.Second)
		},
		newID: func() string {
			ids++
			return fmt.Sprintf("task-%03d", ids)
		},
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := OpenSQLite(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestOpenSQLiteIsRepeatable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tasks.db")
	first, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	second, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	_ = second.Close()
}

func TestSQLiteCreateDefaults(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	store.src = fixedSources()
	ctx := context.Background()

	task, err := store.CreateTask(ctx, "alice", domain.NewTaskInput{Title: "Buy milk", Priority: "low"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ID != "task-001" || task.OwnerID != "alice" {
		t.Fatalf("unexpected identity: %#v", task)
	}
	if task.Completed || task.Priority != domain.PriorityLow || task.CreatedAt.IsZero() {
		t.Fatalf("unexpected defaults: %#v", task)
	}

	got, err := store.GetTask(ctx, "alice", task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != task {
		t.Fatalf("stored task mismatch:\n got %#v\nwant %#v", got, task)
	}
}

func TestSQLiteCreateRejectsBlankTitle(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	_, err := store.CreateTask(context.Background(), "alice", domain.NewTaskInput{Title: "  "})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	tasks, err := store.ListTasks(context.Background(), "alice", domain.FilterAll)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected nothing stored, got %d tasks", len(tasks))
	}
}

func TestSQLiteListOrderAndFilter(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	store.src = fixedSources()
	ctx := context.Background()

	var ids []string
	for _, title := range []string{"first", "second", "third"} {
		task, err := store.CreateTask(ctx, "alice", domain.NewTaskInput{Title: title})
		if err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
		ids = append(ids, task.ID)
	}
	done := true
	if _, err := store.UpdateTask(ctx, "alice", ids[1], domain.Patch{Completed: &done}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	all, err := store.ListTasks(ctx, "alice", domain.FilterAll)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].Title != "third" || all[2].Title != "first" {
		t.Fatalf("expected newest first, got %#v", all)
	}

	complete, err := store.ListTasks(ctx, "alice", domain.FilterComplete)
	if err != nil {
		t.Fatalf("list complete: %v", err)
	}
	if len(complete) != 1 || complete[0].ID != ids[1] {
		t.Fatalf("unexpected complete tasks: %#v", complete)
	}

	incomplete, err := store.ListTasks(ctx, "alice", domain.FilterIncomplete)
	if err != nil {
		t.Fatalf("list incomplete: %v", err)
	}
	if len(incomplete) != 2 || incomplete[0].Title != "third" || incomplete[1].Title != "first" {
		t.Fatalf("unexpected incomplete tasks: %#v", incomplete)
	}
}

func TestSQLiteOwnershipIsolation(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	task, err := store.CreateTask(ctx, "alice", domain.NewTaskInput{Title: "private"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tasks, err := store.ListTasks(ctx, "bob", domain.FilterAll)
	if err != nil {
		t.Fatalf("list as bob: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("bob can see alice's tasks: %#v", tasks)
	}
	if _, err := store.GetTask(ctx, "bob", task.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on foreign get, got %v", err)
	}
	title := "hijacked"
	if _, err := store.UpdateTask(ctx, "bob", task.ID, domain.Patch{Title: &title}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on foreign update, got %v", err)
	}
	if err := store.DeleteTask(ctx, "bob", task.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on foreign delete, got %v", err)
	}

	got, err := store.GetTask(ctx, "alice", task.ID)
	if err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if got.Title != "private" {
		t.Fatalf("foreign update leaked through: %#v", got)
	}
}

func TestSQLiteToggleRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	orig, err := store.CreateTask(ctx, "alice", domain.NewTaskInput{Title: "toggle me", Priority: "High"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	flip := func(cur domain.Task) domain.Task {
		next := !cur.Completed
		updated, err := store.UpdateTask(ctx, "alice", cur.ID, domain.Patch{Completed: &next})
		if err != nil {
			t.Fatalf("toggle: %v", err)
		}
		return updated
	}
	once := flip(orig)
	if !once.Completed {
		t.Fatalf("expected completed after first toggle")
	}
	twice := flip(once)
	twice.UpdatedAt = orig.UpdatedAt
	if twice != orig {
		t.Fatalf("double toggle changed task:\n got %#v\nwant %#v", twice, orig)
	}
	stored, err := store.GetTask(ctx, "alice", orig.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	stored.UpdatedAt = orig.UpdatedAt
	if stored != orig {
		t.Fatalf("stored state differs from initial: %#v", stored)
	}
}

func TestSQLiteUpdateAdvancesUpdatedAt(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	store.src = fixedSources()
	ctx := context.Background()

	task, err := store.CreateTask(ctx, "alice", domain.NewTaskInput{Title: "stamp me"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !task.UpdatedAt.Equal(task.CreatedAt) {
		t.Fatalf("new task updatedAt %v, want createdAt %v", task.UpdatedAt, task.CreatedAt)
	}

	done := true
	updated, err := store.UpdateTask(ctx, "alice", task.ID, domain.Patch{Completed: &done})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.UpdatedAt.After(task.UpdatedAt) {
		t.Fatalf("updatedAt %v did not advance past %v", updated.UpdatedAt, task.UpdatedAt)
	}
	if !updated.CreatedAt.Equal(task.CreatedAt) {
		t.Fatalf("createdAt changed: %v", updated.CreatedAt)
	}

	stored, err := store.GetTask(ctx, "alice", task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stored.UpdatedAt.Equal(updated.UpdatedAt) {
		t.Fatalf("stored updatedAt %v, want %v", stored.UpdatedAt, updated.UpdatedAt)
	}

	same, err := store.UpdateTask(ctx, "alice", task.ID, domain.Patch{})
	if err != nil {
		t.Fatalf("empty patch: %v", err)
	}
	if !same.UpdatedAt.Equal(updated.UpdatedAt) {
		t.Fatalf("empty patch moved updatedAt to %v", same.UpdatedAt)
	}
}

func TestSQLiteUpdateValidation(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	task, err := store.CreateTask(ctx, "alice", domain.NewTaskInput{Title: "keep"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	blank := " "
	if _, err := store.UpdateTask(ctx, "alice", task.ID, domain.Patch{Title: &blank}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	bad := domain.Priority("Urgent")
	if _, err := store.UpdateTask(ctx, "alice", task.ID, domain.Patch{Priority: &bad}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for priority, got %v", err)
	}

	same, err := store.UpdateTask(ctx, "alice", task.ID, domain.Patch{})
	if err != nil {
		t.Fatalf("empty patch: %v", err)
	}
	if same != task {
		t.Fatalf("empty patch changed task: %#v", same)
	}

	if _, err := store.UpdateTask(ctx, "alice", "missing", domain.Patch{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for missing id, got %v", err)
	}
}

func TestSQLiteDeleteIsNotIdempotent(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	task, err := store.CreateTask(ctx, "alice", domain.NewTaskInput{Title: "gone soon"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.DeleteTask(ctx, "alice", task.ID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := store.DeleteTask(ctx, "alice", task.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	tasks, err := store.ListTasks(ctx, "alice", domain.FilterAll)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("deleted task still listed: %#v", tasks)
	}
}

func TestSQLiteUsers(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	u := domain.User{ID: "u1", Email: "a@example.com", PasswordHash: "hash", CreatedAt: time.Unix(1700000000, 0).UTC()}

	if err := store.CreateUser(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	dup := u
	dup.ID = "u2"
	if err := store.CreateUser(ctx, dup); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on duplicate email, got %v", err)
	}

	byEmail, err := store.UserByEmail(ctx, u.Email)
	if err != nil {
		t.Fatalf("by email: %v", err)
	}
	if byEmail != u {
		t.Fatalf("unexpected user: %#v", byEmail)
	}
	byID, err := store.UserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if byID != u {
		t.Fatalf("unexpected user: %#v", byID)
	}
	if _, err := store.UserByEmail(ctx, "nobody@example.com"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSQLiteUpgradeBackfillsUpdatedAt(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tasks.db")
	initial, err := fs.ReadFile(migrations.FS, "001_init.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := applyMigrations(db, fstest.MapFS{"001_init.sql": {Data: initial}}); err != nil {
		t.Fatalf("initial schema: %v", err)
	}
	created := time.Date(2025, time.December, 1, 8, 0, 0, 0, time.UTC)
	_, err = db.Exec("INSERT INTO tasks (id, owner_id, title, description, priority, status, created_at) VALUES (?, ?, ?, '', 'Low', 'incomplete', ?)",
		"old-1", "alice", "from before", created.UnixNano())
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	got, err := store.GetTask(context.Background(), "alice", "old-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.UpdatedAt.Equal(created) {
		t.Fatalf("updatedAt %v, want %v", got.UpdatedAt, created)
	}
}
