package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

func TestNewTaskDefaults(t *testing.T) {
	now := time.Date(2026, time.March, 3, 10, 0, 0, 0, time.FixedZone("x", 3600))
	task, err := NewTask("t1", "user-1", NewTaskInput{Title: "  Buy milk  "}, now)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.Title != "Buy milk" {
		t.Fatalf("expected trimmed title, got %q", task.Title)
	}
	if task.Completed {
		t.Fatalf("expected new task to be incomplete")
	}
	if task.Priority != DefaultPriority {
		t.Fatalf("expected default priority %s, got %s", DefaultPriority, task.Priority)
	}
	if task.Description != "" {
		t.Fatalf("expected empty description, got %q", task.Description)
	}
	if task.ID != "t1" || task.OwnerID != "user-1" {
		t.Fatalf("unexpected identity: %#v", task)
	}
	if !task.CreatedAt.Equal(now) || task.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC creation time, got %v", task.CreatedAt)
	}
	if task.UpdatedAt != task.CreatedAt {
		t.Fatalf("expected updatedAt to equal createdAt, got %v", task.UpdatedAt)
	}
}

func TestTouched(t *testing.T) {
	created := time.Date(2026, time.March, 3, 10, 0, 0, 0, time.UTC)
	task := Task{ID: "t1", CreatedAt: created, UpdatedAt: created}

	later := created.Add(time.Hour).In(time.FixedZone("x", 7200))
	if got := task.Touched(later); !got.UpdatedAt.Equal(later) || got.UpdatedAt.Location() != time.UTC {
		t.Fatalf("unexpected updatedAt %v", got.UpdatedAt)
	}
	if got := task.Touched(created.Add(-time.Minute)); !got.UpdatedAt.Equal(created) {
		t.Fatalf("updatedAt moved before createdAt: %v", got.UpdatedAt)
	}
	if !task.UpdatedAt.Equal(created) {
		t.Fatalf("Touched modified the receiver")
	}
}

func TestNewTaskRequiresTitle(t *testing.T) {
	for _, title := range []string{"", "   ", "\t\n"} {
		_, err := NewTask("t1", "u", NewTaskInput{Title: title}, time.Now())
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "title" {
			t.Fatalf("title %q: expected title validation error, got %v", title, err)
		}
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		ok      bool
		wantErr bool
	}{
		{in: "Low", want: PriorityLow, ok: true},
		{in: "low", want: PriorityLow, ok: true},
		{in: " MEDIUM ", want: PriorityMedium, ok: true},
		{in: "hIgH", want: PriorityHigh, ok: true},
		{in: "", ok: false},
		{in: "  ", ok: false},
		{in: "urgent", wantErr: true},
		{in: "2", wantErr: true},
	}
	for _, tt := range tests {
		got, ok, err := ParsePriority(tt.in)
		if tt.wantErr {
			if !IsValidation(err) {
				t.Fatalf("ParsePriority(%q): expected validation error, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParsePriority(%q): unexpected error %v", tt.in, err)
		}
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ParsePriority(%q) = %q/%v, want %q/%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNewTaskRejectsUnknownPriority(t *testing.T) {
	_, err := NewTask("t1", "u", NewTaskInput{Title: "a", Priority: "critical"}, time.Now())
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestApplyPatch(t *testing.T) {
	base := Task{ID: "t1", OwnerID: "u1", Title: "old", Priority: PriorityLow, CreatedAt: time.Unix(10, 0)}
	title := " new "
	desc := "details"
	high := PriorityHigh
	done := true

	got, err := base.Apply(Patch{Title: &title, Description: &desc, Priority: &high, Completed: &done})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.Title != "new" || got.Description != "details" || got.Priority != PriorityHigh || !got.Completed {
		t.Fatalf("unexpected patched task: %#v", got)
	}
	if got.ID != base.ID || got.OwnerID != base.OwnerID || !got.CreatedAt.Equal(base.CreatedAt) {
		t.Fatalf("identity fields changed: %#v", got)
	}
	if base.Title != "old" {
		t.Fatalf("apply mutated the receiver")
	}
}

func TestApplyPatchRejectsBlankTitle(t *testing.T) {
	blank := "  "
	base := Task{ID: "t1", Title: "keep"}
	got, err := base.Apply(Patch{Title: &blank})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got.Title != "keep" {
		t.Fatalf("expected task unchanged on error, got %#v", got)
	}
}

func TestPatchEmpty(t *testing.T) {
	if !(Patch{}).Empty() {
		t.Fatalf("zero patch should be empty")
	}
	done := false
	if (Patch{Completed: &done}).Empty() {
		t.Fatalf("patch with completed should not be empty")
	}
}

func TestStatusMapping(t *testing.T) {
	if StatusFor(true) != StatusComplete || StatusFor(false) != StatusIncomplete {
		t.Fatalf("unexpected status mapping")
	}
	for _, completed := range []bool{true, false} {
		got, err := ParseStatus(string(StatusFor(completed)))
		if err != nil || got != completed {
			t.Fatalf("round trip for %v: got %v err %v", completed, got, err)
		}
	}
	if _, err := ParseStatus("done"); !IsValidation(err) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}

func TestParseStatusFilter(t *testing.T) {
	cases := map[string]StatusFilter{
		"complete":   FilterComplete,
		"Incomplete": FilterIncomplete,
		"":           FilterAll,
		"all":        FilterAll,
		"bogus":      FilterAll,
	}
	for in, want := range cases {
		if got := ParseStatusFilter(in); got != want {
			t.Fatalf("ParseStatusFilter(%q) = %v, want %v", in, got, want)
		}
	}
	done := Task{Completed: true}
	open := Task{}
	if !FilterComplete.Match(done) || FilterComplete.Match(open) {
		t.Fatalf("complete filter mismatch")
	}
	if FilterIncomplete.Match(done) || !FilterIncomplete.Match(open) {
		t.Fatalf("incomplete filter mismatch")
	}
	if !FilterAll.Match(done) || !FilterAll.Match(open) {
		t.Fatalf("all filter mismatch")
	}
}

func TestUserMarshalOmitsPasswordHash(t *testing.T) {
	payload, err := sonic.Marshal(User{ID: "u1", Email: "a@b.c", PasswordHash: "secret-hash"})
	if err != nil {
		t.Fatalf("marshal user: %v", err)
	}
	if strings.Contains(string(payload), "secret-hash") {
		t.Fatalf("password hash leaked: %s", payload)
	}
}
