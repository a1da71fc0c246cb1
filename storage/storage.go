// Package storage persists tasks and users. Two backends are provided: Azure
// Table Storage for deployments and SQLite for local use and tests. Both
// scope every task operation by owner so that a foreign task is reported
// exactly like a missing one.
package storage

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"task-tracker/domain"
)

// clock and id sources shared by the backends; tests replace them.
type sources struct {
	now   func() time.Time
	newID func() string
}

func defaultSources() sources {
	return sources{now: time.Now, newID: uuid.NewString}
}

// sortNewestFirst orders tasks by creation time descending, breaking ties by
// id so listings are stable.
func sortNewestFirst(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID > tasks[j].ID
	})
}

func filterTasks(tasks []domain.Task, f domain.StatusFilter) []domain.Task {
	if f == domain.FilterAll {
		return tasks
	}
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}
