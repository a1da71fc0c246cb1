package client

import "task-tracker/domain"

// MutationState tracks the last mutation attempt on a cached task.
type MutationState int

const (
	StateIdle MutationState = iota
	StateOptimistic
	StateConfirmed
	StateRolledBack
)

func (s MutationState) String() string {
	switch s {
	case StateOptimistic:
		return "optimistic"
	case StateConfirmed:
		return "confirmed"
	case StateRolledBack:
		return "rolled-back"
	default:
		return "idle"
	}
}

// Entry is a cached task plus its local display state.
type Entry struct {
	Task domain.Task
	// IsProcessing is set while a request for this task is outstanding.
	IsProcessing bool
	// IsPendingRemoval hides the entry while its delete is outstanding.
	IsPendingRemoval bool
	State            MutationState
}

// taskCache is the ordered local list. It is not safe for concurrent use;
// the Reconciler guards it.
type taskCache struct {
	entries []Entry
}

func (c *taskCache) index(id string) int {
	for i := range c.entries {
		if c.entries[i].Task.ID == id {
			return i
		}
	}
	return -1
}

func (c *taskCache) get(id string) (Entry, bool) {
	if i := c.index(id); i >= 0 {
		return c.entries[i], true
	}
	return Entry{}, false
}

// put replaces the entry with the same id and reports whether one existed.
func (c *taskCache) put(e Entry) bool {
	i := c.index(e.Task.ID)
	if i < 0 {
		return false
	}
	c.entries[i] = e
	return true
}

// insertAt places e at position i, clamped to the list bounds.
func (c *taskCache) insertAt(i int, e Entry) {
	if i < 0 {
		i = 0
	}
	if i > len(c.entries) {
		i = len(c.entries)
	}
	c.entries = append(c.entries, Entry{})
	copy(c.entries[i+1:], c.entries[i:])
	c.entries[i] = e
}

// insertByAge keeps the newest first order when adding e.
func (c *taskCache) insertByAge(e Entry) {
	i := 0
	for i < len(c.entries) && !c.entries[i].Task.CreatedAt.Before(e.Task.CreatedAt) {
		i++
	}
	c.insertAt(i, e)
}

func (c *taskCache) remove(id string) bool {
	i := c.index(id)
	if i < 0 {
		return false
	}
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	return true
}

// visible returns a copy of the entries not hidden by a pending removal.
func (c *taskCache) visible() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		if !e.IsPendingRemoval {
			out = append(out, e)
		}
	}
	return out
}
