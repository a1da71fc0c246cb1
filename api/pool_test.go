package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"task-tracker/domain"
)

// blockingPublisher holds every publish until release is closed.
type blockingPublisher struct {
	release chan struct{}
	started chan struct{}

	mu    sync.Mutex
	count int
}

func newBlockingPublisher() *blockingPublisher {
	return &blockingPublisher{release: make(chan struct{}), started: make(chan struct{}, 16)}
}

func (p *blockingPublisher) PublishEvents(ctx context.Context, _ string, events []domain.TaskEvent) error {
	p.started <- struct{}{}
	select {
	case <-p.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.mu.Lock()
	p.count += len(events)
	p.mu.Unlock()
	return nil
}

func (p *blockingPublisher) published() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func TestEventDispatcherDrainsOnClose(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewEventDispatcher(pub, 3, 16, newTestLogger())
	for i := 0; i < 10; i++ {
		d.Emit("alice", domain.TaskUpdated, "t1", nil)
	}
	d.Close()

	_, events := pub.snapshot()
	if len(events) != 10 {
		t.Fatalf("expected 10 events after drain, got %d", len(events))
	}
	seen := map[string]bool{}
	for _, ev := range events {
		if seen[ev.ID] {
			t.Fatalf("duplicate event id %s", ev.ID)
		}
		seen[ev.ID] = true
	}
}

func TestEventDispatcherPublishesInlineWhenSaturated(t *testing.T) {
	pub := newBlockingPublisher()
	d := NewEventDispatcher(pub, 1, 1, newTestLogger())

	// Occupy the only worker, then fill the buffer.
	d.Emit("alice", domain.TaskCreated, "t1", nil)
	select {
	case <-pub.started:
	case <-time.After(time.Second):
		t.Fatalf("worker never picked up the first event")
	}
	d.Emit("alice", domain.TaskCreated, "t2", nil)

	done := make(chan struct{})
	go func() {
		d.Emit("alice", domain.TaskCreated, "t3", nil)
		close(done)
	}()
	select {
	case <-pub.started:
	case <-time.After(time.Second):
		t.Fatalf("saturated emit was not published inline")
	}

	close(pub.release)
	<-done
	d.Close()
	if got := pub.published(); got != 3 {
		t.Fatalf("expected 3 events, got %d", got)
	}
}

func TestEventDispatcherAfterClose(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewEventDispatcher(pub, 1, 1, newTestLogger())
	d.Close()
	d.Close()

	d.Emit("alice", domain.TaskDeleted, "t1", nil)
	if _, events := pub.snapshot(); len(events) != 1 {
		t.Fatalf("expected inline publish after close, got %d events", len(events))
	}
}

func TestNilEventDispatcherIsNoop(t *testing.T) {
	var d *EventDispatcher
	d.Emit("alice", domain.TaskCreated, "t1", nil)
	d.Close()
}

func TestEventClockNeverRepeats(t *testing.T) {
	frozen := time.Unix(1700000000, 0)
	c := newEventClock(func() time.Time { return frozen })
	prev := c.stamp()
	if prev != frozen.UnixNano() {
		t.Fatalf("first stamp %d, want %d", prev, frozen.UnixNano())
	}
	for i := 0; i < 1000; i++ {
		next := c.stamp()
		if next <= prev {
			t.Fatalf("stamp went backwards: %d <= %d", next, prev)
		}
		prev = next
	}
}

func TestEventClockSurvivesStepBack(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := newEventClock(func() time.Time { return now })
	first := c.stamp()
	now = now.Add(-time.Hour)
	if got := c.stamp(); got != first+1 {
		t.Fatalf("stamp after step back %d, want %d", got, first+1)
	}
}

func TestEventClockConcurrentStampsAreUnique(t *testing.T) {
	c := newEventClock(nil)
	const workers, per = 8, 200
	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{}, workers*per)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				ts := c.stamp()
				mu.Lock()
				seen[ts] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != workers*per {
		t.Fatalf("got %d unique stamps, want %d", len(seen), workers*per)
	}
}
