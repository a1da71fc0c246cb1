package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"task-tracker/domain"
)

const (
	defaultEventWorkers = 4
	defaultEventBuffer  = 256
	publishTimeout      = 10 * time.Second
)

type eventJob struct {
	userID string
	event  domain.TaskEvent
}

// EventDispatcher publishes task events from a fixed set of workers. When the
// buffer is full the event is published inline by the caller. Delivery is
// best effort: failures are logged and never surface to the request.
type EventDispatcher struct {
	pub     EventPublisher
	log     *log.Logger
	timeout time.Duration
	clock   *eventClock

	mu     sync.RWMutex
	closed bool
	jobs   chan eventJob
	wg     sync.WaitGroup
}

// NewEventDispatcher starts workers goroutines draining a buffer of the given size.
func NewEventDispatcher(pub EventPublisher, workers, buffer int, logger *log.Logger) *EventDispatcher {
	if pub == nil {
		panic("api.NewEventDispatcher: publisher is nil")
	}
	if logger == nil {
		panic("api.NewEventDispatcher: logger is nil")
	}
	if workers <= 0 {
		workers = defaultEventWorkers
	}
	if buffer < 0 {
		buffer = defaultEventBuffer
	}
	d := &EventDispatcher{
		pub:     pub,
		log:     logger,
		timeout: publishTimeout,
		clock:   newEventClock(time.Now),
		jobs:    make(chan eventJob, buffer),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("event dispatcher started, workers: %d, buffer: %d", workers, buffer)
	return d
}

func (d *EventDispatcher) worker(id int) {
	defer d.wg.Done()
	for j := range d.jobs {
		if err := d.publish(j); err != nil {
			d.log.Errorf("publish event failed, err: %v, user: %s, type: %s, worker: %d", err, j.userID, j.event.Type, id)
		}
	}
}

func (d *EventDispatcher) publish(j eventJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	return d.pub.PublishEvents(ctx, j.userID, []domain.TaskEvent{j.event})
}

// Emit builds an event for the task and hands it to a worker. A nil
// dispatcher discards the event.
func (d *EventDispatcher) Emit(userID, kind, taskID string, task *domain.Task) {
	if d == nil {
		return
	}
	job := eventJob{
		userID: userID,
		event: domain.TaskEvent{
			ID:        uuid.NewString(),
			Type:      kind,
			TaskID:    taskID,
			Task:      task,
			Timestamp: d.clock.stamp(),
		},
	}
	if d.tryEnqueue(job) {
		return
	}

	d.log.Warn("event buffer saturated; publishing inline")
	if err := d.publish(job); err != nil {
		d.log.Errorf("publish event inline failed, err: %v, user: %s, type: %s", err, userID, kind)
	}
}

func (d *EventDispatcher) tryEnqueue(job eventJob) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.jobs <- job:
		return true
	default:
		return false
	}
}

// Close stops accepting queued events and waits for the workers to drain the
// buffer. Events emitted afterwards are published inline.
func (d *EventDispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
