// Package serial provides a strictly ordered, unbounded task queue.
//
// Each Queue runs its tasks one at a time in enqueue order on a worker
// goroutine that exists only while work is pending. A task that fails or
// panics is logged and the queue moves on to the next one.
package serial

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mathieu-neron/owo-counter/internal/metrics"
)

// Task is a unit of queued work.
type Task func(ctx context.Context) error

// Queue is a FIFO of tasks executed sequentially.
type Queue struct {
	name string
	ctx  context.Context
	log  zerolog.Logger

	mu     sync.Mutex
	tasks  []Task
	closed bool
	// idle is nil while no worker runs, else closed when the worker exits.
	idle chan struct{}
}

// New creates a queue. Tasks receive ctx; name labels logs and metrics.
func New(ctx context.Context, name string, log zerolog.Logger) *Queue {
	return &Queue{
		name:  name,
		ctx:   ctx,
		log:   log.With().Str("queue", name).Logger(),
		tasks: make([]Task, 0, 16),
	}
}

// Enqueue appends task. It returns false once the queue is closed.
func (q *Queue) Enqueue(task Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, task)
	if q.idle == nil {
		q.idle = make(chan struct{})
		go q.run(q.idle)
	}
	return true
}

// Wait blocks until the queue has no pending or running task. Tasks
// enqueued while waiting are waited for as well.
func (q *Queue) Wait() {
	for {
		q.mu.Lock()
		idle := q.idle
		q.mu.Unlock()
		if idle == nil {
			return
		}
		<-idle
	}
}

// Close stops accepting tasks and waits for pending ones to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.Wait()
}

func (q *Queue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *Queue) run(idle chan struct{}) {
	defer close(idle)
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.idle = nil
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		q.execute(task)
	}
}

func (q *Queue) execute(task Task) {
	start := time.Now()
	defer func() {
		metrics.QueueTaskDuration.WithLabelValues(q.name).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			q.log.Error().Err(fmt.Errorf("panic: %v", r)).Msg("queued task panicked")
		}
	}()

	if err := task(q.ctx); err != nil {
		q.log.Error().Err(err).Msg("queued task failed")
	}
}
