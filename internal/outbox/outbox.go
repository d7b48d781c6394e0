// Package outbox runs post-commit side effects (email, archival) off the
// request path. Task failures are logged and counted, never returned.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"auditdesk.io/internal/obs"
)

const (
	defaultWorkers     = 4
	defaultBuffer      = 256
	defaultTaskTimeout = 30 * time.Second
)

// Task is one queued side effect.
type Task struct {
	Kind string
	Run  func(ctx context.Context) error
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers sets the number of draining goroutines.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithBuffer sets the channel capacity.
func WithBuffer(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.buffer = n
		}
	}
}

// WithTaskTimeout bounds each task's context.
func WithTaskTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// Queue is a bounded in-process worker pool. When the buffer is full or the
// queue is closed, Enqueue runs the task inline so nothing is dropped.
type Queue struct {
	workers int
	buffer  int
	timeout time.Duration

	tasks chan Task
	group *errgroup.Group

	mu     sync.RWMutex
	closed bool
}

// New starts the workers. They run until Close.
func New(opts ...Option) *Queue {
	q := &Queue{
		workers: defaultWorkers,
		buffer:  defaultBuffer,
		timeout: defaultTaskTimeout,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.tasks = make(chan Task, q.buffer)
	q.group = &errgroup.Group{}
	for i := 0; i < q.workers; i++ {
		q.group.Go(func() error {
			for task := range q.tasks {
				q.execute(task)
			}
			return nil
		})
	}
	return q
}

// Enqueue schedules fn. It never blocks on a full queue.
func (q *Queue) Enqueue(kind string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	task := Task{Kind: kind, Run: fn}

	q.mu.RLock()
	if !q.closed {
		select {
		case q.tasks <- task:
			q.mu.RUnlock()
			return
		default:
		}
	}
	q.mu.RUnlock()

	obs.Logger().Warn("outbox saturated, running task inline", "kind", kind)
	q.execute(task)
}

// Close stops accepting tasks and waits for queued ones to finish or for ctx
// to expire.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- q.group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("outbox drain: %w", ctx.Err())
	}
}

func (q *Queue) execute(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	Run(ctx, task)
}

// Run executes task under ctx, recovering panics and recording the outcome.
func Run(ctx context.Context, task Task) {
	start := time.Now()
	err := safeRun(ctx, task.Run)
	result := "ok"
	if err != nil {
		result = "error"
		obs.Logger().Error("outbox task failed",
			"kind", task.Kind,
			"error", err.Error(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	obs.ObserveOutbox(task.Kind, result)
}

func safeRun(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	err = fn(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("task timed out: %w", err)
	}
	return err
}

// Inline runs every task synchronously on the caller's goroutine.
type Inline struct{}

func (Inline) Enqueue(kind string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	Run(context.Background(), Task{Kind: kind, Run: fn})
}
