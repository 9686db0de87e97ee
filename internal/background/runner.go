// Package background runs work after the HTTP response has been sent.
package background

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Func is a unit of background work.
type Func func(ctx context.Context) error

// Task is a named Func.
type Task struct {
	ID   string
	Name string
	Fn   Func
}

// Scheduler accepts background work.
type Scheduler interface {
	Schedule(ctx context.Context, name string, fn Func)
}

// Runner executes tasks on a fixed pool of workers. Each task runs once,
// with no timeout and no retry; failures are logged.
type Runner struct {
	logger *slog.Logger
	queue  chan Task

	// ctx is handed to tasks and cancelled when Close gives up waiting.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewRunner starts workers goroutines reading from a queue of queueSize.
func NewRunner(workers, queueSize int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 4
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		logger: logger,
		queue:  make(chan Task, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	r.wg.Add(workers)
	for range workers {
		go r.worker()
	}
	logger.Debug("background runner started", "workers", workers, "queue_size", queueSize)
	return r
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for task := range r.queue {
		r.run(task)
	}
}

func (r *Runner) run(task Task) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		return task.Fn(r.ctx)
	}()
	if err != nil {
		r.logger.Error("background task failed", "task", task.Name, "task_id", task.ID, "error", err)
		return
	}
	r.logger.Debug("background task done", "task", task.Name, "task_id", task.ID,
		"elapsed", time.Since(start).Round(time.Millisecond))
}

// Submit queues fn. It blocks while the queue is full. After Close it
// runs nothing and logs a warning.
func (r *Runner) Submit(name string, fn Func) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("background task dropped, runner closed", "task", name)
		return
	}
	r.queue <- Task{ID: uuid.NewString(), Name: name, Fn: fn}
}

// Schedule defers fn to the end of the request when ctx carries a
// Deferred list, and submits it immediately otherwise.
func (r *Runner) Schedule(ctx context.Context, name string, fn Func) {
	if d := FromContext(ctx); d != nil {
		d.Add(name, fn)
		return
	}
	r.Submit(name, fn)
}

// Close stops accepting tasks and waits for queued ones to finish. If
// ctx ends first, running tasks see their context cancelled and Close
// returns ctx's error.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		r.logger.Info("background runner stopped")
		return nil
	case <-ctx.Done():
		r.cancel()
		r.logger.Warn("background runner stop timed out", "pending", len(r.queue))
		return ctx.Err()
	}
}
