package queue

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/caseproof/evidence-backend/internal/domain/errors"
)

// Task is one unit of work. The context passed in is the submitter's; a
// cancelled context before the task starts skips the work entirely.
type Task func(ctx context.Context) (interface{}, error)

// Future resolves when its task finishes.
type Future struct {
	done  chan struct{}
	value interface{}
	err   error
}

// Wait blocks until the task finishes or the context is cancelled. The
// task itself keeps running after a cancelled Wait; only the waiter gives
// up.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, errors.NewDeadlineExceededError("waiting for queued task").WithCause(ctx.Err())
	}
}

// Done exposes the completion channel for select loops.
func (f *Future) Done() <-chan struct{} { return f.done }

type job struct {
	ctx    context.Context
	task   Task
	future *Future
}

// Queue is a bounded FIFO worker pool. Submit rejects when the buffer is
// full rather than blocking the caller, so upstream backpressure surfaces
// as a retryable error instead of goroutine pileup.
type Queue struct {
	jobs    chan job
	wg      sync.WaitGroup
	logger  *zap.Logger
	mu      sync.Mutex
	closed  bool
	workers int
}

// New creates a queue with the given worker count and buffer depth and
// starts the workers.
func New(workers, depth int, logger *zap.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = workers * 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &Queue{
		jobs:    make(chan job, depth),
		logger:  logger,
		workers: workers,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	return q
}

// Workers reports the pool size.
func (q *Queue) Workers() int { return q.workers }

// Submit enqueues a task and returns its future. A full queue returns a
// retryable DependencyUnavailable error.
func (q *Queue) Submit(ctx context.Context, task Task) (*Future, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, errors.NewDependencyUnavailableError("task queue is shut down")
	}
	q.mu.Unlock()

	f := &Future{done: make(chan struct{})}
	select {
	case q.jobs <- job{ctx: ctx, task: task, future: f}:
		return f, nil
	default:
		return nil, errors.NewDependencyUnavailableError("task queue is full")
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for j := range q.jobs {
		q.run(id, j)
	}
}

func (q *Queue) run(workerID int, j job) {
	defer func() {
		if r := recover(); r != nil {
			j.future.err = errors.NewInternalError("task panicked").
				WithCause(fmt.Errorf("panic: %v", r))
			q.logger.Error("queued task panicked",
				zap.Int("worker", workerID),
				zap.Any("panic", r))
			close(j.future.done)
		}
	}()

	if err := j.ctx.Err(); err != nil {
		j.future.err = errors.NewDeadlineExceededError("task cancelled before start").WithCause(err)
		close(j.future.done)
		return
	}

	value, err := j.task(j.ctx)
	j.future.value = value
	j.future.err = err
	close(j.future.done)
}

// Shutdown stops accepting work, runs what was already queued, and waits
// for the workers to drain or the context to expire.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
