package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/chillingspace/CSD2161-A4/internal/metrics"
)

// ErrPoolFull is returned by Submit when the pending queue is at capacity
var ErrPoolFull = errors.New("task pool full")

// Task is a unit of background work such as a reliable delivery barrier
type Task func(ctx context.Context) error

type namedTask struct {
	name string
	fn   Task
}

// TaskPool runs submitted tasks in the background with bounded queueing and
// bounded concurrency
type TaskPool struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	queue    chan namedTask
	limit    int
	running  atomic.Int64
	finished atomic.Uint64
	failed   atomic.Uint64
}

// NewTaskPool creates a pool that queues up to maxPending tasks and runs up to
// maxConcurrent of them at once
func NewTaskPool(logger *slog.Logger, m *metrics.Metrics, maxPending, maxConcurrent int) *TaskPool {
	return &TaskPool{
		logger:  logger,
		metrics: m,
		queue:   make(chan namedTask, maxPending),
		limit:   maxConcurrent,
	}
}

// Submit queues a task without blocking
func (p *TaskPool) Submit(name string, fn Task) error {
	select {
	case p.queue <- namedTask{name: name, fn: fn}:
		p.metrics.RecordTaskSubmitted(true)
		return nil
	default:
		p.metrics.RecordTaskSubmitted(false)
		return fmt.Errorf("%w: %d tasks pending", ErrPoolFull, cap(p.queue))
	}
}

// Run drains the queue until ctx is cancelled, then waits for the running
// tasks. Tasks still queued at that point are dropped.
func (p *TaskPool) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(p.limit)

	for {
		select {
		case <-ctx.Done():
			g.Wait()
			if dropped := len(p.queue); dropped > 0 {
				p.logger.Warn("Dropping queued tasks on shutdown", slog.Int("dropped", dropped))
			}
			return nil
		case task := <-p.queue:
			g.Go(func() error {
				p.execute(ctx, task)
				return nil
			})
		}
	}
}

// execute runs a single task, logging its error or panic
func (p *TaskPool) execute(ctx context.Context, task namedTask) {
	p.running.Add(1)
	defer p.running.Add(-1)
	defer p.finished.Add(1)

	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.metrics.RecordTaskFailure("panic")
			p.logger.Error("Task panicked",
				slog.String("task", task.name),
				slog.Any("panic", r),
			)
		}
	}()

	if err := task.fn(ctx); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			p.logger.Debug("Task cancelled", slog.String("task", task.name))
			return
		}
		p.failed.Add(1)
		p.metrics.RecordTaskFailure("error")
		p.logger.Error("Task failed",
			slog.String("task", task.name),
			slog.String("error", err.Error()),
		)
	}
}

// TaskPoolStatistics is a point-in-time view of the pool
type TaskPoolStatistics struct {
	Pending  int    `json:"pending"`
	Capacity int    `json:"capacity"`
	Running  int64  `json:"running"`
	Finished uint64 `json:"finished"`
	Failed   uint64 `json:"failed"`
}

// Statistics returns the pool's counters
func (p *TaskPool) Statistics() TaskPoolStatistics {
	return TaskPoolStatistics{
		Pending:  len(p.queue),
		Capacity: cap(p.queue),
		Running:  p.running.Load(),
		Finished: p.finished.Load(),
		Failed:   p.failed.Load(),
	}
}
