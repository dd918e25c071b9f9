package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/melvsalonga/affiliate-hub-sub002/internal/metrics"
	"go.uber.org/zap"
)

// maxDeadLetters bounds the in-process dead-letter buffer.
const maxDeadLetters = 1000

// Task is one unit of background tracking work.
type Task interface {
	// Name labels the task in logs and metrics ("click", "archive", ...).
	Name() string
	Run(ctx context.Context) error
}

// Queue is a bounded submit-and-return task queue. Submit never blocks:
// when the buffer is full the task is dropped and counted, keeping the
// redirect hot path free of backpressure. Failed tasks are retried with
// exponential backoff and land in a dead-letter buffer when retries run out.
type Queue struct {
	tasks      chan Task
	workers    int
	maxRetries int
	backoff    time.Duration
	metrics    *metrics.Metrics
	logger     *zap.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once

	mu   sync.Mutex
	dead []Task
}

// QueueOptions configures a Queue.
type QueueOptions struct {
	Size       int
	Workers    int
	MaxRetries int
	Backoff    time.Duration
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// NewQueue creates a queue; call Start to launch the workers.
func NewQueue(opts QueueOptions) *Queue {
	return &Queue{
		tasks:      make(chan Task, opts.Size),
		workers:    opts.Workers,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}
}

// Start launches the worker goroutines. ctx cancels in-flight task runs;
// the workers themselves exit when Stop closes the queue.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	q.logger.Info("tracking queue started",
		zap.Int("workers", q.workers),
		zap.Int("capacity", cap(q.tasks)))
}

// Stop drains the queue and waits for the workers to finish. Safe to
// call more than once; later calls are no-ops.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.tasks)
		q.wg.Wait()
		q.logger.Info("tracking queue stopped")
	})
}

// Submit enqueues a task without blocking. Returns false when the queue
// is full and the task was dropped.
func (q *Queue) Submit(task Task) bool {
	select {
	case q.tasks <- task:
		if q.metrics != nil {
			q.metrics.TrackingQueueSize.Set(float64(len(q.tasks)))
		}
		return true
	default:
		if q.metrics != nil {
			q.metrics.RecordTrackingDrop(task.Name(), "overflow")
		}
		q.logger.Warn("tracking queue overflow, task dropped", zap.String("task", task.Name()))
		return false
	}
}

// DeadLetters returns a snapshot of tasks that exhausted their retries.
func (q *Queue) DeadLetters() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, len(q.dead))
	copy(out, q.dead)
	return out
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for task := range q.tasks {
		if q.metrics != nil {
			q.metrics.TrackingQueueSize.Set(float64(len(q.tasks)))
		}
		q.process(ctx, task)
	}
}

func (q *Queue) process(ctx context.Context, task Task) {
	var err error
	for attempt := 0; attempt <= q.maxRetries; attempt++ {
		if attempt > 0 {
			if q.metrics != nil {
				q.metrics.RecordTrackingRetry(task.Name())
			}
			select {
			case <-ctx.Done():
				q.deadLetter(task, ctx.Err())
				return
			case <-time.After(q.backoff * time.Duration(1<<(attempt-1))):
			}
		}
		if err = task.Run(ctx); err == nil {
			return
		}
		q.logger.Warn("tracking task failed",
			zap.String("task", task.Name()),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	q.deadLetter(task, err)
}

func (q *Queue) deadLetter(task Task, err error) {
	if q.metrics != nil {
		q.metrics.RecordTrackingDrop(task.Name(), "dead_letter")
	}
	q.logger.Error("tracking task dead-lettered",
		zap.String("task", task.Name()), zap.Error(err))
	q.mu.Lock()
	if len(q.dead) < maxDeadLetters {
		q.dead = append(q.dead, task)
	}
	q.mu.Unlock()
}
