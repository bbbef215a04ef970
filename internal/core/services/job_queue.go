package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/manthysbr/socialpilot/internal/core/domain"
	"golang.org/x/sync/semaphore"
)

var ErrQueueFull = errors.New("scheduling queue full")

// QueueConfig defines concurrency limits
type QueueConfig struct {
	MaxConcurrentJobs int64
	Capacity          int
}

// QueueItem is one unit handed to a worker.
type QueueItem struct {
	JobID         domain.JobID
	CorrelationID string
	RunAt         *time.Time
}

type queueEntry struct {
	item    QueueItem
	timer   *time.Timer
	cancel  context.CancelFunc
	aborted bool
}

// JobQueue is the single global queue drained by a bounded worker pool.
// Deferred items wait on a timer and join the queue when due.
type JobQueue struct {
	logger    *slog.Logger
	pending   chan string
	semaphore *semaphore.Weighted
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*queueEntry
	dropped func(QueueItem, error)

	workers sync.WaitGroup
}

func NewJobQueue(logger *slog.Logger, cfg QueueConfig) *JobQueue {
	limit := cfg.MaxConcurrentJobs
	if limit <= 0 {
		limit = 10
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 100
	}

	return &JobQueue{
		logger:    logger,
		pending:   make(chan string, capacity),
		semaphore: semaphore.NewWeighted(limit),
		now:       time.Now,
		entries:   make(map[string]*queueEntry),
	}
}

// Submit adds an item and returns its correlation id. Items with a future
// RunAt are held until due.
func (q *JobQueue) Submit(item QueueItem) (string, error) {
	if item.CorrelationID == "" {
		item.CorrelationID = uuid.NewString()
	}
	id := item.CorrelationID
	entry := &queueEntry{item: item}

	q.mu.Lock()
	q.entries[id] = entry
	if item.RunAt != nil {
		if wait := item.RunAt.Sub(q.now()); wait > 0 {
			entry.timer = time.AfterFunc(wait, func() { q.release(id) })
			q.mu.Unlock()
			q.logger.Info("job deferred", "job_id", item.JobID, "run_at", item.RunAt)
			return id, nil
		}
	}
	q.mu.Unlock()

	if err := q.push(id); err != nil {
		return "", err
	}
	q.logger.Info("job submitted", "job_id", item.JobID)
	return id, nil
}

func (q *JobQueue) push(id string) error {
	select {
	case q.pending <- id:
		return nil
	default:
		q.mu.Lock()
		delete(q.entries, id)
		q.mu.Unlock()
		return ErrQueueFull
	}
}

// OnDropped registers fn for deferred items that come due while the queue is
// full. Submit reports the same failure to its caller directly.
func (q *JobQueue) OnDropped(fn func(QueueItem, error)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dropped = fn
}

// release moves a due deferred item onto the queue.
func (q *JobQueue) release(id string) {
	q.mu.Lock()
	entry, ok := q.entries[id]
	if !ok || entry.aborted {
		q.mu.Unlock()
		return
	}
	entry.timer = nil
	dropped := q.dropped
	q.mu.Unlock()

	if err := q.push(id); err != nil {
		q.logger.Error("failed to release deferred job", "job_id", entry.item.JobID, "error", err)
		if dropped != nil {
			dropped(entry.item, err)
		}
	}
}

// Abort drops a waiting item or cancels a running one. It reports whether the
// correlation id was known. A unit already mid-flight may still finish.
func (q *JobQueue) Abort(correlationID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[correlationID]
	if !ok {
		return false
	}
	entry.aborted = true
	if entry.timer != nil {
		entry.timer.Stop()
		delete(q.entries, correlationID)
	}
	if entry.cancel != nil {
		entry.cancel()
	}
	return true
}

// Pending is the number of items known to the queue, waiting or running.
func (q *JobQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Start consumes items and executes them using the provided handler. It
// returns at once; Wait blocks until the queue has stopped and drained.
func (q *JobQueue) Start(ctx context.Context, handler func(context.Context, QueueItem)) {
	q.logger.Info("starting job queue")

	q.workers.Add(1)
	go func() {
		defer q.workers.Done()
		for {
			select {
			case <-ctx.Done():
				q.logger.Info("stopping job queue")
				return
			case id := <-q.pending:
				if err := q.semaphore.Acquire(ctx, 1); err != nil {
					q.logger.Error("failed to acquire semaphore", "error", err)
					return
				}

				q.mu.Lock()
				entry, ok := q.entries[id]
				if !ok || entry.aborted {
					delete(q.entries, id)
					q.mu.Unlock()
					q.semaphore.Release(1)
					continue
				}
				runCtx, cancel := context.WithCancel(ctx)
				entry.cancel = cancel
				q.mu.Unlock()

				q.workers.Add(1)
				go func(item QueueItem) {
					defer q.workers.Done()
					defer func() {
						cancel()
						q.mu.Lock()
						delete(q.entries, item.CorrelationID)
						q.mu.Unlock()
						q.semaphore.Release(1)
					}()
					handler(runCtx, item)
				}(entry.item)
			}
		}
	}()
}

// Wait blocks until the consumer loop has exited and every running handler
// has returned.
func (q *JobQueue) Wait() {
	q.workers.Wait()
}
