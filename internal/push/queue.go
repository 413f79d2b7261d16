package push

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Job is one queued dispatch.
type Job struct {
	UserID   int64
	Category Category
	Payload  Payload
}

// Deliverer runs a dispatch. *Dispatcher implements it.
type Deliverer interface {
	Dispatch(ctx context.Context, userID int64, category Category, payload Payload) Result
}

// QueueStats is a point-in-time view of the queue.
type QueueStats struct {
	Accepted int64 `json:"accepted"`
	Dropped  int64 `json:"dropped"`
	InFlight int64 `json:"inFlight"`
	Pending  int   `json:"pending"`
}

// Queue hands dispatches off the request path to a fixed pool of workers.
type Queue struct {
	jobs      chan Job
	deliverer Deliverer
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	accepted atomic.Int64
	dropped  atomic.Int64
	inFlight atomic.Int64
}

// NewQueue starts workers draining a buffer of size jobs.
func NewQueue(deliverer Deliverer, size, workers int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 1024
	}
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		jobs:      make(chan Job, size),
		deliverer: deliverer,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

// Enqueue schedules job without blocking. It returns false if the queue is
// full or shut down; the job is then dropped.
func (q *Queue) Enqueue(job Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.dropped.Add(1)
		return false
	}
	select {
	case q.jobs <- job:
		q.accepted.Add(1)
		return true
	default:
		q.dropped.Add(1)
		q.logger.Warn("notification queue full, dropping job",
			slog.Int64("user_id", job.UserID),
			slog.String("category", string(job.Category)))
		return false
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish. If ctx
// ends first, in-flight deliveries are cancelled and ctx.Err is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats reports counters since start.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Accepted: q.accepted.Load(),
		Dropped:  q.dropped.Load(),
		InFlight: q.inFlight.Load(),
		Pending:  len(q.jobs),
	}
}

func (q *Queue) work() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.inFlight.Add(1)
		q.deliverer.Dispatch(q.ctx, job.UserID, job.Category, job.Payload)
		q.inFlight.Add(-1)
	}
}
