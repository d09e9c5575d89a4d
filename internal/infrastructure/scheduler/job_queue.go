// Package scheduler runs background work: a bounded worker pool for queued
// jobs and fixed-interval periodic tasks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erp/ingest/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// Job is one unit of queued work
type Job struct {
	ID          string
	Payload     map[string]any
	SubmittedAt time.Time
}

// ProgressFunc reports job progress as a percentage
type ProgressFunc func(ctx context.Context, percent int)

// Handler executes queued jobs. A returned error marks the job failed, except
// ErrJobCancelled (failed with CancelledReason) and ErrJobSkipped (left as is).
type Handler interface {
	Handle(ctx context.Context, job Job, progress ProgressFunc) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, job Job, progress ProgressFunc) error

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, job Job, progress ProgressFunc) error {
	return f(ctx, job, progress)
}

// StatusRecorder receives job lifecycle transitions. bulk.JobStatusStore
// satisfies it.
type StatusRecorder interface {
	MarkWaiting(ctx context.Context, jobID string, data map[string]any) error
	MarkActive(ctx context.Context, jobID string) error
	SetProgress(ctx context.Context, jobID string, progress int) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID, reason string) error
}

// QueueConfig holds worker pool configuration
type QueueConfig struct {
	MaxConcurrentJobs int
	QueueSize         int
	JobTimeout        time.Duration // zero disables the per-job deadline
}

// DefaultQueueConfig returns default worker pool configuration
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxConcurrentJobs: 4,
		QueueSize:         100,
		JobTimeout:        30 * time.Minute,
	}
}

// Validate checks the configuration
func (c QueueConfig) Validate() error {
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("%w: max concurrent jobs must be positive", ErrInvalidConfig)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("%w: queue size cannot be negative", ErrInvalidConfig)
	}
	if c.JobTimeout < 0 {
		return fmt.Errorf("%w: job timeout cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// QueueStats is a point-in-time view of the pool
type QueueStats struct {
	Running bool `json:"running"`
	Queued  int  `json:"queued"`
	Active  int  `json:"active"`
	Workers int  `json:"workers"`
}

// JobQueue is a buffered-channel worker pool. Each job runs end to end on a
// single worker goroutine.
type JobQueue struct {
	config  QueueConfig
	handler Handler
	status  StatusRecorder
	logger  *zap.Logger

	jobs      chan Job
	inFlight  map[string]struct{} // waiting or running job ids
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	active    atomic.Int32
}

// NewJobQueue creates a stopped queue
func NewJobQueue(config QueueConfig, handler Handler, status StatusRecorder, log *zap.Logger) (*JobQueue, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: handler is required", ErrInvalidConfig)
	}
	if status == nil {
		return nil, fmt.Errorf("%w: status recorder is required", ErrInvalidConfig)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &JobQueue{
		config:  config,
		handler: handler,
		status:  status,
		logger:  log,

		inFlight: make(map[string]struct{}),
	}, nil
}

// Start launches the workers. Calling Start on a running queue is a no-op.
func (q *JobQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isRunning {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.jobs = make(chan Job, q.config.QueueSize)
	q.inFlight = make(map[string]struct{})
	q.isRunning = true

	for i := 0; i < q.config.MaxConcurrentJobs; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i, q.jobs)
	}

	q.logger.Info("Job queue started",
		zap.Int("workers", q.config.MaxConcurrentJobs),
		zap.Int("queue_size", q.config.QueueSize),
		zap.Duration("job_timeout", q.config.JobTimeout),
	)
	return nil
}

// Stop stops intake, lets the workers drain the queue and waits for them.
// When ctx expires first, running jobs are cancelled and ctx.Err is returned.
func (q *JobQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	close(q.jobs)
	cancel := q.cancel
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		q.logger.Info("Job queue stopped gracefully")
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		q.logger.Warn("Job queue stop timed out, running jobs were cancelled")
		return ctx.Err()
	}
}

// Submit enqueues a job without blocking. The job is recorded as waiting
// before it becomes visible to workers. A job id already waiting or running
// on this queue is rejected with ErrJobAlreadyQueued.
func (q *JobQueue) Submit(ctx context.Context, jobID string, payload map[string]any) error {
	if jobID == "" {
		return ErrJobIDRequired
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.isRunning {
		return ErrQueueNotRunning
	}
	if _, ok := q.inFlight[jobID]; ok {
		return ErrJobAlreadyQueued
	}

	if err := q.status.MarkWaiting(ctx, jobID, payload); err != nil {
		return fmt.Errorf("record waiting job: %w", err)
	}

	job := Job{ID: jobID, Payload: payload, SubmittedAt: time.Now()}
	select {
	case q.jobs <- job:
		q.inFlight[jobID] = struct{}{}
		q.logger.Debug("Job submitted", zap.String("job_id", jobID))
		return nil
	default:
		if err := q.status.MarkFailed(ctx, jobID, ErrJobQueueFull.Error()); err != nil {
			q.logger.Warn("Failed to record rejected job", zap.String("job_id", jobID), zap.Error(err))
		}
		return ErrJobQueueFull
	}
}

// Stats returns a snapshot of the pool
func (q *JobQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := QueueStats{
		Running: q.isRunning,
		Active:  int(q.active.Load()),
		Workers: q.config.MaxConcurrentJobs,
	}
	if q.jobs != nil {
		stats.Queued = len(q.jobs)
	}
	return stats
}

func (q *JobQueue) worker(ctx context.Context, workerID int, jobs <-chan Job) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			q.processJob(ctx, job, workerID)
		}
	}
}

func (q *JobQueue) processJob(ctx context.Context, job Job, workerID int) {
	q.active.Add(1)
	defer q.active.Add(-1)
	defer q.release(job.ID)

	// status writes must land even after the job context is done
	statusCtx := context.WithoutCancel(ctx)
	log := q.logger.With(zap.String("job_id", job.ID), zap.Int("worker_id", workerID))

	if err := q.status.MarkActive(statusCtx, job.ID); err != nil {
		log.Warn("Failed to mark job active", zap.Error(err))
	}

	jobCtx := ctx
	if q.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, q.config.JobTimeout)
		defer cancel()
	}
	jobCtx = logger.WithContext(logger.WithJobID(jobCtx, job.ID), log)

	progress := func(_ context.Context, percent int) {
		if err := q.status.SetProgress(statusCtx, job.ID, percent); err != nil {
			log.Debug("Failed to record job progress", zap.Error(err))
		}
	}

	start := time.Now()
	err := q.run(jobCtx, job, progress)
	switch {
	case err == nil:
		log.Info("Job completed", zap.Duration("duration", time.Since(start)))
		if serr := q.status.MarkCompleted(statusCtx, job.ID); serr != nil {
			log.Warn("Failed to mark job completed", zap.Error(serr))
		}
	case errors.Is(err, ErrJobSkipped):
		log.Info("Job skipped", zap.Error(err))
	case errors.Is(err, ErrJobCancelled):
		log.Info("Job cancelled", zap.Duration("duration", time.Since(start)))
		if serr := q.status.MarkFailed(statusCtx, job.ID, CancelledReason); serr != nil {
			log.Warn("Failed to mark job cancelled", zap.Error(serr))
		}
	default:
		log.Error("Job failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		if serr := q.status.MarkFailed(statusCtx, job.ID, err.Error()); serr != nil {
			log.Warn("Failed to mark job failed", zap.Error(serr))
		}
	}
}

func (q *JobQueue) release(jobID string) {
	q.mu.Lock()
	delete(q.inFlight, jobID)
	q.mu.Unlock()
}

// run invokes the handler and turns a panic into an error
func (q *JobQueue) run(ctx context.Context, job Job, progress ProgressFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return q.handler.Handle(ctx, job, progress)
}
