package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/ingest/internal/domain/bulk"
	"github.com/erp/ingest/internal/infrastructure/cache"
	"github.com/erp/ingest/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestQueue(t *testing.T, cfg QueueConfig, h Handler) (*JobQueue, *cache.InMemoryJobStatusStore) {
	t.Helper()
	store := cache.NewInMemoryJobStatusStore(time.Hour)
	t.Cleanup(func() { _ = store.Close() })

	q, err := NewJobQueue(cfg, h, store, zap.NewNop())
	require.NoError(t, err)
	return q, store
}

func waitForState(t *testing.T, store *cache.InMemoryJobStatusStore, jobID string, state bulk.JobState) bulk.JobStatus {
	t.Helper()
	var st bulk.JobStatus
	require.Eventually(t, func() bool {
		var err error
		st, err = store.Get(context.Background(), jobID)
		return err == nil && st.State == state
	}, 2*time.Second, 5*time.Millisecond)
	return st
}

func TestQueueConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultQueueConfig().Validate())
	assert.ErrorIs(t, QueueConfig{MaxConcurrentJobs: 0}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, QueueConfig{MaxConcurrentJobs: 1, QueueSize: -1}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, QueueConfig{MaxConcurrentJobs: 1, JobTimeout: -time.Second}.Validate(), ErrInvalidConfig)
}

func TestNewJobQueue_RequiresCollaborators(t *testing.T) {
	store := cache.NewInMemoryJobStatusStore(time.Hour)
	defer store.Close()

	_, err := NewJobQueue(DefaultQueueConfig(), nil, store, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewJobQueue(DefaultQueueConfig(), HandlerFunc(func(context.Context, Job, ProgressFunc) error { return nil }), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestJobQueue_Lifecycle(t *testing.T) {
	var gotJobID string
	handler := HandlerFunc(func(ctx context.Context, job Job, progress ProgressFunc) error {
		gotJobID = logger.GetJobID(ctx)
		progress(ctx, 50)
		return nil
	})
	q, store := newTestQueue(t, QueueConfig{MaxConcurrentJobs: 1, QueueSize: 4}, handler)

	ctx := context.Background()
	assert.ErrorIs(t, q.Submit(ctx, "bulk:1", nil), ErrQueueNotRunning)

	require.NoError(t, q.Start(ctx))
	require.NoError(t, q.Start(ctx), "second start is a no-op")
	assert.ErrorIs(t, q.Submit(ctx, "", nil), ErrJobIDRequired)

	require.NoError(t, q.Submit(ctx, "bulk:1", map[string]any{"type": "PRODUCT_CATALOG"}))
	st := waitForState(t, store, "bulk:1", bulk.JobCompleted)

	assert.True(t, st.Exists)
	assert.Equal(t, 100, st.Progress, "completion reports full progress")
	assert.Equal(t, "PRODUCT_CATALOG", st.Data["type"])
	assert.NotNil(t, st.ProcessedOn)
	assert.NotNil(t, st.FinishedOn)

	require.NoError(t, q.Stop(ctx))
	require.NoError(t, q.Stop(ctx), "second stop is a no-op")
	assert.Equal(t, "bulk:1", gotJobID)
	assert.ErrorIs(t, q.Submit(ctx, "bulk:2", nil), ErrQueueNotRunning)
}

func TestJobQueue_FailuresAreRecorded(t *testing.T) {
	handler := HandlerFunc(func(_ context.Context, job Job, _ ProgressFunc) error {
		switch job.ID {
		case "err":
			return errors.New("file unreadable")
		case "panic":
			panic("boom")
		}
		return nil
	})
	q, store := newTestQueue(t, QueueConfig{MaxConcurrentJobs: 2, QueueSize: 4}, handler)

	ctx := context.Background()
	require.NoError(t, q.Start(ctx))
	defer q.Stop(ctx)

	require.NoError(t, q.Submit(ctx, "err", nil))
	require.NoError(t, q.Submit(ctx, "panic", nil))

	st := waitForState(t, store, "err", bulk.JobFailed)
	assert.Equal(t, "file unreadable", st.FailedReason)

	st = waitForState(t, store, "panic", bulk.JobFailed)
	assert.Contains(t, st.FailedReason, "boom")
}

func TestJobQueue_Timeout(t *testing.T) {
	handler := HandlerFunc(func(ctx context.Context, _ Job, _ ProgressFunc) error {
		<-ctx.Done()
		return ctx.Err()
	})
	q, store := newTestQueue(t, QueueConfig{MaxConcurrentJobs: 1, QueueSize: 1, JobTimeout: 20 * time.Millisecond}, handler)

	ctx := context.Background()
	require.NoError(t, q.Start(ctx))
	defer q.Stop(ctx)

	require.NoError(t, q.Submit(ctx, "slow", nil))
	st := waitForState(t, store, "slow", bulk.JobFailed)
	assert.Equal(t, context.DeadlineExceeded.Error(), st.FailedReason)
}

func TestJobQueue_Full(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	handler := HandlerFunc(func(context.Context, Job, ProgressFunc) error {
		started <- struct{}{}
		<-release
		return nil
	})
	q, store := newTestQueue(t, QueueConfig{MaxConcurrentJobs: 1, QueueSize: 1}, handler)

	ctx := context.Background()
	require.NoError(t, q.Start(ctx))

	require.NoError(t, q.Submit(ctx, "a", nil))
	<-started
	require.NoError(t, q.Submit(ctx, "b", nil))
	assert.ErrorIs(t, q.Submit(ctx, "c", nil), ErrJobQueueFull)

	st, err := store.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, bulk.JobFailed, st.State)

	stats := q.Stats()
	assert.True(t, stats.Running)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Queued)

	close(release)
	require.NoError(t, q.Stop(ctx))
	waitForState(t, store, "b", bulk.JobCompleted)
}

func TestJobQueue_StopDrainsQueue(t *testing.T) {
	var done atomic.Int32
	handler := HandlerFunc(func(context.Context, Job, ProgressFunc) error {
		time.Sleep(5 * time.Millisecond)
		done.Add(1)
		return nil
	})
	q, _ := newTestQueue(t, QueueConfig{MaxConcurrentJobs: 2, QueueSize: 10}, handler)

	ctx := context.Background()
	require.NoError(t, q.Start(ctx))
	for _, id := range []string{"1", "2", "3", "4", "5", "6"} {
		require.NoError(t, q.Submit(ctx, id, nil))
	}
	require.NoError(t, q.Stop(ctx))
	assert.Equal(t, int32(6), done.Load())
}

func TestJobQueue_StopTimeoutCancelsJobs(t *testing.T) {
	var cancelled atomic.Bool
	started := make(chan struct{})
	var once sync.Once
	handler := HandlerFunc(func(ctx context.Context, _ Job, _ ProgressFunc) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	q, _ := newTestQueue(t, QueueConfig{MaxConcurrentJobs: 1, QueueSize: 1}, handler)

	require.NoError(t, q.Start(context.Background()))
	require.NoError(t, q.Submit(context.Background(), "stuck", nil))
	<-started

	stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Stop(stopCtx), context.DeadlineExceeded)
	assert.True(t, cancelled.Load())
}

func TestJobQueue_ProgressWhileActive(t *testing.T) {
	release := make(chan struct{})
	handler := HandlerFunc(func(ctx context.Context, _ Job, progress ProgressFunc) error {
		progress(ctx, 40)
		<-release
		return nil
	})
	q, store := newTestQueue(t, QueueConfig{MaxConcurrentJobs: 1, QueueSize: 1}, handler)

	ctx := context.Background()
	require.NoError(t, q.Start(ctx))
	require.NoError(t, q.Submit(ctx, "bulk:p", nil))

	require.Eventually(t, func() bool {
		st, _ := store.Get(ctx, "bulk:p")
		return st.State == bulk.JobActive && st.Progress == 40
	}, 2*time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, q.Stop(ctx))
}

func TestJobQueue_RejectsDuplicateJobID(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var runs atomic.Int32
	handler := HandlerFunc(func(context.Context, Job, ProgressFunc) error {
		runs.Add(1)
		started <- struct{}{}
		<-release
		return nil
	})
	q, store := newTestQueue(t, QueueConfig{MaxConcurrentJobs: 2, QueueSize: 4}, handler)

	ctx := context.Background()
	require.NoError(t, q.Start(ctx))
	defer q.Stop(ctx)

	require.NoError(t, q.Submit(ctx, "bulk:dup", nil))
	<-started
	assert.ErrorIs(t, q.Submit(ctx, "bulk:dup", nil), ErrJobAlreadyQueued)

	close(release)
	waitForState(t, store, "bulk:dup", bulk.JobCompleted)
	assert.Equal(t, int32(1), runs.Load())

	// a finished job id can be submitted again
	require.Eventually(t, func() bool {
		return q.Submit(ctx, "bulk:dup", nil) == nil
	}, 2*time.Second, 5*time.Millisecond)
	<-started
	waitForState(t, store, "bulk:dup", bulk.JobCompleted)
	assert.Equal(t, int32(2), runs.Load())
}

func TestJobQueue_CancelledAndSkippedJobs(t *testing.T) {
	handler := HandlerFunc(func(_ context.Context, job Job, _ ProgressFunc) error {
		switch job.ID {
		case "cancelled":
			return fmt.Errorf("request stopped: %w", ErrJobCancelled)
		case "skipped":
			return ErrJobSkipped
		}
		return nil
	})
	q, store := newTestQueue(t, QueueConfig{MaxConcurrentJobs: 1, QueueSize: 4}, handler)

	ctx := context.Background()
	require.NoError(t, q.Start(ctx))
	require.NoError(t, q.Submit(ctx, "cancelled", nil))
	require.NoError(t, q.Submit(ctx, "skipped", nil))
	require.NoError(t, q.Stop(ctx))

	st, err := store.Get(ctx, "cancelled")
	require.NoError(t, err)
	assert.Equal(t, bulk.JobFailed, st.State)
	assert.Equal(t, CancelledReason, st.FailedReason)

	st, err = store.Get(ctx, "skipped")
	require.NoError(t, err)
	assert.Equal(t, bulk.JobActive, st.State, "a skipped job leaves the status to its owner")
}
