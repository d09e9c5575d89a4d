package cache

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/erp/ingest/internal/domain/bulk"
)

type jobEntry struct {
	status    bulk.JobStatus
	expiresAt time.Time // zero until the job finishes
}

// InMemoryJobStatusStore implements bulk.JobStatusStore with a map.
// Finished jobs are dropped after ttl by a background cleanup loop.
type InMemoryJobStatusStore struct {
	mu        sync.RWMutex
	entries   map[string]*jobEntry
	ttl       time.Duration
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryJobStatusStore creates the store and starts its cleanup loop
func NewInMemoryJobStatusStore(ttl time.Duration) *InMemoryJobStatusStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &InMemoryJobStatusStore{
		entries:  make(map[string]*jobEntry),
		ttl:      ttl,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.cleanupLoop(cleanupInterval(ttl))

	return s
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl < 5*time.Minute {
		return ttl
	}
	return 5 * time.Minute
}

// MarkWaiting registers a newly queued job, replacing any previous entry
func (s *InMemoryJobStatusStore) MarkWaiting(_ context.Context, jobID string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[jobID] = &jobEntry{status: bulk.JobStatus{
		Exists: true,
		State:  bulk.JobWaiting,
		Data:   maps.Clone(data),
	}}
	return nil
}

// MarkActive records that a worker picked the job up
func (s *InMemoryJobStatusStore) MarkActive(_ context.Context, jobID string) error {
	s.update(jobID, func(st *bulk.JobStatus) {
		now := s.now()
		st.State = bulk.JobActive
		st.ProcessedOn = &now
	})
	return nil
}

// SetProgress stores the latest percentage
func (s *InMemoryJobStatusStore) SetProgress(_ context.Context, jobID string, progress int) error {
	s.update(jobID, func(st *bulk.JobStatus) {
		st.Progress = progress
	})
	return nil
}

// MarkCompleted finishes the job successfully
func (s *InMemoryJobStatusStore) MarkCompleted(_ context.Context, jobID string) error {
	s.finish(jobID, bulk.JobCompleted, "")
	return nil
}

// MarkFailed finishes the job with a reason
func (s *InMemoryJobStatusStore) MarkFailed(_ context.Context, jobID string, reason string) error {
	s.finish(jobID, bulk.JobFailed, reason)
	return nil
}

// Get returns a copy of the job status, or Exists=false when unknown or expired
func (s *InMemoryJobStatusStore) Get(_ context.Context, jobID string) (bulk.JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[jobID]
	if !ok || s.expired(e) {
		return bulk.JobStatus{}, nil
	}
	st := e.status
	st.Data = maps.Clone(e.status.Data)
	return st, nil
}

func (s *InMemoryJobStatusStore) finish(jobID string, state bulk.JobState, reason string) {
	s.update(jobID, func(st *bulk.JobStatus) {
		now := s.now()
		st.State = state
		st.FinishedOn = &now
		st.FailedReason = reason
		if state == bulk.JobCompleted {
			st.Progress = 100
		}
	})
}

// update applies fn to an entry, creating it when the waiting mark was lost
func (s *InMemoryJobStatusStore) update(jobID string, fn func(*bulk.JobStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[jobID]
	if !ok {
		e = &jobEntry{status: bulk.JobStatus{Exists: true}}
		s.entries[jobID] = e
	}
	fn(&e.status)
	if e.status.State.IsFinished() {
		e.expiresAt = s.now().Add(s.ttl)
	}
}

func (s *InMemoryJobStatusStore) expired(e *jobEntry) bool {
	return !e.expiresAt.IsZero() && s.now().After(e.expiresAt)
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (s *InMemoryJobStatusStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

func (s *InMemoryJobStatusStore) cleanupLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *InMemoryJobStatusStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for jobID, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, jobID)
		}
	}
}

// Size returns the number of tracked jobs
func (s *InMemoryJobStatusStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

var _ bulk.JobStatusStore = (*InMemoryJobStatusStore)(nil)
