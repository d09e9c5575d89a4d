package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erp/ingest/internal/domain/shared"
	"github.com/erp/ingest/internal/domain/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// ============================================================================
// Mocks
// ============================================================================

// MockTierRepository is a mock implementation of storage.TierRepository
type MockTierRepository struct {
	mock.Mock
}

func (m *MockTierRepository) FindByID(ctx context.Context, id uuid.UUID) (*storage.StorageTier, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.StorageTier), args.Error(1)
}

// MockUserStorageConfigRepository is a mock implementation of storage.UserStorageConfigRepository
type MockUserStorageConfigRepository struct {
	mock.Mock
}

func (m *MockUserStorageConfigRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*storage.UserStorageConfig, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.UserStorageConfig), args.Error(1)
}

// MockTierResolver is a mock implementation of TierResolver
type MockTierResolver struct {
	mock.Mock
}

func (m *MockTierResolver) GetUserTierInfo(ctx context.Context, userID uuid.UUID) (storage.TierInfo, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(storage.TierInfo), args.Error(1)
}

// ============================================================================
// Fakes
// ============================================================================

// memorySessions is a goroutine-safe session store with version checks.
// createErr and saveErr make Create or Save fail until cleared. beforeSave
// runs once ahead of the next Save, so another writer can commit between a
// caller's load and its save.
type memorySessions struct {
	mu         sync.Mutex
	sessions   map[uuid.UUID]storage.UploadSession
	createErr  error
	saveErr    error
	beforeSave func()
	saves      int
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: make(map[uuid.UUID]storage.UploadSession)}
}

func (r *memorySessions) FindByFileID(_ context.Context, fileID uuid.UUID) (*storage.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[fileID]
	if !ok {
		return nil, shared.NewNotFoundError("upload session")
	}
	return &s, nil
}

func (r *memorySessions) Create(_ context.Context, session *storage.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.sessions[session.FileID]; ok {
		return fmt.Errorf("duplicate file id %s", session.FileID)
	}
	r.sessions[session.FileID] = *session
	return nil
}

func (r *memorySessions) Save(_ context.Context, session *storage.UploadSession) error {
	r.mu.Lock()
	hook := r.beforeSave
	r.beforeSave = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.saveErr != nil {
		return r.saveErr
	}
	current, ok := r.sessions[session.FileID]
	if !ok {
		return shared.NewNotFoundError("upload session")
	}
	if current.Version != session.Version {
		return shared.ErrConcurrencyConflict
	}
	session.Version++
	r.sessions[session.FileID] = *session
	return nil
}

func (r *memorySessions) FindExpired(_ context.Context, now time.Time, limit int) ([]storage.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []storage.UploadSession
	for _, s := range r.sessions {
		if s.IsExpired(now) {
			out = append(out, s)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// UsedBytes sums non-aborted sessions, matching the gorm accountant
func (r *memorySessions) UsedBytes(_ context.Context, userID uuid.UUID) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var used uint64
	for _, s := range r.sessions {
		if s.UserID == userID && s.Status != storage.UploadStatusAborted {
			used += s.SizeBytes
		}
	}
	return used, nil
}

func (r *memorySessions) get(fileID uuid.UUID) storage.UploadSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[fileID]
}

func (r *memorySessions) expire(fileID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[fileID]
	s.ExpiresAt = time.Now().Add(-time.Minute)
	r.sessions[fileID] = s
}
