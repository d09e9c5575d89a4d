package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TierRepository reads storage tiers
type TierRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*StorageTier, error)
}

// UserStorageConfigRepository reads per-user storage configuration
type UserStorageConfigRepository interface {
	FindByUserID(ctx context.Context, userID uuid.UUID) (*UserStorageConfig, error)
}

// UploadSessionRepository persists upload sessions keyed by file id
type UploadSessionRepository interface {
	FindByFileID(ctx context.Context, fileID uuid.UUID) (*UploadSession, error)
	// Create inserts a new session
	Create(ctx context.Context, session *UploadSession) error
	// Save updates an existing session under optimistic locking
	Save(ctx context.Context, session *UploadSession) error
	// FindExpired returns slot-holding sessions whose ExpiresAt is before now
	FindExpired(ctx context.Context, now time.Time, limit int) ([]UploadSession, error)
}

// UsageAccountant reports bytes already consumed by a user
type UsageAccountant interface {
	UsedBytes(ctx context.Context, userID uuid.UUID) (uint64, error)
}
