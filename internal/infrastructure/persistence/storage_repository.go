package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/ingest/internal/domain/shared"
	"github.com/erp/ingest/internal/domain/storage"
	"github.com/erp/ingest/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormTierRepository implements storage.TierRepository using GORM
type GormTierRepository struct {
	db *gorm.DB
}

// NewGormTierRepository creates a new GormTierRepository
func NewGormTierRepository(db *gorm.DB) *GormTierRepository {
	return &GormTierRepository{db: db}
}

// FindByID finds a tier by ID
func (r *GormTierRepository) FindByID(ctx context.Context, id uuid.UUID) (*storage.StorageTier, error) {
	var model models.StorageTierModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.NewNotFoundError("storage tier")
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save creates or updates a tier
func (r *GormTierRepository) Save(ctx context.Context, tier *storage.StorageTier) error {
	if err := tier.Validate(); err != nil {
		return err
	}
	model := models.StorageTierModelFromDomain(tier)
	now := time.Now()
	model.CreatedAt, model.UpdatedAt = now, now
	return r.db.WithContext(ctx).Save(model).Error
}

// GormUserStorageConfigRepository implements storage.UserStorageConfigRepository using GORM
type GormUserStorageConfigRepository struct {
	db *gorm.DB
}

// NewGormUserStorageConfigRepository creates a new GormUserStorageConfigRepository
func NewGormUserStorageConfigRepository(db *gorm.DB) *GormUserStorageConfigRepository {
	return &GormUserStorageConfigRepository{db: db}
}

// FindByUserID finds the storage config for a user
func (r *GormUserStorageConfigRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*storage.UserStorageConfig, error) {
	var model models.UserStorageConfigModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.NewNotFoundError("user storage config")
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save creates or updates a user's storage config
func (r *GormUserStorageConfigRepository) Save(ctx context.Context, cfg *storage.UserStorageConfig) error {
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	model := models.UserStorageConfigModelFromDomain(cfg)
	now := time.Now()
	model.CreatedAt, model.UpdatedAt = now, now
	return r.db.WithContext(ctx).Save(model).Error
}

// GormUploadSessionRepository implements storage.UploadSessionRepository using GORM
type GormUploadSessionRepository struct {
	db *gorm.DB
}

// NewGormUploadSessionRepository creates a new GormUploadSessionRepository
func NewGormUploadSessionRepository(db *gorm.DB) *GormUploadSessionRepository {
	return &GormUploadSessionRepository{db: db}
}

// FindByFileID finds a session by its file id
func (r *GormUploadSessionRepository) FindByFileID(ctx context.Context, fileID uuid.UUID) (*storage.UploadSession, error) {
	var model models.UploadSessionModel
	if err := r.db.WithContext(ctx).Where("file_id = ?", fileID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.NewNotFoundError("upload session")
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Create inserts a new session
func (r *GormUploadSessionRepository) Create(ctx context.Context, session *storage.UploadSession) error {
	if err := r.db.WithContext(ctx).Create(models.UploadSessionModelFromDomain(session)).Error; err != nil {
		return fmt.Errorf("failed to create upload session: %w", err)
	}
	return nil
}

// Save updates a session with optimistic locking. On success the in-memory
// version is bumped to match the stored row.
func (r *GormUploadSessionRepository) Save(ctx context.Context, session *storage.UploadSession) error {
	result := r.db.WithContext(ctx).
		Model(&models.UploadSessionModel{}).
		Where("file_id = ? AND version = ?", session.FileID, session.Version).
		Updates(map[string]any{
			"object_key":   session.ObjectKey,
			"status":       session.Status,
			"abort_reason": session.AbortReason,
			"completed_at": session.CompletedAt,
			"version":      session.Version + 1,
			"updated_at":   session.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to save upload session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	session.Version++
	return nil
}

// FindExpired returns PENDING or UPLOADING sessions past their expiry, oldest first
func (r *GormUploadSessionRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]storage.UploadSession, error) {
	var rows []models.UploadSessionModel
	query := r.db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?",
			[]storage.UploadStatus{storage.UploadStatusPending, storage.UploadStatusUploading}, now).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	sessions := make([]storage.UploadSession, len(rows))
	for i := range rows {
		sessions[i] = *rows[i].ToDomain()
	}
	return sessions, nil
}

// UsedBytes sums the declared size of every session that was not aborted.
// In-flight sessions count so that concurrent uploads cannot jointly exceed
// the quota.
func (r *GormUploadSessionRepository) UsedBytes(ctx context.Context, userID uuid.UUID) (uint64, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.UploadSessionModel{}).
		Where("user_id = ? AND status <> ?", userID, storage.UploadStatusAborted).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to sum storage usage: %w", err)
	}
	return uint64(max(total, 0)), nil
}

var (
	_ storage.TierRepository              = (*GormTierRepository)(nil)
	_ storage.UserStorageConfigRepository = (*GormUserStorageConfigRepository)(nil)
	_ storage.UploadSessionRepository     = (*GormUploadSessionRepository)(nil)
	_ storage.UsageAccountant             = (*GormUploadSessionRepository)(nil)
)
