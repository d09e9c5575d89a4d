package models

import (
	"time"

	"github.com/erp/ingest/internal/domain/storage"
	"github.com/google/uuid"
)

// StorageTierModel is the persistence model for storage.StorageTier
type StorageTierModel struct {
	ID                   uuid.UUID                 `gorm:"type:uuid;primary_key"`
	Name                 string                    `gorm:"type:varchar(100);not null;uniqueIndex"`
	Level                int                       `gorm:"not null;default:0"`
	MaxStorageBytes      int64                     `gorm:"not null;default:0"`
	MaxSimultaneousFiles int                       `gorm:"not null;default:0"`
	AllowedFileConfig    storage.AllowedFileConfig `gorm:"type:jsonb;serializer:json"`
	IsActive             bool                      `gorm:"not null;default:true"`
	CreatedAt            time.Time                 `gorm:"not null"`
	UpdatedAt            time.Time                 `gorm:"not null"`
}

// TableName returns the table name for GORM
func (StorageTierModel) TableName() string {
	return "storage_tiers"
}

// ToDomain converts the model to a domain StorageTier
func (m *StorageTierModel) ToDomain() *storage.StorageTier {
	return &storage.StorageTier{
		ID:                   m.ID,
		Name:                 m.Name,
		Level:                m.Level,
		MaxStorageBytes:      uint64(max(m.MaxStorageBytes, 0)),
		MaxSimultaneousFiles: m.MaxSimultaneousFiles,
		AllowedFileConfig:    m.AllowedFileConfig,
		IsActive:             m.IsActive,
	}
}

// StorageTierModelFromDomain creates a model from a domain StorageTier
func StorageTierModelFromDomain(t *storage.StorageTier) *StorageTierModel {
	return &StorageTierModel{
		ID:                   t.ID,
		Name:                 t.Name,
		Level:                t.Level,
		MaxStorageBytes:      int64(t.MaxStorageBytes),
		MaxSimultaneousFiles: t.MaxSimultaneousFiles,
		AllowedFileConfig:    t.AllowedFileConfig,
		IsActive:             t.IsActive,
	}
}

// UserStorageConfigModel is the persistence model for storage.UserStorageConfig
type UserStorageConfigModel struct {
	ID                uuid.UUID                 `gorm:"type:uuid;primary_key"`
	UserID            uuid.UUID                 `gorm:"type:uuid;not null;uniqueIndex"`
	StorageTierID     uuid.UUID                 `gorm:"type:uuid;not null;index"`
	AllowedFileConfig storage.AllowedFileConfig `gorm:"type:jsonb;serializer:json"`
	CreatedAt         time.Time                 `gorm:"not null"`
	UpdatedAt         time.Time                 `gorm:"not null"`
}

// TableName returns the table name for GORM
func (UserStorageConfigModel) TableName() string {
	return "user_storage_configs"
}

// ToDomain converts the model to a domain UserStorageConfig
func (m *UserStorageConfigModel) ToDomain() *storage.UserStorageConfig {
	return &storage.UserStorageConfig{
		ID:                m.ID,
		UserID:            m.UserID,
		StorageTierID:     m.StorageTierID,
		AllowedFileConfig: m.AllowedFileConfig,
	}
}

// UserStorageConfigModelFromDomain creates a model from a domain UserStorageConfig
func UserStorageConfigModelFromDomain(c *storage.UserStorageConfig) *UserStorageConfigModel {
	return &UserStorageConfigModel{
		ID:                c.ID,
		UserID:            c.UserID,
		StorageTierID:     c.StorageTierID,
		AllowedFileConfig: c.AllowedFileConfig,
	}
}

// UploadSessionModel is the persistence model for storage.UploadSession.
// Rows are never deleted; finished sessions stay for audit.
type UploadSessionModel struct {
	FileID       uuid.UUID            `gorm:"type:uuid;primary_key"`
	TenantID     uuid.UUID            `gorm:"type:uuid;index"`
	UserID       uuid.UUID            `gorm:"type:uuid;not null;index:idx_upload_sessions_user_status"`
	UploadID     string               `gorm:"type:varchar(1024);not null"`
	ObjectKey    string               `gorm:"type:varchar(1024);not null"`
	Bucket       string               `gorm:"type:varchar(255);not null"`
	MimeType     string               `gorm:"type:varchar(255)"`
	OriginalName string               `gorm:"type:varchar(512)"`
	SizeBytes    int64                `gorm:"not null;default:0"`
	Status       storage.UploadStatus `gorm:"type:varchar(20);not null;index:idx_upload_sessions_user_status"`
	AbortReason  string               `gorm:"type:varchar(255)"`
	ExpiresAt    time.Time            `gorm:"not null;index"`
	CompletedAt  *time.Time
	Version      int       `gorm:"not null;default:1"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (UploadSessionModel) TableName() string {
	return "upload_sessions"
}

// ToDomain converts the model to a domain UploadSession
func (m *UploadSessionModel) ToDomain() *storage.UploadSession {
	return &storage.UploadSession{
		FileID:       m.FileID,
		TenantID:     m.TenantID,
		UserID:       m.UserID,
		UploadID:     m.UploadID,
		ObjectKey:    m.ObjectKey,
		Bucket:       m.Bucket,
		MimeType:     m.MimeType,
		OriginalName: m.OriginalName,
		SizeBytes:    uint64(max(m.SizeBytes, 0)),
		Status:       m.Status,
		AbortReason:  m.AbortReason,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		ExpiresAt:    m.ExpiresAt,
		CompletedAt:  m.CompletedAt,
		Version:      m.Version,
	}
}

// UploadSessionModelFromDomain creates a model from a domain UploadSession
func UploadSessionModelFromDomain(s *storage.UploadSession) *UploadSessionModel {
	return &UploadSessionModel{
		FileID:       s.FileID,
		TenantID:     s.TenantID,
		UserID:       s.UserID,
		UploadID:     s.UploadID,
		ObjectKey:    s.ObjectKey,
		Bucket:       s.Bucket,
		MimeType:     s.MimeType,
		OriginalName: s.OriginalName,
		SizeBytes:    int64(s.SizeBytes),
		Status:       s.Status,
		AbortReason:  s.AbortReason,
		ExpiresAt:    s.ExpiresAt,
		CompletedAt:  s.CompletedAt,
		Version:      s.Version,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}
