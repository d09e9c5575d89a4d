package storage

import (
	"strings"
	"time"

	"github.com/erp/ingest/internal/domain/shared"
	"github.com/google/uuid"
)

// UploadStatus represents the state of a multipart upload session
type UploadStatus string

const (
	UploadStatusPending   UploadStatus = "PENDING"
	UploadStatusUploading UploadStatus = "UPLOADING"
	UploadStatusUploaded  UploadStatus = "UPLOADED"
	UploadStatusCopying   UploadStatus = "COPYING"
	UploadStatusAborted   UploadStatus = "ABORTED"
)

// IsValid checks if the status is a known value
func (s UploadStatus) IsValid() bool {
	switch s {
	case UploadStatusPending, UploadStatusUploading, UploadStatusUploaded,
		UploadStatusCopying, UploadStatusAborted:
		return true
	}
	return false
}

// UploadSession tracks one multipart upload from initiation to completion or abort.
// It is owned by the user who created it.
type UploadSession struct {
	FileID       uuid.UUID
	TenantID     uuid.UUID
	UserID       uuid.UUID
	UploadID     string
	ObjectKey    string
	Bucket       string
	MimeType     string
	OriginalName string
	SizeBytes    uint64
	Status       UploadStatus
	AbortReason  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ExpiresAt    time.Time
	CompletedAt  *time.Time
	Version      int
}

// NewUploadSessionInput carries what the object store handed back plus the request metadata
type NewUploadSessionInput struct {
	FileID       uuid.UUID
	TenantID     uuid.UUID
	UserID       uuid.UUID
	UploadID     string
	ObjectKey    string
	Bucket       string
	MimeType     string
	OriginalName string
	SizeBytes    uint64
	TTL          time.Duration
}

// NewUploadSession creates a session in PENDING
func NewUploadSession(in NewUploadSessionInput) (*UploadSession, error) {
	if in.UserID == uuid.Nil {
		return nil, shared.NewValidationError("user id is required")
	}
	if strings.TrimSpace(in.UploadID) == "" {
		return nil, shared.NewValidationError("upload id is required")
	}
	if strings.TrimSpace(in.ObjectKey) == "" {
		return nil, shared.NewValidationError("object key is required")
	}
	if in.TTL <= 0 {
		return nil, shared.NewValidationError("session ttl must be positive")
	}
	fileID := in.FileID
	if fileID == uuid.Nil {
		fileID = uuid.New()
	}

	now := time.Now()
	return &UploadSession{
		FileID:       fileID,
		TenantID:     in.TenantID,
		UserID:       in.UserID,
		UploadID:     in.UploadID,
		ObjectKey:    in.ObjectKey,
		Bucket:       in.Bucket,
		MimeType:     in.MimeType,
		OriginalName: in.OriginalName,
		SizeBytes:    in.SizeBytes,
		Status:       UploadStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(in.TTL),
		Version:      1,
	}, nil
}

// IsOwnedBy reports whether userID created the session
func (s *UploadSession) IsOwnedBy(userID uuid.UUID) bool {
	return s.UserID == userID
}

// HoldsSlot reports whether the session currently occupies a concurrency slot.
// Only PENDING and UPLOADING sessions do.
func (s *UploadSession) HoldsSlot() bool {
	return s.Status == UploadStatusPending || s.Status == UploadStatusUploading
}

// IsExpired reports whether a slot-holding session has outlived its ExpiresAt
func (s *UploadSession) IsExpired(now time.Time) bool {
	return s.HoldsSlot() && now.After(s.ExpiresAt)
}

// MarkUploading moves PENDING to UPLOADING. Repeated calls while UPLOADING are no-ops.
func (s *UploadSession) MarkUploading() error {
	switch s.Status {
	case UploadStatusUploading:
		return nil
	case UploadStatusPending:
		s.Status = UploadStatusUploading
		s.touch()
		return nil
	}
	return s.invalidTransition("start uploading")
}

// MarkUploaded finishes the multipart upload
func (s *UploadSession) MarkUploaded() error {
	if !s.HoldsSlot() {
		if s.Status == UploadStatusUploaded {
			return shared.NewConflictError(shared.CodeAlreadyCompleted, "upload session has already completed")
		}
		return s.invalidTransition("complete")
	}
	now := time.Now()
	s.Status = UploadStatusUploaded
	s.CompletedAt = &now
	s.touch()
	return nil
}

// BeginCopy moves UPLOADED to COPYING
func (s *UploadSession) BeginCopy() error {
	if s.Status != UploadStatusUploaded {
		return s.invalidTransition("copy")
	}
	s.Status = UploadStatusCopying
	s.touch()
	return nil
}

// FinishCopy returns a COPYING session to UPLOADED under its new key
func (s *UploadSession) FinishCopy(objectKey string) error {
	if s.Status != UploadStatusCopying {
		return s.invalidTransition("finish copy")
	}
	if objectKey != "" {
		s.ObjectKey = objectKey
	}
	s.Status = UploadStatusUploaded
	s.touch()
	return nil
}

// Abort moves any non-terminal session to ABORTED. An ABORTED session is left
// untouched; an UPLOADED one cannot be aborted.
func (s *UploadSession) Abort(reason string) error {
	switch s.Status {
	case UploadStatusAborted:
		return nil
	case UploadStatusUploaded:
		return shared.NewConflictError(shared.CodeAlreadyCompleted, "cannot abort an upload that has already completed")
	}
	s.Status = UploadStatusAborted
	s.AbortReason = reason
	s.touch()
	return nil
}

func (s *UploadSession) invalidTransition(action string) error {
	return shared.NewConflictError(shared.CodeInvalidState, "cannot "+action+" upload session in status "+string(s.Status))
}

func (s *UploadSession) touch() {
	s.UpdatedAt = time.Now()
}
