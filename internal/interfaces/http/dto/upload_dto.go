package dto

import (
	"time"

	"github.com/erp/ingest/internal/domain/storage"
	"github.com/google/uuid"
)

// InitiateUploadRequest starts a multipart upload
type InitiateUploadRequest struct {
	Path      string `json:"path" binding:"max=512"`
	Filename  string `json:"filename" binding:"required,max=255"`
	MimeType  string `json:"mime_type" binding:"max=255"`
	SizeBytes uint64 `json:"size_bytes" binding:"required,gt=0"`
}

// CompleteUploadRequest lists the uploaded parts in order
type CompleteUploadRequest struct {
	Parts []storage.CompletedPart `json:"parts" binding:"required,min=1,dive"`
}

// CopyUploadRequest moves a finished upload to its destination key
type CopyUploadRequest struct {
	DestinationKey string `json:"destination_key" binding:"required,max=1024"`
}

// AbortUploadQuery carries the optional abort parameters
type AbortUploadQuery struct {
	Force  bool   `form:"force"`
	Reason string `form:"reason" binding:"max=255"`
}

// PresignPartResponse is a presigned URL for one part
type PresignPartResponse struct {
	PartNumber int32     `json:"part_number"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// UploadSessionResponse is the API view of an upload session
type UploadSessionResponse struct {
	FileID       uuid.UUID  `json:"file_id"`
	UploadID     string     `json:"upload_id"`
	ObjectKey    string     `json:"object_key"`
	Bucket       string     `json:"bucket"`
	Status       string     `json:"status"`
	MimeType     string     `json:"mime_type,omitempty"`
	OriginalName string     `json:"original_name,omitempty"`
	SizeBytes    uint64     `json:"size_bytes"`
	AbortReason  string     `json:"abort_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ToUploadSessionResponse converts a session for output
func ToUploadSessionResponse(s *storage.UploadSession) UploadSessionResponse {
	return UploadSessionResponse{
		FileID:       s.FileID,
		UploadID:     s.UploadID,
		ObjectKey:    s.ObjectKey,
		Bucket:       s.Bucket,
		Status:       string(s.Status),
		MimeType:     s.MimeType,
		OriginalName: s.OriginalName,
		SizeBytes:    s.SizeBytes,
		AbortReason:  s.AbortReason,
		CreatedAt:    s.CreatedAt,
		ExpiresAt:    s.ExpiresAt,
		CompletedAt:  s.CompletedAt,
	}
}

// UploadStatsResponse reports ledger totals and the caller's own slots
type UploadStatsResponse struct {
	storage.UploadStats
	UserActiveUploads int `json:"user_active_uploads"`
}
