package models

import (
	"time"

	"github.com/erp/ingest/internal/domain/bulk"
	"github.com/google/uuid"
)

// BulkProcessingRequestModel is the persistence model for bulk.BulkProcessingRequest
type BulkProcessingRequestModel struct {
	TenantAggregateModel
	UserID         uuid.UUID           `gorm:"type:uuid;not null;index"`
	Type           bulk.ProcessingType `gorm:"type:varchar(50);not null;index"`
	Status         bulk.Status         `gorm:"type:varchar(20);not null;index"`
	FileID         *uuid.UUID          `gorm:"type:uuid"`
	JobID          string              `gorm:"type:varchar(100);not null;uniqueIndex"`
	TotalRows      *int
	ProcessedRows  int `gorm:"not null;default:0"`
	SuccessfulRows int `gorm:"not null;default:0"`
	FailedRows     int `gorm:"not null;default:0"`
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ErrorMessage   *string        `gorm:"type:text"`
	CancelReason   string         `gorm:"type:varchar(500)"`
	Options        map[string]any `gorm:"type:jsonb;serializer:json"`
	Metadata       map[string]any `gorm:"type:jsonb;serializer:json"`
}

// TableName returns the table name for GORM
func (BulkProcessingRequestModel) TableName() string {
	return "bulk_processing_requests"
}

// ToDomain converts the model to a domain request without row logs
func (m *BulkProcessingRequestModel) ToDomain() *bulk.BulkProcessingRequest {
	return &bulk.BulkProcessingRequest{
		TenantAggregateRoot: m.root(),
		UserID:              m.UserID,
		Type:                m.Type,
		Status:              m.Status,
		FileID:              m.FileID,
		JobID:               m.JobID,
		TotalRows:           m.TotalRows,
		ProcessedRows:       m.ProcessedRows,
		SuccessfulRows:      m.SuccessfulRows,
		FailedRows:          m.FailedRows,
		StartedAt:           m.StartedAt,
		CompletedAt:         m.CompletedAt,
		ErrorMessage:        m.ErrorMessage,
		CancelReason:        m.CancelReason,
		Options:             m.Options,
		Metadata:            m.Metadata,
	}
}

// FromDomain populates the model from a domain request
func (m *BulkProcessingRequestModel) FromDomain(r *bulk.BulkProcessingRequest) {
	m.fromRoot(r.TenantAggregateRoot)
	m.UserID = r.UserID
	m.Type = r.Type
	m.Status = r.Status
	m.FileID = r.FileID
	m.JobID = r.JobID
	m.TotalRows = r.TotalRows
	m.ProcessedRows = r.ProcessedRows
	m.SuccessfulRows = r.SuccessfulRows
	m.FailedRows = r.FailedRows
	m.StartedAt = r.StartedAt
	m.CompletedAt = r.CompletedAt
	m.ErrorMessage = r.ErrorMessage
	m.CancelReason = r.CancelReason
	m.Options = r.Options
	m.Metadata = r.Metadata
}

// BulkProcessingRequestModelFromDomain creates a new model from a domain request
func BulkProcessingRequestModelFromDomain(r *bulk.BulkProcessingRequest) *BulkProcessingRequestModel {
	m := &BulkProcessingRequestModel{}
	m.FromDomain(r)
	return m
}

// BulkProcessingRowLogModel stores one row log. Rows are append-only; Seq
// preserves insertion order within a request.
type BulkProcessingRowLogModel struct {
	ID        uuid.UUID         `gorm:"type:uuid;primary_key"`
	RequestID uuid.UUID         `gorm:"type:uuid;not null;index:idx_row_logs_request_seq,priority:1"`
	Seq       int               `gorm:"not null;index:idx_row_logs_request_seq,priority:2"`
	RowNumber int               `gorm:"not null"`
	Level     bulk.LogLevel     `gorm:"type:varchar(10);not null"`
	Message   string            `gorm:"type:text;not null"`
	RawData   map[string]string `gorm:"type:jsonb;serializer:json"`
	CreatedAt time.Time         `gorm:"not null"`
}

// TableName returns the table name for GORM
func (BulkProcessingRowLogModel) TableName() string {
	return "bulk_processing_row_logs"
}

// ToDomain converts the model to a domain RowLog
func (m *BulkProcessingRowLogModel) ToDomain() bulk.RowLog {
	return bulk.RowLog{
		RowNumber: m.RowNumber,
		Level:     m.Level,
		Message:   m.Message,
		RawData:   m.RawData,
		CreatedAt: m.CreatedAt,
	}
}

// RowLogModelFromDomain creates a model for the seq-th log of a request
func RowLogModelFromDomain(requestID uuid.UUID, seq int, l bulk.RowLog) *BulkProcessingRowLogModel {
	return &BulkProcessingRowLogModel{
		ID:        uuid.New(),
		RequestID: requestID,
		Seq:       seq,
		RowNumber: l.RowNumber,
		Level:     l.Level,
		Message:   l.Message,
		RawData:   l.RawData,
		CreatedAt: l.CreatedAt,
	}
}
