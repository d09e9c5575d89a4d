package dto

import (
	"fmt"
	"time"

	"github.com/erp/ingest/internal/domain/bulk"
	"github.com/google/uuid"
)

// CreateBulkRequest submits a bulk processing request
type CreateBulkRequest struct {
	Type     string         `json:"type" binding:"required,oneof=PRODUCT_CATALOG CLEANUP_TEMP_FILES"`
	FileID   *uuid.UUID     `json:"file_id"`
	Options  map[string]any `json:"options"`
	Metadata map[string]any `json:"metadata"`
}

// ListBulkQuery filters and pages the request listing
type ListBulkQuery struct {
	Status    string `form:"status" binding:"omitempty,oneof=PENDING PROCESSING COMPLETED FAILED CANCELLED"`
	Type      string `form:"type" binding:"omitempty,oneof=PRODUCT_CATALOG CLEANUP_TEMP_FILES"`
	UserID    string `form:"user_id" binding:"omitempty,uuid"`
	SortBy    string `form:"sort_by" binding:"omitempty,oneof=created_at updated_at status type"`
	SortOrder string `form:"sort_order" binding:"omitempty,oneof=asc desc ASC DESC"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset    int    `form:"offset" binding:"omitempty,min=0"`
}

// Filter converts the query into a repository filter
func (q ListBulkQuery) Filter() (bulk.Filter, error) {
	f := bulk.Filter{SortBy: q.SortBy, SortOrder: q.SortOrder}
	if q.Status != "" {
		s := bulk.Status(q.Status)
		f.Status = &s
	}
	if q.Type != "" {
		t := bulk.ProcessingType(q.Type)
		f.Type = &t
	}
	if q.UserID != "" {
		id, err := uuid.Parse(q.UserID)
		if err != nil {
			return bulk.Filter{}, fmt.Errorf("invalid user_id: %w", err)
		}
		f.UserID = &id
	}
	return f, nil
}

// CancelBulkRequest carries an optional cancellation reason
type CancelBulkRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}

// BulkRequestResponse is the API view of a bulk processing request
type BulkRequestResponse struct {
	ID             uuid.UUID      `json:"id"`
	UserID         uuid.UUID      `json:"user_id"`
	Type           string         `json:"type"`
	Status         string         `json:"status"`
	FileID         *uuid.UUID     `json:"file_id,omitempty"`
	JobID          string         `json:"job_id"`
	TotalRows      *int           `json:"total_rows,omitempty"`
	ProcessedRows  int            `json:"processed_rows"`
	SuccessfulRows int            `json:"successful_rows"`
	FailedRows     int            `json:"failed_rows"`
	Progress       int            `json:"progress"`
	HasErrors      bool           `json:"has_errors"`
	ErrorMessage   *string        `json:"error_message,omitempty"`
	CancelReason   string         `json:"cancel_reason,omitempty"`
	Options        map[string]any `json:"options,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ErrorReportURL string         `json:"error_report_url,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ToBulkRequestResponse converts a request for output. basePath is the
// collection path used to build the error report link.
func ToBulkRequestResponse(r *bulk.BulkProcessingRequest, basePath string) BulkRequestResponse {
	resp := BulkRequestResponse{
		ID:             r.ID,
		UserID:         r.UserID,
		Type:           string(r.Type),
		Status:         string(r.Status),
		FileID:         r.FileID,
		JobID:          r.JobID,
		TotalRows:      r.TotalRows,
		ProcessedRows:  r.ProcessedRows,
		SuccessfulRows: r.SuccessfulRows,
		FailedRows:     r.FailedRows,
		Progress:       r.Progress(),
		HasErrors:      r.HasErrors(),
		ErrorMessage:   r.ErrorMessage,
		CancelReason:   r.CancelReason,
		Options:        r.Options,
		Metadata:       r.Metadata,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.HasErrors() {
		resp.ErrorReportURL = fmt.Sprintf("%s/%s/errors", basePath, r.ID)
	}
	return resp
}
