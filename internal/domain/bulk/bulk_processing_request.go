// Package bulk models asynchronous bulk processing requests and their row logs.
package bulk

import (
	"fmt"
	"iter"
	"time"

	"github.com/erp/ingest/internal/domain/shared"
	"github.com/google/uuid"
)

// ProcessingType selects the strategy that processes a request
type ProcessingType string

const (
	TypeProductCatalog   ProcessingType = "PRODUCT_CATALOG"
	TypeCleanupTempFiles ProcessingType = "CLEANUP_TEMP_FILES"
)

// IsValid checks if the processing type is known
func (t ProcessingType) IsValid() bool {
	switch t {
	case TypeProductCatalog, TypeCleanupTempFiles:
		return true
	}
	return false
}

// RequiresFile reports whether the type reads a previously uploaded file
func (t ProcessingType) RequiresFile() bool {
	return t == TypeProductCatalog
}

// Status represents the lifecycle state of a bulk processing request
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// IsValid checks if the status is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsCancellable reports whether a request in this state may be cancelled
func (s Status) IsCancellable() bool {
	return s == StatusPending || s == StatusProcessing
}

// BulkProcessingRequest tracks one asynchronous job from submission to a
// terminal state. Only the runner bound to JobID mutates a request once it is
// PROCESSING; cancellation is the single exception and wins through the
// optimistic lock.
type BulkProcessingRequest struct {
	shared.TenantAggregateRoot
	UserID         uuid.UUID
	Type           ProcessingType
	Status         Status
	FileID         *uuid.UUID
	JobID          string
	TotalRows      *int
	ProcessedRows  int
	SuccessfulRows int
	FailedRows     int
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ErrorMessage   *string
	CancelReason   string
	Options        map[string]any
	Metadata       map[string]any

	rowLogs        []RowLog
	persistedLogs  int
	lastOutcomeRow int
	lastLogRow     int
}

// NewBulkProcessingRequest creates a PENDING request
func NewBulkProcessingRequest(
	tenantID, userID uuid.UUID,
	processingType ProcessingType,
	fileID *uuid.UUID,
	options, metadata map[string]any,
) (*BulkProcessingRequest, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewValidationError("company id is required")
	}
	if userID == uuid.Nil {
		return nil, shared.NewValidationError("user id is required")
	}
	if !processingType.IsValid() {
		return nil, shared.NewValidationError("invalid bulk processing type: %s", processingType)
	}
	if processingType.RequiresFile() && (fileID == nil || *fileID == uuid.Nil) {
		return nil, shared.NewValidationError("bulk processing type %s requires a file id", processingType)
	}

	req := &BulkProcessingRequest{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		UserID:              userID,
		Type:                processingType,
		Status:              StatusPending,
		FileID:              fileID,
		Options:             options,
		Metadata:            metadata,
	}
	req.JobID = JobIDFor(req.ID)
	return req, nil
}

// JobIDFor derives the queue job id bound to a request
func JobIDFor(requestID uuid.UUID) string {
	return "bulk:" + requestID.String()
}

// MarkStarted moves PENDING to PROCESSING
func (r *BulkProcessingRequest) MarkStarted() error {
	if err := r.ensureMutable(); err != nil {
		return err
	}
	if r.Status != StatusPending {
		return r.invalidTransition("start")
	}
	now := time.Now()
	r.Status = StatusProcessing
	r.StartedAt = &now
	r.Touch()
	return nil
}

// SetTotalRows records the row count once the source has been parsed
func (r *BulkProcessingRequest) SetTotalRows(total int) error {
	if err := r.ensureProcessing(); err != nil {
		return err
	}
	if total < 0 {
		return shared.NewValidationError("total rows cannot be negative")
	}
	if total < r.ProcessedRows {
		return shared.NewValidationError("total rows %d is below processed rows %d", total, r.ProcessedRows)
	}
	r.TotalRows = &total
	r.Touch()
	return nil
}

// RecordSuccess counts rowNumber as processed successfully
func (r *BulkProcessingRequest) RecordSuccess(rowNumber int) error {
	if err := r.acceptOutcome(rowNumber); err != nil {
		return err
	}
	r.ProcessedRows++
	r.SuccessfulRows++
	r.lastOutcomeRow = rowNumber
	r.Touch()
	return nil
}

// AddRowLog appends a row log. An ERROR log is the row's outcome and counts it
// as processed and failed; a WARNING only annotates a row whose outcome is
// recorded afterwards.
func (r *BulkProcessingRequest) AddRowLog(rowNumber int, level LogLevel, message string, rawData map[string]string) error {
	if !level.IsValid() {
		return shared.NewValidationError("invalid row log level: %s", level)
	}
	if level == LogLevelError {
		if err := r.acceptOutcome(rowNumber); err != nil {
			return err
		}
	} else {
		if err := r.ensureProcessing(); err != nil {
			return err
		}
		if rowNumber <= r.lastOutcomeRow || rowNumber < r.lastLogRow {
			return r.outOfOrder(rowNumber)
		}
	}

	r.rowLogs = append(r.rowLogs, RowLog{
		RowNumber: rowNumber,
		Level:     level,
		Message:   message,
		RawData:   rawData,
		CreatedAt: time.Now(),
	})
	r.lastLogRow = rowNumber
	if level == LogLevelError {
		r.ProcessedRows++
		r.FailedRows++
		r.lastOutcomeRow = rowNumber
	}
	r.Touch()
	return nil
}

// MarkCompleted moves PROCESSING to COMPLETED. Row errors do not prevent completion.
func (r *BulkProcessingRequest) MarkCompleted() error {
	if err := r.ensureProcessing(); err != nil {
		return err
	}
	r.finish(StatusCompleted)
	return nil
}

// MarkFailed records a fatal, job-level failure
func (r *BulkProcessingRequest) MarkFailed(reason string) error {
	if err := r.ensureMutable(); err != nil {
		return err
	}
	if reason == "" {
		reason = "bulk processing failed"
	}
	r.ErrorMessage = &reason
	r.finish(StatusFailed)
	return nil
}

// MarkCancelled stops a PENDING or PROCESSING request
func (r *BulkProcessingRequest) MarkCancelled(reason string) error {
	if err := r.ensureMutable(); err != nil {
		return err
	}
	r.CancelReason = reason
	r.finish(StatusCancelled)
	return nil
}

func (r *BulkProcessingRequest) finish(status Status) {
	now := time.Now()
	r.Status = status
	r.CompletedAt = &now
	r.Touch()
}

func (r *BulkProcessingRequest) acceptOutcome(rowNumber int) error {
	if err := r.ensureProcessing(); err != nil {
		return err
	}
	if rowNumber <= r.lastOutcomeRow || rowNumber < r.lastLogRow {
		return r.outOfOrder(rowNumber)
	}
	if r.TotalRows != nil && r.ProcessedRows >= *r.TotalRows {
		return shared.NewValidationError("row %d exceeds total rows %d", rowNumber, *r.TotalRows)
	}
	return nil
}

func (r *BulkProcessingRequest) ensureMutable() error {
	if r.Status.IsTerminal() {
		return shared.NewConflictError(shared.CodeInvalidState,
			fmt.Sprintf("bulk processing request is already %s", r.Status))
	}
	return nil
}

func (r *BulkProcessingRequest) ensureProcessing() error {
	if err := r.ensureMutable(); err != nil {
		return err
	}
	if r.Status != StatusProcessing {
		return r.invalidTransition("record progress on")
	}
	return nil
}

func (r *BulkProcessingRequest) invalidTransition(action string) error {
	return shared.NewConflictError(shared.CodeInvalidState,
		fmt.Sprintf("cannot %s bulk processing request in status %s", action, r.Status))
}

func (r *BulkProcessingRequest) outOfOrder(rowNumber int) error {
	return shared.NewValidationError("row %d is out of order, last row was %d", rowNumber, max(r.lastOutcomeRow, r.lastLogRow))
}

// HasErrors reports whether any row failed. It is independent of Status.
func (r *BulkProcessingRequest) HasErrors() bool {
	return r.FailedRows > 0
}

// Progress returns the completion percentage (0-100)
func (r *BulkProcessingRequest) Progress() int {
	if r.Status == StatusCompleted {
		return 100
	}
	if r.TotalRows == nil || *r.TotalRows == 0 {
		return 0
	}
	return r.ProcessedRows * 100 / *r.TotalRows
}

// RowLogs returns every row log in append order
func (r *BulkProcessingRequest) RowLogs() iter.Seq[RowLog] {
	return FilterLogs(r.rowLogs, "")
}

// ErrorLogs yields ERROR row logs in row order
func (r *BulkProcessingRequest) ErrorLogs() iter.Seq[RowLog] {
	return FilterLogs(r.rowLogs, LogLevelError)
}

// WarningLogs yields WARNING row logs in row order
func (r *BulkProcessingRequest) WarningLogs() iter.Seq[RowLog] {
	return FilterLogs(r.rowLogs, LogLevelWarning)
}

// RowLogCount returns the number of row logs held by the aggregate
func (r *BulkProcessingRequest) RowLogCount() int {
	return len(r.rowLogs)
}

// PendingRowLogs returns the logs appended since the last MarkRowLogsPersisted
func (r *BulkProcessingRequest) PendingRowLogs() []RowLog {
	return r.rowLogs[r.persistedLogs:]
}

// MarkRowLogsPersisted acknowledges that all pending logs are stored
func (r *BulkProcessingRequest) MarkRowLogsPersisted() {
	r.persistedLogs = len(r.rowLogs)
}

// RestoreRowLogs attaches logs loaded from storage. Logs must already be in
// row order; they count as persisted.
func (r *BulkProcessingRequest) RestoreRowLogs(logs []RowLog) {
	r.rowLogs = logs
	r.persistedLogs = len(logs)
	for _, l := range logs {
		r.lastLogRow = max(r.lastLogRow, l.RowNumber)
		if l.Level == LogLevelError {
			r.lastOutcomeRow = max(r.lastOutcomeRow, l.RowNumber)
		}
	}
}
