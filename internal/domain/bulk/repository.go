package bulk

import (
	"context"

	"github.com/google/uuid"
)

// Filter narrows a request listing. Nil fields are not applied.
type Filter struct {
	Status    *Status
	Type      *ProcessingType
	UserID    *uuid.UUID
	SortBy    string // column name; unknown names fall back to created_at
	SortOrder string // ASC or DESC
}

// BulkProcessingRequestRepository persists requests and their row logs
type BulkProcessingRequestRepository interface {
	// FindByID loads a request with its row logs
	FindByID(ctx context.Context, id uuid.UUID) (*BulkProcessingRequest, error)
	// FindByIDForTenant loads a request with its row logs within a tenant
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*BulkProcessingRequest, error)
	// FindByJobID loads a request without row logs
	FindByJobID(ctx context.Context, jobID string) (*BulkProcessingRequest, error)
	// FindAllForTenant lists requests without row logs, newest first
	FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter Filter, limit, offset int) ([]BulkProcessingRequest, int64, error)
	// FindPending returns PENDING requests, oldest first
	FindPending(ctx context.Context, limit int) ([]BulkProcessingRequest, error)
	// Create inserts a new request
	Create(ctx context.Context, req *BulkProcessingRequest) error
	// Save updates counters and status under optimistic locking and appends
	// pending row logs in the same transaction. Returns shared.ErrConcurrencyConflict
	// when the stored version moved.
	Save(ctx context.Context, req *BulkProcessingRequest) error
	// SaveProgress writes the row counters and appends pending row logs of a
	// request another writer already cancelled. Status and version are left
	// alone. Returns shared.ErrConcurrencyConflict unless the stored status is
	// CANCELLED.
	SaveProgress(ctx context.Context, req *BulkProcessingRequest) error
	// Status reads only the stored status
	Status(ctx context.Context, id uuid.UUID) (Status, error)
	// RowLogs returns logs of one level ordered by row number
	RowLogs(ctx context.Context, id uuid.UUID, level LogLevel) ([]RowLog, error)
}
