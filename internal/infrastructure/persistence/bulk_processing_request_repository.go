package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/ingest/internal/domain/bulk"
	"github.com/erp/ingest/internal/domain/shared"
	"github.com/erp/ingest/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormBulkProcessingRequestRepository implements bulk.BulkProcessingRequestRepository using GORM
type GormBulkProcessingRequestRepository struct {
	db *gorm.DB
}

// NewGormBulkProcessingRequestRepository creates a new GormBulkProcessingRequestRepository
func NewGormBulkProcessingRequestRepository(db *gorm.DB) *GormBulkProcessingRequestRepository {
	return &GormBulkProcessingRequestRepository{db: db}
}

// FindByID loads a request with its row logs
func (r *GormBulkProcessingRequestRepository) FindByID(ctx context.Context, id uuid.UUID) (*bulk.BulkProcessingRequest, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).Where("id = ?", id), true)
}

// FindByIDForTenant loads a request with its row logs within a tenant
func (r *GormBulkProcessingRequestRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*bulk.BulkProcessingRequest, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).Scopes(tenantScope(tenantID)).Where("id = ?", id), true)
}

// FindByJobID loads a request by its queue job id, without row logs
func (r *GormBulkProcessingRequestRepository) FindByJobID(ctx context.Context, jobID string) (*bulk.BulkProcessingRequest, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).Where("job_id = ?", jobID), false)
}

func (r *GormBulkProcessingRequestRepository) findOne(ctx context.Context, query *gorm.DB, withLogs bool) (*bulk.BulkProcessingRequest, error) {
	var model models.BulkProcessingRequestModel
	if err := query.First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.NewNotFoundError("bulk processing request")
		}
		return nil, err
	}
	req := model.ToDomain()
	if !withLogs {
		return req, nil
	}

	var logModels []models.BulkProcessingRowLogModel
	if err := r.db.WithContext(ctx).
		Where("request_id = ?", model.ID).
		Order("seq ASC").
		Find(&logModels).Error; err != nil {
		return nil, fmt.Errorf("failed to load row logs: %w", err)
	}
	logs := make([]bulk.RowLog, len(logModels))
	for i := range logModels {
		logs[i] = logModels[i].ToDomain()
	}
	req.RestoreRowLogs(logs)
	return req, nil
}

// FindAllForTenant lists requests newest first, returning the page and the total count
func (r *GormBulkProcessingRequestRepository) FindAllForTenant(
	ctx context.Context,
	tenantID uuid.UUID,
	filter bulk.Filter,
	limit, offset int,
) ([]bulk.BulkProcessingRequest, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.BulkProcessingRequestModel{}).
		Scopes(tenantScope(tenantID))

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Type != nil {
		query = query.Where("type = ?", *filter.Type)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.Order(bulkRequestSort.clause(filter.SortBy, filter.SortOrder))
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []models.BulkProcessingRequestModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	requests := make([]bulk.BulkProcessingRequest, len(rows))
	for i := range rows {
		requests[i] = *rows[i].ToDomain()
	}
	return requests, total, nil
}

// FindPending returns PENDING requests across tenants, oldest first.
// Used to re-enqueue work after a restart.
func (r *GormBulkProcessingRequestRepository) FindPending(ctx context.Context, limit int) ([]bulk.BulkProcessingRequest, error) {
	query := r.db.WithContext(ctx).
		Where("status = ?", bulk.StatusPending).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.BulkProcessingRequestModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	requests := make([]bulk.BulkProcessingRequest, len(rows))
	for i := range rows {
		requests[i] = *rows[i].ToDomain()
	}
	return requests, nil
}

// Create inserts a new request and any logs it already carries
func (r *GormBulkProcessingRequestRepository) Create(ctx context.Context, req *bulk.BulkProcessingRequest) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(models.BulkProcessingRequestModelFromDomain(req)).Error; err != nil {
			return fmt.Errorf("failed to create bulk processing request: %w", err)
		}
		if err := insertPendingLogs(tx, req); err != nil {
			return err
		}
		req.MarkRowLogsPersisted()
		return nil
	})
}

// Save writes counters and status under optimistic locking and appends the
// pending row logs in the same transaction.
func (r *GormBulkProcessingRequestRepository) Save(ctx context.Context, req *bulk.BulkProcessingRequest) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.BulkProcessingRequestModel{}).
			Where("id = ? AND version = ?", req.ID, req.Version).
			Updates(map[string]any{
				"status":          req.Status,
				"total_rows":      req.TotalRows,
				"processed_rows":  req.ProcessedRows,
				"successful_rows": req.SuccessfulRows,
				"failed_rows":     req.FailedRows,
				"started_at":      req.StartedAt,
				"completed_at":    req.CompletedAt,
				"error_message":   req.ErrorMessage,
				"cancel_reason":   req.CancelReason,
				"version":         req.Version + 1,
				"updated_at":      req.UpdatedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to save bulk processing request: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return shared.ErrConcurrencyConflict
		}
		return insertPendingLogs(tx, req)
	})
	if err != nil {
		return err
	}
	req.MarkRowLogsPersisted()
	req.IncrementVersion()
	return nil
}

// SaveProgress keeps the outcome of rows processed before a cancellation was
// observed. Only counters and row logs are written.
func (r *GormBulkProcessingRequestRepository) SaveProgress(ctx context.Context, req *bulk.BulkProcessingRequest) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.BulkProcessingRequestModel{}).
			Where("id = ? AND status = ?", req.ID, bulk.StatusCancelled).
			Updates(map[string]any{
				"total_rows":      req.TotalRows,
				"processed_rows":  req.ProcessedRows,
				"successful_rows": req.SuccessfulRows,
				"failed_rows":     req.FailedRows,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to save bulk processing progress: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return shared.ErrConcurrencyConflict
		}
		return insertPendingLogs(tx, req)
	})
	if err != nil {
		return err
	}
	req.MarkRowLogsPersisted()
	return nil
}

func insertPendingLogs(tx *gorm.DB, req *bulk.BulkProcessingRequest) error {
	pending := req.PendingRowLogs()
	if len(pending) == 0 {
		return nil
	}
	base := req.RowLogCount() - len(pending)
	rows := make([]*models.BulkProcessingRowLogModel, len(pending))
	for i, l := range pending {
		rows[i] = models.RowLogModelFromDomain(req.ID, base+i, l)
	}
	if err := tx.CreateInBatches(rows, 200).Error; err != nil {
		return fmt.Errorf("failed to append row logs: %w", err)
	}
	return nil
}

// Status reads only the stored status of a request
func (r *GormBulkProcessingRequestRepository) Status(ctx context.Context, id uuid.UUID) (bulk.Status, error) {
	var statuses []bulk.Status
	if err := r.db.WithContext(ctx).
		Model(&models.BulkProcessingRequestModel{}).
		Where("id = ?", id).
		Limit(1).
		Pluck("status", &statuses).Error; err != nil {
		return "", err
	}
	if len(statuses) == 0 {
		return "", shared.NewNotFoundError("bulk processing request")
	}
	return statuses[0], nil
}

// RowLogs returns the logs of one level ordered by row number. An empty
// level returns every log.
func (r *GormBulkProcessingRequestRepository) RowLogs(ctx context.Context, id uuid.UUID, level bulk.LogLevel) ([]bulk.RowLog, error) {
	query := r.db.WithContext(ctx).Where("request_id = ?", id)
	if level != "" {
		query = query.Where("level = ?", level)
	}

	var rows []models.BulkProcessingRowLogModel
	if err := query.Order("row_number ASC, seq ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	logs := make([]bulk.RowLog, len(rows))
	for i := range rows {
		logs[i] = rows[i].ToDomain()
	}
	return logs, nil
}

var _ bulk.BulkProcessingRequestRepository = (*GormBulkProcessingRequestRepository)(nil)
