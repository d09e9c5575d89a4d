package bulk

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/ingest/internal/domain/bulk"
	"github.com/erp/ingest/internal/domain/shared"
	"github.com/erp/ingest/internal/domain/storage"
	"github.com/erp/ingest/internal/infrastructure/scheduler"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Paging bounds for List
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// cancelAttempts bounds the retries of Cancel racing a runner flush
const cancelAttempts = 3

// JobSubmitter enqueues jobs. scheduler.JobQueue satisfies it.
type JobSubmitter interface {
	Submit(ctx context.Context, jobID string, payload map[string]any) error
}

// JobStatusReader reads the live job status projection
type JobStatusReader interface {
	Get(ctx context.Context, jobID string) (bulk.JobStatus, error)
}

// Service handles bulk processing commands and queries
type Service struct {
	repo     bulk.BulkProcessingRequestRepository
	sessions storage.UploadSessionRepository
	queue    JobSubmitter
	status   JobStatusReader
	logger   *zap.Logger
}

// NewService creates a bulk processing service. sessions may be nil, in which
// case file ids are checked only by the strategy when the job runs.
func NewService(
	repo bulk.BulkProcessingRequestRepository,
	sessions storage.UploadSessionRepository,
	queue JobSubmitter,
	status JobStatusReader,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		sessions: sessions,
		queue:    queue,
		status:   status,
		logger:   logger,
	}
}

// CreateInput describes a new bulk processing request
type CreateInput struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
	Type     bulk.ProcessingType
	FileID   *uuid.UUID
	Options  map[string]any
	Metadata map[string]any
}

// Create stores a PENDING request and enqueues its job
func (s *Service) Create(ctx context.Context, in CreateInput) (*bulk.BulkProcessingRequest, error) {
	req, err := bulk.NewBulkProcessingRequest(in.TenantID, in.UserID, in.Type, in.FileID, in.Options, in.Metadata)
	if err != nil {
		return nil, err
	}
	if err := s.checkFile(ctx, req); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create bulk processing request: %w", err)
	}

	if err := s.enqueue(ctx, req); err != nil {
		if failErr := req.MarkFailed("failed to enqueue job: " + err.Error()); failErr == nil {
			if saveErr := s.repo.Save(ctx, req); saveErr != nil {
				s.logger.Error("Failed to record enqueue failure",
					zap.String("request_id", req.ID.String()),
					zap.Error(saveErr),
				)
			}
		}
		return nil, fmt.Errorf("enqueue bulk job: %w", err)
	}

	s.logger.Info("Bulk processing request created",
		zap.String("request_id", req.ID.String()),
		zap.String("job_id", req.JobID),
		zap.String("type", string(req.Type)),
	)
	return req, nil
}

func (s *Service) checkFile(ctx context.Context, req *bulk.BulkProcessingRequest) error {
	if s.sessions == nil || req.FileID == nil {
		return nil
	}
	session, err := s.sessions.FindByFileID(ctx, *req.FileID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NewValidationError("file %s does not exist", *req.FileID)
		}
		return fmt.Errorf("load upload session: %w", err)
	}
	if !req.BelongsTo(session.TenantID) {
		return shared.NewValidationError("file %s does not exist", *req.FileID)
	}
	if session.Status != storage.UploadStatusUploaded {
		return shared.NewValidationError("file %s has not finished uploading", *req.FileID)
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, req *bulk.BulkProcessingRequest) error {
	return s.queue.Submit(ctx, req.JobID, map[string]any{
		PayloadRequestID: req.ID.String(),
		"type":           string(req.Type),
		"tenant_id":      req.TenantID.String(),
	})
}

// Get loads a request with its row logs
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*bulk.BulkProcessingRequest, error) {
	return s.repo.FindByIDForTenant(ctx, tenantID, id)
}

// ListResult is one page of requests
type ListResult struct {
	Items  []bulk.BulkProcessingRequest
	Total  int64
	Limit  int
	Offset int
}

// List pages through a tenant's requests, newest first
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, filter bulk.Filter, limit, offset int) (*ListResult, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	offset = max(offset, 0)

	items, total, err := s.repo.FindAllForTenant(ctx, tenantID, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list bulk processing requests: %w", err)
	}
	return &ListResult{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// GetJobStatus returns the queue-side status of a job. An unknown job yields
// Exists=false and no error.
func (s *Service) GetJobStatus(ctx context.Context, jobID string) (bulk.JobStatus, error) {
	status, err := s.status.Get(ctx, jobID)
	if err != nil {
		return bulk.JobStatus{}, fmt.Errorf("read job status: %w", err)
	}
	return status, nil
}

// GetRequestJobStatus resolves the job of a tenant's request and returns its status
func (s *Service) GetRequestJobStatus(ctx context.Context, tenantID, id uuid.UUID) (bulk.JobStatus, error) {
	req, err := s.repo.FindByIDForTenant(ctx, tenantID, id)
	if err != nil {
		return bulk.JobStatus{}, err
	}
	return s.GetJobStatus(ctx, req.JobID)
}

// Report is the list of row logs of one level for a request
type Report struct {
	RequestID uuid.UUID     `json:"request_id"`
	Level     bulk.LogLevel `json:"level"`
	Entries   []bulk.RowLog `json:"entries"`
}

// GetErrorReport returns the ERROR row logs in row order
func (s *Service) GetErrorReport(ctx context.Context, tenantID, id uuid.UUID) (*Report, error) {
	return s.report(ctx, tenantID, id, bulk.LogLevelError)
}

// GetWarningReport returns the WARNING row logs in row order
func (s *Service) GetWarningReport(ctx context.Context, tenantID, id uuid.UUID) (*Report, error) {
	return s.report(ctx, tenantID, id, bulk.LogLevelWarning)
}

func (s *Service) report(ctx context.Context, tenantID, id uuid.UUID, level bulk.LogLevel) (*Report, error) {
	req, err := s.repo.FindByIDForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	logs, err := s.repo.RowLogs(ctx, req.ID, level)
	if err != nil {
		return nil, fmt.Errorf("load row logs: %w", err)
	}
	if logs == nil {
		logs = []bulk.RowLog{}
	}
	return &Report{RequestID: req.ID, Level: level, Entries: logs}, nil
}

// Cancel stops a PENDING or PROCESSING request. A running job notices the
// cancellation between rows; the row in flight completes.
func (s *Service) Cancel(ctx context.Context, tenantID, id uuid.UUID, reason string) (*bulk.BulkProcessingRequest, error) {
	if reason == "" {
		reason = "cancelled by user"
	}
	for attempt := 1; ; attempt++ {
		req, err := s.repo.FindByIDForTenant(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		if !req.Status.IsCancellable() {
			return nil, shared.NewConflictError(shared.CodeInvalidState,
				fmt.Sprintf("bulk processing request is already %s", req.Status))
		}
		if err := req.MarkCancelled(reason); err != nil {
			return nil, err
		}

		err = s.repo.Save(ctx, req)
		if err == nil {
			s.logger.Info("Bulk processing request cancelled",
				zap.String("request_id", req.ID.String()),
				zap.String("reason", reason),
			)
			return req, nil
		}
		// the runner flushed in between; reload and try again
		if !errors.Is(err, shared.ErrConcurrencyConflict) || attempt >= cancelAttempts {
			return nil, err
		}
	}
}

// ResumePending re-enqueues PENDING requests left over from a previous run.
// Requests whose job is already queued are skipped. It stops at the first
// submit failure and returns how many were enqueued.
func (s *Service) ResumePending(ctx context.Context, limit int) (int, error) {
	pending, err := s.repo.FindPending(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending bulk processing requests: %w", err)
	}

	resumed := 0
	for i := range pending {
		err := s.enqueue(ctx, &pending[i])
		if errors.Is(err, scheduler.ErrJobAlreadyQueued) {
			continue
		}
		if err != nil {
			return resumed, fmt.Errorf("resume bulk job %s: %w", pending[i].JobID, err)
		}
		resumed++
	}
	if resumed > 0 {
		s.logger.Info("Resumed pending bulk processing requests", zap.Int("count", resumed))
	}
	return resumed, nil
}
