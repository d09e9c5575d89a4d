// Package bulk runs bulk processing requests on the job queue and serves
// their commands and queries.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/erp/ingest/internal/domain/bulk"
	"github.com/erp/ingest/internal/domain/shared"
	"github.com/erp/ingest/internal/infrastructure/logger"
	"github.com/erp/ingest/internal/infrastructure/scheduler"
	"github.com/erp/ingest/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// PayloadRequestID is the job payload key carrying the request id
const PayloadRequestID = "request_id"

// DefaultFlushEvery is how many rows are processed between progress saves
const DefaultFlushEvery = 50

// Failure reasons recorded when the job context ends early
const (
	ReasonTimedOut  = "job timed out"
	ReasonCancelled = "job cancelled"
)

// StrategyResolver selects the row strategy of a processing type
type StrategyResolver interface {
	Get(t bulk.ProcessingType) (bulk.RowStrategy, error)
}

// Runner executes one bulk processing request per queued job. The aggregate
// stays authoritative; the job status store only mirrors progress.
type Runner struct {
	repo       bulk.BulkProcessingRequestRepository
	strategies StrategyResolver
	flushEvery int
	metrics    *telemetry.IngestMetrics
	logger     *zap.Logger
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithFlushEvery sets the progress save interval in rows
func WithFlushEvery(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.flushEvery = n
		}
	}
}

// WithRunnerMetrics records row and job counters
func WithRunnerMetrics(m *telemetry.IngestMetrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithRunnerLogger sets the logger
func WithRunnerLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner creates a runner
func NewRunner(repo bulk.BulkProcessingRequestRepository, strategies StrategyResolver, opts ...RunnerOption) *Runner {
	r := &Runner{
		repo:       repo,
		strategies: strategies,
		flushEvery: DefaultFlushEvery,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ scheduler.Handler = (*Runner)(nil)

// errStopped ends a run whose request was finished by another writer
var errStopped = errors.New("bulk processing request finished elsewhere")

// Handle implements scheduler.Handler
func (r *Runner) Handle(ctx context.Context, job scheduler.Job, progress scheduler.ProgressFunc) error {
	if progress == nil {
		progress = func(context.Context, int) {}
	}
	id, err := requestIDFromJob(job)
	if err != nil {
		return err
	}

	req, err := r.repo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load bulk processing request: %w", err)
	}
	if req.Status != bulk.StatusPending {
		r.logger.Info("Skipping bulk processing request that is no longer pending",
			zap.String("request_id", id.String()),
			zap.String("status", string(req.Status)),
		)
		return jobOutcome(req)
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "bulk", "process",
		telemetry.WithAttribute(telemetry.SpanAttrRequestID, req.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrJobID, req.JobID),
		telemetry.WithAttribute(telemetry.SpanAttrBulkType, string(req.Type)),
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, req.TenantID.String()),
	)
	defer span.End()

	ctx = logger.WithTenantID(logger.WithUserID(ctx, req.UserID.String()), req.TenantID.String())
	labels := map[string]string{
		telemetry.ProfilingLabelOperation: "bulk_process",
		telemetry.ProfilingLabelBulkType:  string(req.Type),
		telemetry.ProfilingLabelTenantID:  req.TenantID.String(),
	}

	start := time.Now()
	telemetry.WithProfilingLabels(ctx, labels, func(ctx context.Context) {
		err = r.run(ctx, req, progress, span)
	})

	if errors.Is(err, errStopped) {
		err = r.settled(ctx, req)
	}

	r.metrics.RecordBulkJob(ctx, string(req.Type), string(req.Status), time.Since(start))
	telemetry.SetAttributes(span,
		telemetry.SpanAttrFinalStatus, string(req.Status),
		telemetry.SpanAttrFailedRows, req.FailedRows,
	)
	if err != nil && !errors.Is(err, scheduler.ErrJobCancelled) && !errors.Is(err, scheduler.ErrJobSkipped) {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.SetOK(span)
	return err
}

// settled reloads a request another writer finished or owns and maps its
// stored status to the job outcome
func (r *Runner) settled(ctx context.Context, req *bulk.BulkProcessingRequest) error {
	current, err := r.repo.FindByID(context.WithoutCancel(ctx), req.ID)
	if err != nil {
		return fmt.Errorf("reload bulk processing request: %w", err)
	}
	*req = *current
	return jobOutcome(req)
}

func jobOutcome(req *bulk.BulkProcessingRequest) error {
	switch req.Status {
	case bulk.StatusCompleted:
		return nil
	case bulk.StatusCancelled:
		return scheduler.ErrJobCancelled
	case bulk.StatusFailed:
		reason := "bulk processing failed"
		if req.ErrorMessage != nil {
			reason = *req.ErrorMessage
		}
		return shared.NewDomainError(shared.CodeFatalProcessing, reason)
	default:
		return scheduler.ErrJobSkipped
	}
}

func (r *Runner) run(ctx context.Context, req *bulk.BulkProcessingRequest, progress scheduler.ProgressFunc, span trace.Span) error {
	log := logger.L(ctx).With(zap.String("request_id", req.ID.String()))

	if err := req.MarkStarted(); err != nil {
		return err
	}
	if err := r.save(ctx, req); err != nil {
		if errors.Is(err, shared.ErrConcurrencyConflict) {
			// another runner started it first
			return errStopped
		}
		return err
	}

	strategy, err := r.strategies.Get(req.Type)
	if err != nil {
		return r.fail(ctx, req, err.Error())
	}
	source, err := strategy.Open(ctx, req)
	if err != nil {
		if ctxErr := r.contextFailure(ctx, req); ctxErr != nil {
			return ctxErr
		}
		return r.fail(ctx, req, "failed to open row source: "+err.Error())
	}
	defer source.Close()

	if total, ok := source.TotalRows(); ok {
		if err := req.SetTotalRows(total); err != nil {
			return r.fail(ctx, req, err.Error())
		}
		telemetry.SetAttributes(span, telemetry.SpanAttrTotalRows, total)
	}
	log.Info("Bulk processing started", zap.String("type", string(req.Type)))

	sinceFlush := 0
	for {
		if err := r.contextFailure(ctx, req); err != nil {
			return err
		}
		cancelled, err := r.cancelRequested(ctx, req)
		if err != nil {
			return err
		}
		if cancelled {
			log.Info("Bulk processing cancelled", zap.Int("processed_rows", req.ProcessedRows))
			return errStopped
		}

		row, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var malformed *bulk.MalformedRowError
			if !errors.As(err, &malformed) {
				if ctxErr := r.contextFailure(ctx, req); ctxErr != nil {
					return ctxErr
				}
				return r.fail(ctx, req, "failed to read row: "+err.Error())
			}
			if err := req.AddRowLog(malformed.Number, bulk.LogLevelError, malformed.Message, malformed.RawData); err != nil {
				return r.fail(ctx, req, err.Error())
			}
			r.metrics.RecordBulkRow(ctx, string(req.Type), telemetry.RowOutcomeError)
		} else if err := r.processRow(ctx, strategy, req, row); err != nil {
			return r.fail(ctx, req, err.Error())
		}

		sinceFlush++
		if sinceFlush >= r.flushEvery {
			sinceFlush = 0
			if err := r.save(ctx, req); err != nil {
				return err
			}
			progress(ctx, req.Progress())
		}
	}

	if err := req.MarkCompleted(); err != nil {
		return err
	}
	if err := r.save(ctx, req); err != nil {
		return err
	}
	progress(ctx, 100)

	log.Info("Bulk processing completed",
		zap.Int("processed_rows", req.ProcessedRows),
		zap.Int("successful_rows", req.SuccessfulRows),
		zap.Int("failed_rows", req.FailedRows),
	)
	return nil
}

// processRow validates and applies one row. The returned error is fatal to the
// job; row problems are recorded as row logs.
func (r *Runner) processRow(ctx context.Context, strategy bulk.RowStrategy, req *bulk.BulkProcessingRequest, row bulk.Row) error {
	validation := strategy.ValidateRow(ctx, req, row)

	for _, w := range validation.Warnings {
		if err := req.AddRowLog(row.Number, bulk.LogLevelWarning, w, row.Data); err != nil {
			return err
		}
		r.metrics.RecordBulkRow(ctx, string(req.Type), telemetry.RowOutcomeWarning)
	}

	if !validation.Valid() {
		r.metrics.RecordBulkRow(ctx, string(req.Type), telemetry.RowOutcomeError)
		return req.AddRowLog(row.Number, bulk.LogLevelError, strings.Join(validation.Errors, "; "), row.Data)
	}

	if err := strategy.ApplyRow(ctx, req, row); err != nil {
		r.metrics.RecordBulkRow(ctx, string(req.Type), telemetry.RowOutcomeError)
		return req.AddRowLog(row.Number, bulk.LogLevelError, err.Error(), row.Data)
	}

	r.metrics.RecordBulkRow(ctx, string(req.Type), telemetry.RowOutcomeSuccess)
	return req.RecordSuccess(row.Number)
}

// save persists the aggregate. A version conflict means another writer won:
// the runner stops when the request is already terminal, keeping its row
// outcomes if the winner was a cancellation.
func (r *Runner) save(ctx context.Context, req *bulk.BulkProcessingRequest) error {
	err := r.repo.Save(context.WithoutCancel(ctx), req)
	if err == nil {
		return nil
	}
	if !errors.Is(err, shared.ErrConcurrencyConflict) {
		return fmt.Errorf("save bulk processing request: %w", err)
	}

	current, loadErr := r.repo.FindByID(context.WithoutCancel(ctx), req.ID)
	if loadErr != nil {
		return fmt.Errorf("reload bulk processing request after conflict: %w", loadErr)
	}
	if current.Status == bulk.StatusCancelled {
		r.keepProgress(ctx, req)
	}
	if current.Status.IsTerminal() {
		return errStopped
	}
	return err
}

// keepProgress stores the rows finished before a cancellation was observed.
// The cancelled status written by the other writer stays as it is.
func (r *Runner) keepProgress(ctx context.Context, req *bulk.BulkProcessingRequest) {
	if req.ProcessedRows == 0 && len(req.PendingRowLogs()) == 0 {
		return
	}
	if err := r.repo.SaveProgress(context.WithoutCancel(ctx), req); err != nil {
		logger.L(ctx).Error("Failed to save progress of cancelled bulk processing request",
			zap.String("request_id", req.ID.String()),
			zap.Error(err),
		)
	}
}

// cancelRequested polls the stored status between rows. A row in flight
// always completes before the poll sees the cancellation.
func (r *Runner) cancelRequested(ctx context.Context, req *bulk.BulkProcessingRequest) (bool, error) {
	status, err := r.repo.Status(ctx, req.ID)
	if err != nil {
		if ctxErr := r.contextFailure(ctx, req); ctxErr != nil {
			return false, ctxErr
		}
		return false, fmt.Errorf("poll bulk processing status: %w", err)
	}
	if status != bulk.StatusCancelled {
		return false, nil
	}
	r.keepProgress(ctx, req)
	return true, nil
}

// contextFailure fails the request when the job deadline passed or the job
// context was cancelled. It returns nil while ctx is live.
func (r *Runner) contextFailure(ctx context.Context, req *bulk.BulkProcessingRequest) error {
	switch {
	case ctx.Err() == nil:
		return nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return r.fail(ctx, req, ReasonTimedOut)
	default:
		return r.fail(ctx, req, ReasonCancelled)
	}
}

// fail marks the request FAILED and returns a fatal processing error
func (r *Runner) fail(ctx context.Context, req *bulk.BulkProcessingRequest, reason string) error {
	if !req.Status.IsTerminal() {
		if err := req.MarkFailed(reason); err != nil {
			return err
		}
		if err := r.save(ctx, req); err != nil {
			if errors.Is(err, errStopped) {
				return err
			}
			logger.L(ctx).Error("Failed to persist failed bulk processing request",
				zap.String("request_id", req.ID.String()),
				zap.Error(err),
			)
		}
	}
	logger.L(ctx).Warn("Bulk processing failed",
		zap.String("request_id", req.ID.String()),
		zap.String("reason", reason),
	)
	return shared.NewDomainError(shared.CodeFatalProcessing, reason)
}

func requestIDFromJob(job scheduler.Job) (uuid.UUID, error) {
	if raw, ok := job.Payload[PayloadRequestID].(string); ok {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid request id in job %s: %w", job.ID, err)
		}
		return id, nil
	}
	raw, ok := strings.CutPrefix(job.ID, "bulk:")
	if !ok {
		return uuid.Nil, fmt.Errorf("job %s carries no bulk request id", job.ID)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid bulk job id %s: %w", job.ID, err)
	}
	return id, nil
}
