package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// IngestMetrics holds the upload admission and bulk pipeline instruments.
// A nil *IngestMetrics is valid and records nothing.
type IngestMetrics struct {
	uploadsInitiated *Counter
	uploadsAborted   *Counter
	bulkJobs         *Counter
	bulkRows         *Counter
	jobDuration      *Histogram
	activeUploads    metric.Int64UpDownCounter
}

// Upload admission results
const (
	ResultAdmitted       = "admitted"
	ResultQuotaExceeded  = "quota_exceeded"
	ResultInvalidFile    = "invalid_file"
	ResultStorageFailure = "storage_failure"
)

// Row outcomes
const (
	RowOutcomeSuccess = "success"
	RowOutcomeWarning = "warning"
	RowOutcomeError   = "error"
)

// NewIngestMetrics creates the instruments on meter.
func NewIngestMetrics(meter metric.Meter) (*IngestMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	uploadsInitiated, err := NewCounter(meter, "upload_initiate_total", "Upload initiation attempts by result", "{upload}")
	if err != nil {
		return nil, err
	}
	uploadsAborted, err := NewCounter(meter, "upload_abort_total", "Aborted uploads by reason", "{upload}")
	if err != nil {
		return nil, err
	}
	bulkJobs, err := NewCounter(meter, "bulk_job_total", "Finished bulk jobs by type and final status", "{job}")
	if err != nil {
		return nil, err
	}
	bulkRows, err := NewCounter(meter, "bulk_row_total", "Processed bulk rows by outcome", "{row}")
	if err != nil {
		return nil, err
	}
	jobDuration, err := NewHistogram(meter, HistogramOpts{
		Name:        "bulk_job_duration_seconds",
		Description: "Bulk job wall time in seconds",
		Unit:        "s",
		Boundaries:  JobDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	activeUploads, err := meter.Int64UpDownCounter("upload_active",
		metric.WithDescription("Upload slots currently held"),
		metric.WithUnit("{upload}"),
	)
	if err != nil {
		return nil, err
	}

	return &IngestMetrics{
		uploadsInitiated: uploadsInitiated,
		uploadsAborted:   uploadsAborted,
		bulkJobs:         bulkJobs,
		bulkRows:         bulkRows,
		jobDuration:      jobDuration,
		activeUploads:    activeUploads,
	}, nil
}

// RecordUploadInitiated counts an initiation attempt by result.
func (m *IngestMetrics) RecordUploadInitiated(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.uploadsInitiated.Inc(ctx, AttrResult.String(result))
}

// RecordSlotAcquired counts a granted upload slot.
func (m *IngestMetrics) RecordSlotAcquired(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeUploads.Add(ctx, 1)
}

// RecordSlotReleased gives back a granted upload slot.
func (m *IngestMetrics) RecordSlotReleased(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeUploads.Add(ctx, -1)
}

// RecordUploadAborted counts an abort.
func (m *IngestMetrics) RecordUploadAborted(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.uploadsAborted.Inc(ctx, AttrReason.String(reason))
}

// RecordBulkRow counts one row outcome.
func (m *IngestMetrics) RecordBulkRow(ctx context.Context, bulkType, outcome string) {
	if m == nil {
		return
	}
	m.bulkRows.Inc(ctx, AttrBulkType.String(bulkType), AttrRowOutcome.String(outcome))
}

// RecordBulkJob counts a finished job and its duration.
func (m *IngestMetrics) RecordBulkJob(ctx context.Context, bulkType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.bulkJobs.Inc(ctx, AttrBulkType.String(bulkType), AttrBulkStatus.String(status))
	m.jobDuration.RecordDuration(ctx, d, AttrBulkType.String(bulkType), AttrBulkStatus.String(status))
}
