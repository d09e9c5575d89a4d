package bulk

import (
	"context"
	"time"
)

// JobState is the queue-side lifecycle of a bulk job. It is tracked apart
// from the aggregate status and may lag it.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// IsFinished reports whether the job left the queue
func (s JobState) IsFinished() bool {
	return s == JobCompleted || s == JobFailed
}

// JobStatus is the read model returned to clients polling a job
type JobStatus struct {
	Exists       bool           `json:"exists"`
	State        JobState       `json:"state,omitempty"`
	Progress     int            `json:"progress"`
	Data         map[string]any `json:"data,omitempty"`
	ProcessedOn  *time.Time     `json:"processed_on,omitempty"`
	FinishedOn   *time.Time     `json:"finished_on,omitempty"`
	FailedReason string         `json:"failed_reason,omitempty"`
}

// JobStatusStore records job lifecycle transitions. Get on an unknown job
// returns a status with Exists=false and no error.
type JobStatusStore interface {
	MarkWaiting(ctx context.Context, jobID string, data map[string]any) error
	MarkActive(ctx context.Context, jobID string) error
	SetProgress(ctx context.Context, jobID string, progress int) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, reason string) error
	Get(ctx context.Context, jobID string) (JobStatus, error)
}
