package scheduler

import "errors"

var (
	// ErrQueueNotRunning is returned when submitting to a queue that is not started or already stopped
	ErrQueueNotRunning = errors.New("job queue is not running")

	// ErrJobQueueFull is returned when the job queue is full
	ErrJobQueueFull = errors.New("job queue is full")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrJobIDRequired is returned when a job is submitted without an id
	ErrJobIDRequired = errors.New("job id is required")
)

var (
	// ErrJobAlreadyQueued is returned when a job id is already waiting or running on this queue
	ErrJobAlreadyQueued = errors.New("job is already queued")

	// ErrJobCancelled is returned by handlers whose work was cancelled by a user.
	// The job is recorded as failed with CancelledReason.
	ErrJobCancelled = errors.New("job cancelled")

	// ErrJobSkipped is returned by handlers whose work is owned by another
	// runner. No terminal status is recorded for the job.
	ErrJobSkipped = errors.New("job skipped")
)

// CancelledReason is the failed reason recorded for cancelled jobs
const CancelledReason = "cancelled"
