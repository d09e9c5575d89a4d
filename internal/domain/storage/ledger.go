package storage

import (
	"context"

	"github.com/google/uuid"
)

// ConcurrencyLedger counts in-flight uploads per user. TryAcquire must check
// and increment in a single atomic step; Release never drops below zero.
type ConcurrencyLedger interface {
	TryAcquire(ctx context.Context, userID uuid.UUID, limit int) (bool, error)
	Release(ctx context.Context, userID uuid.UUID) error
	Active(ctx context.Context, userID uuid.UUID) (int, error)
	Snapshot(ctx context.Context) (LedgerSnapshot, error)
}

// LedgerSnapshot is a point-in-time view of the ledger. Users with a zero
// counter are not included.
type LedgerSnapshot struct {
	ActiveByUser map[uuid.UUID]int
}

// UploadStats summarizes ledger occupancy
type UploadStats struct {
	TotalActiveUsers      int     `json:"total_active_users"`
	TotalActiveUploads    int     `json:"total_active_uploads"`
	AverageUploadsPerUser float64 `json:"average_uploads_per_user"`
}

// Stats derives aggregate numbers from the snapshot
func (s LedgerSnapshot) Stats() UploadStats {
	var stats UploadStats
	for _, n := range s.ActiveByUser {
		if n <= 0 {
			continue
		}
		stats.TotalActiveUsers++
		stats.TotalActiveUploads += n
	}
	if stats.TotalActiveUsers > 0 {
		stats.AverageUploadsPerUser = float64(stats.TotalActiveUploads) / float64(stats.TotalActiveUsers)
	}
	return stats
}
