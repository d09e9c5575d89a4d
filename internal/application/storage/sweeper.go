package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/ingest/internal/domain/storage"
	"go.uber.org/zap"
)

// AbortReasonExpired is recorded on sessions reclaimed by the sweeper
const AbortReasonExpired = "expired"

// DefaultSweepBatchSize caps how many sessions one sweep aborts
const DefaultSweepBatchSize = 100

// SessionSweeper aborts sessions that held a slot past their expiry.
// It goes through the regular abort path so slot release happens exactly once.
type SessionSweeper struct {
	sessions     storage.UploadSessionRepository
	orchestrator *UploadOrchestrator
	batchSize    int
	logger       *zap.Logger
	now          func() time.Time
}

// NewSessionSweeper creates a sweeper
func NewSessionSweeper(sessions storage.UploadSessionRepository, orchestrator *UploadOrchestrator, batchSize int, logger *zap.Logger) *SessionSweeper {
	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionSweeper{
		sessions:     sessions,
		orchestrator: orchestrator,
		batchSize:    batchSize,
		logger:       logger,
		now:          time.Now,
	}
}

// Sweep aborts one batch of expired sessions and returns how many were aborted.
// Individual abort failures are logged and do not stop the batch.
func (s *SessionSweeper) Sweep(ctx context.Context) (int, error) {
	expired, err := s.sessions.FindExpired(ctx, s.now(), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired sessions: %w", err)
	}

	aborted := 0
	for _, session := range expired {
		if ctx.Err() != nil {
			return aborted, ctx.Err()
		}
		err := s.orchestrator.AbortUpload(ctx, AbortUploadInput{
			UserID: session.UserID,
			FileID: session.FileID,
			Force:  true,
			Reason: AbortReasonExpired,
		})
		if err != nil {
			s.logger.Warn("Failed to abort expired upload session",
				zap.String("file_id", session.FileID.String()),
				zap.Error(err),
			)
			continue
		}
		aborted++
	}

	if aborted > 0 {
		s.logger.Info("Expired upload sessions aborted", zap.Int("count", aborted))
	}
	return aborted, nil
}

// Run adapts Sweep to the periodic task signature
func (s *SessionSweeper) Run(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}
