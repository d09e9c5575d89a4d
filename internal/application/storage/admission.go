package storage

import (
	"context"
	"fmt"

	"github.com/erp/ingest/internal/domain/shared"
	"github.com/erp/ingest/internal/domain/storage"
	"github.com/erp/ingest/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdmissionController bounds the number of concurrent uploads per user
type AdmissionController struct {
	registry TierResolver
	ledger   storage.ConcurrencyLedger
	metrics  *telemetry.IngestMetrics
	logger   *zap.Logger
}

// NewAdmissionController creates a controller. metrics may be nil.
func NewAdmissionController(registry TierResolver, ledger storage.ConcurrencyLedger, metrics *telemetry.IngestMetrics, logger *zap.Logger) *AdmissionController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdmissionController{
		registry: registry,
		ledger:   ledger,
		metrics:  metrics,
		logger:   logger,
	}
}

// TryAcquire takes one upload slot for userID, or fails with
// CONCURRENT_UPLOADS_EXCEEDED when the tier limit is reached
func (c *AdmissionController) TryAcquire(ctx context.Context, userID uuid.UUID) error {
	info, err := c.registry.GetUserTierInfo(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := c.ledger.TryAcquire(ctx, userID, info.MaxSimultaneousFiles)
	if err != nil {
		return fmt.Errorf("acquire upload slot: %w", err)
	}
	if !ok {
		c.logger.Info("Upload slot denied",
			zap.String("user_id", userID.String()),
			zap.Int("limit", info.MaxSimultaneousFiles),
		)
		return shared.NewDomainError(shared.CodeConcurrentUploads,
			fmt.Sprintf("maximum of %d simultaneous uploads reached", info.MaxSimultaneousFiles))
	}
	c.metrics.RecordSlotAcquired(ctx)
	return nil
}

// Release gives back one slot. The counter never drops below zero.
func (c *AdmissionController) Release(ctx context.Context, userID uuid.UUID) error {
	if err := c.ledger.Release(ctx, userID); err != nil {
		return fmt.Errorf("release upload slot: %w", err)
	}
	c.metrics.RecordSlotReleased(ctx)
	return nil
}

// Stats returns a point-in-time view over all users
func (c *AdmissionController) Stats(ctx context.Context) (storage.UploadStats, error) {
	snap, err := c.ledger.Snapshot(ctx)
	if err != nil {
		return storage.UploadStats{}, fmt.Errorf("snapshot upload ledger: %w", err)
	}
	return snap.Stats(), nil
}

// ActiveUploads returns the slots currently held by userID
func (c *AdmissionController) ActiveUploads(ctx context.Context, userID uuid.UUID) (int, error) {
	n, err := c.ledger.Active(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("read upload ledger: %w", err)
	}
	return n, nil
}
