// Package storage implements upload admission: tier resolution, the
// concurrent upload ledger and the multipart session lifecycle.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erp/ingest/internal/domain/shared"
	"github.com/erp/ingest/internal/domain/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TierResolver resolves the effective storage tier of a user
type TierResolver interface {
	GetUserTierInfo(ctx context.Context, userID uuid.UUID) (storage.TierInfo, error)
}

type cachedTier struct {
	info      storage.TierInfo
	expiresAt time.Time
}

// QuotaRegistry answers tier lookups from the tier and user config tables.
// Results are cached per user for a short TTL; a zero TTL disables caching.
type QuotaRegistry struct {
	tiers   storage.TierRepository
	configs storage.UserStorageConfigRepository
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	cache map[uuid.UUID]cachedTier
}

// QuotaRegistryOption configures a QuotaRegistry
type QuotaRegistryOption func(*QuotaRegistry)

// WithTierCacheTTL sets how long resolved tier infos are reused
func WithTierCacheTTL(ttl time.Duration) QuotaRegistryOption {
	return func(r *QuotaRegistry) {
		r.ttl = ttl
	}
}

// WithRegistryLogger sets the logger
func WithRegistryLogger(logger *zap.Logger) QuotaRegistryOption {
	return func(r *QuotaRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewQuotaRegistry creates a registry over the given repositories
func NewQuotaRegistry(tiers storage.TierRepository, configs storage.UserStorageConfigRepository, opts ...QuotaRegistryOption) *QuotaRegistry {
	r := &QuotaRegistry{
		tiers:   tiers,
		configs: configs,
		logger:  zap.NewNop(),
		now:     time.Now,
		cache:   make(map[uuid.UUID]cachedTier),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ TierResolver = (*QuotaRegistry)(nil)

// GetUserTierInfo returns the limits and the allowed file types of the user.
// NotFound when the user has no storage configuration or its tier is missing
// or inactive.
func (r *QuotaRegistry) GetUserTierInfo(ctx context.Context, userID uuid.UUID) (storage.TierInfo, error) {
	if info, ok := r.cached(userID); ok {
		return info, nil
	}

	cfg, err := r.configs.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return storage.TierInfo{}, shared.NewNotFoundError("storage configuration for user")
		}
		return storage.TierInfo{}, fmt.Errorf("load user storage config: %w", err)
	}

	tier, err := r.tiers.FindByID(ctx, cfg.StorageTierID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return storage.TierInfo{}, shared.NewNotFoundError("storage tier")
		}
		return storage.TierInfo{}, fmt.Errorf("load storage tier: %w", err)
	}
	if !tier.IsActive {
		r.logger.Warn("User references an inactive storage tier",
			zap.String("user_id", userID.String()),
			zap.String("tier_id", tier.ID.String()),
		)
		return storage.TierInfo{}, shared.NewNotFoundError("storage tier")
	}

	info := storage.ResolveTierInfo(tier, cfg)
	r.store(userID, info)
	return info, nil
}

// Invalidate drops the cached tier info of a user
func (r *QuotaRegistry) Invalidate(userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, userID)
}

func (r *QuotaRegistry) cached(userID uuid.UUID) (storage.TierInfo, bool) {
	if r.ttl <= 0 {
		return storage.TierInfo{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.cache[userID]
	if !ok {
		return storage.TierInfo{}, false
	}
	if r.now().After(entry.expiresAt) {
		delete(r.cache, userID)
		return storage.TierInfo{}, false
	}
	return entry.info, true
}

func (r *QuotaRegistry) store(userID uuid.UUID, info storage.TierInfo) {
	if r.ttl <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[userID] = cachedTier{info: info, expiresAt: r.now().Add(r.ttl)}
}
