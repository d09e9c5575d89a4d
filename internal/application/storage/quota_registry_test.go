package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erp/ingest/internal/domain/shared"
	"github.com/erp/ingest/internal/domain/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestTier() *storage.StorageTier {
	return &storage.StorageTier{
		ID:                   uuid.New(),
		Name:                 "pro",
		Level:                2,
		MaxStorageBytes:      10 << 30,
		MaxSimultaneousFiles: 5,
		AllowedFileConfig: storage.AllowedFileConfig{
			"csv": {"text/csv"},
			"pdf": {"application/pdf"},
			"png": nil,
		},
		IsActive: true,
	}
}

func TestQuotaRegistry_GetUserTierInfo(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	tier := newTestTier()

	t.Run("narrows tier file types with the user override", func(t *testing.T) {
		tiers := new(MockTierRepository)
		configs := new(MockUserStorageConfigRepository)
		configs.On("FindByUserID", ctx, userID).Return(&storage.UserStorageConfig{
			UserID:            userID,
			StorageTierID:     tier.ID,
			AllowedFileConfig: storage.AllowedFileConfig{"csv": nil, "exe": nil},
		}, nil)
		tiers.On("FindByID", ctx, tier.ID).Return(tier, nil)

		info, err := NewQuotaRegistry(tiers, configs).GetUserTierInfo(ctx, userID)
		require.NoError(t, err)

		assert.Equal(t, "pro", info.TierName)
		assert.Equal(t, 2, info.TierLevel)
		assert.Equal(t, 5, info.MaxSimultaneousFiles)
		assert.Equal(t, uint64(10<<30), info.MaxStorageBytes)
		assert.Equal(t, storage.AllowedFileConfig{"csv": {"text/csv"}}, info.AllowedFileConfig)
	})

	t.Run("not found without a storage config", func(t *testing.T) {
		tiers := new(MockTierRepository)
		configs := new(MockUserStorageConfigRepository)
		configs.On("FindByUserID", ctx, userID).Return(nil, shared.NewNotFoundError("user storage config"))

		_, err := NewQuotaRegistry(tiers, configs).GetUserTierInfo(ctx, userID)
		assert.ErrorIs(t, err, shared.ErrNotFound)
		tiers.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	})

	t.Run("not found when the tier is missing", func(t *testing.T) {
		tiers := new(MockTierRepository)
		configs := new(MockUserStorageConfigRepository)
		configs.On("FindByUserID", ctx, userID).Return(&storage.UserStorageConfig{UserID: userID, StorageTierID: tier.ID}, nil)
		tiers.On("FindByID", ctx, tier.ID).Return(nil, shared.NewNotFoundError("storage tier"))

		_, err := NewQuotaRegistry(tiers, configs).GetUserTierInfo(ctx, userID)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("not found when the tier is inactive", func(t *testing.T) {
		inactive := newTestTier()
		inactive.IsActive = false
		tiers := new(MockTierRepository)
		configs := new(MockUserStorageConfigRepository)
		configs.On("FindByUserID", ctx, userID).Return(&storage.UserStorageConfig{UserID: userID, StorageTierID: inactive.ID}, nil)
		tiers.On("FindByID", ctx, inactive.ID).Return(inactive, nil)

		_, err := NewQuotaRegistry(tiers, configs).GetUserTierInfo(ctx, userID)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("wraps repository failures", func(t *testing.T) {
		tiers := new(MockTierRepository)
		configs := new(MockUserStorageConfigRepository)
		configs.On("FindByUserID", ctx, userID).Return(nil, errors.New("connection reset"))

		_, err := NewQuotaRegistry(tiers, configs).GetUserTierInfo(ctx, userID)
		require.Error(t, err)
		assert.NotErrorIs(t, err, shared.ErrNotFound)
		assert.Contains(t, err.Error(), "connection reset")
	})
}

func TestQuotaRegistry_Cache(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	tier := newTestTier()

	newMocks := func() (*MockTierRepository, *MockUserStorageConfigRepository) {
		tiers := new(MockTierRepository)
		configs := new(MockUserStorageConfigRepository)
		configs.On("FindByUserID", ctx, userID).Return(&storage.UserStorageConfig{UserID: userID, StorageTierID: tier.ID}, nil)
		tiers.On("FindByID", ctx, tier.ID).Return(tier, nil)
		return tiers, configs
	}

	t.Run("reuses entries within the ttl", func(t *testing.T) {
		tiers, configs := newMocks()
		registry := NewQuotaRegistry(tiers, configs, WithTierCacheTTL(time.Minute))

		for range 3 {
			_, err := registry.GetUserTierInfo(ctx, userID)
			require.NoError(t, err)
		}
		configs.AssertNumberOfCalls(t, "FindByUserID", 1)
		tiers.AssertNumberOfCalls(t, "FindByID", 1)
	})

	t.Run("reloads after expiry", func(t *testing.T) {
		tiers, configs := newMocks()
		registry := NewQuotaRegistry(tiers, configs, WithTierCacheTTL(time.Minute))
		now := time.Now()
		registry.now = func() time.Time { return now }

		_, err := registry.GetUserTierInfo(ctx, userID)
		require.NoError(t, err)

		now = now.Add(2 * time.Minute)
		_, err = registry.GetUserTierInfo(ctx, userID)
		require.NoError(t, err)
		configs.AssertNumberOfCalls(t, "FindByUserID", 2)
	})

	t.Run("invalidate drops the entry", func(t *testing.T) {
		tiers, configs := newMocks()
		registry := NewQuotaRegistry(tiers, configs, WithTierCacheTTL(time.Minute))

		_, err := registry.GetUserTierInfo(ctx, userID)
		require.NoError(t, err)
		registry.Invalidate(userID)
		_, err = registry.GetUserTierInfo(ctx, userID)
		require.NoError(t, err)
		configs.AssertNumberOfCalls(t, "FindByUserID", 2)
	})

	t.Run("zero ttl disables caching", func(t *testing.T) {
		tiers, configs := newMocks()
		registry := NewQuotaRegistry(tiers, configs)

		for range 2 {
			_, err := registry.GetUserTierInfo(ctx, userID)
			require.NoError(t, err)
		}
		configs.AssertNumberOfCalls(t, "FindByUserID", 2)
	})
}
