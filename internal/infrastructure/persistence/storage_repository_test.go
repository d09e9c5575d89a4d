package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/erp/ingest/internal/domain/shared"
	"github.com/erp/ingest/internal/domain/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T, userID uuid.UUID, size uint64, ttl time.Duration) *storage.UploadSession {
	t.Helper()
	s, err := storage.NewUploadSession(storage.NewUploadSessionInput{
		TenantID:  uuid.New(),
		UserID:    userID,
		UploadID:  "upload-" + uuid.NewString(),
		ObjectKey: "uploads/" + userID.String() + "/file.csv",
		Bucket:    "ingest",
		MimeType:  "text/csv",
		SizeBytes: size,
		TTL:       ttl,
	})
	require.NoError(t, err)
	return s
}

func TestTierAndUserConfigRepositories(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	tiers := NewGormTierRepository(db)
	configs := NewGormUserStorageConfigRepository(db)

	tier := &storage.StorageTier{
		ID:                   uuid.New(),
		Name:                 "pro",
		Level:                2,
		MaxStorageBytes:      10 << 30,
		MaxSimultaneousFiles: 5,
		AllowedFileConfig:    storage.AllowedFileConfig{"csv": {"text/csv"}},
		IsActive:             true,
	}
	require.NoError(t, tiers.Save(ctx, tier))

	got, err := tiers.FindByID(ctx, tier.ID)
	require.NoError(t, err)
	assert.Equal(t, tier.MaxStorageBytes, got.MaxStorageBytes)
	assert.Equal(t, []string{"text/csv"}, got.AllowedFileConfig["csv"])

	_, err = tiers.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)

	userID := uuid.New()
	require.NoError(t, configs.Save(ctx, &storage.UserStorageConfig{UserID: userID, StorageTierID: tier.ID}))
	cfg, err := configs.FindByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, tier.ID, cfg.StorageTierID)
	assert.Nil(t, cfg.AllowedFileConfig)

	_, err = configs.FindByUserID(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUploadSessionRepository_CreateSave(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewGormUploadSessionRepository(db)
	s := newSession(t, uuid.New(), 100, time.Hour)

	require.NoError(t, repo.Create(ctx, s))

	loaded, err := repo.FindByFileID(ctx, s.FileID)
	require.NoError(t, err)
	assert.Equal(t, storage.UploadStatusPending, loaded.Status)
	assert.Equal(t, 1, loaded.Version)

	require.NoError(t, loaded.MarkUploading())
	require.NoError(t, repo.Save(ctx, loaded))
	assert.Equal(t, 2, loaded.Version)

	// The first copy is now stale
	require.NoError(t, s.Abort("user"))
	assert.ErrorIs(t, repo.Save(ctx, s), shared.ErrConcurrencyConflict)

	again, err := repo.FindByFileID(ctx, s.FileID)
	require.NoError(t, err)
	assert.Equal(t, storage.UploadStatusUploading, again.Status)

	_, err = repo.FindByFileID(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUploadSessionRepository_FindExpired(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewGormUploadSessionRepository(db)
	user := uuid.New()

	expired := newSession(t, user, 1, time.Minute)
	fresh := newSession(t, user, 1, time.Hour)
	aborted := newSession(t, user, 1, time.Minute)
	require.NoError(t, aborted.Abort("user"))

	for _, s := range []*storage.UploadSession{expired, fresh, aborted} {
		require.NoError(t, repo.Create(ctx, s))
	}

	found, err := repo.FindExpired(ctx, time.Now().Add(10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, expired.FileID, found[0].FileID)
}

func TestUploadSessionRepository_UsedBytes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewGormUploadSessionRepository(db)
	user := uuid.New()

	used, err := repo.UsedBytes(ctx, user)
	require.NoError(t, err)
	assert.Zero(t, used)

	a := newSession(t, user, 300, time.Hour)
	b := newSession(t, user, 200, time.Hour)
	c := newSession(t, user, 1000, time.Hour)
	require.NoError(t, c.Abort("user"))
	other := newSession(t, uuid.New(), 5000, time.Hour)
	for _, s := range []*storage.UploadSession{a, b, c, other} {
		require.NoError(t, repo.Create(ctx, s))
	}

	used, err = repo.UsedBytes(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), used)
}
