package cache

import (
	"context"
	"testing"
	"time"

	"github.com/erp/ingest/internal/domain/bulk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryJobStatusStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryJobStatusStore(time.Hour)
	defer s.Close()

	st, err := s.Get(ctx, "bulk:missing")
	require.NoError(t, err)
	assert.False(t, st.Exists)

	require.NoError(t, s.MarkWaiting(ctx, "bulk:1", map[string]any{"type": "PRODUCT_CATALOG_IMPORT"}))
	st, _ = s.Get(ctx, "bulk:1")
	assert.True(t, st.Exists)
	assert.Equal(t, bulk.JobWaiting, st.State)
	assert.Equal(t, "PRODUCT_CATALOG_IMPORT", st.Data["type"])
	assert.Nil(t, st.ProcessedOn)

	require.NoError(t, s.MarkActive(ctx, "bulk:1"))
	require.NoError(t, s.SetProgress(ctx, "bulk:1", 40))
	st, _ = s.Get(ctx, "bulk:1")
	assert.Equal(t, bulk.JobActive, st.State)
	assert.Equal(t, 40, st.Progress)
	assert.NotNil(t, st.ProcessedOn)
	assert.Nil(t, st.FinishedOn)

	require.NoError(t, s.MarkCompleted(ctx, "bulk:1"))
	st, _ = s.Get(ctx, "bulk:1")
	assert.Equal(t, bulk.JobCompleted, st.State)
	assert.Equal(t, 100, st.Progress)
	assert.NotNil(t, st.FinishedOn)
}

func TestInMemoryJobStatusStore_Failed(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryJobStatusStore(time.Hour)
	defer s.Close()

	require.NoError(t, s.MarkWaiting(ctx, "bulk:2", nil))
	require.NoError(t, s.MarkFailed(ctx, "bulk:2", "job timed out"))

	st, _ := s.Get(ctx, "bulk:2")
	assert.Equal(t, bulk.JobFailed, st.State)
	assert.Equal(t, "job timed out", st.FailedReason)
}

func TestInMemoryJobStatusStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryJobStatusStore(time.Hour)
	defer s.Close()

	require.NoError(t, s.MarkWaiting(ctx, "bulk:3", map[string]any{"k": "v"}))
	st, _ := s.Get(ctx, "bulk:3")
	st.Data["k"] = "changed"

	again, _ := s.Get(ctx, "bulk:3")
	assert.Equal(t, "v", again.Data["k"])
}

func TestInMemoryJobStatusStore_ExpiresFinishedJobs(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryJobStatusStore(time.Minute)
	defer s.Close()

	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.MarkWaiting(ctx, "running", nil))
	require.NoError(t, s.MarkWaiting(ctx, "done", nil))
	require.NoError(t, s.MarkCompleted(ctx, "done"))

	now = now.Add(2 * time.Minute)

	st, _ := s.Get(ctx, "done")
	assert.False(t, st.Exists)

	s.cleanup()
	assert.Equal(t, 1, s.Size(), "unfinished jobs never expire")
}

func TestInMemoryJobStatusStore_CloseIdempotent(t *testing.T) {
	s := NewInMemoryJobStatusStore(time.Hour)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
