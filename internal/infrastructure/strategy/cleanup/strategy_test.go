package cleanup

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/erp/ingest/internal/domain/bulk"
	"github.com/erp/ingest/internal/domain/shared"
	objstore "github.com/erp/ingest/internal/infrastructure/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCleanupRequest(t *testing.T, options map[string]any) *bulk.BulkProcessingRequest {
	t.Helper()
	req, err := bulk.NewBulkProcessingRequest(uuid.New(), uuid.New(), bulk.TypeCleanupTempFiles, nil, options, nil)
	require.NoError(t, err)
	return req
}

func drain(t *testing.T, src bulk.RowSource) []bulk.Row {
	t.Helper()
	var rows []bulk.Row
	for {
		row, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return rows
		}
		require.NoError(t, err)
		rows = append(rows, row)
	}
}

func TestStrategy_OpenSelectsStaleObjects(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := objstore.NewStubObjectStorage("uploads")
	s := New(store)
	s.now = func() time.Time { return now }

	req := newCleanupRequest(t, nil)
	root := UserTempPrefix(req)
	store.PutObjectAt("", root+"old.csv", []byte("a,b"), now.Add(-48*time.Hour))
	store.PutObjectAt("", root+"empty.csv", nil, now.Add(-30*time.Hour))
	store.PutObjectAt("", root+"fresh.csv", []byte("x"), now.Add(-time.Hour))
	store.PutObjectAt("", "tmp/"+uuid.NewString()+"/other.csv", []byte("x"), now.Add(-72*time.Hour))

	src, err := s.Open(ctx, req)
	require.NoError(t, err)
	defer src.Close()

	total, known := src.TotalRows()
	assert.True(t, known)
	assert.Equal(t, 2, total)

	rows := drain(t, src)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Number)
	assert.Equal(t, root+"empty.csv", rows[0].Data[DataKey])
	assert.Equal(t, root+"old.csv", rows[1].Data[DataKey])
	assert.Equal(t, "3", rows[1].Data[DataSize])

	v := s.ValidateRow(ctx, req, rows[0])
	assert.True(t, v.Valid())
	assert.Equal(t, []string{"object is empty"}, v.Warnings)

	require.NoError(t, s.ApplyRow(ctx, req, rows[1]))
	assert.False(t, store.HasObject("", root+"old.csv"))
	assert.True(t, store.HasObject("", root+"fresh.csv"))
}

func TestStrategy_Options(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := objstore.NewStubObjectStorage("uploads")
	s := New(store)
	s.now = func() time.Time { return now }

	t.Run("older_than_hours narrows selection", func(t *testing.T) {
		req := newCleanupRequest(t, map[string]any{OptionOlderThanHours: float64(2)})
		store.PutObjectAt("", UserTempPrefix(req)+"a.csv", []byte("x"), now.Add(-3*time.Hour))

		src, err := s.Open(ctx, req)
		require.NoError(t, err)
		total, _ := src.TotalRows()
		assert.Equal(t, 1, total)
	})

	t.Run("string hours accepted", func(t *testing.T) {
		req := newCleanupRequest(t, map[string]any{OptionOlderThanHours: "0"})
		store.PutObjectAt("", UserTempPrefix(req)+"a.csv", []byte("x"), now.Add(-time.Minute))

		src, err := s.Open(ctx, req)
		require.NoError(t, err)
		total, _ := src.TotalRows()
		assert.Equal(t, 1, total)
	})

	t.Run("prefix must stay under the user temp root", func(t *testing.T) {
		for _, prefix := range []string{"tmp/", "uploads/", "tmp/" + uuid.NewString() + "/"} {
			req := newCleanupRequest(t, map[string]any{OptionPrefix: prefix})
			_, err := s.Open(ctx, req)
			assert.Equal(t, shared.CodeValidation, shared.ErrorCode(err), prefix)
		}
		req := newCleanupRequest(t, nil)
		req.Options = map[string]any{OptionPrefix: UserTempPrefix(req) + "../../"}
		_, err := s.Open(ctx, req)
		assert.Equal(t, shared.CodeValidation, shared.ErrorCode(err))
	})

	t.Run("invalid hours rejected", func(t *testing.T) {
		for _, v := range []any{"soon", float64(-1), true} {
			req := newCleanupRequest(t, map[string]any{OptionOlderThanHours: v})
			_, err := s.Open(ctx, req)
			assert.Equal(t, shared.CodeValidation, shared.ErrorCode(err))
		}
	})
}

func TestStrategy_ValidateRowRejectsForeignKeys(t *testing.T) {
	s := New(objstore.NewStubObjectStorage(""))
	req := newCleanupRequest(t, nil)

	v := s.ValidateRow(context.Background(), req, bulk.Row{Number: 1, Data: map[string]string{DataKey: "etc/passwd", DataSize: "10"}})
	assert.False(t, v.Valid())
}
