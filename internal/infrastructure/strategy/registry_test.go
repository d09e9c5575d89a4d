package strategy

import (
	"context"
	"sync"
	"testing"

	"github.com/erp/ingest/internal/domain/bulk"
	"github.com/erp/ingest/internal/domain/shared"
	objstore "github.com/erp/ingest/internal/infrastructure/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock row strategy for testing
type mockRowStrategy struct {
	t bulk.ProcessingType
}

func (s *mockRowStrategy) Type() bulk.ProcessingType { return s.t }

func (s *mockRowStrategy) Open(context.Context, *bulk.BulkProcessingRequest) (bulk.RowSource, error) {
	return nil, nil
}

func (s *mockRowStrategy) ValidateRow(context.Context, *bulk.BulkProcessingRequest, bulk.Row) bulk.RowValidation {
	return bulk.RowValidation{}
}

func (s *mockRowStrategy) ApplyRow(context.Context, *bulk.BulkProcessingRequest, bulk.Row) error {
	return nil
}

func TestStrategyRegistry_RegisterAndGet(t *testing.T) {
	r := NewStrategyRegistry()

	require.NoError(t, r.Register(&mockRowStrategy{t: bulk.TypeCleanupTempFiles}))

	s, err := r.Get(bulk.TypeCleanupTempFiles)
	require.NoError(t, err)
	assert.Equal(t, bulk.TypeCleanupTempFiles, s.Type())

	_, err = r.Get(bulk.TypeProductCatalog)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestStrategyRegistry_RejectsDuplicatesAndUnknownTypes(t *testing.T) {
	r := NewStrategyRegistry()
	require.NoError(t, r.Register(&mockRowStrategy{t: bulk.TypeProductCatalog}))

	err := r.Register(&mockRowStrategy{t: bulk.TypeProductCatalog})
	assert.Equal(t, shared.CodeConflict, shared.ErrorCode(err))

	err = r.Register(&mockRowStrategy{t: "INVOICES"})
	assert.Equal(t, shared.CodeValidation, shared.ErrorCode(err))
}

func TestStrategyRegistry_Unregister(t *testing.T) {
	r := NewStrategyRegistry()
	require.NoError(t, r.Register(&mockRowStrategy{t: bulk.TypeProductCatalog}))

	require.NoError(t, r.Unregister(bulk.TypeProductCatalog))
	assert.Empty(t, r.Types())
	assert.ErrorIs(t, r.Unregister(bulk.TypeProductCatalog), shared.ErrNotFound)
}

func TestStrategyRegistry_ConcurrentAccess(t *testing.T) {
	r := NewStrategyRegistry()
	require.NoError(t, r.Register(&mockRowStrategy{t: bulk.TypeProductCatalog}))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Get(bulk.TypeProductCatalog)
			assert.NoError(t, err)
			_ = r.Types()
		}()
	}
	wg.Wait()
}

func TestNewRegistryWithDefaults(t *testing.T) {
	r, err := NewRegistryWithDefaults(Dependencies{Objects: objstore.NewStubObjectStorage("")})
	require.NoError(t, err)

	assert.Equal(t, []bulk.ProcessingType{bulk.TypeCleanupTempFiles, bulk.TypeProductCatalog}, r.Types())
}
