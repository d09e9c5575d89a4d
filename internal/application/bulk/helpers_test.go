package bulk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/erp/ingest/internal/domain/bulk"
	"github.com/erp/ingest/internal/infrastructure/persistence"
	strategyreg "github.com/erp/ingest/internal/infrastructure/strategy"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB opens an in-memory sqlite database with the full schema on a
// single connection
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, persistence.AutoMigrate(db))
	return db
}

// fakeStrategy serves numbered rows 1..rows and fails the rows it is told to
type fakeStrategy struct {
	rows      int
	openErr   error
	unknown   bool // source does not know its total
	malformed map[int]bool
	invalid   map[int]bool
	warn      map[int]bool
	applyErr  map[int]error
	onApply   func(ctx context.Context, row bulk.Row)

	mu      sync.Mutex
	applied []int
}

func (s *fakeStrategy) Type() bulk.ProcessingType {
	return bulk.TypeCleanupTempFiles
}

func (s *fakeStrategy) Open(context.Context, *bulk.BulkProcessingRequest) (bulk.RowSource, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return &sliceSource{strategy: s}, nil
}

func (s *fakeStrategy) ValidateRow(_ context.Context, _ *bulk.BulkProcessingRequest, row bulk.Row) bulk.RowValidation {
	var v bulk.RowValidation
	if s.warn[row.Number] {
		v.Warnings = append(v.Warnings, fmt.Sprintf("row %d looks odd", row.Number))
	}
	if s.invalid[row.Number] {
		v.Errors = append(v.Errors, "sku: is required", "name: is required")
	}
	return v
}

func (s *fakeStrategy) ApplyRow(ctx context.Context, _ *bulk.BulkProcessingRequest, row bulk.Row) error {
	if s.onApply != nil {
		s.onApply(ctx, row)
	}
	if err := s.applyErr[row.Number]; err != nil {
		return err
	}
	s.mu.Lock()
	s.applied = append(s.applied, row.Number)
	s.mu.Unlock()
	return nil
}

func (s *fakeStrategy) appliedRows() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.applied...)
}

type sliceSource struct {
	strategy *fakeStrategy
	next     int
}

func (src *sliceSource) Next(ctx context.Context) (bulk.Row, error) {
	if err := ctx.Err(); err != nil {
		return bulk.Row{}, err
	}
	if src.next >= src.strategy.rows {
		return bulk.Row{}, io.EOF
	}
	src.next++
	n := src.next
	if src.strategy.malformed[n] {
		return bulk.Row{}, &bulk.MalformedRowError{Number: n, Message: "unterminated quote"}
	}
	return bulk.Row{Number: n, Data: map[string]string{"n": fmt.Sprint(n)}}, nil
}

func (src *sliceSource) TotalRows() (int, bool) {
	return src.strategy.rows, !src.strategy.unknown
}

func (src *sliceSource) Close() error { return nil }

// MockJobSubmitter is a mock implementation of JobSubmitter
type MockJobSubmitter struct {
	mock.Mock
}

func (m *MockJobSubmitter) Submit(ctx context.Context, jobID string, payload map[string]any) error {
	return m.Called(ctx, jobID, payload).Error(0)
}

type runnerFixture struct {
	db       *gorm.DB
	repo     *persistence.GormBulkProcessingRequestRepository
	strategy *fakeStrategy
	runner   *Runner
	tenantID uuid.UUID
	userID   uuid.UUID
	progress []int
}

func newRunnerFixture(t *testing.T, s *fakeStrategy, opts ...RunnerOption) *runnerFixture {
	t.Helper()
	db := newTestDB(t)
	registry := strategyreg.NewStrategyRegistry()
	require.NoError(t, registry.Register(s))
	repo := persistence.NewGormBulkProcessingRequestRepository(db)

	return &runnerFixture{
		db:       db,
		repo:     repo,
		strategy: s,
		runner:   NewRunner(repo, registry, opts...),
		tenantID: uuid.New(),
		userID:   uuid.New(),
	}
}

func (f *runnerFixture) create(t *testing.T) *bulk.BulkProcessingRequest {
	t.Helper()
	req, err := bulk.NewBulkProcessingRequest(f.tenantID, f.userID, bulk.TypeCleanupTempFiles, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.repo.Create(context.Background(), req))
	return req
}

func (f *runnerFixture) progressFunc() func(context.Context, int) {
	return func(_ context.Context, p int) {
		f.progress = append(f.progress, p)
	}
}

func (f *runnerFixture) reload(t *testing.T, id uuid.UUID) *bulk.BulkProcessingRequest {
	t.Helper()
	req, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return req
}

func rowNumbers(logs []bulk.RowLog) []int {
	out := make([]int, len(logs))
	for i, l := range logs {
		out[i] = l.RowNumber
	}
	return out
}

var errApply = errors.New("apply failed")
