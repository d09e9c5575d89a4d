package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appbulk "github.com/erp/ingest/internal/application/bulk"
	appstorage "github.com/erp/ingest/internal/application/storage"
	"github.com/erp/ingest/internal/domain/storage"
	"github.com/erp/ingest/internal/infrastructure/cache"
	"github.com/erp/ingest/internal/infrastructure/persistence"
	objstore "github.com/erp/ingest/internal/infrastructure/storage"
	"github.com/erp/ingest/internal/interfaces/http/dto"
	"github.com/erp/ingest/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

// submitFunc adapts a function to appbulk.JobSubmitter
type submitFunc func(ctx context.Context, jobID string, payload map[string]any) error

func (f submitFunc) Submit(ctx context.Context, jobID string, payload map[string]any) error {
	return f(ctx, jobID, payload)
}

// apiFixture wires the handlers over sqlite and in-memory infrastructure
type apiFixture struct {
	router    *gin.Engine
	db        *gorm.DB
	sessions  *persistence.GormUploadSessionRepository
	bulkRepo  *persistence.GormBulkProcessingRequestRepository
	admission *appstorage.AdmissionController
	submitErr error
	submitted []string
	identity  middleware.Identity
}

func newAPIFixture(t *testing.T, maxFiles int) *apiFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, persistence.AutoMigrate(db))

	f := &apiFixture{
		db:       db,
		sessions: persistence.NewGormUploadSessionRepository(db),
		bulkRepo: persistence.NewGormBulkProcessingRequestRepository(db),
		identity: middleware.Identity{TenantID: uuid.New(), UserID: uuid.New()},
	}

	ctx := context.Background()
	tiers := persistence.NewGormTierRepository(db)
	configs := persistence.NewGormUserStorageConfigRepository(db)
	tier := &storage.StorageTier{
		ID:                   uuid.New(),
		Name:                 "free",
		Level:                1,
		MaxStorageBytes:      1 << 20,
		MaxSimultaneousFiles: maxFiles,
		AllowedFileConfig:    storage.AllowedFileConfig{"csv": {"text/csv"}},
		IsActive:             true,
	}
	require.NoError(t, tiers.Save(ctx, tier))
	require.NoError(t, configs.Save(ctx, &storage.UserStorageConfig{
		ID:            uuid.New(),
		UserID:        f.identity.UserID,
		StorageTierID: tier.ID,
	}))

	registry := appstorage.NewQuotaRegistry(tiers, configs)
	f.admission = appstorage.NewAdmissionController(registry, cache.NewInMemoryConcurrencyLedger(), nil, nil)
	orchestrator := appstorage.NewUploadOrchestrator(registry, f.admission, f.sessions, f.sessions,
		objstore.NewStubObjectStorage("ingest"), appstorage.WithSessionTTL(time.Hour))

	status := cache.NewInMemoryJobStatusStore(time.Hour)
	t.Cleanup(func() { _ = status.Close() })
	queue := submitFunc(func(_ context.Context, jobID string, _ map[string]any) error {
		if f.submitErr != nil {
			return f.submitErr
		}
		f.submitted = append(f.submitted, jobID)
		return nil
	})
	service := appbulk.NewService(f.bulkRepo, f.sessions, queue, status, nil)

	uploads := NewUploadHandler(orchestrator, f.admission, registry)
	bulkHandler := NewBulkHandler(service, "/api/v1/bulk-requests")

	r := gin.New()
	r.Use(middleware.RequestID(), func(c *gin.Context) {
		c.Set(middleware.IdentityKey, f.identity)
		c.Next()
	})
	r.POST("/uploads", uploads.Initiate)
	r.GET("/uploads/stats", uploads.Stats)
	r.GET("/uploads/:fileId", uploads.Get)
	r.DELETE("/uploads/:fileId", uploads.Abort)
	r.POST("/uploads/:fileId/start", uploads.Start)
	r.POST("/uploads/:fileId/complete", uploads.Complete)
	r.GET("/uploads/:fileId/parts/:partNumber", uploads.PresignPart)
	r.GET("/storage/tier", uploads.Tier)
	r.POST("/bulk-requests", bulkHandler.Create)
	r.GET("/bulk-requests", bulkHandler.List)
	r.GET("/bulk-requests/:id", bulkHandler.Get)
	r.GET("/bulk-requests/:id/job", bulkHandler.JobStatus)
	r.GET("/bulk-requests/:id/errors", bulkHandler.Errors)
	r.GET("/bulk-requests/:id/warnings", bulkHandler.Warnings)
	r.POST("/bulk-requests/:id/cancel", bulkHandler.Cancel)
	f.router = r
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// envelope decodes a response and returns its data as raw JSON
func envelope(t *testing.T, w *httptest.ResponseRecorder) (dto.Response, json.RawMessage) {
	t.Helper()
	var raw struct {
		dto.Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw), w.Body.String())
	return raw.Response, raw.Data
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	resp, _ := envelope(t, w)
	require.NotNil(t, resp.Error, w.Body.String())
	return resp.Error.Code
}

func (f *apiFixture) initiate(t *testing.T, filename, mimeType string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, http.MethodPost, "/uploads", dto.InitiateUploadRequest{
		Path:      "imports",
		Filename:  filename,
		MimeType:  mimeType,
		SizeBytes: 512,
	})
}
