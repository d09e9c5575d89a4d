package dto

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/erp/ingest/internal/domain/bulk"
	"github.com/erp/ingest/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{shared.CodeValidation, http.StatusBadRequest},
		{shared.CodeInvalidFileType, http.StatusBadRequest},
		{shared.CodeQuotaExceeded, http.StatusTooManyRequests},
		{shared.CodeConcurrentUploads, http.StatusTooManyRequests},
		{shared.CodeStorageQuota, http.StatusRequestEntityTooLarge},
		{shared.CodeNotFound, http.StatusNotFound},
		{shared.CodeForbidden, http.StatusForbidden},
		{shared.CodeUnauthorized, http.StatusUnauthorized},
		{shared.CodeConflict, http.StatusConflict},
		{shared.CodeAlreadyCompleted, http.StatusConflict},
		{shared.CodeInvalidState, http.StatusConflict},
		{shared.CodeConcurrencyConflict, http.StatusConflict},
		{shared.CodeFatalProcessing, http.StatusInternalServerError},
		{ErrCodeRateLimited, http.StatusTooManyRequests},
		{ErrCodeUnavailable, http.StatusServiceUnavailable},
		// Unknown code should return 500
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestErrorResponseEnvelope(t *testing.T) {
	resp := NewValidationErrorResponse("Request validation failed", "req-1", []ValidationDetail{
		{Field: "filename", Message: "This field is required"},
	})

	b, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, false, decoded["success"])
	assert.NotContains(t, decoded, "data")

	errInfo := decoded["error"].(map[string]any)
	assert.Equal(t, shared.CodeValidation, errInfo["code"])
	assert.Equal(t, "req-1", errInfo["request_id"])
	assert.Len(t, errInfo["details"], 1)
}

func TestNewSuccessResponseWithMeta(t *testing.T) {
	resp := NewSuccessResponseWithMeta([]int{1, 2}, 12, 2, 4)

	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, Meta{Total: 12, Limit: 2, Offset: 4}, *resp.Meta)
}

func TestToBulkRequestResponse(t *testing.T) {
	req, err := bulk.NewBulkProcessingRequest(uuid.New(), uuid.New(), bulk.TypeCleanupTempFiles, nil, nil, nil)
	require.NoError(t, err)

	resp := ToBulkRequestResponse(req, "/api/v1/bulk-requests")
	assert.Equal(t, "PENDING", resp.Status)
	assert.False(t, resp.HasErrors)
	assert.Empty(t, resp.ErrorReportURL)

	require.NoError(t, req.MarkStarted())
	require.NoError(t, req.AddRowLog(1, bulk.LogLevelError, "bad row", nil))
	resp = ToBulkRequestResponse(req, "/api/v1/bulk-requests")
	assert.True(t, resp.HasErrors)
	assert.Equal(t, 1, resp.FailedRows)
	assert.Equal(t, "/api/v1/bulk-requests/"+req.ID.String()+"/errors", resp.ErrorReportURL)
	assert.WithinDuration(t, time.Now(), *resp.StartedAt, time.Minute)
}

func TestListBulkQueryFilter(t *testing.T) {
	userID := uuid.New()
	f, err := ListBulkQuery{Status: "FAILED", Type: "PRODUCT_CATALOG", UserID: userID.String()}.Filter()
	require.NoError(t, err)
	assert.Equal(t, bulk.StatusFailed, *f.Status)
	assert.Equal(t, bulk.TypeProductCatalog, *f.Type)
	assert.Equal(t, userID, *f.UserID)

	f, err = ListBulkQuery{}.Filter()
	require.NoError(t, err)
	assert.Nil(t, f.Status)
	assert.Nil(t, f.Type)
	assert.Nil(t, f.UserID)

	_, err = ListBulkQuery{UserID: "nope"}.Filter()
	assert.Error(t, err)
}
