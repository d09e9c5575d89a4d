package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erp/ingest/internal/domain/shared"
	"github.com/erp/ingest/internal/infrastructure/auth"
	"github.com/erp/ingest/internal/infrastructure/config"
	"github.com/erp/ingest/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func identityRouter(cfg IdentityConfig) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), RequireIdentity(cfg))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/whoami", func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"tenant_id": id.TenantID.String(),
			"user_id":   id.UserID.String(),
			"admin":     id.Admin,
		})
	})
	return r
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *dto.ErrorInfo {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.False(t, resp.Success)
	return resp.Error
}

func TestRequireIdentity_Headers(t *testing.T) {
	r := identityRouter(IdentityConfig{SkipPaths: []string{"/health"}})
	tenantID, userID := uuid.New(), uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(HeaderTenantID, tenantID.String())
	req.Header.Set(HeaderUserID, userID.String())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, tenantID.String(), body["tenant_id"])
	assert.Equal(t, userID.String(), body["user_id"])
	assert.Equal(t, false, body["admin"])

	t.Run("missing user", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set(HeaderTenantID, tenantID.String())
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		errInfo := decodeError(t, w)
		assert.Equal(t, shared.CodeUnauthorized, errInfo.Code)
		assert.NotEmpty(t, errInfo.RequestID)
	})

	t.Run("malformed ids", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set(HeaderTenantID, "tenant-1")
		req.Header.Set(HeaderUserID, userID.String())
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, dto.ErrCodeTokenInvalid, decodeError(t, w).Code)
	})

	t.Run("skip path", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRequireIdentity_JWT(t *testing.T) {
	svc := auth.NewJWTService(config.JWTConfig{Enabled: true, Secret: "test-secret-with-enough-length", Issuer: "ingest-test"})
	r := identityRouter(IdentityConfig{JWTService: svc})
	tenantID, userID := uuid.New(), uuid.New()

	token, err := svc.IssueToken(auth.IssueTokenInput{TenantID: tenantID, UserID: userID, Admin: true})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(AuthHeaderKey, BearerPrefix+token)
	// headers are ignored once JWT is configured
	req.Header.Set(HeaderTenantID, uuid.NewString())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, tenantID.String(), body["tenant_id"])
	assert.Equal(t, true, body["admin"])

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"no header", "", shared.CodeUnauthorized},
		{"not bearer", "Basic abc", shared.CodeUnauthorized},
		{"garbage token", BearerPrefix + "abc.def.ghi", dto.ErrCodeTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set(AuthHeaderKey, tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w).Code)
		})
	}

	t.Run("foreign secret", func(t *testing.T) {
		other := auth.NewJWTService(config.JWTConfig{Secret: "another-secret-of-enough-length", Issuer: "ingest-test"})
		forged, err := other.IssueToken(auth.IssueTokenInput{TenantID: tenantID, UserID: userID, Admin: true})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set(AuthHeaderKey, BearerPrefix+forged)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, dto.ErrCodeTokenInvalid, decodeError(t, w).Code)
	})
}
