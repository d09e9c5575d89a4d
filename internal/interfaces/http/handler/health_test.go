package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler("ingest", "1.2.3", map[string]Checker{
		"database": func(context.Context) error { return nil },
	})
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	_, data := envelope(t, w)
	var live LivenessResponse
	require.NoError(t, json.Unmarshal(data, &live))
	assert.Equal(t, "ingest", live.Name)
	assert.Equal(t, "1.2.3", live.Version)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
	_, data = envelope(t, w)
	var ready ReadinessResponse
	require.NoError(t, json.Unmarshal(data, &ready))
	assert.True(t, ready.Ready)
	assert.Equal(t, map[string]string{"database": "ok"}, ready.Checks)
}

func TestHealthHandler_NotReady(t *testing.T) {
	h := NewHealthHandler("ingest", "dev", map[string]Checker{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	r := gin.New()
	r.GET("/ready", h.Ready)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp, data := envelope(t, w)
	assert.False(t, resp.Success)
	var ready ReadinessResponse
	require.NoError(t, json.Unmarshal(data, &ready))
	assert.False(t, ready.Ready)
	assert.Equal(t, "ok", ready.Checks["database"])
	assert.Equal(t, "connection refused", ready.Checks["redis"])
}
