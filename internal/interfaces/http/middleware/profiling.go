package middleware

import (
	"context"
	"strings"

	"github.com/erp/ingest/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
)

// ProfilingLabels tags the handler goroutine with the route and tenant so
// CPU profiles can be split per endpoint. Place it after RequireIdentity.
func ProfilingLabels(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}
		labels := map[string]string{
			telemetry.ProfilingLabelOperation: routeOperation(c.Request.Method, c.FullPath()),
		}
		if id, ok := GetIdentity(c); ok {
			labels[telemetry.ProfilingLabelTenantID] = id.TenantID.String()
		}

		telemetry.WithProfilingLabels(c.Request.Context(), labels, func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}

// routeOperation turns "POST /api/v1/uploads/:fileId/complete" into
// "post_uploads_complete"
func routeOperation(method, route string) string {
	parts := []string{strings.ToLower(method)}
	for _, seg := range strings.Split(route, "/") {
		if seg == "" || seg == "api" || strings.HasPrefix(seg, ":") || isVersionSegment(seg) {
			continue
		}
		parts = append(parts, strings.ReplaceAll(seg, "-", "_"))
	}
	return strings.Join(parts, "_")
}

func isVersionSegment(seg string) bool {
	if len(seg) < 2 || seg[0] != 'v' {
		return false
	}
	for _, r := range seg[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
