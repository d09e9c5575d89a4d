package handler

import (
	"context"
	"fmt"
	"net/http"

	appbulk "github.com/erp/ingest/internal/application/bulk"
	"github.com/erp/ingest/internal/domain/bulk"
	"github.com/erp/ingest/internal/domain/shared"
	"github.com/erp/ingest/internal/interfaces/http/dto"
	"github.com/erp/ingest/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// BulkHandler serves bulk processing requests
type BulkHandler struct {
	BaseHandler
	service  *appbulk.Service
	basePath string
}

// NewBulkHandler creates a new BulkHandler. basePath is the mount point of
// the collection and is used for report links.
func NewBulkHandler(service *appbulk.Service, basePath string) *BulkHandler {
	return &BulkHandler{service: service, basePath: basePath}
}

// Create handles POST /bulk-requests
func (h *BulkHandler) Create(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	var req dto.CreateBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	created, err := h.service.Create(c.Request.Context(), appbulk.CreateInput{
		TenantID: id.TenantID,
		UserID:   id.UserID,
		Type:     bulk.ProcessingType(req.Type),
		FileID:   req.FileID,
		Options:  req.Options,
		Metadata: req.Metadata,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, dto.ToBulkRequestResponse(created, h.basePath))
}

// List handles GET /bulk-requests
func (h *BulkHandler) List(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	var q dto.ListBulkQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	filter, err := q.Filter()
	if err != nil {
		h.HandleError(c, shared.NewValidationError("%s", err.Error()))
		return
	}

	page, err := h.service.List(c.Request.Context(), id.TenantID, filter, q.Limit, q.Offset)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	items := make([]dto.BulkRequestResponse, len(page.Items))
	for i := range page.Items {
		items[i] = dto.ToBulkRequestResponse(&page.Items[i], h.basePath)
	}
	h.SuccessWithMeta(c, items, page.Total, page.Limit, page.Offset)
}

// Get handles GET /bulk-requests/:id
func (h *BulkHandler) Get(c *gin.Context) {
	id, requestID, ok := h.target(c)
	if !ok {
		return
	}

	req, err := h.service.Get(c.Request.Context(), id.TenantID, requestID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToBulkRequestResponse(req, h.basePath))
}

// JobStatus handles GET /bulk-requests/:id/job
func (h *BulkHandler) JobStatus(c *gin.Context) {
	id, requestID, ok := h.target(c)
	if !ok {
		return
	}

	status, err := h.service.GetRequestJobStatus(c.Request.Context(), id.TenantID, requestID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, status)
}

// Errors handles GET /bulk-requests/:id/errors. Entries is an empty array,
// never null, when the request logged no errors.
func (h *BulkHandler) Errors(c *gin.Context) {
	h.report(c, h.service.GetErrorReport)
}

// Warnings handles GET /bulk-requests/:id/warnings. Entries is empty, not
// null, without warnings.
func (h *BulkHandler) Warnings(c *gin.Context) {
	h.report(c, h.service.GetWarningReport)
}

func (h *BulkHandler) report(c *gin.Context, load func(ctx context.Context, tenantID, id uuid.UUID) (*appbulk.Report, error)) {
	id, requestID, ok := h.target(c)
	if !ok {
		return
	}

	report, err := load(c.Request.Context(), id.TenantID, requestID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if c.Query("format") != "csv" {
		h.Success(c, report)
		return
	}
	filename := fmt.Sprintf("bulk-%s-%s.csv", report.RequestID, report.Level)
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Status(http.StatusOK)
	if err := appbulk.WriteReportCSV(c.Writer, report); err != nil {
		_ = c.Error(err)
	}
}

// Cancel handles POST /bulk-requests/:id/cancel
func (h *BulkHandler) Cancel(c *gin.Context) {
	id, requestID, ok := h.target(c)
	if !ok {
		return
	}
	var req dto.CancelBulkRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.HandleValidationError(c, err)
			return
		}
	}

	cancelled, err := h.service.Cancel(c.Request.Context(), id.TenantID, requestID, req.Reason)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToBulkRequestResponse(cancelled, h.basePath))
}

func (h *BulkHandler) target(c *gin.Context) (middleware.Identity, uuid.UUID, bool) {
	id, ok := h.caller(c)
	if !ok {
		return middleware.Identity{}, uuid.Nil, false
	}
	requestID, ok := h.uuidParam(c, "id")
	return id, requestID, ok
}
