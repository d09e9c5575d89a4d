package handler

import (
	"strconv"

	appstorage "github.com/erp/ingest/internal/application/storage"
	"github.com/erp/ingest/internal/domain/shared"
	"github.com/erp/ingest/internal/interfaces/http/dto"
	"github.com/erp/ingest/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// UploadHandler serves multipart upload sessions and storage quota lookups
type UploadHandler struct {
	BaseHandler
	orchestrator *appstorage.UploadOrchestrator
	admission    *appstorage.AdmissionController
	registry     appstorage.TierResolver
}

// NewUploadHandler creates a new UploadHandler
func NewUploadHandler(
	orchestrator *appstorage.UploadOrchestrator,
	admission *appstorage.AdmissionController,
	registry appstorage.TierResolver,
) *UploadHandler {
	return &UploadHandler{
		orchestrator: orchestrator,
		admission:    admission,
		registry:     registry,
	}
}

// Initiate handles POST /uploads
func (h *UploadHandler) Initiate(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	var req dto.InitiateUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	result, err := h.orchestrator.InitiateUpload(c.Request.Context(), appstorage.InitiateUploadInput{
		TenantID:     id.TenantID,
		UserID:       id.UserID,
		Path:         req.Path,
		Filename:     req.Filename,
		OriginalName: req.Filename,
		MimeType:     req.MimeType,
		SizeBytes:    req.SizeBytes,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, result)
}

// Start handles POST /uploads/:fileId/start
func (h *UploadHandler) Start(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	fileID, ok := h.uuidParam(c, "fileId")
	if !ok {
		return
	}

	session, err := h.orchestrator.MarkUploading(c.Request.Context(), id.UserID, fileID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToUploadSessionResponse(session))
}

// PresignPart handles GET /uploads/:fileId/parts/:partNumber
func (h *UploadHandler) PresignPart(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	fileID, ok := h.uuidParam(c, "fileId")
	if !ok {
		return
	}
	partNumber, err := strconv.ParseInt(c.Param("partNumber"), 10, 32)
	if err != nil {
		h.HandleError(c, shared.NewValidationError("invalid part number"))
		return
	}

	url, expiresAt, err := h.orchestrator.PresignPart(c.Request.Context(), id.UserID, fileID, int32(partNumber))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.PresignPartResponse{PartNumber: int32(partNumber), URL: url, ExpiresAt: expiresAt})
}

// Complete handles POST /uploads/:fileId/complete
func (h *UploadHandler) Complete(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	fileID, ok := h.uuidParam(c, "fileId")
	if !ok {
		return
	}
	var req dto.CompleteUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	session, err := h.orchestrator.CompleteUpload(c.Request.Context(), id.UserID, fileID, req.Parts)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToUploadSessionResponse(session))
}

// Copy handles POST /uploads/:fileId/copy
func (h *UploadHandler) Copy(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	fileID, ok := h.uuidParam(c, "fileId")
	if !ok {
		return
	}
	var req dto.CopyUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	session, err := h.orchestrator.CopyUpload(c.Request.Context(), id.UserID, fileID, req.DestinationKey)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToUploadSessionResponse(session))
}

// Abort handles DELETE /uploads/:fileId. force=true skips the ownership
// check and needs the admin claim.
func (h *UploadHandler) Abort(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	fileID, ok := h.uuidParam(c, "fileId")
	if !ok {
		return
	}
	var q dto.AbortUploadQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	if q.Force && !id.Admin {
		h.Forbidden(c, "force abort requires administrator rights")
		return
	}

	err := h.orchestrator.AbortUpload(c.Request.Context(), appstorage.AbortUploadInput{
		UserID: id.UserID,
		FileID: fileID,
		Force:  q.Force,
		Reason: q.Reason,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"file_id": fileID, "aborted": true})
}

// Get handles GET /uploads/:fileId
func (h *UploadHandler) Get(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	fileID, ok := h.uuidParam(c, "fileId")
	if !ok {
		return
	}

	session, err := h.orchestrator.GetSession(c.Request.Context(), id.UserID, fileID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToUploadSessionResponse(session))
}

// Stats handles GET /uploads/stats
func (h *UploadHandler) Stats(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	stats, err := h.admission.Stats(ctx)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	active, err := h.admission.ActiveUploads(ctx, id.UserID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.UploadStatsResponse{UploadStats: stats, UserActiveUploads: active})
}

// Tier handles GET /storage/tier
func (h *UploadHandler) Tier(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}

	info, err := h.registry.GetUserTierInfo(c.Request.Context(), id.UserID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, info)
}
