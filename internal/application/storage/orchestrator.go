package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/erp/ingest/internal/domain/shared"
	"github.com/erp/ingest/internal/domain/storage"
	"github.com/erp/ingest/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultSessionTTL bounds how long a session may hold a slot before the sweeper reclaims it
const DefaultSessionTTL = 24 * time.Hour

// saveAttempts bounds the reload-and-retry of a session save that lost a race
const saveAttempts = 3

// UploadOrchestrator drives the multipart upload session lifecycle
type UploadOrchestrator struct {
	registry  TierResolver
	admission *AdmissionController
	sessions  storage.UploadSessionRepository
	usage     storage.UsageAccountant
	objects   storage.ObjectStore
	metrics   *telemetry.IngestMetrics
	logger    *zap.Logger
	ttl       time.Duration
}

// OrchestratorOption configures an UploadOrchestrator
type OrchestratorOption func(*UploadOrchestrator)

// WithSessionTTL sets the session expiry
func WithSessionTTL(ttl time.Duration) OrchestratorOption {
	return func(o *UploadOrchestrator) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) OrchestratorOption {
	return func(o *UploadOrchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records upload counters
func WithMetrics(m *telemetry.IngestMetrics) OrchestratorOption {
	return func(o *UploadOrchestrator) {
		o.metrics = m
	}
}

// NewUploadOrchestrator creates an orchestrator
func NewUploadOrchestrator(
	registry TierResolver,
	admission *AdmissionController,
	sessions storage.UploadSessionRepository,
	usage storage.UsageAccountant,
	objects storage.ObjectStore,
	opts ...OrchestratorOption,
) *UploadOrchestrator {
	o := &UploadOrchestrator{
		registry:  registry,
		admission: admission,
		sessions:  sessions,
		usage:     usage,
		objects:   objects,
		logger:    zap.NewNop(),
		ttl:       DefaultSessionTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// InitiateUploadInput describes a new multipart upload
type InitiateUploadInput struct {
	TenantID     uuid.UUID
	UserID       uuid.UUID
	Path         string
	Filename     string
	OriginalName string
	MimeType     string
	SizeBytes    uint64
	Bucket       string
}

// InitiateUploadResult is returned to the client to start sending parts
type InitiateUploadResult struct {
	FileID    uuid.UUID `json:"file_id"`
	UploadID  string    `json:"upload_id"`
	ObjectKey string    `json:"object_key"`
	Bucket    string    `json:"bucket"`
	ExpiresAt time.Time `json:"expires_at"`
}

// InitiateUpload admits a new upload: file type, storage quota, then a
// concurrency slot, then the multipart handle and the session row.
func (o *UploadOrchestrator) InitiateUpload(ctx context.Context, in InitiateUploadInput) (*InitiateUploadResult, error) {
	result, err := o.initiate(ctx, in)
	o.metrics.RecordUploadInitiated(ctx, initiateResult(err))
	return result, err
}

func (o *UploadOrchestrator) initiate(ctx context.Context, in InitiateUploadInput) (*InitiateUploadResult, error) {
	if in.UserID == uuid.Nil {
		return nil, shared.NewValidationError("user id is required")
	}
	filename := strings.TrimSpace(in.Filename)
	if filename == "" {
		filename = strings.TrimSpace(in.OriginalName)
	}
	if filename == "" {
		return nil, shared.NewValidationError("filename is required")
	}
	if in.SizeBytes == 0 {
		return nil, shared.NewValidationError("file size must be greater than zero")
	}
	dir, err := cleanUploadPath(in.Path)
	if err != nil {
		return nil, err
	}

	info, err := o.registry.GetUserTierInfo(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if err := checkFileType(info, filename, in.OriginalName, in.MimeType); err != nil {
		return nil, err
	}

	used, err := o.usage.UsedBytes(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("read storage usage: %w", err)
	}
	if used+in.SizeBytes > info.MaxStorageBytes {
		return nil, shared.NewDomainError(shared.CodeStorageQuota,
			fmt.Sprintf("storage quota exceeded: %d of %d bytes used, %d requested", used, info.MaxStorageBytes, in.SizeBytes))
	}

	if err := o.admission.TryAcquire(ctx, in.UserID); err != nil {
		return nil, err
	}

	fileID := uuid.New()
	bucket := in.Bucket
	if bucket == "" {
		bucket = o.objects.DefaultBucket()
	}
	key := path.Join(dir, fileID.String(), path.Base(filename))

	uploadID, err := o.objects.CreateMultipartUpload(ctx, bucket, key, in.MimeType)
	if err != nil {
		o.releaseSlot(ctx, in.UserID)
		return nil, fmt.Errorf("create multipart upload: %w", err)
	}

	session, err := storage.NewUploadSession(storage.NewUploadSessionInput{
		FileID:       fileID,
		TenantID:     in.TenantID,
		UserID:       in.UserID,
		UploadID:     uploadID,
		ObjectKey:    key,
		Bucket:       bucket,
		MimeType:     in.MimeType,
		OriginalName: firstNonEmpty(in.OriginalName, filename),
		SizeBytes:    in.SizeBytes,
		TTL:          o.ttl,
	})
	if err == nil {
		err = o.sessions.Create(ctx, session)
	}
	if err != nil {
		o.releaseSlot(ctx, in.UserID)
		if abortErr := o.objects.AbortMultipartUpload(ctx, bucket, key, uploadID); abortErr != nil {
			o.logger.Warn("Failed to abort orphaned multipart upload",
				zap.String("upload_id", uploadID),
				zap.String("object_key", key),
				zap.Error(abortErr),
			)
		}
		return nil, fmt.Errorf("persist upload session: %w", err)
	}

	o.logger.Info("Upload initiated",
		zap.String("file_id", fileID.String()),
		zap.String("user_id", in.UserID.String()),
		zap.String("object_key", key),
		zap.Uint64("size_bytes", in.SizeBytes),
	)

	return &InitiateUploadResult{
		FileID:    session.FileID,
		UploadID:  session.UploadID,
		ObjectKey: session.ObjectKey,
		Bucket:    session.Bucket,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// AbortUploadInput identifies the session to abort. Force skips the ownership
// check and is reserved for the sweeper and administrators.
type AbortUploadInput struct {
	UserID uuid.UUID
	FileID uuid.UUID
	Force  bool
	Reason string
}

// AbortUpload moves a session to ABORTED and frees its slot if it held one.
// Aborting an already aborted session succeeds without side effects. The slot
// is released only by the writer whose save moved the session out of a
// slot-holding status.
func (o *UploadOrchestrator) AbortUpload(ctx context.Context, in AbortUploadInput) error {
	var session *storage.UploadSession
	for attempt := 1; ; attempt++ {
		var err error
		session, err = o.sessions.FindByFileID(ctx, in.FileID)
		if err != nil {
			return err
		}
		if !in.Force && !session.IsOwnedBy(in.UserID) {
			return shared.NewDomainError(shared.CodeForbidden, "upload session belongs to another user")
		}
		if session.Status == storage.UploadStatusAborted {
			return nil
		}

		heldSlot := session.HoldsSlot()
		if err := session.Abort(in.Reason); err != nil {
			return err
		}

		err = o.sessions.Save(ctx, session)
		if err == nil {
			if heldSlot {
				o.releaseSlot(ctx, session.UserID)
			}
			break
		}
		// another writer moved the session first; look again
		if !errors.Is(err, shared.ErrConcurrencyConflict) || attempt >= saveAttempts {
			return fmt.Errorf("persist aborted session: %w", err)
		}
	}

	if err := o.objects.AbortMultipartUpload(ctx, session.Bucket, session.ObjectKey, session.UploadID); err != nil {
		o.logger.Warn("Failed to abort multipart upload in object store",
			zap.String("file_id", session.FileID.String()),
			zap.String("upload_id", session.UploadID),
			zap.Error(err),
		)
	}

	o.metrics.RecordUploadAborted(ctx, in.Reason)
	o.logger.Info("Upload aborted",
		zap.String("file_id", session.FileID.String()),
		zap.String("user_id", session.UserID.String()),
		zap.String("reason", in.Reason),
		zap.Bool("force", in.Force),
	)
	return nil
}

// MarkUploading records that the client has started sending parts
func (o *UploadOrchestrator) MarkUploading(ctx context.Context, userID, fileID uuid.UUID) (*storage.UploadSession, error) {
	session, err := o.GetSession(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	if session.Status == storage.UploadStatusUploading {
		return session, nil
	}
	if err := session.MarkUploading(); err != nil {
		return nil, err
	}
	if err := o.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("persist upload session: %w", err)
	}
	return session, nil
}

// PresignPart returns a URL the client can PUT one part to
func (o *UploadOrchestrator) PresignPart(ctx context.Context, userID, fileID uuid.UUID, partNumber int32) (string, time.Time, error) {
	if partNumber < 1 || partNumber > 10000 {
		return "", time.Time{}, shared.NewValidationError("part number must be between 1 and 10000")
	}
	session, err := o.GetSession(ctx, userID, fileID)
	if err != nil {
		return "", time.Time{}, err
	}
	if !session.HoldsSlot() {
		return "", time.Time{}, shared.NewConflictError(shared.CodeInvalidState,
			"cannot upload parts to a session in status "+string(session.Status))
	}
	url, expiresAt, err := o.objects.PresignUploadPart(ctx, session.Bucket, session.ObjectKey, session.UploadID, partNumber)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign upload part: %w", err)
	}
	return url, expiresAt, nil
}

// CompleteUpload assembles the uploaded parts and frees the slot
func (o *UploadOrchestrator) CompleteUpload(ctx context.Context, userID, fileID uuid.UUID, parts []storage.CompletedPart) (*storage.UploadSession, error) {
	if len(parts) == 0 {
		return nil, shared.NewValidationError("at least one part is required")
	}
	session, err := o.GetSession(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	if err := checkCompletable(session); err != nil {
		return nil, err
	}

	if err := o.objects.CompleteMultipartUpload(ctx, session.Bucket, session.ObjectKey, session.UploadID, parts); err != nil {
		return nil, fmt.Errorf("complete multipart upload: %w", err)
	}
	for attempt := 1; ; attempt++ {
		if err := session.MarkUploaded(); err != nil {
			return nil, err
		}
		err := o.sessions.Save(ctx, session)
		if err == nil {
			break
		}
		if !errors.Is(err, shared.ErrConcurrencyConflict) || attempt >= saveAttempts {
			return nil, fmt.Errorf("persist completed session: %w", err)
		}
		// an abort or a concurrent complete may have won
		if session, err = o.sessions.FindByFileID(ctx, fileID); err != nil {
			return nil, err
		}
		if err := checkCompletable(session); err != nil {
			return nil, err
		}
	}
	o.releaseSlot(ctx, session.UserID)

	o.logger.Info("Upload completed",
		zap.String("file_id", session.FileID.String()),
		zap.Int("parts", len(parts)),
	)
	return session, nil
}

// CopyUpload copies a completed object to destKey and points the session at it
func (o *UploadOrchestrator) CopyUpload(ctx context.Context, userID, fileID uuid.UUID, destKey string) (*storage.UploadSession, error) {
	dest, err := cleanUploadPath(destKey)
	if err != nil {
		return nil, err
	}
	if dest == "" {
		return nil, shared.NewValidationError("destination key is required")
	}
	session, err := o.GetSession(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	if err := session.BeginCopy(); err != nil {
		return nil, err
	}
	if err := o.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("persist copying session: %w", err)
	}

	if err := o.objects.CopyObject(ctx, session.Bucket, session.ObjectKey, dest); err != nil {
		// Return the session to UPLOADED under its original key
		if finishErr := session.FinishCopy(""); finishErr == nil {
			if saveErr := o.sessions.Save(ctx, session); saveErr != nil {
				o.logger.Error("Failed to restore session after copy failure",
					zap.String("file_id", session.FileID.String()),
					zap.Error(saveErr),
				)
			}
		}
		return nil, fmt.Errorf("copy object: %w", err)
	}

	if err := session.FinishCopy(dest); err != nil {
		return nil, err
	}
	if err := o.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("persist copied session: %w", err)
	}
	return session, nil
}

// GetSession loads a session owned by userID
func (o *UploadOrchestrator) GetSession(ctx context.Context, userID, fileID uuid.UUID) (*storage.UploadSession, error) {
	session, err := o.sessions.FindByFileID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !session.IsOwnedBy(userID) {
		return nil, shared.NewDomainError(shared.CodeForbidden, "upload session belongs to another user")
	}
	return session, nil
}

// releaseSlot logs release failures; the caller's own error is the one returned
func (o *UploadOrchestrator) releaseSlot(ctx context.Context, userID uuid.UUID) {
	if err := o.admission.Release(ctx, userID); err != nil {
		o.logger.Error("Failed to release upload slot",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}
}

func checkCompletable(session *storage.UploadSession) error {
	if session.Status == storage.UploadStatusUploaded || session.Status == storage.UploadStatusCopying {
		return shared.NewConflictError(shared.CodeAlreadyCompleted, "upload session has already completed")
	}
	if !session.HoldsSlot() {
		return shared.NewConflictError(shared.CodeInvalidState,
			"cannot complete upload session in status "+string(session.Status))
	}
	return nil
}

func checkFileType(info storage.TierInfo, filename, originalName, mimeType string) error {
	ext := storage.FileExtension(filename)
	if ext == "" {
		ext = storage.FileExtension(originalName)
	}
	if ext == "" {
		return shared.NewDomainError(shared.CodeInvalidFileType, "file has no extension")
	}
	if _, ok := info.AllowedFileConfig[ext]; !ok {
		return shared.NewDomainError(shared.CodeInvalidFileType,
			fmt.Sprintf("file type .%s is not allowed for tier %s", ext, info.TierName))
	}
	if !info.AllowedFileConfig.Allows(ext, mimeType) {
		return shared.NewDomainError(shared.CodeInvalidFileType,
			fmt.Sprintf("content type %q is not allowed for .%s files", mimeType, ext))
	}
	return nil
}

// cleanUploadPath normalizes a client supplied key prefix. Parent references
// are rejected rather than resolved.
func cleanUploadPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", shared.NewValidationError("path must not contain '..'")
		}
	}
	p = strings.Trim(path.Clean("/"+p), "/")
	return p, nil
}

func initiateResult(err error) string {
	switch {
	case err == nil:
		return telemetry.ResultAdmitted
	case shared.IsQuotaExceeded(err):
		return telemetry.ResultQuotaExceeded
	case shared.ErrorCode(err) == shared.CodeInvalidFileType, errors.Is(err, shared.ErrInvalidInput):
		return telemetry.ResultInvalidFile
	case shared.ErrorCode(err) != "":
		return shared.ErrorCode(err)
	}
	return telemetry.ResultStorageFailure
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
