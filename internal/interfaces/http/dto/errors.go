package dto

import (
	"net/http"

	"github.com/erp/ingest/internal/domain/shared"
)

// Transport-level error codes. Domain errors keep the code of the
// shared.DomainError that produced them.
const (
	ErrCodeInternal        = "INTERNAL_ERROR"
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeInvalidJSON     = "INVALID_JSON"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
	ErrCodeTokenExpired    = "TOKEN_EXPIRED"
	ErrCodeTokenInvalid    = "INVALID_TOKEN"
	ErrCodeUnavailable     = "SERVICE_UNAVAILABLE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal: http.StatusInternalServerError,

	// Validation errors -> 400 Bad Request
	shared.CodeValidation:      http.StatusBadRequest,
	shared.CodeInvalidFileType: http.StatusBadRequest,
	ErrCodeBadRequest:          http.StatusBadRequest,
	ErrCodeInvalidJSON:         http.StatusBadRequest,

	// Quotas: storage is a size problem, the rest are retryable
	shared.CodeQuotaExceeded:     http.StatusTooManyRequests,
	shared.CodeConcurrentUploads: http.StatusTooManyRequests,
	shared.CodeStorageQuota:      http.StatusRequestEntityTooLarge,
	ErrCodeRateLimited:           http.StatusTooManyRequests,
	ErrCodeRequestTooLarge:       http.StatusRequestEntityTooLarge,

	// Auth errors
	shared.CodeUnauthorized: http.StatusUnauthorized,
	ErrCodeTokenExpired:     http.StatusUnauthorized,
	ErrCodeTokenInvalid:     http.StatusUnauthorized,
	shared.CodeForbidden:    http.StatusForbidden,

	// Resource errors
	shared.CodeNotFound:            http.StatusNotFound,
	shared.CodeConflict:            http.StatusConflict,
	shared.CodeAlreadyCompleted:    http.StatusConflict,
	shared.CodeInvalidState:        http.StatusConflict,
	shared.CodeConcurrencyConflict: http.StatusConflict,

	shared.CodeFatalProcessing: http.StatusInternalServerError,
	ErrCodeUnavailable:         http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
