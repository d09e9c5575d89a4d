package shared

import (
	"errors"
	"fmt"
)

// Error codes shared across the upload and bulk processing domains
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeInvalidFileType     = "INVALID_FILE_TYPE"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
	CodeStorageQuota        = "STORAGE_QUOTA_EXCEEDED"
	CodeConcurrentUploads   = "CONCURRENT_UPLOADS_EXCEEDED"
	CodeNotFound            = "NOT_FOUND"
	CodeForbidden           = "FORBIDDEN"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeConflict            = "CONFLICT"
	CodeAlreadyCompleted    = "ALREADY_COMPLETED"
	CodeInvalidState        = "INVALID_STATE"
	CodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	CodeFatalProcessing     = "FATAL_PROCESSING"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// Is matches any DomainError carrying the same code, so callers can write
// errors.Is(err, shared.ErrNotFound) against errors built with a custom message.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound            = NewDomainError(CodeNotFound, "Resource not found")
	ErrInvalidInput        = NewDomainError(CodeValidation, "Invalid input provided")
	ErrConcurrencyConflict = NewDomainError(CodeConcurrencyConflict, "Resource was modified by another process")
	ErrUnauthorized        = NewDomainError(CodeUnauthorized, "Not authorized to perform this action")
	ErrForbidden           = NewDomainError(CodeForbidden, "Access to this resource is forbidden")
	ErrInvalidState        = NewDomainError(CodeInvalidState, "Operation not allowed in current state")
	ErrQuotaExceeded       = NewDomainError(CodeQuotaExceeded, "Quota exceeded")
	ErrAlreadyCompleted    = NewDomainError(CodeAlreadyCompleted, "Resource has already completed")
)

// NewValidationError builds a VALIDATION_ERROR with a formatted message
func NewValidationError(format string, args ...any) *DomainError {
	return NewDomainError(CodeValidation, fmt.Sprintf(format, args...))
}

// NewNotFoundError builds a NOT_FOUND error for the named resource
func NewNotFoundError(resource string) *DomainError {
	return NewDomainError(CodeNotFound, resource+" not found")
}

// NewConflictError builds a state conflict carrying the given code
func NewConflictError(code, message string) *DomainError {
	return NewDomainError(code, message)
}

// ErrorCode extracts the DomainError code from err, or "" when err is not a DomainError
func ErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsConflict reports whether err is any of the state conflict errors
func IsConflict(err error) bool {
	switch ErrorCode(err) {
	case CodeConflict, CodeAlreadyCompleted, CodeInvalidState, CodeConcurrencyConflict:
		return true
	}
	return false
}

// IsQuotaExceeded reports whether err is a storage or concurrency quota denial
func IsQuotaExceeded(err error) bool {
	switch ErrorCode(err) {
	case CodeQuotaExceeded, CodeStorageQuota, CodeConcurrentUploads:
		return true
	}
	return false
}
