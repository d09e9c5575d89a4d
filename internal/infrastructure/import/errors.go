package csvimport

import (
	"errors"
	"fmt"
	"strings"
)

// Import error codes
const (
	ErrCodeImportEmptyFile       = "ERR_IMPORT_EMPTY_FILE"
	ErrCodeImportInvalidEncoding = "ERR_IMPORT_INVALID_ENCODING"
	ErrCodeImportMissingHeader   = "ERR_IMPORT_MISSING_HEADER"
	ErrCodeImportInvalidHeader   = "ERR_IMPORT_INVALID_HEADER"
	ErrCodeImportMalformedRow    = "ERR_IMPORT_MALFORMED_ROW"

	ErrCodeImportValidation      = "ERR_IMPORT_VALIDATION"
	ErrCodeImportRequiredField   = "ERR_IMPORT_REQUIRED_FIELD"
	ErrCodeImportMissingOptional = "ERR_IMPORT_MISSING_OPTIONAL"
	ErrCodeImportInvalidType     = "ERR_IMPORT_INVALID_TYPE"
	ErrCodeImportInvalidLength   = "ERR_IMPORT_INVALID_LENGTH"
	ErrCodeImportInvalidRange    = "ERR_IMPORT_INVALID_RANGE"
	ErrCodeImportPatternMismatch = "ERR_IMPORT_PATTERN_MISMATCH"
	ErrCodeImportDuplicateInFile = "ERR_IMPORT_DUPLICATE_IN_FILE"
)

var (
	// ErrEmptyFile is returned when the CSV file is empty
	ErrEmptyFile = errors.New("CSV file is empty")

	// ErrInvalidEncoding is returned when the file is not UTF-8
	ErrInvalidEncoding = errors.New("invalid file encoding, expected UTF-8")

	// ErrMissingHeader is returned when the CSV file has no header row
	ErrMissingHeader = errors.New("CSV file missing header row")

	// ErrInvalidHeader is returned for unusable header rows
	ErrInvalidHeader = errors.New("invalid CSV header")
)

// FileErrorCode maps a file-level parse error to its import code
func FileErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrEmptyFile):
		return ErrCodeImportEmptyFile
	case errors.Is(err, ErrInvalidEncoding):
		return ErrCodeImportInvalidEncoding
	case errors.Is(err, ErrMissingHeader):
		return ErrCodeImportMissingHeader
	case errors.Is(err, ErrInvalidHeader):
		return ErrCodeImportInvalidHeader
	}
	return ""
}

// RowError is a problem found in a specific row
type RowError struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

// Error implements the error interface
func (e *RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("row %d, column '%s': %s", e.Row, e.Column, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// Describe renders the problem without the row prefix, for row logs that
// already carry the row number.
func (e *RowError) Describe() string {
	if e.Column != "" {
		return e.Column + ": " + e.Message
	}
	return e.Message
}

// RowResult holds the problems found in one row. Errors reject the row;
// warnings are informational.
type RowResult struct {
	Errors   []RowError
	Warnings []RowError
}

// Valid reports whether the row has no errors
func (r RowResult) Valid() bool {
	return len(r.Errors) == 0
}

// ErrorMessage joins all error descriptions into one line
func (r RowResult) ErrorMessage() string {
	return joinDescriptions(r.Errors)
}

// WarningMessage joins all warning descriptions into one line
func (r RowResult) WarningMessage() string {
	return joinDescriptions(r.Warnings)
}

func joinDescriptions(errs []RowError) string {
	parts := make([]string, len(errs))
	for i := range errs {
		parts[i] = errs[i].Describe()
	}
	return strings.Join(parts, "; ")
}
