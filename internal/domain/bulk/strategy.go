package bulk

import (
	"context"
	"fmt"
)

// Row is one unit of work read from a strategy's source
type Row struct {
	Number int
	Data   map[string]string
}

// RowValidation holds the problems found in one row. Errors reject the row;
// warnings are logged and the row is still applied.
type RowValidation struct {
	Errors   []string
	Warnings []string
}

// Valid reports whether the row may be applied
func (v RowValidation) Valid() bool {
	return len(v.Errors) == 0
}

// RowSource yields rows in increasing Number order. Next returns io.EOF after
// the last row. A *MalformedRowError from Next rejects that row only.
type RowSource interface {
	Next(ctx context.Context) (Row, error)
	// TotalRows reports the row count when the source knows it up front
	TotalRows() (int, bool)
	Close() error
}

// RowStrategy processes the rows of one ProcessingType
type RowStrategy interface {
	Type() ProcessingType
	Open(ctx context.Context, req *BulkProcessingRequest) (RowSource, error)
	ValidateRow(ctx context.Context, req *BulkProcessingRequest, row Row) RowValidation
	ApplyRow(ctx context.Context, req *BulkProcessingRequest, row Row) error
}

// MalformedRowError reports a row the source could not decode
type MalformedRowError struct {
	Number  int
	Message string
	RawData map[string]string
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Number, e.Message)
}
