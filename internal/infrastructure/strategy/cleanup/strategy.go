// Package cleanup deletes stale temporary objects a user left in object storage.
package cleanup

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/erp/ingest/internal/domain/bulk"
	"github.com/erp/ingest/internal/domain/shared"
	"github.com/erp/ingest/internal/domain/storage"
)

// Option keys read from the request options
const (
	OptionPrefix         = "prefix"
	OptionOlderThanHours = "older_than_hours"
	OptionBucket         = "bucket"
)

// DefaultOlderThan is the minimum object age when older_than_hours is not set
const DefaultOlderThan = 24 * time.Hour

// Row data keys
const (
	DataKey          = "key"
	DataSize         = "size"
	DataLastModified = "last_modified"
)

// Strategy lists objects under the user's temp prefix and deletes one per row
type Strategy struct {
	objects storage.ObjectStore
	now     func() time.Time
}

// New creates the temp file cleanup strategy
func New(objects storage.ObjectStore) *Strategy {
	return &Strategy{objects: objects, now: time.Now}
}

var _ bulk.RowStrategy = (*Strategy)(nil)

// Type implements bulk.RowStrategy
func (s *Strategy) Type() bulk.ProcessingType {
	return bulk.TypeCleanupTempFiles
}

// UserTempPrefix is the root every cleanup of userID is confined to
func UserTempPrefix(req *bulk.BulkProcessingRequest) string {
	return "tmp/" + req.UserID.String() + "/"
}

type options struct {
	bucket    string
	prefix    string
	olderThan time.Duration
}

func parseOptions(req *bulk.BulkProcessingRequest) (options, error) {
	root := UserTempPrefix(req)
	opts := options{prefix: root, olderThan: DefaultOlderThan}

	if v, ok := req.Options[OptionBucket].(string); ok {
		opts.bucket = v
	}
	if v, ok := req.Options[OptionPrefix].(string); ok && strings.TrimSpace(v) != "" {
		p := strings.TrimPrefix(strings.TrimSpace(v), "/")
		if strings.Contains(p, "..") || !strings.HasPrefix(p, root) {
			return opts, shared.NewValidationError("prefix must stay under %s", root)
		}
		opts.prefix = p
	}
	if raw, ok := req.Options[OptionOlderThanHours]; ok {
		hours, err := toHours(raw)
		if err != nil {
			return opts, err
		}
		opts.olderThan = time.Duration(hours * float64(time.Hour))
	}
	return opts, nil
}

// toHours accepts the option as a JSON number or a numeric string
func toHours(raw any) (float64, error) {
	var hours float64
	switch v := raw.(type) {
	case float64:
		hours = v
	case int:
		hours = float64(v)
	case int64:
		hours = float64(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, shared.NewValidationError("%s must be a number", OptionOlderThanHours)
		}
		hours = f
	default:
		return 0, shared.NewValidationError("%s must be a number", OptionOlderThanHours)
	}
	if hours < 0 {
		return 0, shared.NewValidationError("%s cannot be negative", OptionOlderThanHours)
	}
	return hours, nil
}

// Open lists the stale objects. The listing is the row source, so TotalRows is known.
func (s *Strategy) Open(ctx context.Context, req *bulk.BulkProcessingRequest) (bulk.RowSource, error) {
	opts, err := parseOptions(req)
	if err != nil {
		return nil, err
	}
	objects, err := s.objects.ListObjects(ctx, opts.bucket, opts.prefix)
	if err != nil {
		return nil, fmt.Errorf("list temp objects: %w", err)
	}

	cutoff := s.now().Add(-opts.olderThan)
	rows := make([]bulk.Row, 0, len(objects))
	for _, obj := range objects {
		if !obj.LastModified.Before(cutoff) {
			continue
		}
		rows = append(rows, bulk.Row{
			Number: len(rows) + 1,
			Data: map[string]string{
				DataKey:          obj.Key,
				DataSize:         strconv.FormatInt(obj.Size, 10),
				DataLastModified: obj.LastModified.UTC().Format(time.RFC3339),
			},
		})
	}
	return &listingSource{rows: rows}, nil
}

// ValidateRow rejects keys that escaped the prefix
func (s *Strategy) ValidateRow(_ context.Context, req *bulk.BulkProcessingRequest, row bulk.Row) bulk.RowValidation {
	var v bulk.RowValidation
	key := row.Data[DataKey]
	if key == "" || !strings.HasPrefix(key, UserTempPrefix(req)) {
		v.Errors = append(v.Errors, "object key is outside the temp prefix")
	}
	if row.Data[DataSize] == "0" {
		v.Warnings = append(v.Warnings, "object is empty")
	}
	return v
}

// ApplyRow deletes the object
func (s *Strategy) ApplyRow(ctx context.Context, req *bulk.BulkProcessingRequest, row bulk.Row) error {
	bucket, _ := req.Options[OptionBucket].(string)
	if err := s.objects.DeleteObject(ctx, bucket, row.Data[DataKey]); err != nil {
		return fmt.Errorf("delete %s: %w", row.Data[DataKey], err)
	}
	return nil
}

type listingSource struct {
	rows []bulk.Row
	next int
}

func (l *listingSource) Next(ctx context.Context) (bulk.Row, error) {
	if err := ctx.Err(); err != nil {
		return bulk.Row{}, err
	}
	if l.next >= len(l.rows) {
		return bulk.Row{}, io.EOF
	}
	row := l.rows[l.next]
	l.next++
	return row, nil
}

func (l *listingSource) TotalRows() (int, bool) {
	return len(l.rows), true
}

func (l *listingSource) Close() error {
	return nil
}
