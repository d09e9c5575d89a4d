// Package productimport imports product catalog rows from an uploaded CSV file.
package productimport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/erp/ingest/internal/domain/bulk"
	"github.com/erp/ingest/internal/domain/catalog"
	"github.com/erp/ingest/internal/domain/shared"
	"github.com/erp/ingest/internal/domain/storage"
	csvimport "github.com/erp/ingest/internal/infrastructure/import"
	"github.com/shopspring/decimal"
)

// Column names, matched case-insensitively
const (
	ColumnSKU         = "sku"
	ColumnName        = "name"
	ColumnPrice       = "price"
	ColumnDescription = "description"
	ColumnCategory    = "category"
	ColumnUnit        = "unit"
)

// Strategy reads the CSV behind a completed upload session and upserts one
// product per row
type Strategy struct {
	sessions storage.UploadSessionRepository
	objects  storage.ObjectStore
	products catalog.ProductWriter

	// per-request validators; duplicate detection is scoped to one file
	validators sync.Map
}

// New creates the product catalog import strategy
func New(sessions storage.UploadSessionRepository, objects storage.ObjectStore, products catalog.ProductWriter) *Strategy {
	return &Strategy{
		sessions: sessions,
		objects:  objects,
		products: products,
	}
}

var _ bulk.RowStrategy = (*Strategy)(nil)

// Type implements bulk.RowStrategy
func (s *Strategy) Type() bulk.ProcessingType {
	return bulk.TypeProductCatalog
}

func newValidator() *csvimport.FieldValidator {
	return csvimport.NewFieldValidator(
		csvimport.Field(ColumnSKU).Required().MaxLength(64).
			Pattern(`^[A-Za-z0-9][A-Za-z0-9._-]*$`, "letters, digits, '.', '_' or '-'").
			Unique().Build(),
		csvimport.Field(ColumnName).Required().MaxLength(255).Build(),
		csvimport.Field(ColumnPrice).Decimal().MinValue(decimal.Zero).Build(),
		csvimport.Field(ColumnDescription).Recommended().MaxLength(2000).Build(),
		csvimport.Field(ColumnCategory).MaxLength(100).Build(),
		csvimport.Field(ColumnUnit).MaxLength(16).Build(),
	)
}

var parserOptions = []csvimport.ParserOption{
	csvimport.WithLowercaseHeaders(true),
	csvimport.WithTrimSpace(true),
	csvimport.WithSkipEmptyRows(true),
}

// Open resolves the uploaded file, counts its rows and returns a streaming source
func (s *Strategy) Open(ctx context.Context, req *bulk.BulkProcessingRequest) (bulk.RowSource, error) {
	if req.FileID == nil {
		return nil, shared.NewValidationError("product catalog import requires a file id")
	}
	session, err := s.sessions.FindByFileID(ctx, *req.FileID)
	if err != nil {
		return nil, fmt.Errorf("load upload session: %w", err)
	}
	if !req.BelongsTo(session.TenantID) {
		return nil, shared.NewDomainError(shared.CodeForbidden, "uploaded file belongs to another tenant")
	}
	if session.Status != storage.UploadStatusUploaded {
		return nil, shared.NewConflictError(shared.CodeInvalidState,
			"uploaded file is not complete, status "+string(session.Status))
	}

	total, err := s.countRows(ctx, session)
	if err != nil {
		return nil, err
	}

	body, err := s.objects.OpenObject(ctx, session.Bucket, session.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("open uploaded file: %w", err)
	}
	parser, err := csvimport.NewCSVParser(body, parserOptions...)
	if err == nil {
		err = parser.ParseHeader()
	}
	if err != nil {
		body.Close()
		return nil, fileError(err)
	}

	validator := newValidator()
	if missing := parser.MissingHeaders(validator.RequiredColumns()); len(missing) > 0 {
		body.Close()
		return nil, shared.NewValidationError("missing required columns: %s", strings.Join(missing, ", "))
	}
	s.validators.Store(req.ID, validator)

	return &rowSource{
		parser: parser,
		body:   body,
		total:  total,
		onClose: func() {
			s.validators.Delete(req.ID)
		},
	}, nil
}

func (s *Strategy) countRows(ctx context.Context, session *storage.UploadSession) (int, error) {
	body, err := s.objects.OpenObject(ctx, session.Bucket, session.ObjectKey)
	if err != nil {
		return 0, fmt.Errorf("open uploaded file: %w", err)
	}
	defer body.Close()

	total, err := csvimport.CountDataRows(body, parserOptions...)
	if err != nil {
		return 0, fileError(err)
	}
	return total, nil
}

// ValidateRow implements bulk.RowStrategy
func (s *Strategy) ValidateRow(_ context.Context, req *bulk.BulkProcessingRequest, row bulk.Row) bulk.RowValidation {
	v, ok := s.validators.Load(req.ID)
	if !ok {
		v = newValidator()
	}
	result := v.(*csvimport.FieldValidator).ValidateRow(&csvimport.Row{LineNumber: row.Number, Data: row.Data})

	var out bulk.RowValidation
	for i := range result.Errors {
		out.Errors = append(out.Errors, result.Errors[i].Describe())
	}
	for i := range result.Warnings {
		out.Warnings = append(out.Warnings, result.Warnings[i].Describe())
	}
	return out
}

// ApplyRow upserts the product described by row
func (s *Strategy) ApplyRow(ctx context.Context, req *bulk.BulkProcessingRequest, row bulk.Row) error {
	price := decimal.Zero
	if raw := row.Data[ColumnPrice]; raw != "" {
		p, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("price: %w", err)
		}
		price = p
	}

	product, err := catalog.NewProduct(req.TenantID, row.Data[ColumnSKU], row.Data[ColumnName], price)
	if err != nil {
		return err
	}
	product.Description = row.Data[ColumnDescription]
	product.Category = row.Data[ColumnCategory]
	if unit := row.Data[ColumnUnit]; unit != "" {
		product.Unit = unit
	}
	return s.products.Upsert(ctx, product)
}

func fileError(err error) error {
	if code := csvimport.FileErrorCode(err); code != "" {
		return shared.NewValidationError("%s: %s", code, err.Error())
	}
	return fmt.Errorf("read uploaded file: %w", err)
}

type rowSource struct {
	parser  *csvimport.CSVParser
	body    io.ReadCloser
	total   int
	onClose func()
	once    sync.Once
}

func (r *rowSource) Next(ctx context.Context) (bulk.Row, error) {
	if err := ctx.Err(); err != nil {
		return bulk.Row{}, err
	}
	row, err := r.parser.Next()
	if err != nil {
		var rowErr *csvimport.RowError
		if errors.As(err, &rowErr) {
			return bulk.Row{}, &bulk.MalformedRowError{Number: rowErr.Row, Message: rowErr.Describe()}
		}
		return bulk.Row{}, err
	}
	return bulk.Row{Number: row.LineNumber, Data: row.Data}, nil
}

func (r *rowSource) TotalRows() (int, bool) {
	return r.total, true
}

func (r *rowSource) Close() error {
	var err error
	r.once.Do(func() {
		r.onClose()
		err = r.body.Close()
	})
	return err
}
