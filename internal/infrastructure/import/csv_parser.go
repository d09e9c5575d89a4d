// Package csvimport reads delimited text files row by row and validates the
// fields of each row against declarative rules.
package csvimport

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// utf8BOM is stripped from the start of the stream when present
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// encodingSniffSize is how many leading bytes are checked for valid UTF-8
const encodingSniffSize = 4096

// CSVParser streams rows of a CSV file keyed by header name
type CSVParser struct {
	delimiter        rune
	lazyQuotes       bool
	trimSpace        bool
	lowercaseHeaders bool
	skipEmptyRows    bool

	headerMap  map[string]int
	headers    []string
	currentRow int
	dataRows   int
	reader     *csv.Reader
}

// ParserOption is a functional option for CSVParser configuration
type ParserOption func(*CSVParser)

// WithDelimiter sets the field delimiter (default is comma)
func WithDelimiter(d rune) ParserOption {
	return func(p *CSVParser) {
		p.delimiter = d
	}
}

// WithLazyQuotes enables lazy quote handling
func WithLazyQuotes(lazy bool) ParserOption {
	return func(p *CSVParser) {
		p.lazyQuotes = lazy
	}
}

// WithTrimSpace enables trimming of leading/trailing spaces from fields
func WithTrimSpace(trim bool) ParserOption {
	return func(p *CSVParser) {
		p.trimSpace = trim
	}
}

// WithLowercaseHeaders folds header names to lower case so "SKU" matches "sku"
func WithLowercaseHeaders(lower bool) ParserOption {
	return func(p *CSVParser) {
		p.lowercaseHeaders = lower
	}
}

// WithSkipEmptyRows makes Next skip rows whose fields are all blank
func WithSkipEmptyRows(skip bool) ParserOption {
	return func(p *CSVParser) {
		p.skipEmptyRows = skip
	}
}

// NewCSVParser wraps r. A leading UTF-8 BOM is discarded and the first bytes
// must be valid UTF-8.
func NewCSVParser(r io.Reader, opts ...ParserOption) (*CSVParser, error) {
	parser := &CSVParser{
		delimiter:     ',',
		lazyQuotes:    true,
		trimSpace:     true,
		skipEmptyRows: true,
		headerMap:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(parser)
	}

	br := bufio.NewReaderSize(r, encodingSniffSize)
	if err := stripBOM(br); err != nil {
		return nil, err
	}
	if err := validateUTF8(br); err != nil {
		return nil, err
	}

	parser.reader = csv.NewReader(br)
	parser.reader.Comma = parser.delimiter
	parser.reader.LazyQuotes = parser.lazyQuotes
	parser.reader.TrimLeadingSpace = parser.trimSpace
	parser.reader.FieldsPerRecord = -1

	return parser, nil
}

// ParseFromBytes creates a parser from a byte slice
func ParseFromBytes(data []byte, opts ...ParserOption) (*CSVParser, error) {
	return NewCSVParser(bytes.NewReader(data), opts...)
}

func stripBOM(br *bufio.Reader) error {
	head, err := br.Peek(len(utf8BOM))
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return nil
}

func validateUTF8(br *bufio.Reader) error {
	content, err := br.Peek(encodingSniffSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return fmt.Errorf("failed to read file for encoding validation: %w", err)
	}
	if len(content) == 0 {
		return ErrEmptyFile
	}
	// A multi-byte rune may straddle the sniff window.
	if len(content) == encodingSniffSize {
		for i := 1; i < utf8.UTFMax && i <= len(content); i++ {
			if !utf8.RuneStart(content[len(content)-i]) {
				continue
			}
			if !utf8.FullRune(content[len(content)-i:]) {
				content = content[:len(content)-i]
			}
			break
		}
	}
	if !utf8.Valid(content) {
		return ErrInvalidEncoding
	}
	return nil
}

// ParseHeader reads the header row. It must be called before Next.
func (p *CSVParser) ParseHeader() error {
	record, err := p.reader.Read()
	if errors.Is(err, io.EOF) {
		return ErrMissingHeader
	}
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	p.headers = make([]string, 0, len(record))
	for i, h := range record {
		header := h
		if p.trimSpace {
			header = strings.TrimSpace(header)
		}
		if p.lowercaseHeaders {
			header = strings.ToLower(header)
		}
		if header == "" {
			continue
		}
		if _, dup := p.headerMap[header]; dup {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidHeader, header)
		}
		p.headers = append(p.headers, header)
		p.headerMap[header] = i
	}
	if len(p.headers) == 0 {
		return ErrMissingHeader
	}

	p.currentRow = 1
	return nil
}

// Headers returns the parsed header names
func (p *CSVParser) Headers() []string {
	return p.headers
}

// HasHeader checks if a header exists
func (p *CSVParser) HasHeader(name string) bool {
	_, ok := p.headerMap[name]
	return ok
}

// MissingHeaders returns the required headers absent from the file
func (p *CSVParser) MissingHeaders(required []string) []string {
	var missing []string
	for _, h := range required {
		if !p.HasHeader(h) {
			missing = append(missing, h)
		}
	}
	return missing
}

// Row is one data row. LineNumber counts the header as line 1.
type Row struct {
	LineNumber int
	Data       map[string]string
}

// Get returns the value for a column by header name
func (r *Row) Get(header string) string {
	return r.Data[header]
}

// GetOrDefault returns the value for a column, or def when it is blank
func (r *Row) GetOrDefault(header, def string) string {
	if val := r.Data[header]; val != "" {
		return val
	}
	return def
}

// IsEmpty returns true if the row has no non-empty values
func (r *Row) IsEmpty() bool {
	for _, v := range r.Data {
		if v != "" {
			return false
		}
	}
	return true
}

// Next returns the next data row or io.EOF. A malformed record is reported
// as a *RowError so callers can log it against its line and keep reading.
func (p *CSVParser) Next() (*Row, error) {
	for {
		record, err := p.reader.Read()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		p.currentRow++
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return nil, &RowError{Row: p.currentRow, Code: ErrCodeImportMalformedRow, Message: parseErr.Err.Error()}
			}
			return nil, fmt.Errorf("error reading row %d: %w", p.currentRow, err)
		}

		row := &Row{
			LineNumber: p.currentRow,
			Data:       make(map[string]string, len(p.headers)),
		}
		for _, header := range p.headers {
			var value string
			if idx := p.headerMap[header]; idx < len(record) {
				value = record[idx]
				if p.trimSpace {
					value = strings.TrimSpace(value)
				}
			}
			row.Data[header] = value
		}
		if p.skipEmptyRows && row.IsEmpty() {
			continue
		}
		p.dataRows++
		return row, nil
	}
}

// CurrentRow returns the line number of the last record read
func (p *CSVParser) CurrentRow() int {
	return p.currentRow
}

// DataRows returns how many data rows Next has returned
func (p *CSVParser) DataRows() int {
	return p.dataRows
}

// CountDataRows reads r to the end and returns the number of non-empty data
// rows after the header. It is used to size a job before processing starts.
func CountDataRows(r io.Reader, opts ...ParserOption) (int, error) {
	parser, err := NewCSVParser(r, opts...)
	if err != nil {
		return 0, err
	}
	if err := parser.ParseHeader(); err != nil {
		return 0, err
	}
	for {
		_, err := parser.Next()
		if errors.Is(err, io.EOF) {
			return parser.DataRows(), nil
		}
		var rowErr *RowError
		if errors.As(err, &rowErr) {
			// malformed records still count as rows
			parser.dataRows++
			continue
		}
		if err != nil {
			return 0, err
		}
	}
}
