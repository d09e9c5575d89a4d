package bulk

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

var reportHeader = []string{"row_number", "level", "message", "raw_data", "created_at"}

// WriteReportCSV renders a report as CSV, one row log per line. raw_data is
// written as a JSON object.
func WriteReportCSV(w io.Writer, report *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return err
	}
	for _, entry := range report.Entries {
		raw := ""
		if len(entry.RawData) > 0 {
			b, err := json.Marshal(entry.RawData)
			if err != nil {
				return fmt.Errorf("encode raw data of row %d: %w", entry.RowNumber, err)
			}
			raw = string(b)
		}
		record := []string{
			strconv.Itoa(entry.RowNumber),
			string(entry.Level),
			entry.Message,
			raw,
			entry.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
