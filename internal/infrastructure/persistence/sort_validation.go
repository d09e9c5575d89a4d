package persistence

import "strings"

// sortWhitelist turns caller-supplied sort keys into an ORDER BY clause.
// Only listed columns reach the SQL; anything else falls back to the default
// column, newest first.
type sortWhitelist struct {
	columns  map[string]struct{}
	fallback string
}

func newSortWhitelist(fallback string, columns ...string) sortWhitelist {
	w := sortWhitelist{columns: make(map[string]struct{}, len(columns)+1), fallback: fallback}
	w.columns[fallback] = struct{}{}
	for _, c := range columns {
		w.columns[c] = struct{}{}
	}
	return w
}

func (w sortWhitelist) column(field string) string {
	field = strings.TrimSpace(field)
	if _, ok := w.columns[field]; ok {
		return field
	}
	return w.fallback
}

func (w sortWhitelist) clause(field, dir string) string {
	if strings.EqualFold(strings.TrimSpace(dir), "asc") {
		return w.column(field) + " ASC"
	}
	return w.column(field) + " DESC"
}

var bulkRequestSort = newSortWhitelist("created_at",
	"updated_at", "started_at", "completed_at",
	"status", "type", "processed_rows", "failed_rows",
)
