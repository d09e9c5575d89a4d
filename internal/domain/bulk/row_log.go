package bulk

import (
	"iter"
	"time"
)

// LogLevel classifies a row log entry
type LogLevel string

const (
	LogLevelError   LogLevel = "ERROR"
	LogLevelWarning LogLevel = "WARNING"
)

// IsValid checks if the level is known
func (l LogLevel) IsValid() bool {
	return l == LogLevelError || l == LogLevelWarning
}

// RowLog records the outcome of a single source row. RawData is a snapshot of
// the row as read from the source.
type RowLog struct {
	RowNumber int               `json:"row_number"`
	Level     LogLevel          `json:"level"`
	Message   string            `json:"message"`
	RawData   map[string]string `json:"raw_data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// FilterLogs returns a restartable sequence over logs with the given level.
// An empty level yields every log.
func FilterLogs(logs []RowLog, level LogLevel) iter.Seq[RowLog] {
	return func(yield func(RowLog) bool) {
		for _, l := range logs {
			if level != "" && l.Level != level {
				continue
			}
			if !yield(l) {
				return
			}
		}
	}
}
