package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// maxLoggedSQL caps the statement text. Row log batches from the bulk runner
// produce multi-kilobyte INSERTs that would otherwise dominate the log.
const maxLoggedSQL = 2048

// SQLLogger adapts zap to gorm's logger interface. Only errors and slow
// statements are emitted at the default Warn level.
type SQLLogger struct {
	base          *zap.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
	logNotFound   bool
}

// SQLLoggerOption configures a SQLLogger.
type SQLLoggerOption func(*SQLLogger)

// WithSlowThreshold sets the duration above which a statement is logged as slow.
// Zero disables slow statement logging.
func WithSlowThreshold(d time.Duration) SQLLoggerOption {
	return func(l *SQLLogger) { l.slowThreshold = d }
}

// WithNotFoundLogging makes gorm.ErrRecordNotFound show up as an error.
// Repositories translate it to a domain NotFound, so it is off by default.
func WithNotFoundLogging(enabled bool) SQLLoggerOption {
	return func(l *SQLLogger) { l.logNotFound = enabled }
}

// NewSQLLogger returns a gorm logger writing to base under the "gorm" name.
func NewSQLLogger(base *zap.Logger, level gormlogger.LogLevel, opts ...SQLLoggerOption) *SQLLogger {
	l := &SQLLogger{
		base:          base.Named("gorm"),
		level:         level,
		slowThreshold: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *SQLLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *SQLLogger) Info(ctx context.Context, msg string, data ...any) {
	l.printf(ctx, gormlogger.Info, msg, data...)
}

func (l *SQLLogger) Warn(ctx context.Context, msg string, data ...any) {
	l.printf(ctx, gormlogger.Warn, msg, data...)
}

func (l *SQLLogger) Error(ctx context.Context, msg string, data ...any) {
	l.printf(ctx, gormlogger.Error, msg, data...)
}

func (l *SQLLogger) printf(ctx context.Context, at gormlogger.LogLevel, msg string, data ...any) {
	if l.level < at {
		return
	}
	log := l.base.With(correlationFields(ctx)...)
	text := fmt.Sprintf(msg, data...)
	switch at {
	case gormlogger.Error:
		log.Error(text)
	case gormlogger.Warn:
		log.Warn(text)
	default:
		log.Info(text)
	}
}

// Trace is called by gorm after every statement.
func (l *SQLLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	failed := err != nil && (l.logNotFound || !errors.Is(err, gormlogger.ErrRecordNotFound))
	slow := l.slowThreshold > 0 && elapsed > l.slowThreshold

	var emit func(string, ...zap.Field)
	msg := "sql"
	switch {
	case failed && l.level >= gormlogger.Error:
		emit, msg = l.base.Error, "sql failed"
	case slow && l.level >= gormlogger.Warn:
		emit, msg = l.base.Warn, fmt.Sprintf("slow sql >= %v", l.slowThreshold)
	case l.level >= gormlogger.Info:
		emit = l.base.Debug
	default:
		return
	}

	stmt, rows := fc()
	if len(stmt) > maxLoggedSQL {
		stmt = stmt[:maxLoggedSQL] + "..."
	}
	fields := append(correlationFields(ctx),
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", stmt),
	)
	if failed {
		fields = append(fields, zap.Error(err))
	}
	emit(msg, fields...)
}

// correlationFields picks up the ids set by the HTTP middleware or the bulk runner.
func correlationFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	for _, kv := range [...][2]string{
		{"request_id", GetRequestID(ctx)},
		{"tenant_id", GetTenantID(ctx)},
		{"user_id", GetUserID(ctx)},
		{"job_id", GetJobID(ctx)},
	} {
		if kv[1] != "" {
			fields = append(fields, zap.String(kv[0], kv[1]))
		}
	}
	return fields
}

// MapGormLogLevel maps the configured log level onto gorm's levels.
func MapGormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
