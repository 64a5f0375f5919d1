package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel string

const (
	// LogLevelQuiet suppresses all output except errors
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows standard operational messages
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose shows driver messages and per-statement detail
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug shows all debug information
	LogLevelDebug LogLevel = "debug"
)

// Logger provides structured logging capabilities
type Logger struct {
	logger *logrus.Logger
	base   logrus.Fields
	level  LogLevel
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Output     io.Writer
	Format     string // "text" or "json"
	ShowCaller bool
	LogFile    string
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	// Reports go to stdout, so logs default to stderr
	if config.Output != nil {
		logger.SetOutput(config.Output)
	} else {
		logger.SetOutput(os.Stderr)
	}

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	logger.SetLevel(toLogrusLevel(config.Level))

	if config.ShowCaller {
		logger.SetReportCaller(true)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := filepath.Base(f.File)
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filename, f.Line)
			},
		})
	}

	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}

		if config.Output == nil {
			logger.SetOutput(io.MultiWriter(os.Stderr, file))
		} else {
			logger.SetOutput(io.MultiWriter(config.Output, file))
		}
	}

	return &Logger{
		logger: logger,
		base:   logrus.Fields{},
		level:  config.Level,
	}, nil
}

// NewDefaultLogger creates a logger with default configuration
func NewDefaultLogger() *Logger {
	logger, _ := NewLogger(Config{
		Level:  LogLevelNormal,
		Format: "text",
	})
	return logger
}

// NewDiscardLogger creates a logger that drops everything; used by tests
func NewDiscardLogger() *Logger {
	logger, _ := NewLogger(Config{
		Level:  LogLevelQuiet,
		Output: io.Discard,
	})
	return logger
}

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case LogLevelQuiet:
		return logrus.ErrorLevel
	case LogLevelVerbose:
		return logrus.DebugLevel
	case LogLevelDebug:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// WithRunID returns a logger whose entries all carry the given run id. An
// empty id generates a fresh one.
func (l *Logger) WithRunID(runID string) *Logger {
	if runID == "" {
		runID = uuid.New().String()
	}
	base := make(logrus.Fields, len(l.base)+1)
	for k, v := range l.base {
		base[k] = v
	}
	base["run_id"] = runID
	return &Logger{logger: l.logger, base: base, level: l.level}
}

// RunID returns the run id attached by WithRunID, if any
func (l *Logger) RunID() string {
	if id, ok := l.base["run_id"].(string); ok {
		return id
	}
	return ""
}

func (l *Logger) entry() *logrus.Entry {
	return l.logger.WithFields(l.base)
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.entry().WithFields(fields)
}

// WithField returns a logger with a single additional field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.entry().WithField(key, value)
}

// LogDatabaseConnection logs database connection attempts
func (l *Logger) LogDatabaseConnection(host string, database string, success bool, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "database_connection",
		"host":      host,
		"database":  database,
		"duration":  duration.String(),
		"success":   success,
	}

	if success {
		l.entry().WithFields(fields).Info("Database connection established")
		return
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.entry().WithFields(fields).Error("Database connection failed")
}

// LogSQLExecution logs SQL statement execution
func (l *Logger) LogSQLExecution(sql string, duration time.Duration, rowsAffected int64, err error) {
	fields := logrus.Fields{
		"operation":     "sql_execution",
		"duration":      duration.String(),
		"rows_affected": rowsAffected,
		"sql":           SanitizeSQL(sql),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.entry().WithFields(fields).Info("SQL execution failed")
		return
	}
	l.entry().WithFields(fields).Debug("SQL executed successfully")
}

// LogTableBuild logs the outcome of rebuilding one auxiliary table
func (l *Logger) LogTableBuild(table string, rows int64, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "table_build",
		"table":     table,
		"duration":  duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.entry().WithFields(fields).Error("Table build failed")
		return
	}
	fields["num_rows"] = rows
	l.entry().WithFields(fields).Info("Table built")
}

// LogRename logs a table rename
func (l *Logger) LogRename(from, to string, err error) {
	fields := logrus.Fields{
		"operation": "rename_table",
		"from":      from,
		"to":        to,
	}

	if err != nil {
		fields["error"] = err.Error()
		l.entry().WithFields(fields).Error("Table rename failed")
		return
	}
	l.entry().WithFields(fields).Debug("Table renamed")
}

// LogDrop logs a table drop
func (l *Logger) LogDrop(table string, err error) {
	fields := logrus.Fields{
		"operation": "drop_table",
		"table":     table,
	}

	if err != nil {
		fields["error"] = err.Error()
		l.entry().WithFields(fields).Error("Table drop failed")
		return
	}
	l.entry().WithFields(fields).Info("Table dropped")
}

// LogExport logs the export of one table to a flat file
func (l *Logger) LogExport(table, path string, rows int64, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "table_export",
		"table":     table,
		"path":      path,
		"duration":  duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.entry().WithFields(fields).Error("Table export failed")
		return
	}
	fields["num_rows"] = rows
	l.entry().WithFields(fields).Info("Table exported")
}

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.entry().Info(msg)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.entry().Infof(format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.entry().Debug(msg)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.entry().Debugf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.entry().Warn(msg)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.entry().Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.entry().Error(msg)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.entry().Errorf(format, args...)
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.logger.SetLevel(toLogrusLevel(level))
}

// IsLevelEnabled checks if a log level is enabled
func (l *Logger) IsLevelEnabled(level LogLevel) bool {
	switch level {
	case LogLevelQuiet:
		return l.logger.IsLevelEnabled(logrus.ErrorLevel)
	case LogLevelNormal:
		return l.logger.IsLevelEnabled(logrus.InfoLevel)
	case LogLevelVerbose:
		return l.logger.IsLevelEnabled(logrus.DebugLevel)
	case LogLevelDebug:
		return l.logger.IsLevelEnabled(logrus.TraceLevel)
	default:
		return false
	}
}

// LogOperationStart logs the start of an operation and returns a function to log completion
func (l *Logger) LogOperationStart(operation string, fields map[string]interface{}) func(error) {
	startTime := time.Now()

	logFields := logrus.Fields{
		"operation": operation,
		"status":    "started",
	}
	for k, v := range fields {
		logFields[k] = v
	}

	l.entry().WithFields(logFields).Debug("Operation started")

	return func(err error) {
		logFields["status"] = "completed"
		logFields["duration"] = time.Since(startTime).String()

		if err != nil {
			logFields["error"] = err.Error()
			logFields["success"] = false
			l.entry().WithFields(logFields).Error("Operation failed")
			return
		}
		logFields["success"] = true
		l.entry().WithFields(logFields).Info("Operation completed")
	}
}

// SanitizeSQL masks IDENTIFIED BY / password= values and truncates long statements
func SanitizeSQL(sql string) string {
	for _, marker := range []string{"password=", "PASSWORD=", "IDENTIFIED BY ", "identified by "} {
		idx := strings.Index(sql, marker)
		if idx == -1 {
			continue
		}
		rest := sql[idx+len(marker):]
		end := len(rest)
		if len(rest) > 0 && (rest[0] == '\'' || rest[0] == '"') {
			if closing := strings.IndexByte(rest[1:], rest[0]); closing != -1 {
				end = closing + 2
			}
		} else if space := strings.IndexByte(rest, ' '); space != -1 {
			end = space
		}
		sql = sql[:idx+len(marker)] + "***" + rest[end:]
	}

	sql = strings.Join(strings.Fields(sql), " ")
	if len(sql) > 500 {
		return sql[:500] + "... [truncated]"
	}
	return sql
}
