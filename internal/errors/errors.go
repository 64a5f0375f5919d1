package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeConfiguration represents missing or unreadable configuration
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeTable represents dependency cycles, missing templates and unknown targets
	ErrorTypeTable ErrorType = "table"
	// ErrorTypeDatabase represents any DBMS failure (connect, execute, rename)
	ErrorTypeDatabase ErrorType = "database"
	// ErrorTypeTableExport represents export directory completeness failures
	ErrorTypeTableExport ErrorType = "table_export"
	// ErrorTypeExternalSource represents failures fetching externally sourced files
	ErrorTypeExternalSource ErrorType = "external_source"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInterruption represents user interruption
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// AppError represents an application-specific error with context
type AppError struct {
	Type        ErrorType
	Message     string
	Tables      []string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
	Fatal       bool
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if len(e.Tables) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(e.Tables, ", "))
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s (caused by: %v)", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsRecoverable returns whether the error is recoverable
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// IsFatal returns whether the error must abort the run
func (e *AppError) IsFatal() bool {
	return e.Fatal
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithTables attaches the implicated table names, kept sorted and unique
func (e *AppError) WithTables(tables ...string) *AppError {
	seen := make(map[string]bool, len(e.Tables)+len(tables))
	merged := make([]string, 0, len(e.Tables)+len(tables))
	for _, t := range append(append([]string{}, e.Tables...), tables...) {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		merged = append(merged, t)
	}
	sort.Strings(merged)
	e.Tables = merged
	return e
}

// AsFatal marks the error as one that aborts the run
func (e *AppError) AsFatal() *AppError {
	e.Fatal = true
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewRecoverableError creates a new recoverable error
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	err := NewAppError(errorType, message, cause)
	err.Recoverable = true
	return err
}

// NewConfigurationError reports missing or unreadable configuration
func NewConfigurationError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeConfiguration, message, cause).AsFatal()
}

// NewTableError reports a template graph or target-resolution problem
func NewTableError(message string, tables ...string) *AppError {
	return NewAppError(ErrorTypeTable, message, nil).WithTables(tables...)
}

// NewDatabaseError reports a DBMS failure for the given table
func NewDatabaseError(message string, table string, cause error) *AppError {
	return NewAppError(ErrorTypeDatabase, message, cause).WithTables(table)
}

// NewTableExportError reports offending export files
func NewTableExportError(message string, tables ...string) *AppError {
	return NewAppError(ErrorTypeTableExport, message, nil).WithTables(tables...)
}

// NewExternalSourceError reports a failure fetching an external file
func NewExternalSourceError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeExternalSource, message, cause)
}

// ErrorClassifier provides methods to classify and handle different types of errors
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an AppError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if mysqlErr := ec.classifyMySQLError(err); mysqlErr != nil {
		return mysqlErr
	}

	if netErr := ec.classifyNetworkError(err); netErr != nil {
		return netErr
	}

	if ctxErr := ec.classifyContextError(err); ctxErr != nil {
		return ctxErr
	}

	if fsErr := ec.classifyFileSystemError(err); fsErr != nil {
		return fsErr
	}

	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

// classifyMySQLError classifies MySQL-specific errors
func (ec *ErrorClassifier) classifyMySQLError(err error) *AppError {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1045:
			return NewAppError(ErrorTypeDatabase,
				"Database access denied - check username and password", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1049:
			return NewAppError(ErrorTypeDatabase,
				"Database does not exist", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1146:
			return NewAppError(ErrorTypeDatabase,
				"Table does not exist", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1050:
			return NewAppError(ErrorTypeDatabase,
				"Table already exists", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1064:
			return NewAppError(ErrorTypeDatabase,
				"SQL syntax error", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1205, 1213:
			return NewRecoverableError(ErrorTypeDatabase,
				"Lock wait timeout or deadlock", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 2003:
			return NewRecoverableError(ErrorTypeDatabase,
				"Cannot connect to MySQL server - server may be down or unreachable", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 2006:
			return NewRecoverableError(ErrorTypeDatabase,
				"MySQL server connection lost", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		default:
			return NewAppError(ErrorTypeDatabase,
				fmt.Sprintf("MySQL error: %s", mysqlErr.Message), err).
				WithContext("mysql_error_code", mysqlErr.Number)
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return NewAppError(ErrorTypeDatabase, "No rows found", err)
	}
	if errors.Is(err, sql.ErrTxDone) {
		return NewAppError(ErrorTypeDatabase, "Transaction has already been committed or rolled back", err)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return NewRecoverableError(ErrorTypeDatabase, "Database connection is closed", err)
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return NewRecoverableError(ErrorTypeDatabase, "Invalid database connection", err)
	}

	return nil
}

// classifyNetworkError classifies network-related errors
func (ec *ErrorClassifier) classifyNetworkError(err error) *AppError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverableError(ErrorTypeTimeout, "Network operation timed out", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewRecoverableError(ErrorTypeDatabase,
				"Failed to establish network connection", err)
		case "read", "write":
			return NewRecoverableError(ErrorTypeDatabase,
				"Network I/O error", err)
		}
	}

	return nil
}

// classifyContextError classifies context-related errors
func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRecoverableError(ErrorTypeTimeout, "Operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewAppError(ErrorTypeInterruption, "Operation was canceled", err).AsFatal()
	}

	return nil
}

// classifyFileSystemError classifies file system errors
func (ec *ErrorClassifier) classifyFileSystemError(err error) *AppError {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err {
		case syscall.ENOENT:
			return NewAppError(ErrorTypeConfiguration,
				fmt.Sprintf("File or directory not found: %s", pathErr.Path), err)
		case syscall.EACCES:
			return NewAppError(ErrorTypeConfiguration,
				fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
		case syscall.ENOSPC:
			return NewAppError(ErrorTypeTableExport,
				"No space left on device", err)
		}
	}

	return nil
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler provides retry functionality for operations
type RetryHandler struct {
	config     RetryConfig
	classifier *ErrorClassifier
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(config RetryConfig) *RetryHandler {
	return &RetryHandler{
		config:     config,
		classifier: NewErrorClassifier(),
	}
}

// NewDefaultRetryHandler creates a retry handler with default configuration
func NewDefaultRetryHandler() *RetryHandler {
	return NewRetryHandler(DefaultRetryConfig())
}

// Retry executes a function with retry logic for recoverable errors
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "Operation canceled", ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err
		appErr := rh.classifier.ClassifyError(err)

		if !appErr.IsRecoverable() {
			return appErr
		}

		if attempt == rh.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "Operation canceled during retry", ctx.Err())
		case <-time.After(rh.calculateDelay(attempt)):
		}
	}

	return rh.classifier.ClassifyError(lastErr).
		WithContext("attempts", rh.config.MaxAttempts)
}

// calculateDelay calculates the delay for a given attempt using exponential backoff
func (rh *RetryHandler) calculateDelay(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rh.config.Multiplier
	}

	delay := time.Duration(float64(rh.config.BaseDelay) * multiplier)
	if delay > rh.config.MaxDelay {
		delay = rh.config.MaxDelay
	}

	return delay
}

// IsRecoverableError checks if an error is recoverable
func IsRecoverableError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.IsRecoverable()
	}
	return false
}

// IsFatalError checks if an error must abort the run
func IsFatalError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.IsFatal()
	}
	return false
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// GetTables returns the table names implicated by an error
func GetTables(err error) []string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Tables
	}
	return nil
}

// Summary formats an error as the single line shown to operators: the kind
// followed by the implicated tables. Driver messages stay in the logs.
func Summary(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = NewErrorClassifier().ClassifyError(err)
	}

	line := fmt.Sprintf("%s error: %s", appErr.Type, appErr.Message)
	if len(appErr.Tables) > 0 {
		line += " (tables: " + strings.Join(appErr.Tables, ", ") + ")"
	}
	return strings.ReplaceAll(line, "\n", " ")
}

// WrapError wraps an existing error with additional context
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		wrapped := NewAppError(appErr.Type, message, err)
		wrapped.Tables = appErr.Tables
		wrapped.Recoverable = appErr.Recoverable
		wrapped.Fatal = appErr.Fatal
		return wrapped
	}

	classified := NewErrorClassifier().ClassifyError(err)
	classified.Message = message
	return classified
}

// Join collects non-nil errors into one, or nil when there are none
func Join(errs ...error) error {
	return errors.Join(errs...)
}
