package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
)

func TestAppError(t *testing.T) {
	cause := errors.New("underlying error")
	appErr := NewAppError(ErrorTypeDatabase, "rename failed", cause)

	if appErr.Type != ErrorTypeDatabase {
		t.Errorf("Expected type %v, got %v", ErrorTypeDatabase, appErr.Type)
	}

	if appErr.Cause != cause {
		t.Errorf("Expected cause %v, got %v", cause, appErr.Cause)
	}

	if appErr.IsRecoverable() {
		t.Error("Expected non-recoverable error")
	}

	expectedError := "database: rename failed (caused by: underlying error)"
	if appErr.Error() != expectedError {
		t.Errorf("Expected error string %v, got %v", expectedError, appErr.Error())
	}
}

func TestAppErrorWithTables(t *testing.T) {
	appErr := NewTableError("dependency cycle", "B", "A").WithTables("A", "C")

	want := []string{"A", "B", "C"}
	if fmt.Sprint(appErr.Tables) != fmt.Sprint(want) {
		t.Errorf("Expected tables %v, got %v", want, appErr.Tables)
	}

	if !strings.Contains(appErr.Error(), "[A, B, C]") {
		t.Errorf("Expected error string to list tables, got %q", appErr.Error())
	}
}

func TestAppErrorWithContext(t *testing.T) {
	appErr := NewAppError(ErrorTypeDatabase, "query failed", nil)
	appErr.WithContext("table", "Terms").WithContext("statement_index", 3)

	if appErr.Context["table"] != "Terms" {
		t.Errorf("Expected context table=Terms, got %v", appErr.Context["table"])
	}

	if appErr.Context["statement_index"] != 3 {
		t.Errorf("Expected context statement_index=3, got %v", appErr.Context["statement_index"])
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected ErrorType
		fatal    bool
	}{
		{"configuration", NewConfigurationError("missing key", nil), ErrorTypeConfiguration, true},
		{"table", NewTableError("cycle", "A"), ErrorTypeTable, false},
		{"database", NewDatabaseError("exec failed", "Terms", nil), ErrorTypeDatabase, false},
		{"table export", NewTableExportError("missing files", "Terms"), ErrorTypeTableExport, false},
		{"external source", NewExternalSourceError("fetch failed", nil), ErrorTypeExternalSource, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.expected {
				t.Errorf("Expected type %v, got %v", tt.expected, tt.err.Type)
			}
			if tt.err.IsFatal() != tt.fatal {
				t.Errorf("Expected fatal=%v, got %v", tt.fatal, tt.err.IsFatal())
			}
		})
	}
}

func TestErrorClassifier_ClassifyMySQLError(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		name        string
		mysqlErr    *mysql.MySQLError
		recoverable bool
	}{
		{"access denied", &mysql.MySQLError{Number: 1045, Message: "Access denied"}, false},
		{"unknown table", &mysql.MySQLError{Number: 1146, Message: "Table doesn't exist"}, false},
		{"table exists", &mysql.MySQLError{Number: 1050, Message: "Table already exists"}, false},
		{"deadlock", &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}, true},
		{"server gone", &mysql.MySQLError{Number: 2006, Message: "MySQL server has gone away"}, true},
		{"other", &mysql.MySQLError{Number: 1366, Message: "Incorrect integer value"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := classifier.ClassifyError(tt.mysqlErr)
			if result.Type != ErrorTypeDatabase {
				t.Errorf("Expected type %v, got %v", ErrorTypeDatabase, result.Type)
			}
			if result.IsRecoverable() != tt.recoverable {
				t.Errorf("Expected recoverable=%v, got %v", tt.recoverable, result.IsRecoverable())
			}
			if result.Context["mysql_error_code"] != tt.mysqlErr.Number {
				t.Errorf("Expected mysql_error_code %d, got %v", tt.mysqlErr.Number, result.Context["mysql_error_code"])
			}
		})
	}
}

func TestErrorClassifier_SQLErrors(t *testing.T) {
	classifier := NewErrorClassifier()

	if result := classifier.ClassifyError(sql.ErrConnDone); !result.IsRecoverable() {
		t.Error("Expected ErrConnDone to be recoverable")
	}
	if result := classifier.ClassifyError(sql.ErrNoRows); result.Type != ErrorTypeDatabase {
		t.Errorf("Expected database type for ErrNoRows, got %v", result.Type)
	}
}

func TestErrorClassifier_ContextErrors(t *testing.T) {
	classifier := NewErrorClassifier()

	timeout := classifier.ClassifyError(context.DeadlineExceeded)
	if timeout.Type != ErrorTypeTimeout || !timeout.IsRecoverable() {
		t.Errorf("Expected recoverable timeout, got %v", timeout)
	}

	canceled := classifier.ClassifyError(context.Canceled)
	if canceled.Type != ErrorTypeInterruption || !canceled.IsFatal() {
		t.Errorf("Expected fatal interruption, got %v", canceled)
	}
}

func TestErrorClassifier_FileSystemErrors(t *testing.T) {
	classifier := NewErrorClassifier()

	notFound := &os.PathError{Op: "open", Path: "/etc/canvas.pwd", Err: syscall.ENOENT}
	result := classifier.ClassifyError(notFound)
	if result.Type != ErrorTypeConfiguration {
		t.Errorf("Expected configuration type, got %v", result.Type)
	}
}

func TestErrorClassifier_PassesThroughAppError(t *testing.T) {
	original := NewTableError("cycle", "A", "B")
	wrapped := fmt.Errorf("sorting: %w", original)

	result := NewErrorClassifier().ClassifyError(wrapped)
	if result != original {
		t.Error("Expected classifier to return the wrapped AppError")
	}
}

func TestRetryHandler_Success(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2})

	attempts := 0
	err := handler.Retry(context.Background(), func() error {
		attempts++
		if attempts < 2 {
			return &mysql.MySQLError{Number: 2006, Message: "gone away"}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestRetryHandler_NonRecoverable(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2})

	attempts := 0
	err := handler.Retry(context.Background(), func() error {
		attempts++
		return &mysql.MySQLError{Number: 1045, Message: "Access denied"}
	})

	if err == nil {
		t.Fatal("Expected error")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for non-recoverable error, got %d", attempts)
	}
}

func TestRetryHandler_ExhaustsAttempts(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2})

	attempts := 0
	err := handler.Retry(context.Background(), func() error {
		attempts++
		return sql.ErrConnDone
	})

	if err == nil {
		t.Fatal("Expected error")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}

	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Context["attempts"] != 3 {
		t.Errorf("Expected attempts context on final error, got %v", err)
	}
}

func TestRetryHandler_ContextCanceled(t *testing.T) {
	handler := NewDefaultRetryHandler()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := handler.Retry(ctx, func() error { return nil })
	if GetErrorType(err) != ErrorTypeInterruption {
		t.Errorf("Expected interruption error, got %v", err)
	}
}

func TestCalculateDelay(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2})

	if d := handler.calculateDelay(1); d != time.Second {
		t.Errorf("Expected 1s, got %v", d)
	}
	if d := handler.calculateDelay(2); d != 2*time.Second {
		t.Errorf("Expected 2s, got %v", d)
	}
	if d := handler.calculateDelay(4); d != 3*time.Second {
		t.Errorf("Expected delay capped at 3s, got %v", d)
	}
}

func TestSummary(t *testing.T) {
	err := fmt.Errorf("run: %w", NewTableError("dependency cycle", "B", "A"))
	got := Summary(err)
	want := "table error: dependency cycle (tables: A, B)"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	if Summary(nil) != "" {
		t.Error("Expected empty summary for nil error")
	}

	plain := Summary(errors.New("boom\nsecond line"))
	if strings.Contains(plain, "\n") {
		t.Errorf("Expected single-line summary, got %q", plain)
	}
}

func TestWrapError(t *testing.T) {
	if WrapError(nil, "x") != nil {
		t.Error("Expected nil for nil error")
	}

	original := NewDatabaseError("exec failed", "Terms", nil).AsFatal()
	wrapped := WrapError(original, "rollback failed")
	if GetErrorType(wrapped) != ErrorTypeDatabase {
		t.Errorf("Expected database type, got %v", GetErrorType(wrapped))
	}
	if !IsFatalError(wrapped) {
		t.Error("Expected fatal flag to survive wrapping")
	}
	if fmt.Sprint(GetTables(wrapped)) != "[Terms]" {
		t.Errorf("Expected tables to survive wrapping, got %v", GetTables(wrapped))
	}
}
