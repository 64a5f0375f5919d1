package builder

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-aux/internal/database"
	apperrors "canvas-aux/internal/errors"
	"canvas-aux/internal/logging"
)

var buildInstant = time.Date(2019, 2, 28, 15, 34, 10, 654321000, time.Local)

const termsBackup = "Terms_2019_02_28_15_34_10_654321"

func newTestBuilder(t *testing.T, preparers Registry) (*Builder, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logging.NewDiscardLogger()
	catalog := database.NewCatalog(db, "canvasdata_aux", logger)
	b := NewBuilder(catalog, NewLoadLog(db, logger), preparers, logger).
		WithClock(func() time.Time { return buildInstant })
	return b, mock
}

func expectEnsure(mock sqlmock.Sqlmock) {
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS LoadLog").WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectExists(mock sqlmock.Sqlmock, table string, exists bool) {
	count := 0
	if exists {
		count = 1
	}
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM INFORMATION_SCHEMA.TABLES").
		WithArgs("canvasdata_aux", table).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(count))
}

func expectRename(mock sqlmock.Sqlmock, from, to string) *sqlmock.ExpectedExec {
	return mock.ExpectExec(regexp.QuoteMeta("RENAME TABLE `canvasdata_aux`.`" + from + "` TO `canvasdata_aux`.`" + to + "`"))
}

func expectRecord(mock sqlmock.Sqlmock, table string, rows int64) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM `canvasdata_aux`.`" + table + "`")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(rows))
	mock.ExpectExec(regexp.QuoteMeta(insertLoadLog)).
		WithArgs(table, buildInstant.UTC().Format(mysqlDatetime), rows).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestBuild_ReplacesExistingTable(t *testing.T) {
	b, mock := newTestBuilder(t, nil)

	termsSQL := "CREATE TABLE Terms AS SELECT * FROM canvasdata_prd.enrollment_term_dim"
	enrollSQL := "CREATE TABLE CourseEnrollment AS SELECT * FROM Terms"

	expectEnsure(mock)
	expectExists(mock, "Terms", true)
	expectRename(mock, "Terms", termsBackup).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(termsSQL)).WillReturnResult(sqlmock.NewResult(0, 4))
	expectRecord(mock, "Terms", 4)
	expectExists(mock, "CourseEnrollment", false)
	mock.ExpectExec(regexp.QuoteMeta(enrollSQL)).WillReturnResult(sqlmock.NewResult(0, 12))
	expectRecord(mock, "CourseEnrollment", 12)

	result, err := b.Build(context.Background(), []string{"Terms", "CourseEnrollment"}, map[string]string{
		"Terms":            termsSQL,
		"CourseEnrollment": enrollSQL,
	})
	require.NoError(t, err)
	require.NoError(t, result.Err())
	require.Len(t, result.Tables, 2)

	assert.Equal(t, StatusBuilt, result.Tables[0].Status)
	assert.Equal(t, termsBackup, result.Tables[0].Backup)
	assert.Equal(t, int64(4), result.Tables[0].Rows)
	assert.Equal(t, StatusBuilt, result.Tables[1].Status)
	assert.Empty(t, result.Tables[1].Backup)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuild_FailureRestoresBackupAndContinues(t *testing.T) {
	b, mock := newTestBuilder(t, nil)

	expectEnsure(mock)
	expectExists(mock, "Terms", true)
	expectRename(mock, "Terms", termsBackup).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("broken").WillReturnError(&mysql.MySQLError{Number: 1064, Message: "syntax error"})
	expectExists(mock, "Terms", true)
	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE `canvasdata_aux`.`Terms`")).WillReturnResult(sqlmock.NewResult(0, 0))
	expectRename(mock, termsBackup, "Terms").WillReturnResult(sqlmock.NewResult(0, 0))
	expectExists(mock, "Courses", false)
	mock.ExpectExec("CREATE TABLE Courses").WillReturnResult(sqlmock.NewResult(0, 1))
	expectRecord(mock, "Courses", 1)

	result, err := b.Build(context.Background(), []string{"Terms", "Courses"}, map[string]string{
		"Terms":   "CREATE TABLE Terms broken",
		"Courses": "CREATE TABLE Courses (id int)",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, result.Tables[0].Status)
	assert.Contains(t, result.Tables[0].Error, "database error")
	assert.Equal(t, StatusBuilt, result.Tables[1].Status)

	buildErr := result.Err()
	require.Error(t, buildErr)
	assert.Equal(t, apperrors.ErrorTypeDatabase, apperrors.GetErrorType(buildErr))
	assert.Equal(t, []string{"Terms"}, apperrors.GetTables(buildErr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuild_RollbackFailureHalts(t *testing.T) {
	b, mock := newTestBuilder(t, nil)

	expectEnsure(mock)
	expectExists(mock, "Terms", true)
	expectRename(mock, "Terms", termsBackup).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("broken").WillReturnError(&mysql.MySQLError{Number: 1064, Message: "syntax error"})
	expectExists(mock, "Terms", false)
	expectRename(mock, termsBackup, "Terms").WillReturnError(&mysql.MySQLError{Number: 1146, Message: "Table doesn't exist"})

	result, err := b.Build(context.Background(), []string{"Terms", "Courses"}, map[string]string{
		"Terms":   "CREATE TABLE Terms broken",
		"Courses": "CREATE TABLE Courses (id int)",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsFatalError(err))
	assert.Equal(t, []string{"Terms", termsBackup}, apperrors.GetTables(err))
	require.Len(t, result.Tables, 1)
	assert.Equal(t, StatusFailed, result.Tables[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuild_NewTableFailureLeavesNothing(t *testing.T) {
	b, mock := newTestBuilder(t, nil)

	expectEnsure(mock)
	expectExists(mock, "Terms", false)
	mock.ExpectExec("broken").WillReturnError(&mysql.MySQLError{Number: 1064, Message: "syntax error"})
	expectExists(mock, "Terms", false)

	result, err := b.Build(context.Background(), []string{"Terms"}, map[string]string{"Terms": "broken"})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Tables[0].Status)
	assert.Empty(t, result.Tables[0].Backup)
	assert.Equal(t, []string{"Terms"}, result.Failed())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuild_NewTableFailureDropsPartialTable(t *testing.T) {
	b, mock := newTestBuilder(t, nil)

	script := "CREATE TABLE Terms (id int); INSERT INTO Terms SELECT id FROM missing"
	expectEnsure(mock)
	expectExists(mock, "Terms", false)
	mock.ExpectExec("CREATE TABLE Terms").WillReturnError(&mysql.MySQLError{Number: 1146, Message: "Table 'missing' doesn't exist"})
	expectExists(mock, "Terms", true)
	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE `canvasdata_aux`.`Terms`")).WillReturnResult(sqlmock.NewResult(0, 0))
	expectExists(mock, "Courses", false)
	mock.ExpectExec("CREATE TABLE Courses").WillReturnResult(sqlmock.NewResult(0, 1))
	expectRecord(mock, "Courses", 1)

	result, err := b.Build(context.Background(), []string{"Terms", "Courses"}, map[string]string{
		"Terms":   script,
		"Courses": "CREATE TABLE Courses (id int)",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Tables[0].Status)
	assert.Equal(t, StatusBuilt, result.Tables[1].Status)
	assert.Equal(t, []string{"Terms"}, result.Failed())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuild_PartialTableDropFailureHalts(t *testing.T) {
	b, mock := newTestBuilder(t, nil)

	expectEnsure(mock)
	expectExists(mock, "Terms", false)
	mock.ExpectExec("broken").WillReturnError(&mysql.MySQLError{Number: 1064, Message: "syntax error"})
	expectExists(mock, "Terms", true)
	mock.ExpectExec("DROP TABLE").WillReturnError(&mysql.MySQLError{Number: 1051, Message: "Unknown table"})

	result, err := b.Build(context.Background(), []string{"Terms", "Courses"}, map[string]string{
		"Terms":   "broken",
		"Courses": "CREATE TABLE Courses (id int)",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsFatalError(err))
	assert.Equal(t, []string{"Terms"}, apperrors.GetTables(err))
	assert.Len(t, result.Tables, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuild_RunsPreparerFirst(t *testing.T) {
	var prepared []string
	registry := Registry{
		"Catalog": PreparerFunc(func(ctx context.Context, root string) error {
			prepared = append(prepared, root)
			return nil
		}),
	}
	b, mock := newTestBuilder(t, registry)

	expectEnsure(mock)
	expectExists(mock, "Catalog", false)
	mock.ExpectExec("LOAD DATA").WillReturnResult(sqlmock.NewResult(0, 2))
	expectRecord(mock, "Catalog", 2)

	_, err := b.Build(context.Background(), []string{"Catalog"}, map[string]string{
		"Catalog": "CREATE TABLE Catalog (id int); LOAD DATA LOCAL INFILE '/srv/data/catalog.csv' INTO TABLE Catalog",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Catalog"}, prepared)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuild_PreparerFailureSkipsTable(t *testing.T) {
	registry := Registry{
		"Catalog": PreparerFunc(func(ctx context.Context, root string) error {
			return apperrors.NewExternalSourceError("catalog fetch failed", errors.New("503"))
		}),
	}
	b, mock := newTestBuilder(t, registry)

	expectEnsure(mock)

	result, err := b.Build(context.Background(), []string{"Catalog"}, map[string]string{"Catalog": "SELECT 1"})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Tables[0].Status)
	assert.Contains(t, result.Tables[0].Error, "external_source")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuild_MissingResolvedSQL(t *testing.T) {
	b, _ := newTestBuilder(t, nil)

	_, err := b.Build(context.Background(), []string{"Terms"}, map[string]string{})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeTable, apperrors.GetErrorType(err))
}

func TestBuild_Cancelled(t *testing.T) {
	b, _ := newTestBuilder(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Build(ctx, []string{"Terms"}, map[string]string{"Terms": "SELECT 1"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeInterruption, apperrors.GetErrorType(err))
}

func TestLoadLog_Latest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT l.table_name").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "time_refreshed", "num_rows"}).
			AddRow("Courses", "2019-02-28 20:34:10", 10).
			AddRow("Terms", "2019-02-28 20:30:00", 4))

	entries, err := NewLoadLog(db, logging.NewDiscardLogger()).Latest(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, LoadLogEntry{Table: "Courses", TimeRefreshed: "2019-02-28 20:34:10", NumRows: 10}, entries[0])
}

func TestLoadLog_CountSince(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	since := time.Date(2019, 2, 28, 20, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM LoadLog").
		WithArgs("Terms", "2019-02-28 20:00:00").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(1))

	count, err := NewLoadLog(db, logging.NewDiscardLogger()).CountSince(context.Background(), "Terms", since)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
