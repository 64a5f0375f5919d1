package application

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"syscall"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-aux/internal/builder"
	"canvas-aux/internal/catalog"
	"canvas-aux/internal/config"
	"canvas-aux/internal/database"
	appErrors "canvas-aux/internal/errors"
	"canvas-aux/internal/logging"
)

const (
	coursesSQL     = "CREATE TABLE Courses AS SELECT id, name FROM <canvas_db>.course_dim;\n"
	enrollmentsSQL = "CREATE TABLE Enrollments AS SELECT e.id, e.course_id FROM <canvas_db>.enrollment_dim e JOIN Courses c ON c.id = e.course_id;\n"
)

var fastRetry = appErrors.RetryConfig{
	MaxAttempts: 1,
	BaseDelay:   time.Millisecond,
	MaxDelay:    time.Millisecond,
	Multiplier:  1,
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		Database: config.DatabaseSection{
			DefaultHost:     "localhost",
			DefaultUser:     "canvasdata",
			AuxiliaryDBName: "canvasdata_aux",
			CanvasDBName:    "canvasdata_prd",
		},
		TestMachine: config.TestMachineSection{
			MySQLHost: "testhost",
			MySQLUser: "unittest",
		},
		Paths: config.PathsSection{
			TemplateDir: filepath.Join(dir, "sql"),
			DataDir:     filepath.Join(dir, "data"),
			ExportDir:   filepath.Join(dir, "exports"),
		},
	}
	cfg.SetDefaults()

	require.NoError(t, os.MkdirAll(cfg.Paths.TemplateDir, 0755))
	require.NoError(t, os.MkdirAll(cfg.Paths.ExportDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.TemplateDir, "Courses.sql"), []byte(coursesSQL), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.TemplateDir, "Enrollments.sql"), []byte(enrollmentsSQL), 0644))
	return cfg
}

// newMockApp returns an app whose connections are served by sqlmock
func newMockApp(t *testing.T, cfg *config.Config) (*App, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logging.NewDiscardLogger()
	service := database.NewServiceWithOpener(logger, func(string, string) (*sql.DB, error) {
		return db, nil
	}, fastRetry)

	app, err := NewWithConfig(cfg, Options{Password: "secret"}, logger, service)
	require.NoError(t, err)
	return app, mock
}

func expectConnect(mock sqlmock.Sqlmock) {
	mock.ExpectPing()
	mock.ExpectExec(regexp.QuoteMeta("SET GLOBAL log_bin_trust_function_creators = 1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestOptions_LogLevel(t *testing.T) {
	assert.Equal(t, logging.LogLevelNormal, Options{}.LogLevel())
	assert.Equal(t, logging.LogLevelQuiet, Options{Quiet: true, Verbose: true}.LogLevel())
	assert.Equal(t, logging.LogLevelVerbose, Options{Verbose: true}.LogLevel())
}

func TestNewLogger_CarriesRunID(t *testing.T) {
	logger, err := NewLogger(Options{Quiet: true})
	require.NoError(t, err)
	assert.NotEmpty(t, logger.RunID())
}

func TestNewWithConfig_AppliesOverrides(t *testing.T) {
	cfg := testConfig(t)

	app, err := NewWithConfig(cfg, Options{
		User:     "analyst",
		Host:     "db.example.edu",
		Database: "canvasdata_aux_test",
	}, logging.NewDiscardLogger(), nil)
	require.NoError(t, err)

	assert.Equal(t, "analyst", app.Config().Database.DefaultUser)
	assert.Equal(t, "db.example.edu", app.Config().Database.DefaultHost)
	assert.Equal(t, "canvasdata_aux_test", app.Config().Database.AuxiliaryDBName)
}

func TestNewWithConfig_TestMachine(t *testing.T) {
	cfg := testConfig(t)
	app, err := NewWithConfig(cfg, Options{TestMachine: true}, logging.NewDiscardLogger(), nil)
	require.NoError(t, err)
	assert.Equal(t, "testhost", app.Config().Database.DefaultHost)
	assert.Equal(t, "unittest", app.Config().Database.DefaultUser)

	cfg = testConfig(t)
	cfg.TestMachine = config.TestMachineSection{}
	_, err = NewWithConfig(cfg, Options{TestMachine: true}, logging.NewDiscardLogger(), nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrorTypeConfiguration, appErrors.GetErrorType(err))
}

func TestRegistry_CatalogPreparer(t *testing.T) {
	cfg := testConfig(t)
	cfg.External.CatalogTable = "CourseCatalog"
	cfg.External.CatalogURL = "http://catalog.example.edu/courses.xml"

	app, err := NewWithConfig(cfg, Options{}, logging.NewDiscardLogger(), nil)
	require.NoError(t, err)

	preparer, ok := app.Preparers()["CourseCatalog"].(*catalog.Preparer)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(cfg.Paths.DataDir, "course_catalog.csv"), preparer.Path())

	cfg = testConfig(t)
	app, err = NewWithConfig(cfg, Options{}, logging.NewDiscardLogger(), nil)
	require.NoError(t, err)
	assert.Empty(t, app.Preparers())
}

func TestSelectTables(t *testing.T) {
	known := []string{"Courses", "Enrollments", "Terms"}

	all, err := selectTables(known, nil)
	require.NoError(t, err)
	assert.Equal(t, known, all)

	some, err := selectTables(known, []string{"Terms", "Courses", "Terms"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Terms", "Courses"}, some)

	_, err = selectTables(known, []string{"Courses", "Grades", "Sections"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrorTypeTable, appErrors.GetErrorType(err))
	assert.Equal(t, []string{"Grades", "Sections"}, appErrors.GetTables(err))
}

func TestRestrict_KeepsLoadOrder(t *testing.T) {
	order := []string{"Terms", "Courses", "Enrollments"}
	assert.Equal(t, []string{"Terms", "Enrollments"}, restrict(order, []string{"Enrollments", "Terms"}))
}

func TestOrder(t *testing.T) {
	app, err := NewWithConfig(testConfig(t), Options{}, logging.NewDiscardLogger(), nil)
	require.NoError(t, err)

	order, err := app.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"Courses", "Enrollments"}, order)
}

func TestBuild(t *testing.T) {
	app, mock := newMockApp(t, testConfig(t))

	expectConnect(mock)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS LoadLog").WillReturnResult(sqlmock.NewResult(0, 0))

	for _, table := range []struct {
		name string
		sql  string
		rows int64
	}{
		{"Courses", "CREATE TABLE Courses AS SELECT id, name FROM canvasdata_prd.course_dim;", 5},
		{"Enrollments", "CREATE TABLE Enrollments AS SELECT e.id, e.course_id FROM canvasdata_prd.enrollment_dim e", 7},
	} {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM INFORMATION_SCHEMA.TABLES").
			WithArgs("canvasdata_aux", table.name).
			WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(0))
		mock.ExpectExec(regexp.QuoteMeta(table.sql)).WillReturnResult(sqlmock.NewResult(0, table.rows))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM `canvasdata_aux`.`" + table.name + "`")).
			WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(table.rows))
		mock.ExpectExec("INSERT INTO LoadLog").
			WithArgs(table.name, sqlmock.AnyArg(), table.rows).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}

	result, err := app.Build(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, result.Tables, 2)
	assert.Equal(t, []string{"Courses", "Enrollments"}, result.Order)
	assert.Equal(t, builder.StatusBuilt, result.Tables[0].Status)
	assert.Equal(t, int64(7), result.Tables[1].Rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuild_UnknownTableFailsBeforeConnecting(t *testing.T) {
	app, mock := newMockApp(t, testConfig(t))

	_, err := app.Build(context.Background(), []string{"Grades"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrorTypeTable, appErrors.GetErrorType(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuild_MissingCanvasDB(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.CanvasDBName = ""
	app, _ := newMockApp(t, cfg)

	_, err := app.Build(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrorTypeConfiguration, appErrors.GetErrorType(err))
}

func TestPrune(t *testing.T) {
	app, mock := newMockApp(t, testConfig(t))

	expectConnect(mock)
	mock.ExpectQuery("SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES").
		WithArgs("canvasdata_aux").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).
			AddRow("Courses").
			AddRow("Courses_2019_02_27_15_34_10_654321").
			AddRow("Courses_2019_02_28_15_34_10_654321"))
	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE `canvasdata_aux`.`Courses_2019_02_27_15_34_10_654321`")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	result, err := app.Prune(context.Background(), 1, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Courses_2019_02_27_15_34_10_654321"}, result.Dropped)
	assert.Equal(t, []string{"Courses_2019_02_28_15_34_10_654321"}, result.Kept)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPrune_MissingPassword(t *testing.T) {
	cfg := testConfig(t)
	app, err := NewWithConfig(cfg, Options{}, logging.NewDiscardLogger(), nil)
	require.NoError(t, err)

	_, err = app.Prune(context.Background(), 1, nil, true)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrorTypeConfiguration, appErrors.GetErrorType(err))
	assert.Contains(t, err.Error(), "canvas_pwd_file")
}

func TestRestore_DefaultsToTemplateRoots(t *testing.T) {
	app, mock := newMockApp(t, testConfig(t))

	expectConnect(mock)
	for i := 0; i < 2; i++ {
		mock.ExpectQuery("SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES").
			WithArgs("canvasdata_aux").
			WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).
				AddRow("Courses").
				AddRow("Enrollments"))
	}

	result, err := app.Restore(context.Background(), nil, false)
	require.Error(t, err)
	require.Len(t, result.Targets, 2)
	assert.Equal(t, "Courses", result.Targets[0].Target)
	assert.Equal(t, "Enrollments", result.Targets[1].Target)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatus(t *testing.T) {
	app, mock := newMockApp(t, testConfig(t))

	expectConnect(mock)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT VERSION()")).
		WillReturnRows(sqlmock.NewRows([]string{"VERSION()"}).AddRow("8.0.36"))
	mock.ExpectQuery("SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES").
		WithArgs("canvasdata_aux").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).
			AddRow("Courses").
			AddRow("Courses_2019_02_27_15_34_10_654321").
			AddRow("Courses_2019_02_28_15_34_10_654321").
			AddRow("Legacy").
			AddRow("LoadLog"))
	mock.ExpectQuery("SELECT l.table_name").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "time_refreshed", "num_rows"}).
			AddRow("Courses", "2019-02-28 20:34:10", 42))

	report, err := app.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "canvasdata_aux", report.Schema)
	assert.Equal(t, "8.0.36", report.Server)
	assert.Equal(t, []string{"Legacy"}, report.Orphans)

	require.Len(t, report.Tables, 2)
	courses := report.Tables[0]
	assert.True(t, courses.Exists)
	assert.Equal(t, 2, courses.Backups)
	assert.Equal(t, "Courses_2019_02_28_15_34_10_654321", courses.NewestBackup)
	assert.Equal(t, int64(42), courses.Rows)

	enrollments := report.Tables[1]
	assert.False(t, enrollments.Exists)
	assert.Zero(t, enrollments.Backups)

	rows := report.Rows()
	assert.Equal(t, []string{"Courses", "yes", "2", "Courses_2019_02_28_15_34_10_654321", "2019-02-28 20:34:10", "42"}, rows[0])
	assert.Len(t, StatusHeaders, len(rows[0]))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckExports(t *testing.T) {
	cfg := testConfig(t)
	app, err := NewWithConfig(cfg, Options{}, logging.NewDiscardLogger(), nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.ExportDir, "Courses.csv"), []byte("\"id\"\n\"1\"\n"), 0644))

	report, err := app.CheckExports(context.Background(), "", 0)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrorTypeTableExport, appErrors.GetErrorType(err))
	assert.Equal(t, []string{"Enrollments"}, appErrors.GetTables(err))
	assert.Equal(t, []string{"Enrollments"}, report.Missing)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.ExportDir, "Enrollments.csv"), []byte("\"id\"\n"), 0644))
	report, err = app.CheckExports(context.Background(), cfg.Paths.ExportDir, time.Hour)
	require.NoError(t, err)
	assert.True(t, report.Complete())
}

func TestArchiveExports_Local(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.LocalPath = filepath.Join(t.TempDir(), "archives")
	app, err := NewWithConfig(cfg, Options{}, logging.NewDiscardLogger(), nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.ExportDir, "Courses.csv"), []byte("\"id\"\n\"1\"\n"), 0644))

	result, err := app.ArchiveExports(context.Background(), ArchiveOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Courses.csv"}, result.Files)
	assert.False(t, result.Encrypted)

	objects, err := app.ListArchives(context.Background())
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, result.Name, objects[0].Name)
}

func TestArchiveExports_MissingPassphrase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.LocalPath = t.TempDir()
	cfg.Archive.PassphraseEnv = "CANVAS_AUX_TEST_UNSET_PASSPHRASE"
	app, err := NewWithConfig(cfg, Options{}, logging.NewDiscardLogger(), nil)
	require.NoError(t, err)

	_, err = app.ArchiveExports(context.Background(), ArchiveOptions{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrorTypeConfiguration, appErrors.GetErrorType(err))
}

func TestSignalContext(t *testing.T) {
	ctx, stop := SignalContext(context.Background(), logging.NewDiscardLogger())
	defer stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled by SIGTERM")
	}
}

func TestSignalContext_Stop(t *testing.T) {
	ctx, stop := SignalContext(context.Background(), logging.NewDiscardLogger())
	stop()
	assert.Error(t, ctx.Err())
}
