package restore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "canvas-aux/internal/errors"
	"canvas-aux/internal/logging"
	"canvas-aux/internal/testutil"
)

const (
	termsJan = "Terms_2019_01_10_09_00_00_000000"
	termsNov = "Terms_2019_11_10_09_00_00_000000"
)

func newFixture() *testutil.MemoryCatalog {
	catalog := testutil.NewMemoryCatalog("Terms", termsJan, termsNov)
	// row counts stand in for the col1 values of each version
	catalog.Tables[termsJan] = 20
	catalog.Tables[termsNov] = 30
	catalog.Tables["Terms"] = 5
	return catalog
}

func TestRestore_Newest(t *testing.T) {
	catalog := newFixture()
	r := NewRestorer(catalog, logging.NewDiscardLogger())

	result, err := r.Restore(context.Background(), []string{"Terms"}, true)
	require.NoError(t, err)
	require.NoError(t, result.Err())

	require.Len(t, result.Targets, 1)
	assert.Equal(t, StatusRestored, result.Targets[0].Status)
	assert.Equal(t, termsNov, result.Targets[0].Backup)
	assert.Equal(t, int64(30), catalog.Tables["Terms"])
	assert.Equal(t, []string{"Terms", termsJan}, catalog.Names())
}

func TestRestore_ExplicitBackup(t *testing.T) {
	catalog := newFixture()
	r := NewRestorer(catalog, logging.NewDiscardLogger())

	result, err := r.Restore(context.Background(), []string{termsJan}, true)
	require.NoError(t, err)
	assert.Equal(t, "Terms", result.Targets[0].Root)
	assert.Equal(t, int64(20), catalog.Tables["Terms"])
	assert.Equal(t, []string{"Terms", termsNov}, catalog.Names())
}

func TestRestore_ExistingRootWithoutForceIsSkipped(t *testing.T) {
	catalog := newFixture()
	r := NewRestorer(catalog, logging.NewDiscardLogger())

	result, err := r.Restore(context.Background(), []string{"Terms"}, false)
	require.NoError(t, err)
	assert.NoError(t, result.Err())
	assert.Equal(t, StatusSkipped, result.Targets[0].Status)
	assert.Equal(t, int64(5), catalog.Tables["Terms"])
	assert.Len(t, catalog.Names(), 3)
}

func TestRestore_MissingRootNeedsNoForce(t *testing.T) {
	catalog := newFixture()
	delete(catalog.Tables, "Terms")
	r := NewRestorer(catalog, logging.NewDiscardLogger())

	result, err := r.Restore(context.Background(), []string{"Terms"}, false)
	require.NoError(t, err)
	assert.Equal(t, StatusRestored, result.Targets[0].Status)
	assert.Equal(t, int64(30), catalog.Tables["Terms"])
}

func TestRestore_NoBackup(t *testing.T) {
	catalog := testutil.NewMemoryCatalog("Courses")
	r := NewRestorer(catalog, logging.NewDiscardLogger())

	result, err := r.Restore(context.Background(), []string{"Courses", "Terms"}, true)
	require.NoError(t, err)
	require.Len(t, result.Targets, 2)
	assert.Equal(t, StatusFailed, result.Targets[0].Status)
	assert.Equal(t, StatusFailed, result.Targets[1].Status)

	restoreErr := result.Err()
	require.Error(t, restoreErr)
	assert.Equal(t, apperrors.ErrorTypeTable, apperrors.GetErrorType(restoreErr))
	assert.Contains(t, catalog.Names(), "Courses")
}

func TestRestore_UnknownBackupName(t *testing.T) {
	r := NewRestorer(newFixture(), logging.NewDiscardLogger())

	result, err := r.Restore(context.Background(), []string{"Terms_2020_01_01_00_00_00_000000"}, true)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Targets[0].Status)
	assert.Equal(t, apperrors.ErrorTypeTable, apperrors.GetErrorType(result.Err()))
}

func TestRestore_RenameFailureReportsDataLoss(t *testing.T) {
	catalog := newFixture()
	catalog.RenameErrors[termsNov] = errors.New("lost connection")
	r := NewRestorer(catalog, logging.NewDiscardLogger())

	result, err := r.Restore(context.Background(), []string{"Terms"}, true)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Targets[0].Status)
	assert.True(t, result.Targets[0].DataLoss)
	assert.Equal(t, apperrors.ErrorTypeDatabase, apperrors.GetErrorType(result.Err()))
	assert.NotContains(t, catalog.Names(), "Terms")
}

func TestRestore_Cancelled(t *testing.T) {
	r := NewRestorer(newFixture(), logging.NewDiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Restore(ctx, []string{"Terms"}, true)
	assert.Equal(t, apperrors.ErrorTypeInterruption, apperrors.GetErrorType(err))
}
