package dependency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-aux/internal/errors"
)

func TestLoadOrder_Basic(t *testing.T) {
	order, precedence, err := LoadOrder(map[string]string{
		"Terms":            "",
		"CourseEnrollment": "references Terms",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Terms", "CourseEnrollment"}, order)
	assert.Equal(t, []string{"Terms"}, precedence["CourseEnrollment"])
	assert.Empty(t, precedence["Terms"])
}

func TestLoadOrder_Cycle(t *testing.T) {
	_, _, err := LoadOrder(map[string]string{
		"A": "references B",
		"B": "references A",
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeTable, errors.GetErrorType(err))
	assert.Equal(t, []string{"A", "B"}, errors.GetTables(err))
	assert.True(t, errors.IsFatalError(err))
}

func TestSort_MissingTemplate(t *testing.T) {
	_, err := Precedence{"A": {"Z"}}.Sort()
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeTable, errors.GetErrorType(err))
	assert.Equal(t, []string{"Z"}, errors.GetTables(err))
}

func TestExtract_WholeTokensOnly(t *testing.T) {
	precedence := Extract(map[string]string{
		"Terms":      "SELECT * FROM canvasdata_prd.enrollment_term_dim",
		"TermsExtra": "SELECT * FROM canvasdata_aux.Terms t JOIN MyTermsView v",
		"Summary":    "SELECT * FROM TermsExtra JOIN Terms USING (id) -- Summary of Terms",
	})

	assert.Empty(t, precedence["Terms"])
	assert.Equal(t, []string{"Terms"}, precedence["TermsExtra"])
	assert.Equal(t, []string{"Terms", "TermsExtra"}, precedence["Summary"])
}

func TestSort_SelfReferenceIgnored(t *testing.T) {
	order, _, err := LoadOrder(map[string]string{
		"Terms": "INSERT INTO Terms SELECT * FROM Terms_staging; UPDATE Terms SET x = 1",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Terms"}, order)
}

func TestSort_Deterministic(t *testing.T) {
	sources := map[string]string{
		"D": "B C",
		"C": "A",
		"B": "A",
		"A": "",
		"E": "",
	}
	for i := 0; i < 10; i++ {
		order, _, err := LoadOrder(sources)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B", "C", "D", "E"}, order)
	}
}

func TestSort_CycleNamesResidualDependents(t *testing.T) {
	_, err := Precedence{
		"A": {"B"},
		"B": {"A"},
		"C": {"A"},
		"D": {},
	}.Sort()
	require.Error(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, errors.GetTables(err))
}

func TestDependents(t *testing.T) {
	p := Precedence{"A": {}, "B": {"A"}, "C": {"A", "B"}}
	assert.Equal(t, []string{"B", "C"}, p.Dependents("A"))
	assert.Empty(t, p.Dependents("C"))
}
