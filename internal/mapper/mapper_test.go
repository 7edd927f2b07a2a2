package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victoria-analytics/traitmeter/internal/errors"
	"github.com/victoria-analytics/traitmeter/internal/types"
)

func testTable(rows ...types.RawRow) types.RawTable {
	return types.RawTable{
		Items: []string{"Q1", "Q2", "Q3"},
		Rows:  rows,
	}
}

func TestMapBuildsMatrix(t *testing.T) {
	table := testTable(
		types.RawRow{PersonID: "p1", Responses: []string{"Never (0-10%)", "Often (66-90%)", "Always (91-100%)"}},
		types.RawRow{PersonID: "p2", Responses: []string{"Always (91-100%)", "Seldom (11-35%)", "Never (0-10%)"}},
		types.RawRow{PersonID: "p3", Responses: []string{"Sometimes (36-65%)", "Never (0-10%)", "Often (66-90%)"}},
	)

	matrix, report, err := Map(table, DefaultLikertScale())
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "p2", "p3"}, matrix.PersonIDs)
	assert.Equal(t, []string{"Q1", "Q2", "Q3"}, matrix.ItemIDs)
	assert.Equal(t, 5, matrix.Levels)
	assert.Equal(t, [][]int{{0, 3, 4}, {4, 1, 0}, {2, 0, 3}}, matrix.Codes)
	assert.Empty(t, report.UnmatchedLabels)
	assert.Empty(t, report.ExcludedPersons)
	assert.Empty(t, report.ExcludedItems)
}

func TestMapUnmatchedLabelsBecomeMissing(t *testing.T) {
	table := testTable(
		types.RawRow{PersonID: "p1", Responses: []string{"Never (0-10%)", "banana", "Always (91-100%)"}},
		types.RawRow{PersonID: "p2", Responses: []string{"Always (91-100%)", "Seldom (11-35%)", "Never (0-10%)"}},
		types.RawRow{PersonID: "p3", Responses: []string{"Sometimes (36-65%)", "Never (0-10%)", "Often (66-90%)"}},
	)

	matrix, report, err := Map(table, DefaultLikertScale())
	require.NoError(t, err)

	code, observed := matrix.Response(0, 1)
	assert.False(t, observed)
	assert.Equal(t, Missing, code)
	assert.Equal(t, 1, report.UnmatchedLabels["banana"])
	assert.Equal(t, 1, report.RowMissing["p1"])
	assert.Equal(t, 1, report.ColumnMissing["Q2"])
}

func TestMapExcludesEmptyRows(t *testing.T) {
	table := testTable(
		types.RawRow{PersonID: "p1", Responses: []string{"", "", ""}},
		types.RawRow{PersonID: "p2", Responses: []string{"Always (91-100%)", "Seldom (11-35%)", "Never (0-10%)"}},
		types.RawRow{PersonID: "p3", Responses: []string{"Sometimes (36-65%)", "Never (0-10%)", "Often (66-90%)"}},
	)

	matrix, report, err := Map(table, DefaultLikertScale())
	require.NoError(t, err)

	assert.Equal(t, []string{"p2", "p3"}, matrix.PersonIDs)
	require.Len(t, report.ExcludedPersons, 1)
	assert.Equal(t, "p1", report.ExcludedPersons[0].ID)
}

func TestMapExcludesDegenerateItems(t *testing.T) {
	// Q3 has the same observed code for every person and carries no
	// information for estimation.
	table := testTable(
		types.RawRow{PersonID: "p1", Responses: []string{"Never (0-10%)", "Often (66-90%)", "Always (91-100%)"}},
		types.RawRow{PersonID: "p2", Responses: []string{"Always (91-100%)", "Seldom (11-35%)", "Always (91-100%)"}},
		types.RawRow{PersonID: "p3", Responses: []string{"Sometimes (36-65%)", "Never (0-10%)", "Always (91-100%)"}},
	)

	matrix, report, err := Map(table, DefaultLikertScale())
	require.NoError(t, err)

	assert.Equal(t, []string{"Q1", "Q2"}, matrix.ItemIDs)
	require.Len(t, report.ExcludedItems, 1)
	assert.Equal(t, "Q3", report.ExcludedItems[0].ID)
}

func TestMapDuplicatePersonIDFatal(t *testing.T) {
	table := testTable(
		types.RawRow{PersonID: "p1", Responses: []string{"Never (0-10%)", "Often (66-90%)", "Always (91-100%)"}},
		types.RawRow{PersonID: "p1", Responses: []string{"Always (91-100%)", "Seldom (11-35%)", "Never (0-10%)"}},
	)

	_, _, err := Map(table, DefaultLikertScale())
	require.Error(t, err)
	assert.True(t, errors.IsBatchFatal(err))
	assert.Equal(t, errors.CategoryDataFormat, errors.ToAppError(err).Category)
}

func TestMapEmptyPersonIDFatal(t *testing.T) {
	table := testTable(
		types.RawRow{PersonID: "", Responses: []string{"Never (0-10%)", "Often (66-90%)", "Always (91-100%)"}},
	)

	_, _, err := Map(table, DefaultLikertScale())
	require.Error(t, err)
	assert.True(t, errors.IsBatchFatal(err))
}

func TestMapTooFewScoreableItemsFatal(t *testing.T) {
	// Q2 and Q3 are degenerate, leaving a single scoreable item.
	table := testTable(
		types.RawRow{PersonID: "p1", Responses: []string{"Never (0-10%)", "Often (66-90%)", "Always (91-100%)"}},
		types.RawRow{PersonID: "p2", Responses: []string{"Always (91-100%)", "Often (66-90%)", "Always (91-100%)"}},
	)

	_, _, err := Map(table, DefaultLikertScale())
	require.Error(t, err)
	assert.True(t, errors.IsBatchFatal(err))
}

func TestMapShortRowsPadAsMissing(t *testing.T) {
	table := testTable(
		types.RawRow{PersonID: "p1", Responses: []string{"Never (0-10%)", "Often (66-90%)"}},
		types.RawRow{PersonID: "p2", Responses: []string{"Always (91-100%)", "Seldom (11-35%)", "Never (0-10%)"}},
		types.RawRow{PersonID: "p3", Responses: []string{"Sometimes (36-65%)", "Never (0-10%)", "Often (66-90%)"}},
	)

	matrix, _, err := Map(table, DefaultLikertScale())
	require.NoError(t, err)

	_, observed := matrix.Response(0, 2)
	assert.False(t, observed)
	assert.Equal(t, 2, matrix.RowValidCount(0))
	assert.Equal(t, 2, matrix.ColumnValidCount(2))
}
