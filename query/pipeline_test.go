package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depictio/depictio/dataframe"
	"github.com/depictio/depictio/links"
	"github.com/depictio/depictio/models"
	"github.com/depictio/depictio/storage"
)

type fixture struct {
	pipeline *Pipeline
	tables   *storage.DeltaStore
	project  *models.Project
	target   models.ID
	metadata models.ID
}

// newFixture builds a project with a 12-row target DC (samples with
// repeats) joined to a 4-row metadata DC on "sample".
func newFixture(t *testing.T) *fixture {
	t.Helper()

	objects := storage.NewMockObjectStore()
	tables := storage.NewDeltaStore(objects, "test-bucket")

	targetDC := models.DataCollection{
		ID: models.NewID(), Tag: "measurements",
		Config: models.DCConfig{Type: models.DCTypeTable, Source: models.DCSourceJoined},
	}
	metadataDC := models.DataCollection{
		ID: models.NewID(), Tag: "metadata",
		Config: models.DCConfig{Type: models.DCTypeTable, Source: models.DCSourceJoined},
	}

	project := &models.Project{
		ID:          models.NewID(),
		Name:        "test_project",
		ProjectType: models.ProjectAdvanced,
		Workflows: []models.Workflow{{
			ID: models.NewID(), Name: "wf", Engine: models.Engine{Name: "snakemake"},
			DataLocation:    models.DataLocation{Structure: models.StructureFlat, Locations: []string{"/tmp"}},
			DataCollections: []models.DataCollection{targetDC, metadataDC},
		}},
		Joins: []models.JoinDefinition{{
			ID: models.NewID(), Name: "measurements_with_metadata",
			LeftDC: "measurements", RightDC: "metadata",
			OnColumns: []string{"sample"}, How: models.JoinInner,
			WorkflowName: "wf",
		}},
	}

	// Target: three rows per sample, four samples.
	samples := []string{
		"S1", "S1", "S1",
		"S2", "S2", "S2",
		"S3", "S3", "S3",
		"S4", "S4", "S4",
	}
	values := make([]int64, len(samples))
	for i := range values {
		values[i] = int64(i * 10)
	}
	_, err := tables.WriteTable(context.Background(), targetDC.ID, dataframe.MustNew(
		dataframe.NewStringSeries("sample", samples),
		dataframe.NewIntSeries("value", values),
	))
	require.NoError(t, err)

	_, err = tables.WriteTable(context.Background(), metadataDC.ID, dataframe.MustNew(
		dataframe.NewStringSeries("sample", []string{"S1", "S2", "S3", "S4"}),
		dataframe.NewStringSeries("condition", []string{"treated", "control", "treated", "control"}),
	))
	require.NoError(t, err)

	return &fixture{
		pipeline: NewPipeline(tables, links.NewEngine(nil, tables)),
		tables:   tables,
		project:  project,
		target:   targetDC.ID,
		metadata: metadataDC.ID,
	}
}

// TestQuery_DirectUnfiltered tests plain pagination
func TestQuery_DirectUnfiltered(t *testing.T) {
	f := newFixture(t)

	resp, err := f.pipeline.Query(context.Background(), f.project, f.target.String(), Request{
		StartRow: 0,
		EndRow:   5,
	})
	require.NoError(t, err)

	assert.Equal(t, 12, resp.RowCount)
	assert.Len(t, resp.RowData, 5)
	// The ID column reflects the absolute offset.
	assert.Equal(t, int64(0), resp.RowData[0]["ID"])
	assert.Equal(t, int64(4), resp.RowData[4]["ID"])
}

// TestQuery_SecondPageOffsets tests absolute offsets past the first page
func TestQuery_SecondPageOffsets(t *testing.T) {
	f := newFixture(t)

	resp, err := f.pipeline.Query(context.Background(), f.project, f.target.String(), Request{
		StartRow: 10,
		EndRow:   20,
	})
	require.NoError(t, err)

	assert.Equal(t, 12, resp.RowCount)
	assert.Len(t, resp.RowData, 2)
	assert.Equal(t, int64(10), resp.RowData[0]["ID"])
}

// TestQuery_SemiJoinNonExpansion tests that cross-DC filtering never
// multiplies target rows
func TestQuery_SemiJoinNonExpansion(t *testing.T) {
	f := newFixture(t)

	// Filter the metadata DC to treated samples (S1, S3): the target must
	// shrink to their 6 rows, never expand.
	resp, err := f.pipeline.Query(context.Background(), f.project, f.target.String(), Request{
		StartRow: 0,
		EndRow:   100,
		FilterComponents: []FilterComponent{{
			Index: "c1",
			Value: "treated",
			Metadata: ComponentMetadata{
				DCID:                     f.metadata,
				ColumnName:               "condition",
				InteractiveComponentType: "select",
			},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, 6, resp.RowCount)
	for _, row := range resp.RowData {
		assert.Contains(t, []interface{}{"S1", "S3"}, row["sample"])
	}
}

// TestQuery_DirectFilterOnTarget tests same-DC interactive filtering
func TestQuery_DirectFilterOnTarget(t *testing.T) {
	f := newFixture(t)

	resp, err := f.pipeline.Query(context.Background(), f.project, f.target.String(), Request{
		StartRow: 0,
		EndRow:   100,
		FilterComponents: []FilterComponent{{
			Index: "c1",
			Value: []interface{}{"S2"},
			Metadata: ComponentMetadata{
				DCID:       f.target,
				ColumnName: "sample",
			},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.RowCount)
}

// TestQuery_IncompatibleDropsFilters tests the unrelated-DC branch
func TestQuery_IncompatibleDropsFilters(t *testing.T) {
	f := newFixture(t)

	resp, err := f.pipeline.Query(context.Background(), f.project, f.target.String(), Request{
		StartRow: 0,
		EndRow:   100,
		FilterComponents: []FilterComponent{{
			Index: "c1",
			Value: "anything",
			Metadata: ComponentMetadata{
				DCID:       models.NewID(), // unrelated DC, no join
				ColumnName: "whatever",
			},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, 12, resp.RowCount)
	assert.True(t, resp.DroppedFilters)
}

// TestQuery_CompositeOrFilter tests OR composition with union-unique
func TestQuery_CompositeOrFilter(t *testing.T) {
	objects := storage.NewMockObjectStore()
	tables := storage.NewDeltaStore(objects, "test-bucket")

	dc := models.DataCollection{
		ID: models.NewID(), Tag: "people",
		Config: models.DCConfig{Type: models.DCTypeTable, Source: models.DCSourceJoined},
	}
	project := &models.Project{
		ID: models.NewID(), Name: "p", ProjectType: models.ProjectBasic,
		DataCollections: []models.DataCollection{dc},
	}

	ages := make([]int64, 100)
	ids := make([]int64, 100)
	for i := range ages {
		ages[i] = int64(i) // ages 0..99
		ids[i] = int64(i)
	}
	_, err := tables.WriteTable(context.Background(), dc.ID, dataframe.MustNew(
		dataframe.NewIntSeries("person_id", ids),
		dataframe.NewIntSeries("age", ages),
	))
	require.NoError(t, err)

	pipeline := NewPipeline(tables, nil)
	resp, err := pipeline.Query(context.Background(), project, dc.ID.String(), Request{
		StartRow: 0,
		EndRow:   1000,
		FilterModel: map[string]FilterCondition{
			"age": {
				Operator:   "OR",
				Condition1: &FilterCondition{FilterType: "number", Type: "lessThan", Filter: 18.0},
				Condition2: &FilterCondition{FilterType: "number", Type: "greaterThan", Filter: 65.0},
			},
		},
	})
	require.NoError(t, err)

	// count(age<18) + count(age>65) with duplicates removed: 18 + 34.
	assert.Equal(t, 52, resp.RowCount)
}

// TestQuery_FilterModelPredicates tests the simple predicate families
func TestQuery_FilterModelPredicates(t *testing.T) {
	frame := dataframe.MustNew(
		dataframe.NewStringSeries("name", []string{"alpha", "beta", "gamma"}),
		dataframe.NewIntSeries("n", []int64{1, 2, 3}),
		dataframe.NewStringSeries("day", []string{"2025-01-01", "2025-01-02", "2025-01-03"}),
	)

	tests := []struct {
		name      string
		column    string
		condition FilterCondition
		wantRows  int
	}{
		{
			name:      "TextContains",
			column:    "name",
			condition: FilterCondition{FilterType: "text", Type: "contains", Filter: "a"},
			wantRows:  3,
		},
		{
			name:      "TextStartsWith",
			column:    "name",
			condition: FilterCondition{FilterType: "text", Type: "startsWith", Filter: "be"},
			wantRows:  1,
		},
		{
			name:      "TextNotEqual",
			column:    "name",
			condition: FilterCondition{FilterType: "text", Type: "notEqual", Filter: "beta"},
			wantRows:  2,
		},
		{
			name:      "NumberGte",
			column:    "n",
			condition: FilterCondition{FilterType: "number", Type: "greaterThanOrEqual", Filter: 2.0},
			wantRows:  2,
		},
		{
			name:      "DateInRange",
			column:    "day",
			condition: FilterCondition{FilterType: "date", Type: "inRange", DateFrom: "2025-01-01", DateTo: "2025-01-02"},
			wantRows:  2,
		},
		{
			name:      "SetIn",
			column:    "name",
			condition: FilterCondition{FilterType: "set", Values: []interface{}{"alpha", "gamma"}},
			wantRows:  2,
		},
		{
			name:      "UnknownColumnSkipped",
			column:    "missing",
			condition: FilterCondition{FilterType: "text", Type: "equals", Filter: "x"},
			wantRows:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ApplyFilterModel(frame, map[string]FilterCondition{tt.column: tt.condition})
			assert.Equal(t, tt.wantRows, result.Height())
		})
	}
}

// TestQuery_SortAndDots tests sorting plus dot-column normalization
func TestQuery_SortAndDots(t *testing.T) {
	objects := storage.NewMockObjectStore()
	tables := storage.NewDeltaStore(objects, "test-bucket")

	dc := models.DataCollection{
		ID: models.NewID(), Tag: "stats",
		Config: models.DCConfig{Type: models.DCTypeTable, Source: models.DCSourceJoined},
	}
	project := &models.Project{
		ID: models.NewID(), Name: "p", ProjectType: models.ProjectBasic,
		DataCollections: []models.DataCollection{dc},
	}

	_, err := tables.WriteTable(context.Background(), dc.ID, dataframe.MustNew(
		dataframe.NewStringSeries("metrics.raw", []string{"b", "a", "c"}),
	))
	require.NoError(t, err)

	pipeline := NewPipeline(tables, nil)
	resp, err := pipeline.Query(context.Background(), project, dc.ID.String(), Request{
		StartRow:  0,
		EndRow:    10,
		SortModel: []SortEntry{{ColID: "metrics.raw", Sort: "desc"}},
	})
	require.NoError(t, err)

	require.Len(t, resp.RowData, 3)
	assert.Equal(t, "c", resp.RowData[0]["metrics_raw"])
	assert.Equal(t, "a", resp.RowData[2]["metrics_raw"])
	_, hasDotted := resp.RowData[0]["metrics.raw"]
	assert.False(t, hasDotted)
}

// TestQuery_MissingTargetIsFatal tests the io-error on absent target tables
func TestQuery_MissingTargetIsFatal(t *testing.T) {
	objects := storage.NewMockObjectStore()
	tables := storage.NewDeltaStore(objects, "test-bucket")
	project := &models.Project{ID: models.NewID(), Name: "p", ProjectType: models.ProjectBasic}

	pipeline := NewPipeline(tables, nil)
	_, err := pipeline.Query(context.Background(), project, models.NewID().String(), Request{EndRow: 10})
	assert.Error(t, err)
}

// TestQuery_RangeSliderFilter tests two-element numeric range semantics
func TestQuery_RangeSliderFilter(t *testing.T) {
	f := newFixture(t)

	resp, err := f.pipeline.Query(context.Background(), f.project, f.target.String(), Request{
		StartRow: 0,
		EndRow:   100,
		FilterComponents: []FilterComponent{{
			Index: "c1",
			Value: []interface{}{10.0, 40.0},
			Metadata: ComponentMetadata{
				DCID:                     f.target,
				ColumnName:               "value",
				InteractiveComponentType: "range_slider",
			},
		}},
	})
	require.NoError(t, err)

	// Values are 0,10,...,110; [10,40] keeps 10,20,30,40.
	assert.Equal(t, 4, resp.RowCount)
}
