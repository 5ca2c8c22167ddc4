package join

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depictio/depictio/common"
	"github.com/depictio/depictio/dataframe"
	"github.com/depictio/depictio/metastore"
	"github.com/depictio/depictio/models"
	"github.com/depictio/depictio/storage"
)

// harness bundles a join engine with its in-memory stores.
type harness struct {
	engine *Engine
	tables *storage.DeltaStore
	meta   *metastore.MockStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	objects := storage.NewMockObjectStore()
	tables := storage.NewDeltaStore(objects, "test-bucket")
	meta := metastore.NewMockStore()
	return &harness{
		engine: NewEngine(tables, meta, nil),
		tables: tables,
		meta:   meta,
	}
}

func makeDC(tag string) models.DataCollection {
	return models.DataCollection{
		ID:     models.NewID(),
		Tag:    tag,
		Config: models.DCConfig{Type: models.DCTypeTable, Source: models.DCSourceJoined},
	}
}

func makeProject(dcs ...models.DataCollection) *models.Project {
	return &models.Project{
		ID:          models.NewID(),
		Name:        "test_project",
		ProjectType: models.ProjectAdvanced,
		Workflows: []models.Workflow{{
			ID:              models.NewID(),
			Name:            "test_workflow",
			Engine:          models.Engine{Name: "snakemake"},
			DataLocation:    models.DataLocation{Structure: models.StructureFlat, Locations: []string{"/tmp/test"}},
			DataCollections: dcs,
		}},
	}
}

func basicJoin() *models.JoinDefinition {
	return &models.JoinDefinition{
		Name:      "test_join",
		LeftDC:    "left_table",
		RightDC:   "right_table",
		OnColumns: []string{"id"},
		How:       models.JoinInner,
	}
}

func sampleLeft() *dataframe.Frame {
	return dataframe.MustNew(
		dataframe.NewIntSeries("id", []int64{1, 2, 3}),
		dataframe.NewStringSeries("name", []string{"Alice", "Bob", "Charlie"}),
		dataframe.NewIntSeries("value", []int64{10, 20, 30}),
		dataframe.NewStringSeries(RunIDColumn, []string{"run1", "run1", "run1"}),
	)
}

func sampleRight() *dataframe.Frame {
	return dataframe.MustNew(
		dataframe.NewIntSeries("id", []int64{2, 3, 4}),
		dataframe.NewIntSeries("age", []int64{25, 30, 35}),
		dataframe.NewIntSeries("score", []int64{100, 200, 300}),
		dataframe.NewStringSeries(RunIDColumn, []string{"run1", "run1", "run1"}),
	)
}

// writeTables materializes both sides' Delta tables.
func (h *harness) writeTables(t *testing.T, project *models.Project, left, right *dataframe.Frame) {
	t.Helper()
	ctx := context.Background()
	leftDC, _, err := project.ResolveDC("left_table", "")
	require.NoError(t, err)
	rightDC, _, err := project.ResolveDC("right_table", "")
	require.NoError(t, err)
	if left != nil {
		_, err = h.tables.WriteTable(ctx, leftDC.ID, left)
		require.NoError(t, err)
	}
	if right != nil {
		_, err = h.tables.WriteTable(ctx, rightDC.ID, right)
		require.NoError(t, err)
	}
}

// TestExecute_InnerJoin tests matching-row survival and metadata
func TestExecute_InnerJoin(t *testing.T) {
	h := newHarness(t)
	project := makeProject(makeDC("left_table"), makeDC("right_table"))
	h.writeTables(t, project, sampleLeft(), sampleRight())

	result, metadata, err := h.engine.Execute(context.Background(), basicJoin(), project, false)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Height())
	assert.Contains(t, result.Columns(), "name")
	assert.Contains(t, result.Columns(), "age")
	assert.Equal(t, 2, metadata.JoinedRows)
	assert.Equal(t, models.JoinInner, metadata.JoinType)
}

// TestExecute_LeftJoin tests null-filled unmatched rows
func TestExecute_LeftJoin(t *testing.T) {
	h := newHarness(t)
	project := makeProject(makeDC("left_table"), makeDC("right_table"))
	h.writeTables(t, project, sampleLeft(), sampleRight())

	joinDef := basicJoin()
	joinDef.How = models.JoinLeft
	result, metadata, err := h.engine.Execute(context.Background(), joinDef, project, false)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Height())
	assert.Equal(t, models.JoinLeft, metadata.JoinType)
}

// TestExecute_OuterJoin tests both-side row survival
func TestExecute_OuterJoin(t *testing.T) {
	h := newHarness(t)
	project := makeProject(makeDC("left_table"), makeDC("right_table"))
	h.writeTables(t, project, sampleLeft(), sampleRight())

	joinDef := basicJoin()
	joinDef.How = models.JoinOuter
	result, metadata, err := h.engine.Execute(context.Background(), joinDef, project, false)
	require.NoError(t, err)

	assert.Equal(t, 4, result.Height())
	assert.Equal(t, 4, metadata.JoinedRows)
}

// TestExecute_AutoAddsRunID tests that the run-id column joins implicitly
func TestExecute_AutoAddsRunID(t *testing.T) {
	h := newHarness(t)
	project := makeProject(makeDC("left_table"), makeDC("right_table"))
	h.writeTables(t, project, sampleLeft(), sampleRight())

	_, metadata, err := h.engine.Execute(context.Background(), basicJoin(), project, false)
	require.NoError(t, err)

	assert.Contains(t, metadata.JoinColumns, RunIDColumn)
}

// TestExecute_TypeMismatchNormalized tests cast-to-string key coercion
func TestExecute_TypeMismatchNormalized(t *testing.T) {
	h := newHarness(t)
	project := makeProject(makeDC("left_table"), makeDC("right_table"))

	left := dataframe.MustNew(
		dataframe.NewIntSeries("id", []int64{1, 2, 3}),
		dataframe.NewStringSeries("name", []string{"A", "B", "C"}),
	)
	right := dataframe.MustNew(
		dataframe.NewStringSeries("id", []string{"2", "3", "4"}),
		dataframe.NewIntSeries("age", []int64{25, 30, 35}),
	)
	h.writeTables(t, project, left, right)

	result, _, err := h.engine.Execute(context.Background(), basicJoin(), project, false)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Height())
	id, _ := result.Column("id")
	assert.Equal(t, dataframe.String, id.DType)
}

// TestExecute_EmptyResult tests that empty joins are valid
func TestExecute_EmptyResult(t *testing.T) {
	h := newHarness(t)
	project := makeProject(makeDC("left_table"), makeDC("right_table"))

	left := dataframe.MustNew(
		dataframe.NewIntSeries("id", []int64{1, 2, 3}),
		dataframe.NewStringSeries("name", []string{"A", "B", "C"}),
	)
	right := dataframe.MustNew(
		dataframe.NewIntSeries("id", []int64{4, 5, 6}),
		dataframe.NewIntSeries("age", []int64{25, 30, 35}),
	)
	h.writeTables(t, project, left, right)

	result, metadata, err := h.engine.Execute(context.Background(), basicJoin(), project, false)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Height())
	assert.Equal(t, 0, metadata.JoinedRows)
}

// TestExecute_GranularityRight tests aggregation of the finer right side
func TestExecute_GranularityRight(t *testing.T) {
	h := newHarness(t)
	project := makeProject(makeDC("left_table"), makeDC("right_table"))

	left := dataframe.MustNew(
		dataframe.NewIntSeries("id", []int64{1, 2, 3}),
		dataframe.NewStringSeries("name", []string{"A", "B", "C"}),
	)
	right := dataframe.MustNew(
		dataframe.NewIntSeries("id", []int64{2, 2, 3, 3}),
		dataframe.NewIntSeries("score", []int64{100, 150, 200, 250}),
	)
	h.writeTables(t, project, left, right)

	joinDef := basicJoin()
	joinDef.Granularity = &models.GranularityConfig{
		AggregateTo:        "id",
		NumericDefault:     models.AggMean,
		CategoricalDefault: models.AggFirst,
	}

	result, metadata, err := h.engine.Execute(context.Background(), joinDef, project, true)
	require.NoError(t, err)

	assert.True(t, metadata.AggregationApplied)
	assert.Equal(t, models.AggregatedRight, metadata.AggregatedSide)
	require.Equal(t, 2, result.Height())

	// Row for id=2 averages (100, 150); id=3 averages (200, 250).
	score, _ := result.Column("score")
	name, _ := result.Column("name")
	assert.Equal(t, "B", name.Values[0])
	assert.Equal(t, 125.0, score.Values[0])
	assert.Equal(t, "C", name.Values[1])
	assert.Equal(t, 225.0, score.Values[1])
}

// TestExecute_GranularityLeft tests aggregation of the finer left side
func TestExecute_GranularityLeft(t *testing.T) {
	h := newHarness(t)
	project := makeProject(makeDC("left_table"), makeDC("right_table"))

	left := dataframe.MustNew(
		dataframe.NewIntSeries("id", []int64{2, 2, 3, 3}),
		dataframe.NewIntSeries("value", []int64{10, 20, 30, 40}),
	)
	right := dataframe.MustNew(
		dataframe.NewIntSeries("id", []int64{2, 3, 4}),
		dataframe.NewIntSeries("score", []int64{100, 200, 300}),
	)
	h.writeTables(t, project, left, right)

	joinDef := basicJoin()
	joinDef.Granularity = &models.GranularityConfig{
		AggregateTo:        "id",
		NumericDefault:     models.AggSum,
		CategoricalDefault: models.AggFirst,
	}

	result, metadata, err := h.engine.Execute(context.Background(), joinDef, project, true)
	require.NoError(t, err)

	assert.True(t, metadata.AggregationApplied)
	assert.Equal(t, models.AggregatedLeft, metadata.AggregatedSide)
	require.Equal(t, 2, result.Height())

	value, _ := result.Column("value")
	assert.Equal(t, int64(30), value.Values[0])
	assert.Equal(t, int64(70), value.Values[1])
}

// TestExecute_GranularityOverride tests per-column aggregation overrides
func TestExecute_GranularityOverride(t *testing.T) {
	h := newHarness(t)
	project := makeProject(makeDC("left_table"), makeDC("right_table"))

	left := dataframe.MustNew(
		dataframe.NewIntSeries("id", []int64{1, 2}),
		dataframe.NewStringSeries("name", []string{"A", "B"}),
	)
	right := dataframe.MustNew(
		dataframe.NewIntSeries("id", []int64{1, 1, 2, 2}),
		dataframe.NewIntSeries("value", []int64{10, 20, 30, 40}),
	)
	h.writeTables(t, project, left, right)

	joinDef := basicJoin()
	joinDef.Granularity = &models.GranularityConfig{
		AggregateTo:        "id",
		NumericDefault:     models.AggMean,
		CategoricalDefault: models.AggFirst,
		ColumnOverrides:    []models.ColumnAggregation{{Column: "value", Function: models.AggMax}},
	}

	result, _, err := h.engine.Execute(context.Background(), joinDef, project, true)
	require.NoError(t, err)

	value, _ := result.Column("value")
	assert.Equal(t, int64(20), value.Values[0])
	assert.Equal(t, int64(40), value.Values[1])
}

// TestExecute_NoAggregationWhenUnique tests that unique sides stay as-is
func TestExecute_NoAggregationWhenUnique(t *testing.T) {
	h := newHarness(t)
	project := makeProject(makeDC("left_table"), makeDC("right_table"))
	h.writeTables(t, project,
		dataframe.MustNew(
			dataframe.NewIntSeries("id", []int64{1, 2}),
			dataframe.NewStringSeries("name", []string{"A", "B"})),
		dataframe.MustNew(
			dataframe.NewIntSeries("id", []int64{1, 2}),
			dataframe.NewIntSeries("score", []int64{10, 20})),
	)

	joinDef := basicJoin()
	joinDef.Granularity = &models.GranularityConfig{
		AggregateTo:        "id",
		NumericDefault:     models.AggMean,
		CategoricalDefault: models.AggFirst,
	}

	_, metadata, err := h.engine.Execute(context.Background(), joinDef, project, true)
	require.NoError(t, err)
	assert.False(t, metadata.AggregationApplied)
	assert.Equal(t, models.AggregatedNone, metadata.AggregatedSide)
}

// TestExecute_Errors tests the fatal error kinds
func TestExecute_Errors(t *testing.T) {
	t.Run("LeftDCNotFound", func(t *testing.T) {
		h := newHarness(t)
		project := makeProject()
		_, _, err := h.engine.Execute(context.Background(), basicJoin(), project, false)
		require.Error(t, err)
		assert.Equal(t, common.ErrDCNotFound, common.KindOf(err))
	})

	t.Run("RightDCNotFound", func(t *testing.T) {
		h := newHarness(t)
		project := makeProject(makeDC("left_table"))
		_, _, err := h.engine.Execute(context.Background(), basicJoin(), project, false)
		require.Error(t, err)
		assert.Equal(t, common.ErrDCNotFound, common.KindOf(err))
	})

	t.Run("LeftNotProcessed", func(t *testing.T) {
		h := newHarness(t)
		project := makeProject(makeDC("left_table"), makeDC("right_table"))
		h.writeTables(t, project, nil, sampleRight())
		_, _, err := h.engine.Execute(context.Background(), basicJoin(), project, false)
		require.Error(t, err)
		assert.Equal(t, common.ErrDCNotProcessed, common.KindOf(err))
	})

	t.Run("MissingJoinColumn", func(t *testing.T) {
		h := newHarness(t)
		project := makeProject(makeDC("left_table"), makeDC("right_table"))
		h.writeTables(t, project,
			dataframe.MustNew(dataframe.NewIntSeries("other_id", []int64{1})),
			dataframe.MustNew(dataframe.NewIntSeries("id", []int64{1})),
		)
		_, _, err := h.engine.Execute(context.Background(), basicJoin(), project, false)
		require.Error(t, err)
		assert.Equal(t, common.ErrMissingJoinColumn, common.KindOf(err))
	})
}

// TestValidate tests the validation report
func TestValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		h := newHarness(t)
		project := makeProject(makeDC("left_table"), makeDC("right_table"))
		h.writeTables(t, project,
			dataframe.MustNew(dataframe.NewIntSeries("id", []int64{1, 2})),
			dataframe.MustNew(dataframe.NewIntSeries("id", []int64{2, 3})),
		)

		result := h.engine.Validate(context.Background(), basicJoin(), project)
		assert.True(t, result.IsValid)
		assert.True(t, result.LeftDCExists)
		assert.True(t, result.RightDCExists)
		assert.True(t, result.LeftDCProcessed)
		assert.True(t, result.RightDCProcessed)
		assert.Empty(t, result.Errors)
	})

	t.Run("MissingColumnLeft", func(t *testing.T) {
		h := newHarness(t)
		project := makeProject(makeDC("left_table"), makeDC("right_table"))
		h.writeTables(t, project,
			dataframe.MustNew(dataframe.NewIntSeries("other_id", []int64{1})),
			dataframe.MustNew(dataframe.NewIntSeries("id", []int64{1})),
		)

		result := h.engine.Validate(context.Background(), basicJoin(), project)
		assert.False(t, result.IsValid)
		assert.Contains(t, result.MissingJoinColumnsLeft, "id")
	})

	t.Run("NotProcessedIsWarning", func(t *testing.T) {
		h := newHarness(t)
		project := makeProject(makeDC("left_table"), makeDC("right_table"))
		h.writeTables(t, project, nil,
			dataframe.MustNew(dataframe.NewIntSeries("id", []int64{1})),
		)

		result := h.engine.Validate(context.Background(), basicJoin(), project)
		assert.False(t, result.LeftDCProcessed)
		assert.NotEmpty(t, result.Warnings)
	})

	t.Run("DCsNotFound", func(t *testing.T) {
		h := newHarness(t)
		result := h.engine.Validate(context.Background(), basicJoin(), makeProject())
		assert.False(t, result.IsValid)
		assert.False(t, result.LeftDCExists)
		assert.False(t, result.RightDCExists)
		assert.Len(t, result.Errors, 2)
	})
}

// TestExecuteAndPersist tests persistence, lineage and definition updates
func TestExecuteAndPersist(t *testing.T) {
	h := newHarness(t)
	project := makeProject(makeDC("left_table"), makeDC("right_table"))
	h.writeTables(t, project, sampleLeft(), sampleRight())

	joinDef := basicJoin()
	joinDef.Persist = true

	result, _, err := h.engine.ExecuteAndPersist(context.Background(), joinDef, project)
	require.NoError(t, err)
	require.Equal(t, 2, result.Height())

	// The definition carries the execution results.
	assert.False(t, joinDef.ResultDCID.IsZero())
	assert.NotEmpty(t, joinDef.DeltaLocation)
	assert.Equal(t, 2, joinDef.RowCount)
	assert.NotEmpty(t, joinDef.ExecutedAt)

	// The persisted table is readable.
	persisted, err := h.tables.ReadTable(context.Background(), joinDef.ResultDCID)
	require.NoError(t, err)
	assert.Equal(t, 2, persisted.Height())

	// Lineage is recorded.
	lineage, err := h.meta.GetLineageByJoin(context.Background(), "test_join")
	require.NoError(t, err)
	assert.Equal(t, joinDef.DeltaLocation, lineage.DeltaTableLocation)
	assert.Equal(t, 3, lineage.LeftDCRowCount)
	assert.Equal(t, 3, lineage.RightDCRowCount)
}

// TestExecuteAndPersist_EmptyResult tests that empty results persist too
func TestExecuteAndPersist_EmptyResult(t *testing.T) {
	h := newHarness(t)
	project := makeProject(makeDC("left_table"), makeDC("right_table"))
	h.writeTables(t, project,
		dataframe.MustNew(dataframe.NewIntSeries("id", []int64{1})),
		dataframe.MustNew(dataframe.NewIntSeries("id", []int64{2})),
	)

	joinDef := basicJoin()
	joinDef.Persist = true

	result, _, err := h.engine.ExecuteAndPersist(context.Background(), joinDef, project)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Height())

	persisted, err := h.tables.ReadTable(context.Background(), joinDef.ResultDCID)
	require.NoError(t, err)
	assert.Equal(t, 0, persisted.Height())
}

// TestExecute_TagAndDottedResolutionAgree tests join symmetry under
// reference styles
func TestExecute_TagAndDottedResolutionAgree(t *testing.T) {
	h := newHarness(t)
	project := makeProject(makeDC("left_table"), makeDC("right_table"))
	h.writeTables(t, project, sampleLeft(), sampleRight())

	bare := basicJoin()
	bare.WorkflowName = "test_workflow"
	bareResult, _, err := h.engine.Execute(context.Background(), bare, project, false)
	require.NoError(t, err)

	dotted := basicJoin()
	dotted.LeftDC = "test_workflow.left_table"
	dotted.RightDC = "test_workflow.right_table"
	dottedResult, _, err := h.engine.Execute(context.Background(), dotted, project, false)
	require.NoError(t, err)

	assert.Equal(t, bareResult.Height(), dottedResult.Height())
	assert.Equal(t, bareResult.Columns(), dottedResult.Columns())
}
