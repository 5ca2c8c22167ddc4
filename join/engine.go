// Package join implements the join engine: it executes project-level join
// definitions against the Delta tables of two data collections, reconciling
// granularity mismatches by aggregation, and persists results with lineage
// metadata.
//
// Reference resolution, dtype normalization and duplicate-column handling
// follow fixed rules: bare tags resolve within the join's workflow scope,
// mismatched key dtypes are cast to string on both sides (lossy-but-safe for
// equality joins), and for duplicated payload columns the left value wins.
package join

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/depictio/depictio/common"
	"github.com/depictio/depictio/dataframe"
	"github.com/depictio/depictio/metastore"
	"github.com/depictio/depictio/models"
)

// RunIDColumn is the per-run provenance column stamped onto every ingested
// table. When both join sides carry it, it is added to the join keys so rows
// from different runs never combine spuriously.
const RunIDColumn = "depictio_run_id"

// TableStore is the Delta-table contract the engine needs.
type TableStore interface {
	ReadTable(ctx context.Context, dcID models.ID) (*dataframe.Frame, error)
	WriteTable(ctx context.Context, dcID models.ID, frame *dataframe.Frame) (int64, error)
	TableExists(ctx context.Context, dcID models.ID) (bool, error)
	TableURI(dcID models.ID) string
}

// EventPublisher receives join-completion notifications; nil disables them.
type EventPublisher interface {
	PublishJoinCompleted(joinName string, resultDCID models.ID)
}

// Engine executes join definitions. It holds no cross-request state.
type Engine struct {
	tables  TableStore
	lineage metastore.LineageStore
	events  EventPublisher
	log     *common.ContextLogger
}

// NewEngine builds a join engine. lineage and events may be nil for
// preview-only use.
func NewEngine(tables TableStore, lineage metastore.LineageStore, events EventPublisher) *Engine {
	return &Engine{
		tables:  tables,
		lineage: lineage,
		events:  events,
		log:     common.NewContextLogger(nil, map[string]interface{}{"component": "join-engine"}),
	}
}

// resolveSides resolves both DC references of a join definition.
func (e *Engine) resolveSides(join *models.JoinDefinition, project *models.Project) (left, right *models.DataCollection, err error) {
	left, _, err = project.ResolveDC(join.LeftDC, join.WorkflowName)
	if err != nil {
		return nil, nil, common.Errorf(common.ErrDCNotFound, join.Name,
			"left data collection %q not found", join.LeftDC)
	}
	right, _, err = project.ResolveDC(join.RightDC, join.WorkflowName)
	if err != nil {
		return nil, nil, common.Errorf(common.ErrDCNotFound, join.Name,
			"right data collection %q not found", join.RightDC)
	}
	return left, right, nil
}

// Validate checks whether a join can execute: both DCs resolve, both Delta
// tables are materialized, and every declared key column exists on both
// sides.
func (e *Engine) Validate(ctx context.Context, join *models.JoinDefinition, project *models.Project) *models.JoinValidationResult {
	result := &models.JoinValidationResult{
		Errors:                  []string{},
		Warnings:                []string{},
		MissingJoinColumnsLeft:  []string{},
		MissingJoinColumnsRight: []string{},
	}

	if err := join.Validate(); err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	left, _, err := project.ResolveDC(join.LeftDC, join.WorkflowName)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("left data collection %q not found", join.LeftDC))
	} else {
		result.LeftDCExists = true
	}
	right, _, err := project.ResolveDC(join.RightDC, join.WorkflowName)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("right data collection %q not found", join.RightDC))
	} else {
		result.RightDCExists = true
	}
	if !result.LeftDCExists || !result.RightDCExists {
		return result
	}

	leftFrame, err := e.tables.ReadTable(ctx, left.ID)
	if err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("left data collection %q has no materialized table", join.LeftDC))
	} else {
		result.LeftDCProcessed = true
	}
	rightFrame, err := e.tables.ReadTable(ctx, right.ID)
	if err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("right data collection %q has no materialized table", join.RightDC))
	} else {
		result.RightDCProcessed = true
	}

	for _, col := range join.OnColumns {
		if leftFrame != nil && !leftFrame.HasColumn(col) {
			result.MissingJoinColumnsLeft = append(result.MissingJoinColumnsLeft, col)
			result.Errors = append(result.Errors,
				fmt.Sprintf("join column %q missing in left data collection", col))
		}
		if rightFrame != nil && !rightFrame.HasColumn(col) {
			result.MissingJoinColumnsRight = append(result.MissingJoinColumnsRight, col)
			result.Errors = append(result.Errors,
				fmt.Sprintf("join column %q missing in right data collection", col))
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

// Execute runs the join and returns the joined frame plus execution
// metadata. Granularity aggregation is applied when configured and
// applicable, unless applyGranularity is false.
func (e *Engine) Execute(ctx context.Context, join *models.JoinDefinition, project *models.Project, applyGranularity bool) (*dataframe.Frame, *models.JoinExecutionMetadata, error) {
	if err := join.Validate(); err != nil {
		return nil, nil, err
	}
	left, right, err := e.resolveSides(join, project)
	if err != nil {
		return nil, nil, err
	}

	leftFrame, err := e.loadSide(ctx, left, join, "left")
	if err != nil {
		return nil, nil, err
	}
	rightFrame, err := e.loadSide(ctx, right, join, "right")
	if err != nil {
		return nil, nil, err
	}

	onColumns := make([]string, len(join.OnColumns))
	copy(onColumns, join.OnColumns)
	for _, col := range onColumns {
		if !leftFrame.HasColumn(col) {
			return nil, nil, common.Errorf(common.ErrMissingJoinColumn, join.Name,
				"join column %q missing in left data collection", col)
		}
		if !rightFrame.HasColumn(col) {
			return nil, nil, common.Errorf(common.ErrMissingJoinColumn, join.Name,
				"join column %q missing in right data collection", col)
		}
	}

	// Cross-run rows must not combine: join on the run id when both tables
	// carry it.
	if leftFrame.HasColumn(RunIDColumn) && rightFrame.HasColumn(RunIDColumn) && !contains(onColumns, RunIDColumn) {
		onColumns = append(onColumns, RunIDColumn)
	}

	leftFrame, rightFrame, err = dataframe.NormalizeJoinTypes(leftFrame, rightFrame, onColumns)
	if err != nil {
		return nil, nil, common.WrapError(common.ErrTypeError, join.Name, err)
	}

	aggregationApplied := false
	aggregatedSide := models.AggregatedNone
	if applyGranularity && join.Granularity != nil {
		leftFrame, rightFrame, aggregatedSide, err = e.applyGranularity(leftFrame, rightFrame, *join.Granularity)
		if err != nil {
			return nil, nil, err
		}
		aggregationApplied = aggregatedSide != models.AggregatedNone
	}

	joined, err := dataframe.Join(leftFrame, rightFrame, onColumns, joinHow(join.How))
	if err != nil {
		return nil, nil, common.WrapError(common.ErrTypeError, join.Name, err)
	}

	metadata := &models.JoinExecutionMetadata{
		JoinedRows:         joined.Height(),
		JoinType:           join.How,
		JoinColumns:        onColumns,
		AggregationApplied: aggregationApplied,
		AggregatedSide:     aggregatedSide,
	}
	e.log.WithFields(map[string]interface{}{
		"join":        join.Name,
		"joined_rows": joined.Height(),
		"join_type":   string(join.How),
	}).Info("Join executed")
	return joined, metadata, nil
}

// loadSide reads one side's Delta table, distinguishing unprocessed DCs from
// IO failures.
func (e *Engine) loadSide(ctx context.Context, dc *models.DataCollection, join *models.JoinDefinition, side string) (*dataframe.Frame, error) {
	frame, err := e.tables.ReadTable(ctx, dc.ID)
	if err != nil {
		if common.IsKind(err, common.ErrNotFound) {
			return nil, common.Errorf(common.ErrDCNotProcessed, join.Name,
				"failed to load %s data collection %q: table not materialized", side, dc.Tag)
		}
		return nil, common.WrapError(common.ErrIO, join.Name, err)
	}
	return frame, nil
}

// applyGranularity aggregates the side whose rows are non-unique over the
// grouping column. When both sides already have one row per group nothing is
// aggregated.
func (e *Engine) applyGranularity(left, right *dataframe.Frame, cfg models.GranularityConfig) (*dataframe.Frame, *dataframe.Frame, models.AggregatedSide, error) {
	leftHas := left.HasColumn(cfg.AggregateTo)
	rightHas := right.HasColumn(cfg.AggregateTo)
	if !leftHas && !rightHas {
		return left, right, models.AggregatedNone, nil
	}

	leftFiner := leftHas && hasDuplicateKeys(left, cfg.AggregateTo)
	rightFiner := rightHas && hasDuplicateKeys(right, cfg.AggregateTo)

	switch {
	case rightFiner && !leftFiner:
		aggregated, err := Aggregate(right, []string{cfg.AggregateTo}, cfg)
		if err != nil {
			return nil, nil, models.AggregatedNone, err
		}
		return left, aggregated, models.AggregatedRight, nil
	case leftFiner && !rightFiner:
		aggregated, err := Aggregate(left, []string{cfg.AggregateTo}, cfg)
		if err != nil {
			return nil, nil, models.AggregatedNone, err
		}
		return aggregated, right, models.AggregatedLeft, nil
	case leftFiner && rightFiner:
		// Both sides finer than the target grouping: collapsing the right
		// side keeps the left table's row identity, matching left-wins
		// column semantics.
		e.log.Warn("both join sides are finer than the grouping; aggregating right side")
		aggregated, err := Aggregate(right, []string{cfg.AggregateTo}, cfg)
		if err != nil {
			return nil, nil, models.AggregatedNone, err
		}
		return left, aggregated, models.AggregatedRight, nil
	default:
		return left, right, models.AggregatedNone, nil
	}
}

// hasDuplicateKeys reports whether any grouping value occurs on more than
// one row.
func hasDuplicateKeys(f *dataframe.Frame, column string) bool {
	col, err := f.Column(column)
	if err != nil {
		return false
	}
	seen := make(map[string]bool, col.Len())
	for _, v := range col.Values {
		if v == nil {
			continue
		}
		key := dataframe.FormatValue(v)
		if seen[key] {
			return true
		}
		seen[key] = true
	}
	return false
}

// Aggregate collapses a frame to one row per group, dispatching the
// aggregation per column: explicit override, then the numeric default for
// numeric dtypes, then the categorical default.
func Aggregate(f *dataframe.Frame, groupKeys []string, cfg models.GranularityConfig) (*dataframe.Frame, error) {
	keySet := make(map[string]bool, len(groupKeys))
	for _, key := range groupKeys {
		keySet[key] = true
	}

	var aggs []dataframe.Aggregation
	for _, name := range f.Columns() {
		if keySet[name] {
			continue
		}
		col, err := f.Column(name)
		if err != nil {
			return nil, err
		}
		fn := cfg.CategoricalDefault
		if col.DType.IsNumeric() {
			fn = cfg.NumericDefault
		}
		if override, ok := cfg.Override(name); ok {
			fn = override
		}
		aggs = append(aggs, dataframe.Aggregation{Column: name, Function: dataframe.AggFunc(fn)})
	}
	return dataframe.GroupBy(f, groupKeys, aggs)
}

func joinHow(how models.JoinType) dataframe.JoinHow {
	switch how {
	case models.JoinLeft:
		return dataframe.JoinLeft
	case models.JoinRight:
		return dataframe.JoinRight
	case models.JoinOuter:
		return dataframe.JoinOuter
	default:
		return dataframe.JoinInner
	}
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}

// Preview executes a join without persisting and reports key statistics plus
// a bounded sample of rows.
func (e *Engine) Preview(ctx context.Context, join *models.JoinDefinition, project *models.Project, sampleLimit int) (*models.JoinPreviewResult, error) {
	left, right, err := e.resolveSides(join, project)
	if err != nil {
		return nil, err
	}
	leftFrame, err := e.loadSide(ctx, left, join, "left")
	if err != nil {
		return nil, err
	}
	rightFrame, err := e.loadSide(ctx, right, join, "right")
	if err != nil {
		return nil, err
	}

	joined, metadata, err := e.Execute(ctx, join, project, true)
	if err != nil {
		return nil, err
	}

	if sampleLimit <= 0 {
		sampleLimit = 10
	}
	sample := joined.Slice(0, sampleLimit)

	result := &models.JoinPreviewResult{
		LeftDCRows:         leftFrame.Height(),
		RightDCRows:        rightFrame.Height(),
		JoinedRows:         joined.Height(),
		LeftDCColumns:      leftFrame.Columns(),
		RightDCColumns:     rightFrame.Columns(),
		JoinedColumns:      joined.Columns(),
		LeftUniqueKeys:     countUniqueKeys(leftFrame, join.OnColumns),
		RightUniqueKeys:    countUniqueKeys(rightFrame, join.OnColumns),
		MatchedKeys:        countUniqueKeys(joined, join.OnColumns),
		SampleRows:         sample.Rows(),
		Warnings:           []string{},
		AggregationApplied: metadata.AggregationApplied,
	}
	if metadata.AggregationApplied {
		result.AggregationSummary = fmt.Sprintf("aggregated %s side to %q",
			metadata.AggregatedSide, join.Granularity.AggregateTo)
	}
	if joined.Height() == 0 {
		result.Warnings = append(result.Warnings, "join produced no rows")
	}
	return result, nil
}

// countUniqueKeys counts distinct non-null key tuples.
func countUniqueKeys(f *dataframe.Frame, on []string) int {
	for _, col := range on {
		if !f.HasColumn(col) {
			return 0
		}
	}
	seen := make(map[string]bool)
	for i := 0; i < f.Height(); i++ {
		parts := make([]string, 0, len(on))
		null := false
		for _, col := range on {
			c, _ := f.Column(col)
			if c.Values[i] == nil {
				null = true
				break
			}
			parts = append(parts, dataframe.FormatValue(c.Values[i]))
		}
		if !null {
			seen[strings.Join(parts, "\x1f")] = true
		}
	}
	return len(seen)
}

// ExecuteAndPersist runs the join and, when the definition requests
// persistence, writes the result as the new version of the result DC's Delta
// table, records lineage and publishes a completion event. Persistence is
// atomic: the previous table stays visible until the new version commits.
func (e *Engine) ExecuteAndPersist(ctx context.Context, join *models.JoinDefinition, project *models.Project) (*dataframe.Frame, *models.JoinExecutionMetadata, error) {
	left, right, err := e.resolveSides(join, project)
	if err != nil {
		return nil, nil, err
	}
	leftFrame, err := e.loadSide(ctx, left, join, "left")
	if err != nil {
		return nil, nil, err
	}
	rightFrame, err := e.loadSide(ctx, right, join, "right")
	if err != nil {
		return nil, nil, err
	}

	joined, metadata, err := e.Execute(ctx, join, project, true)
	if err != nil {
		return nil, nil, err
	}
	if !join.Persist {
		return joined, metadata, nil
	}

	if join.ResultDCID.IsZero() {
		join.ResultDCID = models.NewID()
	}
	sizeBytes, err := e.tables.WriteTable(ctx, join.ResultDCID, joined)
	if err != nil {
		return nil, nil, err
	}

	executedAt := models.FormatTimestamp(time.Now())
	join.DeltaLocation = e.tables.TableURI(join.ResultDCID)
	join.ExecutedAt = executedAt
	join.RowCount = joined.Height()
	join.ColumnCount = joined.Width()
	join.SizeBytes = sizeBytes
	if join.ResultDCTag == "" {
		join.ResultDCTag = "joined_" + join.Name
	}

	if e.lineage != nil {
		lineage := &models.JoinedTableMetadata{
			JoinName:           join.Name,
			LeftDCID:           left.ID,
			RightDCID:          right.ID,
			DeltaTableLocation: join.DeltaLocation,
			RowCount:           joined.Height(),
			ColumnCount:        joined.Width(),
			SizeBytes:          sizeBytes,
			LeftDCRowCount:     leftFrame.Height(),
			RightDCRowCount:    rightFrame.Height(),
			JoinConfigSnapshot: map[string]interface{}{
				"name":       join.Name,
				"left_dc":    join.LeftDC,
				"right_dc":   join.RightDC,
				"on_columns": join.OnColumns,
				"how":        string(join.How),
			},
		}
		if err := e.lineage.PutLineage(ctx, lineage); err != nil {
			return nil, nil, err
		}
	}

	if e.events != nil {
		e.events.PublishJoinCompleted(join.Name, join.ResultDCID)
	}

	e.log.WithFields(map[string]interface{}{
		"join":     join.Name,
		"location": join.DeltaLocation,
		"rows":     join.RowCount,
	}).Info("✅ Join persisted")
	return joined, metadata, nil
}
