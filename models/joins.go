package models

import (
	"regexp"
	"strings"

	"github.com/depictio/depictio/common"
)

// JoinType enumerates the supported join modes.
type JoinType string

const (
	JoinInner JoinType = "inner"
	JoinLeft  JoinType = "left"
	JoinRight JoinType = "right"
	JoinOuter JoinType = "outer"
)

// AggregationFunction enumerates the supported per-column aggregations used
// when reconciling granularity mismatches.
type AggregationFunction string

const (
	AggMean   AggregationFunction = "mean"
	AggSum    AggregationFunction = "sum"
	AggMin    AggregationFunction = "min"
	AggMax    AggregationFunction = "max"
	AggMedian AggregationFunction = "median"
	AggFirst  AggregationFunction = "first"
	AggLast   AggregationFunction = "last"
	AggCount  AggregationFunction = "count"
)

// ColumnAggregation overrides the aggregation function for one column.
type ColumnAggregation struct {
	Column   string              `json:"column" yaml:"column"`
	Function AggregationFunction `json:"function" yaml:"function"`
}

// GranularityConfig describes how to aggregate the finer-grained side of a
// join down to the grouping column. Explicit overrides win over the numeric
// default for numeric dtypes, which wins over the categorical default.
type GranularityConfig struct {
	AggregateTo        string              `json:"aggregate_to" yaml:"aggregate_to"`
	NumericDefault     AggregationFunction `json:"numeric_default" yaml:"numeric_default"`
	CategoricalDefault AggregationFunction `json:"categorical_default" yaml:"categorical_default"`
	ColumnOverrides    []ColumnAggregation `json:"column_overrides,omitempty" yaml:"column_overrides,omitempty"`
}

// Override returns the configured aggregation override for a column, if any.
func (g GranularityConfig) Override(column string) (AggregationFunction, bool) {
	for _, o := range g.ColumnOverrides {
		if o.Column == column {
			return o.Function, true
		}
	}
	return "", false
}

var joinNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// JoinDefinition declares a join between two data collections. DC references
// are bare tags (resolved within WorkflowName, or project-level DCs when
// unset) or dotted "workflow.tag" forms.
//
// Execution results (delta location, counts, timestamp) are populated after
// the join runs and persisted alongside the definition.
type JoinDefinition struct {
	ID           ID                 `json:"_id,omitempty" yaml:"id,omitempty"`
	Name         string             `json:"name" yaml:"name"`
	LeftDC       string             `json:"left_dc" yaml:"left_dc"`
	RightDC      string             `json:"right_dc" yaml:"right_dc"`
	OnColumns    []string           `json:"on_columns" yaml:"on_columns"`
	How          JoinType           `json:"how" yaml:"how"`
	Description  string             `json:"description,omitempty" yaml:"description,omitempty"`
	Granularity  *GranularityConfig `json:"granularity,omitempty" yaml:"granularity,omitempty"`
	Persist      bool               `json:"persist" yaml:"persist"`
	WorkflowName string             `json:"workflow_name,omitempty" yaml:"workflow_name,omitempty"`

	// Execution results.
	ResultDCID    ID     `json:"result_dc_id,omitempty" yaml:"result_dc_id,omitempty"`
	ResultDCTag   string `json:"result_dc_tag,omitempty" yaml:"result_dc_tag,omitempty"`
	DeltaLocation string `json:"delta_location,omitempty" yaml:"-"`
	ExecutedAt    string `json:"executed_at,omitempty" yaml:"-"`
	RowCount      int    `json:"row_count,omitempty" yaml:"-"`
	ColumnCount   int    `json:"column_count,omitempty" yaml:"-"`
	SizeBytes     int64  `json:"size_bytes,omitempty" yaml:"-"`
}

// Validate checks the join definition's invariants.
func (j JoinDefinition) Validate() error {
	if !joinNamePattern.MatchString(j.Name) {
		return common.NewError(common.ErrConfigInvalid,
			"join name must contain only alphanumeric characters, underscores, and hyphens", j.Name)
	}
	if len(j.OnColumns) == 0 {
		return common.NewError(common.ErrConfigInvalid, "on_columns must contain at least one column", j.Name)
	}
	seen := make(map[string]bool, len(j.OnColumns))
	for _, col := range j.OnColumns {
		if strings.TrimSpace(col) == "" {
			return common.NewError(common.ErrConfigInvalid, "on_columns must not contain empty names", j.Name)
		}
		if seen[col] {
			return common.NewError(common.ErrConfigInvalid, "on_columns must not contain duplicates", j.Name)
		}
		seen[col] = true
	}
	if j.LeftDC == j.RightDC {
		return common.NewError(common.ErrConfigInvalid,
			"left_dc and right_dc must be different data collections", j.Name)
	}
	switch j.How {
	case JoinInner, JoinLeft, JoinRight, JoinOuter:
	default:
		return common.Errorf(common.ErrConfigInvalid, j.Name, "unknown join type %q", j.How)
	}
	return nil
}

// JoinedTableMetadata is the lineage record written to the deltatables
// collection each time a persisted join executes.
type JoinedTableMetadata struct {
	ID                 ID                     `json:"_id"`
	JoinName           string                 `json:"join_name"`
	LeftDCID           ID                     `json:"left_dc_id"`
	RightDCID          ID                     `json:"right_dc_id"`
	DeltaTableLocation string                 `json:"delta_table_location"`
	RowCount           int                    `json:"row_count"`
	ColumnCount        int                    `json:"column_count"`
	SizeBytes          int64                  `json:"size_bytes"`
	LeftDCRowCount     int                    `json:"left_dc_row_count"`
	RightDCRowCount    int                    `json:"right_dc_row_count"`
	JoinConfigSnapshot map[string]interface{} `json:"join_config_snapshot"`
	CreatedAt          string                 `json:"created_at,omitempty"`
	UpdatedAt          string                 `json:"updated_at,omitempty"`
}

// JoinValidationResult reports whether a join can execute, with per-side
// detail.
type JoinValidationResult struct {
	IsValid                 bool     `json:"is_valid"`
	Errors                  []string `json:"errors"`
	Warnings                []string `json:"warnings"`
	LeftDCExists            bool     `json:"left_dc_exists"`
	RightDCExists           bool     `json:"right_dc_exists"`
	LeftDCProcessed         bool     `json:"left_dc_processed"`
	RightDCProcessed        bool     `json:"right_dc_processed"`
	MissingJoinColumnsLeft  []string `json:"missing_join_columns_left"`
	MissingJoinColumnsRight []string `json:"missing_join_columns_right"`
}

// JoinPreviewResult carries statistics and sample rows for validating a join
// configuration before committing it.
type JoinPreviewResult struct {
	LeftDCRows         int                      `json:"left_dc_rows"`
	RightDCRows        int                      `json:"right_dc_rows"`
	JoinedRows         int                      `json:"joined_rows"`
	LeftDCColumns      []string                 `json:"left_dc_columns"`
	RightDCColumns     []string                 `json:"right_dc_columns"`
	JoinedColumns      []string                 `json:"joined_columns"`
	LeftUniqueKeys     int                      `json:"left_unique_keys"`
	RightUniqueKeys    int                      `json:"right_unique_keys"`
	MatchedKeys        int                      `json:"matched_keys"`
	SampleRows         []map[string]interface{} `json:"sample_rows"`
	Warnings           []string                 `json:"warnings"`
	AggregationApplied bool                     `json:"aggregation_applied"`
	AggregationSummary string                   `json:"aggregation_summary,omitempty"`
}

// AggregatedSide names which join side was collapsed by granularity handling.
type AggregatedSide string

const (
	AggregatedLeft  AggregatedSide = "left"
	AggregatedRight AggregatedSide = "right"
	AggregatedNone  AggregatedSide = "none"
)

// JoinExecutionMetadata summarizes one join execution.
type JoinExecutionMetadata struct {
	JoinedRows         int            `json:"joined_rows"`
	JoinType           JoinType       `json:"join_type"`
	JoinColumns        []string       `json:"join_columns"`
	AggregationApplied bool           `json:"aggregation_applied"`
	AggregatedSide     AggregatedSide `json:"aggregated_side"`
}
