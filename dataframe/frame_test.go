package dataframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leftFixture() *Frame {
	return MustNew(
		NewIntSeries("id", []int64{1, 2, 3}),
		NewStringSeries("name", []string{"Alice", "Bob", "Charlie"}),
		NewIntSeries("value", []int64{10, 20, 30}),
	)
}

func rightFixture() *Frame {
	return MustNew(
		NewIntSeries("id", []int64{2, 3, 4}),
		NewIntSeries("age", []int64{25, 30, 35}),
		NewIntSeries("score", []int64{100, 200, 300}),
	)
}

// TestJoin_Inner tests that only matching rows survive
func TestJoin_Inner(t *testing.T) {
	result, err := Join(leftFixture(), rightFixture(), []string{"id"}, JoinInner)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Height())
	assert.Contains(t, result.Columns(), "name")
	assert.Contains(t, result.Columns(), "age")
}

// TestJoin_Left tests null-filling for unmatched left rows
func TestJoin_Left(t *testing.T) {
	result, err := Join(leftFixture(), rightFixture(), []string{"id"}, JoinLeft)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Height())
	age, err := result.Column("age")
	require.NoError(t, err)
	// Row for id=1 has no right match.
	assert.Nil(t, age.Values[0])
	assert.Equal(t, int64(25), age.Values[1])
}

// TestJoin_Outer tests that both sides' unmatched rows survive
func TestJoin_Outer(t *testing.T) {
	result, err := Join(leftFixture(), rightFixture(), []string{"id"}, JoinOuter)
	require.NoError(t, err)

	assert.Equal(t, 4, result.Height())

	// The right-only row fills its key from the right side.
	id, err := result.Column("id")
	require.NoError(t, err)
	values := make([]interface{}, 0, 4)
	values = append(values, id.Values...)
	assert.Contains(t, values, int64(4))
}

// TestJoin_Right tests right-join row survival
func TestJoin_Right(t *testing.T) {
	result, err := Join(leftFixture(), rightFixture(), []string{"id"}, JoinRight)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Height())
}

// TestJoin_NullKeysDoNotMatch tests that null join keys never combine
func TestJoin_NullKeysDoNotMatch(t *testing.T) {
	left := MustNew(
		NewSeries("id", Int, []interface{}{int64(1), int64(2), nil}),
		NewSeries("name", String, []interface{}{"Alice", "Bob", nil}),
	)
	right := MustNew(
		NewSeries("id", Int, []interface{}{int64(2), nil, int64(4)}),
		NewSeries("age", Int, []interface{}{int64(25), int64(30), int64(35)}),
	)

	result, err := Join(left, right, []string{"id"}, JoinInner)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Height())
}

// TestJoin_DuplicateColumnsLeftWins tests duplicate payload resolution
func TestJoin_DuplicateColumnsLeftWins(t *testing.T) {
	left := MustNew(
		NewIntSeries("id", []int64{1, 2, 3}),
		NewStringSeries("name", []string{"A", "B", "C"}),
		NewIntSeries("value", []int64{10, 20, 30}),
	)
	right := MustNew(
		NewIntSeries("id", []int64{2, 3, 4}),
		NewStringSeries("name", []string{"X", "Y", "Z"}),
		NewIntSeries("value", []int64{100, 200, 300}),
	)

	result, err := Join(left, right, []string{"id"}, JoinInner)
	require.NoError(t, err)

	name, _ := result.Column("name")
	value, _ := result.Column("value")
	assert.Equal(t, "B", name.Values[0])
	assert.Equal(t, int64(20), value.Values[0])
}

// TestJoin_MultipleColumns tests composite key matching
func TestJoin_MultipleColumns(t *testing.T) {
	left := MustNew(
		NewIntSeries("id", []int64{1, 2, 3}),
		NewStringSeries("category", []string{"A", "B", "C"}),
	)
	right := MustNew(
		NewIntSeries("id", []int64{2, 3, 4}),
		NewStringSeries("category", []string{"B", "X", "D"}),
		NewIntSeries("score", []int64{100, 200, 300}),
	)

	result, err := Join(left, right, []string{"id", "category"}, JoinInner)
	require.NoError(t, err)

	require.Equal(t, 1, result.Height())
	id, _ := result.Column("id")
	assert.Equal(t, int64(2), id.Values[0])
}

// TestNormalizeJoinTypes tests cast-to-string on dtype mismatch
func TestNormalizeJoinTypes(t *testing.T) {
	left := MustNew(NewIntSeries("id", []int64{1, 2, 3}))
	right := MustNew(NewStringSeries("id", []string{"2", "3", "4"}))

	normLeft, normRight, err := NormalizeJoinTypes(left, right, []string{"id"})
	require.NoError(t, err)

	lid, _ := normLeft.Column("id")
	rid, _ := normRight.Column("id")
	assert.Equal(t, String, lid.DType)
	assert.Equal(t, String, rid.DType)

	// Lexicographically equal values now join; inner result is the
	// intersection.
	result, err := Join(normLeft, normRight, []string{"id"}, JoinInner)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Height())
}

// TestNormalizeJoinTypes_MatchingPreserved tests dtype preservation
func TestNormalizeJoinTypes_MatchingPreserved(t *testing.T) {
	left := MustNew(NewIntSeries("id", []int64{1}))
	right := MustNew(NewIntSeries("id", []int64{1}))

	normLeft, normRight, err := NormalizeJoinTypes(left, right, []string{"id"})
	require.NoError(t, err)

	lid, _ := normLeft.Column("id")
	rid, _ := normRight.Column("id")
	assert.Equal(t, Int, lid.DType)
	assert.Equal(t, Int, rid.DType)
}

// TestGroupBy tests per-group aggregation dispatch
func TestGroupBy(t *testing.T) {
	frame := MustNew(
		NewIntSeries("id", []int64{1, 1, 2, 2}),
		NewFloatSeries("value", []float64{10, 20, 30, 40}),
		NewStringSeries("category", []string{"A", "B", "C", "D"}),
	)

	t.Run("Mean", func(t *testing.T) {
		result, err := GroupBy(frame, []string{"id"}, []Aggregation{{Column: "value", Function: AggMean}})
		require.NoError(t, err)
		require.Equal(t, 2, result.Height())
		value, _ := result.Column("value")
		assert.Equal(t, 15.0, value.Values[0])
		assert.Equal(t, 35.0, value.Values[1])
	})

	t.Run("Sum", func(t *testing.T) {
		result, err := GroupBy(frame, []string{"id"}, []Aggregation{{Column: "value", Function: AggSum}})
		require.NoError(t, err)
		value, _ := result.Column("value")
		assert.Equal(t, 30.0, value.Values[0])
		assert.Equal(t, 70.0, value.Values[1])
	})

	t.Run("First", func(t *testing.T) {
		result, err := GroupBy(frame, []string{"id"}, []Aggregation{{Column: "category", Function: AggFirst}})
		require.NoError(t, err)
		category, _ := result.Column("category")
		assert.Equal(t, "A", category.Values[0])
		assert.Equal(t, "C", category.Values[1])
	})

	t.Run("Max", func(t *testing.T) {
		result, err := GroupBy(frame, []string{"id"}, []Aggregation{{Column: "value", Function: AggMax}})
		require.NoError(t, err)
		value, _ := result.Column("value")
		assert.Equal(t, 20.0, value.Values[0])
		assert.Equal(t, 40.0, value.Values[1])
	})

	t.Run("Median", func(t *testing.T) {
		data := MustNew(
			NewIntSeries("id", []int64{1, 1, 1}),
			NewFloatSeries("value", []float64{1, 10, 100}),
		)
		result, err := GroupBy(data, []string{"id"}, []Aggregation{{Column: "value", Function: AggMedian}})
		require.NoError(t, err)
		value, _ := result.Column("value")
		assert.Equal(t, 10.0, value.Values[0])
	})

	t.Run("Count", func(t *testing.T) {
		result, err := GroupBy(frame, []string{"id"}, []Aggregation{{Column: "value", Function: AggCount}})
		require.NoError(t, err)
		value, _ := result.Column("value")
		assert.Equal(t, int64(2), value.Values[0])
	})
}

// TestSort tests stable multi-key sorting with nulls last
func TestSort(t *testing.T) {
	frame := MustNew(
		NewSeries("age", Int, []interface{}{int64(30), nil, int64(20), int64(30)}),
		NewStringSeries("name", []string{"c", "d", "a", "b"}),
	)

	sorted, err := frame.Sort(SortKey{Column: "age"}, SortKey{Column: "name"})
	require.NoError(t, err)

	name, _ := sorted.Column("name")
	assert.Equal(t, []interface{}{"a", "b", "c", "d"}, name.Values)
}

// TestSliceAndRows tests pagination primitives
func TestSliceAndRows(t *testing.T) {
	frame := MustNew(NewIntSeries("n", []int64{0, 1, 2, 3, 4}))

	page := frame.Slice(1, 3)
	assert.Equal(t, 2, page.Height())

	rows := page.Rows()
	assert.Equal(t, int64(1), rows[0]["n"])
	assert.Equal(t, int64(2), rows[1]["n"])

	// Out-of-range slices clamp.
	assert.Equal(t, 1, frame.Slice(4, 100).Height())
	assert.Equal(t, 0, frame.Slice(10, 20).Height())
}

// TestUnique tests full-row deduplication
func TestUnique(t *testing.T) {
	frame := MustNew(
		NewIntSeries("a", []int64{1, 1, 2}),
		NewStringSeries("b", []string{"x", "x", "y"}),
	)
	assert.Equal(t, 2, frame.Unique().Height())
}

// TestConcat tests schema-matched concatenation
func TestConcat(t *testing.T) {
	a := MustNew(NewIntSeries("n", []int64{1, 2}))
	b := MustNew(NewIntSeries("n", []int64{3}))

	combined, err := a.Concat(b)
	require.NoError(t, err)
	assert.Equal(t, 3, combined.Height())
}

// TestFormatValue tests canonical rendering used for key comparison
func TestFormatValue(t *testing.T) {
	assert.Equal(t, "2", FormatValue(int64(2)))
	assert.Equal(t, "2.5", FormatValue(2.5))
	assert.Equal(t, "2", FormatValue(2.0))
	assert.Equal(t, "x", FormatValue("x"))
	assert.Equal(t, "true", FormatValue(true))
	assert.Equal(t, "", FormatValue(nil))
}

// TestRename tests dot-to-underscore style renames
func TestRename(t *testing.T) {
	frame := MustNew(NewIntSeries("metrics.raw", []int64{1}))
	renamed := frame.Rename(map[string]string{"metrics.raw": "metrics_raw"})
	assert.True(t, renamed.HasColumn("metrics_raw"))
	assert.False(t, renamed.HasColumn("metrics.raw"))
}
