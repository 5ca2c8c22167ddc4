package dataframe

import (
	"fmt"
	"sort"
)

// AggFunc names a per-group aggregation.
type AggFunc string

const (
	AggMean   AggFunc = "mean"
	AggSum    AggFunc = "sum"
	AggMin    AggFunc = "min"
	AggMax    AggFunc = "max"
	AggMedian AggFunc = "median"
	AggFirst  AggFunc = "first"
	AggLast   AggFunc = "last"
	AggCount  AggFunc = "count"
)

// Aggregation pairs a column with its aggregation function.
type Aggregation struct {
	Column   string
	Function AggFunc
}

// GroupBy collapses the frame to one row per distinct combination of the key
// columns, applying the given aggregation to each remaining column. Columns
// without an aggregation entry are dropped. Group order follows first
// appearance. Rows with null keys form their own per-row groups, matching
// null-never-equals join semantics.
func GroupBy(f *Frame, keys []string, aggs []Aggregation) (*Frame, error) {
	for _, key := range keys {
		if !f.HasColumn(key) {
			return nil, fmt.Errorf("unable to find column %q", key)
		}
	}

	groupOrder := make([]string, 0)
	groups := make(map[string][]int)
	nullGroup := 0
	for i := 0; i < f.Height(); i++ {
		key, ok := f.rowKey(i, keys)
		if !ok {
			key = fmt.Sprintf("\x00null-%d", nullGroup)
			nullGroup++
		}
		if _, seen := groups[key]; !seen {
			groupOrder = append(groupOrder, key)
		}
		groups[key] = append(groups[key], i)
	}

	cols := make([]Series, 0, len(keys)+len(aggs))
	for _, key := range keys {
		src := f.mustColumn(key)
		values := make([]interface{}, len(groupOrder))
		for g, groupKey := range groupOrder {
			values[g] = src.Values[groups[groupKey][0]]
		}
		cols = append(cols, Series{Name: key, DType: src.DType, Values: values})
	}

	for _, agg := range aggs {
		src, err := f.Column(agg.Column)
		if err != nil {
			return nil, err
		}
		dtype := src.DType
		if agg.Function == AggCount {
			dtype = Int
		} else if agg.Function == AggMean || agg.Function == AggMedian {
			dtype = Float
		}
		values := make([]interface{}, len(groupOrder))
		for g, groupKey := range groupOrder {
			v, err := aggregate(src, groups[groupKey], agg.Function)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", agg.Column, err)
			}
			values[g] = v
		}
		cols = append(cols, Series{Name: agg.Column, DType: dtype, Values: values})
	}
	return New(cols...)
}

// aggregate reduces the entries of src at the given row indices.
func aggregate(src Series, rows []int, fn AggFunc) (interface{}, error) {
	switch fn {
	case AggFirst:
		for _, r := range rows {
			if src.Values[r] != nil {
				return src.Values[r], nil
			}
		}
		return nil, nil
	case AggLast:
		for i := len(rows) - 1; i >= 0; i-- {
			if src.Values[rows[i]] != nil {
				return src.Values[rows[i]], nil
			}
		}
		return nil, nil
	case AggCount:
		count := int64(0)
		for _, r := range rows {
			if src.Values[r] != nil {
				count++
			}
		}
		return count, nil
	case AggMin, AggMax:
		if !src.DType.IsNumeric() {
			return lexExtreme(src, rows, fn == AggMax), nil
		}
	}

	// Numeric reductions.
	nums := make([]float64, 0, len(rows))
	for _, r := range rows {
		if v, ok := AsFloat(src.Values[r]); ok {
			nums = append(nums, v)
		}
	}
	if len(nums) == 0 {
		return nil, nil
	}

	switch fn {
	case AggSum:
		sum := 0.0
		for _, v := range nums {
			sum += v
		}
		return restoreIntDType(src, sum), nil
	case AggMean:
		sum := 0.0
		for _, v := range nums {
			sum += v
		}
		return sum / float64(len(nums)), nil
	case AggMin:
		m := nums[0]
		for _, v := range nums[1:] {
			if v < m {
				m = v
			}
		}
		return restoreIntDType(src, m), nil
	case AggMax:
		m := nums[0]
		for _, v := range nums[1:] {
			if v > m {
				m = v
			}
		}
		return restoreIntDType(src, m), nil
	case AggMedian:
		sorted := make([]float64, len(nums))
		copy(sorted, nums)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 1 {
			return sorted[mid], nil
		}
		return (sorted[mid-1] + sorted[mid]) / 2, nil
	default:
		return nil, fmt.Errorf("unknown aggregation function %q", fn)
	}
}

// lexExtreme picks the lexicographic min/max for non-numeric columns.
func lexExtreme(src Series, rows []int, max bool) interface{} {
	var best interface{}
	for _, r := range rows {
		v := src.Values[r]
		if v == nil {
			continue
		}
		if best == nil {
			best = v
			continue
		}
		cmp := compareValues(v, best)
		if (max && cmp > 0) || (!max && cmp < 0) {
			best = v
		}
	}
	return best
}

// restoreIntDType keeps integer columns integral for whole-valued results of
// sum/min/max so the dtype survives the round trip.
func restoreIntDType(src Series, v float64) interface{} {
	if src.DType == Int && v == float64(int64(v)) {
		return int64(v)
	}
	return v
}
