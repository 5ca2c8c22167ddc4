// Package dataframe implements the small typed columnar frame used by the
// join engine and the query pipeline. Columns carry an explicit dtype so the
// engines can make dtype-driven decisions: cast-to-string normalization of
// mismatched join keys, numeric-vs-categorical aggregation dispatch, and
// typed filter predicates.
//
// Frames are immutable from the caller's perspective: every operation
// returns a new frame and never mutates its receiver. A frame is owned by
// the task that created it and discarded at task end; no locking is needed.
package dataframe

import (
	"fmt"
	"strconv"
)

// DType is a column data type.
type DType string

const (
	String DType = "string"
	Int    DType = "int"
	Float  DType = "float"
	Bool   DType = "bool"
)

// IsNumeric reports whether the dtype participates in numeric aggregation.
func (d DType) IsNumeric() bool {
	return d == Int || d == Float
}

// Series is a named, typed column. Values are held as interface{} with nil
// representing null; the dtype constrains the dynamic type of non-null
// entries (string, int64, float64, bool).
type Series struct {
	Name   string
	DType  DType
	Values []interface{}
}

// NewStringSeries builds a string column without nulls.
func NewStringSeries(name string, values []string) Series {
	vs := make([]interface{}, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Series{Name: name, DType: String, Values: vs}
}

// NewIntSeries builds an integer column without nulls.
func NewIntSeries(name string, values []int64) Series {
	vs := make([]interface{}, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Series{Name: name, DType: Int, Values: vs}
}

// NewFloatSeries builds a float column without nulls.
func NewFloatSeries(name string, values []float64) Series {
	vs := make([]interface{}, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Series{Name: name, DType: Float, Values: vs}
}

// NewBoolSeries builds a boolean column without nulls.
func NewBoolSeries(name string, values []bool) Series {
	vs := make([]interface{}, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Series{Name: name, DType: Bool, Values: vs}
}

// NewSeries builds a column from raw values, nil entries meaning null. The
// caller is responsible for the dynamic types matching dtype.
func NewSeries(name string, dtype DType, values []interface{}) Series {
	return Series{Name: name, DType: dtype, Values: values}
}

// Len returns the number of entries.
func (s Series) Len() int {
	return len(s.Values)
}

// IsNull reports whether the entry at i is null.
func (s Series) IsNull(i int) bool {
	return s.Values[i] == nil
}

// clone returns a deep copy of the series' value slice.
func (s Series) clone() Series {
	vs := make([]interface{}, len(s.Values))
	copy(vs, s.Values)
	return Series{Name: s.Name, DType: s.DType, Values: vs}
}

// take returns a new series with the entries at the given indices.
func (s Series) take(indices []int) Series {
	vs := make([]interface{}, len(indices))
	for i, idx := range indices {
		vs[i] = s.Values[idx]
	}
	return Series{Name: s.Name, DType: s.DType, Values: vs}
}

// CastString returns a copy with every non-null entry rendered as a string.
func (s Series) CastString() Series {
	vs := make([]interface{}, len(s.Values))
	for i, v := range s.Values {
		if v == nil {
			continue
		}
		vs[i] = FormatValue(v)
	}
	return Series{Name: s.Name, DType: String, Values: vs}
}

// FormatValue renders a cell as its canonical string form. Integers render
// without exponents and floats without trailing zeros, so lexicographically
// equal numeric and string keys compare equal after cast-to-string
// normalization.
func FormatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// AsFloat converts a cell to float64 for numeric operations. The second
// return value is false for nulls and non-numeric values.
func AsFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}
