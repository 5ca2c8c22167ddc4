package dataframe

import (
	"fmt"
	"sort"
	"strings"
)

// Frame is an ordered collection of equal-length series.
type Frame struct {
	series []Series
	byName map[string]int
}

// New builds a frame from columns. All columns must share one length and
// names must be unique.
func New(columns ...Series) (*Frame, error) {
	f := &Frame{byName: make(map[string]int, len(columns))}
	height := -1
	for _, col := range columns {
		if height >= 0 && col.Len() != height {
			return nil, fmt.Errorf("column %q has length %d, want %d", col.Name, col.Len(), height)
		}
		height = col.Len()
		if _, dup := f.byName[col.Name]; dup {
			return nil, fmt.Errorf("duplicate column name %q", col.Name)
		}
		f.byName[col.Name] = len(f.series)
		f.series = append(f.series, col)
	}
	return f, nil
}

// MustNew is New for statically-known-valid frames (tests, literals).
func MustNew(columns ...Series) *Frame {
	f, err := New(columns...)
	if err != nil {
		panic(err)
	}
	return f
}

// Empty returns a zero-row frame with the same schema.
func (f *Frame) Empty() *Frame {
	cols := make([]Series, len(f.series))
	for i, s := range f.series {
		cols[i] = Series{Name: s.Name, DType: s.DType, Values: nil}
	}
	return MustNew(cols...)
}

// Height returns the row count.
func (f *Frame) Height() int {
	if len(f.series) == 0 {
		return 0
	}
	return f.series[0].Len()
}

// Width returns the column count.
func (f *Frame) Width() int {
	return len(f.series)
}

// Columns returns the column names in order.
func (f *Frame) Columns() []string {
	names := make([]string, len(f.series))
	for i, s := range f.series {
		names[i] = s.Name
	}
	return names
}

// HasColumn reports whether a column exists.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.byName[name]
	return ok
}

// Column returns the series with the given name.
func (f *Frame) Column(name string) (Series, error) {
	idx, ok := f.byName[name]
	if !ok {
		return Series{}, fmt.Errorf("unable to find column %q", name)
	}
	return f.series[idx], nil
}

// mustColumn is Column for callers that already checked existence.
func (f *Frame) mustColumn(name string) Series {
	return f.series[f.byName[name]]
}

// WithColumn returns a frame with the column appended, or replaced when a
// column of that name already exists.
func (f *Frame) WithColumn(col Series) (*Frame, error) {
	if f.Width() > 0 && col.Len() != f.Height() {
		return nil, fmt.Errorf("column %q has length %d, want %d", col.Name, col.Len(), f.Height())
	}
	cols := make([]Series, 0, len(f.series)+1)
	replaced := false
	for _, s := range f.series {
		if s.Name == col.Name {
			cols = append(cols, col)
			replaced = true
		} else {
			cols = append(cols, s)
		}
	}
	if !replaced {
		cols = append(cols, col)
	}
	return New(cols...)
}

// Select returns a frame containing only the named columns, in the given
// order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	cols := make([]Series, 0, len(names))
	for _, name := range names {
		col, err := f.Column(name)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return New(cols...)
}

// Rename returns a frame with columns renamed per the mapping. Unknown keys
// are ignored.
func (f *Frame) Rename(mapping map[string]string) *Frame {
	cols := make([]Series, len(f.series))
	for i, s := range f.series {
		if newName, ok := mapping[s.Name]; ok {
			s = Series{Name: newName, DType: s.DType, Values: s.Values}
		}
		cols[i] = s
	}
	return MustNew(cols...)
}

// Take returns a frame with the rows at the given indices, in order.
func (f *Frame) Take(indices []int) *Frame {
	cols := make([]Series, len(f.series))
	for i, s := range f.series {
		cols[i] = s.take(indices)
	}
	return MustNew(cols...)
}

// FilterMask returns a frame with only the rows where mask is true.
func (f *Frame) FilterMask(mask []bool) *Frame {
	indices := make([]int, 0, len(mask))
	for i, keep := range mask {
		if keep {
			indices = append(indices, i)
		}
	}
	return f.Take(indices)
}

// Filter keeps rows where pred returns true. pred receives the row index.
func (f *Frame) Filter(pred func(row int) bool) *Frame {
	indices := make([]int, 0, f.Height())
	for i := 0; i < f.Height(); i++ {
		if pred(i) {
			indices = append(indices, i)
		}
	}
	return f.Take(indices)
}

// Slice returns rows [start, end), clamped to the frame bounds.
func (f *Frame) Slice(start, end int) *Frame {
	if start < 0 {
		start = 0
	}
	if end > f.Height() {
		end = f.Height()
	}
	if start >= end {
		return f.Empty()
	}
	indices := make([]int, end-start)
	for i := range indices {
		indices[i] = start + i
	}
	return f.Take(indices)
}

// SortKey names a sort column and direction.
type SortKey struct {
	Column     string
	Descending bool
}

// Sort returns a stably-sorted frame. Nulls sort last regardless of
// direction.
func (f *Frame) Sort(keys ...SortKey) (*Frame, error) {
	cols := make([]Series, len(keys))
	for i, key := range keys {
		col, err := f.Column(key.Column)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}

	indices := make([]int, f.Height())
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		for i, key := range keys {
			va, vb := cols[i].Values[indices[a]], cols[i].Values[indices[b]]
			cmp := compareValues(va, vb)
			if cmp == 0 {
				continue
			}
			if key.Descending && va != nil && vb != nil {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return f.Take(indices), nil
}

// compareValues orders two cells: nulls last, numerics numerically, anything
// else by canonical string form.
func compareValues(a, b interface{}) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return 1
	}
	if b == nil {
		return -1
	}
	fa, aok := AsFloat(a)
	fb, bok := AsFloat(b)
	if aok && bok {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(FormatValue(a), FormatValue(b))
}

// rowKey serializes the given columns of one row into a composite key. Rows
// with a null in any key column yield ok=false and never match.
func (f *Frame) rowKey(row int, columns []string) (string, bool) {
	parts := make([]string, len(columns))
	for i, name := range columns {
		v := f.mustColumn(name).Values[row]
		if v == nil {
			return "", false
		}
		parts[i] = FormatValue(v)
	}
	return strings.Join(parts, "\x1f"), true
}

// UniqueBy returns a frame keeping the first row for each distinct
// combination of the key columns. Rows with null keys are kept as-is.
func (f *Frame) UniqueBy(columns ...string) (*Frame, error) {
	for _, name := range columns {
		if !f.HasColumn(name) {
			return nil, fmt.Errorf("unable to find column %q", name)
		}
	}
	seen := make(map[string]bool)
	indices := make([]int, 0, f.Height())
	for i := 0; i < f.Height(); i++ {
		key, ok := f.rowKey(i, columns)
		if !ok {
			indices = append(indices, i)
			continue
		}
		if !seen[key] {
			seen[key] = true
			indices = append(indices, i)
		}
	}
	return f.Take(indices), nil
}

// Unique returns a frame with fully-duplicate rows removed, keeping first
// occurrences.
func (f *Frame) Unique() *Frame {
	columns := f.Columns()
	seen := make(map[string]bool)
	indices := make([]int, 0, f.Height())
	for i := 0; i < f.Height(); i++ {
		parts := make([]string, len(columns))
		for c, name := range columns {
			v := f.mustColumn(name).Values[i]
			if v == nil {
				parts[c] = "\x00"
			} else {
				parts[c] = FormatValue(v)
			}
		}
		key := strings.Join(parts, "\x1f")
		if !seen[key] {
			seen[key] = true
			indices = append(indices, i)
		}
	}
	return f.Take(indices)
}

// UniqueValues returns the distinct non-null values of a column, first-seen
// order preserved.
func (f *Frame) UniqueValues(column string) ([]interface{}, error) {
	col, err := f.Column(column)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	out := make([]interface{}, 0)
	for _, v := range col.Values {
		if v == nil {
			continue
		}
		key := FormatValue(v)
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	return out, nil
}

// Concat appends other's rows to f. Schemas must match by name; dtypes widen
// to string on mismatch.
func (f *Frame) Concat(other *Frame) (*Frame, error) {
	if f.Width() != other.Width() {
		return nil, fmt.Errorf("cannot concat frames with %d and %d columns", f.Width(), other.Width())
	}
	cols := make([]Series, len(f.series))
	for i, s := range f.series {
		o, err := other.Column(s.Name)
		if err != nil {
			return nil, err
		}
		if o.DType != s.DType {
			s = s.CastString()
			o = o.CastString()
		}
		values := make([]interface{}, 0, s.Len()+o.Len())
		values = append(values, s.Values...)
		values = append(values, o.Values...)
		cols[i] = Series{Name: s.Name, DType: s.DType, Values: values}
	}
	return New(cols...)
}

// Rows serializes the frame as one map per row.
func (f *Frame) Rows() []map[string]interface{} {
	out := make([]map[string]interface{}, f.Height())
	for i := 0; i < f.Height(); i++ {
		row := make(map[string]interface{}, f.Width())
		for _, s := range f.series {
			row[s.Name] = s.Values[i]
		}
		out[i] = row
	}
	return out
}
