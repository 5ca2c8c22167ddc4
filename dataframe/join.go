package dataframe

import (
	"fmt"
)

// JoinHow selects the join mode.
type JoinHow string

const (
	JoinInner JoinHow = "inner"
	JoinLeft  JoinHow = "left"
	JoinRight JoinHow = "right"
	JoinOuter JoinHow = "outer"
)

// Join combines two frames on the given key columns. Null keys never match.
// For non-join columns present on both sides the left value wins and the
// right column is dropped. The key columns must exist on both sides with
// identical dtypes; callers normalize dtypes first (NormalizeJoinTypes).
func Join(left, right *Frame, on []string, how JoinHow) (*Frame, error) {
	if len(on) == 0 {
		return nil, fmt.Errorf("join requires at least one key column")
	}
	for _, col := range on {
		lc, err := left.Column(col)
		if err != nil {
			return nil, fmt.Errorf("left side: %w", err)
		}
		rc, err := right.Column(col)
		if err != nil {
			return nil, fmt.Errorf("right side: %w", err)
		}
		if lc.DType != rc.DType {
			return nil, fmt.Errorf("join column %q has mismatched dtypes %s and %s", col, lc.DType, rc.DType)
		}
	}

	onSet := make(map[string]bool, len(on))
	for _, col := range on {
		onSet[col] = true
	}

	// Right columns carried into the result: keys are taken from the left,
	// and duplicated payload columns are dropped (left wins).
	rightPayload := make([]string, 0, right.Width())
	for _, name := range right.Columns() {
		if !onSet[name] && !left.HasColumn(name) {
			rightPayload = append(rightPayload, name)
		}
	}

	// Hash index over the right side.
	rightIndex := make(map[string][]int, right.Height())
	for i := 0; i < right.Height(); i++ {
		key, ok := right.rowKey(i, on)
		if !ok {
			continue
		}
		rightIndex[key] = append(rightIndex[key], i)
	}

	type pairing struct {
		left  int // -1 for right-only rows
		right int // -1 for left-only rows
	}
	pairs := make([]pairing, 0, left.Height())
	rightMatched := make([]bool, right.Height())

	for i := 0; i < left.Height(); i++ {
		key, ok := left.rowKey(i, on)
		var matches []int
		if ok {
			matches = rightIndex[key]
		}
		if len(matches) == 0 {
			if how == JoinLeft || how == JoinOuter {
				pairs = append(pairs, pairing{left: i, right: -1})
			}
			continue
		}
		for _, r := range matches {
			rightMatched[r] = true
			pairs = append(pairs, pairing{left: i, right: r})
		}
	}
	if how == JoinRight || how == JoinOuter {
		for r := 0; r < right.Height(); r++ {
			if !rightMatched[r] {
				pairs = append(pairs, pairing{left: -1, right: r})
			}
		}
	}

	// Assemble the result: left schema first, then right payload columns.
	cols := make([]Series, 0, left.Width()+len(rightPayload))
	for _, name := range left.Columns() {
		src := left.mustColumn(name)
		values := make([]interface{}, len(pairs))
		for i, p := range pairs {
			switch {
			case p.left >= 0:
				values[i] = src.Values[p.left]
			case onSet[name]:
				// Right-only rows fill key columns from the right side.
				values[i] = right.mustColumn(name).Values[p.right]
			}
		}
		cols = append(cols, Series{Name: name, DType: src.DType, Values: values})
	}
	for _, name := range rightPayload {
		src := right.mustColumn(name)
		values := make([]interface{}, len(pairs))
		for i, p := range pairs {
			if p.right >= 0 {
				values[i] = src.Values[p.right]
			}
		}
		cols = append(cols, Series{Name: name, DType: src.DType, Values: values})
	}
	return New(cols...)
}

// NormalizeJoinTypes casts mismatched key columns on both sides to string.
// Matching dtypes are preserved; keys absent from either side are skipped
// (join validation reports those separately).
func NormalizeJoinTypes(left, right *Frame, on []string) (*Frame, *Frame, error) {
	for _, col := range on {
		if !left.HasColumn(col) || !right.HasColumn(col) {
			continue
		}
		lc := left.mustColumn(col)
		rc := right.mustColumn(col)
		if lc.DType == rc.DType {
			continue
		}
		var err error
		if left, err = left.WithColumn(lc.CastString()); err != nil {
			return nil, nil, err
		}
		if right, err = right.WithColumn(rc.CastString()); err != nil {
			return nil, nil, err
		}
	}
	return left, right, nil
}
