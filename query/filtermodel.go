// Package query implements the interactive query pipeline: it combines
// dashboard filter state with the project's join graph to serve paginated,
// sorted, filtered slices of a data collection's table.
package query

import (
	"strings"

	"github.com/depictio/depictio/common"
	"github.com/depictio/depictio/dataframe"
)

// FilterCondition is one entry of the client filter model, either simple
// (filterType + type + operand) or composite (operator + two conditions).
type FilterCondition struct {
	FilterType string        `json:"filterType,omitempty"`
	Type       string        `json:"type,omitempty"`
	Filter     interface{}   `json:"filter,omitempty"`
	DateFrom   string        `json:"dateFrom,omitempty"`
	DateTo     string        `json:"dateTo,omitempty"`
	Values     []interface{} `json:"values,omitempty"`

	Operator   string           `json:"operator,omitempty"`
	Condition1 *FilterCondition `json:"condition1,omitempty"`
	Condition2 *FilterCondition `json:"condition2,omitempty"`
}

// IsComposite reports whether the condition combines two sub-conditions.
func (c FilterCondition) IsComposite() bool {
	return c.Operator != "" && c.Condition1 != nil && c.Condition2 != nil
}

// ApplyFilterModel applies the client filter model column by column.
// Predicates referencing absent columns are logged and skipped. OR
// composites are the union of both branches with full-row duplicates
// removed.
func ApplyFilterModel(f *dataframe.Frame, model map[string]FilterCondition) *dataframe.Frame {
	for column, condition := range model {
		if !f.HasColumn(column) {
			common.Logger.Warnf("filter references unknown column %q, skipping", column)
			continue
		}
		filtered, err := applyCondition(f, column, condition)
		if err != nil {
			common.Logger.Warnf("failed to apply filter for column %q: %v", column, err)
			continue
		}
		f = filtered
	}
	return f
}

func applyCondition(f *dataframe.Frame, column string, c FilterCondition) (*dataframe.Frame, error) {
	if c.IsComposite() {
		if strings.EqualFold(c.Operator, "AND") {
			first, err := applyCondition(f, column, *c.Condition1)
			if err != nil {
				return nil, err
			}
			return applyCondition(first, column, *c.Condition2)
		}
		// OR: union of both branches, duplicates removed.
		first, err := applyCondition(f, column, *c.Condition1)
		if err != nil {
			return nil, err
		}
		second, err := applyCondition(f, column, *c.Condition2)
		if err != nil {
			return nil, err
		}
		combined, err := first.Concat(second)
		if err != nil {
			return nil, err
		}
		return combined.Unique(), nil
	}

	col, err := f.Column(column)
	if err != nil {
		return nil, err
	}

	switch c.FilterType {
	case "text":
		return applyTextFilter(f, col, c), nil
	case "number":
		return applyNumberFilter(f, col, c)
	case "date":
		return applyDateFilter(f, col, c), nil
	case "set":
		return applySetFilter(f, col, c), nil
	default:
		return nil, common.Errorf(common.ErrTypeError, column, "unknown filterType %q", c.FilterType)
	}
}

func applyTextFilter(f *dataframe.Frame, col dataframe.Series, c FilterCondition) *dataframe.Frame {
	operand := dataframe.FormatValue(c.Filter)
	return f.Filter(func(row int) bool {
		if col.Values[row] == nil {
			return false
		}
		value := dataframe.FormatValue(col.Values[row])
		switch c.Type {
		case "contains":
			return strings.Contains(value, operand)
		case "notContains":
			return !strings.Contains(value, operand)
		case "equals":
			return value == operand
		case "notEqual":
			return value != operand
		case "startsWith":
			return strings.HasPrefix(value, operand)
		case "endsWith":
			return strings.HasSuffix(value, operand)
		default:
			return true
		}
	})
}

func applyNumberFilter(f *dataframe.Frame, col dataframe.Series, c FilterCondition) (*dataframe.Frame, error) {
	operand, ok := dataframe.AsFloat(c.Filter)
	if !ok {
		return nil, common.Errorf(common.ErrTypeError, col.Name,
			"number filter operand %v is not numeric", c.Filter)
	}
	return f.Filter(func(row int) bool {
		value, ok := dataframe.AsFloat(col.Values[row])
		if !ok {
			return false
		}
		switch c.Type {
		case "equals":
			return value == operand
		case "notEqual":
			return value != operand
		case "lessThan":
			return value < operand
		case "lessThanOrEqual":
			return value <= operand
		case "greaterThan":
			return value > operand
		case "greaterThanOrEqual":
			return value >= operand
		default:
			return true
		}
	}), nil
}

func applyDateFilter(f *dataframe.Frame, col dataframe.Series, c FilterCondition) *dataframe.Frame {
	// Canonical timestamp strings compare correctly lexicographically.
	return f.Filter(func(row int) bool {
		if col.Values[row] == nil {
			return false
		}
		value := dataframe.FormatValue(col.Values[row])
		switch c.Type {
		case "equals":
			return c.DateFrom != "" && value == c.DateFrom
		case "notEqual":
			return c.DateFrom != "" && value != c.DateFrom
		case "lessThan":
			return c.DateFrom != "" && value < c.DateFrom
		case "lessThanOrEqual":
			return c.DateFrom != "" && value <= c.DateFrom
		case "greaterThan":
			return c.DateFrom != "" && value > c.DateFrom
		case "greaterThanOrEqual":
			return c.DateFrom != "" && value >= c.DateFrom
		case "inRange":
			return c.DateFrom != "" && c.DateTo != "" && value >= c.DateFrom && value <= c.DateTo
		default:
			return true
		}
	})
}

func applySetFilter(f *dataframe.Frame, col dataframe.Series, c FilterCondition) *dataframe.Frame {
	allowed := make(map[string]bool, len(c.Values))
	for _, v := range c.Values {
		allowed[dataframe.FormatValue(v)] = true
	}
	return f.Filter(func(row int) bool {
		if col.Values[row] == nil {
			return false
		}
		return allowed[dataframe.FormatValue(col.Values[row])]
	})
}
